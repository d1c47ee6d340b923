package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/user/startv/internal/model"
)

func newTestRedis(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStorage("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("连接测试 Redis 失败: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisCachePersistentEntries(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	// 无 TTL 的条目永久有效，带 TTL 的由 Redis 原生过期
	if err := s.SetCache(ctx, "k1", []byte("v1"), 0); err != nil {
		t.Fatalf("写缓存失败: %v", err)
	}
	if err := s.SetCache(ctx, "k2", []byte("v2"), time.Minute); err != nil {
		t.Fatalf("写缓存失败: %v", err)
	}

	// 清理过期条目不能碰永久条目（与 bolt/sql 后端同语义）
	if err := s.ClearExpiredCache(ctx, ""); err != nil {
		t.Fatalf("清理失败: %v", err)
	}
	if v, err := s.GetCache(ctx, "k1"); err != nil || string(v) != "v1" {
		t.Errorf("清理后无 TTL 条目应保留: v=%q err=%v", v, err)
	}
	if v, err := s.GetCache(ctx, "k2"); err != nil || string(v) != "v2" {
		t.Errorf("清理后未过期条目应保留: v=%q err=%v", v, err)
	}

	// 时间快进后带 TTL 的条目过期，永久条目依然在
	mr.FastForward(2 * time.Minute)
	if _, err := s.GetCache(ctx, "k2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("过期后应返回 ErrNotFound，err = %v", err)
	}
	if v, err := s.GetCache(ctx, "k1"); err != nil || string(v) != "v1" {
		t.Errorf("无 TTL 条目不应过期: v=%q err=%v", v, err)
	}
}

func TestRedisSearchHistory(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	for _, kw := range []string{"甄嬛传", "庆余年", "甄嬛传"} {
		if err := s.AddSearchHistory(ctx, "alice", kw); err != nil {
			t.Fatalf("添加失败: %v", err)
		}
	}
	history, err := s.GetSearchHistory(ctx, "alice")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	// LREM + LPUSH 去重置顶
	if len(history) != 2 || history[0] != "甄嬛传" || history[1] != "庆余年" {
		t.Errorf("历史顺序不对: %v", history)
	}
}

func TestRedisUserCascade(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()
	key := model.GenerateStorageKey("sitea", "1001")

	if err := s.RegisterUser(ctx, "alice", "password123"); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	if err := s.RegisterUser(ctx, "alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Errorf("重复注册应返回 ErrUserExists，err = %v", err)
	}
	_ = s.SetPlayRecord(ctx, "alice", key, &model.PlayRecord{Title: "A"})
	_ = s.SetFavorite(ctx, "alice", key, &model.Favorite{Title: "A"})
	_ = s.AddSearchHistory(ctx, "alice", "测试")

	if err := s.DeleteUser(ctx, "alice"); err != nil {
		t.Fatalf("删除用户失败: %v", err)
	}
	if exist, _ := s.CheckUserExist(ctx, "alice"); exist {
		t.Errorf("删除后用户不应存在")
	}
	if records, _ := s.GetAllPlayRecords(ctx, "alice"); len(records) != 0 {
		t.Errorf("播放记录未清空: %v", records)
	}
	if history, _ := s.GetSearchHistory(ctx, "alice"); len(history) != 0 {
		t.Errorf("搜索历史未清空: %v", history)
	}
	if users, _ := s.GetAllUsers(ctx); len(users) != 0 {
		t.Errorf("用户列表未清空: %v", users)
	}
}
