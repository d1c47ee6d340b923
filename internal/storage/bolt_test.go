package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/startv/internal/model"
)

func newTestBolt(t *testing.T) *BoltStorage {
	t.Helper()
	s, err := NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开测试数据文件失败: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltPlayRecordCRUD(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()

	record := &model.PlayRecord{
		Title: "测试剧集", SourceName: "源站A", Year: "2024",
		Index: 3, TotalEpisodes: 12, PlayTime: 600, TotalTime: 2400,
		SaveTime: time.Now().UnixMilli(),
	}
	key := model.GenerateStorageKey("sitea", "1001")

	if err := s.SetPlayRecord(ctx, "alice", key, record); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	got, err := s.GetPlayRecord(ctx, "alice", key)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if got.Title != record.Title || got.Index != 3 || got.PlayTime != 600 {
		t.Errorf("读回的记录不一致: %+v", got)
	}

	// 用户之间互相隔离
	if _, err := s.GetPlayRecord(ctx, "bob", key); !errors.Is(err, ErrNotFound) {
		t.Errorf("其他用户不应读到记录，err = %v", err)
	}

	all, err := s.GetAllPlayRecords(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAll 失败: %v", err)
	}
	if len(all) != 1 || all[key] == nil {
		t.Errorf("GetAll 结果不对: %v", all)
	}

	if err := s.DeletePlayRecord(ctx, "alice", key); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	if _, err := s.GetPlayRecord(ctx, "alice", key); !errors.Is(err, ErrNotFound) {
		t.Errorf("删除后应返回 ErrNotFound，err = %v", err)
	}
}

func TestBoltSearchHistory(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()

	// 空历史返回空切片而不是错误
	history, err := s.GetSearchHistory(ctx, "alice")
	if err != nil {
		t.Fatalf("读取空历史失败: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("空历史应为空: %v", history)
	}

	for _, kw := range []string{"甄嬛传", "庆余年", "甄嬛传"} {
		if err := s.AddSearchHistory(ctx, "alice", kw); err != nil {
			t.Fatalf("添加失败: %v", err)
		}
	}
	history, _ = s.GetSearchHistory(ctx, "alice")
	// 去重且重复的词被提到最前
	if len(history) != 2 || history[0] != "甄嬛传" || history[1] != "庆余年" {
		t.Errorf("历史顺序不对: %v", history)
	}

	if err := s.DeleteSearchHistory(ctx, "alice", "庆余年"); err != nil {
		t.Fatalf("删除关键词失败: %v", err)
	}
	history, _ = s.GetSearchHistory(ctx, "alice")
	if len(history) != 1 || history[0] != "甄嬛传" {
		t.Errorf("删除后历史不对: %v", history)
	}

	if err := s.ClearSearchHistory(ctx, "alice"); err != nil {
		t.Fatalf("清空失败: %v", err)
	}
	history, _ = s.GetSearchHistory(ctx, "alice")
	if len(history) != 0 {
		t.Errorf("清空后应为空: %v", history)
	}
}

func TestBoltSearchHistoryLimit(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()

	for i := 0; i < SearchHistoryLimit+5; i++ {
		if err := s.AddSearchHistory(ctx, "alice", fmt.Sprintf("关键词%d", i)); err != nil {
			t.Fatalf("添加失败: %v", err)
		}
	}
	history, _ := s.GetSearchHistory(ctx, "alice")
	if len(history) != SearchHistoryLimit {
		t.Fatalf("历史长度 = %d，期望 %d", len(history), SearchHistoryLimit)
	}
	// 最新的在最前，最早的被裁掉
	if history[0] != fmt.Sprintf("关键词%d", SearchHistoryLimit+4) {
		t.Errorf("最新关键词应在最前: %v", history[0])
	}
}

func TestBoltUserLifecycle(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()

	if err := s.RegisterUser(ctx, "alice", "password123"); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	if err := s.RegisterUser(ctx, "alice", "other"); !errors.Is(err, ErrUserExists) {
		t.Errorf("重复注册应返回 ErrUserExists，err = %v", err)
	}

	ok, err := s.VerifyUser(ctx, "alice", "password123")
	if err != nil || !ok {
		t.Errorf("正确密码应验证通过: ok=%v err=%v", ok, err)
	}
	ok, err = s.VerifyUser(ctx, "alice", "wrong")
	if err != nil || ok {
		t.Errorf("错误密码不应通过: ok=%v err=%v", ok, err)
	}
	if _, err := s.VerifyUser(ctx, "nobody", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("不存在的用户应返回 ErrUserNotFound，err = %v", err)
	}

	if err := s.ChangePassword(ctx, "alice", "newpassword"); err != nil {
		t.Fatalf("改密失败: %v", err)
	}
	ok, _ = s.VerifyUser(ctx, "alice", "newpassword")
	if !ok {
		t.Errorf("新密码应验证通过")
	}
	ok, _ = s.VerifyUser(ctx, "alice", "password123")
	if ok {
		t.Errorf("旧密码不应再通过")
	}
}

func TestBoltDeleteUserCascade(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()
	key := model.GenerateStorageKey("sitea", "1001")

	if err := s.RegisterUser(ctx, "alice", "password123"); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	_ = s.SetPlayRecord(ctx, "alice", key, &model.PlayRecord{Title: "A"})
	_ = s.SetFavorite(ctx, "alice", key, &model.Favorite{Title: "A"})
	_ = s.SetSkipConfig(ctx, "alice", key, &model.SkipConfig{Source: "sitea", ID: "1001"})
	_ = s.AddSearchHistory(ctx, "alice", "测试")

	// 旁观用户的数据不受级联删除影响
	_ = s.RegisterUser(ctx, "bob", "password456")
	_ = s.SetPlayRecord(ctx, "bob", key, &model.PlayRecord{Title: "B"})

	if err := s.DeleteUser(ctx, "alice"); err != nil {
		t.Fatalf("删除用户失败: %v", err)
	}

	if exist, _ := s.CheckUserExist(ctx, "alice"); exist {
		t.Errorf("删除后用户不应存在")
	}
	if records, _ := s.GetAllPlayRecords(ctx, "alice"); len(records) != 0 {
		t.Errorf("播放记录未清空: %v", records)
	}
	if favs, _ := s.GetAllFavorites(ctx, "alice"); len(favs) != 0 {
		t.Errorf("收藏未清空: %v", favs)
	}
	if configs, _ := s.GetAllSkipConfigs(ctx, "alice"); len(configs) != 0 {
		t.Errorf("跳过配置未清空: %v", configs)
	}
	if history, _ := s.GetSearchHistory(ctx, "alice"); len(history) != 0 {
		t.Errorf("搜索历史未清空: %v", history)
	}

	if records, _ := s.GetAllPlayRecords(ctx, "bob"); len(records) != 1 {
		t.Errorf("旁观用户的数据不应被删: %v", records)
	}

	users, err := s.GetAllUsers(ctx)
	if err != nil {
		t.Fatalf("枚举用户失败: %v", err)
	}
	if len(users) != 1 || users[0] != "bob" {
		t.Errorf("用户列表不对: %v", users)
	}
}

func TestBoltCacheTTL(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()

	if err := s.SetCache(ctx, "k1", []byte("v1"), 50*time.Millisecond); err != nil {
		t.Fatalf("写缓存失败: %v", err)
	}
	if err := s.SetCache(ctx, "k2", []byte("v2"), 0); err != nil {
		t.Fatalf("写缓存失败: %v", err)
	}

	v, err := s.GetCache(ctx, "k1")
	if err != nil || string(v) != "v1" {
		t.Errorf("过期前应能读到: v=%q err=%v", v, err)
	}

	time.Sleep(80 * time.Millisecond)
	if _, err := s.GetCache(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("过期后应返回 ErrNotFound，err = %v", err)
	}
	// 无 TTL 的条目不过期
	if v, err := s.GetCache(ctx, "k2"); err != nil || string(v) != "v2" {
		t.Errorf("无 TTL 条目不应过期: v=%q err=%v", v, err)
	}

	if err := s.ClearExpiredCache(ctx, ""); err != nil {
		t.Fatalf("清理过期缓存失败: %v", err)
	}
	if v, err := s.GetCache(ctx, "k2"); err != nil || string(v) != "v2" {
		t.Errorf("清理不应误删未过期条目: v=%q err=%v", v, err)
	}
}

func TestBoltAdminConfig(t *testing.T) {
	s := newTestBolt(t)
	ctx := context.Background()

	if _, err := s.GetAdminConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("未保存过配置时应返回 ErrNotFound，err = %v", err)
	}

	cfg := &model.AdminConfig{
		SiteName: "StarTV",
		SourceSites: []model.SourceSite{
			{Key: "sitea", Name: "源站A", API: "https://a.example.com/api.php/provide/vod"},
		},
		UpdatedTime: time.Now().UnixMilli(),
	}
	if err := s.SetAdminConfig(ctx, cfg); err != nil {
		t.Fatalf("保存配置失败: %v", err)
	}
	got, err := s.GetAdminConfig(ctx)
	if err != nil {
		t.Fatalf("读取配置失败: %v", err)
	}
	if got.SiteName != "StarTV" || len(got.SourceSites) != 1 || got.SourceSites[0].Key != "sitea" {
		t.Errorf("读回的配置不一致: %+v", got)
	}
}

func TestPrependKeyword(t *testing.T) {
	tests := []struct {
		name    string
		history []string
		keyword string
		want    []string
	}{
		{"空历史", nil, "a", []string{"a"}},
		{"新关键词置顶", []string{"b", "c"}, "a", []string{"a", "b", "c"}},
		{"重复关键词提前", []string{"b", "a", "c"}, "a", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrependKeyword(tt.history, tt.keyword)
			if len(got) != len(tt.want) {
				t.Fatalf("长度 = %d，期望 %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("第 %d 项 = %q，期望 %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPrependKeywordLimit(t *testing.T) {
	history := make([]string, SearchHistoryLimit)
	for i := range history {
		history[i] = fmt.Sprintf("k%d", i)
	}
	got := PrependKeyword(history, "new")
	if len(got) != SearchHistoryLimit {
		t.Fatalf("长度 = %d，期望 %d", len(got), SearchHistoryLimit)
	}
	if got[0] != "new" {
		t.Errorf("新关键词应在最前: %v", got[0])
	}
	// 最旧的一条被裁掉
	if got[len(got)-1] != fmt.Sprintf("k%d", SearchHistoryLimit-2) {
		t.Errorf("尾部裁剪不对: %v", got[len(got)-1])
	}
}
