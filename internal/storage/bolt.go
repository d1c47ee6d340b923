package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/startv/internal/model"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
)

var boltBucket = []byte("startv")

// BoltStorage 本地模式存储实现
// 没有远程后端时使用，所有数据落在单个 bbolt 文件里
// 键布局与 Redis 后端一致，搜索历史存为 JSON 数组
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage 打开（或创建）本地数据文件
func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("无法打开本地数据文件: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化本地存储失败: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

// Close 关闭数据文件
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// get 读取原始字节，键不存在返回 ErrNotFound
func (s *BoltStorage) get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *BoltStorage) put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), value)
	})
}

func (s *BoltStorage) delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
}

func (s *BoltStorage) getJSON(op, key string, target interface{}) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Kind: KindData, Op: op, Message: "数据解析失败", Err: err}
	}
	return nil
}

func (s *BoltStorage) setJSON(op, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &Error{Kind: KindData, Op: op, Message: "数据序列化失败", Err: err}
	}
	return s.put(key, data)
}

// boltGetAll 游标前缀扫描，返回 存储键 -> 实体 映射
func boltGetAll[T any](s *BoltStorage, prefix string) (map[string]*T, error) {
	result := make(map[string]*T)
	pfx := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(pfx); k != nil && bytes.HasPrefix(k, pfx); k, v = c.Next() {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				continue
			}
			result[string(k[len(pfx):])] = &item
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// deletePrefix 在单个写事务里删除前缀下的全部键
func (s *BoltStorage) deletePrefix(tx *bolt.Tx, prefix string) error {
	pfx := []byte(prefix)
	c := tx.Bucket(boltBucket).Cursor()
	for k, _ := c.Seek(pfx); k != nil && bytes.HasPrefix(k, pfx); k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// ==================== 播放记录 ====================

func (s *BoltStorage) GetPlayRecord(ctx context.Context, username, key string) (*model.PlayRecord, error) {
	var record model.PlayRecord
	if err := s.getJSON("bolt.GetPlayRecord", playRecordKey(username, key), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStorage) SetPlayRecord(ctx context.Context, username, key string, record *model.PlayRecord) error {
	return s.setJSON("bolt.SetPlayRecord", playRecordKey(username, key), record)
}

func (s *BoltStorage) GetAllPlayRecords(ctx context.Context, username string) (map[string]*model.PlayRecord, error) {
	return boltGetAll[model.PlayRecord](s, playRecordPrefix(username))
}

func (s *BoltStorage) DeletePlayRecord(ctx context.Context, username, key string) error {
	return s.delete(playRecordKey(username, key))
}

// ==================== 收藏 ====================

func (s *BoltStorage) GetFavorite(ctx context.Context, username, key string) (*model.Favorite, error) {
	var fav model.Favorite
	if err := s.getJSON("bolt.GetFavorite", favoriteKey(username, key), &fav); err != nil {
		return nil, err
	}
	return &fav, nil
}

func (s *BoltStorage) SetFavorite(ctx context.Context, username, key string, fav *model.Favorite) error {
	return s.setJSON("bolt.SetFavorite", favoriteKey(username, key), fav)
}

func (s *BoltStorage) GetAllFavorites(ctx context.Context, username string) (map[string]*model.Favorite, error) {
	return boltGetAll[model.Favorite](s, favoritePrefix(username))
}

func (s *BoltStorage) DeleteFavorite(ctx context.Context, username, key string) error {
	return s.delete(favoriteKey(username, key))
}

// ==================== 搜索历史 ====================

func (s *BoltStorage) GetSearchHistory(ctx context.Context, username string) ([]string, error) {
	var history []string
	err := s.getJSON("bolt.GetSearchHistory", searchHistoryKey(username), &history)
	if err == ErrNotFound {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *BoltStorage) AddSearchHistory(ctx context.Context, username, keyword string) error {
	history, err := s.GetSearchHistory(ctx, username)
	if err != nil {
		return err
	}
	history = PrependKeyword(history, keyword)
	return s.setJSON("bolt.AddSearchHistory", searchHistoryKey(username), history)
}

func (s *BoltStorage) DeleteSearchHistory(ctx context.Context, username, keyword string) error {
	history, err := s.GetSearchHistory(ctx, username)
	if err != nil {
		return err
	}
	next := history[:0]
	for _, k := range history {
		if k != keyword {
			next = append(next, k)
		}
	}
	return s.setJSON("bolt.DeleteSearchHistory", searchHistoryKey(username), next)
}

func (s *BoltStorage) ClearSearchHistory(ctx context.Context, username string) error {
	return s.delete(searchHistoryKey(username))
}

// ==================== 跳过配置 ====================

func (s *BoltStorage) GetSkipConfig(ctx context.Context, username, key string) (*model.SkipConfig, error) {
	var cfg model.SkipConfig
	if err := s.getJSON("bolt.GetSkipConfig", skipConfigKey(username, key), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStorage) SetSkipConfig(ctx context.Context, username, key string, cfg *model.SkipConfig) error {
	return s.setJSON("bolt.SetSkipConfig", skipConfigKey(username, key), cfg)
}

func (s *BoltStorage) GetAllSkipConfigs(ctx context.Context, username string) (map[string]*model.SkipConfig, error) {
	return boltGetAll[model.SkipConfig](s, skipConfigPrefix(username))
}

func (s *BoltStorage) DeleteSkipConfig(ctx context.Context, username, key string) error {
	return s.delete(skipConfigKey(username, key))
}

// ==================== 用户 ====================

func (s *BoltStorage) RegisterUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return &Error{Kind: KindData, Op: "bolt.RegisterUser", Message: "密码哈希失败", Err: err}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		key := []byte(passwordKey(username))
		if b.Get(key) != nil {
			return ErrUserExists
		}
		return b.Put(key, hash)
	})
}

func (s *BoltStorage) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	hash, err := s.get(passwordKey(username))
	if err == ErrNotFound {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

func (s *BoltStorage) CheckUserExist(ctx context.Context, username string) (bool, error) {
	_, err := s.get(passwordKey(username))
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BoltStorage) ChangePassword(ctx context.Context, username, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return &Error{Kind: KindData, Op: "bolt.ChangePassword", Message: "密码哈希失败", Err: err}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		key := []byte(passwordKey(username))
		if b.Get(key) == nil {
			return ErrUserNotFound
		}
		return b.Put(key, hash)
	})
}

// DeleteUser 级联删除，单个写事务内完成，密码最后删
func (s *BoltStorage) DeleteUser(ctx context.Context, username string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := s.deletePrefix(tx, playRecordPrefix(username)); err != nil {
			return err
		}
		if err := s.deletePrefix(tx, favoritePrefix(username)); err != nil {
			return err
		}
		if err := s.deletePrefix(tx, skipConfigPrefix(username)); err != nil {
			return err
		}
		b := tx.Bucket(boltBucket)
		if err := b.Delete([]byte(searchHistoryKey(username))); err != nil {
			return err
		}
		return b.Delete([]byte(passwordKey(username)))
	})
}

func (s *BoltStorage) GetAllUsers(ctx context.Context) ([]string, error) {
	var users []string
	suffix := []byte(":" + tagPassword)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		pfx := []byte("u:")
		for k, _ := c.Seek(pfx); k != nil && bytes.HasPrefix(k, pfx); k, _ = c.Next() {
			if bytes.HasSuffix(k, suffix) {
				users = append(users, string(k[len(pfx):len(k)-len(suffix)]))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ==================== 管理配置 ====================

func (s *BoltStorage) GetAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	var cfg model.AdminConfig
	if err := s.getJSON("bolt.GetAdminConfig", adminConfigKey, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *BoltStorage) SetAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	return s.setJSON("bolt.SetAdminConfig", adminConfigKey, cfg)
}

// ==================== 通用缓存 ====================

// boltCacheEntry 本地缓存条目，过期时间随值一起落盘
type boltCacheEntry struct {
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // 毫秒时间戳，0 表示不过期
}

func (s *BoltStorage) GetCache(ctx context.Context, key string) ([]byte, error) {
	var entry boltCacheEntry
	if err := s.getJSON("bolt.GetCache", cacheKey(key), &entry); err != nil {
		return nil, err
	}
	if entry.ExpiresAt > 0 && time.Now().UnixMilli() > entry.ExpiresAt {
		_ = s.delete(cacheKey(key))
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

func (s *BoltStorage) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := boltCacheEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl).UnixMilli()
	}
	return s.setJSON("bolt.SetCache", cacheKey(key), entry)
}

func (s *BoltStorage) DeleteCache(ctx context.Context, key string) error {
	return s.delete(cacheKey(key))
}

// ClearExpiredCache 扫描缓存前缀，删除已过期的条目
func (s *BoltStorage) ClearExpiredCache(ctx context.Context, prefix string) error {
	now := time.Now().UnixMilli()
	return s.db.Update(func(tx *bolt.Tx) error {
		pfx := []byte(cacheKey(prefix))
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(pfx); k != nil && bytes.HasPrefix(k, pfx); k, v = c.Next() {
			var entry boltCacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				// 损坏条目按过期处理
				if err := c.Delete(); err != nil {
					return err
				}
				continue
			}
			if entry.ExpiresAt > 0 && now > entry.ExpiresAt {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// PrependKeyword 把关键词移到搜索历史最前面：去重、置顶、截断到上限
// 纯函数，本地后端与 SQL 后端共用
func PrependKeyword(history []string, keyword string) []string {
	next := make([]string, 0, len(history)+1)
	next = append(next, keyword)
	for _, k := range history {
		if k != keyword {
			next = append(next, k)
		}
	}
	if len(next) > SearchHistoryLimit {
		next = next[:SearchHistoryLimit]
	}
	return next
}
