package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/startv/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// RedisStorage 远程模式存储实现
// 兼容 Redis 协议的存储（Redis / kvrocks 等）都可以使用
// 客户端在进程内是单例，go-redis 内部自带连接池，可安全并发使用
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage 创建 Redis 存储
// redisURL 为标准连接串：redis://<user>:<password>@<host>:<port>/<db>
func NewRedisStorage(redisURL string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("无效的 Redis 连接串: %w", err)
	}
	client := redis.NewClient(opts)

	// 启动时快速失败，避免带病运行
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	return &RedisStorage{client: client}, nil
}

// Close 关闭连接池
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// getJSON 读取并反序列化单个键，键不存在返回 ErrNotFound
func (s *RedisStorage) getJSON(ctx context.Context, op, key string, target interface{}) error {
	return withRetry(ctx, op, func() error {
		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, target); err != nil {
			return &Error{Kind: KindData, Op: op, Message: "数据解析失败", Err: err}
		}
		return nil
	})
}

// setJSON 序列化并写入单个键
func (s *RedisStorage) setJSON(ctx context.Context, op, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &Error{Kind: KindData, Op: op, Message: "数据序列化失败", Err: err}
	}
	return withRetry(ctx, op, func() error {
		return s.client.Set(ctx, key, data, 0).Err()
	})
}

// scanKeys 按前缀扫描全部键（SCAN 游标，避免 KEYS 阻塞）
func (s *RedisStorage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// redisGetAll 按前缀扫描并 MGET 批量取值，返回 存储键 -> 实体 映射
func redisGetAll[T any](ctx context.Context, s *RedisStorage, op, prefix string) (map[string]*T, error) {
	result := make(map[string]*T)
	err := withRetry(ctx, op, func() error {
		keys, err := s.scanKeys(ctx, prefix+"*")
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// SCAN 与 MGET 之间被删掉的键，跳过
				continue
			}
			var item T
			if err := json.Unmarshal([]byte(raw), &item); err != nil {
				// 单条损坏不影响整体，按缓存未命中处理
				continue
			}
			result[keys[i][len(prefix):]] = &item
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// deleteByPrefix 删除前缀下的全部键
func (s *RedisStorage) deleteByPrefix(ctx context.Context, pattern string) error {
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// ==================== 播放记录 ====================

func (s *RedisStorage) GetPlayRecord(ctx context.Context, username, key string) (*model.PlayRecord, error) {
	var record model.PlayRecord
	if err := s.getJSON(ctx, "redis.GetPlayRecord", playRecordKey(username, key), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *RedisStorage) SetPlayRecord(ctx context.Context, username, key string, record *model.PlayRecord) error {
	return s.setJSON(ctx, "redis.SetPlayRecord", playRecordKey(username, key), record)
}

func (s *RedisStorage) GetAllPlayRecords(ctx context.Context, username string) (map[string]*model.PlayRecord, error) {
	return redisGetAll[model.PlayRecord](ctx, s, "redis.GetAllPlayRecords", playRecordPrefix(username))
}

func (s *RedisStorage) DeletePlayRecord(ctx context.Context, username, key string) error {
	return withRetry(ctx, "redis.DeletePlayRecord", func() error {
		return s.client.Del(ctx, playRecordKey(username, key)).Err()
	})
}

// ==================== 收藏 ====================

func (s *RedisStorage) GetFavorite(ctx context.Context, username, key string) (*model.Favorite, error) {
	var fav model.Favorite
	if err := s.getJSON(ctx, "redis.GetFavorite", favoriteKey(username, key), &fav); err != nil {
		return nil, err
	}
	return &fav, nil
}

func (s *RedisStorage) SetFavorite(ctx context.Context, username, key string, fav *model.Favorite) error {
	return s.setJSON(ctx, "redis.SetFavorite", favoriteKey(username, key), fav)
}

func (s *RedisStorage) GetAllFavorites(ctx context.Context, username string) (map[string]*model.Favorite, error) {
	return redisGetAll[model.Favorite](ctx, s, "redis.GetAllFavorites", favoritePrefix(username))
}

func (s *RedisStorage) DeleteFavorite(ctx context.Context, username, key string) error {
	return withRetry(ctx, "redis.DeleteFavorite", func() error {
		return s.client.Del(ctx, favoriteKey(username, key)).Err()
	})
}

// ==================== 搜索历史 ====================
// 用 Redis 原生列表实现：LREM 去重 + LPUSH 置顶 + LTRIM 截断

func (s *RedisStorage) GetSearchHistory(ctx context.Context, username string) ([]string, error) {
	var history []string
	err := withRetry(ctx, "redis.GetSearchHistory", func() error {
		items, err := s.client.LRange(ctx, searchHistoryKey(username), 0, SearchHistoryLimit-1).Result()
		if err != nil {
			return err
		}
		history = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *RedisStorage) AddSearchHistory(ctx context.Context, username, keyword string) error {
	key := searchHistoryKey(username)
	return withRetry(ctx, "redis.AddSearchHistory", func() error {
		pipe := s.client.TxPipeline()
		pipe.LRem(ctx, key, 0, keyword)
		pipe.LPush(ctx, key, keyword)
		pipe.LTrim(ctx, key, 0, SearchHistoryLimit-1)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStorage) DeleteSearchHistory(ctx context.Context, username, keyword string) error {
	return withRetry(ctx, "redis.DeleteSearchHistory", func() error {
		return s.client.LRem(ctx, searchHistoryKey(username), 0, keyword).Err()
	})
}

func (s *RedisStorage) ClearSearchHistory(ctx context.Context, username string) error {
	return withRetry(ctx, "redis.ClearSearchHistory", func() error {
		return s.client.Del(ctx, searchHistoryKey(username)).Err()
	})
}

// ==================== 跳过配置 ====================

func (s *RedisStorage) GetSkipConfig(ctx context.Context, username, key string) (*model.SkipConfig, error) {
	var cfg model.SkipConfig
	if err := s.getJSON(ctx, "redis.GetSkipConfig", skipConfigKey(username, key), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *RedisStorage) SetSkipConfig(ctx context.Context, username, key string, cfg *model.SkipConfig) error {
	return s.setJSON(ctx, "redis.SetSkipConfig", skipConfigKey(username, key), cfg)
}

func (s *RedisStorage) GetAllSkipConfigs(ctx context.Context, username string) (map[string]*model.SkipConfig, error) {
	return redisGetAll[model.SkipConfig](ctx, s, "redis.GetAllSkipConfigs", skipConfigPrefix(username))
}

func (s *RedisStorage) DeleteSkipConfig(ctx context.Context, username, key string) error {
	return withRetry(ctx, "redis.DeleteSkipConfig", func() error {
		return s.client.Del(ctx, skipConfigKey(username, key)).Err()
	})
}

// ==================== 用户 ====================

func (s *RedisStorage) RegisterUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return &Error{Kind: KindData, Op: "redis.RegisterUser", Message: "密码哈希失败", Err: err}
	}
	return withRetry(ctx, "redis.RegisterUser", func() error {
		ok, err := s.client.SetNX(ctx, passwordKey(username), hash, 0).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserExists
		}
		return nil
	})
}

func (s *RedisStorage) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	var hash []byte
	err := withRetry(ctx, "redis.VerifyUser", func() error {
		data, err := s.client.Get(ctx, passwordKey(username)).Bytes()
		if err == redis.Nil {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		hash = data
		return nil
	})
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

func (s *RedisStorage) CheckUserExist(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := withRetry(ctx, "redis.CheckUserExist", func() error {
		n, err := s.client.Exists(ctx, passwordKey(username)).Result()
		if err != nil {
			return err
		}
		exists = n > 0
		return nil
	})
	return exists, err
}

func (s *RedisStorage) ChangePassword(ctx context.Context, username, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return &Error{Kind: KindData, Op: "redis.ChangePassword", Message: "密码哈希失败", Err: err}
	}
	return withRetry(ctx, "redis.ChangePassword", func() error {
		n, err := s.client.Exists(ctx, passwordKey(username)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrUserNotFound
		}
		return s.client.Set(ctx, passwordKey(username), hash, 0).Err()
	})
}

// DeleteUser 级联删除用户的全部数据
// 顺序删除各集合，密码最后删：中途失败时用户仍然存在，数据可以重新清理，
// 不会出现密码已删但数据残留的孤儿状态
func (s *RedisStorage) DeleteUser(ctx context.Context, username string) error {
	return withRetry(ctx, "redis.DeleteUser", func() error {
		if err := s.deleteByPrefix(ctx, playRecordPrefix(username)+"*"); err != nil {
			return err
		}
		if err := s.deleteByPrefix(ctx, favoritePrefix(username)+"*"); err != nil {
			return err
		}
		if err := s.deleteByPrefix(ctx, skipConfigPrefix(username)+"*"); err != nil {
			return err
		}
		if err := s.client.Del(ctx, searchHistoryKey(username)).Err(); err != nil {
			return err
		}
		return s.client.Del(ctx, passwordKey(username)).Err()
	})
}

// GetAllUsers 扫描密码记录命名空间，枚举全部用户名
func (s *RedisStorage) GetAllUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := withRetry(ctx, "redis.GetAllUsers", func() error {
		keys, err := s.scanKeys(ctx, "u:*:"+tagPassword)
		if err != nil {
			return err
		}
		users = users[:0]
		for _, key := range keys {
			// 键形如 u:{username}:pwd
			name := key[len("u:") : len(key)-len(":"+tagPassword)]
			users = append(users, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ==================== 管理配置 ====================

func (s *RedisStorage) GetAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	var cfg model.AdminConfig
	if err := s.getJSON(ctx, "redis.GetAdminConfig", adminConfigKey, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *RedisStorage) SetAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	return s.setJSON(ctx, "redis.SetAdminConfig", adminConfigKey, cfg)
}

// ==================== 通用缓存 ====================

func (s *RedisStorage) GetCache(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := withRetry(ctx, "redis.GetCache", func() error {
		data, err := s.client.Get(ctx, cacheKey(key)).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		value = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *RedisStorage) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return withRetry(ctx, "redis.SetCache", func() error {
		return s.client.Set(ctx, cacheKey(key), value, ttl).Err()
	})
}

func (s *RedisStorage) DeleteCache(ctx context.Context, key string) error {
	return withRetry(ctx, "redis.DeleteCache", func() error {
		return s.client.Del(ctx, cacheKey(key)).Err()
	})
}

// ClearExpiredCache 无事可做：带 TTL 的键由 Redis 原生过期，
// 没有 TTL 的键与其他后端同语义，视为永久有效，不能清理
func (s *RedisStorage) ClearExpiredCache(ctx context.Context, prefix string) error {
	return nil
}
