package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user/startv/internal/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvEntry 扁平键值表，三类后端共用同一套键布局
type kvEntry struct {
	Key       string     `gorm:"primaryKey;column:key;size:512"`
	Value     []byte     `gorm:"column:value"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"` // 仅通用缓存使用
}

func (kvEntry) TableName() string { return "kv_entries" }

// SQLStorage 数据库模式存储实现
// 部署环境没有 Redis 只有 Postgres 时使用，数据仍然按键值方式组织
type SQLStorage struct {
	db *gorm.DB
}

// NewSQLStorage 连接数据库并建表
func NewSQLStorage(databaseURL string) (*SQLStorage, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("建表失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	return &SQLStorage{db: db}, nil
}

// Close 关闭连接池
func (s *SQLStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStorage) get(ctx context.Context, op, key string) ([]byte, error) {
	var value []byte
	err := withRetry(ctx, op, func() error {
		var entry kvEntry
		err := s.db.WithContext(ctx).First(&entry, "key = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		value = entry.Value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLStorage) put(ctx context.Context, op, key string, value []byte, expiresAt *time.Time) error {
	return withRetry(ctx, op, func() error {
		entry := kvEntry{Key: key, Value: value, ExpiresAt: expiresAt}
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
		}).Create(&entry).Error
	})
}

func (s *SQLStorage) delete(ctx context.Context, op, key string) error {
	return withRetry(ctx, op, func() error {
		return s.db.WithContext(ctx).Delete(&kvEntry{}, "key = ?", key).Error
	})
}

func (s *SQLStorage) getJSON(ctx context.Context, op, key string, target interface{}) error {
	data, err := s.get(ctx, op, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Kind: KindData, Op: op, Message: "数据解析失败", Err: err}
	}
	return nil
}

func (s *SQLStorage) setJSON(ctx context.Context, op, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &Error{Kind: KindData, Op: op, Message: "数据序列化失败", Err: err}
	}
	return s.put(ctx, op, key, data, nil)
}

// sqlGetAll 前缀查询批量取值，返回 存储键 -> 实体 映射
func sqlGetAll[T any](ctx context.Context, s *SQLStorage, op, prefix string) (map[string]*T, error) {
	result := make(map[string]*T)
	err := withRetry(ctx, op, func() error {
		var entries []kvEntry
		if err := s.db.WithContext(ctx).Where("key LIKE ?", likePrefix(prefix)).Find(&entries).Error; err != nil {
			return err
		}
		for _, entry := range entries {
			var item T
			if err := json.Unmarshal(entry.Value, &item); err != nil {
				continue
			}
			result[entry.Key[len(prefix):]] = &item
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// likePrefix 转义 LIKE 通配符后拼接前缀匹配模式
func likePrefix(prefix string) string {
	escaped := ""
	for _, r := range prefix {
		if r == '%' || r == '_' || r == '\\' {
			escaped += "\\"
		}
		escaped += string(r)
	}
	return escaped + "%"
}

// ==================== 播放记录 ====================

func (s *SQLStorage) GetPlayRecord(ctx context.Context, username, key string) (*model.PlayRecord, error) {
	var record model.PlayRecord
	if err := s.getJSON(ctx, "sql.GetPlayRecord", playRecordKey(username, key), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *SQLStorage) SetPlayRecord(ctx context.Context, username, key string, record *model.PlayRecord) error {
	return s.setJSON(ctx, "sql.SetPlayRecord", playRecordKey(username, key), record)
}

func (s *SQLStorage) GetAllPlayRecords(ctx context.Context, username string) (map[string]*model.PlayRecord, error) {
	return sqlGetAll[model.PlayRecord](ctx, s, "sql.GetAllPlayRecords", playRecordPrefix(username))
}

func (s *SQLStorage) DeletePlayRecord(ctx context.Context, username, key string) error {
	return s.delete(ctx, "sql.DeletePlayRecord", playRecordKey(username, key))
}

// ==================== 收藏 ====================

func (s *SQLStorage) GetFavorite(ctx context.Context, username, key string) (*model.Favorite, error) {
	var fav model.Favorite
	if err := s.getJSON(ctx, "sql.GetFavorite", favoriteKey(username, key), &fav); err != nil {
		return nil, err
	}
	return &fav, nil
}

func (s *SQLStorage) SetFavorite(ctx context.Context, username, key string, fav *model.Favorite) error {
	return s.setJSON(ctx, "sql.SetFavorite", favoriteKey(username, key), fav)
}

func (s *SQLStorage) GetAllFavorites(ctx context.Context, username string) (map[string]*model.Favorite, error) {
	return sqlGetAll[model.Favorite](ctx, s, "sql.GetAllFavorites", favoritePrefix(username))
}

func (s *SQLStorage) DeleteFavorite(ctx context.Context, username, key string) error {
	return s.delete(ctx, "sql.DeleteFavorite", favoriteKey(username, key))
}

// ==================== 搜索历史 ====================

func (s *SQLStorage) GetSearchHistory(ctx context.Context, username string) ([]string, error) {
	var history []string
	err := s.getJSON(ctx, "sql.GetSearchHistory", searchHistoryKey(username), &history)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *SQLStorage) AddSearchHistory(ctx context.Context, username, keyword string) error {
	history, err := s.GetSearchHistory(ctx, username)
	if err != nil {
		return err
	}
	return s.setJSON(ctx, "sql.AddSearchHistory", searchHistoryKey(username), PrependKeyword(history, keyword))
}

func (s *SQLStorage) DeleteSearchHistory(ctx context.Context, username, keyword string) error {
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
	return s.setJSON(ctx, "sql.DeleteSearchHistory", searchHistoryKey(username), next)
}

func (s *SQLStorage) ClearSearchHistory(ctx context.Context, username string) error {
	return s.delete(ctx, "sql.ClearSearchHistory", searchHistoryKey(username))
}

// ==================== 跳过配置 ====================

func (s *SQLStorage) GetSkipConfig(ctx context.Context, username, key string) (*model.SkipConfig, error) {
	var cfg model.SkipConfig
	if err := s.getJSON(ctx, "sql.GetSkipConfig", skipConfigKey(username, key), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLStorage) SetSkipConfig(ctx context.Context, username, key string, cfg *model.SkipConfig) error {
	return s.setJSON(ctx, "sql.SetSkipConfig", skipConfigKey(username, key), cfg)
}

func (s *SQLStorage) GetAllSkipConfigs(ctx context.Context, username string) (map[string]*model.SkipConfig, error) {
	return sqlGetAll[model.SkipConfig](ctx, s, "sql.GetAllSkipConfigs", skipConfigPrefix(username))
}

func (s *SQLStorage) DeleteSkipConfig(ctx context.Context, username, key string) error {
	return s.delete(ctx, "sql.DeleteSkipConfig", skipConfigKey(username, key))
}

// ==================== 用户 ====================

func (s *SQLStorage) RegisterUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return &Error{Kind: KindData, Op: "sql.RegisterUser", Message: "密码哈希失败", Err: err}
	}
	return withRetry(ctx, "sql.RegisterUser", func() error {
		entry := kvEntry{Key: passwordKey(username), Value: hash}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
		if err != nil {
			return err
		}
		// DoNothing 时 gorm 不报错，需要确认是否真的写入了
		var count int64
		if err := s.db.WithContext(ctx).Model(&kvEntry{}).
			Where("key = ? AND value = ?", entry.Key, hash).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrUserExists
		}
		return nil
	})
}

func (s *SQLStorage) VerifyUser(ctx context.Context, username, password string) (bool, error) {
	hash, err := s.get(ctx, "sql.VerifyUser", passwordKey(username))
	if errors.Is(err, ErrNotFound) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

func (s *SQLStorage) CheckUserExist(ctx context.Context, username string) (bool, error) {
	_, err := s.get(ctx, "sql.CheckUserExist", passwordKey(username))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStorage) ChangePassword(ctx context.Context, username, newPassword string) error {
	exists, err := s.CheckUserExist(ctx, username)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return &Error{Kind: KindData, Op: "sql.ChangePassword", Message: "密码哈希失败", Err: err}
	}
	return s.put(ctx, "sql.ChangePassword", passwordKey(username), hash, nil)
}

// DeleteUser 级联删除，事务内顺序执行，密码最后删
func (s *SQLStorage) DeleteUser(ctx context.Context, username string) error {
	return withRetry(ctx, "sql.DeleteUser", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, prefix := range []string{
				playRecordPrefix(username),
				favoritePrefix(username),
				skipConfigPrefix(username),
			} {
				if err := tx.Delete(&kvEntry{}, "key LIKE ?", likePrefix(prefix)).Error; err != nil {
					return err
				}
			}
			if err := tx.Delete(&kvEntry{}, "key = ?", searchHistoryKey(username)).Error; err != nil {
				return err
			}
			return tx.Delete(&kvEntry{}, "key = ?", passwordKey(username)).Error
		})
	})
}

func (s *SQLStorage) GetAllUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := withRetry(ctx, "sql.GetAllUsers", func() error {
		var keys []string
		if err := s.db.WithContext(ctx).Model(&kvEntry{}).
			Where("key LIKE ?", "u:%:"+tagPassword).
			Pluck("key", &keys).Error; err != nil {
			return err
		}
		users = users[:0]
		for _, key := range keys {
			users = append(users, key[len("u:"):len(key)-len(":"+tagPassword)])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ==================== 管理配置 ====================

func (s *SQLStorage) GetAdminConfig(ctx context.Context) (*model.AdminConfig, error) {
	var cfg model.AdminConfig
	if err := s.getJSON(ctx, "sql.GetAdminConfig", adminConfigKey, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLStorage) SetAdminConfig(ctx context.Context, cfg *model.AdminConfig) error {
	return s.setJSON(ctx, "sql.SetAdminConfig", adminConfigKey, cfg)
}

// ==================== 通用缓存 ====================

func (s *SQLStorage) GetCache(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := withRetry(ctx, "sql.GetCache", func() error {
		var entry kvEntry
		err := s.db.WithContext(ctx).First(&entry, "key = ?", cacheKey(key)).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if entry.ExpiresAt != nil && time.Now().After(*entry.ExpiresAt) {
			_ = s.db.WithContext(ctx).Delete(&kvEntry{}, "key = ?", entry.Key).Error
			return ErrNotFound
		}
		value = entry.Value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *SQLStorage) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	return s.put(ctx, "sql.SetCache", cacheKey(key), value, expiresAt)
}

func (s *SQLStorage) DeleteCache(ctx context.Context, key string) error {
	return s.delete(ctx, "sql.DeleteCache", cacheKey(key))
}

// ClearExpiredCache 删除缓存前缀下所有已过期的行
func (s *SQLStorage) ClearExpiredCache(ctx context.Context, prefix string) error {
	return withRetry(ctx, "sql.ClearExpiredCache", func() error {
		return s.db.WithContext(ctx).
			Delete(&kvEntry{}, "key LIKE ? AND expires_at IS NOT NULL AND expires_at < ?",
				likePrefix(cacheKey(prefix)), time.Now()).Error
	})
}
