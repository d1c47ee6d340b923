package storage

import (
	"context"
	"time"

	"github.com/user/startv/internal/model"
)

// 集合标签，用于拼接命名空间键
const (
	tagPlayRecord  = "pr"
	tagFavorite    = "fav"
	tagSkipConfig  = "sc"
	tagSearchHist  = "sh"
	tagPassword    = "pwd"
	adminConfigKey = "admin:config"
	cachePrefix    = "cache:"
)

// 搜索历史最大长度，超出后从尾部裁剪
const SearchHistoryLimit = 20

// Storage 统一存储接口
// 所有集合（播放记录、收藏、搜索历史、跳过配置、管理配置、通用缓存、统计）
// 都构建在这一个抽象之上，本地模式与远程模式通过构造时注入切换
type Storage interface {
	// 播放记录
	GetPlayRecord(ctx context.Context, username, key string) (*model.PlayRecord, error)
	SetPlayRecord(ctx context.Context, username, key string, record *model.PlayRecord) error
	GetAllPlayRecords(ctx context.Context, username string) (map[string]*model.PlayRecord, error)
	DeletePlayRecord(ctx context.Context, username, key string) error

	// 收藏
	GetFavorite(ctx context.Context, username, key string) (*model.Favorite, error)
	SetFavorite(ctx context.Context, username, key string, fav *model.Favorite) error
	GetAllFavorites(ctx context.Context, username string) (map[string]*model.Favorite, error)
	DeleteFavorite(ctx context.Context, username, key string) error

	// 搜索历史：列表语义，新的在前、去重、最多 20 条
	GetSearchHistory(ctx context.Context, username string) ([]string, error)
	AddSearchHistory(ctx context.Context, username, keyword string) error
	DeleteSearchHistory(ctx context.Context, username, keyword string) error
	ClearSearchHistory(ctx context.Context, username string) error

	// 跳过片头片尾配置
	GetSkipConfig(ctx context.Context, username, key string) (*model.SkipConfig, error)
	SetSkipConfig(ctx context.Context, username, key string, cfg *model.SkipConfig) error
	GetAllSkipConfigs(ctx context.Context, username string) (map[string]*model.SkipConfig, error)
	DeleteSkipConfig(ctx context.Context, username, key string) error

	// 用户
	RegisterUser(ctx context.Context, username, password string) error
	VerifyUser(ctx context.Context, username, password string) (bool, error)
	CheckUserExist(ctx context.Context, username string) (bool, error)
	ChangePassword(ctx context.Context, username, newPassword string) error
	// DeleteUser 级联删除：先删各集合数据，密码记录最后删，
	// 保证部分失败不会留下只有密码没有数据、或只有数据没有密码的孤儿
	DeleteUser(ctx context.Context, username string) error
	// GetAllUsers 扫描密码记录命名空间枚举用户名，供定时维护任务遍历
	GetAllUsers(ctx context.Context) ([]string, error)

	// 管理配置
	GetAdminConfig(ctx context.Context) (*model.AdminConfig, error)
	SetAdminConfig(ctx context.Context, cfg *model.AdminConfig) error

	// 通用缓存：带 TTL 的命名空间缓存，限流、全站统计等都构建在它之上
	GetCache(ctx context.Context, key string) ([]byte, error)
	SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteCache(ctx context.Context, key string) error
	ClearExpiredCache(ctx context.Context, prefix string) error

	// Close 关闭底层连接
	Close() error
}

// 以下键拼接函数是三个后端共用的命名空间布局：
//   u:{username}:{tag}:{storageKey}  集合记录
//   u:{username}:pwd                 密码
//   cache:{key}                      通用缓存

func playRecordKey(username, key string) string { return "u:" + username + ":" + tagPlayRecord + ":" + key }
func favoriteKey(username, key string) string   { return "u:" + username + ":" + tagFavorite + ":" + key }
func skipConfigKey(username, key string) string { return "u:" + username + ":" + tagSkipConfig + ":" + key }
func searchHistoryKey(username string) string   { return "u:" + username + ":" + tagSearchHist }
func passwordKey(username string) string        { return "u:" + username + ":" + tagPassword }
func cacheKey(key string) string                { return cachePrefix + key }

func playRecordPrefix(username string) string { return "u:" + username + ":" + tagPlayRecord + ":" }
func favoritePrefix(username string) string   { return "u:" + username + ":" + tagFavorite + ":" }
func skipConfigPrefix(username string) string { return "u:" + username + ":" + tagSkipConfig + ":" }
