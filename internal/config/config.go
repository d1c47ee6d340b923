package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config 应用配置
type Config struct {
	Env       string
	AppSecret string
	JWTExpiry time.Duration
	Port      string
	SiteName  string

	// 存储模式：redis（远程）、sql（数据库）、local（本地文件）
	StorageType   string
	RedisURL      string
	DatabaseURL   string
	LocalDataPath string

	// 客户端缓存
	CacheExpiry   time.Duration // 缓存条目有效期
	CacheMaxBytes int           // 序列化总大小软上限
	CacheEvictAge time.Duration // 超限时的淘汰年龄阈值

	// 统计与更新检测
	SiteStatsTTL        time.Duration // 全站统计缓存 TTL
	UpdateCheckInterval time.Duration // 更新检测最小间隔
	DetailTimeout       time.Duration // 详情拉取超时

	// 观看时长增量阈值（经验值，开放配置）
	FastForwardBound time.Duration
	ReplayAllowance  time.Duration
	PauseThreshold   time.Duration
	Debounce         time.Duration
}

// Load 加载配置
func Load() *Config {
	expiryHours, _ := strconv.Atoi(getEnv("JWT_EXPIRY_HOURS", "72"))

	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "startv")
	dbSSL := getEnv("DB_SSLMODE", "disable")

	dbURL := getEnv("DATABASE_URL", fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPass, dbHost, dbPort, dbName, dbSSL))

	appSecret := getEnv("APP_SECRET", "your-secret-key-change-in-production")
	if getEnv("APP_ENV", "development") == "production" && appSecret == "your-secret-key-change-in-production" {
		fmt.Println("【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}

	return &Config{
		Env:       getEnv("APP_ENV", "development"),
		AppSecret: appSecret,
		JWTExpiry: time.Duration(expiryHours) * time.Hour,
		Port:      getEnv("PORT", "5008"),
		SiteName:  getEnv("SITE_NAME", "StarTV"),

		StorageType:   getEnv("STORAGE_TYPE", "local"),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:   dbURL,
		LocalDataPath: getEnv("LOCAL_DATA_PATH", "./data/startv.db"),

		CacheExpiry:   getEnvDuration("CACHE_EXPIRY", time.Hour),
		CacheMaxBytes: getEnvInt("CACHE_MAX_BYTES", 15*1024*1024),
		CacheEvictAge: getEnvDuration("CACHE_EVICT_AGE", 60*24*time.Hour),

		SiteStatsTTL:        getEnvDuration("SITE_STATS_TTL", 30*time.Minute),
		UpdateCheckInterval: getEnvDuration("UPDATE_CHECK_INTERVAL", 5*time.Minute),
		DetailTimeout:       getEnvDuration("DETAIL_TIMEOUT", 10*time.Second),

		FastForwardBound: getEnvDuration("WATCH_FAST_FORWARD_BOUND", 5*time.Minute),
		ReplayAllowance:  getEnvDuration("WATCH_REPLAY_ALLOWANCE", 60*time.Second),
		PauseThreshold:   getEnvDuration("WATCH_PAUSE_THRESHOLD", 30*time.Second),
		Debounce:         getEnvDuration("WATCH_DEBOUNCE", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
