package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/user/startv/internal/cache"
	"github.com/user/startv/internal/config"
	"github.com/user/startv/internal/detail"
	"github.com/user/startv/internal/handler"
	"github.com/user/startv/internal/model"
	"github.com/user/startv/internal/router"
	"github.com/user/startv/internal/service"
	"github.com/user/startv/internal/stats"
	"github.com/user/startv/internal/storage"
	"github.com/user/startv/internal/update"
	"github.com/user/startv/internal/utils"
)

func main() {
	// 加载 .env 文件（如果存在）
	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件，使用系统环境变量")
	}

	cfg := config.Load()

	// 1. 按配置选择存储后端
	store, err := newStorage(cfg)
	if err != nil {
		log.Fatalf("[Main] 初始化存储失败: %v", err)
	}
	defer store.Close()
	log.Printf("[Main] 存储后端: %s", cfg.StorageType)

	// 2. 缓存管理器，本地模式直通存储
	direct := cfg.StorageType == "local"
	manager := cache.NewManager(store, cache.NewBus(), cache.Config{
		Expiry:   cfg.CacheExpiry,
		MaxBytes: cfg.CacheMaxBytes,
		EvictAge: cfg.CacheEvictAge,
	}, direct)

	// 3. 统计聚合器与详情拉取
	aggregator := stats.NewAggregator(store, cfg.SiteStatsTTL)

	httpClient := utils.NewHTTPClient(cfg.DetailTimeout)
	fetcher := detail.NewFetcher(httpClient, siteResolver(store))

	// 4. 更新检测引擎
	engine := update.NewEngine(fetcher, cfg.UpdateCheckInterval)

	// 播放记录一变，全站统计缓存和更新检测缓存都失效
	manager.OnPlayRecordChange = func(username string) {
		go aggregator.InvalidateSiteStats(username)
		engine.Invalidate(username)
	}

	// 5. 后台维护任务
	maintenance := service.NewMaintenance(store, fetcher, aggregator, time.Hour)
	maintenance.Start()
	defer maintenance.Stop()

	// 6. 路由与 HTTP 服务
	h := handler.NewHandler(cfg, store, manager, aggregator, engine)
	r := router.Setup(cfg, h)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("[Main] %s 启动，监听 :%s", cfg.SiteName, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Main] HTTP 服务启动失败: %v", err)
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Main] 收到退出信号，开始关闭")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[Main] HTTP 服务关闭超时: %v", err)
	}
	log.Println("[Main] 已退出")
}

// newStorage 按 STORAGE_TYPE 创建存储后端
func newStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "redis":
		return storage.NewRedisStorage(cfg.RedisURL)
	case "sql":
		return storage.NewSQLStorage(cfg.DatabaseURL)
	default:
		return storage.NewBoltStorage(cfg.LocalDataPath)
	}
}

// siteResolver 从管理配置里查找资源站点
func siteResolver(store storage.Storage) detail.SiteResolver {
	return func(ctx context.Context, source string) (*model.SourceSite, error) {
		cfg, err := store.GetAdminConfig(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		for i := range cfg.SourceSites {
			if cfg.SourceSites[i].Key == source {
				return &cfg.SourceSites[i], nil
			}
		}
		return nil, nil
	}
}
