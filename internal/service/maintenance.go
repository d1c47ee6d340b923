package service

import (
	"context"
	"log"
	"time"

	"github.com/user/startv/internal/model"
	"github.com/user/startv/internal/stats"
	"github.com/user/startv/internal/storage"
	"github.com/user/startv/internal/update"
)

// Maintenance 定时维护任务
// 两件事：清理通用缓存里的过期条目，以及后台刷新所有用户
// 追剧内容的最新集数（让"有更新"红点不依赖用户主动打开页面）
type Maintenance struct {
	store      storage.Storage
	fetcher    update.DetailFetcher
	aggregator *stats.Aggregator
	interval   time.Duration
	stop       chan struct{}
}

// NewMaintenance 创建维护任务
func NewMaintenance(store storage.Storage, fetcher update.DetailFetcher,
	aggregator *stats.Aggregator, interval time.Duration) *Maintenance {
	if interval == 0 {
		interval = time.Hour
	}
	return &Maintenance{
		store:      store,
		fetcher:    fetcher,
		aggregator: aggregator,
		interval:   interval,
		stop:       make(chan struct{}),
	}
}

// Start 启动后台循环，启动后立即跑一轮
func (m *Maintenance) Start() {
	go func() {
		m.runOnce()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.runOnce()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop 停止后台循环
func (m *Maintenance) Stop() {
	close(m.stop)
}

func (m *Maintenance) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	log.Printf("[Maintenance] 开始维护任务")

	if err := m.store.ClearExpiredCache(ctx, ""); err != nil {
		log.Printf("[Maintenance] 清理过期缓存失败: %v", err)
	}

	m.refreshEpisodeCounts(ctx)

	log.Printf("[Maintenance] 维护任务完成，耗时 %v", time.Since(start))
}

// refreshEpisodeCounts 遍历所有用户的多集播放记录和收藏，拉取最新集数写回 total_episodes
// original_episodes 基线不在这里动，基线只随用户真实观看推进
func (m *Maintenance) refreshEpisodeCounts(ctx context.Context) {
	users, err := m.store.GetAllUsers(ctx)
	if err != nil {
		log.Printf("[Maintenance] 枚举用户失败: %v", err)
		return
	}

	// 同一部剧可能被多个用户追，集数在一轮里只拉一次
	counts := make(map[string]int)
	changed := false

	for _, username := range users {
		records, err := m.store.GetAllPlayRecords(ctx, username)
		if err != nil {
			log.Printf("[Maintenance] 获取用户 %s 播放记录失败: %v", username, err)
			continue
		}
		for key, record := range records {
			if record.TotalEpisodes <= 1 {
				continue
			}
			count := m.episodeCount(ctx, counts, key)
			if count > record.TotalEpisodes {
				record.TotalEpisodes = count
				if err := m.store.SetPlayRecord(ctx, username, key, record); err != nil {
					log.Printf("[Maintenance] 写回播放记录 %s/%s 失败: %v", username, key, err)
					continue
				}
				changed = true
			}
		}

		favorites, err := m.store.GetAllFavorites(ctx, username)
		if err != nil {
			log.Printf("[Maintenance] 获取用户 %s 收藏失败: %v", username, err)
			continue
		}
		for key, fav := range favorites {
			if fav.TotalEpisodes <= 1 {
				continue
			}
			count := m.episodeCount(ctx, counts, key)
			if count > fav.TotalEpisodes {
				fav.TotalEpisodes = count
				if err := m.store.SetFavorite(ctx, username, key, fav); err != nil {
					log.Printf("[Maintenance] 写回收藏 %s/%s 失败: %v", username, key, err)
				}
			}
		}
	}

	if changed {
		m.aggregator.InvalidateSiteStats("")
	}
}

// episodeCount 拉取集数并记入本轮缓存，失败记为 0（只跳过本轮更新）
func (m *Maintenance) episodeCount(ctx context.Context, counts map[string]int, key string) int {
	if count, ok := counts[key]; ok {
		return count
	}
	source, id, err := model.ParseStorageKey(key)
	if err != nil {
		counts[key] = 0
		return 0
	}
	count, err := m.fetcher.FetchEpisodeCount(ctx, source, id)
	if err != nil {
		log.Printf("[Maintenance] %s 集数拉取失败: %v", key, err)
		count = 0
	}
	counts[key] = count
	return count
}
