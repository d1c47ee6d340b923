package update

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/user/startv/internal/model"
	"github.com/user/startv/internal/utils"
)

// DetailFetcher 内容详情协作方
// 必须绕过缓存拿最新数据，过期的集数会直接导致更新检测漏报
type DetailFetcher interface {
	FetchEpisodeCount(ctx context.Context, source, id string) (int, error)
}

// VideoStatus 单条播放记录的更新状态
type VideoStatus struct {
	StorageKey          string `json:"storage_key"`
	HasNewEpisode       bool   `json:"has_new_episode"`
	NewEpisodes         int    `json:"new_episodes,omitempty"`
	ProtectedTotal      int    `json:"protected_total"`
	HasContinueWatching bool   `json:"has_continue_watching"`
	RemainingEpisodes   int    `json:"remaining_episodes,omitempty"`
}

// Summary 用户所有记录的汇总状态
type Summary struct {
	UpdatedCount          int                    `json:"updated_count"`           // 有新增集数的记录数
	ContinueWatchingCount int                    `json:"continue_watching_count"` // 有未看完集数的记录数
	Statuses              map[string]VideoStatus `json:"statuses"`
	CheckedAt             int64                  `json:"checked_at"` // 毫秒时间戳
}

// Engine 更新检测引擎
// 周期性重算"这部剧是否出了新集 / 用户是否还有没看完的集"，
// 结果按用户缓存 5 分钟，限制详情拉取频率；不取消在途请求，
// 慢的详情拉取只会拖慢该条记录，不阻塞其他记录
type Engine struct {
	fetcher  DetailFetcher
	interval time.Duration
	cache    *utils.TTLCache[*Summary]
}

// NewEngine 创建更新检测引擎
// interval 为同一用户两次检测之间的最小间隔（默认 5 分钟）
func NewEngine(fetcher DetailFetcher, interval time.Duration) *Engine {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &Engine{
		fetcher:  fetcher,
		interval: interval,
		cache:    utils.NewTTLCache[*Summary](1024, interval),
	}
}

// Evaluate 用最新拉到的集数评估单条记录，纯函数
//
// protectedTotal 取已知集数的最大值，瞬时/过期的详情返回比已知更少的集数时，
// 绝不能让用户出现错误的"已看完"状态
func Evaluate(record *model.PlayRecord, fetchedCount int) VideoStatus {
	baseline := record.OriginalEpisodes
	if baseline == 0 {
		baseline = record.TotalEpisodes
	}

	status := VideoStatus{}
	if fetchedCount > baseline {
		status.HasNewEpisode = true
		status.NewEpisodes = fetchedCount - baseline
	}

	protected := fetchedCount
	if baseline > protected {
		protected = baseline
	}
	if record.TotalEpisodes > protected {
		protected = record.TotalEpisodes
	}
	status.ProtectedTotal = protected

	if record.Index < protected {
		status.HasContinueWatching = true
		status.RemainingEpisodes = protected - record.Index
	}
	return status
}

// Check 检测用户全部播放记录的更新状态
// 5 分钟内的重复调用直接返回上次结果；每条记录的详情拉取相互独立并发执行
func (e *Engine) Check(ctx context.Context, username string, records map[string]*model.PlayRecord) (*Summary, error) {
	if cached, ok := e.cache.Get(username); ok {
		return cached, nil
	}

	summary := &Summary{
		Statuses:  make(map[string]VideoStatus),
		CheckedAt: time.Now().UnixMilli(),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for key, record := range records {
		// 单集内容（电影）没有更新检测的意义
		if record.TotalEpisodes <= 1 {
			continue
		}
		wg.Add(1)
		go func(key string, record *model.PlayRecord) {
			defer wg.Done()

			source, id, err := model.ParseStorageKey(key)
			if err != nil {
				log.Printf("[UpdateEngine] 跳过无效存储键 %q: %v", key, err)
				return
			}
			count, err := e.fetcher.FetchEpisodeCount(ctx, source, id)
			if err != nil {
				// 拉取失败只影响这一条，用已知数据兜底评估
				log.Printf("[UpdateEngine] %s 集数拉取失败: %v", key, err)
				count = 0
			}

			status := Evaluate(record, count)
			status.StorageKey = key

			mu.Lock()
			summary.Statuses[key] = status
			if status.HasNewEpisode {
				summary.UpdatedCount++
			}
			if status.HasContinueWatching {
				summary.ContinueWatchingCount++
			}
			mu.Unlock()
		}(key, record)
	}
	wg.Wait()

	e.cache.Set(username, summary)
	return summary, nil
}

// Invalidate 丢弃某个用户的检测缓存（播放记录变更后调用）
func (e *Engine) Invalidate(username string) {
	e.cache.Delete(username)
}
