package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/user/startv/internal/model"
	"github.com/user/startv/internal/storage"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// SiteStatsCacheKey 全站统计在通用缓存里的固定键
const SiteStatsCacheKey = "stats:site"

// recentLimit 用户统计里保留的最近记录条数
const recentLimit = 10

// topSourceLimit 全站统计保留的热门来源数
const topSourceLimit = 5

// Aggregator 统计聚合器
// 从原始播放记录推导用户维度和全站维度的观看统计；
// 全站结果写入通用缓存（固定键 + 30 分钟 TTL），任何用户的播放记录
// 变更都直接删缓存键，让下次读取重算（最简单的正确策略）
type Aggregator struct {
	store   storage.Storage
	siteTTL time.Duration
	sf      singleflight.Group
}

// NewAggregator 创建统计聚合器
func NewAggregator(store storage.Storage, siteTTL time.Duration) *Aggregator {
	if siteTTL == 0 {
		siteTTL = 30 * time.Minute
	}
	return &Aggregator{store: store, siteTTL: siteTTL}
}

// UserStats 聚合单个用户的观看统计
func (a *Aggregator) UserStats(ctx context.Context, username string) (*model.UserPlayStat, error) {
	records, err := a.store.GetAllPlayRecords(ctx, username)
	if err != nil {
		return nil, err
	}
	return buildUserStat(username, records), nil
}

// buildUserStat 从播放记录集合构建用户统计，纯函数
func buildUserStat(username string, records map[string]*model.PlayRecord) *model.UserPlayStat {
	stat := &model.UserPlayStat{
		Username:       username,
		RecentRecords:  []model.PlayRecord{},
		LastUpdateTime: time.Now().UnixMilli(),
	}

	sources := make(map[string]int)
	movies := make(map[[3]string]struct{})
	all := []model.PlayRecord{}

	for _, record := range records {
		stat.TotalWatchTime += int64(record.PlayTime)
		stat.TotalPlays++
		if record.SaveTime > stat.LastPlayTime {
			stat.LastPlayTime = record.SaveTime
		}
		if stat.FirstWatchDate == 0 || record.SaveTime < stat.FirstWatchDate {
			stat.FirstWatchDate = record.SaveTime
		}
		sources[record.SourceName]++
		// 同一条记录被反复更新只算一部影片
		movies[[3]string{record.Title, record.SourceName, record.Year}] = struct{}{}
		all = append(all, *record)
	}

	stat.TotalMovies = len(movies)
	if stat.TotalPlays > 0 {
		stat.AvgWatchTime = float64(stat.TotalWatchTime) / float64(stat.TotalPlays)
	}

	best := 0
	for source, count := range sources {
		if count > best || (count == best && source < stat.MostWatchedSource) {
			best = count
			stat.MostWatchedSource = source
		}
	}

	// 最近 10 条，新的在前
	sort.Slice(all, func(i, j int) bool { return all[i].SaveTime > all[j].SaveTime })
	if len(all) > recentLimit {
		all = all[:recentLimit]
	}
	stat.RecentRecords = all

	return stat
}

// SiteStats 聚合全站统计
// 先读缓存，未命中时重算；singleflight 保证并发请求只触发一次重算
func (a *Aggregator) SiteStats(ctx context.Context) (*model.SiteStats, error) {
	if data, err := a.store.GetCache(ctx, SiteStatsCacheKey); err == nil {
		var stats model.SiteStats
		if err := json.Unmarshal(data, &stats); err == nil {
			return &stats, nil
		}
		// 缓存损坏按未命中处理
		_ = a.store.DeleteCache(ctx, SiteStatsCacheKey)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	result, err, _ := a.sf.Do(SiteStatsCacheKey, func() (interface{}, error) {
		return a.computeSiteStats(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.SiteStats), nil
}

// computeSiteStats 重算全站统计并写回缓存
func (a *Aggregator) computeSiteStats(ctx context.Context) (*model.SiteStats, error) {
	users, err := a.store.GetAllUsers(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.SiteStats{
		TotalUsers:  len(users),
		DailyTrend:  []model.DailyStat{},
		TopSources:  []model.SourceStat{},
		UpdatedTime: time.Now().UnixMilli(),
	}

	type userData struct {
		stat    *model.UserPlayStat
		records map[string]*model.PlayRecord
	}
	results := make([]userData, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, username := range users {
		g.Go(func() error {
			records, err := a.store.GetAllPlayRecords(gctx, username)
			if err != nil {
				return err
			}
			results[i] = userData{stat: buildUserStat(username, records), records: records}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 最近 7 个自然日（UTC），含今天
	now := time.Now().UTC()
	daily := make(map[string]*model.DailyStat)
	for d := 0; d < 7; d++ {
		date := now.AddDate(0, 0, -d).Format("2006-01-02")
		daily[date] = &model.DailyStat{Date: date}
	}

	sources := make(map[string]int)
	for _, r := range results {
		stats.TotalWatchTime += r.stat.TotalWatchTime
		stats.TotalPlays += r.stat.TotalPlays
		for _, record := range r.records {
			sources[record.SourceName]++
			date := time.UnixMilli(record.SaveTime).UTC().Format("2006-01-02")
			if bucket, ok := daily[date]; ok {
				bucket.WatchTime += int64(record.PlayTime)
				bucket.Plays++
			}
		}
	}

	if stats.TotalUsers > 0 {
		stats.AvgWatchTimePerUser = float64(stats.TotalWatchTime) / float64(stats.TotalUsers)
	}

	// 趋势按日期升序输出
	for d := 6; d >= 0; d-- {
		date := now.AddDate(0, 0, -d).Format("2006-01-02")
		stats.DailyTrend = append(stats.DailyTrend, *daily[date])
	}

	// 热门来源按播放数取前 5
	for source, plays := range sources {
		stats.TopSources = append(stats.TopSources, model.SourceStat{Source: source, Plays: plays})
	}
	sort.Slice(stats.TopSources, func(i, j int) bool {
		if stats.TopSources[i].Plays != stats.TopSources[j].Plays {
			return stats.TopSources[i].Plays > stats.TopSources[j].Plays
		}
		return stats.TopSources[i].Source < stats.TopSources[j].Source
	})
	if len(stats.TopSources) > topSourceLimit {
		stats.TopSources = stats.TopSources[:topSourceLimit]
	}

	data, err := json.Marshal(stats)
	if err == nil {
		if err := a.store.SetCache(ctx, SiteStatsCacheKey, data, a.siteTTL); err != nil {
			log.Printf("[Stats] 全站统计写缓存失败: %v", err)
		}
	}
	return stats, nil
}

// InvalidateSiteStats 删除全站统计缓存键
// 播放记录每次写入都调用，宁可多算一次也不做增量维护
func (a *Aggregator) InvalidateSiteStats(username string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.DeleteCache(ctx, SiteStatsCacheKey); err != nil {
		log.Printf("[Stats] 删除全站统计缓存失败: %v", err)
	}
}
