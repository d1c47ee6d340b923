package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/startv/internal/model"
	"github.com/user/startv/internal/storage"
)

func TestBuildUserStat(t *testing.T) {
	now := time.Now().UnixMilli()
	records := map[string]*model.PlayRecord{
		"sitea+1": {Title: "剧A", SourceName: "源A", Year: "2023", PlayTime: 600, SaveTime: now - 2000},
		"sitea+2": {Title: "剧B", SourceName: "源A", Year: "2024", PlayTime: 300, SaveTime: now - 1000},
		"siteb+1": {Title: "剧A", SourceName: "源B", Year: "2023", PlayTime: 100, SaveTime: now},
	}

	stat := buildUserStat("alice", records)

	if stat.TotalWatchTime != 1000 {
		t.Errorf("TotalWatchTime = %d，期望 1000", stat.TotalWatchTime)
	}
	if stat.TotalPlays != 3 {
		t.Errorf("TotalPlays = %d，期望 3", stat.TotalPlays)
	}
	// 同名不同源算不同影片
	if stat.TotalMovies != 3 {
		t.Errorf("TotalMovies = %d，期望 3", stat.TotalMovies)
	}
	if stat.MostWatchedSource != "源A" {
		t.Errorf("MostWatchedSource = %q，期望 源A", stat.MostWatchedSource)
	}
	if stat.LastPlayTime != now {
		t.Errorf("LastPlayTime = %d，期望 %d", stat.LastPlayTime, now)
	}
	if stat.FirstWatchDate != now-2000 {
		t.Errorf("FirstWatchDate = %d，期望 %d", stat.FirstWatchDate, now-2000)
	}
	if stat.AvgWatchTime < 333 || stat.AvgWatchTime > 334 {
		t.Errorf("AvgWatchTime = %f", stat.AvgWatchTime)
	}
	// 最近记录新的在前
	if len(stat.RecentRecords) != 3 || stat.RecentRecords[0].SourceName != "源B" {
		t.Errorf("RecentRecords 顺序不对: %+v", stat.RecentRecords)
	}
}

func TestBuildUserStatEmpty(t *testing.T) {
	stat := buildUserStat("alice", map[string]*model.PlayRecord{})
	if stat.TotalPlays != 0 || stat.TotalWatchTime != 0 || stat.AvgWatchTime != 0 {
		t.Errorf("空集合统计应全为零: %+v", stat)
	}
	if stat.RecentRecords == nil || len(stat.RecentRecords) != 0 {
		t.Errorf("RecentRecords 应为空切片: %v", stat.RecentRecords)
	}
}

func TestBuildUserStatRecentLimit(t *testing.T) {
	records := make(map[string]*model.PlayRecord)
	for i := 0; i < recentLimit+5; i++ {
		records[model.GenerateStorageKey("sitea", string(rune('a'+i)))] = &model.PlayRecord{
			Title: "剧", SourceName: "源A", SaveTime: int64(i),
		}
	}
	stat := buildUserStat("alice", records)
	if len(stat.RecentRecords) != recentLimit {
		t.Errorf("最近记录数 = %d，期望 %d", len(stat.RecentRecords), recentLimit)
	}
	// 最新的在最前
	if stat.RecentRecords[0].SaveTime != int64(recentLimit+4) {
		t.Errorf("最近记录排序不对: %v", stat.RecentRecords[0].SaveTime)
	}
}

func newTestAggregator(t *testing.T) (*Aggregator, *storage.BoltStorage) {
	t.Helper()
	store, err := storage.NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开测试数据文件失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewAggregator(store, 30*time.Minute), store
}

func TestSiteStats(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	for _, user := range []string{"alice", "bob"} {
		if err := store.RegisterUser(ctx, user, "password123"); err != nil {
			t.Fatalf("注册失败: %v", err)
		}
	}
	_ = store.SetPlayRecord(ctx, "alice", "sitea+1", &model.PlayRecord{SourceName: "源A", PlayTime: 600, SaveTime: now})
	_ = store.SetPlayRecord(ctx, "alice", "siteb+1", &model.PlayRecord{SourceName: "源B", PlayTime: 200, SaveTime: now})
	_ = store.SetPlayRecord(ctx, "bob", "sitea+2", &model.PlayRecord{SourceName: "源A", PlayTime: 400, SaveTime: now})

	stats, err := a.SiteStats(ctx)
	if err != nil {
		t.Fatalf("全站统计失败: %v", err)
	}
	if stats.TotalUsers != 2 {
		t.Errorf("TotalUsers = %d，期望 2", stats.TotalUsers)
	}
	if stats.TotalPlays != 3 {
		t.Errorf("TotalPlays = %d，期望 3", stats.TotalPlays)
	}
	if stats.TotalWatchTime != 1200 {
		t.Errorf("TotalWatchTime = %d，期望 1200", stats.TotalWatchTime)
	}
	if stats.AvgWatchTimePerUser != 600 {
		t.Errorf("AvgWatchTimePerUser = %f，期望 600", stats.AvgWatchTimePerUser)
	}
	if len(stats.DailyTrend) != 7 {
		t.Fatalf("趋势天数 = %d，期望 7", len(stats.DailyTrend))
	}
	// 趋势按日期升序，今天在最后一格
	today := stats.DailyTrend[6]
	if today.Plays != 3 || today.WatchTime != 1200 {
		t.Errorf("今日桶不对: %+v", today)
	}
	if len(stats.TopSources) != 2 || stats.TopSources[0].Source != "源A" || stats.TopSources[0].Plays != 2 {
		t.Errorf("热门来源不对: %+v", stats.TopSources)
	}
}

func TestSiteStatsCaching(t *testing.T) {
	a, store := newTestAggregator(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	_ = store.RegisterUser(ctx, "alice", "password123")
	_ = store.SetPlayRecord(ctx, "alice", "sitea+1", &model.PlayRecord{SourceName: "源A", PlayTime: 100, SaveTime: now})

	first, err := a.SiteStats(ctx)
	if err != nil {
		t.Fatalf("全站统计失败: %v", err)
	}
	if first.TotalPlays != 1 {
		t.Fatalf("TotalPlays = %d，期望 1", first.TotalPlays)
	}

	// 没有失效时走缓存，看不到新写入
	_ = store.SetPlayRecord(ctx, "alice", "sitea+2", &model.PlayRecord{SourceName: "源A", PlayTime: 100, SaveTime: now})
	cached, err := a.SiteStats(ctx)
	if err != nil {
		t.Fatalf("全站统计失败: %v", err)
	}
	if cached.TotalPlays != 1 {
		t.Errorf("缓存期内 TotalPlays = %d，期望 1", cached.TotalPlays)
	}

	// 失效后重算
	a.InvalidateSiteStats("alice")
	fresh, err := a.SiteStats(ctx)
	if err != nil {
		t.Fatalf("全站统计失败: %v", err)
	}
	if fresh.TotalPlays != 2 {
		t.Errorf("失效后 TotalPlays = %d，期望 2", fresh.TotalPlays)
	}
}
