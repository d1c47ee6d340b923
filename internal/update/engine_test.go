package update

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/startv/internal/model"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		record  *model.PlayRecord
		fetched int
		want    VideoStatus
	}{
		{
			name:    "出了新集",
			record:  &model.PlayRecord{OriginalEpisodes: 12, TotalEpisodes: 12, Index: 12},
			fetched: 15,
			want:    VideoStatus{HasNewEpisode: true, NewEpisodes: 3, ProtectedTotal: 15, HasContinueWatching: true, RemainingEpisodes: 3},
		},
		{
			name:   "站点临时返回更少集数不丢失进度",
			record: &model.PlayRecord{OriginalEpisodes: 20, TotalEpisodes: 20, Index: 10},
			// 详情接口抽风只给 18 集，保护性总数仍是 20
			fetched: 18,
			want:    VideoStatus{ProtectedTotal: 20, HasContinueWatching: true, RemainingEpisodes: 10},
		},
		{
			name:    "已看完且没有更新",
			record:  &model.PlayRecord{OriginalEpisodes: 12, TotalEpisodes: 12, Index: 12},
			fetched: 12,
			want:    VideoStatus{ProtectedTotal: 12},
		},
		{
			name:    "没有基线时退回总集数",
			record:  &model.PlayRecord{TotalEpisodes: 10, Index: 8},
			fetched: 12,
			want:    VideoStatus{HasNewEpisode: true, NewEpisodes: 2, ProtectedTotal: 12, HasContinueWatching: true, RemainingEpisodes: 4},
		},
		{
			name:    "拉取失败兜底为零时用已知数据评估",
			record:  &model.PlayRecord{OriginalEpisodes: 12, TotalEpisodes: 12, Index: 5},
			fetched: 0,
			want:    VideoStatus{ProtectedTotal: 12, HasContinueWatching: true, RemainingEpisodes: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.record, tt.fetched)
			if got != tt.want {
				t.Errorf("Evaluate = %+v，期望 %+v", got, tt.want)
			}
		})
	}
}

// fakeFetcher 固定返回预设集数，记录调用次数
type fakeFetcher struct {
	mu     sync.Mutex
	counts map[string]int
	calls  int
}

func (f *fakeFetcher) FetchEpisodeCount(ctx context.Context, source, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.counts[source+"+"+id], nil
}

func TestEngineCheck(t *testing.T) {
	fetcher := &fakeFetcher{counts: map[string]int{
		"sitea+1": 15, // 12 -> 15，有更新
		"sitea+2": 10, // 没更新，但还有没看完的
	}}
	engine := NewEngine(fetcher, time.Minute)

	records := map[string]*model.PlayRecord{
		"sitea+1": {OriginalEpisodes: 12, TotalEpisodes: 12, Index: 12},
		"sitea+2": {OriginalEpisodes: 10, TotalEpisodes: 10, Index: 5},
		"sitea+3": {TotalEpisodes: 1, Index: 1}, // 电影，跳过
	}

	summary, err := engine.Check(context.Background(), "alice", records)
	if err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	if summary.UpdatedCount != 1 {
		t.Errorf("UpdatedCount = %d，期望 1", summary.UpdatedCount)
	}
	if summary.ContinueWatchingCount != 2 {
		t.Errorf("ContinueWatchingCount = %d，期望 2", summary.ContinueWatchingCount)
	}
	if len(summary.Statuses) != 2 {
		t.Errorf("单集内容不应出现在结果里: %v", summary.Statuses)
	}
	if s := summary.Statuses["sitea+1"]; !s.HasNewEpisode || s.NewEpisodes != 3 {
		t.Errorf("sitea+1 状态不对: %+v", s)
	}
}

func TestEngineCheckCaching(t *testing.T) {
	fetcher := &fakeFetcher{counts: map[string]int{"sitea+1": 15}}
	engine := NewEngine(fetcher, time.Minute)
	records := map[string]*model.PlayRecord{
		"sitea+1": {OriginalEpisodes: 12, TotalEpisodes: 12, Index: 12},
	}

	if _, err := engine.Check(context.Background(), "alice", records); err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	if _, err := engine.Check(context.Background(), "alice", records); err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	// 间隔内的重复检测命中缓存，不打详情接口
	if fetcher.calls != 1 {
		t.Errorf("详情拉取次数 = %d，期望 1", fetcher.calls)
	}

	// 失效后重新拉取
	engine.Invalidate("alice")
	if _, err := engine.Check(context.Background(), "alice", records); err != nil {
		t.Fatalf("检测失败: %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("失效后详情拉取次数 = %d，期望 2", fetcher.calls)
	}
}
