package update

import (
	"testing"

	"github.com/user/startv/internal/model"
)

func TestNextOriginalEpisodes(t *testing.T) {
	tests := []struct {
		name string
		prev *model.PlayRecord
		next *model.PlayRecord
		want int
	}{
		{
			name: "首次保存取当时的总集数",
			prev: nil,
			next: &model.PlayRecord{TotalEpisodes: 12, Index: 1, PlayTime: 30},
			want: 12,
		},
		{
			name: "集数涨了但没看进新集",
			prev: &model.PlayRecord{OriginalEpisodes: 12, TotalEpisodes: 12},
			next: &model.PlayRecord{TotalEpisodes: 15, Index: 5, PlayTime: 600},
			want: 12,
		},
		{
			name: "看进新集且超过一分钟才推进",
			prev: &model.PlayRecord{OriginalEpisodes: 12, TotalEpisodes: 12},
			next: &model.PlayRecord{TotalEpisodes: 15, Index: 13, PlayTime: 120},
			want: 15,
		},
		{
			name: "看进新集但不足一分钟不推进",
			prev: &model.PlayRecord{OriginalEpisodes: 12, TotalEpisodes: 12},
			next: &model.PlayRecord{TotalEpisodes: 15, Index: 13, PlayTime: 30},
			want: 12,
		},
		{
			name: "站点临时返回更少集数不回退",
			prev: &model.PlayRecord{OriginalEpisodes: 12, TotalEpisodes: 12},
			next: &model.PlayRecord{TotalEpisodes: 8, Index: 13, PlayTime: 600},
			want: 12,
		},
		{
			name: "旧数据缺基线时用旧总集数回填",
			prev: &model.PlayRecord{OriginalEpisodes: 0, TotalEpisodes: 10},
			next: &model.PlayRecord{TotalEpisodes: 10, Index: 3, PlayTime: 300},
			want: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextOriginalEpisodes(tt.prev, tt.next); got != tt.want {
				t.Errorf("NextOriginalEpisodes = %d，期望 %d", got, tt.want)
			}
		})
	}
}
