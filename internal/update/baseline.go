package update

import "github.com/user/startv/internal/model"

// minWatchSeconds 推进基线要求的最少有效观看时长
const minWatchSeconds = 60

// NextOriginalEpisodes 计算保存后的 original_episodes 基线
// 纯函数，与 I/O 路径分离
//
// 规则（单调不回退）：
//   - 没有旧记录：基线取本次的总集数（首次保存即记下当时的集数）
//   - 旧记录缺基线：用旧记录的总集数回填
//   - 只有同时满足以下三个条件才把基线推进到当前总集数：
//     用户当前观看集数超过旧基线、当前总集数超过旧基线、本次播放超过 60 秒。
//     也就是只有用户确实看进了新增集数时才推进，站点集数抖动不会推进基线
func NextOriginalEpisodes(prev, next *model.PlayRecord) int {
	if prev == nil {
		return next.TotalEpisodes
	}

	baseline := prev.OriginalEpisodes
	if baseline == 0 {
		// 旧数据没有基线，第一次发现时回填
		baseline = prev.TotalEpisodes
	}

	if next.Index > baseline && next.TotalEpisodes > baseline && next.PlayTime > minWatchSeconds {
		return next.TotalEpisodes
	}

	// 其余情况基线保持不变，集数抖动不回退
	return baseline
}
