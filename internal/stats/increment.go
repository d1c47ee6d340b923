package stats

import "time"

// IncrementConfig 观看时长增量计算的阈值
// 这些常数是经验值，正确性无法从原理推导，因此开放为配置
type IncrementConfig struct {
	FastForwardBound time.Duration // 进度差超过该值视为快进（默认 5 分钟）
	ReplayAllowance  time.Duration // 重新播放/快进时单次最多计入的时长（默认 60 秒）
	PauseThreshold   time.Duration // 进度不变但超过该时长视为暂停后恢复（默认 30 秒）
	Debounce         time.Duration // 该间隔内且进度不变的上报直接丢弃（默认 10 秒）
}

// DefaultIncrementConfig 返回默认阈值
func DefaultIncrementConfig() IncrementConfig {
	return IncrementConfig{
		FastForwardBound: 5 * time.Minute,
		ReplayAllowance:  60 * time.Second,
		PauseThreshold:   30 * time.Second,
		Debounce:         10 * time.Second,
	}
}

// ComputeIncrement 根据播放进度上报计算真实观看时长增量
// 累计观看时长加的是这个增量，而不是原始进度差，用来抵抗重复计数和拖进度条刷时长
//
// 规则：
//   - 距上次上报不足 10 秒且进度没变：丢弃（去抖）
//   - 进度前进且差值不超过 5 分钟：增量 = 差值
//   - 进度前进超过 5 分钟（大概率是快进）：增量封顶为真实流逝时间 + 60 秒
//   - 进度倒退：距上次上报超过 1 分钟视为重新观看，增量 = min(新进度, 60 秒)，
//     否则视为回看，不计增量
//   - 进度不变但流逝超过 30 秒（暂停后恢复）：最多计 60 秒
func (c IncrementConfig) ComputeIncrement(lastPos, newPos int, elapsed time.Duration) int {
	elapsedSec := int(elapsed.Seconds())
	allowanceSec := int(c.ReplayAllowance.Seconds())

	if newPos == lastPos {
		if elapsed < c.Debounce {
			return 0
		}
		if elapsed >= c.PauseThreshold {
			if elapsedSec < allowanceSec {
				return elapsedSec
			}
			return allowanceSec
		}
		return 0
	}

	if newPos > lastPos {
		delta := newPos - lastPos
		if delta <= int(c.FastForwardBound.Seconds()) {
			return delta
		}
		// 快进：不相信进度差，按真实流逝时间加少量余量封顶
		capped := elapsedSec + allowanceSec
		if delta < capped {
			return delta
		}
		return capped
	}

	// 进度倒退
	if elapsed >= time.Minute {
		// 重新从头观看
		if newPos < allowanceSec {
			return newPos
		}
		return allowanceSec
	}
	return 0
}
