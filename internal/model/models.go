package model

// PlayRecord 播放记录
// 以 (用户名, 存储键) 唯一标识，首次保存时创建，之后每次播放进度上报都会更新
type PlayRecord struct {
	Title            string `json:"title"`
	SourceName       string `json:"source_name"`
	Year             string `json:"year"`
	Cover            string `json:"cover"`
	Index            int    `json:"index"`          // 当前观看集数（从 1 开始）
	TotalEpisodes    int    `json:"total_episodes"` // 当前已知总集数
	OriginalEpisodes int    `json:"original_episodes,omitempty"`
	PlayTime         int    `json:"play_time"`  // 当前集播放进度（秒）
	TotalTime        int    `json:"total_time"` // 当前集总时长（秒）
	SaveTime         int64  `json:"save_time"`  // 保存时间（毫秒时间戳）
	SearchTitle      string `json:"search_title,omitempty"`
}

// Favorite 收藏
type Favorite struct {
	Title         string `json:"title"`
	SourceName    string `json:"source_name"`
	Year          string `json:"year"`
	Cover         string `json:"cover"`
	TotalEpisodes int    `json:"total_episodes"`
	SaveTime      int64  `json:"save_time"`
	SearchTitle   string `json:"search_title,omitempty"`
	Origin        string `json:"origin,omitempty"` // vod 或 live
}

// SkipSegment 跳过片段（片头/片尾）
type SkipSegment struct {
	Type            string  `json:"type"` // opening 或 ending
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	AutoSkip        bool    `json:"autoSkip"`
	AutoNextEpisode bool    `json:"autoNextEpisode"`
	Mode            string  `json:"mode,omitempty"` // absolute 或 remaining
	RemainingTime   float64 `json:"remainingTime,omitempty"`
}

// SkipConfig 跳过片头片尾配置，每个 (用户, 存储键) 一条，保存时整体替换
type SkipConfig struct {
	Source      string        `json:"source"`
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Segments    []SkipSegment `json:"segments"`
	UpdatedTime int64         `json:"updated_time"`
}

// SourceSite 资源站点配置
type SourceSite struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	API      string `json:"api"`
	Detail   string `json:"detail,omitempty"` // 详情页地址（部分站点 API 不含播放链接时使用）
	Disabled bool   `json:"disabled"`
}

// AdminConfig 站点管理配置，全站一条记录
type AdminConfig struct {
	SiteName     string       `json:"site_name"`
	Announcement string       `json:"announcement"`
	SourceSites  []SourceSite `json:"source_sites"`
	UpdatedTime  int64        `json:"updated_time"`
}

// UserPlayStat 用户观看统计（由播放记录实时聚合得出）
type UserPlayStat struct {
	Username          string       `json:"username"`
	TotalWatchTime    int64        `json:"totalWatchTime"` // 累计观看时长（秒）
	TotalPlays        int          `json:"totalPlays"`
	LastPlayTime      int64        `json:"lastPlayTime"`
	RecentRecords     []PlayRecord `json:"recentRecords"` // 最多 10 条，新的在前
	AvgWatchTime      float64      `json:"avgWatchTime"`
	MostWatchedSource string       `json:"mostWatchedSource"`
	TotalMovies       int          `json:"totalMovies"` // 按 (标题, 来源, 年份) 去重后的影片数
	FirstWatchDate    int64        `json:"firstWatchDate"`
	LastUpdateTime    int64        `json:"lastUpdateTime"`
}

// DailyStat 每日观看趋势（按 UTC 日期分桶）
type DailyStat struct {
	Date      string `json:"date"` // YYYY-MM-DD
	WatchTime int64  `json:"watchTime"`
	Plays     int    `json:"plays"`
}

// SourceStat 来源播放统计
type SourceStat struct {
	Source string `json:"source"`
	Plays  int    `json:"plays"`
}

// SiteStats 全站统计
type SiteStats struct {
	TotalUsers          int          `json:"totalUsers"`
	TotalWatchTime      int64        `json:"totalWatchTime"`
	TotalPlays          int          `json:"totalPlays"`
	AvgWatchTimePerUser float64      `json:"avgWatchTimePerUser"`
	DailyTrend          []DailyStat  `json:"dailyTrend"` // 最近 7 天
	TopSources          []SourceStat `json:"topSources"` // 按播放数前 5
	UpdatedTime         int64        `json:"updatedTime"`
}

// ContentDetail 内容详情（来自资源站点，更新检测只使用集数）
type ContentDetail struct {
	Title    string   `json:"title"`
	Poster   string   `json:"poster"`
	Year     string   `json:"year"`
	Episodes []string `json:"episodes"`
}
