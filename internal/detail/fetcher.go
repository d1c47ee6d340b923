package detail

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/startv/internal/model"
	"github.com/user/startv/internal/utils"
	"golang.org/x/sync/singleflight"
)

// SiteResolver 根据来源标识查找资源站点配置（通常来自管理配置）
type SiteResolver func(ctx context.Context, source string) (*model.SourceSite, error)

// Fetcher 内容详情拉取器
// 对接苹果 CMS 风格的资源站点 API；部分站点的 API 不返回播放列表，
// 此时回退到抓取详情页 HTML 解析剧集列表
type Fetcher struct {
	client  *utils.HTTPClient
	resolve SiteResolver
	sf      singleflight.Group
}

// NewFetcher 创建详情拉取器
func NewFetcher(client *utils.HTTPClient, resolve SiteResolver) *Fetcher {
	return &Fetcher{client: client, resolve: resolve}
}

// vodApiResponse 资源站点API响应结构
type vodApiResponse struct {
	Code interface{} `json:"code"`
	Msg  string      `json:"msg"`
	List []struct {
		VodID      interface{} `json:"vod_id"`
		VodName    string      `json:"vod_name"`
		VodPic     string      `json:"vod_pic"`
		VodYear    string      `json:"vod_year"`
		VodPlayURL string      `json:"vod_play_url"`
	} `json:"list"`
}

// FetchDetail 拉取内容详情
// 并发的相同请求合并成一次（singleflight），但结果不做缓存：
// 更新检测要求每次都拿到最新集数
func (f *Fetcher) FetchDetail(ctx context.Context, source, id string) (*model.ContentDetail, error) {
	key := source + "+" + id
	result, err, _ := f.sf.Do(key, func() (interface{}, error) {
		return f.fetchDetail(ctx, source, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.ContentDetail), nil
}

// FetchEpisodeCount 只返回最新集数，更新检测引擎用
func (f *Fetcher) FetchEpisodeCount(ctx context.Context, source, id string) (int, error) {
	detail, err := f.FetchDetail(ctx, source, id)
	if err != nil {
		return 0, err
	}
	return len(detail.Episodes), nil
}

func (f *Fetcher) fetchDetail(ctx context.Context, source, id string) (*model.ContentDetail, error) {
	site, err := f.resolve(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("查找资源站点 %s 失败: %w", source, err)
	}
	if site == nil || site.Disabled {
		return nil, fmt.Errorf("资源站点 %s 不存在或已禁用", source)
	}

	apiURL := fmt.Sprintf("%s?ac=videolist&ids=%s", site.API, id)
	var apiResp vodApiResponse
	if err := f.client.GetJSON(ctx, apiURL, &apiResp); err != nil {
		return nil, fmt.Errorf("请求资源站点 %s 失败: %w", source, err)
	}
	if len(apiResp.List) == 0 {
		return nil, fmt.Errorf("资源站点 %s 没有返回 %s 的详情", source, id)
	}

	item := apiResp.List[0]
	detail := &model.ContentDetail{
		Title:    item.VodName,
		Poster:   item.VodPic,
		Year:     item.VodYear,
		Episodes: parsePlayURL(item.VodPlayURL),
	}

	// API 没给播放列表时回退到详情页抓取
	if len(detail.Episodes) == 0 && site.Detail != "" {
		episodes, err := f.scrapeEpisodes(ctx, site.Detail, id)
		if err != nil {
			return nil, fmt.Errorf("抓取详情页失败: %w", err)
		}
		detail.Episodes = episodes
	}

	return detail, nil
}

// parsePlayURL 解析苹果 CMS 的播放地址字段
// 多条线路用 $$$ 分隔，每条线路内剧集用 # 分隔，每集格式为 名称$地址
func parsePlayURL(raw string) []string {
	if raw == "" {
		return nil
	}
	// 只取第一条线路
	line := raw
	if idx := strings.Index(raw, "$$$"); idx >= 0 {
		line = raw[:idx]
	}

	var episodes []string
	for _, part := range strings.Split(line, "#") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// 名称$地址，有些站只给地址
		url := part
		if idx := strings.Index(part, "$"); idx >= 0 {
			url = part[idx+1:]
		}
		if strings.HasPrefix(url, "http") {
			episodes = append(episodes, url)
		}
	}
	return episodes
}

// scrapeEpisodes 从详情页 HTML 解析剧集播放地址
func (f *Fetcher) scrapeEpisodes(ctx context.Context, detailBase, id string) ([]string, error) {
	pageURL := fmt.Sprintf("%s/index.php/vod/detail/id/%s.html", strings.TrimRight(detailBase, "/"), id)
	resp, err := f.client.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("详情页返回状态码: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("解析详情页失败: %w", err)
	}

	var episodes []string
	doc.Find(".module-play-list a, .playlist a, ul.stui-content__playlist a").Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		// 站内播放页链接没有用，只收 m3u8 直链
		if strings.Contains(href, ".m3u8") {
			episodes = append(episodes, href)
		}
	})
	return episodes, nil
}
