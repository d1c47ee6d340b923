package cache

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/user/startv/internal/model"
	"github.com/user/startv/internal/storage"
	"github.com/user/startv/internal/update"
)

// 集合名，用于拼接缓存键和选择事件主题
const (
	collPlayRecords   = "play_records"
	collFavorites     = "favorites"
	collSearchHistory = "search_history"
	collSkipConfigs   = "skip_configs"
)

// CurrentVersion 缓存条目格式版本，结构变更时递增使旧条目全部失效
const CurrentVersion = 1

// Config 缓存管理器配置
type Config struct {
	Expiry   time.Duration // 条目有效期，默认 1 小时
	MaxBytes int           // 序列化总大小软上限，默认 15MB
	EvictAge time.Duration // 超限时先淘汰超过该年龄的条目，默认 60 天
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Expiry:   time.Hour,
		MaxBytes: 15 * 1024 * 1024,
		EvictAge: 60 * 24 * time.Hour,
	}
}

// entry 缓存条目：数据 + 写入时间 + 格式版本
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // 毫秒时间戳
	Version   int             `json:"version"`
}

// Manager 客户端缓存管理器
// 对上层提供与部署模式无关的集合 API：
//   - 远程模式：读走缓存（命中后后台校对），写先更新缓存并发事件，再异步持久化，
//     持久化失败触发对账（丢弃乐观值，重新拉取权威数据并重发事件）
//   - 本地模式（direct=true）：直接读写存储，跳过缓存层
type Manager struct {
	store   storage.Storage
	bus     *Bus
	cfg     Config
	direct  bool
	entries *gocache.Cache

	mu        sync.Mutex
	sizes     map[string]int // 缓存键 -> 序列化大小
	totalSize int

	// OnPlayRecordChange 播放记录变更钩子，统计聚合器挂在这里做全站缓存失效
	OnPlayRecordChange func(username string)
}

// NewManager 创建缓存管理器
// direct 为 true 时为本地模式，所有操作直通存储
func NewManager(store storage.Storage, bus *Bus, cfg Config, direct bool) *Manager {
	if cfg.Expiry == 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		store:   store,
		bus:     bus,
		cfg:     cfg,
		direct:  direct,
		entries: gocache.New(gocache.NoExpiration, 10*time.Minute),
		sizes:   make(map[string]int),
	}
}

// Bus 返回事件总线，供消费者订阅
func (m *Manager) Bus() *Bus { return m.bus }

// entryKey 缓存键按用户隔离，切换账号不会读到别人的缓存
func entryKey(username, collection string) string {
	return "startv_" + username + "_" + collection
}

// getEntry 读取并校验缓存条目，版本不符、超期、数据损坏都按未命中处理
func (m *Manager) getEntry(username, collection string, target interface{}) bool {
	raw, ok := m.entries.Get(entryKey(username, collection))
	if !ok {
		return false
	}
	e, ok := raw.(entry)
	if !ok {
		m.dropEntry(username, collection)
		return false
	}
	if e.Version != CurrentVersion {
		m.dropEntry(username, collection)
		return false
	}
	if time.Since(time.UnixMilli(e.Timestamp)) > m.cfg.Expiry {
		m.dropEntry(username, collection)
		return false
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		// 损坏条目按未命中处理，丢弃后走权威拉取
		log.Printf("[Cache] %s/%s 缓存条目损坏，已丢弃: %v", username, collection, err)
		m.dropEntry(username, collection)
		return false
	}
	return true
}

// setEntry 写入缓存条目并维护大小账本，超限时触发淘汰
func (m *Manager) setEntry(username, collection string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[Cache] %s/%s 序列化失败: %v", username, collection, err)
		return
	}
	e := entry{Data: data, Timestamp: time.Now().UnixMilli(), Version: CurrentVersion}
	key := entryKey(username, collection)

	m.mu.Lock()
	size := len(data)
	m.totalSize += size - m.sizes[key]
	m.sizes[key] = size
	over := m.totalSize > m.cfg.MaxBytes
	m.mu.Unlock()

	m.entries.Set(key, e, gocache.NoExpiration)

	if over {
		m.evict()
	}
}

// dropEntry 删除缓存条目并同步大小账本
func (m *Manager) dropEntry(username, collection string) {
	key := entryKey(username, collection)
	m.mu.Lock()
	m.totalSize -= m.sizes[key]
	delete(m.sizes, key)
	m.mu.Unlock()
	m.entries.Delete(key)
}

// evict 存储压力处理：先淘汰超过 EvictAge 的条目（最旧优先），
// 仍然超限则不分年龄全局按最旧淘汰。总大小是跨用户的，
// 淘汰也必须跨用户，否则一个用户的写入会反复清自己的缓存却解不了压
func (m *Manager) evict() {
	type aged struct {
		key string
		ts  int64
	}
	var candidates []aged
	for key, item := range m.entries.Items() {
		if e, ok := item.Object.(entry); ok {
			candidates = append(candidates, aged{key, e.Timestamp})
		}
	}
	// 最旧的先删
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ts < candidates[j].ts })

	m.mu.Lock()
	defer m.mu.Unlock()

	// 第一轮只动超龄条目
	for _, c := range candidates {
		if m.totalSize <= m.cfg.MaxBytes {
			return
		}
		if time.Since(time.UnixMilli(c.ts)) <= m.cfg.EvictAge {
			continue
		}
		m.totalSize -= m.sizes[c.key]
		delete(m.sizes, c.key)
		m.entries.Delete(c.key)
	}
	if m.totalSize <= m.cfg.MaxBytes {
		return
	}

	// 第二轮从最旧开始继续淘汰，直到降回上限以内
	log.Printf("[Cache] 超龄淘汰后仍超限，按写入时间全局淘汰")
	for _, c := range candidates {
		if m.totalSize <= m.cfg.MaxBytes {
			return
		}
		if _, ok := m.sizes[c.key]; !ok {
			continue
		}
		m.totalSize -= m.sizes[c.key]
		delete(m.sizes, c.key)
		m.entries.Delete(c.key)
	}
}

// PurgeUser 清空某个用户的全部缓存条目
func (m *Manager) PurgeUser(username string) {
	for _, coll := range []string{collPlayRecords, collFavorites, collSearchHistory, collSkipConfigs} {
		m.dropEntry(username, coll)
	}
}

// eventFor 集合到事件主题的映射
func eventFor(collection string) EventName {
	switch collection {
	case collPlayRecords:
		return EventPlayRecordsUpdated
	case collFavorites:
		return EventFavoritesUpdated
	case collSearchHistory:
		return EventSearchHistoryUpdated
	default:
		return EventSkipConfigsUpdated
	}
}

// readCollection 读协议：
//  1. 缓存命中且有效：同步返回缓存值，同时后台拉取权威数据校对
//  2. 未命中：同步拉取、填充缓存后返回
func readCollection[T any](m *Manager, ctx context.Context, username, collection string,
	fetch func(context.Context) (T, error)) (T, error) {

	var cached T
	if m.getEntry(username, collection, &cached) {
		go m.refresh(username, collection, fetch)
		return cached, nil
	}

	fresh, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	m.setEntry(username, collection, fresh)
	return fresh, nil
}

// refresh 后台校对：权威数据与缓存逐字节不一致时覆盖缓存并重发事件
func (m *Manager) refresh(username, collection string, fetch interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var fresh interface{}
	var err error
	switch fn := fetch.(type) {
	case func(context.Context) (map[string]*model.PlayRecord, error):
		fresh, err = fn(ctx)
	case func(context.Context) (map[string]*model.Favorite, error):
		fresh, err = fn(ctx)
	case func(context.Context) ([]string, error):
		fresh, err = fn(ctx)
	case func(context.Context) (map[string]*model.SkipConfig, error):
		fresh, err = fn(ctx)
	default:
		return
	}
	if err != nil {
		log.Printf("[Cache] %s/%s 后台校对拉取失败: %v", username, collection, err)
		return
	}

	freshData, err := json.Marshal(fresh)
	if err != nil {
		return
	}
	if raw, ok := m.entries.Get(entryKey(username, collection)); ok {
		if e, ok := raw.(entry); ok && string(e.Data) == string(freshData) {
			return
		}
	}
	m.setEntry(username, collection, fresh)
	m.bus.Publish(eventFor(collection), fresh)
}

// mutateCollection 写协议（乐观更新）：
//  1. 先改缓存中的集合并立刻发事件（网络调用之前）
//  2. 异步调用存储接口持久化
//  3. 持久化失败触发对账：丢弃乐观值，重新拉取权威集合覆盖缓存并重发事件，
//     保证 UI 不会永久偏离后端，代价是失败时可见的"回弹"
func mutateCollection[T any](m *Manager, ctx context.Context, username, collection string,
	apply func(T) T, empty T,
	persist func(context.Context) error,
	fetch func(context.Context) (T, error)) error {

	var current T
	if !m.getEntry(username, collection, &current) {
		// 缓存未命中时先取权威数据再应用变更，保证乐观值基于最新集合
		fresh, err := fetch(ctx)
		if err != nil {
			// 权威数据也拿不到，直接在空集合上应用
			fresh = empty
		}
		current = fresh
	}

	next := apply(current)
	m.setEntry(username, collection, next)
	m.bus.Publish(eventFor(collection), next)

	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := persist(pctx); err != nil {
			log.Printf("[Cache] %s/%s 持久化失败，触发对账: %v", username, collection, err)
			m.reconcile(username, collection, fetch)
		}
	}()
	return nil
}

// reconcile 对账：重新拉取权威集合，覆盖缓存并重发事件
func (m *Manager) reconcile(username, collection string, fetch interface{}) {
	m.dropEntry(username, collection)
	m.refresh(username, collection, fetch)
}

// ==================== 播放记录 ====================

// GetAllPlayRecords 获取用户全部播放记录
// 未登录（用户名为空）返回空集合，不报错
func (m *Manager) GetAllPlayRecords(ctx context.Context, username string) (map[string]*model.PlayRecord, error) {
	if username == "" {
		return map[string]*model.PlayRecord{}, nil
	}
	if m.direct {
		return m.store.GetAllPlayRecords(ctx, username)
	}
	return readCollection(m, ctx, username, collPlayRecords, func(ctx context.Context) (map[string]*model.PlayRecord, error) {
		return m.store.GetAllPlayRecords(ctx, username)
	})
}

// SavePlayRecord 保存播放记录
// 基线策略在这里统一应用：首次保存记下 original_episodes，
// 之后只有用户确实看进新增集数时才推进（见 update.NextOriginalEpisodes）
func (m *Manager) SavePlayRecord(ctx context.Context, username, key string, record *model.PlayRecord) error {
	if username == "" {
		return nil
	}
	record.SaveTime = time.Now().UnixMilli()

	if m.direct {
		if err := m.applyBaseline(ctx, username, key, record, nil); err != nil {
			return err
		}
		if err := m.store.SetPlayRecord(ctx, username, key, record); err != nil {
			return err
		}
		m.notifyPlayRecordChange(username)
		return nil
	}

	err := mutateCollection(m, ctx, username, collPlayRecords,
		func(records map[string]*model.PlayRecord) map[string]*model.PlayRecord {
			_ = m.applyBaseline(ctx, username, key, record, records)
			records[key] = record
			return records
		},
		map[string]*model.PlayRecord{},
		func(ctx context.Context) error {
			return m.store.SetPlayRecord(ctx, username, key, record)
		},
		func(ctx context.Context) (map[string]*model.PlayRecord, error) {
			return m.store.GetAllPlayRecords(ctx, username)
		})
	if err != nil {
		return err
	}
	m.notifyPlayRecordChange(username)
	return nil
}

// applyBaseline 应用 original_episodes 基线策略
// cached 不为 nil 时直接用缓存中的旧记录，避免一次多余的读
func (m *Manager) applyBaseline(ctx context.Context, username, key string, record *model.PlayRecord, cached map[string]*model.PlayRecord) error {
	var prev *model.PlayRecord
	if cached != nil {
		prev = cached[key]
	} else {
		old, err := m.store.GetPlayRecord(ctx, username, key)
		if err != nil && !storage.IsConnError(err) && storage.KindOf(err) != storage.KindNotFound {
			return err
		}
		prev = old
	}
	record.OriginalEpisodes = update.NextOriginalEpisodes(prev, record)
	return nil
}

// DeletePlayRecord 删除单条播放记录
func (m *Manager) DeletePlayRecord(ctx context.Context, username, key string) error {
	if username == "" {
		return nil
	}
	if m.direct {
		if err := m.store.DeletePlayRecord(ctx, username, key); err != nil {
			return err
		}
		m.notifyPlayRecordChange(username)
		return nil
	}
	err := mutateCollection(m, ctx, username, collPlayRecords,
		func(records map[string]*model.PlayRecord) map[string]*model.PlayRecord {
			delete(records, key)
			return records
		},
		map[string]*model.PlayRecord{},
		func(ctx context.Context) error {
			return m.store.DeletePlayRecord(ctx, username, key)
		},
		func(ctx context.Context) (map[string]*model.PlayRecord, error) {
			return m.store.GetAllPlayRecords(ctx, username)
		})
	if err != nil {
		return err
	}
	m.notifyPlayRecordChange(username)
	return nil
}

// ClearAllPlayRecords 清空用户全部播放记录
func (m *Manager) ClearAllPlayRecords(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}
	records, err := m.store.GetAllPlayRecords(ctx, username)
	if err != nil {
		return err
	}
	for key := range records {
		if err := m.store.DeletePlayRecord(ctx, username, key); err != nil {
			return err
		}
	}
	if !m.direct {
		m.setEntry(username, collPlayRecords, map[string]*model.PlayRecord{})
		m.bus.Publish(EventPlayRecordsUpdated, map[string]*model.PlayRecord{})
	}
	m.notifyPlayRecordChange(username)
	return nil
}

func (m *Manager) notifyPlayRecordChange(username string) {
	if m.OnPlayRecordChange != nil {
		m.OnPlayRecordChange(username)
	}
}

// ==================== 收藏 ====================

// GetAllFavorites 获取用户全部收藏
func (m *Manager) GetAllFavorites(ctx context.Context, username string) (map[string]*model.Favorite, error) {
	if username == "" {
		return map[string]*model.Favorite{}, nil
	}
	if m.direct {
		return m.store.GetAllFavorites(ctx, username)
	}
	return readCollection(m, ctx, username, collFavorites, func(ctx context.Context) (map[string]*model.Favorite, error) {
		return m.store.GetAllFavorites(ctx, username)
	})
}

// SaveFavorite 添加收藏
func (m *Manager) SaveFavorite(ctx context.Context, username, key string, fav *model.Favorite) error {
	if username == "" {
		return nil
	}
	fav.SaveTime = time.Now().UnixMilli()
	if m.direct {
		return m.store.SetFavorite(ctx, username, key, fav)
	}
	return mutateCollection(m, ctx, username, collFavorites,
		func(favs map[string]*model.Favorite) map[string]*model.Favorite {
			favs[key] = fav
			return favs
		},
		map[string]*model.Favorite{},
		func(ctx context.Context) error {
			return m.store.SetFavorite(ctx, username, key, fav)
		},
		func(ctx context.Context) (map[string]*model.Favorite, error) {
			return m.store.GetAllFavorites(ctx, username)
		})
}

// DeleteFavorite 取消收藏
func (m *Manager) DeleteFavorite(ctx context.Context, username, key string) error {
	if username == "" {
		return nil
	}
	if m.direct {
		return m.store.DeleteFavorite(ctx, username, key)
	}
	return mutateCollection(m, ctx, username, collFavorites,
		func(favs map[string]*model.Favorite) map[string]*model.Favorite {
			delete(favs, key)
			return favs
		},
		map[string]*model.Favorite{},
		func(ctx context.Context) error {
			return m.store.DeleteFavorite(ctx, username, key)
		},
		func(ctx context.Context) (map[string]*model.Favorite, error) {
			return m.store.GetAllFavorites(ctx, username)
		})
}

// ClearAllFavorites 清空用户全部收藏
func (m *Manager) ClearAllFavorites(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}
	favs, err := m.store.GetAllFavorites(ctx, username)
	if err != nil {
		return err
	}
	for key := range favs {
		if err := m.store.DeleteFavorite(ctx, username, key); err != nil {
			return err
		}
	}
	if !m.direct {
		m.setEntry(username, collFavorites, map[string]*model.Favorite{})
		m.bus.Publish(EventFavoritesUpdated, map[string]*model.Favorite{})
	}
	return nil
}

// ==================== 搜索历史 ====================

// GetSearchHistory 获取搜索历史，新的在前
func (m *Manager) GetSearchHistory(ctx context.Context, username string) ([]string, error) {
	if username == "" {
		return []string{}, nil
	}
	if m.direct {
		return m.store.GetSearchHistory(ctx, username)
	}
	return readCollection(m, ctx, username, collSearchHistory, func(ctx context.Context) ([]string, error) {
		return m.store.GetSearchHistory(ctx, username)
	})
}

// AddSearchHistory 添加搜索关键词：去重、置顶、最多 20 条
func (m *Manager) AddSearchHistory(ctx context.Context, username, keyword string) error {
	if username == "" || keyword == "" {
		return nil
	}
	if m.direct {
		return m.store.AddSearchHistory(ctx, username, keyword)
	}
	return mutateCollection(m, ctx, username, collSearchHistory,
		func(history []string) []string {
			return storage.PrependKeyword(history, keyword)
		},
		[]string{},
		func(ctx context.Context) error {
			return m.store.AddSearchHistory(ctx, username, keyword)
		},
		func(ctx context.Context) ([]string, error) {
			return m.store.GetSearchHistory(ctx, username)
		})
}

// DeleteSearchHistory 删除单个关键词
func (m *Manager) DeleteSearchHistory(ctx context.Context, username, keyword string) error {
	if username == "" {
		return nil
	}
	if m.direct {
		return m.store.DeleteSearchHistory(ctx, username, keyword)
	}
	return mutateCollection(m, ctx, username, collSearchHistory,
		func(history []string) []string {
			next := make([]string, 0, len(history))
			for _, k := range history {
				if k != keyword {
					next = append(next, k)
				}
			}
			return next
		},
		[]string{},
		func(ctx context.Context) error {
			return m.store.DeleteSearchHistory(ctx, username, keyword)
		},
		func(ctx context.Context) ([]string, error) {
			return m.store.GetSearchHistory(ctx, username)
		})
}

// ClearSearchHistory 清空搜索历史
func (m *Manager) ClearSearchHistory(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}
	if m.direct {
		return m.store.ClearSearchHistory(ctx, username)
	}
	return mutateCollection(m, ctx, username, collSearchHistory,
		func([]string) []string { return []string{} },
		[]string{},
		func(ctx context.Context) error {
			return m.store.ClearSearchHistory(ctx, username)
		},
		func(ctx context.Context) ([]string, error) {
			return m.store.GetSearchHistory(ctx, username)
		})
}

// ==================== 跳过配置 ====================

// GetAllSkipConfigs 获取用户全部跳过配置
func (m *Manager) GetAllSkipConfigs(ctx context.Context, username string) (map[string]*model.SkipConfig, error) {
	if username == "" {
		return map[string]*model.SkipConfig{}, nil
	}
	if m.direct {
		return m.store.GetAllSkipConfigs(ctx, username)
	}
	return readCollection(m, ctx, username, collSkipConfigs, func(ctx context.Context) (map[string]*model.SkipConfig, error) {
		return m.store.GetAllSkipConfigs(ctx, username)
	})
}

// GetSkipConfig 获取单条跳过配置，不存在返回 nil
func (m *Manager) GetSkipConfig(ctx context.Context, username, key string) (*model.SkipConfig, error) {
	configs, err := m.GetAllSkipConfigs(ctx, username)
	if err != nil {
		return nil, err
	}
	return configs[key], nil
}

// SaveSkipConfig 保存跳过配置，片段列表整体替换
func (m *Manager) SaveSkipConfig(ctx context.Context, username, key string, cfg *model.SkipConfig) error {
	if username == "" {
		return nil
	}
	cfg.UpdatedTime = time.Now().UnixMilli()
	if m.direct {
		return m.store.SetSkipConfig(ctx, username, key, cfg)
	}
	return mutateCollection(m, ctx, username, collSkipConfigs,
		func(configs map[string]*model.SkipConfig) map[string]*model.SkipConfig {
			configs[key] = cfg
			return configs
		},
		map[string]*model.SkipConfig{},
		func(ctx context.Context) error {
			return m.store.SetSkipConfig(ctx, username, key, cfg)
		},
		func(ctx context.Context) (map[string]*model.SkipConfig, error) {
			return m.store.GetAllSkipConfigs(ctx, username)
		})
}

// DeleteSkipConfig 删除跳过配置
func (m *Manager) DeleteSkipConfig(ctx context.Context, username, key string) error {
	if username == "" {
		return nil
	}
	if m.direct {
		return m.store.DeleteSkipConfig(ctx, username, key)
	}
	return mutateCollection(m, ctx, username, collSkipConfigs,
		func(configs map[string]*model.SkipConfig) map[string]*model.SkipConfig {
			delete(configs, key)
			return configs
		},
		map[string]*model.SkipConfig{},
		func(ctx context.Context) error {
			return m.store.DeleteSkipConfig(ctx, username, key)
		},
		func(ctx context.Context) (map[string]*model.SkipConfig, error) {
			return m.store.GetAllSkipConfigs(ctx, username)
		})
}
