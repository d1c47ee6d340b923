package cache

import (
	"log"
	"sync"
)

// EventName 变更事件主题，固定枚举
type EventName string

const (
	EventPlayRecordsUpdated   EventName = "playRecordsUpdated"
	EventFavoritesUpdated     EventName = "favoritesUpdated"
	EventSearchHistoryUpdated EventName = "searchHistoryUpdated"
	EventSkipConfigsUpdated   EventName = "skipConfigsUpdated"
	EventUserStatsUpdated     EventName = "userStatsUpdated"
)

// Bus 进程内发布订阅
// 每次缓存变更（乐观写或对账后）同步派发完整集合给订阅者，
// 不排队：派发时没有订阅者则事件直接丢弃（缓存本身就是会话内的持久记录）
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[EventName]map[int]func(payload interface{})
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		listeners: make(map[EventName]map[int]func(payload interface{})),
	}
}

// Subscribe 订阅指定主题，返回退订函数
func (b *Bus) Subscribe(name EventName, fn func(payload interface{})) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listeners[name] == nil {
		b.listeners[name] = make(map[int]func(payload interface{}))
	}
	id := b.nextID
	b.nextID++
	b.listeners[name][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[name], id)
	}
}

// Publish 同步派发事件
// 单个订阅者 panic 不影响其他订阅者
func (b *Bus) Publish(name EventName, payload interface{}) {
	b.mu.RLock()
	fns := make([]func(payload interface{}), 0, len(b.listeners[name]))
	for _, fn := range b.listeners[name] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[EventBus] 订阅者处理 %s 事件时 panic: %v", name, r)
				}
			}()
			fn(payload)
		}()
	}
}
