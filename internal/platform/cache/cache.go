// Package cache stores short-lived JSON listing responses scoped per store.
//
// Two backends exist. Memory keeps entries in a map and invalidates a scope by
// deleting every key under its prefix. Redis keys entries by a per-scope version
// counter; Invalidate bumps the counter so stale entries simply age out.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Cache is the listing cache used by the public storefront.
type Cache interface {
	// Get decodes the cached value for scope/key into dst and reports a hit.
	Get(ctx context.Context, scope, key string, dst any) bool
	Set(ctx context.Context, scope, key string, value any)
	// Invalidate drops every entry belonging to scope.
	Invalidate(ctx context.Context, scope string)
}

// StoreScope names the scope holding one store's public listings.
func StoreScope(storeID string) string { return "store:" + storeID }

type memoryItem struct {
	payload []byte
	expires time.Time
}

// Memory is an in-process TTL cache.
type Memory struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, items: make(map[string]memoryItem), now: time.Now}
}

func (m *Memory) Get(_ context.Context, scope, key string, dst any) bool {
	m.mu.RLock()
	item, ok := m.items[memoryKey(scope, key)]
	m.mu.RUnlock()
	if !ok || m.now().After(item.expires) {
		return false
	}
	return json.Unmarshal(item.payload, dst) == nil
}

func (m *Memory) Set(_ context.Context, scope, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	m.mu.Lock()
	m.items[memoryKey(scope, key)] = memoryItem{payload: payload, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *Memory) Invalidate(_ context.Context, scope string) {
	if scope == "" {
		return
	}
	prefix := scope + "|"
	m.mu.Lock()
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	m.mu.Unlock()
}

func memoryKey(scope, key string) string {
	return scope + "|" + key
}

// Nop never hits.
type Nop struct{}

func (Nop) Get(context.Context, string, string, any) bool { return false }
func (Nop) Set(context.Context, string, string, any)      {}
func (Nop) Invalidate(context.Context, string)            {}
