package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process LRU cache with per-entry TTL. It is the
// default when no Redis address is configured.
type Memory struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	lru     *list.List

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	started     bool
	stopOnce    sync.Once
}

type memoryItem struct {
	key       string
	data      []byte
	expiresAt time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a memory cache holding at most maxSize entries.
func NewMemory(maxSize int) *Memory {
	return &Memory{
		maxSize:     maxSize,
		items:       make(map[string]*list.Element),
		lru:         list.New(),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, exists := m.items[key]
	if !exists {
		return nil, false, nil
	}
	item := elem.Value.(*memoryItem)
	if time.Now().After(item.expiresAt) {
		m.removeElement(elem)
		return nil, false, nil
	}
	m.lru.MoveToFront(elem)
	return item.data, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &memoryItem{key: key, data: value, expiresAt: time.Now().Add(ttl)}
	if elem, exists := m.items[key]; exists {
		elem.Value = item
		m.lru.MoveToFront(elem)
		return nil
	}

	m.items[key] = m.lru.PushFront(item)
	if m.lru.Len() > m.maxSize {
		if oldest := m.lru.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if elem, exists := m.items[key]; exists {
			m.removeElement(elem)
		}
	}
	return nil
}

// Size returns the current entry count.
func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

func (m *Memory) removeElement(elem *list.Element) {
	item := elem.Value.(*memoryItem)
	delete(m.items, item.key)
	m.lru.Remove(elem)
}

// CleanExpired removes expired entries and returns how many went.
func (m *Memory) CleanExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element
	for elem := m.lru.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*memoryItem).expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		m.removeElement(elem)
	}
	return len(toRemove)
}

// StartCleanup sweeps expired entries on the given interval until Stop
// is called.
func (m *Memory) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	go func() {
		defer close(m.cleanupDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanExpired()
			case <-m.stopCleanup:
				return
			}
		}
	}()
}

// Stop halts the cleanup goroutine. Safe to call more than once, with
// or without a prior StartCleanup.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.cleanupDone
		}
	})
}
