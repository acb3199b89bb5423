// Package cache provides the default in-memory decoded-image cache.
package cache

import (
	"container/list"
	"image"
	"sync"

	"github.com/Skryldev/image-loader/core"
)

// Memory is a capacity-bounded in-memory core.Cache.  Least-recently-used
// entries are dropped when the capacity is exceeded.  Safe for concurrent
// use.
type Memory struct {
	mu       sync.Mutex
	capacity int
	entries  map[core.CacheKey]*list.Element
	order    *list.List // front = most recent
}

type entry struct {
	key core.CacheKey
	img image.Image
}

// NewMemory returns a cache holding at most capacity images.
func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity: capacity,
		entries:  make(map[core.CacheKey]*list.Element),
		order:    list.New(),
	}
}

func (m *Memory) Get(key core.CacheKey) (image.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(el)
	return el.Value.(*entry).img, true
}

func (m *Memory) Put(key core.CacheKey, img image.Image) {
	if m.capacity <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		el.Value.(*entry).img = img
		m.order.MoveToFront(el)
		return
	}
	m.entries[key] = m.order.PushFront(&entry{key: key, img: img})
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*entry).key)
	}
}

// Len returns the number of cached images.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
