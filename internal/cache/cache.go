package cache

import (
	"context"
	"crypto/sha1" //nolint:gosec // G505: sha1 for cache keys, not security
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"ollama2api/internal/core"
	"ollama2api/internal/util"
)

// LRUCache is a thread-safe LRU cache with expiration
type LRUCache struct {
	capacity int
	items    map[string]*CacheItem
	mu       sync.RWMutex
	head     *CacheItem
	tail     *CacheItem
	ctx      context.Context
	cancel   context.CancelFunc
}

// CacheItem represents an item in the cache with LRU links
type CacheItem struct {
	Value      any
	Expiration int64
	key        string
	prev       *CacheItem
	next       *CacheItem
}

// NewCache creates a new LRU Cache
func NewCache() *LRUCache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &LRUCache{
		capacity: core.CacheDefaultCapacity,
		items:    make(map[string]*CacheItem),
		ctx:      ctx,
		cancel:   cancel,
	}

	c.head = &CacheItem{}
	c.tail = &CacheItem{}
	c.head.next = c.tail
	c.tail.prev = c.head

	go c.startCleanupWorker()
	return c
}

func (c *LRUCache) startCleanupWorker() {
	ticker := time.NewTicker(core.CacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.ctx.Done():
			return
		}
	}
}

// Stop terminates the cache cleanup worker goroutine.
func (c *LRUCache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Set stores a value in the cache with the given TTL.
func (c *LRUCache) Set(key string, value any, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[key]; exists {
		item.Value = value
		item.Expiration = time.Now().Add(duration).UnixNano()
		c.moveToFront(item)
		return
	}

	item := &CacheItem{
		Value:      value,
		Expiration: time.Now().Add(duration).UnixNano(),
		key:        key,
	}

	c.addToFront(item)
	c.items[key] = item

	if len(c.items) > c.capacity {
		c.evict()
	}
}

// Get retrieves a value from the cache, returning false if not found or expired.
func (c *LRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}

	if time.Now().UnixNano() > item.Expiration {
		c.remove(item)
		delete(c.items, key)
		return nil, false
	}

	c.moveToFront(item)
	return item.Value, true
}

func (c *LRUCache) addToFront(item *CacheItem) {
	item.next = c.head.next
	item.prev = c.head
	c.head.next.prev = item
	c.head.next = item
}

func (c *LRUCache) moveToFront(item *CacheItem) {
	c.remove(item)
	c.addToFront(item)
}

func (c *LRUCache) remove(item *CacheItem) {
	item.prev.next = item.next
	item.next.prev = item.prev
}

func (c *LRUCache) evict() {
	if c.tail.prev == c.head {
		return
	}
	item := c.tail.prev
	c.remove(item)
	delete(c.items, item.key)
}

func (c *LRUCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for key, item := range c.items {
		if now > item.Expiration {
			c.remove(item)
			delete(c.items, key)
		}
	}
}

// Delete removes a single key.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found {
		c.remove(item)
		delete(c.items, key)
	}
}

// Len returns the number of stored entries, expired ones included until the next sweep.
func (c *LRUCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear clears all cache items
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[string]*CacheItem)
}

// CacheService holds the converted-message cache and the model list cache.
type CacheService struct {
	general *LRUCache
	models  *LRUCache
}

// NewCacheService creates a new CacheService.
func NewCacheService() *CacheService {
	return &CacheService{
		general: NewCache(),
		models:  NewCache(),
	}
}

// GetModelList returns a copy of the cached model list for key.
func (cs *CacheService) GetModelList(key string) (core.ModelList, bool) {
	cached, found := cs.models.Get(key)
	if !found {
		return core.ModelList{}, false
	}
	list, ok := cached.(core.ModelList)
	if !ok {
		return core.ModelList{}, false
	}
	return cloneModelList(list), true
}

// SetModelList caches the model list under key.
func (cs *CacheService) SetModelList(key string, list core.ModelList, duration time.Duration) {
	cs.models.Set(key, cloneModelList(list), duration)
}

// InvalidateModelList drops the cached list, e.g. after a pull added a model.
func (cs *CacheService) InvalidateModelList(key string) {
	cs.models.Delete(key)
}

func cloneModelList(list core.ModelList) core.ModelList {
	out := core.ModelList{Object: list.Object}
	if list.Data != nil {
		out.Data = append([]core.ModelInfo(nil), list.Data...)
	}
	return out
}

// Get retrieves a value from the general cache.
func (cs *CacheService) Get(key string) (any, bool) {
	return cs.general.Get(key)
}

// Set stores a value in the general cache.
func (cs *CacheService) Set(key string, value any, duration time.Duration) {
	cs.general.Set(key, value, duration)
}

// Stop terminates both cleanup workers.
func (cs *CacheService) Stop() {
	cs.general.Stop()
	cs.models.Stop()
}

// Close stops the cache service and releases resources.
func (cs *CacheService) Close() error {
	cs.Stop()
	return nil
}

// GenerateMessagesCacheKey creates a cache key from the chat messages, target model and API mode.
func GenerateMessagesCacheKey(messages []core.ChatMessage, model string, mode core.APIMode) string {
	h := sha1.New() //nolint:gosec // G401: sha1 for cache keys, not security
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	for _, msg := range messages {
		msgBytes, err := util.MarshalJSON(msg)
		if err != nil {
			h.Write([]byte(msg.Role))
			continue
		}
		h.Write(msgBytes)
	}
	return fmt.Sprintf("msg:%s:%s", core.CacheKeyVersion, hex.EncodeToString(h.Sum(nil)))
}

// GenerateModelsCacheKey creates the model list key for a backend base URL.
func GenerateModelsCacheKey(baseURL string) string {
	return fmt.Sprintf("models:%s:%s", core.CacheKeyVersion, baseURL)
}

// TruncateCacheKey safely truncates cache key for log display
func TruncateCacheKey(key string, maxLen int) string {
	if len(key) <= maxLen {
		return key
	}
	return key[:maxLen]
}
