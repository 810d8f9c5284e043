package source

import (
	"container/list"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultMaxEntries is the default maximum number of cached entries
	DefaultMaxEntries = 50

	// DefaultTTL is the default time-to-live for cached entries
	DefaultTTL = 24 * time.Hour

	// MetadataFile is the name of the cache metadata file
	MetadataFile = "cache.json"
)

// DefaultCacheDir returns the cache directory used when none is configured
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "kapply")
	}
	return filepath.Join(os.TempDir(), "kapply-cache")
}

// DiskCache is a persistent LRU cache with a TTL. Keys are hashed into file
// names, so any string is a valid key.
type DiskCache struct {
	mu         sync.Mutex
	dir        string
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	// lru holds *CacheEntry, most recently used first
	lru     *list.List
	entries map[string]*list.Element
	loaded  bool
}

// CacheEntry describes one cached value
type CacheEntry struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
	AccessedAt time.Time `json:"accessedAt"`
}

// CacheMetadata contains cache state persisted to disk
type CacheMetadata struct {
	Version string       `json:"version"`
	Entries []CacheEntry `json:"entries"`
}

// NewDiskCache creates a disk cache in dir. The directory is created on
// first write.
func NewDiskCache(dir string) *DiskCache {
	return NewDiskCacheWithConfig(dir, DefaultMaxEntries, DefaultTTL)
}

// NewDiskCacheWithConfig creates a disk cache with custom limits
func NewDiskCacheWithConfig(dir string, maxEntries int, ttl time.Duration) *DiskCache {
	if dir == "" {
		dir = DefaultCacheDir()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &DiskCache{
		dir:        dir,
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		lru:        list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Get returns the cached value for key
func (c *DiskCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	elem, ok := c.entries[key]
	if !ok {
		cacheMissesTotal.Inc()
		return nil, fmt.Errorf("cache miss: %s", key)
	}

	entry := elem.Value.(*CacheEntry)
	if c.expired(entry) {
		c.removeEntry(key)
		cacheMissesTotal.Inc()
		return nil, fmt.Errorf("cache entry expired: %s", key)
	}

	content, err := os.ReadFile(c.contentPath(key))
	if err != nil {
		c.removeEntry(key)
		cacheMissesTotal.Inc()
		return nil, fmt.Errorf("cache file missing: %s", key)
	}

	entry.AccessedAt = c.now()
	c.lru.MoveToFront(elem)
	cacheHitsTotal.Inc()
	return content, nil
}

// Set stores content under key, evicting the least recently used entries
// beyond the limit
func (c *DiskCache) Set(key string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", c.dir, err)
	}
	if err := os.WriteFile(c.contentPath(key), content, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := c.now()
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*CacheEntry)
		entry.Size = int64(len(content))
		entry.CreatedAt = now
		entry.AccessedAt = now
		c.lru.MoveToFront(elem)
	} else {
		c.entries[key] = c.lru.PushFront(&CacheEntry{
			Key:        key,
			Size:       int64(len(content)),
			CreatedAt:  now,
			AccessedAt: now,
		})
	}

	for c.lru.Len() > c.maxEntries {
		oldest := c.lru.Back().Value.(*CacheEntry)
		c.removeEntry(oldest.Key)
		cacheEvictionsTotal.Inc()
	}

	return c.saveMetadata()
}

// Size returns the number of entries in the cache
func (c *DiskCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()
	return c.lru.Len()
}

// Prune removes expired entries
func (c *DiskCache) Prune() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	removed := false
	for key, elem := range c.entries {
		if c.expired(elem.Value.(*CacheEntry)) {
			c.removeEntry(key)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return c.saveMetadata()
}

func (c *DiskCache) expired(entry *CacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(entry.CreatedAt) > c.ttl
}

// contentPath returns the file holding key's content
func (c *DiskCache) contentPath(key string) string {
	return filepath.Join(c.dir, strconv.FormatUint(xxhash.Sum64String(key), 16)+".json")
}

// removeEntry must be called with the lock held
func (c *DiskCache) removeEntry(key string) {
	if elem, ok := c.entries[key]; ok {
		c.lru.Remove(elem)
		delete(c.entries, key)
		_ = os.Remove(c.contentPath(key))
	}
}

// load reads the metadata file once. A missing or corrupt file is an empty
// cache.
func (c *DiskCache) load() {
	if c.loaded {
		return
	}
	c.loaded = true

	data, err := os.ReadFile(filepath.Join(c.dir, MetadataFile))
	if err != nil {
		return
	}
	var metadata CacheMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return
	}

	// Entries are stored most recent first
	for i := range metadata.Entries {
		entry := metadata.Entries[i]
		if c.expired(&entry) {
			_ = os.Remove(c.contentPath(entry.Key))
			continue
		}
		if _, err := os.Stat(c.contentPath(entry.Key)); err != nil {
			continue
		}
		c.entries[entry.Key] = c.lru.PushBack(&entry)
	}
}

// saveMetadata must be called with the lock held
func (c *DiskCache) saveMetadata() error {
	metadata := CacheMetadata{Version: "v1", Entries: make([]CacheEntry, 0, c.lru.Len())}
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		metadata.Entries = append(metadata.Entries, *elem.Value.(*CacheEntry))
	}

	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	path := filepath.Join(c.dir, MetadataFile)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename metadata: %w", err)
	}
	return nil
}
