package cache

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// entry is the stored envelope for both tiers. The disk tier persists it as
// one JSON file per hashed key.
type entry struct {
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Stats describes the current occupancy of both tiers.
type Stats struct {
	MemoryCount int   `json:"memory_count"`
	DiskCount   int   `json:"disk_count"`
	DiskBytes   int64 `json:"disk_bytes"`
}

// Cache is a two-tier key/value cache: a bounded in-memory map in front of a
// durable directory of per-entry files. Entries expire TTL after creation in
// both tiers. The cache is a performance layer only; disk failures degrade to
// memory-only caching and are logged as warnings.
type Cache struct {
	mu      sync.RWMutex
	memory  map[string]*entry
	dir     string
	itemCap int
	now     func() time.Time
}

// New creates a cache backed by dir with the given memory-tier item cap.
func New(dir string, itemCap int) (*Cache, error) {
	if itemCap <= 0 {
		return nil, fmt.Errorf("cache item cap must be > 0, got %d", itemCap)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		memory:  make(map[string]*entry),
		dir:     dir,
		itemCap: itemCap,
		now:     time.Now,
	}, nil
}

// Put stores value under key with the given TTL. Disk write failures are
// reported as warnings and leave the entry memory-only.
func (c *Cache) Put(key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	ent := &entry{
		Payload:   payload,
		CreatedAt: c.now(),
		TTL:       ttl,
	}

	data, err := json.Marshal(ent)
	if err != nil {
		log.Printf("Warning: failed to encode cache entry %s: %v", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory[key] = ent
	c.enforceCap()

	// The file write stays under the lock so a concurrent InvalidateAll or
	// SweepExpired cannot run between the memory insert and the file landing.
	if data != nil {
		if err := os.WriteFile(c.path(key), data, 0644); err != nil {
			log.Printf("Warning: failed to persist cache entry %s, keeping memory-only: %v", key, err)
		}
	}
	return nil
}

// Get looks key up in the memory tier, then the disk tier. A disk hit is
// promoted into memory before being returned. Expired entries are evicted
// from whichever tier held them and reported as a miss.
func (c *Cache) Get(key string, dest any) bool {
	now := c.now()

	c.mu.RLock()
	ent, ok := c.memory[key]
	c.mu.RUnlock()

	if ok {
		if ent.expired(now) {
			c.mu.Lock()
			delete(c.memory, key)
			os.Remove(c.path(key))
			c.mu.Unlock()
			return false
		}
		return c.decode(key, ent, dest)
	}

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: failed to read cache entry %s: %v", key, err)
		}
		return false
	}

	var diskEnt entry
	if err := json.Unmarshal(data, &diskEnt); err != nil {
		log.Printf("Warning: corrupt cache entry %s, removing: %v", key, err)
		os.Remove(c.path(key))
		return false
	}
	if diskEnt.expired(now) {
		os.Remove(c.path(key))
		return false
	}

	// Promote to the memory tier, then re-enforce its bound.
	c.mu.Lock()
	c.memory[key] = &diskEnt
	c.enforceCap()
	c.mu.Unlock()

	return c.decode(key, &diskEnt, dest)
}

func (c *Cache) decode(key string, ent *entry, dest any) bool {
	if err := json.Unmarshal(ent.Payload, dest); err != nil {
		log.Printf("Warning: failed to decode cache entry %s: %v", key, err)
		return false
	}
	return true
}

// InvalidateAll drops every entry from both tiers. Both wipes happen under
// the lock so an in-flight Put cannot land a file after the wipe.
func (c *Cache) InvalidateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory = make(map[string]*entry)

	files, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".json") {
			os.Remove(filepath.Join(c.dir, f.Name()))
		}
	}
	return nil
}

// SweepExpired removes expired entries from both tiers and returns how many
// disk entries were deleted.
func (c *Cache) SweepExpired() (int, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, ent := range c.memory {
		if ent.expired(now) {
			delete(c.memory, key)
		}
	}

	files, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	removed := 0
	for _, f := range files {
		if !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var ent entry
		if err := json.Unmarshal(data, &ent); err != nil || ent.expired(now) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Stats reports current occupancy of both tiers.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	memCount := len(c.memory)
	c.mu.RUnlock()

	stats := Stats{MemoryCount: memCount}

	files, err := os.ReadDir(c.dir)
	if err != nil {
		log.Printf("Warning: failed to read cache directory for stats: %v", err)
		return stats
	}
	for _, f := range files {
		if !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		stats.DiskCount++
		if info, err := f.Info(); err == nil {
			stats.DiskBytes += info.Size()
		}
	}
	return stats
}

// enforceCap evicts oldest-by-creation entries until the memory tier is at or
// under its item cap. Caller must hold the write lock.
func (c *Cache) enforceCap() {
	for len(c.memory) > c.itemCap {
		oldestKey := ""
		var oldest time.Time
		for key, ent := range c.memory {
			if oldestKey == "" || ent.CreatedAt.Before(oldest) {
				oldestKey = key
				oldest = ent.CreatedAt
			}
		}
		delete(c.memory, oldestKey)
	}
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
