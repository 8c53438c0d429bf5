package api

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gogotex/texfabric/pkg/logger"
)

// Cache expiry/size bounds for the per-project compile cache, carried over
// from the retrieved octree-compile example's CompilationCache constants.
const (
	projectCacheExpiration = 30 * time.Minute
	maxCachedProjects      = 64
	projectCleanupInterval = 5 * time.Minute
)

// projectCacheEntry remembers the last successful compile for a project so
// a resubmission of unchanged source short-circuits straight to the cached
// PDF instead of re-entering the compile queue.
type projectCacheEntry struct {
	contentHash    string
	pdf            []byte
	sha256Hex      string
	lastAccessTime time.Time
	mu             sync.Mutex
}

// projectCache serializes concurrent compiles of the same project (via
// LockProject/UnlockProject) and caches the last result keyed by a hash of
// the submitted source, adapted from octree-compile's internal.
// CompilationCache (LockProject/UnlockProject/Get/Set/evictOldestLocked).
type projectCache struct {
	entries map[string]*projectCacheEntry
	locks   map[string]*sync.Mutex
	mu      sync.RWMutex
}

func newProjectCache() *projectCache {
	c := &projectCache{
		entries: make(map[string]*projectCacheEntry),
		locks:   make(map[string]*sync.Mutex),
	}
	go c.cleanupLoop()
	return c
}

func contentHash(source, engine string) string {
	h := sha256.New()
	h.Write([]byte(engine))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// LockProject serializes compiles for the same projectID; a no-op for the
// empty project ID, which callers use to mean "no project scoping."
func (c *projectCache) LockProject(projectID string) {
	if projectID == "" {
		return
	}
	c.mu.Lock()
	lock, exists := c.locks[projectID]
	if !exists {
		lock = &sync.Mutex{}
		c.locks[projectID] = lock
	}
	c.mu.Unlock()
	lock.Lock()
}

// UnlockProject releases the lock acquired by LockProject.
func (c *projectCache) UnlockProject(projectID string) {
	if projectID == "" {
		return
	}
	c.mu.RLock()
	lock, exists := c.locks[projectID]
	c.mu.RUnlock()
	if exists {
		lock.Unlock()
	}
}

// lookup returns a cached PDF for projectID if its content hash matches
// the one most recently compiled.
func (c *projectCache) lookup(projectID, hash string) (pdf []byte, sha256Hex string, ok bool) {
	if projectID == "" {
		return nil, "", false
	}
	c.mu.RLock()
	entry, exists := c.entries[projectID]
	c.mu.RUnlock()
	if !exists {
		return nil, "", false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.contentHash != hash {
		return nil, "", false
	}
	entry.lastAccessTime = time.Now()
	return entry.pdf, entry.sha256Hex, true
}

// store records projectID's latest successful compile result.
func (c *projectCache) store(projectID, hash string, pdf []byte, sha256Hex string) {
	if projectID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[projectID]; !exists && len(c.entries) >= maxCachedProjects {
		c.evictOldestLocked()
	}
	c.entries[projectID] = &projectCacheEntry{
		contentHash:    hash,
		pdf:            pdf,
		sha256Hex:      sha256Hex,
		lastAccessTime: time.Now(),
	}
}

// evictOldestLocked removes the least-recently-used entry. c.mu must be
// held for writing.
func (c *projectCache) evictOldestLocked() {
	var oldestID string
	var oldestTime time.Time
	for id, entry := range c.entries {
		entry.mu.Lock()
		t := entry.lastAccessTime
		entry.mu.Unlock()
		if oldestID == "" || t.Before(oldestTime) {
			oldestID, oldestTime = id, t
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
		delete(c.locks, oldestID)
	}
}

func (c *projectCache) cleanupLoop() {
	ticker := time.NewTicker(projectCleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.cleanup()
	}
}

func (c *projectCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []string
	for id, entry := range c.entries {
		entry.mu.Lock()
		last := entry.lastAccessTime
		entry.mu.Unlock()
		if now.Sub(last) > projectCacheExpiration {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(c.entries, id)
		delete(c.locks, id)
	}
	if len(expired) > 0 {
		logger.Debugf("api: project cache evicted %d expired entries", len(expired))
	}
}
