package database

import (
	"sync"

	"gorm.io/gorm"
)

// ProjectDBCache hands out per-project manifest database handles, opening
// each at most once. Handles are keyed by absolute database path so the same
// project reached through different sources still shares one handle.
type ProjectDBCache struct {
	mu      sync.Mutex
	handles map[string]*gorm.DB
}

func NewProjectDBCache() *ProjectDBCache {
	return &ProjectDBCache{handles: make(map[string]*gorm.DB)}
}

// Get returns the manifest database for dbPath, opening and migrating it on
// first use.
func (c *ProjectDBCache) Get(dbPath string) (*gorm.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.handles[dbPath]; ok {
		return db, nil
	}
	db, err := InitProjectDB(dbPath)
	if err != nil {
		return nil, err
	}
	c.handles[dbPath] = db
	return db, nil
}
