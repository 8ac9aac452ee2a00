package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ---------------------------------------------------------------------------
// Disk Snapshots
// ---------------------------------------------------------------------------

// diskEntry is the on-disk form of an entry. Insertion times are wall-clock
// unix seconds so entries age correctly across restarts.
type diskEntry[V any] struct {
	Value      V     `json:"value"`
	InsertedAt int64 `json:"inserted_at"`
}

// SaveFile writes a JSON snapshot of the cache to path, creating parent
// directories as needed. Expired entries are skipped.
func SaveFile[V any](c *Cache[string, V], path string) error {
	now := c.now()

	c.mu.RLock()
	snapshot := make(map[string]diskEntry[V], len(c.data))
	for k, e := range c.data {
		if now.Sub(e.insertedAt) >= c.ttl {
			continue
		}
		snapshot[k] = diskEntry[V]{Value: e.value, InsertedAt: e.insertedAt.Unix()}
	}
	c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// LoadFile merges a JSON snapshot from path into the cache. Entries whose
// age already exceeds the TTL are dropped. A missing file is not an error.
func LoadFile[V any](c *Cache[string, V], path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading snapshot: %w", err)
	}

	var snapshot map[string]diskEntry[V]
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, de := range snapshot {
		insertedAt := time.Unix(de.InsertedAt, 0)
		if now.Sub(insertedAt) >= c.ttl {
			continue
		}
		c.data[k] = entry[V]{value: de.Value, insertedAt: insertedAt}
	}
	return nil
}
