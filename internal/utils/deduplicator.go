package utils

import (
	"sync"
	"time"
)

// Deduplicator remembers keys for a while so that a retried request is not
// processed twice.
type Deduplicator struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

// NewDeduplicator keeps keys for ttl.
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	return &Deduplicator{ttl: ttl, seen: make(map[string]time.Time)}
}

// IsDuplicate checks if a key has been seen within the ttl and records it.
// Returns true if the request is a duplicate and should be ignored
func (d *Deduplicator) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.seen[key]; ok && time.Since(ts) < d.ttl {
		return true
	}
	d.seen[key] = time.Now()

	// Cleanup old entries if map gets too big
	if len(d.seen) > 10000 {
		for k, v := range d.seen {
			if time.Since(v) > d.ttl {
				delete(d.seen, k)
			}
		}
	}
	return false
}

// Forget drops key, so that a failed request may be retried.
func (d *Deduplicator) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}
