package agent

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// dedup remembers recently handled webhook message ids so platform
// redeliveries are not processed twice.
type dedup struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func newDedup(size int, ttl time.Duration) *dedup {
	if size <= 0 {
		return &dedup{}
	}
	return &dedup{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// observe records id and reports whether it had already been recorded.
// Empty ids and a disabled dedup never match.
func (d *dedup) observe(id string) bool {
	if d.seen == nil || id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen.Peek(id); ok {
		return true
	}
	d.seen.Add(id, struct{}{})
	return false
}

// forget drops id so a later redelivery is processed.
func (d *dedup) forget(id string) {
	if d.seen == nil || id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(id)
}
