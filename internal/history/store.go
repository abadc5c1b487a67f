// Package history keeps a short, bounded conversation log per sender.
// Nothing is persisted: the table lives for the life of the process.
package history

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/comigor/whatsapp-relay/internal/logger"
)

// DefaultCapacity is three user turns plus three assistant turns.
const DefaultCapacity = 6

// Options configures a Store. Zero values keep the table unbounded.
type Options struct {
	// Capacity is the number of turns kept per sender.
	Capacity int
	// MaxSenders caps the number of conversations; the least recently
	// written one is dropped first. 0 means no cap.
	MaxSenders int
	// IdleTTL drops a conversation that saw no Append for this long.
	// 0 means never.
	IdleTTL time.Duration
	// Now overrides the clock used for RecordedAt.
	Now func() time.Time
}

type conversation struct {
	turns []Turn
}

// Store maps a sender identifier to its bounded turn log.
// It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	table    *expirable.LRU[string, *conversation]
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxSenders < 0 {
		opts.MaxSenders = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	onEvict := func(sender string, _ *conversation) {
		logger.L.Debug("conversation dropped from table", "sender", sender)
	}
	return &Store{
		capacity: opts.Capacity,
		now:      opts.Now,
		table:    expirable.NewLRU[string, *conversation](opts.MaxSenders, onEvict, opts.IdleTTL),
	}
}

// Capacity returns the per-sender turn limit.
func (s *Store) Capacity() int { return s.capacity }

// Append records a turn for sender, creating the conversation on first use
// and evicting the oldest turns beyond capacity.
func (s *Store) Append(sender string, role Role, content string) Turn {
	turn := Turn{
		ID:         uuid.NewString(),
		Role:       role,
		Content:    content,
		RecordedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.table.Get(sender)
	if !ok {
		c = &conversation{turns: make([]Turn, 0, s.capacity)}
	}
	c.turns = append(c.turns, turn)
	if over := len(c.turns) - s.capacity; over > 0 {
		c.turns = slices.Delete(c.turns, 0, over)
	}
	// Add refreshes both recency and the idle deadline.
	s.table.Add(sender, c)
	return turn
}

// History returns a copy of sender's turns in chronological order.
// Unseen senders yield an empty slice. Recency is not touched.
func (s *Store) History(sender string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.table.Peek(sender)
	if !ok {
		return []Turn{}
	}
	return slices.Clone(c.turns)
}

// Clear forgets sender's conversation and reports whether one existed.
func (s *Store) Clear(sender string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.table.Peek(sender)
	if !ok {
		return false
	}
	s.table.Remove(sender)
	return len(c.turns) > 0
}

// Stats counts live conversations and the turns they hold.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, c := range s.table.Values() {
		st.ActiveSenders++
		st.TotalTurns += len(c.turns)
	}
	return st
}
