package agent

import (
	"context"
	"sync"
)

// senderLocks hands out one mutual-exclusion slot per sender. Slots are
// reference counted and dropped once nobody holds or waits for them.
type senderLocks struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{slots: make(map[string]*slot)}
}

// acquire blocks until sender's slot is free or ctx is done.
func (l *senderLocks) acquire(ctx context.Context, sender string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[sender]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[sender] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.put(sender, s)
			})
		}, nil
	case <-ctx.Done():
		l.put(sender, s)
		return nil, ctx.Err()
	}
}

func (l *senderLocks) put(sender string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, sender)
	}
}

func (l *senderLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
