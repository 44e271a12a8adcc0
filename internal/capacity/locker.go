package capacity

import (
	"context"
	"fmt"
	"sync"
)

// Locker serializes mutating flows per event. The returned unlock func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, eventID string) (unlock func(), err error)
}

// LocalLocker is a keyed mutex for single-process deployments.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, eventID string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[eventID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[eventID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(eventID, s)
		return nil, fmt.Errorf("lock event %s: %w", eventID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(eventID, s)
		})
	}, nil
}

func (l *LocalLocker) release(eventID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, eventID)
	}
}
