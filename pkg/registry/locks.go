package registry

import (
	"context"
	"sync"
)

// nameLocks hands out one mutual-exclusion slot per namespace name.
// Waiters are admitted in arrival order: a full buffered channel queues
// blocked senders FIFO and hands the slot straight to the head waiter.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	sem  chan struct{}
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*nameLock)}
}

// lock blocks until the name is free or ctx is done. The returned func
// releases the lock and is safe to call more than once.
func (l *nameLocks) lock(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	nl, ok := l.locks[name]
	if !ok {
		nl = &nameLock{sem: make(chan struct{}, 1)}
		l.locks[name] = nl
	}
	nl.refs++
	l.mu.Unlock()

	select {
	case nl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(name, nl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-nl.sem
			l.release(name, nl)
		})
	}, nil
}

func (l *nameLocks) release(name string, nl *nameLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nl.refs--
	if nl.refs == 0 {
		delete(l.locks, name)
	}
}

// size returns the number of names with holders or waiters
func (l *nameLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
