package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (l *nameLocks) refs(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if nl, ok := l.locks[name]; ok {
		return nl.refs
	}
	return 0
}

func TestNameLocksFIFO(t *testing.T) {
	l := newNameLocks()
	ctx := context.Background()

	unlock, err := l.lock(ctx, "ns")
	require.NoError(t, err)

	const waiters = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			release, err := l.lock(ctx, "ns")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			release()
		}(i)

		// admit waiters one at a time so arrival order is known
		want := i + 2
		require.Eventually(t, func() bool { return l.refs("ns") == want }, time.Second, time.Millisecond)
		time.Sleep(2 * time.Millisecond)
	}

	unlock()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, l.size())
}

func TestNameLocksIndependentNames(t *testing.T) {
	l := newNameLocks()
	ctx := context.Background()

	a, err := l.lock(ctx, "a")
	require.NoError(t, err)
	defer a()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	b, err := l.lock(ctx2, "b")
	require.NoError(t, err)
	b()

	assert.Equal(t, 1, l.size())
}

func TestNameLocksContextCancel(t *testing.T) {
	l := newNameLocks()

	unlock, err := l.lock(context.Background(), "ns")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.lock(ctx, "ns")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, l.refs("ns"))

	unlock()
	unlock()
	assert.Equal(t, 0, l.size())
}
