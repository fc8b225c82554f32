package replication

import (
	"errors"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/panjf2000/ants/v2"
)

// ErrPoolClosed is returned when submitting to a released pool
var ErrPoolClosed = errors.New("session pool is closed")

// sessionPool bounds the number of concurrently served sessions
type sessionPool struct {
	pool *ants.Pool
}

func newSessionPool(size int) (*sessionPool, error) {
	logger := log.WithComponent("replication")

	p, err := ants.NewPool(size,
		ants.WithPanicHandler(func(v interface{}) {
			logger.Error().Interface("panic", v).Msg("Session panic recovered")
		}),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &sessionPool{pool: p}, nil
}

// submit blocks until a slot is free
func (p *sessionPool) submit(task func()) error {
	if err := p.pool.Submit(task); err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

func (p *sessionPool) release() {
	p.pool.Release()
}
