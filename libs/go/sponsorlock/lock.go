// Package sponsorlock serializes invocations that spend from the same
// sponsor account within one process, so they do not read the same pending
// nonce. Separate processes can still race; the chain rejects the loser.
package sponsorlock

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Locker hands out one lock per sponsor address.
type Locker struct {
	mu    sync.Mutex
	locks map[common.Address]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// New creates a Locker.
func New() *Locker {
	return &Locker{locks: make(map[common.Address]*entry)}
}

// Lock blocks until sponsor is free or ctx ends. The returned func releases
// the lock and is safe to call more than once.
func (l *Locker) Lock(ctx context.Context, sponsor common.Address) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[sponsor]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[sponsor] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(sponsor, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.drop(sponsor, e)
		})
	}, nil
}

func (l *Locker) drop(sponsor common.Address, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, sponsor)
	}
}

// Held reports how many sponsors currently have holders or waiters.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
