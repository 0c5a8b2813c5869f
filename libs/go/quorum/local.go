package quorum

import (
	"context"
	"sync"

	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// LocalHub coordinates peers running in the same process.
type LocalHub struct {
	mu    sync.Mutex
	slots map[string]map[string]*slot
}

type slot struct {
	done    chan struct{}
	outcome []byte
}

// NewLocalHub creates an empty hub.
func NewLocalHub() *LocalHub {
	return &LocalHub{slots: make(map[string]map[string]*slot)}
}

// Scope returns the coordinator for one invocation.
func (h *LocalHub) Scope(invocationID string) Coordinator {
	return &localCoordinator{hub: h, scope: invocationID}
}

// Release drops all results recorded for an invocation.
func (h *LocalHub) Release(invocationID string) {
	h.mu.Lock()
	delete(h.slots, invocationID)
	h.mu.Unlock()
}

type localCoordinator struct {
	hub   *LocalHub
	scope string
}

func (c *localCoordinator) RunOnce(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	s, elected := c.hub.claim(c.scope, key)
	if elected {
		s.outcome = settle(ctx, key, fn)
		close(s.done)
		return open(s.outcome)
	}

	select {
	case <-s.done:
		return open(s.outcome)
	case <-ctx.Done():
		return nil, relayerr.Network("quorum_wait_aborted", "stopped waiting for shared read "+key, ctx.Err())
	}
}

func (h *LocalHub) claim(scope, key string) (*slot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys, ok := h.slots[scope]
	if !ok {
		keys = make(map[string]*slot)
		h.slots[scope] = keys
	}
	if s, ok := keys[key]; ok {
		return s, false
	}
	s := &slot{done: make(chan struct{})}
	keys[key] = s
	return s, true
}
