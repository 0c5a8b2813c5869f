// Package quorum lets redundant executions of one relay invocation agree on
// the result of a single external read. One peer per key is elected to run
// the read; every peer, the elected one included, returns the shared result.
package quorum

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// Coordinator runs fn at most once per key within one invocation scope.
// A failure of the elected run is returned, identically, to every peer.
type Coordinator interface {
	RunOnce(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error)
}

// Hub hands out coordinators scoped to one invocation.
type Hub interface {
	Scope(invocationID string) Coordinator
}

// RunOnce is the typed form of Coordinator.RunOnce. Results travel as JSON so
// the elected peer decodes exactly what the others see.
func RunOnce[T any](ctx context.Context, c Coordinator, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.RunOnce(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, relayerr.Network("quorum_decode_failed", "failed to decode shared result for "+key, err)
	}
	return out, nil
}

// outcome is what the elected peer publishes.
type outcome struct {
	Value json.RawMessage `json:"value,omitempty"`
	Error *failure        `json:"error,omitempty"`
}

type failure struct {
	Category relayerr.Category `json:"category"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Detail   string            `json:"detail,omitempty"`
}

// settle runs fn and encodes its result or failure. Uncategorized failures of
// an external read are network errors. Panics are captured so a crashing
// elected peer still releases its waiters.
func settle(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) (encoded []byte) {
	var (
		value []byte
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = relayerr.Wrap(relayerr.CategoryInternal, "quorum_panic", "shared read panicked", fmt.Errorf("%v", r))
			}
		}()
		value, err = fn(ctx)
	}()

	var out outcome
	if err != nil {
		re := relayerr.From(err)
		if re.Category == relayerr.CategoryInternal && re.Code == "internal" {
			re = relayerr.Network("quorum_read_failed", "shared read "+key+" failed", err)
		}
		f := &failure{Category: re.Category, Code: re.Code, Message: re.Message}
		if re.Err != nil {
			f.Detail = re.Err.Error()
		}
		out.Error = f
	} else {
		out.Value = value
	}

	encoded, mErr := json.Marshal(out)
	if mErr != nil {
		encoded, _ = json.Marshal(outcome{Error: &failure{
			Category: relayerr.CategoryInternal,
			Code:     "quorum_encode_failed",
			Message:  "failed to encode shared result for " + key,
			Detail:   mErr.Error(),
		}})
	}
	return encoded
}

// failed reports whether an encoded outcome carries a failure.
func failed(encoded []byte) bool {
	var out outcome
	return json.Unmarshal(encoded, &out) != nil || out.Error != nil
}

// open decodes a published outcome into the caller's return values.
func open(encoded []byte) ([]byte, error) {
	var out outcome
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, relayerr.Network("quorum_decode_failed", "failed to decode shared outcome", err)
	}
	if out.Error != nil {
		re := &relayerr.Error{Category: out.Error.Category, Code: out.Error.Code, Message: out.Error.Message}
		if out.Error.Detail != "" {
			re.Err = fmt.Errorf("%s", out.Error.Detail)
		}
		return nil, re
	}
	return out.Value, nil
}
