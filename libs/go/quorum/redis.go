package quorum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// RedisHub coordinates peers on different nodes through a shared Redis.
// Election is SET NX on a claim key; the elected peer writes the outcome to a
// result key and the others poll for it. Successful outcomes live for the
// result TTL; failures only for the failure TTL, after which a retry of the
// same invocation runs the read again.
type RedisHub struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	failureTTL   time.Duration
	pollInterval time.Duration
	maxPoll      time.Duration
	logger       *zap.Logger
}

// RedisOption configures a RedisHub.
type RedisOption func(*RedisHub)

// WithKeyPrefix namespaces all keys.
func WithKeyPrefix(prefix string) RedisOption { return func(h *RedisHub) { h.prefix = prefix } }

// WithResultTTL bounds how long claims and results live.
func WithResultTTL(ttl time.Duration) RedisOption { return func(h *RedisHub) { h.ttl = ttl } }

// WithFailureTTL bounds how long a failed outcome is shared. It never
// exceeds the result TTL.
func WithFailureTTL(ttl time.Duration) RedisOption { return func(h *RedisHub) { h.failureTTL = ttl } }

// WithPollInterval sets the initial and maximum polling interval for waiting peers.
func WithPollInterval(initial, max time.Duration) RedisOption {
	return func(h *RedisHub) { h.pollInterval, h.maxPoll = initial, max }
}

// WithLogger sets the hub logger.
func WithLogger(l *zap.Logger) RedisOption { return func(h *RedisHub) { h.logger = l } }

// NewRedisHub creates a hub on top of an existing client.
func NewRedisHub(client redis.UniversalClient, opts ...RedisOption) *RedisHub {
	h := &RedisHub{
		client:       client,
		prefix:       "relay:quorum",
		ttl:          10 * time.Minute,
		failureTTL:   5 * time.Second,
		pollInterval: 20 * time.Millisecond,
		maxPoll:      500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logger.Or(h.logger)
	return h
}

// Scope returns the coordinator for one invocation.
func (h *RedisHub) Scope(invocationID string) Coordinator {
	return &redisCoordinator{hub: h, scope: invocationID, peer: uuid.New().String()}
}

type redisCoordinator struct {
	hub   *RedisHub
	scope string
	peer  string
}

func (c *redisCoordinator) keys(key string) (claim, result string) {
	base := fmt.Sprintf("%s:%s:%s", c.hub.prefix, c.scope, key)
	return base + ":claim", base + ":result"
}

func (c *redisCoordinator) RunOnce(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	claimKey, resultKey := c.keys(key)

	elected, err := c.hub.client.SetNX(ctx, claimKey, c.peer, c.hub.ttl).Result()
	if err != nil {
		return nil, relayerr.Network("quorum_unavailable", "failed to reach quorum coordinator", err)
	}

	if elected {
		c.hub.logger.Debug("Elected for shared read",
			zap.String("invocation_id", c.scope),
			zap.String("key", key),
			zap.String("peer", c.peer),
		)
		encoded := settle(ctx, key, fn)
		ttl := c.hub.ttl
		if failed(encoded) && c.hub.failureTTL < ttl {
			ttl = c.hub.failureTTL
		}
		// The publish must outlive a cancelled caller, otherwise peers wait forever.
		pctx := context.WithoutCancel(ctx)
		if err := c.hub.client.Set(pctx, resultKey, encoded, ttl).Err(); err != nil {
			return nil, relayerr.Network("quorum_publish_failed", "failed to publish shared result for "+key, err)
		}
		if ttl != c.hub.ttl {
			if err := c.hub.client.Expire(pctx, claimKey, ttl).Err(); err != nil {
				c.hub.logger.Warn("Failed to shorten claim of a failed read", zap.String("key", key), zap.Error(err))
			}
		}
		return open(encoded)
	}

	return c.await(ctx, key, resultKey)
}

func (c *redisCoordinator) await(ctx context.Context, key, resultKey string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.hub.pollInterval
	b.MaxInterval = c.hub.maxPoll
	b.MaxElapsedTime = 0

	var encoded []byte
	operation := func() error {
		v, err := c.hub.client.Get(ctx, resultKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return errors.New("shared result not yet published")
		}
		if err != nil {
			return err
		}
		encoded = v
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, relayerr.Network("quorum_wait_aborted", "stopped waiting for shared read "+key, err)
	}
	return open(encoded)
}
