// Package broadcast submits signed transactions, once per invocation.
package broadcast

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/libs/go/chain"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/quorum"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// QuorumKey is the run-once key under which the transaction is sent.
const QuorumKey = "broadcast"

// Sender submits a serialized transaction. chain.Client satisfies it.
type Sender interface {
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

// Result is a finalized transaction. Broadcast is false for dry runs.
type Result struct {
	Hash      common.Hash
	Raw       []byte
	Broadcast bool
}

// rejections are node errors that no resubmission of the same transaction can fix.
var rejections = []struct {
	match string
	code  string
}{
	{"nonce too low", "nonce_too_low"},
	{"replacement transaction underpriced", "replacement_underpriced"},
	{"insufficient funds", "insufficient_funds"},
	{"exceeds block gas limit", "exceeds_block_gas_limit"},
}

// Broadcaster finalizes signed transactions.
type Broadcaster struct {
	logger *zap.Logger
}

// New creates a broadcaster.
func New() *Broadcaster {
	return &Broadcaster{logger: logger.Or(nil)}
}

// Broadcast serializes tx and, unless dryRun, submits it through the
// coordinator so exactly one peer talks to the chain. Dry runs make no
// network calls at all.
func (b *Broadcaster) Broadcast(ctx context.Context, coord quorum.Coordinator, sender Sender, tx *types.Transaction, dryRun bool) (*Result, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, relayerr.Wrap(relayerr.CategoryInternal, "encode_failed", "failed to serialize signed transaction", err)
	}
	res := &Result{Hash: tx.Hash(), Raw: raw}
	if dryRun {
		return res, nil
	}

	hash, err := quorum.RunOnce(ctx, coord, QuorumKey, func(ctx context.Context) (common.Hash, error) {
		sent, err := sender.SendRawTransaction(ctx, raw)
		if AlreadyKnown(err) {
			// This exact transaction is already pending; it can still land.
			b.logger.Info("Transaction already in the node's pool", zap.String("tx_hash", tx.Hash().Hex()))
			return tx.Hash(), nil
		}
		if err != nil {
			return common.Hash{}, Classify(err)
		}
		if sent != tx.Hash() {
			b.logger.Warn("Node returned a different transaction hash",
				zap.String("expected", tx.Hash().Hex()),
				zap.String("returned", sent.Hex()),
			)
		}
		return tx.Hash(), nil
	})
	if err != nil {
		return nil, err
	}

	res.Hash = hash
	res.Broadcast = true
	return res, nil
}

// AlreadyKnown reports whether the node refused a submission because it
// already holds the identical transaction.
func AlreadyKnown(err error) bool {
	var rpcErr *chain.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// Classify maps a submission failure to a broadcast category: node
// rejections of this exact transaction are terminal, anything else is
// retryable.
func Classify(err error) error {
	var rpcErr *chain.RPCError
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message)
		for _, r := range rejections {
			if strings.Contains(msg, r.match) {
				return relayerr.Wrap(relayerr.CategoryBroadcastRejected, r.code, "transaction rejected by the chain: "+r.match, err)
			}
		}
	}
	return relayerr.Wrap(relayerr.CategoryBroadcastTransient, "broadcast_failed", "failed to submit transaction, try again", err)
}
