// Package relay runs sponsored actions end to end: validate the actor's
// authorization, agree on chain state, assemble, threshold-sign, normalize
// and broadcast.
package relay

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/authz"
	"github.com/cyphera/sponsor-relay/libs/go/broadcast"
	"github.com/cyphera/sponsor-relay/libs/go/chain"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/quorum"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/signature"
	"github.com/cyphera/sponsor-relay/libs/go/signer"
	"github.com/cyphera/sponsor-relay/libs/go/txbuilder"
)

// Run-once keys for the shared chain reads.
const (
	KeyNonce       = "nonce"
	KeyFeeData     = "fee_data"
	KeyGasEstimate = "gas_estimate"
)

// Config is the sponsor identity the relay signs as.
type Config struct {
	Sponsor common.Address
	KeyID   string
	// AllowMissingRecovery resolves 64-byte signatures by trial recovery
	// against Sponsor instead of rejecting them.
	AllowMissingRecovery bool
}

// Invocation is one logical relay request. Every execution of it sees the
// same value.
type Invocation struct {
	ID      string
	Action  string
	Request authz.Request
	DryRun  bool
}

// Execution identifies one of the redundant executions of an invocation.
type Execution struct {
	Peer        int
	Coordinator quorum.Coordinator
}

// Result is a successful execution.
type Result struct {
	Authorization *authz.Authorization
	TxHash        common.Hash
	SignedTx      []byte
	Broadcast     bool
	Signer        common.Address
	Contract      common.Address
	ChainID       *big.Int
}

// Relay executes invocations. It keeps no state between them.
type Relay struct {
	cfg         Config
	actions     *actions.Registry
	validator   *authz.Validator
	connector   chain.Connector
	signer      signer.ThresholdSigner
	broadcaster *broadcast.Broadcaster
}

// New creates a relay.
func New(cfg Config, registry *actions.Registry, validator *authz.Validator, connector chain.Connector, ts signer.ThresholdSigner) (*Relay, error) {
	if cfg.Sponsor == (common.Address{}) {
		return nil, fmt.Errorf("sponsor address is required")
	}
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("signing key id is required")
	}
	if registry == nil || validator == nil || connector == nil || ts == nil {
		return nil, fmt.Errorf("relay dependencies are required")
	}
	return &Relay{
		cfg:         cfg,
		actions:     registry,
		validator:   validator,
		connector:   connector,
		signer:      ts,
		broadcaster: broadcast.New(),
	}, nil
}

// Sponsor returns the address transactions are signed by.
func (r *Relay) Sponsor() common.Address { return r.cfg.Sponsor }

// Validator returns the authorization validator.
func (r *Relay) Validator() *authz.Validator { return r.validator }

// Action looks up a registered action.
func (r *Relay) Action(name string) (*actions.Action, bool) { return r.actions.Get(name) }

// Execute runs one execution of inv. No chain or signing call happens until
// the authorization has passed every check.
func (r *Relay) Execute(ctx context.Context, inv Invocation, exec Execution) (*Result, error) {
	log := logger.NewStructuredLogger(logger.ComponentRelay).
		WithInvocation(inv.ID, exec.Peer).
		WithAction(inv.Action, inv.Request.Actor)

	action, ok := r.actions.Get(inv.Action)
	if !ok {
		return nil, relayerr.Validation("unknown_action", "unknown action %q", inv.Action)
	}

	auth, err := r.validator.Validate(inv.Request, action.Spec)
	if err != nil {
		log.Debug("Authorization rejected")
		return nil, err
	}
	calldata, err := action.Calldata(auth)
	if err != nil {
		return nil, relayerr.Validation("invalid_params", "%v", err)
	}

	conn := &lazyClient{connector: r.connector}
	defer conn.Close()

	start := time.Now()
	quote, err := r.quote(ctx, exec.Coordinator, conn, action, calldata)
	if err != nil {
		log.Error("Shared chain reads failed", err)
		return nil, err
	}
	log.WithField("nonce", quote.Nonce).WithDuration(time.Since(start)).Debug("Chain state agreed")

	unsigned, err := txbuilder.Assemble(action, calldata, quote)
	if err != nil {
		return nil, err
	}

	combined, err := r.sign(ctx, inv.ID, exec.Peer, unsigned.Digest)
	if err != nil {
		log.Error("Signing failed", err)
		return nil, err
	}
	tx, err := unsigned.Attach(combined, r.cfg.Sponsor)
	if err != nil {
		return nil, err
	}

	res, err := r.broadcaster.Broadcast(ctx, exec.Coordinator, conn, tx, inv.DryRun)
	if err != nil {
		log.Error("Broadcast failed", err)
		return nil, err
	}

	log.WithField("tx_hash", res.Hash.Hex()).WithField("dry_run", inv.DryRun).Info("Execution completed")
	return &Result{
		Authorization: auth,
		TxHash:        res.Hash,
		SignedTx:      res.Raw,
		Broadcast:     res.Broadcast,
		Signer:        r.cfg.Sponsor,
		Contract:      action.Config.Contract,
		ChainID:       new(big.Int).Set(action.Config.ChainID),
	}, nil
}

// quote performs the three shared reads. Each is elected separately so a
// slow estimate does not hold up the nonce.
func (r *Relay) quote(ctx context.Context, coord quorum.Coordinator, conn *lazyClient, action *actions.Action, calldata []byte) (txbuilder.GasQuote, error) {
	nonce, err := quorum.RunOnce(ctx, coord, KeyNonce, func(ctx context.Context) (uint64, error) {
		c, err := conn.get(ctx)
		if err != nil {
			return 0, err
		}
		n, err := c.PendingNonceAt(ctx, r.cfg.Sponsor)
		if err != nil {
			return 0, relayerr.Network("nonce_unavailable", "failed to read sponsor nonce", err)
		}
		return n, nil
	})
	if err != nil {
		return txbuilder.GasQuote{}, err
	}

	fees, err := quorum.RunOnce(ctx, coord, KeyFeeData, func(ctx context.Context) (chain.FeeData, error) {
		c, err := conn.get(ctx)
		if err != nil {
			return chain.FeeData{}, err
		}
		f, err := c.FeeData(ctx)
		if err != nil {
			return chain.FeeData{}, relayerr.Network("fee_data_unavailable", "failed to read fee data", err)
		}
		return f, nil
	})
	if err != nil {
		return txbuilder.GasQuote{}, err
	}

	estimate, err := quorum.RunOnce(ctx, coord, KeyGasEstimate, func(ctx context.Context) (uint64, error) {
		c, err := conn.get(ctx)
		if err != nil {
			return 0, err
		}
		gas, err := c.EstimateGas(ctx, action.CallMsg(r.cfg.Sponsor, calldata))
		if err != nil {
			return 0, relayerr.Network("gas_estimate_failed", "failed to estimate gas", err)
		}
		return gas, nil
	})
	if err != nil {
		return txbuilder.GasQuote{}, err
	}

	return txbuilder.GasQuote{
		Nonce:                nonce,
		MaxFeePerGas:         fees.MaxFeePerGas,
		MaxPriorityFeePerGas: fees.MaxPriorityFeePerGas,
		GasEstimate:          estimate,
	}, nil
}

// sign asks the signing network for a signature over digest and normalizes it.
func (r *Relay) sign(ctx context.Context, session string, peer int, digest common.Hash) (signature.Combined, error) {
	raw, err := r.signer.Sign(ctx, signer.Request{Session: session, Peer: peer, KeyID: r.cfg.KeyID, Digest: digest})
	if err != nil {
		if re := relayerr.From(err); re.Category != relayerr.CategoryInternal {
			return signature.Combined{}, re
		}
		return signature.Combined{}, relayerr.Signing("signing_failed", "signing network did not return a signature", err)
	}

	var opts signature.Options
	if r.cfg.AllowMissingRecovery {
		sponsor := r.cfg.Sponsor
		opts = signature.Options{Digest: digest[:], ExpectedSigner: &sponsor}
	}
	return signature.Normalize(raw, opts)
}

// lazyClient connects on first use so executions that never reach the chain
// never dial it.
type lazyClient struct {
	connector chain.Connector

	mu     sync.Mutex
	client chain.Client
}

func (l *lazyClient) get(ctx context.Context) (chain.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}
	c, err := l.connector.Connect(ctx)
	if err != nil {
		return nil, relayerr.Network("rpc_unavailable", "failed to connect to chain RPC", err)
	}
	l.client = c
	return c, nil
}

func (l *lazyClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	c, err := l.get(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return c.SendRawTransaction(ctx, raw)
}

func (l *lazyClient) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Close()
		l.client = nil
	}
}
