package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/cyphera/sponsor-relay/libs/go/audit"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/quorum"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/sponsorlock"
)

// Response is what callers of an invocation receive. It is always well
// formed; failures are reported in Error and Category.
type Response struct {
	OK                  bool              `json:"ok"`
	InvocationID        string            `json:"invocation_id,omitempty"`
	TxHash              string            `json:"tx_hash,omitempty"`
	SignedTx            string            `json:"signed_tx,omitempty"`
	SignerAddress       string            `json:"signer_address,omitempty"`
	DestinationContract string            `json:"destination_contract,omitempty"`
	ChainID             uint64            `json:"chain_id,omitempty"`
	DryRun              bool              `json:"dry_run,omitempty"`
	Error               string            `json:"error,omitempty"`
	Category            relayerr.Category `json:"category,omitempty"`
	Code                string            `json:"code,omitempty"`
	Retryable           bool              `json:"retryable,omitempty"`
}

// Failure converts err into a failed response.
func Failure(invocationID string, err error) Response {
	re := relayerr.From(err)
	return Response{
		InvocationID: invocationID,
		Error:        re.Message,
		Category:     re.Category,
		Code:         re.Code,
		Retryable:    re.Retryable(),
	}
}

// releaser is implemented by hubs that keep per-invocation state.
type releaser interface {
	Release(invocationID string)
}

// Cluster runs every invocation as Redundancy parallel executions that agree
// through the quorum hub, the way the signing network runs the relay.
type Cluster struct {
	relay      *Relay
	hub        quorum.Hub
	redundancy int
	node       int
	locks      *sponsorlock.Locker
	audit      audit.Publisher
}

// ClusterOption configures a Cluster.
type ClusterOption func(*Cluster)

// WithAudit publishes an audit event per invocation.
func WithAudit(p audit.Publisher) ClusterOption { return func(c *Cluster) { c.audit = p } }

// WithSponsorLock serializes non-dry-run invocations per sponsor.
func WithSponsorLock(l *sponsorlock.Locker) ClusterOption { return func(c *Cluster) { c.locks = l } }

// WithNodeIndex sets this node's position among the relay nodes sharing a
// quorum hub. Peers are numbered node*redundancy+i so executions on different
// nodes count as distinct signers.
func WithNodeIndex(node int) ClusterOption {
	return func(c *Cluster) {
		if node > 0 {
			c.node = node
		}
	}
}

// NewCluster creates a cluster of redundancy executions.
func NewCluster(relay *Relay, hub quorum.Hub, redundancy int, opts ...ClusterOption) *Cluster {
	if redundancy < 1 {
		redundancy = 1
	}
	c := &Cluster{relay: relay, hub: hub, redundancy: redundancy}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Relay returns the relay the cluster executes.
func (c *Cluster) Relay() *Relay { return c.relay }

// Invoke runs inv and never panics.
func (c *Cluster) Invoke(ctx context.Context, inv Invocation) Response {
	if inv.ID == "" {
		inv.ID = InvocationID(inv)
	}
	log := logger.NewStructuredLogger(logger.ComponentRelay).
		WithInvocation(inv.ID, -1).
		WithAction(inv.Action, inv.Request.Actor)

	var (
		res *Result
		err error
	)
	if !inv.DryRun && c.locks != nil {
		unlock, lockErr := c.locks.Lock(ctx, c.relay.Sponsor())
		if lockErr != nil {
			err = relayerr.Network("sponsor_busy", "sponsor is busy, try again", lockErr)
		} else {
			defer unlock()
		}
	}
	if err == nil {
		res, err = c.run(ctx, inv)
	}

	var resp Response
	if err != nil {
		resp = Failure(inv.ID, err)
		log.WithField("category", string(resp.Category)).WithField("code", resp.Code).Warn("Invocation failed")
	} else {
		resp = Response{
			OK:                  true,
			InvocationID:        inv.ID,
			TxHash:              res.TxHash.Hex(),
			SignerAddress:       res.Signer.Hex(),
			DestinationContract: res.Contract.Hex(),
			ChainID:             res.ChainID.Uint64(),
			DryRun:              inv.DryRun,
		}
		if inv.DryRun {
			resp.SignedTx = hexutil.Encode(res.SignedTx)
		}
		log.WithField("tx_hash", resp.TxHash).Info("Invocation completed")
	}

	c.record(ctx, inv, res, resp)
	return resp
}

// run executes all peers and checks that they produced the same transaction.
func (c *Cluster) run(ctx context.Context, inv Invocation) (*Result, error) {
	if r, ok := c.hub.(releaser); ok {
		defer r.Release(inv.ID)
	}
	coord := c.hub.Scope(inv.ID)

	results := make([]*Result, c.redundancy)
	g, gctx := errgroup.WithContext(ctx)
	for peer := 0; peer < c.redundancy; peer++ {
		peer := peer
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = relayerr.Wrap(relayerr.CategoryInternal, "execution_panic", "relay execution failed", fmt.Errorf("%v", r))
				}
			}()
			results[peer], err = c.relay.Execute(gctx, inv, Execution{Peer: c.peer(peer), Coordinator: coord})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results[1:] {
		if r.TxHash != results[0].TxHash {
			return nil, relayerr.Signing("divergent_executions", "redundant executions produced different transactions", nil)
		}
	}
	return results[0], nil
}

// SignMessage runs a personal-sign session across all peers and returns the
// agreed signature with the sponsor address. It satisfies the registry
// client's MessageSigner.
func (c *Cluster) SignMessage(ctx context.Context, message []byte) (string, common.Address, error) {
	session := messageSession(message)
	if r, ok := c.hub.(releaser); ok {
		defer r.Release(session)
	}
	coord := c.hub.Scope(session)

	sigs := make([]string, c.redundancy)
	g, gctx := errgroup.WithContext(ctx)
	for peer := 0; peer < c.redundancy; peer++ {
		peer := peer
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = relayerr.Wrap(relayerr.CategoryInternal, "execution_panic", "message signing failed", fmt.Errorf("%v", r))
				}
			}()
			sigs[peer], err = c.relay.SignMessage(gctx, session, Execution{Peer: c.peer(peer), Coordinator: coord}, message)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", common.Address{}, err
	}
	for _, s := range sigs[1:] {
		if !strings.EqualFold(s, sigs[0]) {
			return "", common.Address{}, relayerr.Signing("divergent_executions", "redundant executions produced different signatures", nil)
		}
	}
	return sigs[0], c.relay.Sponsor(), nil
}

func (c *Cluster) peer(i int) int { return c.node*c.redundancy + i }

func (c *Cluster) record(ctx context.Context, inv Invocation, res *Result, resp Response) {
	if c.audit == nil {
		return
	}
	event := audit.Event{
		InvocationID: inv.ID,
		Action:       inv.Action,
		Actor:        strings.ToLower(inv.Request.Actor),
		TxHash:       resp.TxHash,
		DryRun:       inv.DryRun,
		Outcome:      audit.OutcomeSucceeded,
	}
	if res != nil && res.Authorization != nil {
		event.Message = string(res.Authorization.Message)
	}
	if !resp.OK {
		event.Outcome = audit.OutcomeFailed
		event.Category = string(resp.Category)
		event.Error = resp.Error
	}
	audit.Record(ctx, c.audit, event)
}
