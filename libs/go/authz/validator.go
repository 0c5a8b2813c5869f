// Package authz validates an actor's off-chain authorization for one action.
package authz

import (
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/cyphera/sponsor-relay/libs/go/canonical"
	"github.com/cyphera/sponsor-relay/libs/go/constants"
	"github.com/cyphera/sponsor-relay/libs/go/helpers"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/signature"
)

// Messages returned for authorization failures.
const (
	MsgExpired        = "authorization expired"
	MsgNotYetValid    = "authorization not yet valid"
	MsgSignerMismatch = "signature does not match actor"
)

// Request is an authorization as submitted by the client.
type Request struct {
	Actor     string            `json:"actor_address"`
	Action    string            `json:"action"`
	Params    map[string]string `json:"params"`
	Nonce     string            `json:"nonce"`
	IssuedAt  int64             `json:"issued_at"`
	ExpiresAt int64             `json:"expires_at"`
	Signature string            `json:"signature"`
	// Message is the canonical message the client claims to have signed. Optional.
	Message string `json:"message,omitempty"`
}

// Authorization is a request that passed every check.
type Authorization struct {
	Actor     common.Address
	Action    string
	Params    map[string]string
	Nonce     common.Hash
	IssuedAt  int64
	ExpiresAt int64
	Message   []byte
	Signature []byte
}

// Param returns a validated parameter value.
func (a *Authorization) Param(name string) string { return a.Params[name] }

// Validator checks requests in a fixed order: structure, expiry, canonical
// message, signature. Nothing after a failing step runs.
type Validator struct {
	window time.Duration
	skew   time.Duration
	now    func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithWindow sets the fixed authorization window.
func WithWindow(d time.Duration) Option { return func(v *Validator) { v.window = d } }

// WithClockSkew sets how far issued_at may be ahead of the relay clock.
func WithClockSkew(d time.Duration) Option { return func(v *Validator) { v.skew = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(v *Validator) { v.now = now } }

// NewValidator returns a validator with the default 120s window.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		window: constants.DefaultAuthWindowSeconds * time.Second,
		skew:   constants.DefaultClockSkewSeconds * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Window returns the configured authorization window.
func (v *Validator) Window() time.Duration { return v.window }

// Validate checks req against the expected action.
func (v *Validator) Validate(req Request, spec ActionSpec) (*Authorization, error) {
	// 1. structure
	if err := v.checkStructure(req, spec); err != nil {
		return nil, err
	}

	// 2. time window
	now := v.now().Unix()
	if now > req.ExpiresAt {
		return nil, relayerr.Authorization("expired", MsgExpired)
	}
	if req.IssuedAt > now+int64(v.skew/time.Second) {
		return nil, relayerr.Authorization("not_yet_valid", MsgNotYetValid)
	}

	// 3. canonical message
	message, err := v.Message(req, spec)
	if err != nil {
		return nil, err
	}
	if req.Message != "" && req.Message != string(message) {
		return nil, relayerr.Validation("message_mismatch", "signed message does not match the canonical message for this request")
	}

	// 4. signature
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return nil, relayerr.Validation("invalid_signature", "signature is not valid hex: %v", err)
	}
	combined, err := signature.Normalize(signature.RawText(req.Signature), signature.Options{})
	if err != nil {
		return nil, relayerr.Authorization("bad_signature", MsgSignerMismatch)
	}
	recovered, err := combined.Recover(accounts.TextHash(message))
	actor := common.HexToAddress(req.Actor)
	if err != nil || recovered != actor {
		return nil, relayerr.Authorization("signer_mismatch", MsgSignerMismatch)
	}

	params := make(map[string]string, len(req.Params))
	for k, val := range req.Params {
		params[k] = val
	}
	return &Authorization{
		Actor:     actor,
		Action:    spec.Name,
		Params:    params,
		Nonce:     common.HexToHash(req.Nonce),
		IssuedAt:  req.IssuedAt,
		ExpiresAt: req.ExpiresAt,
		Message:   message,
		Signature: sig,
	}, nil
}

// Message builds the canonical message req's signature must cover.
func (v *Validator) Message(req Request, spec ActionSpec) ([]byte, error) {
	fields, err := spec.Schema().Fields(req.Params)
	if err != nil {
		return nil, relayerr.Validation("invalid_params", "%v", err)
	}
	message, err := canonical.Build(canonical.Input{
		Action:    spec.Name,
		Namespace: spec.Namespace,
		Actor:     req.Actor,
		Params:    fields,
		Nonce:     req.Nonce,
		IssuedAt:  req.IssuedAt,
		Window:    v.window,
	})
	if err != nil {
		return nil, relayerr.Validation("invalid_message", "%v", err)
	}
	return message, nil
}

func (v *Validator) checkStructure(req Request, spec ActionSpec) error {
	if req.Action != spec.Name {
		return relayerr.Validation("unexpected_action", "action %q is not %q", req.Action, spec.Name)
	}
	if !helpers.IsAddressValid(req.Actor) {
		return relayerr.Validation("invalid_actor", "actor_address must be a 0x-prefixed 20-byte hex address")
	}
	if helpers.IsZeroAddress(req.Actor) {
		return relayerr.Validation("invalid_actor", "actor_address may not be the zero address")
	}

	declared := make(map[string]struct{}, len(spec.Params))
	for _, p := range spec.Params {
		declared[p.Name] = struct{}{}
		value, ok := req.Params[p.Name]
		if !ok || value == "" {
			return relayerr.Validation("missing_param", "%s is required", p.Name)
		}
		if err := p.check(value); err != nil {
			return err
		}
	}
	var extra []string
	for name := range req.Params {
		if _, ok := declared[name]; !ok {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return relayerr.Validation("unknown_param", "unknown parameters: %s", strings.Join(extra, ", "))
	}

	if !helpers.IsBytes32Valid(req.Nonce) {
		return relayerr.Validation("invalid_nonce", "nonce must be a 0x-prefixed 32-byte hex value")
	}
	if !helpers.IsSignatureValid(req.Signature) {
		return relayerr.Validation("invalid_signature", "signature must be a 0x-prefixed 65-byte hex value")
	}
	if req.IssuedAt <= 0 || req.ExpiresAt <= 0 {
		return relayerr.Validation("invalid_window", "issued_at and expires_at must be positive unix seconds")
	}
	if req.ExpiresAt-req.IssuedAt != int64(v.window/time.Second) {
		return relayerr.Validation("invalid_window", "expires_at must be issued_at + %d", int64(v.window/time.Second))
	}
	return nil
}
