// Package actions declares the sponsored actions the relay will pay for.
// Each action is pinned to one destination contract, one chain and one
// contract method; none of these come from caller input.
package actions

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/sponsor-relay/libs/go/authz"
	"github.com/cyphera/sponsor-relay/libs/go/helpers"
)

// Config is the deployment-specific part of an action.
type Config struct {
	Contract  common.Address
	ChainID   *big.Int
	ChainName string
}

// Validate rejects configs that would let an action go anywhere.
func (c Config) Validate() error {
	if c.Contract == (common.Address{}) {
		return fmt.Errorf("destination contract is required")
	}
	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if c.ChainName == "" {
		return fmt.Errorf("chain name is required")
	}
	return nil
}

// Packer encodes a validated authorization into call arguments for Method.
type Packer func(auth *authz.Authorization) ([]interface{}, error)

// Action is one sponsored operation.
type Action struct {
	Spec   authz.ActionSpec
	Config Config
	Method abi.Method
	abi    abi.ABI
	pack   Packer
}

// New builds an action from a single-method ABI.
func New(spec authz.ActionSpec, cfg Config, abiJSON, method string, pack Packer) (*Action, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for action %s: %w", spec.Name, err)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI for action %s: %w", spec.Name, err)
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not found in ABI for action %s", method, spec.Name)
	}
	return &Action{Spec: spec, Config: cfg, Method: m, abi: parsed, pack: pack}, nil
}

// Name returns the action name.
func (a *Action) Name() string { return a.Spec.Name }

// Calldata encodes the only call this action may make.
func (a *Action) Calldata(auth *authz.Authorization) ([]byte, error) {
	if auth.Action != a.Spec.Name {
		return nil, fmt.Errorf("authorization for %s cannot be used for %s", auth.Action, a.Spec.Name)
	}
	args, err := a.pack(auth)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare arguments for %s: %w", a.Method.Name, err)
	}
	data, err := a.abi.Pack(a.Method.Name, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", a.Method.Name, err)
	}
	return data, nil
}

// CallMsg is the gas estimation request for calldata sent by the sponsor.
func (a *Action) CallMsg(from common.Address, data []byte) ethereum.CallMsg {
	to := a.Config.Contract
	return ethereum.CallMsg{From: from, To: &to, Value: big.NewInt(0), Data: data}
}

// Registry indexes actions by name.
type Registry struct {
	actions map[string]*Action
}

// NewRegistry builds a registry, rejecting duplicate names.
func NewRegistry(list ...*Action) (*Registry, error) {
	r := &Registry{actions: make(map[string]*Action, len(list))}
	for _, a := range list {
		if _, dup := r.actions[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate action %s", a.Name())
		}
		r.actions[a.Name()] = a
	}
	return r, nil
}

// Get returns the action with the given name.
func (r *Registry) Get(name string) (*Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Names lists registered actions in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Namespace binds messages to one contract on one chain.
func Namespace(prefix string, cfg Config) string {
	return fmt.Sprintf("%s:%s:%s", prefix, cfg.ChainID.String(), strings.ToLower(cfg.Contract.Hex()))
}

func bytes32(auth *authz.Authorization, name string) ([32]byte, error) {
	v := auth.Param(name)
	if !helpers.IsBytes32Valid(v) {
		return [32]byte{}, fmt.Errorf("%s is not a 32-byte value", name)
	}
	return [32]byte(common.HexToHash(v)), nil
}
