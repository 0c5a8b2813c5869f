package relay

import (
	"context"

	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/authz"
	"github.com/cyphera/sponsor-relay/libs/go/client/registry"
	"github.com/cyphera/sponsor-relay/libs/go/tasks"
)

// NameRegistrar is the off-chain name registry. *registry.Client satisfies it.
type NameRegistrar interface {
	Namespace() string
	Register(ctx context.Context, auth *authz.Authorization, signer registry.MessageSigner) (*registry.Result, error)
}

// Names validates register_name authorizations up front and registers them
// in the background.
type Names struct {
	validator *authz.Validator
	registrar NameRegistrar
	signer    registry.MessageSigner
	tracker   *tasks.Tracker
}

// NewNames creates the name registration flow.
func NewNames(validator *authz.Validator, registrar NameRegistrar, signer registry.MessageSigner, tracker *tasks.Tracker) *Names {
	return &Names{validator: validator, registrar: registrar, signer: signer, tracker: tracker}
}

// Spec is the register_name action for this registry.
func (n *Names) Spec() authz.ActionSpec {
	return actions.RegisterNameSpec(n.registrar.Namespace())
}

// Submit validates req and starts the registration. Invalid requests fail
// immediately and never create a task.
func (n *Names) Submit(ctx context.Context, req authz.Request) (tasks.Task, error) {
	if req.Action == "" {
		req.Action = actions.RegisterNameName
	}
	auth, err := n.validator.Validate(req, n.Spec())
	if err != nil {
		return tasks.Task{}, err
	}
	return n.tracker.Submit(ctx, actions.RegisterNameName, func(ctx context.Context) error {
		_, err := n.registrar.Register(ctx, auth, n.signer)
		return err
	}), nil
}

// Task returns the state of a submitted registration.
func (n *Names) Task(id string) (tasks.Task, bool) {
	return n.tracker.Get(id)
}
