package relay_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/authz"
	"github.com/cyphera/sponsor-relay/libs/go/authz/authztest"
	"github.com/cyphera/sponsor-relay/libs/go/client/registry"
	"github.com/cyphera/sponsor-relay/libs/go/constants"
	"github.com/cyphera/sponsor-relay/libs/go/relay"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/tasks"
)

type fakeRegistrar struct {
	mu    sync.Mutex
	auths []*authz.Authorization
	err   error
}

func (f *fakeRegistrar) Namespace() string { return "names:registry.test" }

func (f *fakeRegistrar) Register(ctx context.Context, auth *authz.Authorization, signer registry.MessageSigner) (*registry.Result, error) {
	f.mu.Lock()
	f.auths = append(f.auths, auth)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &registry.Result{Name: auth.Param("label"), Status: "registered"}, nil
}

type nopSigner struct{}

func (nopSigner) SignMessage(context.Context, []byte) (string, common.Address, error) {
	return "0x", common.Address{}, nil
}

func nameRequest(t *testing.T, v *authz.Validator, spec authz.ActionSpec, label string, expiresAt int64) authz.Request {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	req, err := authztest.Sign(v, key, authz.Request{
		Action:    actions.RegisterNameName,
		Params:    map[string]string{"label": label},
		Nonce:     "0x" + strings.Repeat("cd", 32),
		IssuedAt:  expiresAt - 120,
		ExpiresAt: expiresAt,
	}, spec)
	require.NoError(t, err)
	return req
}

func TestNames_Submit(t *testing.T) {
	v := authz.NewValidator(authz.WithClock(func() time.Time { return now }))
	categorize := func(err error) string { return string(relayerr.CategoryOf(err)) }

	t.Run("succeeds in the background", func(t *testing.T) {
		reg := &fakeRegistrar{}
		tracker := tasks.NewTracker(tasks.WithCategorizer(categorize))
		names := relay.NewNames(v, reg, nopSigner{}, tracker)

		task, err := names.Submit(context.Background(), nameRequest(t, v, names.Spec(), "alice", now.Unix()+100))
		require.NoError(t, err)
		assert.Equal(t, constants.PendingStatus, task.Status)

		require.NoError(t, tracker.Wait(context.Background()))
		got, ok := names.Task(task.ID)
		require.True(t, ok)
		assert.Equal(t, constants.SucceededStatus, got.Status)
		require.Len(t, reg.auths, 1)
		assert.Equal(t, "alice", reg.auths[0].Param("label"))
	})

	t.Run("registry failure is observable", func(t *testing.T) {
		reg := &fakeRegistrar{err: relayerr.Wrap(relayerr.CategoryBroadcastRejected, "nonce_already_used", "nonce already used", errors.New("409"))}
		tracker := tasks.NewTracker(tasks.WithCategorizer(categorize))
		names := relay.NewNames(v, reg, nopSigner{}, tracker)

		task, err := names.Submit(context.Background(), nameRequest(t, v, names.Spec(), "alice", now.Unix()+100))
		require.NoError(t, err)
		require.NoError(t, tracker.Wait(context.Background()))

		got, _ := names.Task(task.ID)
		assert.Equal(t, constants.FailedStatus, got.Status)
		assert.Contains(t, got.Reason, "nonce already used")
		assert.Equal(t, string(relayerr.CategoryBroadcastRejected), got.Category)
	})

	t.Run("invalid requests never start a task", func(t *testing.T) {
		reg := &fakeRegistrar{}
		names := relay.NewNames(v, reg, nopSigner{}, tasks.NewTracker())

		_, err := names.Submit(context.Background(), nameRequest(t, v, names.Spec(), "alice", now.Unix()-1))
		assert.Equal(t, relayerr.CategoryAuthorization, relayerr.CategoryOf(err))

		_, err = names.Submit(context.Background(), nameRequest(t, v, names.Spec(), "Not_A_Label", now.Unix()+100))
		assert.Equal(t, relayerr.CategoryValidation, relayerr.CategoryOf(err))
		assert.Empty(t, reg.auths)
	})
}
