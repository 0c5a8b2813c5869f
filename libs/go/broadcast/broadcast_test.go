package broadcast_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cyphera/sponsor-relay/libs/go/broadcast"
	"github.com/cyphera/sponsor-relay/libs/go/chain"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/mocks"
	"github.com/cyphera/sponsor-relay/libs/go/quorum"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

func init() {
	logger.InitLogger("test")
}

func signedTx(t *testing.T) (*types.Transaction, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	chainID := big.NewInt(84532)
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(3),
		Gas:       60000,
		To:        &to,
		Data:      []byte{0xde, 0xad, 0xbe, 0xef},
	})
	require.NoError(t, err)
	return tx, crypto.PubkeyToAddress(key.PublicKey)
}

func TestBroadcast_DryRunMakesNoCalls(t *testing.T) {
	tx, sponsor := signedTx(t)
	client := mocks.NewMockClientForTest(t)

	res, err := broadcast.New().Broadcast(context.Background(), quorum.NewLocalHub().Scope("inv"), client, tx, true)
	require.NoError(t, err)
	assert.False(t, res.Broadcast)
	assert.Equal(t, tx.Hash(), res.Hash)

	var decoded types.Transaction
	require.NoError(t, decoded.UnmarshalBinary(res.Raw))
	from, err := types.Sender(types.LatestSignerForChainID(decoded.ChainId()), &decoded)
	require.NoError(t, err)
	assert.Equal(t, sponsor, from)
}

func TestBroadcast_SendsOncePerInvocation(t *testing.T) {
	tx, _ := signedTx(t)
	client := mocks.NewMockClientForTest(t)
	client.EXPECT().SendRawTransaction(gomock.Any(), gomock.Any()).Return(tx.Hash(), nil).Times(1)

	hub := quorum.NewLocalHub()
	b := broadcast.New()

	var wg sync.WaitGroup
	results := make([]*broadcast.Result, 3)
	errs := make([]error, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Broadcast(context.Background(), hub.Scope("inv-1"), client, tx, false)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.NoError(t, errs[i])
		assert.True(t, res.Broadcast)
		assert.Equal(t, tx.Hash(), res.Hash)
	}
}

func TestBroadcast_FailureIsSharedAndClassified(t *testing.T) {
	tx, _ := signedTx(t)
	client := mocks.NewMockClientForTest(t)
	client.EXPECT().SendRawTransaction(gomock.Any(), gomock.Any()).
		Return(common.Hash{}, &chain.RPCError{Code: -32000, Message: "nonce too low"}).Times(1)

	hub := quorum.NewLocalHub()
	b := broadcast.New()
	for i := 0; i < 2; i++ {
		_, err := b.Broadcast(context.Background(), hub.Scope("inv-2"), client, tx, false)
		require.Error(t, err)
		re := relayerr.From(err)
		assert.Equal(t, relayerr.CategoryBroadcastRejected, re.Category)
		assert.Equal(t, "nonce_too_low", re.Code)
		assert.False(t, re.Retryable())
	}
}

func TestBroadcast_AlreadyKnownIsSuccess(t *testing.T) {
	for _, msg := range []string{"already known", "known transaction: 0x1234"} {
		t.Run(msg, func(t *testing.T) {
			tx, _ := signedTx(t)
			client := mocks.NewMockClientForTest(t)
			client.EXPECT().SendRawTransaction(gomock.Any(), gomock.Any()).
				Return(common.Hash{}, &chain.RPCError{Code: -32000, Message: msg}).Times(1)

			res, err := broadcast.New().Broadcast(context.Background(), quorum.NewLocalHub().Scope("inv-known"), client, tx, false)
			require.NoError(t, err)
			assert.True(t, res.Broadcast)
			assert.Equal(t, tx.Hash(), res.Hash)
		})
	}
	assert.False(t, broadcast.AlreadyKnown(errors.New("already known")), "only node errors count")
	assert.False(t, broadcast.AlreadyKnown(nil))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category relayerr.Category
		code     string
	}{
		{"nonce too low", &chain.RPCError{Code: -32000, Message: "nonce too low: next nonce 8, tx nonce 7"}, relayerr.CategoryBroadcastRejected, "nonce_too_low"},
		{"underpriced replacement", &chain.RPCError{Code: -32000, Message: "replacement transaction underpriced"}, relayerr.CategoryBroadcastRejected, "replacement_underpriced"},
		{"insufficient funds", &chain.RPCError{Code: -32000, Message: "Insufficient funds for gas * price + value"}, relayerr.CategoryBroadcastRejected, "insufficient_funds"},
		{"gas limit", &chain.RPCError{Code: -32000, Message: "exceeds block gas limit"}, relayerr.CategoryBroadcastRejected, "exceeds_block_gas_limit"},
		{"other node error", &chain.RPCError{Code: -32603, Message: "internal error"}, relayerr.CategoryBroadcastTransient, "broadcast_failed"},
		{"transport", errors.New("connection reset by peer"), relayerr.CategoryBroadcastTransient, "broadcast_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := relayerr.From(broadcast.Classify(tt.err))
			assert.Equal(t, tt.category, re.Category)
			assert.Equal(t, tt.code, re.Code)
			assert.ErrorIs(t, re, tt.err)
		})
	}
}
