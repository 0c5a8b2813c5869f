package txbuilder

import (
	"math"
	"math/big"
	"strings"
	"testing"
	"testing/quick"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/authz"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/signature"
)

var (
	registry = common.HexToAddress("0x1111111111111111111111111111111111111111")
	cfg      = actions.Config{Contract: registry, ChainID: big.NewInt(8453), ChainName: "base"}
)

func quote() GasQuote {
	return GasQuote{
		Nonce:                7,
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000),
		GasEstimate:          100_001,
	}
}

func auth(actor common.Address, id [32]byte, cid string, mode uint8, nonce [32]byte, expires int64) *authz.Authorization {
	return &authz.Authorization{
		Actor:  actor,
		Action: actions.RegisterForName,
		Params: map[string]string{
			"id":   common.Hash(id).Hex(),
			"cid":  cid,
			"mode": string(rune('0' + mode%3)),
		},
		Nonce:     nonce,
		ExpiresAt: expires,
		Signature: make([]byte, 65),
	}
}

func TestGasLimit(t *testing.T) {
	tests := []struct {
		estimate uint64
		want     uint64
		wantErr  bool
	}{
		{21_000, 25_200, false},
		{100_001, 120_002, false},
		{1, 2, false},
		{5, 6, false},
		{0, 0, true},
		{math.MaxUint64 / 10, 0, true},
	}

	for _, tt := range tests {
		got, err := GasLimit(tt.estimate)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestGasLimit_MarginProperty(t *testing.T) {
	property := func(estimate uint32) bool {
		if estimate == 0 {
			return true
		}
		limit, err := GasLimit(uint64(estimate))
		if err != nil {
			return false
		}
		// limit >= ceil(estimate * 1.2) and never more than one unit above it
		return limit*10 >= uint64(estimate)*12 && (limit-1)*10 < uint64(estimate)*12
	}
	require.NoError(t, quick.Check(property, nil))
}

func TestAssemble(t *testing.T) {
	action, err := actions.RegisterFor(cfg)
	require.NoError(t, err)
	data, err := action.Calldata(auth(common.HexToAddress("0xaa"), [32]byte{1}, "QmTest", 1, [32]byte{2}, 1_700_000_120))
	require.NoError(t, err)

	unsigned, err := Assemble(action, data, quote())
	require.NoError(t, err)

	tx := unsigned.Tx
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, registry, *tx.To())
	assert.Equal(t, big.NewInt(8453), tx.ChainId())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_002), tx.Gas())
	assert.Equal(t, 0, tx.Value().Sign())
	assert.Equal(t, big.NewInt(2_000_000_000), tx.GasFeeCap())
	assert.Equal(t, big.NewInt(1_000_000), tx.GasTipCap())
	assert.Equal(t, data, tx.Data())
	assert.Equal(t, unsigned.Signer.Hash(tx), unsigned.Digest)
}

func TestAssemble_FeeDataErrors(t *testing.T) {
	action, err := actions.RegisterFor(cfg)
	require.NoError(t, err)
	data, err := action.Calldata(auth(common.HexToAddress("0xaa"), [32]byte{1}, "QmTest", 1, [32]byte{2}, 1))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(q *GasQuote)
		code   string
	}{
		{"missing max fee", func(q *GasQuote) { q.MaxFeePerGas = nil }, "missing_fee_data"},
		{"missing priority fee", func(q *GasQuote) { q.MaxPriorityFeePerGas = nil }, "missing_fee_data"},
		{"tip above cap", func(q *GasQuote) { q.MaxPriorityFeePerGas = big.NewInt(3_000_000_000) }, "invalid_fee_data"},
		{"zero estimate", func(q *GasQuote) { q.GasEstimate = 0 }, "invalid_gas_estimate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := quote()
			tt.mutate(&q)
			_, err := Assemble(action, data, q)
			require.Error(t, err)
			re := relayerr.From(err)
			assert.Equal(t, relayerr.CategoryNetwork, re.Category)
			assert.Equal(t, tt.code, re.Code)
		})
	}
}

func TestAssemble_RejectsForeignCalldata(t *testing.T) {
	action, err := actions.RegisterFor(cfg)
	require.NoError(t, err)

	transfer := append(crypto.Keccak256([]byte("transfer(address,uint256)"))[:4], make([]byte, 64)...)
	_, err = Assemble(action, transfer, quote())
	assert.ErrorContains(t, err, "does not call registerFor")

	_, err = Assemble(action, nil, quote())
	assert.Error(t, err)
}

func TestAssemble_CallerInputNeverChangesDestination(t *testing.T) {
	action, err := actions.RegisterFor(cfg)
	require.NoError(t, err)

	property := func(actor [20]byte, id [32]byte, cid string, mode uint8, nonce [32]byte, expires uint32, txNonce uint64, estimate uint16) bool {
		cid = strings.ToValidUTF8(cid, "")
		data, err := action.Calldata(auth(common.Address(actor), id, cid, mode, nonce, int64(expires)))
		if err != nil {
			return false
		}
		q := quote()
		q.Nonce = txNonce
		q.GasEstimate = uint64(estimate) + 1
		unsigned, err := Assemble(action, data, q)
		if err != nil {
			return false
		}
		return *unsigned.Tx.To() == registry && unsigned.Tx.ChainId().Cmp(big.NewInt(8453)) == 0 && unsigned.Tx.Value().Sign() == 0
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 300}))
}

func TestAttach(t *testing.T) {
	action, err := actions.RegisterFor(cfg)
	require.NoError(t, err)
	data, err := action.Calldata(auth(common.HexToAddress("0xaa"), [32]byte{1}, "QmTest", 1, [32]byte{2}, 1))
	require.NoError(t, err)
	unsigned, err := Assemble(action, data, quote())
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsor := crypto.PubkeyToAddress(key.PublicKey)
	raw, err := crypto.Sign(unsigned.Digest.Bytes(), key)
	require.NoError(t, err)
	combined, err := signature.Normalize(signature.RawText(common.Bytes2Hex(raw)), signature.Options{})
	require.NoError(t, err)

	signed, err := unsigned.Attach(combined, sponsor)
	require.NoError(t, err)
	from, err := types.Sender(unsigned.Signer, signed)
	require.NoError(t, err)
	assert.Equal(t, sponsor, from)
	v, _, _ := signed.RawSignatureValues()
	assert.True(t, v.Uint64() == 0 || v.Uint64() == 1)

	_, err = unsigned.Attach(combined, common.HexToAddress("0xbb"))
	require.Error(t, err)
	assert.Equal(t, "wrong_signer", relayerr.From(err).Code)
}
