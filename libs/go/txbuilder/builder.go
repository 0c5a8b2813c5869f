// Package txbuilder assembles the EIP-1559 transaction for a sponsored action.
package txbuilder

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/signature"
)

// Unsigned is an assembled transaction and the digest the sponsor key signs.
type Unsigned struct {
	Tx     *types.Transaction
	Signer types.Signer
	Digest common.Hash
}

// Assemble builds the unsigned transaction. Destination and chain id come from
// the action config only; calldata must come from the same action.
func Assemble(action *actions.Action, calldata []byte, quote GasQuote) (*Unsigned, error) {
	if quote.MaxFeePerGas == nil || quote.MaxFeePerGas.Sign() <= 0 {
		return nil, relayerr.Network("missing_fee_data", "max fee per gas is unavailable", nil)
	}
	if quote.MaxPriorityFeePerGas == nil || quote.MaxPriorityFeePerGas.Sign() < 0 {
		return nil, relayerr.Network("missing_fee_data", "max priority fee per gas is unavailable", nil)
	}
	if quote.MaxPriorityFeePerGas.Cmp(quote.MaxFeePerGas) > 0 {
		return nil, relayerr.Network("invalid_fee_data", "priority fee exceeds max fee", nil)
	}
	gasLimit, err := GasLimit(quote.GasEstimate)
	if err != nil {
		return nil, relayerr.Network("invalid_gas_estimate", "gas estimate is unusable", err)
	}
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], action.Method.ID) {
		return nil, fmt.Errorf("calldata does not call %s", action.Method.Sig)
	}

	to := action.Config.Contract
	chainID := new(big.Int).Set(action.Config.ChainID)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     quote.Nonce,
		GasTipCap: new(big.Int).Set(quote.MaxPriorityFeePerGas),
		GasFeeCap: new(big.Int).Set(quote.MaxFeePerGas),
		Gas:       gasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      append([]byte(nil), calldata...),
	})

	signer := types.LatestSignerForChainID(chainID)
	return &Unsigned{Tx: tx, Signer: signer, Digest: signer.Hash(tx)}, nil
}

// Attach embeds a combined signature and checks it recovers to sponsor.
func (u *Unsigned) Attach(sig signature.Combined, sponsor common.Address) (*types.Transaction, error) {
	signed, err := u.Tx.WithSignature(u.Signer, sig.TransactionSignature())
	if err != nil {
		return nil, relayerr.Signing("invalid_signature", "signature cannot be embedded in transaction", err)
	}
	from, err := types.Sender(u.Signer, signed)
	if err != nil {
		return nil, relayerr.Signing("invalid_signature", "failed to recover transaction sender", err)
	}
	if from != sponsor {
		return nil, relayerr.Signing("wrong_signer", fmt.Sprintf("transaction recovers to %s, not the sponsor", from.Hex()), nil)
	}
	return signed, nil
}
