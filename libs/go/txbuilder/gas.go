package txbuilder

import (
	"fmt"
	"math"
	"math/big"
)

// Gas limit safety margin over the node's estimate, as a ratio.
const (
	gasMarginNumerator   = 12
	gasMarginDenominator = 10
)

// GasQuote is the quorum-agreed chain state a transaction is assembled from.
type GasQuote struct {
	Nonce                uint64   `json:"nonce"`
	MaxFeePerGas         *big.Int `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas *big.Int `json:"max_priority_fee_per_gas"`
	GasEstimate          uint64   `json:"gas_estimate"`
}

// GasLimit returns ceil(estimate * 1.2).
func GasLimit(estimate uint64) (uint64, error) {
	if estimate == 0 {
		return 0, fmt.Errorf("gas estimate is zero")
	}
	if estimate > math.MaxUint64/gasMarginNumerator {
		return 0, fmt.Errorf("gas estimate %d is out of range", estimate)
	}
	return (estimate*gasMarginNumerator + gasMarginDenominator - 1) / gasMarginDenominator, nil
}
