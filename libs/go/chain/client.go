// Package chain is the relay's view of one chain RPC endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
)

// FeeData mirrors the fee suggestion a wallet would use for an EIP-1559 transaction.
type FeeData struct {
	BaseFee              *big.Int `json:"base_fee"`
	MaxFeePerGas         *big.Int `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas *big.Int `json:"max_priority_fee_per_gas"`
}

// Client is the subset of JSON-RPC the relay uses.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	FeeData(ctx context.Context) (FeeData, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	Close()
}

// RPCError is a JSON-RPC error returned by the node, as opposed to a transport failure.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPCClient talks to one endpoint over go-ethereum's rpc client.
type RPCClient struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	name    string
	secrets []string
	logger  *zap.Logger
}

// Dial connects to rawURL. Any value in secrets is scrubbed from returned
// errors, since transport errors quote the URL.
func Dial(ctx context.Context, chainName, rawURL string, secrets ...string) (*RPCClient, error) {
	c := &RPCClient{name: chainName, secrets: nonEmpty(secrets), logger: logger.Or(nil)}
	rc, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", chainName, c.scrub(err))
	}
	c.rpc = rc
	c.eth = ethclient.NewClient(rc)

	c.logger.Debug("Connected to chain RPC", zap.String("chain", chainName))
	return c, nil
}

// PendingNonceAt returns the sponsor's nonce including pending transactions.
func (c *RPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce on %s: %w", c.name, c.scrub(err))
	}
	return nonce, nil
}

// FeeData derives EIP-1559 fees as 2 * base fee + suggested tip.
func (c *RPCClient) FeeData(ctx context.Context) (FeeData, error) {
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeData{}, fmt.Errorf("failed to get latest header on %s: %w", c.name, c.scrub(err))
	}
	if head.BaseFee == nil {
		return FeeData{}, fmt.Errorf("%s does not report a base fee", c.name)
	}
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return FeeData{}, fmt.Errorf("failed to get gas tip on %s: %w", c.name, c.scrub(err))
	}
	return FeeDataFrom(head.BaseFee, tip), nil
}

// FeeDataFrom applies the fee policy to a base fee and tip.
func FeeDataFrom(baseFee, tip *big.Int) FeeData {
	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return FeeData{
		BaseFee:              new(big.Int).Set(baseFee),
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: new(big.Int).Set(tip),
	}
}

// EstimateGas asks the node how much gas msg needs.
func (c *RPCClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas on %s: %w", c.name, c.scrub(err))
	}
	return gas, nil
}

// SendRawTransaction submits a serialized signed transaction.
func (c *RPCClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return common.Hash{}, &RPCError{Code: rpcErr.ErrorCode(), Message: c.scrubString(rpcErr.Error())}
		}
		return common.Hash{}, fmt.Errorf("failed to send transaction on %s: %w", c.name, c.scrub(err))
	}
	return hash, nil
}

// Close releases the underlying connection.
func (c *RPCClient) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

type scrubbedError struct {
	msg   string
	cause error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.cause }

func (c *RPCClient) scrub(err error) error {
	if err == nil || len(c.secrets) == 0 {
		return err
	}
	msg := err.Error()
	clean := c.scrubString(msg)
	if clean == msg {
		return err
	}
	return &scrubbedError{msg: clean, cause: errors.Unwrap(err)}
}

func (c *RPCClient) scrubString(s string) string {
	for _, secret := range c.secrets {
		s = strings.ReplaceAll(s, secret, "[redacted]")
	}
	return s
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
