package chain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/secrets"
)

func init() {
	logger.InitLogger("test")
}

func TestFeeDataFrom(t *testing.T) {
	fees := FeeDataFrom(big.NewInt(100), big.NewInt(7))

	assert.Equal(t, int64(100), fees.BaseFee.Int64())
	assert.Equal(t, int64(207), fees.MaxFeePerGas.Int64())
	assert.Equal(t, int64(7), fees.MaxPriorityFeePerGas.Int64())
}

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []interface{}   `json:"params"`
}

// fakeNode answers JSON-RPC calls with canned results or errors per method.
func fakeNode(t *testing.T, results map[string]interface{}, rpcErrors map[string]string) (*httptest.Server, *[]string) {
	t.Helper()
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req rpcRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		methods = append(methods, req.Method)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if msg, ok := rpcErrors[req.Method]; ok {
			resp["error"] = map[string]interface{}{"code": -32000, "message": msg}
		} else {
			resp["result"] = results[req.Method]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &methods
}

func TestRPCClient_Reads(t *testing.T) {
	srv, _ := fakeNode(t, map[string]interface{}{
		"eth_getTransactionCount":  "0x2a",
		"eth_estimateGas":          "0x5208",
		"eth_maxPriorityFeePerGas": "0x3b9aca00",
	}, nil)

	c, err := Dial(context.Background(), "testnet", srv.URL)
	require.NoError(t, err)
	defer c.Close()

	nonce, err := c.PendingNonceAt(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)

	gas, err := c.EstimateGas(context.Background(), ethereumCallMsg())
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), gas)
}

func TestRPCClient_SendRawTransaction(t *testing.T) {
	want := common.HexToHash("0xabc")
	srv, methods := fakeNode(t, map[string]interface{}{"eth_sendRawTransaction": want.Hex()}, nil)

	c, err := Dial(context.Background(), "testnet", srv.URL)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.SendRawTransaction(context.Background(), hexutil.MustDecode("0x02f8"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"eth_sendRawTransaction"}, *methods)
}

func TestRPCClient_SendRawTransactionNodeError(t *testing.T) {
	srv, _ := fakeNode(t, nil, map[string]string{"eth_sendRawTransaction": "nonce too low"})

	c, err := Dial(context.Background(), "testnet", srv.URL)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SendRawTransaction(context.Background(), []byte{0x02})
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32000, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "nonce too low")
}

func TestRPCClient_ScrubsSecretsFromErrors(t *testing.T) {
	c := &RPCClient{name: "testnet", secrets: nonEmpty([]string{"", "sk-live-123"})}

	err := c.scrub(errors.New(`Post "https://rpc.example/v3/sk-live-123": dial tcp: refused`))
	assert.NotContains(t, err.Error(), "sk-live-123")
	assert.Contains(t, err.Error(), "[redacted]")

	plain := errors.New("timeout")
	assert.Same(t, plain, c.scrub(plain))
}

func TestGatedConnector(t *testing.T) {
	srv, _ := fakeNode(t, map[string]interface{}{"eth_getTransactionCount": "0x1"}, nil)

	master := secrets.StaticKey([]byte(strings.Repeat("m", 32)))
	hash := strings.Repeat("12", 32)
	program, err := secrets.ProgramFromHash(hash)
	require.NoError(t, err)

	sealed, err := secrets.Seal(master, hash, "rpc_api_key", "key-1")
	require.NoError(t, err)

	t.Run("releases the key into the URL", func(t *testing.T) {
		conn := &GatedConnector{
			ChainName:   "testnet",
			URLTemplate: srv.URL + "/?key=" + APIKeyPlaceholder,
			Gate:        secrets.NewGate(master, program),
			Sealed:      &sealed,
		}
		c, err := conn.Connect(context.Background())
		require.NoError(t, err)
		defer c.Close()

		n, err := c.PendingNonceAt(context.Background(), common.Address{})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("refuses when the gate refuses", func(t *testing.T) {
		other, err := secrets.ProgramFromHash(strings.Repeat("34", 32))
		require.NoError(t, err)
		conn := &GatedConnector{
			ChainName:   "testnet",
			URLTemplate: srv.URL + "/?key=" + APIKeyPlaceholder,
			Gate:        secrets.NewGate(master, other),
			Sealed:      &sealed,
		}
		_, err = conn.Connect(context.Background())
		assert.ErrorIs(t, err, secrets.ErrConditionNotMet)
	})

	t.Run("template needs a key", func(t *testing.T) {
		conn := &GatedConnector{ChainName: "testnet", URLTemplate: srv.URL + "/" + APIKeyPlaceholder}
		_, err := conn.Connect(context.Background())
		assert.Error(t, err)
	})
}

func ethereumCallMsg() ethereum.CallMsg {
	to := common.HexToAddress("0x02")
	return ethereum.CallMsg{From: common.HexToAddress("0x01"), To: &to, Data: []byte{0x01}}
}
