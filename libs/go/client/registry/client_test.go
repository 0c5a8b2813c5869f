package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyphera/sponsor-relay/libs/go/authz"
	httpclient "github.com/cyphera/sponsor-relay/libs/go/client/http"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/secrets"
)

func init() {
	logger.InitLogger("test")
}

var relayAddr = common.HexToAddress("0x00000000000000000000000000000000000000bb")

type fakeSigner struct{ messages [][]byte }

func (f *fakeSigner) SignMessage(ctx context.Context, message []byte) (string, common.Address, error) {
	f.messages = append(f.messages, message)
	return "0x" + strings.Repeat("ab", 65), relayAddr, nil
}

func authorization() *authz.Authorization {
	return &authz.Authorization{
		Actor:     common.HexToAddress("0x000000000000000000000000000000000000AAAA"),
		Action:    "register_name",
		Params:    map[string]string{"label": "alice"},
		Nonce:     common.HexToHash("0x11"),
		IssuedAt:  1700000000,
		ExpiresAt: 1700000120,
		Message:   []byte("sponsor-relay:v1\naction=register_name"),
		Signature: []byte{0x01, 0x02},
	}
}

func noRetry() httpclient.ClientOption { return httpclient.WithRetryConfig(nil) }

func TestClient_Register(t *testing.T) {
	master := secrets.StaticKey([]byte(strings.Repeat("m", 32)))
	hash := strings.Repeat("ef", 32)
	sealed, err := secrets.Seal(master, hash, "registry_api_key", "reg-key")
	require.NoError(t, err)
	program, err := secrets.ProgramFromHash(hash)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/names", r.URL.Path)
		assert.Equal(t, relayAddr.Hex(), r.Header.Get(HeaderRelayAddress))
		assert.Len(t, r.Header.Get(HeaderRelaySignature), 132)
		assert.Equal(t, "reg-key", r.Header.Get(HeaderAPIKey))

		var body Registration
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body.Label)
		assert.Equal(t, "0x000000000000000000000000000000000000aaaa", body.Actor)
		assert.Equal(t, int64(1700000000), body.Timestamp)
		assert.Equal(t, int64(1700000120), body.Deadline)
		assert.Equal(t, "0x0102", body.Signature)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Result{Name: "alice", Status: "registered"})
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		BaseURL:      srv.URL,
		Timeout:      time.Second,
		Gate:         secrets.NewGate(master, program),
		SealedAPIKey: &sealed,
		HTTPOptions:  []httpclient.ClientOption{noRetry()},
	})
	require.NoError(t, err)

	signer := &fakeSigner{}
	res, err := c.Register(context.Background(), authorization(), signer)
	require.NoError(t, err)
	assert.Equal(t, "registered", res.Status)
	require.Len(t, signer.messages, 1)
	assert.Equal(t, authorization().Message, signer.messages[0])
}

func TestClient_RegisterErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		category relayerr.Category
		message  string
	}{
		{"nonce reused", http.StatusConflict, relayerr.CategoryBroadcastRejected, "nonce already used"},
		{"unauthorized", http.StatusUnauthorized, relayerr.CategoryAuthorization, "name registry refused the authorization"},
		{"bad label", http.StatusUnprocessableEntity, relayerr.CategoryValidation, "name registry rejected the request"},
		{"down", http.StatusServiceUnavailable, relayerr.CategoryNetwork, "name registry is unavailable, try again"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c, err := NewClient(Config{BaseURL: srv.URL, HTTPOptions: []httpclient.ClientOption{noRetry()}})
			require.NoError(t, err)

			_, err = c.Register(context.Background(), authorization(), &fakeSigner{})
			re := relayerr.From(err)
			require.NotNil(t, re)
			assert.Equal(t, tt.category, re.Category)
			assert.Equal(t, tt.message, re.Message)
		})
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "https://names.example", SealedAPIKey: &secrets.Sealed{}})
	assert.Error(t, err)

	c, err := NewClient(Config{BaseURL: "https://Names.Example/api"})
	require.NoError(t, err)
	assert.Equal(t, "names:names.example", c.Namespace())
}
