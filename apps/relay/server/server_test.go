package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cyphera/sponsor-relay/apps/relay/handlers"
	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/authz"
	"github.com/cyphera/sponsor-relay/libs/go/authz/authztest"
	"github.com/cyphera/sponsor-relay/libs/go/chain"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/middleware"
	"github.com/cyphera/sponsor-relay/libs/go/mocks"
	"github.com/cyphera/sponsor-relay/libs/go/quorum"
	"github.com/cyphera/sponsor-relay/libs/go/relay"
	"github.com/cyphera/sponsor-relay/libs/go/signature"
	"github.com/cyphera/sponsor-relay/libs/go/signer/signertest"
	"github.com/cyphera/sponsor-relay/libs/go/sponsorlock"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

var (
	registryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	now          = time.Unix(1_700_000_000, 0)
)

const operatorKey = "operator-secret"

type stack struct {
	router    *gin.Engine
	client    *mocks.MockClient
	network   *signertest.Network
	validator *authz.Validator
	action    *actions.Action
	actorKey  *ecdsa.PrivateKey
	connects  int32
}

func newStack(t *testing.T) *stack {
	t.Helper()
	sponsorKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	actorKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	s := &stack{
		client:    mocks.NewMockClientForTest(t),
		network:   signertest.NewNetwork(2, sponsorKey, signertest.WithShape(signature.ShapeV)),
		validator: authz.NewValidator(authz.WithClock(func() time.Time { return now })),
		actorKey:  actorKey,
	}
	s.client.EXPECT().Close().AnyTimes()

	s.action, err = actions.RegisterFor(actions.Config{Contract: registryAddr, ChainID: big.NewInt(84532), ChainName: "base-sepolia"})
	require.NoError(t, err)
	registry, err := actions.NewRegistry(s.action)
	require.NoError(t, err)

	connector := chain.ConnectorFunc(func(context.Context) (chain.Client, error) {
		atomic.AddInt32(&s.connects, 1)
		return s.client, nil
	})
	r, err := relay.New(relay.Config{Sponsor: s.network.Address(), KeyID: s.network.KeyID()}, registry, s.validator, connector, s.network)
	require.NoError(t, err)

	limiter := middleware.NewRateLimiter(100, 100)
	t.Cleanup(limiter.Stop)

	app := &App{
		Stage:     "local",
		Window:    s.validator.Window(),
		Sponsor:   s.network.Address(),
		ChainName: "base-sepolia",
		Cluster:   relay.NewCluster(r, quorum.NewLocalHub(), 2, relay.WithSponsorLock(sponsorlock.New())),
		OperatorKey: func(context.Context) (string, error) {
			return operatorKey, nil
		},
		Limiter: limiter,
	}
	s.router = gin.New()
	app.Routes(s.router)
	return s
}

func (s *stack) registerForBody(t *testing.T, deadline int64) map[string]interface{} {
	t.Helper()
	req := authz.Request{
		Action: actions.RegisterForName,
		Params: map[string]string{
			"id":   "0x" + strings.Repeat("11", 32),
			"cid":  "QmTest",
			"mode": "1",
		},
		Nonce:     "0x" + strings.Repeat("ab", 32),
		IssuedAt:  deadline - int64(s.validator.Window()/time.Second),
		ExpiresAt: deadline,
	}
	signed, err := authztest.Sign(s.validator, s.actorKey, req, s.action.Spec)
	require.NoError(t, err)

	return map[string]interface{}{
		"actor_address": signed.Actor,
		"id":            req.Params["id"],
		"cid":           req.Params["cid"],
		"mode":          1,
		"nonce":         req.Nonce,
		"deadline":      deadline,
		"signature":     signed.Signature,
	}
}

func (s *stack) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *stack) expectReads() {
	s.client.EXPECT().PendingNonceAt(gomock.Any(), s.network.Address()).Return(uint64(7), nil).Times(1)
	s.client.EXPECT().FeeData(gomock.Any()).Return(chain.FeeDataFrom(big.NewInt(1_000_000_000), big.NewInt(100_000_000)), nil).Times(1)
	s.client.EXPECT().EstimateGas(gomock.Any(), gomock.Any()).Return(uint64(80_000), nil).Times(1)
}

func TestRoutes_RegisterForBroadcast(t *testing.T) {
	s := newStack(t)
	s.expectReads()
	s.client.EXPECT().SendRawTransaction(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, raw []byte) (common.Hash, error) {
			var tx types.Transaction
			if err := tx.UnmarshalBinary(raw); err != nil {
				return common.Hash{}, err
			}
			return tx.Hash(), nil
		}).Times(1)

	w := s.do(http.MethodPost, "/api/v1/actions/register-for", s.registerForBody(t, now.Unix()+120), nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp relay.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.NotEmpty(t, resp.TxHash)
	assert.Empty(t, resp.SignedTx)
	assert.Equal(t, registryAddr.Hex(), resp.DestinationContract)
	assert.Equal(t, s.network.Address().Hex(), resp.SignerAddress)
	assert.NotEmpty(t, w.Header().Get(middleware.CorrelationIDHeader))
}

func TestRoutes_RegisterForDryRun(t *testing.T) {
	s := newStack(t)
	s.expectReads()

	body := s.registerForBody(t, now.Unix()+120)
	body["dry_run"] = true
	w := s.do(http.MethodPost, "/api/v1/actions/register-for", body, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp relay.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.OK)
	assert.True(t, resp.DryRun)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(hexutil.MustDecode(resp.SignedTx)))
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), &tx)
	require.NoError(t, err)
	assert.Equal(t, s.network.Address(), from)
	assert.Equal(t, uint64(7), tx.Nonce())
}

func TestRoutes_ExpiredMakesNoCalls(t *testing.T) {
	s := newStack(t)

	w := s.do(http.MethodPost, "/api/v1/actions/register-for", s.registerForBody(t, now.Unix()-1), nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp relay.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, authz.MsgExpired, resp.Error)
	assert.Equal(t, int32(0), atomic.LoadInt32(&s.connects))
	assert.Equal(t, 0, s.network.Requests())
}

func TestRoutes_MalformedRequestStopsAtValidation(t *testing.T) {
	s := newStack(t)

	body := s.registerForBody(t, now.Unix()+120)
	body["signature"] = "0x1234"
	w := s.do(http.MethodPost, "/api/v1/actions/register-for", body, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"validation"`)
	assert.Equal(t, int32(0), atomic.LoadInt32(&s.connects))
}

func TestRoutes_SignMessage(t *testing.T) {
	s := newStack(t)

	w := s.do(http.MethodPost, "/api/v1/messages/sign", map[string]string{"message": "hello registry"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, s.network.Requests())

	w = s.do(http.MethodPost, "/api/v1/messages/sign", map[string]string{"message": "hello registry"},
		map[string]string{middleware.APIKeyHeader: operatorKey})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp handlers.SignMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, s.network.Address().Hex(), resp.SignerAddress)

	raw := hexutil.MustDecode(resp.Signature)
	require.Len(t, raw, 65)
	require.Contains(t, []byte{27, 28}, raw[64])
	raw[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte("hello registry")), raw)
	require.NoError(t, err)
	assert.Equal(t, s.network.Address(), crypto.PubkeyToAddress(*pub))
}

func TestRoutes_HealthAndUnknown(t *testing.T) {
	s := newStack(t)

	w := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), s.network.Address().Hex())

	// no name registry configured
	w = s.do(http.MethodPost, "/api/v1/names", map[string]string{"label": "alice"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}
