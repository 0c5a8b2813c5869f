// Package registry registers name labels with the off-chain name registry.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/cyphera/sponsor-relay/libs/go/authz"
	httpclient "github.com/cyphera/sponsor-relay/libs/go/client/http"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/secrets"
)

// Relay authentication headers.
const (
	HeaderRelayAddress   = "X-Relay-Address"
	HeaderRelaySignature = "X-Relay-Signature"
	HeaderAPIKey         = "X-API-Key"
)

// MessageSigner signs an EIP-191 message with the relay's sponsor key.
type MessageSigner interface {
	SignMessage(ctx context.Context, message []byte) (signature string, signer common.Address, err error)
}

// Releaser releases a sealed credential. *secrets.Gate satisfies it.
type Releaser interface {
	Release(ctx context.Context, sealed secrets.Sealed) (secrets.Credential, error)
}

// Registration is the body the registry expects.
type Registration struct {
	Label     string `json:"label"`
	Actor     string `json:"actor_address"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

// Result is the registry's answer.
type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Config configures the client. SealedAPIKey is optional.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	Gate         Releaser
	SealedAPIKey *secrets.Sealed
	HTTPOptions  []httpclient.ClientOption
}

// Client talks to the name registry.
type Client struct {
	http   *httpclient.HTTPClient
	host   string
	gate   Releaser
	sealed *secrets.Sealed
	logger *zap.Logger
}

// NewClient creates a registry client.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid name registry URL %q", cfg.BaseURL)
	}
	if cfg.SealedAPIKey != nil && cfg.Gate == nil {
		return nil, fmt.Errorf("a sealed registry API key needs a secret gate")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	opts := append([]httpclient.ClientOption{
		httpclient.WithBaseURL(cfg.BaseURL),
		httpclient.WithTimeout(timeout),
	}, cfg.HTTPOptions...)

	return &Client{
		http:   httpclient.NewHTTPClient(opts...),
		host:   strings.ToLower(u.Host),
		gate:   cfg.Gate,
		sealed: cfg.SealedAPIKey,
		logger: logger.Or(nil),
	}, nil
}

// Namespace is the signing namespace of register_name authorizations for
// this registry.
func (c *Client) Namespace() string {
	return "names:" + c.host
}

// Register submits a validated register_name authorization. The relay signs
// the actor's canonical message so the registry knows the request came
// through the relay.
func (c *Client) Register(ctx context.Context, auth *authz.Authorization, signer MessageSigner) (*Result, error) {
	relaySig, relayAddr, err := signer.SignMessage(ctx, auth.Message)
	if err != nil {
		return nil, err
	}

	options := []httpclient.RequestOption{
		httpclient.WithHeader(HeaderRelayAddress, relayAddr.Hex()),
		httpclient.WithHeader(HeaderRelaySignature, relaySig),
	}
	if c.sealed != nil {
		cred, err := c.gate.Release(ctx, *c.sealed)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.CategoryInternal, "credential_unavailable", "registry credential unavailable", err)
		}
		options = append(options, httpclient.WithHeader(HeaderAPIKey, cred.Reveal()))
	}

	body := Registration{
		Label:     auth.Param("label"),
		Actor:     strings.ToLower(auth.Actor.Hex()),
		Nonce:     auth.Nonce.Hex(),
		Timestamp: auth.IssuedAt,
		Deadline:  auth.ExpiresAt,
		Signature: hexutil.Encode(auth.Signature),
	}

	resp, err := c.http.Post(ctx, "/names", body, options...)
	if err != nil {
		return nil, classify(err)
	}

	var out Result
	if err := c.http.ProcessJSONResponse(resp, &out); err != nil {
		return nil, relayerr.Network("registry_bad_response", "name registry returned an unreadable response", err)
	}
	c.logger.Info("Registered name",
		zap.String("label", body.Label),
		zap.String("actor", body.Actor),
		zap.String("status", out.Status),
	)
	return &out, nil
}

func classify(err error) error {
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) {
		return relayerr.Network("registry_unavailable", "name registry is unavailable, try again", err)
	}
	switch {
	case httpErr.StatusCode == http.StatusConflict:
		return relayerr.Wrap(relayerr.CategoryBroadcastRejected, "nonce_already_used", "nonce already used", err)
	case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
		return relayerr.Wrap(relayerr.CategoryAuthorization, "registry_unauthorized", "name registry refused the authorization", err)
	case httpErr.StatusCode < 500:
		return relayerr.Wrap(relayerr.CategoryValidation, "registry_rejected", "name registry rejected the request", err)
	default:
		return relayerr.Network("registry_unavailable", "name registry is unavailable, try again", err)
	}
}
