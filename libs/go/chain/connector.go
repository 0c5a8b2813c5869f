package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/cyphera/sponsor-relay/libs/go/secrets"
)

// APIKeyPlaceholder marks where the provider key goes in an RPC URL template.
const APIKeyPlaceholder = "{api_key}"

// Connector opens a chain client for one execution.
type Connector interface {
	Connect(ctx context.Context) (Client, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (Client, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context) (Client, error) { return f(ctx) }

// GatedConnector dials an endpoint whose URL embeds a provider API key that
// only the secret gate can release. The key lives for one Connect call and
// is scrubbed from any error the client returns.
type GatedConnector struct {
	ChainName   string
	URLTemplate string
	Gate        *secrets.Gate
	// Sealed is nil for endpoints that need no key.
	Sealed *secrets.Sealed
}

// Connect implements Connector.
func (g *GatedConnector) Connect(ctx context.Context) (Client, error) {
	if g.Sealed == nil {
		if strings.Contains(g.URLTemplate, APIKeyPlaceholder) {
			return nil, fmt.Errorf("RPC URL for %s needs an API key but none is sealed", g.ChainName)
		}
		return Dial(ctx, g.ChainName, g.URLTemplate)
	}

	cred, err := g.Gate.Release(ctx, *g.Sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to release RPC credential for %s: %w", g.ChainName, err)
	}
	key := cred.Reveal()
	return Dial(ctx, g.ChainName, strings.ReplaceAll(g.URLTemplate, APIKeyPlaceholder, key), key)
}
