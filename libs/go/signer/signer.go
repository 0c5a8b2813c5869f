// Package signer requests threshold signatures from the signing network.
// The relay addresses a key by its id; it never holds the key itself.
package signer

import (
	"context"
	"fmt"

	"github.com/cyphera/sponsor-relay/libs/go/signature"
)

// Request asks the network to sign Digest with KeyID. Every redundant
// execution of one invocation sends the same Session and its own Peer index;
// the network combines shares only when all peers agree on Digest.
type Request struct {
	Session string
	Peer    int
	KeyID   string
	Digest  [32]byte
}

// Validate rejects requests the network would refuse anyway.
func (r Request) Validate() error {
	if r.Session == "" {
		return fmt.Errorf("signing session is required")
	}
	if r.KeyID == "" {
		return fmt.Errorf("signing key id is required")
	}
	if r.Peer < 0 {
		return fmt.Errorf("peer index must not be negative")
	}
	if r.Digest == ([32]byte{}) {
		return fmt.Errorf("digest is empty")
	}
	return nil
}

// ThresholdSigner returns the network's combined signature, in whatever shape
// the network chose to send it.
type ThresholdSigner interface {
	Sign(ctx context.Context, req Request) (signature.Raw, error)
}
