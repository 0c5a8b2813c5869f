// Package signertest provides an in-process signing network.
package signertest

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cyphera/sponsor-relay/libs/go/signature"
	"github.com/cyphera/sponsor-relay/libs/go/signer"
)

// Network signs once Threshold peers of a session have asked for the same
// digest. Any disagreement on the digest fails the whole session.
type Network struct {
	threshold int
	keyID     string
	key       *ecdsa.PrivateKey
	shape     signature.Shape

	mu       sync.Mutex
	sessions map[string]*session
	requests int
}

type session struct {
	digest  [32]byte
	peers   map[int]bool
	done    chan struct{}
	settled bool
	sig     []byte
	err     error
}

// Option configures a Network.
type Option func(*Network)

// WithShape sets the response shape. The default is ShapeRecoveryID.
func WithShape(shape signature.Shape) Option { return func(n *Network) { n.shape = shape } }

// WithKeyID sets the key id the network answers for. The default is "sponsor".
func WithKeyID(id string) Option { return func(n *Network) { n.keyID = id } }

// NewNetwork creates a network holding key, combining threshold peers per session.
func NewNetwork(threshold int, key *ecdsa.PrivateKey, opts ...Option) *Network {
	if threshold < 1 {
		threshold = 1
	}
	n := &Network{
		threshold: threshold,
		keyID:     "sponsor",
		key:       key,
		shape:     signature.ShapeRecoveryID,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Address is the sponsor address of the network's key.
func (n *Network) Address() common.Address { return crypto.PubkeyToAddress(n.key.PublicKey) }

// KeyID is the key id the network answers for.
func (n *Network) KeyID() string { return n.keyID }

// Requests counts Sign calls received.
func (n *Network) Requests() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requests
}

// Sign implements signer.ThresholdSigner.
func (n *Network) Sign(ctx context.Context, req signer.Request) (signature.Raw, error) {
	if err := req.Validate(); err != nil {
		return signature.Raw{}, err
	}

	n.mu.Lock()
	n.requests++
	if req.KeyID != n.keyID {
		n.mu.Unlock()
		return signature.Raw{}, fmt.Errorf("unknown key %q", req.KeyID)
	}
	s, ok := n.sessions[req.Session]
	if !ok {
		s = &session{digest: req.Digest, peers: make(map[int]bool), done: make(chan struct{})}
		n.sessions[req.Session] = s
	}
	switch {
	case s.settled && s.digest != req.Digest:
		n.mu.Unlock()
		return signature.Raw{}, fmt.Errorf("peer %d digest disagrees with session %s", req.Peer, req.Session)
	case s.settled:
	case s.digest != req.Digest:
		n.settle(s, nil, fmt.Errorf("peers disagree on the digest for session %s", req.Session))
	default:
		s.peers[req.Peer] = true
		if len(s.peers) >= n.threshold {
			sig, err := crypto.Sign(s.digest[:], n.key)
			n.settle(s, sig, err)
		}
	}
	n.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		return signature.Raw{}, fmt.Errorf("quorum not reached for session %s: %w", req.Session, ctx.Err())
	}
	if s.err != nil {
		return signature.Raw{}, s.err
	}
	return n.encode(s.sig), nil
}

func (n *Network) settle(s *session, sig []byte, err error) {
	s.sig, s.err, s.settled = sig, err, true
	close(s.done)
}

// encode renders a 65-byte [r || s || recid] signature in the configured shape.
func (n *Network) encode(sig []byte) signature.Raw {
	r := hexutil.Encode(sig[:32])
	s := hexutil.Encode(sig[32:64])
	id := int(sig[64])
	switch n.shape {
	case signature.ShapeV:
		return signature.RawObject(map[string]interface{}{"r": r, "s": s, "v": float64(id + 27)})
	case signature.ShapeJoined65:
		joined := append(append([]byte{}, sig[:64]...), byte(id+27))
		return signature.RawText(hexutil.Encode(joined))
	case signature.ShapeBare64:
		return signature.RawText(hexutil.Encode(sig[:64]))
	case signature.ShapeUnrecognized:
		return signature.RawObject(map[string]interface{}{"partial": r})
	default:
		return signature.RawObject(map[string]interface{}{"r": r, "s": s, "recoveryId": float64(id)})
	}
}
