package relay

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// MaxMessageBytes bounds messages accepted for personal-sign.
const MaxMessageBytes = 4096

// SignMessage produces an EIP-191 personal-sign signature over message with
// the sponsor key, as one execution of a signing session.
func (r *Relay) SignMessage(ctx context.Context, session string, exec Execution, message []byte) (string, error) {
	if len(message) == 0 {
		return "", relayerr.Validation("empty_message", "message is required")
	}
	if len(message) > MaxMessageBytes {
		return "", relayerr.Validation("message_too_long", "message exceeds %d bytes", MaxMessageBytes)
	}

	digest := common.BytesToHash(accounts.TextHash(message))
	combined, err := r.sign(ctx, session, exec.Peer, digest)
	if err != nil {
		return "", err
	}

	signer, err := combined.Recover(digest[:])
	if err != nil {
		return "", relayerr.Signing("invalid_signature", "signature does not recover", err)
	}
	if signer != r.cfg.Sponsor {
		return "", relayerr.Signing("wrong_signer", "signature does not recover to the sponsor", nil)
	}
	return combined.PersonalSign(), nil
}
