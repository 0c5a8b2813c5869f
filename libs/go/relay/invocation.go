package relay

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// invocationKey is everything that makes two requests the same logical
// invocation. The signature is left out: only one signature can validate for
// a given actor and message, and the rest is covered by the fields below.
type invocationKey struct {
	Action    string            `json:"action"`
	Actor     string            `json:"actor"`
	Params    map[string]string `json:"params"`
	Nonce     string            `json:"nonce"`
	IssuedAt  int64             `json:"issued_at"`
	ExpiresAt int64             `json:"expires_at"`
	DryRun    bool              `json:"dry_run"`
}

// InvocationID derives the id of inv from its authorization. Every relay node
// that receives the same authorization computes the same id, so they share
// one quorum scope and one signing session.
func InvocationID(inv Invocation) string {
	// encoding/json writes map keys in sorted order.
	encoded, err := json.Marshal(invocationKey{
		Action:    inv.Action,
		Actor:     strings.ToLower(inv.Request.Actor),
		Params:    inv.Request.Params,
		Nonce:     strings.ToLower(inv.Request.Nonce),
		IssuedAt:  inv.Request.IssuedAt,
		ExpiresAt: inv.Request.ExpiresAt,
		DryRun:    inv.DryRun,
	})
	if err != nil {
		// map[string]string and scalars always encode
		panic(err)
	}
	return hex.EncodeToString(crypto.Keccak256(encoded))
}

// messageSession derives the signing session for a personal-sign request.
func messageSession(message []byte) string {
	return "msg-" + hex.EncodeToString(crypto.Keccak256(message))
}
