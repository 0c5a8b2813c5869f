// Package authztest signs authorization requests for tests and local tooling.
package authztest

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cyphera/sponsor-relay/libs/go/authz"
)

// Sign fills req.Actor from key and sets req.Signature to an EIP-191
// signature over the canonical message, with v in {27,28} as wallets produce.
func Sign(v *authz.Validator, key *ecdsa.PrivateKey, req authz.Request, spec authz.ActionSpec) (authz.Request, error) {
	req.Actor = crypto.PubkeyToAddress(key.PublicKey).Hex()
	msg, err := v.Message(req, spec)
	if err != nil {
		return req, fmt.Errorf("failed to build message: %w", err)
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return req, fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	req.Signature = "0x" + hex.EncodeToString(sig)
	return req, nil
}
