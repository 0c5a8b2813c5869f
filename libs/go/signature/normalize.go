// Package signature reconciles the shapes a threshold signature can arrive in
// into one 65-byte r || s || recovery form.
package signature

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// Shape identifies which recognized wire form a signature arrived in.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	// ShapeRecoveryID is {r, s, recoveryId|recid}.
	ShapeRecoveryID
	// ShapeV is {r, s, v} with v in {0,1,27,28}.
	ShapeV
	// ShapeJoined65 is a 65-byte hex string with the recovery byte appended.
	ShapeJoined65
	// ShapeBare64 is a 64-byte hex string with no recovery information.
	ShapeBare64
)

func (s Shape) String() string {
	switch s {
	case ShapeRecoveryID:
		return "r_s_recovery_id"
	case ShapeV:
		return "r_s_v"
	case ShapeJoined65:
		return "joined_65"
	case ShapeBare64:
		return "bare_64"
	default:
		return "unrecognized"
	}
}

// Parsed is a signature whose shape has been identified. HasRecovery is false
// only for ShapeBare64.
type Parsed struct {
	Shape       Shape
	R, S        [32]byte
	RecoveryID  byte
	HasRecovery bool
}

// Combined is the canonical signature: low-s, recovery id in {0,1}.
type Combined struct {
	R, S       [32]byte
	RecoveryID byte
}

// Options resolve signatures that lack recovery information. When both
// Digest and ExpectedSigner are set, a bare 64-byte signature is resolved by
// recovering with each candidate id; otherwise it is rejected.
type Options struct {
	Digest         []byte
	ExpectedSigner *common.Address
}

var recoveryKeys = []string{"recoveryId", "recoveryID", "recid", "recovery_id"}

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// Parse identifies the shape of raw. It never guesses a recovery id.
func Parse(raw Raw) (Parsed, error) {
	if raw.Object != nil {
		return parseObject(raw.Object)
	}
	return parseText(raw.Text)
}

func parseObject(obj map[string]interface{}) (Parsed, error) {
	rv, hasR := obj["r"]
	sv, hasS := obj["s"]
	if !hasR || !hasS {
		if joined, ok := obj["signature"].(string); ok {
			return parseText(joined)
		}
		return Parsed{}, unrecognized("object has neither r/s nor signature")
	}

	var p Parsed
	if err := decodeComponent("r", rv, &p.R); err != nil {
		return Parsed{}, err
	}
	if err := decodeComponent("s", sv, &p.S); err != nil {
		return Parsed{}, err
	}

	for _, key := range recoveryKeys {
		if v, ok := obj[key]; ok {
			id, err := toUint(key, v)
			if err != nil {
				return Parsed{}, err
			}
			if id > 1 {
				return Parsed{}, invalidRecovery(fmt.Sprintf("%s=%d", key, id))
			}
			p.Shape, p.RecoveryID, p.HasRecovery = ShapeRecoveryID, byte(id), true
			return p, nil
		}
	}

	if v, ok := obj["v"]; ok {
		raw, err := toUint("v", v)
		if err != nil {
			return Parsed{}, err
		}
		id, err := recoveryFromV(raw)
		if err != nil {
			return Parsed{}, err
		}
		p.Shape, p.RecoveryID, p.HasRecovery = ShapeV, id, true
		return p, nil
	}

	return Parsed{}, unrecognized("object has r/s but no recovery id or v")
}

func parseText(text string) (Parsed, error) {
	b, err := decodeHex(text)
	if err != nil {
		return Parsed{}, unrecognized("signature string is not hex")
	}

	var p Parsed
	switch len(b) {
	case 65:
		id, err := recoveryFromV(uint64(b[64]))
		if err != nil {
			return Parsed{}, err
		}
		copy(p.R[:], b[:32])
		copy(p.S[:], b[32:64])
		p.Shape, p.RecoveryID, p.HasRecovery = ShapeJoined65, id, true
	case 64:
		copy(p.R[:], b[:32])
		copy(p.S[:], b[32:])
		p.Shape = ShapeBare64
	default:
		return Parsed{}, unrecognized(fmt.Sprintf("signature string is %d bytes", len(b)))
	}
	return p, nil
}

// Combine turns a parsed signature into canonical form.
func (p Parsed) Combine(opts Options) (Combined, error) {
	c := Combined{R: p.R, S: p.S, RecoveryID: p.RecoveryID}
	if !p.HasRecovery {
		resolved, err := resolveRecovery(p, opts)
		if err != nil {
			return Combined{}, err
		}
		c.RecoveryID = resolved
	}
	return c.lowS(), nil
}

// Normalize parses and combines in one step.
func Normalize(raw Raw, opts Options) (Combined, error) {
	p, err := Parse(raw)
	if err != nil {
		return Combined{}, err
	}
	return p.Combine(opts)
}

func resolveRecovery(p Parsed, opts Options) (byte, error) {
	if len(opts.Digest) != 32 || opts.ExpectedSigner == nil {
		return 0, relayerr.Signing("missing_recovery_id", "signature has no recovery id", nil)
	}
	for id := byte(0); id <= 1; id++ {
		candidate := Combined{R: p.R, S: p.S, RecoveryID: id}
		addr, err := candidate.Recover(opts.Digest)
		if err == nil && addr == *opts.ExpectedSigner {
			return id, nil
		}
	}
	return 0, relayerr.Signing("missing_recovery_id", "signature does not recover to the signing key with any recovery id", nil)
}

// lowS flips s into the lower half of the curve order, which also flips the
// recovery id. Chains reject high-s transaction signatures.
func (c Combined) lowS() Combined {
	s := new(big.Int).SetBytes(c.S[:])
	if s.Cmp(secp256k1HalfN) <= 0 {
		return c
	}
	s.Sub(secp256k1N, s)
	s.FillBytes(c.S[:])
	c.RecoveryID ^= 1
	return c
}

// TransactionSignature is r || s || recovery id, the form go-ethereum embeds
// as yParity in typed transactions.
func (c Combined) TransactionSignature() []byte {
	out := make([]byte, 65)
	copy(out[:32], c.R[:])
	copy(out[32:64], c.S[:])
	out[64] = c.RecoveryID
	return out
}

// PersonalSign is the 0x-prefixed 65-byte EIP-191 encoding with v = recovery id + 27.
func (c Combined) PersonalSign() string {
	sig := c.TransactionSignature()
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

// Recover returns the address that produced this signature over digest.
func (c Combined) Recover(digest []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(digest, c.TransactionSignature())
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func recoveryFromV(v uint64) (byte, error) {
	id := v
	if v >= 27 {
		id = v - 27
	}
	if id > 1 {
		return 0, invalidRecovery(fmt.Sprintf("v=%d", v))
	}
	return byte(id), nil
}

func decodeComponent(name string, v interface{}, dst *[32]byte) error {
	s, ok := v.(string)
	if !ok {
		return unrecognized(fmt.Sprintf("%s is not a hex string", name))
	}
	b, err := decodeHex(s)
	if err != nil {
		return unrecognized(fmt.Sprintf("%s is not hex", name))
	}
	if len(b) != 32 {
		return relayerr.Signing("invalid_component_length", fmt.Sprintf("signature %s must be 32 bytes, got %d", name, len(b)), nil)
	}
	copy(dst[:], b)
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	return hex.DecodeString(s)
}

func toUint(name string, v interface{}) (uint64, error) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, invalidRecovery(fmt.Sprintf("%s=%v", name, n))
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, invalidRecovery(fmt.Sprintf("%s=%d", name, n))
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, invalidRecovery(fmt.Sprintf("%s=%d", name, n))
		}
		return uint64(n), nil
	case uint64:
		return n, nil
	case string:
		base := 10
		digits := n
		if strings.HasPrefix(n, "0x") || strings.HasPrefix(n, "0X") {
			base, digits = 16, n[2:]
		}
		parsed, err := strconv.ParseUint(digits, base, 8)
		if err != nil {
			return 0, invalidRecovery(fmt.Sprintf("%s=%q", name, n))
		}
		return parsed, nil
	default:
		return 0, invalidRecovery(fmt.Sprintf("%s has type %T", name, v))
	}
}

func unrecognized(detail string) error {
	return relayerr.Signing("unrecognized_signature", "unrecognized signature shape: "+detail, nil)
}

func invalidRecovery(detail string) error {
	return relayerr.Signing("invalid_recovery_id", "invalid signature recovery value: "+detail, nil)
}

// Equal reports whether two combined signatures are byte-identical.
func (c Combined) Equal(o Combined) bool {
	return bytes.Equal(c.TransactionSignature(), o.TransactionSignature())
}
