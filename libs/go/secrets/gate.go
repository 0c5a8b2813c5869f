// Package secrets releases sealed third-party credentials only inside the
// program build they were sealed for.
package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/cyphera/sponsor-relay/libs/go/logger"
)

const derivationContext = "sponsor-relay/secret-gate/v1"

// AccessCondition binds a sealed credential to one program by content hash.
type AccessCondition struct {
	ProgramHash string `json:"program_hash"`
}

// Sealed is an encrypted credential plus the condition for releasing it.
type Sealed struct {
	Label      string          `json:"label"`
	Condition  AccessCondition `json:"condition"`
	Nonce      string          `json:"nonce"`
	Ciphertext string          `json:"ciphertext"`
}

// Credential is a released secret. It formats as [redacted] everywhere;
// only Reveal returns the value.
type Credential struct {
	value string
}

// Reveal returns the plaintext credential.
func (c Credential) Reveal() string { return c.value }

func (c Credential) String() string   { return "[redacted]" }
func (c Credential) GoString() string { return "secrets.Credential{[redacted]}" }

// MarshalJSON keeps credentials out of serialized output.
func (c Credential) MarshalJSON() ([]byte, error) { return json.Marshal("[redacted]") }

// MasterKeySource supplies the key sealed credentials are derived from.
type MasterKeySource interface {
	MasterKey(ctx context.Context) ([]byte, error)
}

// StaticKey is a MasterKeySource for tests and local tooling.
type StaticKey []byte

// MasterKey implements MasterKeySource.
func (k StaticKey) MasterKey(context.Context) ([]byte, error) { return []byte(k), nil }

// ErrConditionNotMet is returned when the running program is not the one the
// credential was sealed for.
var ErrConditionNotMet = fmt.Errorf("access condition not met")

// Gate releases credentials for the current program.
type Gate struct {
	keys    MasterKeySource
	program Program
	logger  *zap.Logger
}

// NewGate creates a gate for program.
func NewGate(keys MasterKeySource, program Program) *Gate {
	return &Gate{keys: keys, program: program, logger: logger.Or(nil)}
}

// Program returns the identity the gate releases for.
func (g *Gate) Program() Program { return g.program }

// Release decrypts sealed if its condition names this program. The result is
// never cached; callers should drop it when their execution ends.
func (g *Gate) Release(ctx context.Context, sealed Sealed) (Credential, error) {
	want := strings.ToLower(sealed.Condition.ProgramHash)
	if subtle.ConstantTimeCompare([]byte(want), []byte(g.program.Hash)) != 1 {
		g.logger.Warn("Refusing to release credential for a different program",
			zap.String("label", sealed.Label),
			zap.String("program_hash", g.program.Hash),
		)
		return Credential{}, ErrConditionNotMet
	}

	master, err := g.keys.MasterKey(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to load master key: %w", err)
	}
	aead, err := newAEAD(master, want, sealed.Label)
	if err != nil {
		return Credential{}, err
	}
	nonce, err := hex.DecodeString(sealed.Nonce)
	if err != nil || len(nonce) != aead.NonceSize() {
		return Credential{}, fmt.Errorf("sealed credential %s has an invalid nonce", sealed.Label)
	}
	ciphertext, err := hex.DecodeString(sealed.Ciphertext)
	if err != nil {
		return Credential{}, fmt.Errorf("sealed credential %s has invalid ciphertext encoding", sealed.Label)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData(want, sealed.Label))
	if err != nil {
		return Credential{}, fmt.Errorf("failed to open sealed credential %s: %w", sealed.Label, err)
	}

	g.logger.Debug("Released credential", zap.String("label", sealed.Label))
	return Credential{value: string(plaintext)}, nil
}

// Seal encrypts plaintext so that only the program with programHash can release it.
func Seal(master []byte, programHash, label, plaintext string) (Sealed, error) {
	programHash = strings.ToLower(programHash)
	if !isHash(programHash) {
		return Sealed{}, fmt.Errorf("program hash must be 32 bytes of hex")
	}
	aead, err := newAEAD(master, programHash, label)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), additionalData(programHash, label))
	return Sealed{
		Label:      label,
		Condition:  AccessCondition{ProgramHash: programHash},
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ciphertext),
	}, nil
}

type aeadCipher interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func newAEAD(master []byte, programHash, label string) (aeadCipher, error) {
	if len(master) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes")
	}
	if label == "" {
		return nil, fmt.Errorf("credential label is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, master, nil, []byte(derivationContext+"|"+programHash+"|"+label))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive credential key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return aead, nil
}

func additionalData(programHash, label string) []byte {
	return []byte(programHash + "|" + label)
}
