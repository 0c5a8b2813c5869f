package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Program identifies a program build by the sha256 of its content.
type Program struct {
	Hash string
}

// ProgramFromHash wraps a known content hash.
func ProgramFromHash(hash string) (Program, error) {
	hash = strings.ToLower(strings.TrimPrefix(hash, "0x"))
	if !isHash(hash) {
		return Program{}, fmt.Errorf("program hash must be 32 bytes of hex")
	}
	return Program{Hash: hash}, nil
}

// ProgramFromFile hashes the file at path.
func ProgramFromFile(path string) (Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return Program{}, fmt.Errorf("failed to open program %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Program{}, fmt.Errorf("failed to hash program %s: %w", path, err)
	}
	return Program{Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

// CurrentProgram hashes the running executable.
func CurrentProgram() (Program, error) {
	path, err := os.Executable()
	if err != nil {
		return Program{}, fmt.Errorf("failed to locate running executable: %w", err)
	}
	return ProgramFromFile(path)
}

func isHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// SecretStringGetter is implemented by the Secrets Manager client.
type SecretStringGetter interface {
	GetSecretString(ctx context.Context, secretArnEnvVar string, fallbackEnvVar string) (string, error)
}

// SecretsManagerKey loads the hex master key through Secrets Manager once and
// keeps it for the life of the process. Failed loads are retried on next use.
type SecretsManagerKey struct {
	client      SecretStringGetter
	arnEnvVar   string
	fallbackEnv string

	mu  sync.Mutex
	key []byte
}

// NewSecretsManagerKey creates a master key source.
func NewSecretsManagerKey(client SecretStringGetter, arnEnvVar, fallbackEnvVar string) *SecretsManagerKey {
	return &SecretsManagerKey{client: client, arnEnvVar: arnEnvVar, fallbackEnv: fallbackEnvVar}
}

// MasterKey implements MasterKeySource.
func (s *SecretsManagerKey) MasterKey(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return s.key, nil
	}

	value, err := s.client.GetSecretString(ctx, s.arnEnvVar, s.fallbackEnv)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return nil, fmt.Errorf("master key is not hex: %w", err)
	}
	s.key = key
	return key, nil
}
