// Package config loads relay settings from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/constants"
	"github.com/cyphera/sponsor-relay/libs/go/helpers"
	"github.com/cyphera/sponsor-relay/libs/go/secrets"
)

// Environment variables read by Load.
const (
	EnvStage                = "STAGE"
	EnvChainName            = "CHAIN_NAME"
	EnvChainID              = "CHAIN_ID"
	EnvRPCURLTemplate       = "RPC_URL_TEMPLATE"
	EnvRPCAPIKeySealed      = "RPC_API_KEY_SEALED"
	EnvRegistryContract     = "REGISTRY_CONTRACT_ADDRESS"
	EnvSponsorAddress       = "SPONSOR_ADDRESS"
	EnvSigningKeyID         = "SIGNING_KEY_ID"
	EnvSignerGRPCAddr       = "SIGNER_GRPC_ADDR"
	EnvSignerLocalMode      = "SIGNER_LOCAL_MODE"
	EnvSignerRPCTimeout     = "SIGNER_RPC_TIMEOUT"
	EnvAllowMissingRecovery = "SIGNER_ALLOW_MISSING_RECOVERY"
	EnvRedundancy           = "REDUNDANCY"
	EnvQuorumBackend        = "QUORUM_BACKEND"
	EnvRedisURL             = "REDIS_URL"
	EnvNodeIndex            = "RELAY_NODE_INDEX"
	EnvAuthWindow           = "AUTH_WINDOW_SECONDS"
	EnvClockSkew            = "AUTH_CLOCK_SKEW_SECONDS"
	EnvNameRegistryURL      = "NAME_REGISTRY_URL"
	EnvNameRegistryKey      = "NAME_REGISTRY_API_KEY_SEALED"
	EnvAuditQueueURL        = "AUDIT_SQS_QUEUE_URL"
	EnvOperatorAPIKey       = "OPERATOR_API_KEY_SEALED"
	EnvProgramHash          = "PROGRAM_HASH"
	EnvPort                 = "API_PORT"
	EnvRateLimitRPS         = "RATE_LIMIT_RPS"
	EnvRateLimitBurst       = "RATE_LIMIT_BURST"

	// Master key lookups go through Secrets Manager with an env fallback.
	EnvGateMasterKeyARN = "GATE_MASTER_KEY_ARN"
	EnvGateMasterKey    = "GATE_MASTER_KEY"
)

// Config is everything the relay server needs to start.
type Config struct {
	Stage string

	Action       actions.Config
	RPCTemplate  string
	RPCSealedKey *secrets.Sealed

	Sponsor              common.Address
	SigningKeyID         string
	SignerAddr           string
	SignerLocalMode      bool
	SignerTimeout        time.Duration
	AllowMissingRecovery bool

	Redundancy    int
	QuorumBackend string
	RedisURL      string
	// NodeIndex distinguishes relay nodes sharing one quorum backend.
	NodeIndex int

	AuthWindow time.Duration
	ClockSkew  time.Duration

	NameRegistryURL    string
	NameRegistryAPIKey *secrets.Sealed
	AuditQueueURL      string
	// OperatorAPIKey guards message signing. Without it the route is off.
	OperatorAPIKey *secrets.Sealed

	// ProgramHash overrides hashing the running executable when set.
	// Never accepted in prod.
	ProgramHash string

	Port           string
	RateLimitRPS   int
	RateLimitBurst int
}

// IsLocal reports whether the relay runs against local collaborators.
func (c *Config) IsLocal() bool { return helpers.IsLocalStage(c.Stage) }

// Getenv looks up one variable. os.Getenv in production, a map in tests.
type Getenv func(key string) string

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv. All problems are
// reported together.
func LoadFrom(getenv Getenv) (*Config, error) {
	r := &reader{getenv: getenv}

	cfg := &Config{
		Stage:                r.str(EnvStage, helpers.StageLocal),
		RPCTemplate:          r.required(EnvRPCURLTemplate),
		RPCSealedKey:         r.sealed(EnvRPCAPIKeySealed),
		Sponsor:              r.address(EnvSponsorAddress),
		SigningKeyID:         r.required(EnvSigningKeyID),
		SignerAddr:           r.required(EnvSignerGRPCAddr),
		SignerLocalMode:      r.boolean(EnvSignerLocalMode, false),
		SignerTimeout:        r.duration(EnvSignerRPCTimeout, 3*time.Minute),
		AllowMissingRecovery: r.boolean(EnvAllowMissingRecovery, false),
		Redundancy:           r.integer(EnvRedundancy, constants.DefaultRedundancy),
		QuorumBackend:        r.str(EnvQuorumBackend, constants.QuorumBackendLocal),
		RedisURL:             r.str(EnvRedisURL, ""),
		NodeIndex:            r.integer(EnvNodeIndex, 0),
		AuthWindow:           time.Duration(r.integer(EnvAuthWindow, constants.DefaultAuthWindowSeconds)) * time.Second,
		ClockSkew:            time.Duration(r.integer(EnvClockSkew, constants.DefaultClockSkewSeconds)) * time.Second,
		NameRegistryURL:      r.str(EnvNameRegistryURL, ""),
		NameRegistryAPIKey:   r.sealed(EnvNameRegistryKey),
		AuditQueueURL:        r.str(EnvAuditQueueURL, ""),
		OperatorAPIKey:       r.sealed(EnvOperatorAPIKey),
		ProgramHash:          r.str(EnvProgramHash, ""),
		Port:                 r.str(EnvPort, "8000"),
		RateLimitRPS:         r.integer(EnvRateLimitRPS, 20),
		RateLimitBurst:       r.integer(EnvRateLimitBurst, 40),
	}
	cfg.Action = actions.Config{
		Contract:  r.address(EnvRegistryContract),
		ChainID:   r.chainID(EnvChainID),
		ChainName: r.required(EnvChainName),
	}

	if !helpers.IsValidStage(cfg.Stage) {
		r.fail("%s must be one of %s, %s, %s, got %q", EnvStage, helpers.StageProd, helpers.StageDev, helpers.StageLocal, cfg.Stage)
	}
	if cfg.Redundancy < 1 {
		r.fail("%s must be at least 1", EnvRedundancy)
	}
	switch cfg.QuorumBackend {
	case constants.QuorumBackendLocal:
	case constants.QuorumBackendRedis:
		if cfg.RedisURL == "" {
			r.fail("%s is required when %s=%s", EnvRedisURL, EnvQuorumBackend, constants.QuorumBackendRedis)
		}
	default:
		r.fail("%s must be %s or %s", EnvQuorumBackend, constants.QuorumBackendLocal, constants.QuorumBackendRedis)
	}
	if cfg.NodeIndex < 0 {
		r.fail("%s must not be negative", EnvNodeIndex)
	}
	if cfg.ProgramHash != "" && cfg.Stage == helpers.StageProd {
		r.fail("%s is not allowed when %s=%s; prod releases secrets to the running executable only", EnvProgramHash, EnvStage, helpers.StageProd)
	}
	if cfg.AuthWindow <= 0 {
		r.fail("%s must be positive", EnvAuthWindow)
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		r.fail("%s and %s must be positive", EnvRateLimitRPS, EnvRateLimitBurst)
	}

	if len(r.problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(r.problems, "; "))
	}
	return cfg, nil
}

type reader struct {
	getenv   Getenv
	problems []string
}

func (r *reader) fail(format string, args ...interface{}) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v := r.str(key, "")
	if v == "" {
		r.fail("%s is required", key)
	}
	return v
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail("%s must be an integer", key)
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail("%s must be a boolean", key)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail("%s must be a duration like 30s", key)
		return def
	}
	return d
}

func (r *reader) address(key string) common.Address {
	v := r.required(key)
	if v == "" {
		return common.Address{}
	}
	if !helpers.IsAddressValid(v) || helpers.IsZeroAddress(v) {
		r.fail("%s must be a non-zero 0x-prefixed address", key)
		return common.Address{}
	}
	return common.HexToAddress(v)
}

func (r *reader) chainID(key string) *big.Int {
	v := r.required(key)
	if v == "" {
		return nil
	}
	id, ok := new(big.Int).SetString(v, 10)
	if !ok || id.Sign() <= 0 {
		r.fail("%s must be a positive integer", key)
		return nil
	}
	return id
}

// sealed parses a sealed credential stored as JSON. Unset means no credential.
func (r *reader) sealed(key string) *secrets.Sealed {
	v := r.str(key, "")
	if v == "" {
		return nil
	}
	var s secrets.Sealed
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		r.fail("%s is not a sealed credential: %v", key, err)
		return nil
	}
	return &s
}
