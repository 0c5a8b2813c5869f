package actions

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/cyphera/sponsor-relay/libs/go/authz"
)

// RegisterForName is the action that registers a profile on behalf of an actor.
const RegisterForName = "register_for"

// registerForABI is the one method the register_for action may call.
const registerForABI = `[{
  "type": "function",
  "name": "registerFor",
  "stateMutability": "nonpayable",
  "inputs": [
    {"name": "actor", "type": "address"},
    {"name": "id", "type": "bytes32"},
    {"name": "cid", "type": "string"},
    {"name": "mode", "type": "uint8"},
    {"name": "nonce", "type": "bytes32"},
    {"name": "deadline", "type": "uint256"},
    {"name": "signature", "type": "bytes"}
  ],
  "outputs": []
}]`

// MaxEncryptionMode is the highest accepted encryption mode.
const MaxEncryptionMode = 2

// RegisterForSpec declares the register_for parameters in signing order.
func RegisterForSpec(cfg Config) authz.ActionSpec {
	return authz.ActionSpec{
		Name:      RegisterForName,
		Namespace: Namespace("registry", cfg),
		Params: []authz.ParamSpec{
			{Name: "id", Kind: authz.KindBytes32},
			{Name: "cid", Kind: authz.KindText, MaxLen: 128},
			{Name: "mode", Kind: authz.KindEnum, Max: MaxEncryptionMode},
		},
	}
}

// RegisterFor builds the register_for action for a deployment.
func RegisterFor(cfg Config) (*Action, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for action %s: %w", RegisterForName, err)
	}
	return New(RegisterForSpec(cfg), cfg, registerForABI, "registerFor", packRegisterFor)
}

func packRegisterFor(auth *authz.Authorization) ([]interface{}, error) {
	id, err := bytes32(auth, "id")
	if err != nil {
		return nil, err
	}
	mode, err := strconv.ParseUint(auth.Param("mode"), 10, 8)
	if err != nil || mode > MaxEncryptionMode {
		return nil, fmt.Errorf("mode %q is out of range", auth.Param("mode"))
	}
	return []interface{}{
		auth.Actor,
		id,
		auth.Param("cid"),
		uint8(mode),
		[32]byte(auth.Nonce),
		new(big.Int).SetInt64(auth.ExpiresAt),
		auth.Signature,
	}, nil
}
