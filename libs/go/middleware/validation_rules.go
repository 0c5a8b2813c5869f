package middleware

import (
	"github.com/cyphera/sponsor-relay/libs/go/actions"
)

// MaxRelayBodySize bounds every relay request body.
const MaxRelayBodySize = 16 * 1024

// authorizationRules are the fields every signed request carries. Either
// expires_at or deadline must be present; the handler checks that.
var authorizationRules = []ValidationRule{
	{Field: "actor_address", Required: true, Type: TypeAddress},
	{Field: "nonce", Required: true, Type: TypeBytes32},
	{Field: "signature", Required: true, Type: TypeSignature},
	{Field: "issued_at", Type: TypeNumber, Integer: true, Min: float64Ptr(0)},
	{Field: "expires_at", Type: TypeNumber, Integer: true, Min: float64Ptr(0)},
	{Field: "deadline", Type: TypeNumber, Integer: true, Min: float64Ptr(0)},
	{Field: "message", Type: TypeString, MaxLength: 4096},
}

func withAuthorization(rules ...ValidationRule) []ValidationRule {
	out := make([]ValidationRule, 0, len(authorizationRules)+len(rules))
	out = append(out, authorizationRules...)
	return append(out, rules...)
}

// RegisterForValidation checks POST /actions/register-for bodies.
var RegisterForValidation = ValidationConfig{
	MaxBodySize: MaxRelayBodySize,
	Rules: withAuthorization(
		ValidationRule{Field: "id", Required: true, Type: TypeBytes32},
		ValidationRule{Field: "cid", Required: true, Type: TypeString, MaxLength: 128},
		ValidationRule{Field: "mode", Required: true, Type: TypeNumber, Integer: true, Min: float64Ptr(0), Max: float64Ptr(actions.MaxEncryptionMode)},
		ValidationRule{Field: "dry_run", Type: TypeBoolean},
	),
}

// ActionValidation checks POST /actions/:action bodies, where parameters are
// passed as a string map and checked against the action's declaration later.
var ActionValidation = ValidationConfig{
	MaxBodySize: MaxRelayBodySize,
	Rules: withAuthorization(
		ValidationRule{Field: "params", Required: true, Type: TypeObject},
		ValidationRule{Field: "dry_run", Type: TypeBoolean},
	),
}

// RegisterNameValidation checks POST /names bodies.
var RegisterNameValidation = ValidationConfig{
	MaxBodySize: MaxRelayBodySize,
	Rules: withAuthorization(
		ValidationRule{Field: "label", Required: true, Type: TypeString, MinLength: 3, MaxLength: 32},
	),
}

// SignMessageValidation checks POST /messages/sign bodies.
var SignMessageValidation = ValidationConfig{
	MaxBodySize: MaxRelayBodySize,
	Rules: []ValidationRule{
		{Field: "message", Required: true, Type: TypeString, MaxLength: 4096},
	},
}

// TaskIDValidation checks the :id path parameter of task lookups.
var TaskIDValidation = ValidationRule{Field: "id", Required: true, Type: TypeUUID}
