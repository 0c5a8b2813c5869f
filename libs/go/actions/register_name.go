package actions

import "github.com/cyphera/sponsor-relay/libs/go/authz"

// RegisterNameName is the off-chain action that claims a name label in the
// name registry. It never produces a transaction.
const RegisterNameName = "register_name"

// RegisterNameSpec declares the register_name parameters. The namespace is
// the registry's own identifier, e.g. "names:<registry host>".
func RegisterNameSpec(namespace string) authz.ActionSpec {
	return authz.ActionSpec{
		Name:      RegisterNameName,
		Namespace: namespace,
		Params: []authz.ParamSpec{
			{Name: "label", Kind: authz.KindLabel, MinLen: 3, MaxLen: 32},
		},
	}
}
