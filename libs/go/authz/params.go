package authz

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cyphera/sponsor-relay/libs/go/canonical"
	"github.com/cyphera/sponsor-relay/libs/go/helpers"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// ParamKind is the structural type of an action parameter.
type ParamKind int

const (
	// KindBytes32 is a 0x-prefixed 32-byte hex value (content or domain identifier).
	KindBytes32 ParamKind = iota
	// KindEnum is a decimal integer in [0, Max] with no leading zeros.
	KindEnum
	// KindText is printable UTF-8 text up to MaxLen bytes.
	KindText
	// KindAddress is a 0x-prefixed 20-byte hex address.
	KindAddress
	// KindLabel is a lowercase name label: [a-z0-9-], no leading or trailing hyphen.
	KindLabel
)

// ParamSpec declares one parameter of an action.
type ParamSpec struct {
	Name   string
	Kind   ParamKind
	Max    uint64
	MinLen int
	MaxLen int
}

// ActionSpec is what the validator needs to know about an action: its name,
// the namespace bound into the message, and its parameters in signing order.
type ActionSpec struct {
	Name      string
	Namespace string
	Params    []ParamSpec
}

// Schema returns the canonical message schema for the action.
func (a ActionSpec) Schema() canonical.Schema {
	names := make([]string, len(a.Params))
	for i, p := range a.Params {
		names[i] = p.Name
	}
	return canonical.Schema{Action: a.Name, Params: names}
}

func (p ParamSpec) check(value string) error {
	switch p.Kind {
	case KindBytes32:
		if !helpers.IsBytes32Valid(value) {
			return relayerr.Validation("invalid_param", "%s must be a 0x-prefixed 32-byte hex value", p.Name)
		}
	case KindAddress:
		if !helpers.IsAddressValid(value) {
			return relayerr.Validation("invalid_param", "%s must be a 0x-prefixed 20-byte hex address", p.Name)
		}
	case KindEnum:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil || strconv.FormatUint(n, 10) != value {
			return relayerr.Validation("invalid_param", "%s must be a decimal integer", p.Name)
		}
		if n > p.Max {
			return relayerr.Validation("param_out_of_range", "%s must be between 0 and %d", p.Name, p.Max)
		}
	case KindText:
		if err := p.checkLength(value); err != nil {
			return err
		}
		if !utf8.ValidString(value) {
			return relayerr.Validation("invalid_param", "%s must be valid UTF-8", p.Name)
		}
		for _, r := range value {
			if unicode.IsControl(r) {
				return relayerr.Validation("invalid_param", "%s contains control characters", p.Name)
			}
		}
	case KindLabel:
		if err := p.checkLength(value); err != nil {
			return err
		}
		if strings.HasPrefix(value, "-") || strings.HasSuffix(value, "-") {
			return relayerr.Validation("invalid_param", "%s may not start or end with a hyphen", p.Name)
		}
		for _, r := range value {
			if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
				return relayerr.Validation("invalid_param", "%s may only contain a-z, 0-9 and hyphens", p.Name)
			}
		}
	}
	return nil
}

func (p ParamSpec) checkLength(value string) error {
	min := p.MinLen
	if min == 0 {
		min = 1
	}
	if len(value) < min {
		return relayerr.Validation("invalid_param", "%s must be at least %d bytes", p.Name, min)
	}
	if p.MaxLen > 0 && len(value) > p.MaxLen {
		return relayerr.Validation("invalid_param", "%s must be at most %d bytes", p.Name, p.MaxLen)
	}
	return nil
}
