// Package canonical builds the versioned, newline-joined key=value message
// that actors sign to authorize one relay action.
package canonical

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProtocolVersion is the first line of every message. Changing field order
// or encoding requires a new version.
const ProtocolVersion = "sponsor-relay:v1"

const separator = "\n"

// Field is one declared action parameter.
type Field struct {
	Name  string
	Value string
}

// Input carries everything bound into a message.
type Input struct {
	Action    string
	Namespace string
	Actor     string
	Params    []Field
	Nonce     string
	IssuedAt  int64
	Window    time.Duration
}

// ExpiresAt returns issued_at + window in unix seconds.
func (in Input) ExpiresAt() int64 {
	return in.IssuedAt + int64(in.Window/time.Second)
}

// Build renders the canonical message. Output is a pure function of the input;
// the actor address is lower-cased, every other value is used verbatim.
func Build(in Input) ([]byte, error) {
	if err := checkValue("action", in.Action, true); err != nil {
		return nil, err
	}
	if err := checkValue("namespace", in.Namespace, true); err != nil {
		return nil, err
	}
	if err := checkValue("actor", in.Actor, true); err != nil {
		return nil, err
	}
	if err := checkValue("nonce", in.Nonce, true); err != nil {
		return nil, err
	}
	if in.Window <= 0 || in.Window%time.Second != 0 {
		return nil, fmt.Errorf("window must be a positive whole number of seconds, got %s", in.Window)
	}

	var b strings.Builder
	b.WriteString(ProtocolVersion)
	writeLine(&b, "action", in.Action)
	writeLine(&b, "namespace", in.Namespace)
	writeLine(&b, "actor", strings.ToLower(in.Actor))

	seen := make(map[string]struct{}, len(in.Params))
	for _, p := range in.Params {
		if err := checkName(p.Name); err != nil {
			return nil, err
		}
		if _, dup := seen[p.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if err := checkValue(p.Name, p.Value, false); err != nil {
			return nil, err
		}
		writeLine(&b, p.Name, p.Value)
	}

	writeLine(&b, "nonce", in.Nonce)
	writeLine(&b, "issued_at", strconv.FormatInt(in.IssuedAt, 10))
	writeLine(&b, "expires_at", strconv.FormatInt(in.ExpiresAt(), 10))

	return []byte(b.String()), nil
}

func writeLine(b *strings.Builder, key, value string) {
	b.WriteString(separator)
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
}

var reserved = map[string]struct{}{
	"action": {}, "namespace": {}, "actor": {}, "nonce": {}, "issued_at": {}, "expires_at": {},
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("parameter name is empty")
	}
	if strings.ContainsAny(name, "=\r\n") {
		return fmt.Errorf("parameter name %q contains a reserved character", name)
	}
	if _, ok := reserved[name]; ok {
		return fmt.Errorf("parameter name %q is reserved", name)
	}
	return nil
}

func checkValue(name, value string, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%s contains a line break", name)
	}
	return nil
}
