package signature

import (
	"encoding/json"
	"fmt"
)

// Raw is a signature as returned by the signing network: either a JSON object
// with r/s and some recovery hint, or a bare hex string.
type Raw struct {
	Object map[string]interface{}
	Text   string
}

// RawText wraps a bare string response.
func RawText(s string) Raw { return Raw{Text: s} }

// RawObject wraps an object response.
func RawObject(fields map[string]interface{}) Raw { return Raw{Object: fields} }

// ParseRawJSON decodes a response body that is either a JSON object or a JSON string.
func ParseRawJSON(data []byte) (Raw, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return RawText(s), nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return Raw{}, fmt.Errorf("signature response is neither a string nor an object: %w", err)
	}
	return RawObject(obj), nil
}

// MarshalJSON keeps Raw round-trippable across quorum peers.
func (r Raw) MarshalJSON() ([]byte, error) {
	if r.Object != nil {
		return json.Marshal(r.Object)
	}
	return json.Marshal(r.Text)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Raw) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRawJSON(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
