package canonical

import (
	"fmt"
	"sort"
)

// Schema declares an action's parameters in their signing order.
type Schema struct {
	Action string
	Params []string
}

// Fields orders values by the schema. Every declared parameter must be present
// and undeclared parameters are rejected.
func (s Schema) Fields(values map[string]string) ([]Field, error) {
	fields := make([]Field, 0, len(s.Params))
	for _, name := range s.Params {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing parameter %q for action %s", name, s.Action)
		}
		fields = append(fields, Field{Name: name, Value: v})
	}

	if len(values) != len(s.Params) {
		var extra []string
		declared := make(map[string]struct{}, len(s.Params))
		for _, name := range s.Params {
			declared[name] = struct{}{}
		}
		for name := range values {
			if _, ok := declared[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return nil, fmt.Errorf("undeclared parameters %v for action %s", extra, s.Action)
	}

	return fields, nil
}
