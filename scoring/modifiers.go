package scoring

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// RedactedValue replaces redacted payload fields
const RedactedValue = "<redacted>"

func parsePaths(paths []string) ([]jp.Expr, error) {
	exprs := make([]jp.Expr, 0, len(paths))
	for _, p := range paths {
		x, err := jp.ParseString(p)
		if err != nil {
			return nil, fmt.Errorf("invalid JSONPath %q: %w", p, err)
		}
		exprs = append(exprs, x)
	}
	return exprs, nil
}

// RedactModifier replaces every value matched by its JSONPath expressions
// with RedactedValue. It is typically used as a log transformer.
type RedactModifier struct {
	paths []jp.Expr
}

// NewRedactModifier parses the given JSONPath expressions, e.g. "$.messages[*].content"
func NewRedactModifier(paths ...string) (*RedactModifier, error) {
	exprs, err := parsePaths(paths)
	if err != nil {
		return nil, err
	}
	return &RedactModifier{paths: exprs}, nil
}

// Modify implements RequestModifier
func (m *RedactModifier) Modify(payload map[string]any) (map[string]any, error) {
	for _, x := range m.paths {
		if len(x.Get(payload)) == 0 {
			continue
		}
		if err := x.Set(payload, RedactedValue); err != nil {
			return nil, NewRequestModificationError("redact", x.String(), err)
		}
	}
	return payload, nil
}

// RemoveModifier deletes every value matched by its JSONPath expressions.
// It is typically used as an output transformer.
type RemoveModifier struct {
	paths []jp.Expr
}

// NewRemoveModifier parses the given JSONPath expressions, e.g. "$.metadata"
func NewRemoveModifier(paths ...string) (*RemoveModifier, error) {
	exprs, err := parsePaths(paths)
	if err != nil {
		return nil, err
	}
	return &RemoveModifier{paths: exprs}, nil
}

// Modify implements RequestModifier
func (m *RemoveModifier) Modify(payload map[string]any) (map[string]any, error) {
	for _, x := range m.paths {
		if err := x.Del(payload); err != nil {
			return nil, NewRequestModificationError("remove", x.String(), err)
		}
	}
	return payload, nil
}
