package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RequestModifier shapes a decoded payload. Implementations return a
// *RequestModificationError when the payload cannot be modified.
type RequestModifier interface {
	Modify(payload map[string]any) (map[string]any, error)
}

// ModifierFunc adapts a plain function to RequestModifier
type ModifierFunc func(payload map[string]any) (map[string]any, error)

// Modify calls f(payload)
func (f ModifierFunc) Modify(payload map[string]any) (map[string]any, error) {
	return f(payload)
}

// RequestModificationError reports a payload that a modifier refused
type RequestModificationError struct {
	Modifier string
	Reason   string
	Err      error
}

func (e *RequestModificationError) Error() string {
	msg := "request modification failed"
	if e.Modifier != "" {
		msg += " in " + e.Modifier
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestModificationError) Unwrap() error {
	return e.Err
}

// NewRequestModificationError creates a modification error for the named modifier
func NewRequestModificationError(modifier, reason string, err error) *RequestModificationError {
	return &RequestModificationError{Modifier: modifier, Reason: reason, Err: err}
}

// InputTransformer applies an ordered chain of modifiers to a payload.
// A nil or empty transformer returns payloads unchanged without decoding them.
type InputTransformer struct {
	modifiers []RequestModifier
}

// NewInputTransformer creates a transformer from the given modifiers
func NewInputTransformer(modifiers ...RequestModifier) *InputTransformer {
	return &InputTransformer{modifiers: modifiers}
}

// Then returns a new transformer that runs t's modifiers followed by more
func (t *InputTransformer) Then(more ...RequestModifier) *InputTransformer {
	var mods []RequestModifier
	if t != nil {
		mods = append(mods, t.modifiers...)
	}
	return &InputTransformer{modifiers: append(mods, more...)}
}

// Len returns the number of modifiers in the chain
func (t *InputTransformer) Len() int {
	if t == nil {
		return 0
	}
	return len(t.modifiers)
}

// Apply decodes a raw JSON payload, runs every modifier in order and
// re-encodes the result
func (t *InputTransformer) Apply(raw string) (string, error) {
	if t.Len() == 0 {
		return raw, nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw, NewRequestModificationError("decode", "payload is not a JSON object", err)
	}

	modified, err := t.ApplyObject(payload)
	if err != nil {
		return raw, err
	}

	encoded, err := json.Marshal(modified)
	if err != nil {
		return raw, NewRequestModificationError("encode", "modified payload cannot be encoded", err)
	}
	return string(encoded), nil
}

// ApplyObject runs every modifier in order on an already decoded payload
func (t *InputTransformer) ApplyObject(payload map[string]any) (map[string]any, error) {
	if t.Len() == 0 {
		return payload, nil
	}

	current := payload
	for i, m := range t.modifiers {
		next, err := m.Modify(current)
		if err != nil {
			var modErr *RequestModificationError
			if errors.As(err, &modErr) {
				return payload, err
			}
			return payload, NewRequestModificationError(fmt.Sprintf("modifier %d", i), "", err)
		}
		current = next
	}
	return current, nil
}
