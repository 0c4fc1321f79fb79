package scoring

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ValidationResult contains the results of content validation
type ValidationResult struct {
	Valid       bool
	Issues      []string
	Suggestions []string
	Err         error // First failure as a sentinel error, nil when valid
}

// ValidationOptions configures content validation behavior
type ValidationOptions struct {
	MaxLength       int
	MinLength       int
	AllowEmpty      bool
	AllowWhitespace bool
	TrimWhitespace  bool
}

// DefaultValidationOptions returns sensible defaults for content validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxLength:       DefaultMaxContentLength,
		MinLength:       MinContentLength,
		AllowEmpty:      false,
		AllowWhitespace: false,
		TrimWhitespace:  true,
	}
}

// ValidateContent validates a single piece of text content
func ValidateContent(content string, opts ValidationOptions) ValidationResult {
	result := ValidationResult{Valid: true}

	fail := func(err error, issue, suggestion string) {
		result.Valid = false
		result.Issues = append(result.Issues, issue)
		result.Suggestions = append(result.Suggestions, suggestion)
		if result.Err == nil {
			result.Err = err
		}
	}

	if content == "" {
		if !opts.AllowEmpty {
			fail(ErrContentTooShort, "content is empty", "provide meaningful text content")
		}
		return result
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		if !opts.AllowWhitespace {
			fail(ErrContentWhitespace, "content contains only whitespace", "provide non-whitespace content")
		}
		return result
	}

	// Use trimmed content for length checks if TrimWhitespace is enabled
	checkContent := content
	if opts.TrimWhitespace {
		checkContent = trimmed
	}

	if len(checkContent) < opts.MinLength {
		fail(ErrContentTooShort,
			fmt.Sprintf("content too short (%d chars, minimum %d)", len(checkContent), opts.MinLength),
			"provide more detailed content")
	}

	if opts.MaxLength > 0 && len(checkContent) > opts.MaxLength {
		fail(ErrContentTooLong,
			fmt.Sprintf("content too long (%d chars, maximum %d)", len(checkContent), opts.MaxLength),
			fmt.Sprintf("reduce content to under %d characters", opts.MaxLength))
	}

	return result
}

// ContentModifier sanitizes and validates one string field of a payload.
// Payloads whose field fails validation are rejected.
type ContentModifier struct {
	Field    string
	Options  ValidationOptions
	Sanitize bool
}

// NewContentModifier creates a modifier for field using default options
func NewContentModifier(field string) ContentModifier {
	return ContentModifier{
		Field:    field,
		Options:  DefaultValidationOptions(),
		Sanitize: true,
	}
}

// Modify implements RequestModifier
func (m ContentModifier) Modify(payload map[string]any) (map[string]any, error) {
	name := "content(" + m.Field + ")"

	raw, ok := payload[m.Field]
	if !ok {
		if m.Options.AllowEmpty {
			return payload, nil
		}
		return nil, NewRequestModificationError(name, "field is missing", ErrContentTooShort)
	}

	content, ok := raw.(string)
	if !ok {
		return nil, NewRequestModificationError(name, fmt.Sprintf("field is %T, not a string", raw), nil)
	}

	if m.Sanitize {
		content = SanitizeContent(content)
	}

	result := ValidateContent(content, m.Options)
	if !result.Valid {
		return nil, NewRequestModificationError(name, strings.Join(result.Issues, "; "), result.Err)
	}

	payload[m.Field] = content
	return payload, nil
}

// IsContentError reports whether err was caused by content validation
func IsContentError(err error) bool {
	return errors.Is(err, ErrContentTooShort) ||
		errors.Is(err, ErrContentTooLong) ||
		errors.Is(err, ErrContentWhitespace)
}

// SanitizeContent cleans and normalizes text content
func SanitizeContent(content string) string {
	content = strings.TrimSpace(content)
	content = normalizeWhitespace(content)
	return removeNonPrintable(content)
}

// normalizeWhitespace replaces multiple consecutive spaces with a single space
// but preserves newlines and tabs
func normalizeWhitespace(s string) string {
	var result strings.Builder
	wasSpace := false

	for _, r := range s {
		if r == '\n' || r == '\t' {
			result.WriteRune(r)
			wasSpace = false
		} else if unicode.IsSpace(r) {
			if !wasSpace {
				result.WriteRune(' ')
				wasSpace = true
			}
		} else {
			result.WriteRune(r)
			wasSpace = false
		}
	}

	return result.String()
}

// removeNonPrintable removes non-printable characters except newlines and tabs
func removeNonPrintable(s string) string {
	var result strings.Builder

	for _, r := range s {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}
