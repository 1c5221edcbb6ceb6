// Package masking redacts bank details before they reach audit rows or logs.
package masking

import "strings"

const maskToken = "****"

// sensitiveKeys are metadata keys whose values identify a bank account.
var sensitiveKeys = map[string]struct{}{
	"account_number": {},
	"routing_code":   {},
	"iban":           {},
	"bank_account":   {},
}

// AccountNumber keeps the last four characters of an account number, with
// separators removed, so admins can still tell accounts apart.
func AccountNumber(value string) string {
	compact := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(value))
	if compact == "" {
		return ""
	}
	if len(compact) <= 4 {
		return maskToken
	}
	return maskToken + compact[len(compact)-4:]
}

// Metadata returns a copy of input with sensitive keys masked at any depth.
// Other values are copied unchanged.
func Metadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := sensitiveKeys[strings.ToLower(key)]; ok {
			if s, isString := value.(string); isString {
				out[key] = AccountNumber(s)
				continue
			}
			out[key] = maskToken
			continue
		}
		out[key] = maskNested(value)
	}
	return out
}

func maskNested(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return Metadata(cast)
	case []any:
		items := make([]any, 0, len(cast))
		for _, item := range cast {
			items = append(items, maskNested(item))
		}
		return items
	default:
		return value
	}
}
