// Package correlation carries one identifier across an inbound request, the
// ledger work it triggers and any outbound gateway call.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header is accepted from callers and echoed on every response.
const Header = "X-Correlation-ID"

const maxLength = 64

type key struct{}

// Normalize trims raw and returns "" when it is not a usable identifier.
// Gateways and upstream proxies control this value, so only a conservative
// character set is let through into logs and span attributes.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxLength {
		return ""
	}
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return ""
		}
	}
	return raw
}

// ID returns the correlation id stored on ctx, or "".
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}

// WithID stores id on ctx. Invalid ids leave ctx untouched.
func WithID(ctx context.Context, id string) context.Context {
	id = Normalize(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// New mints a sortable identifier for work that did not arrive with one.
func New() string {
	return ulid.Make().String()
}

// Ensure keeps an existing id or attaches a fresh one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return context.WithValue(ctx, key{}, id), id
}
