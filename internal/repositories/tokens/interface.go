package tokens

import "context"

// Repository stores the bearer tokens for the current identity, keyed by
// token kind. At most one token per kind exists at a time.
type Repository interface {
	// GetAll returns the stored tokens as a kind → value map. The map is
	// empty when no identity exists or the account is logged out.
	GetAll(ctx context.Context) (map[string]string, error)

	// ReplaceAll atomically replaces the whole token set.
	ReplaceAll(ctx context.Context, toks map[string]string) error

	// DeleteByValues removes tokens whose value is in values. Unknown
	// values are ignored.
	DeleteByValues(ctx context.Context, values []string) error

	// Clear removes all tokens.
	Clear(ctx context.Context) error
}
