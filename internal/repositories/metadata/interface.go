package metadata

import "context"

// Well-known metadata keys used by the engine.
const (
	KeyIsAccount       = "isAccount"
	KeyBalance         = "balance"
	KeyAccountUsername = "accountUsername"
	KeyLocale          = "locale"
	KeyRequestMetadata = "requestMetadata"
	KeyInstanceID      = "instanceID"
)

// Repository is a key/value store for the engine's scalar state
// (identity flags, balance, locale, caller-set request metadata). The
// typed accessors define the storage encoding for each scalar kind so
// callers never touch raw bytes for well-known keys.
type Repository interface {
	// Get returns the value for key, or (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set upserts the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// GetString returns the value for key as a string, "" when absent.
	GetString(ctx context.Context, key string) (string, error)

	// SetString upserts a string value for key.
	SetString(ctx context.Context, key, value string) error

	// GetInt64 returns the decimal-encoded value for key, 0 when absent.
	GetInt64(ctx context.Context, key string) (int64, error)

	// SetInt64 upserts a decimal-encoded value for key.
	SetInt64(ctx context.Context, key string, value int64) error

	// GetBool returns the flag stored under key, false when absent.
	GetBool(ctx context.Context, key string) (bool, error)

	// SetBool upserts a flag under key.
	SetBool(ctx context.Context, key string, value bool) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all keys.
	Clear(ctx context.Context) error
}
