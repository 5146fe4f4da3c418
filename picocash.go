package picocash

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/picocash/picocash/internal/dbx"
	"github.com/picocash/picocash/internal/logging"
	"github.com/picocash/picocash/internal/repositories/metadata"
	"github.com/picocash/picocash/internal/repositories/prices"
	"github.com/picocash/picocash/internal/repositories/purchases"
	"github.com/picocash/picocash/internal/repositories/tokens"
	"github.com/picocash/picocash/internal/store"
)

// Config holds the initialization parameters of a Client.
type Config struct {
	// DataDir is the writable directory holding the local datastore.
	// It must already exist. Required.
	DataDir string

	// Requester performs HTTP calls on behalf of the engine. May be nil;
	// operations needing the network then fail with a recoverable error.
	Requester RequesterFunc

	// ForceReset wipes all stored state before first use.
	ForceReset bool

	UserAgent      string
	ServerScheme   string
	ServerHostname string
	ServerPort     int

	// RequestTimeout bounds each network call. Zero means no engine-side
	// bound (the Requester may still impose one).
	RequestTimeout time.Duration

	// Logger receives structured engine logs. Defaults to a text slog
	// logger on stderr.
	Logger logging.Logger
}

// LoadDefaults populates c with production defaults. DataDir and
// Requester still have to be supplied by the caller.
func (c *Config) LoadDefaults() {
	c.UserAgent = "picocash-go"
	c.ServerScheme = "https"
	c.ServerHostname = "api.pico.cash"
	c.ServerPort = 443
	c.RequestTimeout = 30 * time.Second
}

// Client is one instance of the picocash engine. All mutating
// operations are serialized by an internal mutex owned by the instance;
// separate instances never contend.
type Client struct {
	mu  sync.Mutex
	cfg Config
	db  *sql.DB
	log logging.Logger

	// now is a clock seam for tests.
	now func() time.Time
}

// New opens the datastore under cfg.DataDir and returns a ready Client.
// A missing or unusable data directory is a critical error.
func New(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil || cfg.DataDir == "" {
		return nil, newCriticalError("data dir is required")
	}

	c := &Client{cfg: *cfg, now: time.Now}
	if c.cfg.UserAgent == "" {
		c.cfg.UserAgent = "picocash-go"
	}
	if c.cfg.ServerScheme == "" {
		c.cfg.ServerScheme = "https"
	}
	if c.cfg.ServerHostname == "" {
		c.cfg.ServerHostname = "api.pico.cash"
	}
	if c.cfg.Logger == nil {
		c.cfg.Logger = logging.NewDefault(os.Stderr)
	}
	c.log = c.cfg.Logger.With("component", "picocash")

	db, err := store.Open(ctx, c.cfg.DataDir, c.cfg.ForceReset)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to open datastore")
	}
	c.db = db

	// Mint a stable instance id on first init; it identifies this
	// installation in request metadata and diagnostics.
	err = dbx.InTx(ctx, db, func(ctx context.Context, tx dbx.Querier) error {
		meta := metadata.NewSQLiteRepository(tx)
		v, err := meta.Get(ctx, metadata.KeyInstanceID)
		if err != nil {
			return err
		}
		if v == nil {
			return meta.Set(ctx, metadata.KeyInstanceID, []byte(uuid.NewString()))
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, wrapCriticalError(err, "failed to initialize instance id")
	}

	return c, nil
}

// Close releases the underlying datastore handle.
func (c *Client) Close() error {
	return c.db.Close()
}

// repoSet bundles the repositories bound to one querier (the shared DB
// handle for reads, a transaction for writes).
type repoSet struct {
	tokens    tokens.Repository
	purchases purchases.Repository
	prices    prices.Repository
	meta      metadata.Repository
}

func newRepoSet(q dbx.Querier) *repoSet {
	return &repoSet{
		tokens:    tokens.NewSQLiteRepository(q),
		purchases: purchases.NewSQLiteRepository(q),
		prices:    prices.NewSQLiteRepository(q),
		meta:      metadata.NewSQLiteRepository(q),
	}
}

func (c *Client) repos() *repoSet { return newRepoSet(c.db) }

// getStringMap reads a JSON-encoded string map stored under key.
func getStringMap(ctx context.Context, meta metadata.Repository, key string) (map[string]string, error) {
	v, err := meta.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, wrapCriticalError(err, "corrupt stored metadata map")
	}
	return m, nil
}

//
// Read-only accessors. These take no lock: the datastore's transaction
// guarantee means they only ever observe fully committed state.
//

// Balance returns the stored spendable balance in picodollars.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	n, err := c.repos().meta.GetInt64(ctx, metadata.KeyBalance)
	if err != nil {
		return 0, wrapCriticalError(err, "failed to read balance")
	}
	return n, nil
}

// IsAccount reports whether the current identity is a credentialed
// account (as opposed to an anonymous tracker).
func (c *Client) IsAccount(ctx context.Context) (bool, error) {
	b, err := c.repos().meta.GetBool(ctx, metadata.KeyIsAccount)
	if err != nil {
		return false, wrapCriticalError(err, "failed to read identity kind")
	}
	return b, nil
}

// HasTokens reports whether at least one usable token is present for
// the current identity. A logged-out account reports false.
func (c *Client) HasTokens(ctx context.Context) (bool, error) {
	toks, err := c.repos().tokens.GetAll(ctx)
	if err != nil {
		return false, wrapCriticalError(err, "failed to read tokens")
	}
	return len(toks) > 0, nil
}

// ValidTokenTypes returns the token kinds currently held, in canonical
// order. Empty when no tokens are available.
func (c *Client) ValidTokenTypes(ctx context.Context) ([]TokenType, error) {
	toks, err := c.repos().tokens.GetAll(ctx)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read tokens")
	}
	var kinds []TokenType
	for _, k := range tokenKindOrder {
		if _, ok := toks[string(k)]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// GetAccountUsername returns the stored username of a logged-in
// account, or "" for trackers and logged-out accounts.
func (c *Client) GetAccountUsername(ctx context.Context) (string, error) {
	v, err := c.repos().meta.GetString(ctx, metadata.KeyAccountUsername)
	if err != nil {
		return "", wrapCriticalError(err, "failed to read account username")
	}
	return v, nil
}

// GetPurchasePrices returns the stored purchase-price catalog.
func (c *Client) GetPurchasePrices(ctx context.Context) ([]PurchasePrice, error) {
	pp, err := c.repos().prices.GetAll(ctx)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read purchase prices")
	}
	return pp, nil
}

// GetPurchases returns every purchase, active or expired.
func (c *Client) GetPurchases(ctx context.Context) ([]Purchase, error) {
	ps, err := c.repos().purchases.GetAll(ctx)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read purchases")
	}
	return ps, nil
}

// ActivePurchases returns the purchases whose expiry is absent or
// strictly in the future at call time.
func (c *Client) ActivePurchases(ctx context.Context) ([]Purchase, error) {
	ps, err := c.repos().purchases.Active(ctx, c.now())
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read active purchases")
	}
	return ps, nil
}

// NextExpiringPurchase returns the purchase with the soonest non-null
// expiry, or nil when no purchase has one. The returned purchase may
// already be expired; callers must re-check. This is a pure read with
// no expiry bookkeeping side effect.
func (c *Client) NextExpiringPurchase(ctx context.Context) (*Purchase, error) {
	p, err := c.repos().purchases.NextExpiring(ctx)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read next expiring purchase")
	}
	return p, nil
}

// GetAuthorizations returns the authorizations of all purchases or, with
// activeOnly, only those whose owning purchase is currently active.
// Activity is evaluated lazily against the clock on every read: an
// authorization disappears from activeOnly results the instant its
// purchase expires, with no explicit expiry call required.
func (c *Client) GetAuthorizations(ctx context.Context, activeOnly bool) ([]Authorization, error) {
	r := c.repos()
	var (
		ps  []Purchase
		err error
	)
	if activeOnly {
		ps, err = r.purchases.Active(ctx, c.now())
	} else {
		ps, err = r.purchases.GetAll(ctx)
	}
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read purchases")
	}

	var auths []Authorization
	for _, p := range ps {
		if p.Authorization != nil {
			auths = append(auths, *p.Authorization)
		}
	}
	return auths, nil
}

// GetPurchasesByAuthorizationID returns the purchases owning the given
// authorization ids. Empty or unmatched input yields an empty result,
// not an error.
func (c *Client) GetPurchasesByAuthorizationID(ctx context.Context, authorizationIDs ...string) ([]Purchase, error) {
	ps, err := c.repos().purchases.GetByAuthorizationIDs(ctx, authorizationIDs)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read purchases by authorization id")
	}
	return ps, nil
}

//
// Mutating operations below acquire the instance lock.
//

// SetRequestMetadataItems merges items into the persisted request
// metadata sent with every server call.
func (c *Client) SetRequestMetadataItems(ctx context.Context, items map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
		meta := metadata.NewSQLiteRepository(tx)
		m, err := getStringMap(ctx, meta, metadata.KeyRequestMetadata)
		if err != nil {
			return err
		}
		for k, v := range items {
			m[k] = v
		}
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return meta.Set(ctx, metadata.KeyRequestMetadata, b)
	})
	if err != nil {
		return wrapCriticalError(err, "failed to store request metadata")
	}
	return nil
}

// SetLocale stores the locale reported in request metadata and used for
// user-facing site URLs.
func (c *Client) SetLocale(ctx context.Context, locale string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repos().meta.SetString(ctx, metadata.KeyLocale, locale); err != nil {
		return wrapCriticalError(err, "failed to store locale")
	}
	return nil
}

// ResetUser returns the identity to its initial state: no identity, no
// tokens, zero balance, no purchase history.
func (c *Client) ResetUser(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
		r := newRepoSet(tx)
		if err := r.tokens.Clear(ctx); err != nil {
			return err
		}
		if err := r.purchases.Clear(ctx); err != nil {
			return err
		}
		for _, key := range []string{metadata.KeyIsAccount, metadata.KeyBalance, metadata.KeyAccountUsername} {
			if err := r.meta.Delete(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapCriticalError(err, "failed to reset user")
	}
	c.log.Info(ctx, "user state reset")
	return nil
}

// ExpirePurchases moves every purchase whose expiry has elapsed out of
// the ledger and returns the removed set. A second immediate call
// returns an empty set.
func (c *Client) ExpirePurchases(ctx context.Context) ([]Purchase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []Purchase
	err := dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
		repo := purchases.NewSQLiteRepository(tx)
		var err error
		expired, err = repo.ExpiredAsOf(ctx, c.now())
		if err != nil {
			return err
		}
		ids := make([]string, len(expired))
		for i, p := range expired {
			ids[i] = p.ID
		}
		return repo.DeleteByIDs(ctx, ids)
	})
	if err != nil {
		return nil, wrapCriticalError(err, "failed to expire purchases")
	}
	return expired, nil
}

// RemovePurchases unconditionally removes the purchases with the given
// ids, regardless of expiry. Unknown ids are ignored. The removed
// purchases are returned.
func (c *Client) RemovePurchases(ctx context.Context, transactionIDs ...string) ([]Purchase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []Purchase
	err := dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
		repo := purchases.NewSQLiteRepository(tx)
		var err error
		removed, err = repo.GetByIDs(ctx, transactionIDs)
		if err != nil {
			return err
		}
		return repo.DeleteByIDs(ctx, transactionIDs)
	})
	if err != nil {
		return nil, wrapCriticalError(err, "failed to remove purchases")
	}
	return removed, nil
}
