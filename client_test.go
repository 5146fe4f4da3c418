package picocash

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picocash/picocash/internal/api"
)

// fakeLedger is an in-memory stand-in for the ledger server, exposed to
// the engine as a RequesterFunc.
type fakeLedger struct {
	mu sync.Mutex

	trackerTokens map[string]string
	accountTokens map[string]string
	loginUser     string
	loginPass     string

	balance          int64
	catalog          []api.PurchasePrice
	isAccount        bool
	invalidTokens    []string
	invalidPurchases []string
	lastTrackerMerge bool

	txnExpires *time.Time
	txnAuth    string
	purchases  []api.Purchase

	trackersMinted int
	requests       int
	txnCount       int

	// overrideCode forces a response code per path.
	overrideCode map[string]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		trackerTokens: map[string]string{
			string(TokenEarner):    "earner-t1",
			string(TokenSpender):   "spender-t1",
			string(TokenIndicator): "indicator-t1",
		},
		accountTokens: map[string]string{
			string(TokenEarner):    "earner-a1",
			string(TokenSpender):   "spender-a1",
			string(TokenIndicator): "indicator-a1",
			string(TokenAccount):   "account-a1",
		},
		loginUser:    "alice",
		loginPass:    "hunter2",
		overrideCode: map[string]int{},
	}
}

func (f *fakeLedger) requester() RequesterFunc {
	return func(ctx context.Context, req *Request) Response {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests++

		if code, ok := f.overrideCode[req.Path]; ok {
			return Response{Code: code}
		}

		switch req.Path {
		case api.TrackerPath:
			f.trackersMinted++
			return jsonResponse(f.trackerTokens)

		case api.RefreshStatePath:
			resp := api.RefreshStateResponse{
				TokensValid:      map[string]bool{},
				IsAccount:        f.isAccount,
				Balance:          f.balance,
				InvalidPurchases: f.invalidPurchases,
			}
			for _, v := range f.trackerTokens {
				resp.TokensValid[v] = true
			}
			for _, v := range f.accountTokens {
				resp.TokensValid[v] = true
			}
			for _, v := range f.invalidTokens {
				resp.TokensValid[v] = false
			}
			if len(req.Query["class"]) > 0 {
				resp.PurchasePrices = f.catalog
			}
			voided := map[string]bool{}
			for _, id := range f.invalidPurchases {
				voided[id] = true
			}
			for _, p := range f.purchases {
				if !voided[p.TransactionID] {
					resp.Purchases = append(resp.Purchases, p)
				}
			}
			return jsonResponse(resp)

		case api.TransactionPath:
			price, _ := strconv.ParseInt(req.Query.Get("expectedAmount"), 10, 64)
			f.txnCount++
			f.balance -= price
			resp := api.TransactionResponse{
				TransactionID: fmt.Sprintf("txn-%d", f.txnCount),
				Balance:       f.balance,
				Expires:       f.txnExpires,
				Authorization: f.txnAuth,
			}
			f.purchases = append(f.purchases, api.Purchase{
				TransactionID: resp.TransactionID,
				Class:         req.Query.Get("class"),
				Distinguisher: req.Query.Get("distinguisher"),
				Expires:       f.txnExpires,
				Authorization: f.txnAuth,
			})
			return jsonResponse(resp)

		case api.LoginPath:
			var body api.LoginRequest
			if err := json.Unmarshal(req.Body, &body); err != nil {
				return Response{Code: 400}
			}
			if body.Username != f.loginUser || body.Password != f.loginPass {
				return Response{Code: 401}
			}
			return jsonResponse(api.LoginResponse{Tokens: f.accountTokens, LastTrackerMerge: f.lastTrackerMerge})

		case api.LogoutPath:
			return Response{Code: 200}
		}

		return Response{Code: 500}
	}
}

func jsonResponse(v any) Response {
	b, err := json.Marshal(v)
	if err != nil {
		return Response{Code: CodeCriticalError, Error: err.Error()}
	}
	return Response{Code: 200, Body: b}
}

// encodeTestAuthorization builds an encoded authorization blob the way
// the server does.
func encodeTestAuthorization(id, accessType string, expires time.Time) string {
	b, _ := json.Marshal(map[string]any{
		"Authorization": map[string]any{
			"ID":         id,
			"AccessType": accessType,
			"Expires":    expires,
		},
		"SigningKeyID": "test-key",
		"Signature":    "dGVzdC1zaWduYXR1cmU=",
	})
	return base64.StdEncoding.EncodeToString(b)
}

func newTestClient(t *testing.T, req RequesterFunc) *Client {
	t.Helper()

	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	cfg.Requester = req

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_MissingDataDir(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir() + "/does/not/exist"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, IsCritical(err))
}

func TestNew_StatePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	dir := t.TempDir()

	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.DataDir = dir
	cfg.Requester = ledger.requester()

	c1, err := New(ctx, cfg)
	require.NoError(t, err)
	res, err := c1.RefreshState(ctx, false)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.NoError(t, c1.Close())

	c2, err := New(ctx, cfg)
	require.NoError(t, err)
	defer c2.Close()

	has, err := c2.HasTokens(ctx)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, 1, ledger.trackersMinted)
}

func TestRefreshState_MintsTrackerOnce(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = 5 * UnitsPerDollar
	c := newTestClient(t, ledger.requester())

	res, err := c.RefreshState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.False(t, res.ReconnectRequired)

	kinds, err := c.ValidTokenTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []TokenType{TokenEarner, TokenSpender, TokenIndicator}, kinds)

	isAccount, err := c.IsAccount(ctx)
	require.NoError(t, err)
	assert.False(t, isAccount)

	// A fresh tracker starts at zero until the next refresh reports the
	// server-side balance.
	balance, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Zero(t, balance)

	res, err = c.RefreshState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, ledger.trackersMinted)

	balance, err = c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5*UnitsPerDollar, balance)
}

func TestRefreshState_LocalOnlyMakesNoRequest(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(ctx context.Context, req *Request) Response {
		t.Fatal("unexpected network request")
		return Response{}
	})

	res, err := c.RefreshState(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	has, err := c.HasTokens(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRefreshState_FetchesCatalogForRequestedClasses(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.catalog = []api.PurchasePrice{
		{Class: "speed-boost", Distinguisher: "1hr", Price: 100},
		{Class: "speed-boost", Distinguisher: "24hr", Price: 500},
	}
	c := newTestClient(t, ledger.requester())

	_, err := c.RefreshState(ctx, false)
	require.NoError(t, err)

	res, err := c.RefreshState(ctx, false, "speed-boost")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)

	pp, err := c.GetPurchasePrices(ctx)
	require.NoError(t, err)
	require.Len(t, pp, 2)
	assert.Equal(t, "1hr", pp[0].Distinguisher)
	assert.Equal(t, int64(500), pp[1].Price)
}

func TestRefreshState_DropsInvalidTokens(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	c := newTestClient(t, ledger.requester())

	_, err := c.RefreshState(ctx, false)
	require.NoError(t, err)

	ledger.invalidTokens = []string{"indicator-t1"}
	_, err = c.RefreshState(ctx, false)
	require.NoError(t, err)

	kinds, err := c.ValidTokenTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []TokenType{TokenEarner, TokenSpender}, kinds)
}

func TestRefreshState_UnauthorizedClearsState(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	c := newTestClient(t, ledger.requester())

	_, err := c.RefreshState(ctx, false)
	require.NoError(t, err)

	ledger.overrideCode[api.RefreshStatePath] = 401
	res, err := c.RefreshState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidTokens, res.Status)

	has, err := c.HasTokens(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRefreshState_VoidedPurchaseForcesReconnect(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = UnitsPerDollar
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	expires := time.Now().Add(time.Hour).UTC()
	ledger.txnExpires = &expires
	ledger.txnAuth = encodeTestAuthorization("auth-1", "speed-boost", expires)

	c := newTestClient(t, ledger.requester())
	_, err := c.RefreshState(ctx, false, "speed-boost")
	require.NoError(t, err)
	_, err = c.RefreshState(ctx, false, "speed-boost")
	require.NoError(t, err)

	pres, err := c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, pres.Status)

	ledger.invalidPurchases = []string{pres.Purchase.ID}
	res, err := c.RefreshState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, res.ReconnectRequired)

	ps, err := c.GetPurchases(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestRefreshState_ServerError(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.overrideCode[api.TrackerPath] = 500
	c := newTestClient(t, ledger.requester())

	res, err := c.RefreshState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, StatusServerError, res.Status)
}

func TestRefreshState_SingleTrackerUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	c := newTestClient(t, ledger.requester())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.RefreshState(ctx, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ledger.trackersMinted)
}

// refreshWithCatalog brings a client to a funded, catalog-loaded state.
func refreshWithCatalog(t *testing.T, ctx context.Context, c *Client, classes ...string) {
	t.Helper()
	_, err := c.RefreshState(ctx, false, classes...)
	require.NoError(t, err)
	_, err = c.RefreshState(ctx, false, classes...)
	require.NoError(t, err)
}

func TestNewExpiringPurchase_LocalPreconditions(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = 50
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	c := newTestClient(t, ledger.requester())
	refreshWithCatalog(t, ctx, c, "speed-boost")

	requestsBefore := ledger.requests

	res, err := c.NewExpiringPurchase(ctx, "nope", "1hr", 100)
	require.NoError(t, err)
	assert.Equal(t, StatusTransactionTypeNotFound, res.Status)

	res, err = c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 99)
	require.NoError(t, err)
	assert.Equal(t, StatusTransactionAmountMismatch, res.Status)

	res, err = c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientBalance, res.Status)

	// None of the declined attempts reached the server.
	assert.Equal(t, requestsBefore, ledger.requests)
}

func TestNewExpiringPurchase_Success(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = UnitsPerDollar
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	ledger.txnExpires = &expires
	ledger.txnAuth = encodeTestAuthorization("auth-1", "speed-boost", expires)

	c := newTestClient(t, ledger.requester())
	refreshWithCatalog(t, ctx, c, "speed-boost")

	res, err := c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.Purchase)
	assert.Equal(t, "speed-boost", res.Purchase.Class)
	require.NotNil(t, res.Purchase.Authorization)
	assert.Equal(t, "auth-1", res.Purchase.Authorization.ID)

	balance, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, UnitsPerDollar-100, balance)

	// Idempotency: the same product cannot be bought again while active.
	res, err = c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	require.NoError(t, err)
	assert.Equal(t, StatusExistingTransaction, res.Status)

	auths, err := c.GetAuthorizations(ctx, true)
	require.NoError(t, err)
	require.Len(t, auths, 1)
	assert.Equal(t, "auth-1", auths[0].ID)
}

func TestNewExpiringPurchase_ServerDecline(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = UnitsPerDollar
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	c := newTestClient(t, ledger.requester())
	refreshWithCatalog(t, ctx, c, "speed-boost")

	for code, want := range map[int]Status{
		409: StatusExistingTransaction,
		402: StatusInsufficientBalance,
		406: StatusTransactionAmountMismatch,
		404: StatusTransactionTypeNotFound,
		401: StatusInvalidTokens,
		400: StatusBadRequest,
		500: StatusServerError,
	} {
		ledger.overrideCode[api.TransactionPath] = code
		res, err := c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
		require.NoError(t, err)
		assert.Equal(t, want, res.Status, "code %d", code)
	}

	// Declines leave local state untouched.
	ps, err := c.GetPurchases(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
	balance, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, UnitsPerDollar, balance)
}

func TestPurchaseActivityIsLazy(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = UnitsPerDollar
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	expires := time.Now().Add(time.Hour).UTC()
	ledger.txnExpires = &expires
	ledger.txnAuth = encodeTestAuthorization("auth-1", "speed-boost", expires)

	c := newTestClient(t, ledger.requester())
	refreshWithCatalog(t, ctx, c, "speed-boost")

	res, err := c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)

	active, err := c.ActivePurchases(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	next, err := c.NextExpiringPurchase(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, res.Purchase.ID, next.ID)

	// Jump past the expiry. No sweep has run, but activity flips.
	c.now = func() time.Time { return expires.Add(time.Minute) }

	active, err = c.ActivePurchases(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	auths, err := c.GetAuthorizations(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, auths)

	// The ledger entry itself is still there until an explicit sweep.
	all, err := c.GetPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	expired, err := c.ExpirePurchases(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, res.Purchase.ID, expired[0].ID)

	// Idempotent: a second sweep finds nothing.
	expired, err = c.ExpirePurchases(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestRemovePurchases(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = UnitsPerDollar
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	c := newTestClient(t, ledger.requester())
	refreshWithCatalog(t, ctx, c, "speed-boost")

	res, err := c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)

	removed, err := c.RemovePurchases(ctx, res.Purchase.ID, "unknown-id")
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, res.Purchase.ID, removed[0].ID)

	ps, err := c.GetPurchases(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestAccountLogin(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.lastTrackerMerge = true
	c := newTestClient(t, ledger.requester())

	// With a tracker in hand the merge flag is reported.
	_, err := c.RefreshState(ctx, false)
	require.NoError(t, err)

	res, err := c.AccountLogin(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.LastTrackerMerge)
	assert.True(t, *res.LastTrackerMerge)

	isAccount, err := c.IsAccount(ctx)
	require.NoError(t, err)
	assert.True(t, isAccount)

	kinds, err := c.ValidTokenTypes(ctx)
	require.NoError(t, err)
	assert.Contains(t, kinds, TokenAccount)

	username, err := c.GetAccountUsername(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestAccountLogin_BadCredentials(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	c := newTestClient(t, ledger.requester())

	res, err := c.AccountLogin(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidCredentials, res.Status)

	// Without tracker tokens going in, the merge flag is absent.
	assert.Nil(t, res.LastTrackerMerge)
}

func TestAccountLogout(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = UnitsPerDollar
	ledger.isAccount = true
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	expires := time.Now().Add(time.Hour).UTC()
	ledger.txnExpires = &expires
	ledger.txnAuth = encodeTestAuthorization("auth-1", "speed-boost", expires)

	c := newTestClient(t, ledger.requester())

	res, err := c.AccountLogin(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	refreshWithCatalog(t, ctx, c, "speed-boost")

	pres, err := c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, pres.Status)

	out, err := c.AccountLogout(ctx)
	require.NoError(t, err)
	assert.True(t, out.ReconnectRequired)

	// Logged out: still an account, no tokens, zero balance, purchase
	// ledger retained.
	isAccount, err := c.IsAccount(ctx)
	require.NoError(t, err)
	assert.True(t, isAccount)

	has, err := c.HasTokens(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	balance, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Zero(t, balance)

	ps, err := c.GetPurchases(ctx)
	require.NoError(t, err)
	assert.Len(t, ps, 1)

	// A refresh does not mint a tracker for a logged-out account.
	requestsBefore := ledger.requests
	rres, err := c.RefreshState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, rres.Status)
	assert.Equal(t, requestsBefore, ledger.requests)
	assert.Equal(t, 0, ledger.trackersMinted)
}

func TestRefreshState_ReloginRestoresPurchases(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.isAccount = true
	ledger.balance = UnitsPerDollar
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	ledger.txnExpires = &expires
	ledger.txnAuth = encodeTestAuthorization("auth-1", "speed-boost", expires)

	c := newTestClient(t, ledger.requester())

	res, err := c.AccountLogin(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	refreshWithCatalog(t, ctx, c, "speed-boost")

	pres, err := c.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, pres.Status)

	out, err := c.AccountLogout(ctx)
	require.NoError(t, err)
	assert.True(t, out.ReconnectRequired)

	res, err = c.AccountLogin(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)

	rres, err := c.RefreshState(ctx, false)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rres.Status)
	// The purchase was already known locally, so no reconnect is needed.
	assert.False(t, rres.ReconnectRequired)

	ps, err := c.GetPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, pres.Purchase.ID, ps[0].ID)

	active, err := c.ActivePurchases(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NotNil(t, active[0].Authorization)
	assert.Equal(t, "auth-1", active[0].Authorization.ID)
}

func TestRefreshState_SyncedAuthPurchaseForcesReconnect(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.isAccount = true
	ledger.balance = UnitsPerDollar
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	ledger.txnExpires = &expires
	ledger.txnAuth = encodeTestAuthorization("auth-1", "speed-boost", expires)

	// Buy on one device.
	c1 := newTestClient(t, ledger.requester())
	res, err := c1.AccountLogin(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	refreshWithCatalog(t, ctx, c1, "speed-boost")
	pres, err := c1.NewExpiringPurchase(ctx, "speed-boost", "1hr", 100)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, pres.Status)

	// Log in on a second device: the refresh pulls the purchase down,
	// and its authorization requires a reconnect there.
	c2 := newTestClient(t, ledger.requester())
	res, err = c2.AccountLogin(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)

	rres, err := c2.RefreshState(ctx, false)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, rres.Status)
	assert.True(t, rres.ReconnectRequired)

	ps, err := c2.GetPurchases(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, pres.Purchase.ID, ps[0].ID)
	require.NotNil(t, ps[0].Authorization)
	assert.Equal(t, "auth-1", ps[0].Authorization.ID)

	// A repeat refresh finds nothing new.
	rres, err = c2.RefreshState(ctx, false)
	require.NoError(t, err)
	assert.False(t, rres.ReconnectRequired)
}

func TestAccountLogout_NotAnAccount(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	c := newTestClient(t, ledger.requester())

	_, err := c.RefreshState(ctx, false)
	require.NoError(t, err)

	_, err = c.AccountLogout(ctx)
	require.Error(t, err)
	assert.False(t, IsCritical(err))
}

func TestAccountLogout_ServerUnreachable(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	c := newTestClient(t, ledger.requester())

	res, err := c.AccountLogin(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)

	c.cfg.Requester = func(ctx context.Context, req *Request) Response {
		return Response{Code: CodeRecoverableError, Error: "connection refused"}
	}

	out, err := c.AccountLogout(ctx)
	require.NoError(t, err)
	assert.False(t, out.ReconnectRequired)

	has, err := c.HasTokens(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestResetUser(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = UnitsPerDollar
	c := newTestClient(t, ledger.requester())
	refreshWithCatalog(t, ctx, c)

	require.NoError(t, c.ResetUser(ctx))

	has, err := c.HasTokens(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	isAccount, err := c.IsAccount(ctx)
	require.NoError(t, err)
	assert.False(t, isAccount)

	balance, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Zero(t, balance)

	// A fresh refresh mints a brand new tracker.
	_, err = c.RefreshState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.trackersMinted)
}

func TestSetRequestMetadataItems(t *testing.T) {
	ctx := context.Background()
	var gotHeader string
	ledger := newFakeLedger()
	base := ledger.requester()
	c := newTestClient(t, func(ctx context.Context, req *Request) Response {
		gotHeader = req.Headers.Get(api.MetadataHeader)
		return base(ctx, req)
	})

	require.NoError(t, c.SetRequestMetadataItems(ctx, map[string]string{"client_version": "1.2.3"}))
	require.NoError(t, c.SetRequestMetadataItems(ctx, map[string]string{"client_region": "CA"}))
	require.NoError(t, c.SetLocale(ctx, "en-CA"))

	_, err := c.RefreshState(ctx, false)
	require.NoError(t, err)

	var md api.Metadata
	require.NoError(t, json.Unmarshal([]byte(gotHeader), &md))
	assert.Equal(t, "1.2.3", md.Attributes["client_version"])
	assert.Equal(t, "CA", md.Attributes["client_region"])
	assert.Equal(t, "en-CA", md.Locale)
	assert.NotEmpty(t, md.InstanceID)
}

func TestAuthHeaderCarriesTokens(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	base := ledger.requester()
	var authHeaders []string
	c := newTestClient(t, func(ctx context.Context, req *Request) Response {
		authHeaders = append(authHeaders, req.Headers.Get(api.AuthHeader))
		return base(ctx, req)
	})

	_, err := c.RefreshState(ctx, false)
	require.NoError(t, err)
	_, err = c.RefreshState(ctx, false)
	require.NoError(t, err)

	require.Len(t, authHeaders, 2)
	// The tracker mint carries no tokens; the refresh carries them all.
	assert.Empty(t, authHeaders[0])
	assert.Equal(t, "earner-t1,spender-t1,indicator-t1", authHeaders[1])
}

func TestRequesterContract(t *testing.T) {
	ctx := context.Background()

	t.Run("recoverable error is not critical", func(t *testing.T) {
		c := newTestClient(t, func(ctx context.Context, req *Request) Response {
			return Response{Code: CodeRecoverableError, Error: "connection refused"}
		})
		_, err := c.RefreshState(ctx, false)
		require.Error(t, err)
		assert.False(t, IsCritical(err))
	})

	t.Run("critical error is critical", func(t *testing.T) {
		c := newTestClient(t, func(ctx context.Context, req *Request) Response {
			return Response{Code: CodeCriticalError, Error: "broken invariant"}
		})
		_, err := c.RefreshState(ctx, false)
		require.Error(t, err)
		assert.True(t, IsCritical(err))
	})

	t.Run("negative code with empty error violates the contract", func(t *testing.T) {
		c := newTestClient(t, func(ctx context.Context, req *Request) Response {
			return Response{Code: CodeRecoverableError}
		})
		_, err := c.RefreshState(ctx, false)
		require.Error(t, err)
		assert.True(t, IsCritical(err))
	})

	t.Run("critical sentinel with empty error violates the contract", func(t *testing.T) {
		c := newTestClient(t, func(ctx context.Context, req *Request) Response {
			return Response{Code: CodeCriticalError}
		})
		_, err := c.RefreshState(ctx, false)
		require.Error(t, err)
		assert.True(t, IsCritical(err))
		assert.ErrorContains(t, err, "contract violation")
	})

	t.Run("success code with error set violates the contract", func(t *testing.T) {
		c := newTestClient(t, func(ctx context.Context, req *Request) Response {
			return Response{Code: 200, Error: "should not be here"}
		})
		_, err := c.RefreshState(ctx, false)
		require.Error(t, err)
		assert.True(t, IsCritical(err))
	})

	t.Run("no requester configured", func(t *testing.T) {
		c := newTestClient(t, nil)
		_, err := c.RefreshState(ctx, false)
		require.Error(t, err)
		assert.False(t, IsCritical(err))
	})
}

func TestRequestTimeout(t *testing.T) {
	ctx := context.Background()

	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	cfg.RequestTimeout = 50 * time.Millisecond
	cfg.Requester = func(ctx context.Context, req *Request) Response {
		<-ctx.Done()
		return Response{Code: CodeRecoverableError, Error: ctx.Err().Error()}
	}

	c, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.RefreshState(ctx, false)
	require.Error(t, err)
	assert.False(t, IsCritical(err))
	assert.ErrorContains(t, err, "request timed out")

	// The failed mint left no identity behind.
	has, err := c.HasTokens(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestGetDiagnosticInfo(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	ledger.balance = 42
	ledger.catalog = []api.PurchasePrice{{Class: "speed-boost", Distinguisher: "1hr", Price: 100}}
	c := newTestClient(t, ledger.requester())
	refreshWithCatalog(t, ctx, c, "speed-boost")

	info, err := c.GetDiagnosticInfo(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []TokenType{TokenEarner, TokenSpender, TokenIndicator}, info.ValidTokenTypes)
	assert.False(t, info.IsAccount)
	assert.Equal(t, int64(42), info.Balance)
	assert.Len(t, info.PurchasePrices, 1)

	lite, err := c.GetDiagnosticInfo(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, lite.PurchasePrices)
}

func TestModifyLandingPage(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	c := newTestClient(t, ledger.requester())

	// No identity yet: no earner token to embed.
	_, err := c.ModifyLandingPage(ctx, "https://example.com/landing?x=1")
	require.Error(t, err)

	_, err = c.RefreshState(ctx, false)
	require.NoError(t, err)
	require.NoError(t, c.SetRequestMetadataItems(ctx, map[string]string{"client_region": "CA"}))

	got, err := c.ModifyLandingPage(ctx, "https://example.com/landing?x=1")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "1", u.Query().Get("x"))

	raw, err := base64.StdEncoding.DecodeString(u.Query().Get("picocash"))
	require.NoError(t, err)
	var pkg struct {
		Version  int               `json:"v"`
		Tokens   string            `json:"tokens"`
		Metadata map[string]string `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(raw, &pkg))
	assert.Equal(t, "earner-t1", pkg.Tokens)
	assert.Equal(t, "CA", pkg.Metadata["client_region"])
}

func TestGetRewardedActivityData(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	c := newTestClient(t, ledger.requester())

	_, err := c.GetRewardedActivityData(ctx)
	require.Error(t, err)

	_, err = c.RefreshState(ctx, false)
	require.NoError(t, err)

	data, err := c.GetRewardedActivityData(ctx)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "earner-t1")
}

func TestAccountURLs(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)

	signup, err := c.AccountSignupURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://api.pico.cash/signup", signup)

	require.NoError(t, c.SetLocale(ctx, "fr"))
	manage, err := c.AccountManagementURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://api.pico.cash/account?locale=fr", manage)
}
