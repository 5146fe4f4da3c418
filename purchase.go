package picocash

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/picocash/picocash/internal/api"
	"github.com/picocash/picocash/internal/dbx"
	"github.com/picocash/picocash/internal/models"
	"github.com/picocash/picocash/internal/repositories/metadata"
)

// NewExpiringPurchaseResult is the outcome of NewExpiringPurchase.
// Purchase is non-nil only on StatusSuccess.
type NewExpiringPurchaseResult struct {
	Status   Status
	Purchase *Purchase
}

// NewExpiringPurchase buys one time-limited product identified by
// (class, distinguisher) at expectedPrice picodollars. Preconditions
// that are knowable locally are checked before any network call, so a
// stale catalog, an existing active purchase, a missing spender token,
// or an insufficient balance never reach the server. Local state is
// mutated only on StatusSuccess.
func (c *Client) NewExpiringPurchase(ctx context.Context, class, distinguisher string, expectedPrice int64) (*NewExpiringPurchaseResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.repos()

	price, err := r.prices.Lookup(ctx, class, distinguisher)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to look up purchase price")
	}
	if price == nil {
		return &NewExpiringPurchaseResult{Status: StatusTransactionTypeNotFound}, nil
	}
	if price.Price != expectedPrice {
		return &NewExpiringPurchaseResult{Status: StatusTransactionAmountMismatch}, nil
	}

	existing, err := r.purchases.FindActive(ctx, class, distinguisher, c.now())
	if err != nil {
		return nil, wrapCriticalError(err, "failed to check for existing purchase")
	}
	if existing != nil {
		return &NewExpiringPurchaseResult{Status: StatusExistingTransaction}, nil
	}

	toks, err := r.tokens.GetAll(ctx)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read tokens")
	}
	if _, ok := toks[string(TokenSpender)]; !ok {
		return &NewExpiringPurchaseResult{Status: StatusInvalidTokens}, nil
	}

	balance, err := r.meta.GetInt64(ctx, metadata.KeyBalance)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read balance")
	}
	if balance < expectedPrice {
		return &NewExpiringPurchaseResult{Status: StatusInsufficientBalance}, nil
	}

	query := url.Values{}
	query.Set("class", class)
	query.Set("distinguisher", distinguisher)
	query.Set("expectedAmount", strconv.FormatInt(expectedPrice, 10))

	resp, err := c.makeRequest(ctx, http.MethodPost, api.TransactionPath, query, nil, true)
	if err != nil {
		return nil, err
	}

	switch resp.Code {
	case http.StatusOK:
		return c.commitPurchase(ctx, class, distinguisher, resp.Body)
	case http.StatusConflict:
		return &NewExpiringPurchaseResult{Status: StatusExistingTransaction}, nil
	case http.StatusPaymentRequired:
		return &NewExpiringPurchaseResult{Status: StatusInsufficientBalance}, nil
	case http.StatusNotAcceptable:
		return &NewExpiringPurchaseResult{Status: StatusTransactionAmountMismatch}, nil
	case http.StatusNotFound:
		return &NewExpiringPurchaseResult{Status: StatusTransactionTypeNotFound}, nil
	case http.StatusUnauthorized:
		return &NewExpiringPurchaseResult{Status: StatusInvalidTokens}, nil
	case http.StatusBadRequest:
		return &NewExpiringPurchaseResult{Status: StatusBadRequest}, nil
	case http.StatusInternalServerError:
		return &NewExpiringPurchaseResult{Status: StatusServerError}, nil
	default:
		return nil, newError("unexpected transaction response code: %d", resp.Code)
	}
}

// commitPurchase records a server-approved purchase and the post-debit
// balance in one transaction.
func (c *Client) commitPurchase(ctx context.Context, class, distinguisher string, respBody []byte) (*NewExpiringPurchaseResult, error) {
	var body api.TransactionResponse
	if err := json.Unmarshal(respBody, &body); err != nil {
		return nil, wrapCriticalError(err, "failed to parse transaction response")
	}
	if body.TransactionID == "" {
		return nil, newCriticalError("transaction response missing TransactionID")
	}

	purchase := &models.Purchase{
		ID:            body.TransactionID,
		Class:         class,
		Distinguisher: distinguisher,
		Expiry:        body.Expires,
	}
	if body.Authorization != "" {
		auth, err := DecodeAuthorization(body.Authorization)
		if err != nil {
			return nil, err
		}
		purchase.Authorization = auth
	}

	err := dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
		r := newRepoSet(tx)
		if err := r.purchases.Insert(ctx, purchase); err != nil {
			return err
		}
		return r.meta.SetInt64(ctx, metadata.KeyBalance, body.Balance)
	})
	if err != nil {
		return nil, wrapCriticalError(err, "failed to store purchase")
	}

	c.log.Info(ctx, "purchase complete", "class", class, "distinguisher", distinguisher, "id", purchase.ID)
	return &NewExpiringPurchaseResult{Status: StatusSuccess, Purchase: purchase}, nil
}
