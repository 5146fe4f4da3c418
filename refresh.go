package picocash

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/picocash/picocash/internal/api"
	"github.com/picocash/picocash/internal/dbx"
	"github.com/picocash/picocash/internal/models"
	"github.com/picocash/picocash/internal/repositories/metadata"
)

// RefreshStateResult is the outcome of RefreshState.
type RefreshStateResult struct {
	Status Status
	// ReconnectRequired is set when the refresh invalidated a currently
	// active purchase carrying an authorization; a tunnel built with that
	// authorization must be reconnected.
	ReconnectRequired bool
}

// RefreshState reconciles local state with the ledger server and, when
// purchaseClasses is non-empty, refreshes the price catalog for those
// classes. With no identity present it mints a new tracker, unless the
// identity is a logged-out account, in which case it returns Success
// and waits for a login. With localOnly set no network call is made.
func (c *Client) RefreshState(ctx context.Context, localOnly bool, purchaseClasses ...string) (*RefreshStateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.repos()
	toks, err := r.tokens.GetAll(ctx)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read tokens")
	}

	if len(toks) == 0 {
		isAccount, err := r.meta.GetBool(ctx, metadata.KeyIsAccount)
		if err != nil {
			return nil, wrapCriticalError(err, "failed to read identity kind")
		}
		if isAccount {
			// Logged-out account. Only a login can proceed.
			return &RefreshStateResult{Status: StatusSuccess}, nil
		}
		if localOnly {
			return &RefreshStateResult{Status: StatusSuccess}, nil
		}
		return c.newTracker(ctx)
	}

	if localOnly {
		return &RefreshStateResult{Status: StatusSuccess}, nil
	}

	return c.refreshRemote(ctx, purchaseClasses)
}

// newTracker mints a fresh anonymous identity.
func (c *Client) newTracker(ctx context.Context) (*RefreshStateResult, error) {
	resp, err := c.makeRequest(ctx, http.MethodPost, api.TrackerPath, nil, nil, false)
	if err != nil {
		return nil, err
	}

	switch resp.Code {
	case http.StatusOK:
		var body api.TrackerResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, wrapCriticalError(err, "failed to parse tracker response")
		}
		if len(body) == 0 {
			return nil, newCriticalError("tracker response contained no tokens")
		}
		err := dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
			r := newRepoSet(tx)
			if err := r.tokens.ReplaceAll(ctx, body); err != nil {
				return err
			}
			if err := r.meta.SetBool(ctx, metadata.KeyIsAccount, false); err != nil {
				return err
			}
			return r.meta.SetInt64(ctx, metadata.KeyBalance, 0)
		})
		if err != nil {
			return nil, wrapCriticalError(err, "failed to store tracker identity")
		}
		c.log.Info(ctx, "new tracker identity created")
		return &RefreshStateResult{Status: StatusSuccess}, nil
	case http.StatusInternalServerError:
		return &RefreshStateResult{Status: StatusServerError}, nil
	default:
		return nil, newError("unexpected tracker response code: %d", resp.Code)
	}
}

func (c *Client) refreshRemote(ctx context.Context, purchaseClasses []string) (*RefreshStateResult, error) {
	query := url.Values{}
	for _, class := range purchaseClasses {
		query.Add("class", class)
	}

	resp, err := c.makeRequest(ctx, http.MethodGet, api.RefreshStatePath, query, nil, true)
	if err != nil {
		return nil, err
	}

	switch resp.Code {
	case http.StatusOK:
		var body api.RefreshStateResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, wrapCriticalError(err, "failed to parse refresh-state response")
		}
		return c.applyRefreshedState(ctx, &body, len(purchaseClasses) > 0)
	case http.StatusUnauthorized:
		// The whole identity is no longer recognized.
		if err := c.clearUserState(ctx); err != nil {
			return nil, err
		}
		return &RefreshStateResult{Status: StatusInvalidTokens}, nil
	case http.StatusInternalServerError:
		return &RefreshStateResult{Status: StatusServerError}, nil
	default:
		return nil, newError("unexpected refresh-state response code: %d", resp.Code)
	}
}

// applyRefreshedState commits the server's view atomically: drop tokens
// the server marked invalid, record identity kind and balance, replace
// the price catalog when one was requested, merge the server's
// active-purchase list, and remove purchases the server voided.
func (c *Client) applyRefreshedState(ctx context.Context, body *api.RefreshStateResponse, refreshCatalog bool) (*RefreshStateResult, error) {
	reconnect := false
	err := dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
		r := newRepoSet(tx)

		var invalidValues []string
		for value, valid := range body.TokensValid {
			if !valid {
				invalidValues = append(invalidValues, value)
			}
		}
		if err := r.tokens.DeleteByValues(ctx, invalidValues); err != nil {
			return err
		}

		if err := r.meta.SetBool(ctx, metadata.KeyIsAccount, body.IsAccount); err != nil {
			return err
		}
		if err := r.meta.SetInt64(ctx, metadata.KeyBalance, body.Balance); err != nil {
			return err
		}

		if refreshCatalog {
			catalog := make([]models.PurchasePrice, len(body.PurchasePrices))
			for i, pp := range body.PurchasePrices {
				catalog[i] = models.PurchasePrice{Class: pp.Class, Distinguisher: pp.Distinguisher, Price: pp.Price}
			}
			if err := r.prices.ReplaceAll(ctx, catalog); err != nil {
				return err
			}
		}

		if len(body.Purchases) > 0 {
			synced, err := c.syncPurchases(ctx, r, body.Purchases)
			if err != nil {
				return err
			}
			if synced {
				reconnect = true
			}
		}

		if len(body.InvalidPurchases) > 0 {
			voided, err := r.purchases.GetByIDs(ctx, body.InvalidPurchases)
			if err != nil {
				return err
			}
			now := c.now()
			for _, p := range voided {
				if p.IsActive(now) && p.Authorization != nil {
					reconnect = true
				}
			}
			if err := r.purchases.DeleteByIDs(ctx, body.InvalidPurchases); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, wrapCriticalError(err, "failed to apply refreshed state")
	}

	return &RefreshStateResult{Status: StatusSuccess, ReconnectRequired: reconnect}, nil
}

// syncPurchases merges the server's active-purchase list into the local
// ledger. An account that logs back in on a fresh or logged-out device
// recovers its purchases this way. Returns true when a purchase not
// previously known locally is active and carries an authorization: the
// caller's privileged session must be re-established around it.
func (c *Client) syncPurchases(ctx context.Context, r *repoSet, serverPurchases []api.Purchase) (bool, error) {
	ids := make([]string, len(serverPurchases))
	for i, wp := range serverPurchases {
		ids[i] = wp.TransactionID
	}
	known, err := r.purchases.GetByIDs(ctx, ids)
	if err != nil {
		return false, err
	}
	knownIDs := make(map[string]struct{}, len(known))
	for _, p := range known {
		knownIDs[p.ID] = struct{}{}
	}

	reconnect := false
	now := c.now()
	for _, wp := range serverPurchases {
		p := models.Purchase{
			ID:            wp.TransactionID,
			Class:         wp.Class,
			Distinguisher: wp.Distinguisher,
			Expiry:        wp.Expires,
		}
		if wp.Authorization != "" {
			auth, err := DecodeAuthorization(wp.Authorization)
			if err != nil {
				return false, err
			}
			p.Authorization = auth
		}
		if err := r.purchases.Upsert(ctx, &p); err != nil {
			return false, err
		}
		if _, ok := knownIDs[p.ID]; !ok && p.IsActive(now) && p.Authorization != nil {
			reconnect = true
		}
	}
	return reconnect, nil
}

// clearUserState removes the identity entirely, including purchases.
// Used when the server rejects the identity wholesale.
func (c *Client) clearUserState(ctx context.Context) error {
	err := dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
		r := newRepoSet(tx)
		if err := r.tokens.Clear(ctx); err != nil {
			return err
		}
		if err := r.purchases.Clear(ctx); err != nil {
			return err
		}
		if err := r.prices.Clear(ctx); err != nil {
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
		return wrapCriticalError(err, "failed to clear user state")
	}
	c.log.Warn(ctx, "server rejected identity, local state cleared")
	return nil
}
