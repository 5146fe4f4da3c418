package picocash

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/picocash/picocash/internal/api"
	"github.com/picocash/picocash/internal/dbx"
	"github.com/picocash/picocash/internal/repositories/metadata"
)

// AccountLoginResult is the outcome of AccountLogin. LastTrackerMerge
// is non-nil only when the caller held tracker tokens going in: it then
// reports whether the server performed the final allowed merge of that
// tracker's balance into the account.
type AccountLoginResult struct {
	Status           Status
	LastTrackerMerge *bool
}

// AccountLogin exchanges account credentials for account tokens. Any
// existing tracker tokens are sent along so the server can merge the
// tracker's balance into the account. On success the old identity is
// replaced wholesale; a follow-up RefreshState fetches the new balance.
func (c *Client) AccountLogin(ctx context.Context, username, password string) (*AccountLoginResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.repos()

	toks, err := r.tokens.GetAll(ctx)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read tokens")
	}
	isAccount, err := r.meta.GetBool(ctx, metadata.KeyIsAccount)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read identity kind")
	}
	hadTracker := len(toks) > 0 && !isAccount

	reqBody, err := json.Marshal(api.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, wrapCriticalError(err, "failed to encode login request")
	}

	// Tracker tokens ride the auth header so the server can merge the
	// tracker into the account. An account identity's stale tokens are
	// sent too; the server ignores them.
	resp, err := c.makeRequest(ctx, http.MethodPost, api.LoginPath, nil, reqBody, true)
	if err != nil {
		return nil, err
	}

	switch resp.Code {
	case http.StatusOK:
		var body api.LoginResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, wrapCriticalError(err, "failed to parse login response")
		}
		if len(body.Tokens) == 0 {
			return nil, newCriticalError("login response contained no tokens")
		}

		// The purchase ledger is kept: the follow-up refresh reconciles
		// it against the server's view for the logged-in account.
		err := dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
			r := newRepoSet(tx)
			if err := r.tokens.ReplaceAll(ctx, body.Tokens); err != nil {
				return err
			}
			if err := r.meta.SetBool(ctx, metadata.KeyIsAccount, true); err != nil {
				return err
			}
			if err := r.meta.SetInt64(ctx, metadata.KeyBalance, 0); err != nil {
				return err
			}
			return r.meta.Set(ctx, metadata.KeyAccountUsername, []byte(username))
		})
		if err != nil {
			return nil, wrapCriticalError(err, "failed to store account identity")
		}

		c.log.Info(ctx, "account login complete")
		result := &AccountLoginResult{Status: StatusSuccess}
		if hadTracker {
			merge := body.LastTrackerMerge
			result.LastTrackerMerge = &merge
		}
		return result, nil
	case http.StatusUnauthorized:
		return &AccountLoginResult{Status: StatusInvalidCredentials}, nil
	case http.StatusBadRequest:
		return &AccountLoginResult{Status: StatusBadRequest}, nil
	case http.StatusInternalServerError:
		return &AccountLoginResult{Status: StatusServerError}, nil
	default:
		return nil, newError("unexpected login response code: %d", resp.Code)
	}
}

// AccountLogoutResult is the outcome of AccountLogout.
type AccountLogoutResult struct {
	// ReconnectRequired is set when an active purchase carried an
	// authorization at logout time; any tunnel using it must reconnect.
	ReconnectRequired bool
}

// AccountLogout ends the account session locally and tells the server
// best-effort. The identity stays an account (logged out), the balance
// zeroes, and the purchase ledger is kept for when the account logs
// back in. Local logout succeeds even when the server is unreachable.
func (c *Client) AccountLogout(ctx context.Context) (*AccountLogoutResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.repos()

	isAccount, err := r.meta.GetBool(ctx, metadata.KeyIsAccount)
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read identity kind")
	}
	if !isAccount {
		return nil, newError("not an account")
	}

	active, err := r.purchases.Active(ctx, c.now())
	if err != nil {
		return nil, wrapCriticalError(err, "failed to read active purchases")
	}
	reconnect := false
	for _, p := range active {
		if p.Authorization != nil {
			reconnect = true
			break
		}
	}

	// Best effort: the server invalidates the session tokens, but local
	// logout must not depend on reachability.
	if resp, err := c.makeRequest(ctx, http.MethodPost, api.LogoutPath, nil, nil, true); err != nil {
		c.log.Warn(ctx, "server logout failed", "error", err)
	} else if resp.Code != http.StatusOK {
		c.log.Warn(ctx, "server logout rejected", "code", resp.Code)
	}

	err = dbx.InTx(ctx, c.db, func(ctx context.Context, tx dbx.Querier) error {
		r := newRepoSet(tx)
		if err := r.tokens.Clear(ctx); err != nil {
			return err
		}
		return r.meta.SetInt64(ctx, metadata.KeyBalance, 0)
	})
	if err != nil {
		return nil, wrapCriticalError(err, "failed to store logout state")
	}

	c.log.Info(ctx, "account logged out")
	return &AccountLogoutResult{ReconnectRequired: reconnect}, nil
}
