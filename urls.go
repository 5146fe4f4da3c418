package picocash

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/picocash/picocash/internal/repositories/metadata"
)

// landingPageParam is the query parameter carrying the earner package
// on landing page URLs.
const landingPageParam = "picocash"

// rewardPackage is the payload embedded in landing pages and rewarded
// activity data so the site can credit this identity's earner token.
type rewardPackage struct {
	Version  int               `json:"v"`
	Tokens   string            `json:"tokens"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (c *Client) earnerPackage(ctx context.Context) (string, error) {
	r := c.repos()

	toks, err := r.tokens.GetAll(ctx)
	if err != nil {
		return "", wrapCriticalError(err, "failed to read tokens")
	}
	earner, ok := toks[string(TokenEarner)]
	if !ok {
		return "", newError("no earner token available")
	}

	attrs, err := getStringMap(ctx, r.meta, metadata.KeyRequestMetadata)
	if err != nil {
		return "", err
	}
	pkg := rewardPackage{Version: 1, Tokens: earner}
	if len(attrs) > 0 {
		pkg.Metadata = attrs
	}

	b, err := json.Marshal(pkg)
	if err != nil {
		return "", wrapCriticalError(err, "failed to encode earner package")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// GetRewardedActivityData returns the base64 package a rewarded
// activity (ad view, survey) passes to its reward webhook so the server
// can credit this identity. Fails when no earner token is present.
func (c *Client) GetRewardedActivityData(ctx context.Context) (string, error) {
	return c.earnerPackage(ctx)
}

// ModifyLandingPage appends this identity's earner package to a landing
// page URL so the site can attribute a visit reward. The original query
// is preserved. Fails when the URL does not parse or no earner token is
// present.
func (c *Client) ModifyLandingPage(ctx context.Context, landingPage string) (string, error) {
	u, err := url.Parse(landingPage)
	if err != nil {
		return "", wrapError(err, "failed to parse landing page url")
	}

	pkg, err := c.earnerPackage(ctx)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set(landingPageParam, pkg)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DiagnosticInfo is a point-in-time snapshot of engine state, safe to
// attach to feedback reports. It never contains token values.
type DiagnosticInfo struct {
	ValidTokenTypes []TokenType     `json:"validTokenTypes"`
	IsAccount       bool            `json:"isAccount"`
	Balance         int64           `json:"balance"`
	PurchaseCount   int             `json:"purchaseCount"`
	PurchasePrices  []PurchasePrice `json:"purchasePrices,omitempty"`
}

// GetDiagnosticInfo returns a diagnostic snapshot. With lite set the
// price catalog is elided to keep the payload small.
func (c *Client) GetDiagnosticInfo(ctx context.Context, lite bool) (*DiagnosticInfo, error) {
	kinds, err := c.ValidTokenTypes(ctx)
	if err != nil {
		return nil, err
	}
	isAccount, err := c.IsAccount(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := c.Balance(ctx)
	if err != nil {
		return nil, err
	}
	ps, err := c.GetPurchases(ctx)
	if err != nil {
		return nil, err
	}

	info := &DiagnosticInfo{
		ValidTokenTypes: kinds,
		IsAccount:       isAccount,
		Balance:         balance,
		PurchaseCount:   len(ps),
	}
	if !lite {
		pp, err := c.GetPurchasePrices(ctx)
		if err != nil {
			return nil, err
		}
		info.PurchasePrices = pp
	}
	return info, nil
}

func (c *Client) siteURL(ctx context.Context, path string) (string, error) {
	locale, err := c.repos().meta.GetString(ctx, metadata.KeyLocale)
	if err != nil {
		return "", wrapCriticalError(err, "failed to read locale")
	}

	u := url.URL{
		Scheme: c.cfg.ServerScheme,
		Host:   c.cfg.ServerHostname,
		Path:   path,
	}
	if c.cfg.ServerPort != 0 && !isDefaultPort(c.cfg.ServerScheme, c.cfg.ServerPort) {
		u.Host = fmt.Sprintf("%s:%d", c.cfg.ServerHostname, c.cfg.ServerPort)
	}
	if locale != "" {
		q := url.Values{}
		q.Set("locale", locale)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// AccountSignupURL returns the web page where a user creates an account.
func (c *Client) AccountSignupURL(ctx context.Context) (string, error) {
	return c.siteURL(ctx, "/signup")
}

// AccountForgotURL returns the credential-recovery web page.
func (c *Client) AccountForgotURL(ctx context.Context) (string, error) {
	return c.siteURL(ctx, "/forgot")
}

// AccountManagementURL returns the account-management web page.
func (c *Client) AccountManagementURL(ctx context.Context) (string, error) {
	return c.siteURL(ctx, "/account")
}
