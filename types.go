package picocash

import "github.com/picocash/picocash/internal/models"

// Balances and prices are denominated in picodollars.
const UnitsPerDollar int64 = 1e12

// TokenType identifies the kinds of bearer tokens an identity can hold.
type TokenType string

const (
	TokenEarner    TokenType = "earner"
	TokenSpender   TokenType = "spender"
	TokenIndicator TokenType = "indicator"
	TokenAccount   TokenType = "account"
)

// tokenKindOrder is the canonical ordering used when listing token types
// or joining token values for the auth header.
var tokenKindOrder = []TokenType{TokenEarner, TokenSpender, TokenIndicator, TokenAccount}

// Purchase is one entitlement bought from the ledger server.
type Purchase = models.Purchase

// Authorization is the opaque credential bound 1:1 to a purchase.
type Authorization = models.Authorization

// PurchasePrice is one entry of the server's price catalog.
type PurchasePrice = models.PurchasePrice
