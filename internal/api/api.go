// Package api defines the client view of the picocash ledger server
// protocol: endpoint paths, headers, and the JSON request/response
// bodies. The server side is out of scope for this module.
package api

import (
	"encoding/json"
	"time"
)

// Version is the server API version prefix.
const Version = "v1"

// Endpoint paths, relative to the server root.
const (
	TrackerPath      = "/" + Version + "/tracker"
	RefreshStatePath = "/" + Version + "/refresh-state"
	TransactionPath  = "/" + Version + "/transaction"
	LoginPath        = "/" + Version + "/login"
	LogoutPath       = "/" + Version + "/logout"
)

// Request headers.
const (
	// AuthHeader carries the current identity's token values,
	// comma-joined.
	AuthHeader = "X-PicoCash-Auth"
	// MetadataHeader carries the JSON-encoded request Metadata.
	MetadataHeader = "X-PicoCash-Metadata"
)

// Metadata is attached to every server request so the ledger can
// attribute earnings and diagnose clients. Attributes holds the
// caller-set items (client_version, client_region, and the like).
type Metadata struct {
	Version    int               `json:"v"`
	UserAgent  string            `json:"user_agent"`
	InstanceID string            `json:"instance_id,omitempty"`
	Locale     string            `json:"locale,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Encode returns the JSON form used as the MetadataHeader value.
func (m Metadata) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PurchasePrice is one catalog entry as sent by the server.
type PurchasePrice struct {
	Class         string `json:"Class"`
	Distinguisher string `json:"Distinguisher"`
	Price         int64  `json:"Price"`
}

// Purchase is one active purchase as reported by the server.
// Authorization, when present, is the encoded authorization blob.
type Purchase struct {
	TransactionID string     `json:"TransactionID"`
	Class         string     `json:"Class"`
	Distinguisher string     `json:"Distinguisher"`
	Expires       *time.Time `json:"Expires,omitempty"`
	Authorization string     `json:"Authorization,omitempty"`
}

// RefreshStateResponse is the 200 body of GET /v1/refresh-state.
// TokensValid is keyed by token value, not token kind. Purchases is the
// server's authoritative active-purchase list for this identity; the
// client merges it in so an account recovers its purchases after a
// re-login on a fresh or logged-out device. InvalidPurchases lists
// purchase ids the server has voided regardless of the local clock.
type RefreshStateResponse struct {
	TokensValid      map[string]bool `json:"TokensValid"`
	IsAccount        bool            `json:"IsAccount"`
	Balance          int64           `json:"Balance"`
	PurchasePrices   []PurchasePrice `json:"PurchasePrices"`
	Purchases        []Purchase      `json:"Purchases"`
	InvalidPurchases []string        `json:"InvalidPurchases"`
}

// TransactionResponse is the 200 body of POST /v1/transaction. Balance is
// the post-debit balance. Authorization, when present, is the encoded
// authorization blob for the purchase.
type TransactionResponse struct {
	TransactionID string     `json:"TransactionID"`
	Balance       int64      `json:"Balance"`
	Expires       *time.Time `json:"Expires,omitempty"`
	Authorization string     `json:"Authorization,omitempty"`
}

// LoginRequest is the body of POST /v1/login. Tracker tokens, when
// present in the auth header, let the server merge the tracker's balance
// into the account.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the 200 body of POST /v1/login.
type LoginResponse struct {
	Tokens           map[string]string `json:"Tokens"`
	LastTrackerMerge bool              `json:"LastTrackerMerge"`
}

// TrackerResponse is the 200 body of POST /v1/tracker: the freshly minted
// tokens, keyed by token kind.
type TrackerResponse map[string]string
