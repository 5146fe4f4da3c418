// Package models defines the domain entities shared by the picocash engine
// and its storage repositories: purchases, purchase prices, and
// authorizations.
package models

import "time"

// Authorization is an opaque, server-minted credential bound to a purchase.
// The engine never verifies the signature inside Encoded; it only carries
// the blob and the decoded summary fields.
type Authorization struct {
	ID         string    `json:"ID"`
	AccessType string    `json:"AccessType"`
	Expires    time.Time `json:"Expires"`
	Encoded    string    `json:"Encoded"`
}

// Purchase is one entitlement bought from the ledger server.
// Expiry is nil for purchases that never expire by clock.
type Purchase struct {
	ID            string         `json:"id"`
	Class         string         `json:"class"`
	Distinguisher string         `json:"distinguisher"`
	Expiry        *time.Time     `json:"expiry,omitempty"`
	Authorization *Authorization `json:"authorization,omitempty"`
}

// IsActive reports whether the purchase has not yet expired as of now.
// A purchase without an expiry is always active.
func (p *Purchase) IsActive(now time.Time) bool {
	return p.Expiry == nil || p.Expiry.After(now)
}

// PurchasePrice is one entry of the server's price catalog. The
// (Class, Distinguisher) pair is a lookup key; the server remains
// authoritative across refreshes.
type PurchasePrice struct {
	Class         string `json:"class"`
	Distinguisher string `json:"distinguisher"`
	Price         int64  `json:"price"`
}
