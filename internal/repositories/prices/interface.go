package prices

import (
	"context"

	"github.com/picocash/picocash/internal/models"
)

// Repository stores the server's purchase-price catalog. The server is
// authoritative: each refresh replaces the catalog wholesale.
type Repository interface {
	// GetAll returns every catalog entry.
	GetAll(ctx context.Context) ([]models.PurchasePrice, error)

	// Lookup returns the catalog entry for (class, distinguisher), or
	// (nil, nil) when there is no such entry.
	Lookup(ctx context.Context, class, distinguisher string) (*models.PurchasePrice, error)

	// ReplaceAll atomically replaces the whole catalog.
	ReplaceAll(ctx context.Context, pp []models.PurchasePrice) error

	// Clear removes all catalog entries.
	Clear(ctx context.Context) error
}
