package purchases

import (
	"context"
	"time"

	"github.com/picocash/picocash/internal/models"
)

// Repository is the purchase ledger: every purchase ever made by the
// current identity, active or expired. Activity is a pure function of
// the stored expiry versus the supplied clock reading, so callers pass
// `now` explicitly and get the same answer the accessor layer computes.
type Repository interface {
	// Insert adds a new purchase.
	Insert(ctx context.Context, p *models.Purchase) error

	// Upsert adds a purchase or, when one with the same id already
	// exists, replaces its fields with the server's view.
	Upsert(ctx context.Context, p *models.Purchase) error

	// GetAll returns every purchase, active or expired, ordered by id.
	GetAll(ctx context.Context) ([]models.Purchase, error)

	// Active returns the purchases whose expiry is absent or after now.
	Active(ctx context.Context, now time.Time) ([]models.Purchase, error)

	// FindActive returns the active purchase with the given
	// (class, distinguisher), or (nil, nil) when there is none.
	FindActive(ctx context.Context, class, distinguisher string, now time.Time) (*models.Purchase, error)

	// NextExpiring returns the purchase with the soonest non-null expiry,
	// which may already have elapsed, or (nil, nil) when no purchase has
	// an expiry.
	NextExpiring(ctx context.Context) (*models.Purchase, error)

	// ExpiredAsOf returns the purchases whose expiry is at or before now.
	ExpiredAsOf(ctx context.Context, now time.Time) ([]models.Purchase, error)

	// GetByIDs returns the purchases with the given ids; unknown ids are
	// skipped silently.
	GetByIDs(ctx context.Context, ids []string) ([]models.Purchase, error)

	// GetByAuthorizationIDs returns the purchases whose authorization id
	// is in ids; unmatched ids are skipped silently.
	GetByAuthorizationIDs(ctx context.Context, ids []string) ([]models.Purchase, error)

	// DeleteByIDs removes the purchases with the given ids. Unknown ids
	// are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error

	// Clear removes all purchases.
	Clear(ctx context.Context) error
}
