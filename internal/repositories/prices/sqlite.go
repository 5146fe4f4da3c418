package prices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/picocash/picocash/internal/dbx"
	"github.com/picocash/picocash/internal/models"
)

// SQLiteRepository implements Repository using a dbx.Querier
// (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.Querier
}

func NewSQLiteRepository(db dbx.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.PurchasePrice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT class, distinguisher, price FROM purchase_prices ORDER BY class, distinguisher`)
	if err != nil {
		return nil, fmt.Errorf("failed to select purchase prices: %w", err)
	}
	defer rows.Close()

	var result []models.PurchasePrice
	for rows.Next() {
		var pp models.PurchasePrice
		if err := rows.Scan(&pp.Class, &pp.Distinguisher, &pp.Price); err != nil {
			return nil, fmt.Errorf("failed to scan purchase price row: %w", err)
		}
		result = append(result, pp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Lookup(ctx context.Context, class, distinguisher string) (*models.PurchasePrice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT class, distinguisher, price FROM purchase_prices WHERE class = ? AND distinguisher = ?`,
		class, distinguisher)

	pp := &models.PurchasePrice{}
	err := row.Scan(&pp.Class, &pp.Distinguisher, &pp.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up purchase price: %w", err)
	}
	return pp, nil
}

func (r *SQLiteRepository) ReplaceAll(ctx context.Context, pp []models.PurchasePrice) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM purchase_prices`); err != nil {
		return fmt.Errorf("failed to clear purchase prices: %w", err)
	}
	for _, p := range pp {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO purchase_prices (class, distinguisher, price) VALUES (?, ?, ?)
			ON CONFLICT(class, distinguisher) DO UPDATE SET price = excluded.price
		`, p.Class, p.Distinguisher, p.Price)
		if err != nil {
			return fmt.Errorf("failed to insert purchase price %s/%s: %w", p.Class, p.Distinguisher, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM purchase_prices`); err != nil {
		return fmt.Errorf("failed to clear purchase prices: %w", err)
	}
	return nil
}
