package purchases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/picocash/picocash/internal/dbx"
	"github.com/picocash/picocash/internal/models"
)

// Expiries are stored as integer unix nanoseconds so that comparisons in
// SQL and in Go agree exactly.

// SQLiteRepository implements Repository using a dbx.Querier
// (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.Querier
}

func NewSQLiteRepository(db dbx.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `id, class, distinguisher, expiry, auth_id, auth_access_type, auth_expires, auth_encoded`

func (r *SQLiteRepository) Insert(ctx context.Context, p *models.Purchase) error {
	args := purchaseArgs(p)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO purchases (id, class, distinguisher, expiry, auth_id, auth_access_type, auth_expires, auth_encoded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to insert purchase %s: %w", p.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, p *models.Purchase) error {
	args := purchaseArgs(p)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO purchases (id, class, distinguisher, expiry, auth_id, auth_access_type, auth_expires, auth_encoded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			class = excluded.class,
			distinguisher = excluded.distinguisher,
			expiry = excluded.expiry,
			auth_id = excluded.auth_id,
			auth_access_type = excluded.auth_access_type,
			auth_expires = excluded.auth_expires,
			auth_encoded = excluded.auth_encoded
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert purchase %s: %w", p.ID, err)
	}
	return nil
}

func purchaseArgs(p *models.Purchase) []any {
	var expiry sql.NullInt64
	if p.Expiry != nil {
		expiry = sql.NullInt64{Int64: p.Expiry.UnixNano(), Valid: true}
	}

	var authID, authAccessType, authEncoded sql.NullString
	var authExpires sql.NullInt64
	if p.Authorization != nil {
		authID = sql.NullString{String: p.Authorization.ID, Valid: true}
		authAccessType = sql.NullString{String: p.Authorization.AccessType, Valid: true}
		authExpires = sql.NullInt64{Int64: p.Authorization.Expires.UnixNano(), Valid: true}
		authEncoded = sql.NullString{String: p.Authorization.Encoded, Valid: true}
	}

	return []any{p.ID, p.Class, p.Distinguisher, expiry, authID, authAccessType, authExpires, authEncoded}
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.Purchase, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM purchases ORDER BY id`)
}

func (r *SQLiteRepository) Active(ctx context.Context, now time.Time) ([]models.Purchase, error) {
	return r.query(ctx,
		`SELECT `+selectColumns+` FROM purchases WHERE expiry IS NULL OR expiry > ? ORDER BY id`,
		now.UnixNano())
}

func (r *SQLiteRepository) FindActive(ctx context.Context, class, distinguisher string, now time.Time) (*models.Purchase, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+` FROM purchases
		WHERE class = ? AND distinguisher = ? AND (expiry IS NULL OR expiry > ?)
		LIMIT 1
	`, class, distinguisher, now.UnixNano())

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active purchase: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) NextExpiring(ctx context.Context) (*models.Purchase, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM purchases WHERE expiry IS NOT NULL ORDER BY expiry ASC LIMIT 1`)

	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find next expiring purchase: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ExpiredAsOf(ctx context.Context, now time.Time) ([]models.Purchase, error) {
	return r.query(ctx,
		`SELECT `+selectColumns+` FROM purchases WHERE expiry IS NOT NULL AND expiry <= ? ORDER BY id`,
		now.UnixNano())
}

func (r *SQLiteRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Purchase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + selectColumns + ` FROM purchases WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	return r.query(ctx, query, toArgs(ids)...)
}

func (r *SQLiteRepository) GetByAuthorizationIDs(ctx context.Context, ids []string) ([]models.Purchase, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + selectColumns + ` FROM purchases WHERE auth_id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	return r.query(ctx, query, toArgs(ids)...)
}

func (r *SQLiteRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM purchases WHERE id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return fmt.Errorf("failed to delete purchases: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM purchases`); err != nil {
		return fmt.Errorf("failed to clear purchases: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]models.Purchase, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select purchases: %w", err)
	}
	defer rows.Close()

	var result []models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase row: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var (
		p              models.Purchase
		expiry         sql.NullInt64
		authID         sql.NullString
		authAccessType sql.NullString
		authExpires    sql.NullInt64
		authEncoded    sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Class, &p.Distinguisher, &expiry,
		&authID, &authAccessType, &authExpires, &authEncoded); err != nil {
		return nil, err
	}

	if expiry.Valid {
		t := time.Unix(0, expiry.Int64)
		p.Expiry = &t
	}
	if authID.Valid {
		p.Authorization = &models.Authorization{
			ID:         authID.String,
			AccessType: authAccessType.String,
			Expires:    time.Unix(0, authExpires.Int64),
			Encoded:    authEncoded.String,
		}
	}
	return &p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
