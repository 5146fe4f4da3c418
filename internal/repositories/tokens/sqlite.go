package tokens

import (
	"context"
	"fmt"
	"strings"

	"github.com/picocash/picocash/internal/dbx"
)

// SQLiteRepository implements Repository on top of a dbx.Querier
// (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.Querier
}

func NewSQLiteRepository(db dbx.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT type, value FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("failed to select tokens: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		result[kind] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) ReplaceAll(ctx context.Context, toks map[string]string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tokens`); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	for kind, value := range toks {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO tokens (type, value) VALUES (?, ?)`, kind, value)
		if err != nil {
			return fmt.Errorf("failed to insert token %s: %w", kind, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) DeleteByValues(ctx context.Context, values []string) error {
	if len(values) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE value IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tokens`); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}
