package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/couplesync/internal/dbx"
)

// SQLiteRepository works on whatever DBTX it is bound to, so the store can
// use it inside a record/outbox transaction.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// escapeLike makes prefix match literally in a LIKE ... ESCAPE '\' pattern.
var escapeLike = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func prefixPattern(prefix string) string { return escapeLike.Replace(prefix) + "%" }

func (r *SQLiteRepository) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("metadata %s: %w", what, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("metadata get %q: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	return r.exec(ctx, fmt.Sprintf("set %q", key),
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	return r.exec(ctx, fmt.Sprintf("delete %q", key), `DELETE FROM metadata WHERE key = ?`, key)
}

// DeletePrefix removes every key starting with prefix, e.g. all cached
// profiles or all cursors.
func (r *SQLiteRepository) DeletePrefix(ctx context.Context, prefix string) error {
	return r.exec(ctx, fmt.Sprintf("delete %q*", prefix),
		`DELETE FROM metadata WHERE key LIKE ? ESCAPE '\'`, prefixPattern(prefix))
}

// Clear wipes the table; used when another user logs in on the device.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	return r.exec(ctx, "clear", `DELETE FROM metadata`)
}

// List returns the items whose key starts with prefix; "" lists everything.
func (r *SQLiteRepository) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value FROM metadata WHERE key LIKE ? ESCAPE '\'`, prefixPattern(prefix))
	if err != nil {
		return nil, fmt.Errorf("metadata list %q: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("metadata list %q: %w", prefix, err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata list %q: %w", prefix, err)
	}
	return out, nil
}
