package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type txKey struct{}

// WithTx returns a context whose Postgres store calls run inside tx.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext retrieves the transaction set by WithTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// PostgresStore keeps documents in the documents table created by
// migrations/001_documents.sql.
type PostgresStore struct{ pool *pgxpool.Pool }

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) conn(ctx context.Context) queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *PostgresStore) Get(ctx context.Context, center, collection, id string) ([]byte, error) {
	var body []byte
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT body FROM documents
		WHERE center_id = $1 AND collection = $2 AND id = $3`,
		center, collection, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return body, nil
}

func (s *PostgresStore) Put(ctx context.Context, center, collection, id string, doc []byte) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO documents (center_id, collection, id, body)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (center_id, collection, id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`,
		center, collection, id, string(doc))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, center, collection string) ([][]byte, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT body FROM documents
		WHERE center_id = $1 AND collection = $2
		ORDER BY seq`,
		center, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		out = append(out, body)
	}
	return out, rows.Err()
}
