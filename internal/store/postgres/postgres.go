package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"retailcore/backoffice/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// nextDocumentNumber allocates the next value for (tenant, docType) inside
// the caller's transaction. The upsert's row lock serializes concurrent
// allocations; gaps appear when a transaction rolls back.
func nextDocumentNumber(ctx context.Context, tx *sql.Tx, tenantID, docType, prefix string) (string, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO document_sequences (tenant_id, doc_type, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, doc_type)
		DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value
	`, tenantID, docType).Scan(&next)
	if err != nil {
		return "", translateError(err)
	}
	return fmt.Sprintf("%s-%06d", prefix, next), nil
}

// translateError maps driver failures onto the store taxonomy. Anything it
// does not recognize passes through for the operation boundary to log.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.ConstraintName)
		case "55P03": // lock_not_available, from FOR UPDATE NOWAIT
			return fmt.Errorf("%w: row locked by another session", store.ErrConflict)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", store.ErrTransient, pgErr.Code)
		case "57014": // query_canceled, statement timeout
			return fmt.Errorf("%w: statement timeout", store.ErrTransient)
		}
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
