package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/store"
	"retailcore/backoffice/internal/xid"
)

func (s *Store) StartSession(ctx context.Context, session domain.PosSession, openingTx domain.PosSessionTransaction) (*domain.PosSession, error) {
	if session.TenantID == "" || session.LocationID == "" || session.TerminalID == "" || session.UserID == "" {
		return nil, store.ErrValidation
	}
	if session.StartingCash.IsNegative() {
		return nil, fmt.Errorf("%w: starting cash must not be negative", store.ErrValidation)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	// The partial unique index on (tenant, user, terminal, location) WHERE
	// status = 'OPEN' closes the race this check leaves open.
	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pos_sessions
		WHERE tenant_id = $1 AND user_id = $2 AND terminal_id = $3 AND location_id = $4 AND status = 'OPEN'
	`, session.TenantID, session.UserID, session.TerminalID, session.LocationID).Scan(&existing)
	if err != nil {
		return nil, translateError(err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: an open session already exists for this user, terminal and location", store.ErrConflict)
	}

	if session.ID == "" {
		session.ID = xid.New("ses")
	}
	session.Status = domain.SessionOpen
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pos_sessions (
			id, tenant_id, location_id, terminal_id, user_id, status,
			starting_cash, ending_cash, calculated_cash, difference, started_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,0,0,$8)
	`, session.ID, session.TenantID, session.LocationID, session.TerminalID, session.UserID,
		session.Status, session.StartingCash, session.StartedAt)
	if err != nil {
		return nil, translateError(err)
	}

	if openingTx.Amount.Sign() > 0 {
		openingTx.TenantID = session.TenantID
		openingTx.SessionID = session.ID
		if openingTx.ID == "" {
			openingTx.ID = xid.New("stx")
		}
		if openingTx.CreatedAt.IsZero() {
			openingTx.CreatedAt = session.StartedAt
		}
		if err := insertSessionTransaction(ctx, tx, openingTx); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	saved := session
	return &saved, nil
}

func (s *Store) GetSession(ctx context.Context, tenantID, sessionID string) (*domain.PosSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, location_id, terminal_id, user_id, status,
			starting_cash, ending_cash, calculated_cash, difference, started_at, ended_at
		FROM pos_sessions
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, sessionID))
}

// EndSession closes an open session. The expected drawer amount is replayed
// from the session's transaction log, never trusted from the caller; a
// nonzero difference still closes the session.
func (s *Store) EndSession(ctx context.Context, tenantID, sessionID string, endingCash decimal.Decimal, actorID string) (*domain.PosSession, []domain.PosSessionTransaction, error) {
	if endingCash.IsNegative() {
		return nil, nil, fmt.Errorf("%w: ending cash must not be negative", store.ErrValidation)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var status domain.SessionStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM pos_sessions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, sessionID).Scan(&status)
	if err != nil {
		return nil, nil, translateError(err)
	}
	if status != domain.SessionOpen {
		return nil, nil, fmt.Errorf("%w: session is %s, only OPEN sessions can be closed", store.ErrInvalidState, status)
	}

	txs, err := listSessionTransactionsTx(ctx, tx, tenantID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	calculated := decimal.Zero
	for _, entry := range txs {
		switch {
		case entry.Type.CashIn():
			calculated = calculated.Add(entry.Amount)
		case entry.Type.CashOut():
			calculated = calculated.Sub(entry.Amount)
		}
	}
	difference := endingCash.Sub(calculated)

	endedAt := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE pos_sessions
		SET status = 'CLOSED', ending_cash = $1, calculated_cash = $2, difference = $3, ended_at = $4
		WHERE tenant_id = $5 AND id = $6
	`, endingCash, calculated, difference, endedAt, tenantID, sessionID)
	if err != nil {
		return nil, nil, translateError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, translateError(err)
	}

	session, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, txs, nil
}

func (s *Store) ReconcileSession(ctx context.Context, tenantID, sessionID, actorID string) (*domain.PosSession, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pos_sessions
		SET status = 'RECONCILED'
		WHERE tenant_id = $1 AND id = $2 AND status = 'CLOSED'
	`, tenantID, sessionID)
	if err != nil {
		return nil, translateError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		session, err := s.GetSession(ctx, tenantID, sessionID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: session is %s, reconciliation requires CLOSED", store.ErrInvalidState, session.Status)
	}
	return s.GetSession(ctx, tenantID, sessionID)
}

func (s *Store) RecordSessionTransaction(ctx context.Context, entry domain.PosSessionTransaction) (*domain.PosSessionTransaction, error) {
	if entry.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var status domain.SessionStatus
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM pos_sessions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, entry.TenantID, entry.SessionID).Scan(&status)
	if err != nil {
		return nil, translateError(err)
	}
	if status != domain.SessionOpen {
		return nil, fmt.Errorf("%w: session is %s, transactions require OPEN", store.ErrInvalidState, status)
	}

	if entry.ID == "" {
		entry.ID = xid.New("stx")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := insertSessionTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	saved := entry
	return &saved, nil
}

func (s *Store) ListSessionTransactions(ctx context.Context, tenantID, sessionID string) ([]domain.PosSessionTransaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, translateError(err)
	}
	defer func() { _ = tx.Rollback() }()
	return listSessionTransactionsTx(ctx, tx, tenantID, sessionID)
}

func insertSessionTransaction(ctx context.Context, tx *sql.Tx, entry domain.PosSessionTransaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pos_session_transactions (id, tenant_id, session_id, type, amount, order_id, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.TenantID, entry.SessionID, entry.Type, entry.Amount,
		nullIfEmpty(entry.OrderID), nullIfEmpty(entry.Notes), entry.CreatedAt)
	return translateError(err)
}

func listSessionTransactionsTx(ctx context.Context, tx *sql.Tx, tenantID, sessionID string) ([]domain.PosSessionTransaction, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, tenant_id, session_id, type, amount, COALESCE(order_id,''), COALESCE(notes,''), created_at
		FROM pos_session_transactions
		WHERE tenant_id = $1 AND session_id = $2
		ORDER BY created_at ASC, id ASC
	`, tenantID, sessionID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	entries := make([]domain.PosSessionTransaction, 0, 64)
	for rows.Next() {
		var entry domain.PosSessionTransaction
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.SessionID, &entry.Type,
			&entry.Amount, &entry.OrderID, &entry.Notes, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanSession(row rowScanner) (*domain.PosSession, error) {
	var session domain.PosSession
	var endedAt sql.NullTime
	err := row.Scan(&session.ID, &session.TenantID, &session.LocationID, &session.TerminalID,
		&session.UserID, &session.Status, &session.StartingCash, &session.EndingCash,
		&session.CalculatedCash, &session.Difference, &session.StartedAt, &endedAt)
	if err != nil {
		return nil, translateError(err)
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		session.EndedAt = &t
	}
	return &session, nil
}
