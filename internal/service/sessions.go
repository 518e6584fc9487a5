package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/store"
)

func (s *Service) StartSession(ctx context.Context, req domain.StartSessionRequest) (*domain.PosSession, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.LocationID == "" || req.TerminalID == "" {
		return nil, fmt.Errorf("%w: location and terminal are required", store.ErrValidation)
	}
	if req.StartingCash.IsNegative() {
		return nil, fmt.Errorf("%w: starting cash must not be negative", store.ErrValidation)
	}

	location, err := s.repo.GetLocation(ctx, actor.TenantID, req.LocationID)
	if err != nil {
		return nil, err
	}
	if !location.IsActive {
		return nil, fmt.Errorf("%w: location %s is inactive", store.ErrValidation, location.ID)
	}

	session := domain.PosSession{
		TenantID:     actor.TenantID,
		LocationID:   req.LocationID,
		TerminalID:   req.TerminalID,
		UserID:       actor.UserID,
		StartingCash: req.StartingCash,
	}
	openingTx := domain.PosSessionTransaction{
		TenantID: actor.TenantID,
		Type:     domain.SessionTxPayIn,
		Amount:   req.StartingCash,
		Notes:    "Starting float",
	}

	created, err := s.repo.StartSession(ctx, session, openingTx)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "session_start", "pos_session", created.ID,
		fmt.Sprintf("terminal=%s starting_cash=%s", created.TerminalID, created.StartingCash))
	return created, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.PosSession, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetSession(ctx, actor.TenantID, sessionID)
}

// EndSession closes the drawer. The expected amount is replayed from the
// transaction log; a discrepancy is reported, never blocks the close.
func (s *Service) EndSession(ctx context.Context, sessionID string, req domain.EndSessionRequest) (*domain.SessionReport, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwnSession(ctx, actor, sessionID); err != nil {
		return nil, err
	}

	session, txs, err := s.repo.EndSession(ctx, actor.TenantID, sessionID, req.EndingCash, actor.UserID)
	if err != nil {
		return nil, err
	}

	if !session.Difference.IsZero() {
		log.Warn().Str("session_id", session.ID).
			Str("expected", session.CalculatedCash.String()).
			Str("counted", session.EndingCash.String()).
			Str("difference", session.Difference.String()).
			Msg("cash drawer discrepancy at session close")
	}

	s.logAudit(ctx, "session_end", "pos_session", session.ID,
		fmt.Sprintf("counted=%s expected=%s difference=%s", session.EndingCash, session.CalculatedCash, session.Difference))
	s.notifier.Dispatch(ctx, actor.TenantID, "session.closed", map[string]string{
		"session_id": session.ID,
		"difference": session.Difference.String(),
	})

	return &domain.SessionReport{
		Session:        *session,
		PaymentSummary: summarizePayments(txs),
	}, nil
}

// ReconcileSession marks a closed session reconciled and replays its
// transaction log into a fresh payment summary for the report.
func (s *Service) ReconcileSession(ctx context.Context, sessionID string) (*domain.SessionReport, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.repo.ReconcileSession(ctx, actor.TenantID, sessionID, actor.UserID)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListSessionTransactions(ctx, actor.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "session_reconcile", "pos_session", session.ID, "")
	return &domain.SessionReport{
		Session:        *session,
		PaymentSummary: summarizePayments(txs),
	}, nil
}

// RecordCashTransaction covers manual drawer movements. Sale tenders are
// written by checkout, never through this path.
func (s *Service) RecordCashTransaction(ctx context.Context, sessionID string, req domain.CashTransactionRequest) (*domain.PosSessionTransaction, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.Type != domain.SessionTxPayIn && req.Type != domain.SessionTxPayOut {
		return nil, fmt.Errorf("%w: manual transactions must be PAY_IN or PAY_OUT", store.ErrValidation)
	}
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	if err := s.requireOwnSession(ctx, actor, sessionID); err != nil {
		return nil, err
	}

	entry, err := s.repo.RecordSessionTransaction(ctx, domain.PosSessionTransaction{
		TenantID:  actor.TenantID,
		SessionID: sessionID,
		Type:      req.Type,
		Amount:    req.Amount,
		Notes:     req.Notes,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "session_cash_tx", "pos_session", sessionID,
		fmt.Sprintf("type=%s amount=%s", entry.Type, entry.Amount))
	return entry, nil
}

// requireOwnSession rejects drawer operations against someone else's
// session. A mismatch reads as NotFound so the response does not confirm
// the session exists.
func (s *Service) requireOwnSession(ctx context.Context, actor domain.Actor, sessionID string) error {
	session, err := s.repo.GetSession(ctx, actor.TenantID, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != actor.UserID {
		return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	return nil
}

func (s *Service) ListSessionTransactions(ctx context.Context, sessionID string) ([]domain.PosSessionTransaction, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSessionTransactions(ctx, actor.TenantID, sessionID)
}

// summarizePayments totals the session's takings by tender type. Non-cash
// tenders show up here even though they never touch the drawer math.
func summarizePayments(txs []domain.PosSessionTransaction) map[domain.SessionTxType]decimal.Decimal {
	summary := make(map[domain.SessionTxType]decimal.Decimal, 4)
	for _, entry := range txs {
		summary[entry.Type] = summary[entry.Type].Add(entry.Amount)
	}
	return summary
}
