package token

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctxforge-dev/ctxforge/pkg/store"
)

// UsageRecord is one immutable ledger entry for a single model call.
type UsageRecord struct {
	ID           string
	SessionID    string
	UserID       string
	Model        string
	RequestKind  string
	InputTokens  int
	OutputTokens int
	CachedTokens int
	Cost         float64
	CreatedAt    time.Time
}

// UsageSummary aggregates ledger entries.
type UsageSummary struct {
	Calls        int
	InputTokens  int
	OutputTokens int
	CachedTokens int
	TotalCost    float64
}

// Accountant prices calls and appends them to the persistent ledger,
// keeping the owning session's running totals in step.
type Accountant struct {
	db     *store.DB
	prices *PriceTable
}

// NewAccountant creates an accountant writing to db and pricing via prices.
func NewAccountant(db *store.DB, prices *PriceTable) *Accountant {
	return &Accountant{db: db, prices: prices}
}

// Prices exposes the underlying price table.
func (a *Accountant) Prices() *PriceTable {
	return a.prices
}

// Record appends a ledger entry and increments the session's running
// token/cost counters in one transaction.
func (a *Accountant) Record(ctx context.Context, sessionID, userID, model, requestKind string, inputTokens, outputTokens, cachedTokens int) (*UsageRecord, error) {
	cost := a.prices.CostFor(model, inputTokens, outputTokens, cachedTokens)
	rec := &UsageRecord{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		UserID:       userID,
		Model:        model,
		RequestKind:  requestKind,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CachedTokens: cachedTokens,
		Cost:         cost.TotalCost,
		CreatedAt:    time.Now().UTC(),
	}

	err := a.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO token_usage (id, session_id, user_id, model, request_kind, input_tokens, output_tokens, cached_tokens, cost, created_at_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.SessionID, rec.UserID, rec.Model, rec.RequestKind,
			rec.InputTokens, rec.OutputTokens, rec.CachedTokens, rec.Cost,
			rec.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert usage: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET
				input_tokens = input_tokens + ?,
				output_tokens = output_tokens + ?,
				cached_tokens = cached_tokens + ?,
				total_cost = total_cost + ?,
				last_activity_ms = ?
			 WHERE id = ?`,
			rec.InputTokens, rec.OutputTokens, rec.CachedTokens, rec.Cost,
			rec.CreatedAt.UnixMilli(), rec.SessionID,
		)
		if err != nil {
			return fmt.Errorf("update session totals: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("session %s: %w", rec.SessionID, store.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SessionUsage sums the ledger for one session.
func (a *Accountant) SessionUsage(ctx context.Context, sessionID string) (*UsageSummary, error) {
	return a.usageWhere(ctx, `session_id = ?`, sessionID)
}

// UserUsage sums the ledger for one user across all sessions.
func (a *Accountant) UserUsage(ctx context.Context, userID string) (*UsageSummary, error) {
	return a.usageWhere(ctx, `user_id = ?`, userID)
}

func (a *Accountant) usageWhere(ctx context.Context, where string, arg any) (*UsageSummary, error) {
	row := a.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cached_tokens), 0),
			COALESCE(SUM(cost), 0)
		 FROM token_usage WHERE `+where, arg)

	var s UsageSummary
	if err := row.Scan(&s.Calls, &s.InputTokens, &s.OutputTokens, &s.CachedTokens, &s.TotalCost); err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	return &s, nil
}
