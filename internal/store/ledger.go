package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ChargeCredits atomically deducts amount page credits from the tenant.
// Returns false without mutating anything when the balance is insufficient
// or the tenant has no credit row. The single guarded UPDATE means two
// concurrent charges can never both succeed on one credit.
func (s *Store) ChargeCredits(ctx context.Context, tenantID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("charge amount must be positive, got %d", amount)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_balances SET balance = balance - ?, updated_at = ?
		WHERE tenant_id = ? AND balance >= ?`,
		amount, nowUTC(), tenantID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to charge credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// RefundCredits unconditionally adds credits back. A missing tenant row is
// logged and swallowed so refund paths never fail their caller.
func (s *Store) RefundCredits(ctx context.Context, tenantID string, amount int64) error {
	refunded, err := refundTx(ctx, s.db, tenantID, amount)
	if err != nil {
		return err
	}
	if !refunded {
		s.logger.Warn("refund skipped, tenant has no credit row",
			"tenant_id", tenantID, "amount", amount)
	}
	return nil
}

// GrantCredits adds credits, creating the tenant's balance row if needed.
func (s *Store) GrantCredits(ctx context.Context, tenantID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_balances (tenant_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at`,
		tenantID, amount, nowUTC())
	if err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}
	return nil
}

// CreditBalance returns the tenant's current balance, zero if no row exists.
func (s *Store) CreditBalance(ctx context.Context, tenantID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE tenant_id = ?`, tenantID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read credit balance: %w", err)
	}
	return balance, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func refundTx(ctx context.Context, db execer, tenantID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE credit_balances SET balance = balance + ?, updated_at = ?
		WHERE tenant_id = ?`, amount, nowUTC(), tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to refund credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}
