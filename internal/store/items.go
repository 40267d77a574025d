package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrItemNotFound is returned when a line item id does not exist.
var ErrItemNotFound = errors.New("line item not found")

const lineItemColumns = `id, document_id, page_number, tenant_id, line_type,
	patient_name, member_id, service_date, procedure_code, claim_number,
	payer_name, payment_date, check_number, billed_cents, allowed_cents,
	paid_cents, patient_resp_cents, adjustment_cents, deductible_cents,
	coinsurance_cents, copay_cents, contractual_cents, non_covered_cents,
	confidence, flagged, flag_reasons, created_at`

// ReplacePageItems atomically replaces the full line-item set for one
// (document, page). Delete-then-insert makes worker retries and duplicate
// dispatches convergent: the page ends up with exactly one copy of the set.
func (s *Store) ReplacePageItems(ctx context.Context, docID string, page int, items []*LineItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM line_items WHERE document_id = ? AND page_number = ?`,
			docID, page); err != nil {
			return fmt.Errorf("failed to clear page items: %w", err)
		}

		now := nowUTC()
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO line_items (`+lineItemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare item insert: %w", err)
		}
		defer stmt.Close()

		for _, it := range items {
			reasons, err := json.Marshal(it.FlagReasons)
			if err != nil {
				return fmt.Errorf("failed to encode flag reasons: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				it.ID, docID, page, it.TenantID, it.LineType,
				it.PatientName, it.MemberID, it.ServiceDate, it.ProcedureCode,
				it.ClaimNumber, it.PayerName, it.PaymentDate, it.CheckNumber,
				it.BilledCents, it.AllowedCents, it.PaidCents, it.PatientRespCents,
				it.AdjustmentCents, it.DeductibleCents, it.CoinsuranceCents,
				it.CopayCents, it.ContractualCents, it.NonCoveredCents,
				it.Confidence, it.Flagged, string(reasons), now); err != nil {
				return fmt.Errorf("failed to insert line item: %w", err)
			}
		}
		return nil
	})
}

// ListDocumentItems returns all line items for a document, ordered by page,
// claim number and service date.
func (s *Store) ListDocumentItems(ctx context.Context, docID string) ([]*LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items
		 WHERE document_id = ?
		 ORDER BY page_number ASC, claim_number ASC, service_date ASC, id ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", err)
	}
	defer rows.Close()
	return collectLineItems(rows)
}

// ItemsForDocuments returns non-summary items for a batch of documents in a
// single query, keyed by document id.
func (s *Store) ItemsForDocuments(ctx context.Context, docIDs []string) (map[string][]*LineItem, error) {
	if len(docIDs) == 0 {
		return map[string][]*LineItem{}, nil
	}
	query := `SELECT ` + lineItemColumns + ` FROM line_items
		WHERE line_type != ? AND document_id IN (?` + strings.Repeat(",?", len(docIDs)-1) + `)
		ORDER BY document_id, page_number, claim_number, service_date, id`
	args := make([]any, 0, len(docIDs)+1)
	args = append(args, LineTypeSummaryTotal)
	for _, id := range docIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-load line items: %w", err)
	}
	defer rows.Close()

	items, err := collectLineItems(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*LineItem, len(docIDs))
	for _, it := range items {
		out[it.DocumentID] = append(out[it.DocumentID], it)
	}
	return out, nil
}

// SummaryTotalsForDocuments returns each document's summary/check-total row,
// if present, keyed by document id. Documents may legitimately have none.
func (s *Store) SummaryTotalsForDocuments(ctx context.Context, docIDs []string) (map[string]*LineItem, error) {
	if len(docIDs) == 0 {
		return map[string]*LineItem{}, nil
	}
	query := `SELECT ` + lineItemColumns + ` FROM line_items
		WHERE line_type = ? AND document_id IN (?` + strings.Repeat(",?", len(docIDs)-1) + `)
		ORDER BY document_id, page_number`
	args := make([]any, 0, len(docIDs)+1)
	args = append(args, LineTypeSummaryTotal)
	for _, id := range docIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary totals: %w", err)
	}
	defer rows.Close()

	items, err := collectLineItems(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*LineItem, len(docIDs))
	for _, it := range items {
		// Keep the first summary row per document.
		if _, ok := out[it.DocumentID]; !ok {
			out[it.DocumentID] = it
		}
	}
	return out, nil
}

// ItemUpdate carries field-level edits for a single line item. Nil pointers
// leave the column untouched; money fields distinguish "set to value" from
// "not edited" via the outer pointer.
type ItemUpdate struct {
	PatientName   *string `json:"patient_name,omitempty"`
	MemberID      *string `json:"member_id,omitempty"`
	ServiceDate   *string `json:"service_date,omitempty"`
	ProcedureCode *string `json:"procedure_code,omitempty"`
	ClaimNumber   *string `json:"claim_number,omitempty"`
	PayerName     *string `json:"payer_name,omitempty"`
	PaymentDate   *string `json:"payment_date,omitempty"`

	BilledCents      *int64 `json:"billed_cents,omitempty"`
	AllowedCents     *int64 `json:"allowed_cents,omitempty"`
	PaidCents        *int64 `json:"paid_cents,omitempty"`
	PatientRespCents *int64 `json:"patient_resp_cents,omitempty"`
	AdjustmentCents  *int64 `json:"adjustment_cents,omitempty"`
}

// UpdateLineItem applies field-level edits to one item and returns the
// updated row.
func (s *Store) UpdateLineItem(ctx context.Context, id string, upd ItemUpdate) (*LineItem, error) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if upd.PatientName != nil {
		add("patient_name", *upd.PatientName)
	}
	if upd.MemberID != nil {
		add("member_id", *upd.MemberID)
	}
	if upd.ServiceDate != nil {
		add("service_date", *upd.ServiceDate)
	}
	if upd.ProcedureCode != nil {
		add("procedure_code", *upd.ProcedureCode)
	}
	if upd.ClaimNumber != nil {
		add("claim_number", *upd.ClaimNumber)
	}
	if upd.PayerName != nil {
		add("payer_name", *upd.PayerName)
	}
	if upd.PaymentDate != nil {
		add("payment_date", *upd.PaymentDate)
	}
	if upd.BilledCents != nil {
		add("billed_cents", *upd.BilledCents)
	}
	if upd.AllowedCents != nil {
		add("allowed_cents", *upd.AllowedCents)
	}
	if upd.PaidCents != nil {
		add("paid_cents", *upd.PaidCents)
	}
	if upd.PatientRespCents != nil {
		add("patient_resp_cents", *upd.PatientRespCents)
	}
	if upd.AdjustmentCents != nil {
		add("adjustment_cents", *upd.AdjustmentCents)
	}
	if len(sets) == 0 {
		return s.getLineItem(ctx, id)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE line_items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update line item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrItemNotFound
	}
	return s.getLineItem(ctx, id)
}

// SetItemFlags rewrites an item's exception flags.
func (s *Store) SetItemFlags(ctx context.Context, id string, flagged bool, reasons []string) error {
	raw, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("failed to encode flag reasons: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE line_items SET flagged = ?, flag_reasons = ? WHERE id = ?`,
		flagged, string(raw), id)
	if err != nil {
		return fmt.Errorf("failed to set item flags: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ReconStatus classifies a document's check-total reconciliation.
type ReconStatus string

const (
	ReconBalanced     ReconStatus = "balanced"
	ReconUnbalanced   ReconStatus = "unbalanced"
	ReconNoCheckTotal ReconStatus = "no_check_total"
)

// Reconciliation compares a document's summary check total against the sum
// of its payment lines.
type Reconciliation struct {
	DocumentID      string      `json:"document_id"`
	CheckTotalCents *int64      `json:"check_total_cents,omitempty"`
	LineTotalCents  int64       `json:"line_total_cents"`
	DeltaCents      int64       `json:"delta_cents"`
	Status          ReconStatus `json:"status"`
}

// ReconcileDocument computes the check-total vs sum-of-lines view for one
// document.
func (s *Store) ReconcileDocument(ctx context.Context, docID string) (*Reconciliation, error) {
	rec := &Reconciliation{DocumentID: docID}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(paid_cents), 0) FROM line_items
		WHERE document_id = ? AND line_type != ?`, docID, LineTypeSummaryTotal).
		Scan(&rec.LineTotalCents)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payment lines: %w", err)
	}

	var check sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT paid_cents FROM line_items
		WHERE document_id = ? AND line_type = ?
		ORDER BY page_number LIMIT 1`, docID, LineTypeSummaryTotal).Scan(&check)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load check total: %w", err)
	}

	if !check.Valid {
		rec.Status = ReconNoCheckTotal
		return rec, nil
	}
	rec.CheckTotalCents = &check.Int64
	rec.DeltaCents = check.Int64 - rec.LineTotalCents
	if rec.DeltaCents == 0 {
		rec.Status = ReconBalanced
	} else {
		rec.Status = ReconUnbalanced
	}
	return rec, nil
}

func (s *Store) getLineItem(ctx context.Context, id string) (*LineItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE id = ?`, id)
	it, err := scanLineItem(row)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func collectLineItems(rows *sql.Rows) ([]*LineItem, error) {
	var items []*LineItem
	for rows.Next() {
		it, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanLineItem(row rowScanner) (*LineItem, error) {
	var (
		it      LineItem
		reasons string
		money   [10]sql.NullInt64
	)
	err := row.Scan(&it.ID, &it.DocumentID, &it.PageNumber, &it.TenantID, &it.LineType,
		&it.PatientName, &it.MemberID, &it.ServiceDate, &it.ProcedureCode,
		&it.ClaimNumber, &it.PayerName, &it.PaymentDate, &it.CheckNumber,
		&money[0], &money[1], &money[2], &money[3], &money[4],
		&money[5], &money[6], &money[7], &money[8], &money[9],
		&it.Confidence, &it.Flagged, &reasons, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan line item: %w", err)
	}

	dst := []**int64{
		&it.BilledCents, &it.AllowedCents, &it.PaidCents, &it.PatientRespCents,
		&it.AdjustmentCents, &it.DeductibleCents, &it.CoinsuranceCents,
		&it.CopayCents, &it.ContractualCents, &it.NonCoveredCents,
	}
	for i, m := range money {
		if m.Valid {
			v := m.Int64
			*dst[i] = &v
		}
	}
	if reasons != "" && reasons != "[]" {
		if err := json.Unmarshal([]byte(reasons), &it.FlagReasons); err != nil {
			return nil, fmt.Errorf("failed to decode flag reasons: %w", err)
		}
	}
	return &it, nil
}
