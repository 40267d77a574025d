// Package era encodes reconciled documents into an 835-style electronic
// remittance file: one interchange envelope, one transaction set per
// document, claims grouped from the extracted line items. Declared counts in
// the trailers are structural invariants and always match what was emitted.
package era

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evanhollis/eraflow/internal/store"
)

// Request names the documents to encode and the tenant's billing profile.
type Request struct {
	DocumentIDs []string
	Profile     Profile
}

// DocumentSummary is the per-document stamp recorded at export time.
type DocumentSummary struct {
	DocumentID       string `json:"document_id"`
	TotalPaidCents   int64  `json:"total_paid_cents"`
	TotalPatientResp int64  `json:"total_patient_resp_cents"`
	ClaimCount       int64  `json:"claim_count"`
}

// Result carries the encoded file and its export metadata. The file itself
// is returned to the caller, never persisted here.
type Result struct {
	BatchID     string            `json:"batch_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Content     string            `json:"content"`
	Documents   []DocumentSummary `json:"documents"`
}

// Encoder generates remittance files from the analytical store.
type Encoder struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates an encoder.
func New(st *store.Store, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		store:  st,
		logger: logger.With("component", "era"),
		now:    time.Now,
	}
}

// Generate encodes the requested documents into one envelope and stamps each
// with the export lock and its summary stats. Every document must be
// terminal and not already export-locked.
func (e *Encoder) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := req.Profile.Validate(); err != nil {
		return nil, err
	}

	docs := make([]*store.Document, 0, len(req.DocumentIDs))
	for _, id := range req.DocumentIDs {
		doc, err := e.store.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if !doc.Status.Terminal() {
			return nil, fmt.Errorf("document %s is %s, not terminal", id, doc.Status)
		}
		if doc.ExportedAt != nil {
			return nil, fmt.Errorf("document %s: %w", id, store.ErrDocumentLocked)
		}
		docs = append(docs, doc)
	}

	itemsByDoc, err := e.store.ItemsForDocuments(ctx, req.DocumentIDs)
	if err != nil {
		return nil, err
	}
	summaries, err := e.store.SummaryTotalsForDocuments(ctx, req.DocumentIDs)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	batchID := uuid.NewString()
	controlNumber := fmt.Sprintf("%09d", now.Unix()%1_000_000_000)

	w := &writer{}
	e.writeInterchangeHeader(w, req.Profile, now, controlNumber)

	result := &Result{BatchID: batchID, GeneratedAt: now}
	for i, doc := range docs {
		summary := e.writeTransactionSet(w, doc, itemsByDoc[doc.ID], summaries[doc.ID], req.Profile, now, i+1)
		result.Documents = append(result.Documents, summary)
	}

	// Group trailer: declared transaction count, then interchange trailer
	// with its group count. Both hold for the empty envelope too.
	w.seg("GE", fmt.Sprintf("%d", len(docs)), "1")
	w.seg("IEA", "1", controlNumber)
	result.Content = w.String()

	for _, summary := range result.Documents {
		err := e.store.StampExport(ctx, summary.DocumentID, store.ExportStamp{
			BatchID:          batchID,
			TotalPaidCents:   summary.TotalPaidCents,
			TotalPatientResp: summary.TotalPatientResp,
			ClaimCount:       summary.ClaimCount,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to stamp document %s: %w", summary.DocumentID, err)
		}
	}

	e.logger.Info("remittance file generated",
		"batch_id", batchID, "documents", len(docs), "segments", w.count)
	return result, nil
}

func (e *Encoder) writeInterchangeHeader(w *writer, p Profile, now time.Time, control string) {
	w.seg("ISA",
		"00", padRight("", 10),
		"00", padRight("", 10),
		"ZZ", padRight(p.TaxID, 15),
		"ZZ", padRight(p.ProviderID, 15),
		now.Format("060102"), now.Format("1504"),
		"^", "00501", control, "0", "P", ":")
	w.seg("GS", "HP", p.TaxID, p.ProviderID,
		now.Format("20060102"), now.Format("1504"), "1", "X", "005010X221A1")
}

// writeTransactionSet emits one document's claims as an ST..SE set and
// returns its summary stats. The SE segment count includes ST and SE.
func (e *Encoder) writeTransactionSet(w *writer, doc *store.Document, items []*store.LineItem, checkTotal *store.LineItem, p Profile, now time.Time, setNumber int) DocumentSummary {
	control := fmt.Sprintf("%04d", setNumber)
	claims := groupClaims(items)

	summary := DocumentSummary{DocumentID: doc.ID, ClaimCount: int64(len(claims))}
	for _, c := range claims {
		summary.TotalPaidCents += c.PaidCents
		summary.TotalPatientResp += c.PatientRespCents
	}

	// The payment amount comes from the check-total row when one was
	// extracted, otherwise the sum of claim payments.
	paymentCents := summary.TotalPaidCents
	checkNumber := ""
	paymentDate := now.Format("20060102")
	if checkTotal != nil {
		if checkTotal.PaidCents != nil {
			paymentCents = *checkTotal.PaidCents
		}
		checkNumber = checkTotal.CheckNumber
		if checkTotal.PaymentDate != "" {
			paymentDate = compactDate(checkTotal.PaymentDate)
		}
	}
	if checkNumber == "" {
		checkNumber = doc.ID
	}

	start := w.count
	w.seg("ST", "835", control)
	w.seg("BPR", "I", formatCents(paymentCents), "C", "CHK",
		"", "", "", "", "", "", "", "", "", "", paymentDate)
	w.seg("TRN", "1", checkNumber, "1"+p.TaxID)
	w.seg("N1", "PR", payerNameOf(items))
	w.seg("N1", "PE", p.Name, "XX", p.ProviderID)

	for _, c := range claims {
		e.writeClaim(w, c)
	}

	// +1 accounts for this SE segment itself.
	w.seg("SE", fmt.Sprintf("%d", w.count-start+1), control)
	return summary
}

func (e *Encoder) writeClaim(w *writer, c *claim) {
	claimID := c.ClaimNumber
	if claimID == "" {
		claimID = c.PatientName
	}
	w.seg("CLP", claimID, c.Status.clpCode(),
		formatCents(c.BilledCents), formatCents(c.PaidCents),
		formatCents(c.PatientRespCents), "MC", c.ClaimNumber)

	if c.PatientName != "" || c.MemberID != "" {
		elems := []string{"NM1", "QC", "1", c.PatientName}
		if c.MemberID != "" {
			elems = append(elems, "", "", "", "", "MI", c.MemberID)
		}
		w.seg(elems...)
	}

	for _, line := range c.Lines {
		e.writeServiceLine(w, line)
	}
}

func (e *Encoder) writeServiceLine(w *writer, line *store.LineItem) {
	billed := int64(0)
	if line.BilledCents != nil {
		billed = *line.BilledCents
	}
	paid := int64(0)
	if line.PaidCents != nil {
		paid = *line.PaidCents
	}

	procedure := line.ProcedureCode
	if procedure != "" {
		procedure = "HC:" + procedure
	}
	w.seg("SVC", procedure, formatCents(billed), formatCents(paid))
	if line.ServiceDate != "" {
		w.seg("DTM", "472", compactDate(line.ServiceDate))
	}
	e.writeAdjustments(w, line, billed, paid)
}

// writeAdjustments emits the adjustment breakdown for one service line. With
// granular fields present, each non-zero category gets its own entry plus a
// remainder entry for any gap the categories do not explain. Without them, a
// single contractual entry covers billed minus paid.
func (e *Encoder) writeAdjustments(w *writer, line *store.LineItem, billed, paid int64) {
	type adj struct {
		group  string
		reason string
		cents  *int64
	}
	granular := []adj{
		{"PR", "1", line.DeductibleCents},
		{"PR", "2", line.CoinsuranceCents},
		{"PR", "3", line.CopayCents},
		{"CO", "45", line.ContractualCents},
		{"PR", "96", line.NonCoveredCents},
	}

	hasGranular := false
	explained := int64(0)
	for _, a := range granular {
		if a.cents != nil {
			hasGranular = true
			explained += *a.cents
		}
	}

	if !hasGranular {
		if gap := billed - paid; gap > 0 {
			w.seg("CAS", "CO", "45", formatCents(gap))
		}
		return
	}

	for _, a := range granular {
		if a.cents != nil && *a.cents != 0 {
			w.seg("CAS", a.group, a.reason, formatCents(*a.cents))
		}
	}

	totalAdjustment := billed - paid
	if line.AdjustmentCents != nil {
		totalAdjustment = *line.AdjustmentCents
	}
	if remainder := totalAdjustment - explained; remainder > 0 {
		w.seg("CAS", "OA", "23", formatCents(remainder))
	}
}

func payerNameOf(items []*store.LineItem) string {
	for _, item := range items {
		if item.PayerName != "" {
			return item.PayerName
		}
	}
	return "PAYER"
}
