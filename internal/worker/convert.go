package worker

import (
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/evanhollis/eraflow/internal/extract"
	"github.com/evanhollis/eraflow/internal/store"
)

// dollarsToCents converts a decimal dollar amount from the extraction wire
// format into integer cents, rounding half away from zero.
func dollarsToCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func formatAmount(v float64) string {
	return strconv.FormatInt(dollarsToCents(v), 10)
}

func centsOf(v *float64) *int64 {
	if v == nil {
		return nil
	}
	c := dollarsToCents(*v)
	return &c
}

// toLineItems converts service items into store rows for one page.
func toLineItems(docID, tenantID string, page int, items []extract.Item) []*store.LineItem {
	rows := make([]*store.LineItem, 0, len(items))
	for _, item := range items {
		rows = append(rows, &store.LineItem{
			ID:            uuid.NewString(),
			DocumentID:    docID,
			PageNumber:    page,
			TenantID:      tenantID,
			LineType:      store.LineType(item.LineType),
			PatientName:   item.PatientName,
			MemberID:      item.MemberID,
			ServiceDate:   item.ServiceDate,
			ProcedureCode: item.ProcedureCode,
			ClaimNumber:   item.ClaimNumber,
			PayerName:     item.PayerName,
			PaymentDate:   item.PaymentDate,
			CheckNumber:   item.CheckNumber,

			BilledCents:      centsOf(item.BilledAmount),
			AllowedCents:     centsOf(item.AllowedAmount),
			PaidCents:        centsOf(item.PaidAmount),
			PatientRespCents: centsOf(item.PatientResponsibility),
			AdjustmentCents:  centsOf(item.AdjustmentAmount),

			DeductibleCents:  centsOf(item.Deductible),
			CoinsuranceCents: centsOf(item.Coinsurance),
			CopayCents:       centsOf(item.Copay),
			ContractualCents: centsOf(item.ContractualAdjustment),
			NonCoveredCents:  centsOf(item.NonCovered),

			Confidence: item.Confidence,
		})
	}
	return rows
}
