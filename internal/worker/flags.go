package worker

import "github.com/evanhollis/eraflow/internal/store"

// Exception reasons attached to line items and rolled up into the document's
// review status.
const (
	FlagLowConfidence     = "low_confidence"
	FlagMissingPaidAmount = "missing_paid_amount"
	FlagNegativePaid      = "negative_paid"
	FlagPaidExceedsBilled = "paid_exceeds_billed"

	ReviewPagesFailed    = "pages_failed"
	ReviewTotalsMismatch = "totals_mismatch"
	ReviewFlaggedItems   = "flagged_items"
)

// lowConfidenceFloor is the confidence below which an item always needs a
// human look.
const lowConfidenceFloor = 0.60

// EvaluateItem re-applies the exception rules to a single item, as after a
// manual field correction.
func EvaluateItem(item *store.LineItem) {
	evaluateItemFlags([]*store.LineItem{item})
}

// evaluateItemFlags applies exception rules to converted rows in place.
func evaluateItemFlags(items []*store.LineItem) {
	for _, item := range items {
		var reasons []string

		if item.Confidence < lowConfidenceFloor {
			reasons = append(reasons, FlagLowConfidence)
		}
		if item.LineType == store.LineTypeMedicalService && item.PaidCents == nil {
			reasons = append(reasons, FlagMissingPaidAmount)
		}
		if item.PaidCents != nil && *item.PaidCents < 0 {
			reasons = append(reasons, FlagNegativePaid)
		}
		if item.PaidCents != nil && item.BilledCents != nil && *item.PaidCents > *item.BilledCents {
			reasons = append(reasons, FlagPaidExceedsBilled)
		}

		item.Flagged = len(reasons) > 0
		item.FlagReasons = reasons
	}
}

// foundRevenue reports whether the page surfaced payments a practice would
// typically miss on paper: incentive or bonus lines, or positive standalone
// adjustments.
func foundRevenue(items []*store.LineItem) bool {
	for _, item := range items {
		if item.PaidCents == nil || *item.PaidCents <= 0 {
			continue
		}
		if item.LineType == store.LineTypeIncentiveBonus || item.LineType == store.LineTypeAdjustment {
			return true
		}
	}
	return false
}
