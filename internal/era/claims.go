package era

import (
	"sort"
	"strings"

	"github.com/evanhollis/eraflow/internal/store"
)

// claimStatus is the dominant disposition of a claim, ordered by priority:
// a single denied line marks the whole claim denied, adjustments outrank
// clean payments.
type claimStatus int

const (
	statusPaid claimStatus = iota
	statusPartial
	statusAdjusted
	statusDenied
)

// clpCode maps the dominant status to the claim-status element value.
func (s claimStatus) clpCode() string {
	switch s {
	case statusDenied:
		return "4"
	case statusAdjusted, statusPartial:
		return "2"
	default:
		return "1"
	}
}

// claim is one claim-level grouping of service lines, built only during
// encoding and never persisted.
type claim struct {
	Key         string
	ClaimNumber string
	PatientName string
	MemberID    string

	Lines []*store.LineItem

	BilledCents      int64
	PaidCents        int64
	PatientRespCents int64
	Status           claimStatus
}

// claimKey groups lines into claims: claim number when present, otherwise
// patient plus member id so orphan lines from the same person still stay
// together.
func claimKey(item *store.LineItem) string {
	if n := strings.TrimSpace(item.ClaimNumber); n != "" {
		return "claim:" + strings.ToUpper(n)
	}
	return "patient:" + strings.ToUpper(strings.TrimSpace(item.PatientName)) +
		"|" + strings.ToUpper(strings.TrimSpace(item.MemberID))
}

// groupClaims buckets a document's payment lines into claims and aggregates
// their totals. Output order is deterministic: claims sort by key, lines
// keep their store order (page, claim, date).
func groupClaims(items []*store.LineItem) []*claim {
	byKey := make(map[string]*claim)
	var order []string

	for _, item := range items {
		if item.LineType == store.LineTypeSummaryTotal {
			continue
		}
		key := claimKey(item)
		c, ok := byKey[key]
		if !ok {
			c = &claim{
				Key:         key,
				ClaimNumber: strings.TrimSpace(item.ClaimNumber),
				PatientName: strings.TrimSpace(item.PatientName),
				MemberID:    strings.TrimSpace(item.MemberID),
			}
			byKey[key] = c
			order = append(order, key)
		}
		c.Lines = append(c.Lines, item)
		if c.ClaimNumber == "" {
			c.ClaimNumber = strings.TrimSpace(item.ClaimNumber)
		}
		if c.PatientName == "" {
			c.PatientName = strings.TrimSpace(item.PatientName)
		}
		if c.MemberID == "" {
			c.MemberID = strings.TrimSpace(item.MemberID)
		}

		if item.BilledCents != nil {
			c.BilledCents += *item.BilledCents
		}
		if item.PaidCents != nil {
			c.PaidCents += *item.PaidCents
		}
		if item.PatientRespCents != nil {
			c.PatientRespCents += *item.PatientRespCents
		}
		if s := lineStatus(item); s > c.Status {
			c.Status = s
		}
	}

	claims := make([]*claim, 0, len(byKey))
	for _, key := range order {
		claims = append(claims, byKey[key])
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].Key < claims[j].Key })
	return claims
}

// lineStatus classifies one service line.
func lineStatus(item *store.LineItem) claimStatus {
	billed := int64(0)
	if item.BilledCents != nil {
		billed = *item.BilledCents
	}
	paid := int64(0)
	hasPaid := item.PaidCents != nil
	if hasPaid {
		paid = *item.PaidCents
	}

	if billed > 0 && hasPaid && paid == 0 {
		return statusDenied
	}
	if adjustmentTotal(item) > 0 {
		return statusAdjusted
	}
	if billed > 0 && paid < billed {
		return statusPartial
	}
	return statusPaid
}

// adjustmentTotal sums the granular adjustment fields plus any standalone
// adjustment amount.
func adjustmentTotal(item *store.LineItem) int64 {
	total := int64(0)
	for _, v := range []*int64{
		item.DeductibleCents, item.CoinsuranceCents, item.CopayCents,
		item.ContractualCents, item.NonCoveredCents, item.AdjustmentCents,
	} {
		if v != nil {
			total += *v
		}
	}
	return total
}
