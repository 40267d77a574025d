package worker

import (
	"strings"

	"github.com/evanhollis/eraflow/internal/extract"
)

// dedupeItems collapses duplicate extractions of the same payment line on a
// page. Scanned remittances often repeat a line across table fragments, so
// the service can emit the same fact twice with different gaps. Two items
// merge when claim number, patient, procedure code, service date and paid
// amount all agree after normalization. The richer item wins and absorbs any
// fields the other had that it lacks. Summary totals are never merged.
func dedupeItems(items []extract.Item) []extract.Item {
	out := make([]extract.Item, 0, len(items))
	index := make(map[string]int)

	for _, item := range items {
		if item.LineType == extract.TypeSummaryTotal {
			out = append(out, item)
			continue
		}

		key := mergeKey(item)
		at, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, item)
			continue
		}

		winner, loser := out[at], item
		if qualityScore(loser) > qualityScore(winner) {
			winner, loser = loser, winner
		}
		absorb(&winner, loser)
		out[at] = winner
	}
	return out
}

func mergeKey(item extract.Item) string {
	paid := ""
	if item.PaidAmount != nil {
		paid = formatAmount(*item.PaidAmount)
	}
	return strings.Join([]string{
		strings.ToUpper(strings.TrimSpace(item.ClaimNumber)),
		normalizeName(item.PatientName),
		strings.ToUpper(strings.TrimSpace(item.ProcedureCode)),
		strings.TrimSpace(item.ServiceDate),
		paid,
	}, "|")
}

// normalizeName canonicalizes patient names: case-folded, punctuation
// stripped, whitespace collapsed. "Doe, Jane" and "JANE DOE" still differ;
// only formatting noise is removed, not word order.
func normalizeName(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// qualityScore ranks duplicate candidates: one point per populated field,
// with confidence as the tiebreaker.
func qualityScore(item extract.Item) float64 {
	score := 0.0
	for _, s := range []string{
		item.PatientName, item.MemberID, item.ServiceDate, item.ProcedureCode,
		item.ClaimNumber, item.PayerName, item.PaymentDate, item.CheckNumber,
	} {
		if strings.TrimSpace(s) != "" {
			score++
		}
	}
	for _, f := range amountFields(&item) {
		if *f != nil {
			score++
		}
	}
	return score + item.Confidence/100
}

// absorb copies any field the loser has that the winner lacks, and keeps the
// higher confidence of the pair.
func absorb(winner *extract.Item, loser extract.Item) {
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&winner.PatientName, loser.PatientName)
	fill(&winner.MemberID, loser.MemberID)
	fill(&winner.ServiceDate, loser.ServiceDate)
	fill(&winner.ProcedureCode, loser.ProcedureCode)
	fill(&winner.ClaimNumber, loser.ClaimNumber)
	fill(&winner.PayerName, loser.PayerName)
	fill(&winner.PaymentDate, loser.PaymentDate)
	fill(&winner.CheckNumber, loser.CheckNumber)

	loserAmounts := amountFields(&loser)
	for i, dst := range amountFields(winner) {
		if *dst == nil {
			*dst = *loserAmounts[i]
		}
	}

	if loser.Confidence > winner.Confidence {
		winner.Confidence = loser.Confidence
	}
}

func amountFields(item *extract.Item) []**float64 {
	return []**float64{
		&item.BilledAmount, &item.AllowedAmount, &item.PaidAmount,
		&item.PatientResponsibility, &item.AdjustmentAmount,
		&item.Deductible, &item.Coinsurance, &item.Copay,
		&item.ContractualAdjustment, &item.NonCovered,
	}
}
