package worker

import (
	"testing"

	"github.com/evanhollis/eraflow/internal/extract"
)

func amt(v float64) *float64 { return &v }

func TestDedupeMergesSameLine(t *testing.T) {
	items := []extract.Item{
		{
			LineType:      extract.TypeMedicalService,
			PatientName:   "Doe,  Jane",
			ClaimNumber:   "clm-100",
			ProcedureCode: "99213",
			ServiceDate:   "2024-01-05",
			PaidAmount:    amt(150.00),
			Confidence:    0.70,
		},
		{
			LineType:      extract.TypeMedicalService,
			PatientName:   "DOE JANE",
			MemberID:      "M123",
			ClaimNumber:   "CLM-100",
			ProcedureCode: "99213",
			ServiceDate:   "2024-01-05",
			PaidAmount:    amt(150.00),
			BilledAmount:  amt(220.00),
			Confidence:    0.92,
		},
	}

	out := dedupeItems(items)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged item, got %d", len(out))
	}
	merged := out[0]
	if merged.MemberID != "M123" {
		t.Errorf("member id not absorbed: %q", merged.MemberID)
	}
	if merged.BilledAmount == nil || *merged.BilledAmount != 220.00 {
		t.Errorf("billed amount not absorbed: %v", merged.BilledAmount)
	}
	if merged.Confidence != 0.92 {
		t.Errorf("confidence = %v, want max of pair", merged.Confidence)
	}
}

func TestDedupeAbsorbsIntoRicherItem(t *testing.T) {
	items := []extract.Item{
		{
			LineType:      extract.TypeMedicalService,
			PatientName:   "JOHN SMITH",
			MemberID:      "M9",
			PayerName:     "ACME HEALTH",
			ClaimNumber:   "C7",
			ProcedureCode: "99214",
			ServiceDate:   "2024-02-01",
			PaidAmount:    amt(80),
			Confidence:    0.80,
		},
		{
			LineType:      extract.TypeMedicalService,
			PatientName:   "JOHN SMITH",
			ClaimNumber:   "C7",
			ProcedureCode: "99214",
			ServiceDate:   "2024-02-01",
			PaidAmount:    amt(80),
			CheckNumber:   "0042",
			Confidence:    0.85,
		},
	}

	out := dedupeItems(items)
	if len(out) != 1 {
		t.Fatalf("expected 1 item, got %d", len(out))
	}
	if out[0].PayerName != "ACME HEALTH" {
		t.Errorf("richer item should win: payer = %q", out[0].PayerName)
	}
	if out[0].CheckNumber != "0042" {
		t.Errorf("check number should be absorbed from loser: %q", out[0].CheckNumber)
	}
}

func TestDedupeKeepsDistinctLines(t *testing.T) {
	items := []extract.Item{
		{
			LineType: extract.TypeMedicalService, PatientName: "JANE DOE",
			ClaimNumber: "C1", ProcedureCode: "99213",
			ServiceDate: "2024-01-05", PaidAmount: amt(150), Confidence: 0.9,
		},
		{
			// Same claim and patient but a different paid amount is a
			// different line, not a duplicate.
			LineType: extract.TypeMedicalService, PatientName: "JANE DOE",
			ClaimNumber: "C1", ProcedureCode: "99213",
			ServiceDate: "2024-01-05", PaidAmount: amt(75), Confidence: 0.9,
		},
	}
	if out := dedupeItems(items); len(out) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out))
	}
}

func TestDedupeNeverMergesSummaryTotals(t *testing.T) {
	items := []extract.Item{
		{LineType: extract.TypeSummaryTotal, PaidAmount: amt(500), Confidence: 0.9},
		{LineType: extract.TypeSummaryTotal, PaidAmount: amt(500), Confidence: 0.9},
	}
	if out := dedupeItems(items); len(out) != 2 {
		t.Fatalf("summary totals must pass through, got %d", len(out))
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Doe,  Jane":  "DOE JANE",
		"DOE JANE":    "DOE JANE",
		" doe-jane ":  "DOE JANE",
		"O'Brien Pat": "O BRIEN PAT",
	}
	for in, want := range cases {
		if got := normalizeName(in); got != want {
			t.Errorf("normalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDollarsToCentsRounding(t *testing.T) {
	cases := map[float64]int64{
		150.00: 15000,
		0.1:    10,
		19.99:  1999,
		107.85: 10785,
		-5.25:  -525,
	}
	for in, want := range cases {
		if got := dollarsToCents(in); got != want {
			t.Errorf("dollarsToCents(%v) = %d, want %d", in, got, want)
		}
	}
}
