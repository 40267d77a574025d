// Package extract calls the external extraction service that turns one page
// of a scanned remittance document into typed line items.
package extract

import "context"

// Line type values the service may return. They mirror the analytical
// store's line_type column.
const (
	TypeMedicalService = "medical_service"
	TypeIncentiveBonus = "incentive_bonus"
	TypeAdjustment     = "adjustment"
	TypeSummaryTotal   = "summary_total"
)

// Item is one extracted payment fact as returned by the service. Dollar
// amounts are decimal; nil means the field was absent on the page.
type Item struct {
	LineType      string `json:"line_type"`
	PatientName   string `json:"patient_name,omitempty"`
	MemberID      string `json:"member_id,omitempty"`
	ServiceDate   string `json:"service_date,omitempty"`
	ProcedureCode string `json:"procedure_code,omitempty"`
	ClaimNumber   string `json:"claim_number,omitempty"`
	PayerName     string `json:"payer_name,omitempty"`
	PaymentDate   string `json:"payment_date,omitempty"`
	CheckNumber   string `json:"check_number,omitempty"`

	BilledAmount          *float64 `json:"billed_amount,omitempty"`
	AllowedAmount         *float64 `json:"allowed_amount,omitempty"`
	PaidAmount            *float64 `json:"paid_amount,omitempty"`
	PatientResponsibility *float64 `json:"patient_responsibility,omitempty"`
	AdjustmentAmount      *float64 `json:"adjustment_amount,omitempty"`

	Deductible            *float64 `json:"deductible,omitempty"`
	Coinsurance           *float64 `json:"coinsurance,omitempty"`
	Copay                 *float64 `json:"copay,omitempty"`
	ContractualAdjustment *float64 `json:"contractual_adjustment,omitempty"`
	NonCovered            *float64 `json:"non_covered,omitempty"`

	Confidence float64 `json:"confidence"`
}

// Request carries one page to the extraction service.
type Request struct {
	DocumentID string
	PageNumber int
	// PagePDF is the single-page PDF object fetched from storage.
	PagePDF []byte
}

// Result is the parsed service response. An empty Items slice is a valid
// outcome (blank or cover pages).
type Result struct {
	Items []Item
	// Raw is the validated response body, kept as the job's audit payload.
	Raw string
}

// Client is implemented by extraction service clients.
type Client interface {
	// ExtractPage runs one page through the service. Transient upstream
	// conditions (rate limit, unavailability) are retried internally up to
	// the client's attempt budget; the returned error is classified via
	// IsRetryable for the job state machine.
	ExtractPage(ctx context.Context, req Request) (*Result, error)
}
