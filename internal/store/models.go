package store

import "time"

// DocumentStatus tracks a document through the pipeline.
type DocumentStatus string

const (
	DocStatusPending        DocumentStatus = "pending"
	DocStatusQueued         DocumentStatus = "queued"
	DocStatusProcessing     DocumentStatus = "processing"
	DocStatusCompleted      DocumentStatus = "completed"
	DocStatusPartialFailure DocumentStatus = "partial_failure"
	DocStatusFailed         DocumentStatus = "failed"
)

// Terminal reports whether the document has reached a final status.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocStatusCompleted, DocStatusPartialFailure, DocStatusFailed:
		return true
	}
	return false
}

// JobStatus tracks one page job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRetryable JobStatus = "retryable"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSucceeded JobStatus = "succeeded"
)

// Terminal reports whether the job will never run again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// LineType classifies an extracted line item.
type LineType string

const (
	LineTypeMedicalService LineType = "medical_service"
	LineTypeIncentiveBonus LineType = "incentive_bonus"
	LineTypeAdjustment     LineType = "adjustment"
	LineTypeSummaryTotal   LineType = "summary_total"
)

// ReviewStatus values for documents.
const (
	ReviewStatusClean       = "clean"
	ReviewStatusNeedsReview = "needs_review"
)

// Document is one uploaded remittance file.
type Document struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	FileName       string         `json:"file_name,omitempty"`
	Status         DocumentStatus `json:"status"`
	PageCount      int            `json:"page_count"`
	ItemsExtracted int            `json:"items_extracted"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ExportedAt     *time.Time     `json:"exported_at,omitempty"`
	ExportBatchID  string         `json:"export_batch_id,omitempty"`
	FoundRevenue   bool           `json:"found_revenue"`
	ReviewStatus   string         `json:"review_status,omitempty"`
	ReviewReasons  []string       `json:"review_reasons,omitempty"`

	// Export summary stats, stamped when a remittance file is generated.
	TotalPaidCents   *int64 `json:"total_paid_cents,omitempty"`
	TotalPatientResp *int64 `json:"total_patient_resp_cents,omitempty"`
	ClaimCount       *int64 `json:"claim_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PageJob is the unit of work for one page of one document.
// A (document_id, page_number) pair is created at most once; recovery paths
// re-queue the existing row rather than creating a new one.
type PageJob struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"document_id"`
	TenantID       string    `json:"tenant_id"`
	PageNumber     int       `json:"page_number"`
	Status         JobStatus `json:"status"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	StorageStore   string    `json:"storage_store,omitempty"`
	StorageBucket  string    `json:"storage_bucket,omitempty"`
	StorageKey     string    `json:"storage_key,omitempty"`
	ItemsExtracted int       `json:"items_extracted"`
	RawResponse    string    `json:"-"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LineItem is one extracted payment/adjustment fact. Dollar amounts are
// integer cents; nil means the field was absent on the page.
type LineItem struct {
	ID            string   `json:"id"`
	DocumentID    string   `json:"document_id"`
	PageNumber    int      `json:"page_number"`
	TenantID      string   `json:"tenant_id"`
	LineType      LineType `json:"line_type"`
	PatientName   string   `json:"patient_name,omitempty"`
	MemberID      string   `json:"member_id,omitempty"`
	ServiceDate   string   `json:"service_date,omitempty"`
	ProcedureCode string   `json:"procedure_code,omitempty"`
	ClaimNumber   string   `json:"claim_number,omitempty"`
	PayerName     string   `json:"payer_name,omitempty"`
	PaymentDate   string   `json:"payment_date,omitempty"`
	CheckNumber   string   `json:"check_number,omitempty"`

	BilledCents      *int64 `json:"billed_cents,omitempty"`
	AllowedCents     *int64 `json:"allowed_cents,omitempty"`
	PaidCents        *int64 `json:"paid_cents,omitempty"`
	PatientRespCents *int64 `json:"patient_resp_cents,omitempty"`
	AdjustmentCents  *int64 `json:"adjustment_cents,omitempty"`

	DeductibleCents  *int64 `json:"deductible_cents,omitempty"`
	CoinsuranceCents *int64 `json:"coinsurance_cents,omitempty"`
	CopayCents       *int64 `json:"copay_cents,omitempty"`
	ContractualCents *int64 `json:"contractual_cents,omitempty"`
	NonCoveredCents  *int64 `json:"non_covered_cents,omitempty"`

	Confidence  float64  `json:"confidence"`
	Flagged     bool     `json:"flagged"`
	FlagReasons []string `json:"flag_reasons,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
