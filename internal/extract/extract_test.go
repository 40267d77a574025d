package extract

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestParseResponseEmptyContent(t *testing.T) {
	res, err := parseResponse("")
	if err != nil {
		t.Fatalf("parse empty content: %v", err)
	}
	if len(res.Items) != 0 {
		t.Fatalf("expected zero items, got %d", len(res.Items))
	}
}

func TestParseResponseValid(t *testing.T) {
	content := `{
	  "items": [
	    {
	      "line_type": "medical_service",
	      "patient_name": "JANE DOE",
	      "claim_number": "CLM100",
	      "procedure_code": "99213",
	      "paid_amount": 142.50,
	      "deductible": 25.00,
	      "confidence": 0.92
	    },
	    {
	      "line_type": "summary_total",
	      "check_number": "0012345",
	      "paid_amount": 142.50,
	      "confidence": 0.99
	    }
	  ]
	}`

	res, err := parseResponse(content)
	if err != nil {
		t.Fatalf("parse valid payload: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(res.Items))
	}
	first := res.Items[0]
	if first.LineType != TypeMedicalService {
		t.Errorf("line type = %q", first.LineType)
	}
	if first.PaidAmount == nil || *first.PaidAmount != 142.50 {
		t.Errorf("paid amount = %v", first.PaidAmount)
	}
	if first.BilledAmount != nil {
		t.Errorf("absent billed amount should stay nil, got %v", *first.BilledAmount)
	}
	if res.Raw != content {
		t.Error("raw payload should be preserved verbatim")
	}
}

func TestParseResponseRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"not json", "the page was blank"},
		{"missing items", `{"pages": []}`},
		{"bad line type", `{"items":[{"line_type":"mystery","confidence":0.5}]}`},
		{"missing confidence", `{"items":[{"line_type":"medical_service"}]}`},
		{"string amount", `{"items":[{"line_type":"medical_service","confidence":0.5,"paid_amount":"100"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseResponse(tc.content); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	rl := &UpstreamError{Class: ErrRateLimited, Status: 429, RetryAfter: 5 * time.Second}
	if !IsRetryable(rl) {
		t.Error("rate limited should be retryable")
	}
	if !errors.Is(rl, ErrRateLimited) {
		t.Error("rate limited should unwrap to sentinel")
	}
	if got := retryAfterOf(rl); got != 5*time.Second {
		t.Errorf("retry hint = %v", got)
	}

	un := &UpstreamError{Class: ErrUnavailable, Status: 503}
	if !IsRetryable(un) {
		t.Error("unavailable should be retryable")
	}

	perm := &UpstreamError{Status: 400, Err: errors.New("invalid request")}
	if IsRetryable(perm) {
		t.Error("client error should not be retryable")
	}
	if retryAfterOf(errors.New("plain")) != 0 {
		t.Error("plain error carries no retry hint")
	}
}

func TestRetryAfterHeader(t *testing.T) {
	if retryAfterHeader(nil) != 0 {
		t.Error("nil response should yield zero hint")
	}

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")
	if got := retryAfterHeader(resp); got != 7*time.Second {
		t.Errorf("seconds form = %v", got)
	}

	resp.Header.Set("Retry-After", "garbage")
	if got := retryAfterHeader(resp); got != 0 {
		t.Errorf("unparseable header = %v", got)
	}
}

func TestRateLimiterConsumesAndRefills(t *testing.T) {
	r := NewRateLimiter(600) // 10/sec keeps the test fast

	ctx := t.Context()
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := r.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("burst within bucket should not block, took %v", elapsed)
	}
}

func TestRateLimiterRecord429Drains(t *testing.T) {
	r := NewRateLimiter(60)
	r.Record429()

	r.mu.Lock()
	tokens := r.tokens
	r.mu.Unlock()
	if tokens != 0 {
		t.Fatalf("bucket should be empty after 429, have %v", tokens)
	}
}
