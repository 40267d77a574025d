package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/evanhollis/eraflow/internal/config"
	"github.com/evanhollis/eraflow/internal/extract"
	"github.com/evanhollis/eraflow/internal/server/endpoints"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/testutil"
)

type testServer struct {
	srv    *Server
	mock   *extract.MockClient
	client *http.Client
	ts     *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
database:
  path: %s
storage:
  stores:
    local:
      type: fs
      root: %s
  page_store: local
  page_bucket: pages
  inbox_bucket: inbox
pipeline:
  workers: 2
  queue_size: 50
  confirm_timeout_ms: 2000
  batch_delay_ms: 1
billing:
  name: EVERGREEN FAMILY MEDICINE
  tax_id: "123456789"
  provider_id: "1093817465"
`, filepath.Join(dir, "eraflow.db"), filepath.Join(dir, "objects"))
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cm, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}

	mock := extract.NewMockClient()
	srv, err := New(context.Background(), Config{
		ConfigManager: cm,
		Logger:        slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		ExtractClient: mock,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv.services.Pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.services.Pool.Wait()
		srv.store.Close()
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{srv: srv, mock: mock, client: ts.Client(), ts: ts}
}

func (h *testServer) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := h.client.Get(h.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (h *testServer) post(t *testing.T, path string, body, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	resp, err := h.client.Post(h.ts.URL+path, "application/json", reader)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (h *testServer) upload(t *testing.T, pdf []byte) (int, *store.Document) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "remit.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(pdf)
	mw.Close()

	resp, err := h.client.Post(h.ts.URL+"/api/documents/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()

	var doc store.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return resp.StatusCode, &doc
}

// waitTerminal polls the document until it reaches a terminal status.
func (h *testServer) waitTerminal(t *testing.T, docID string) *store.Document {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var detail endpoints.DocumentDetail
		if code := h.get(t, "/api/documents/"+docID, &detail); code != http.StatusOK {
			t.Fatalf("get document: status %d", code)
		}
		if detail.Document.Status.Terminal() {
			return detail.Document
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("document %s never reached a terminal status", docID)
	return nil
}

func (h *testServer) grant(t *testing.T, amount int64) {
	t.Helper()
	req := endpoints.GrantCreditsRequest{TenantID: endpoints.DefaultTenant, Amount: amount}
	if code := h.post(t, "/api/credits/grant", req, nil); code != http.StatusOK {
		t.Fatalf("grant credits: status %d", code)
	}
}

func dollars(v float64) *float64 { return &v }

func TestHealthAndReady(t *testing.T) {
	h := newTestServer(t)

	var health endpoints.HealthResponse
	if code := h.get(t, "/health", &health); code != http.StatusOK {
		t.Errorf("health status = %d", code)
	}
	if health.Status != "ok" {
		t.Errorf("health = %q", health.Status)
	}

	if code := h.get(t, "/ready", &health); code != http.StatusOK {
		t.Errorf("ready status = %d", code)
	}
	if health.Database != "ok" {
		t.Errorf("ready database = %q", health.Database)
	}

	var status endpoints.StatusResponse
	if code := h.get(t, "/status", &status); code != http.StatusOK {
		t.Errorf("status code = %d", code)
	}
	if status.Pool.Workers != 2 {
		t.Errorf("pool workers = %d", status.Pool.Workers)
	}
}

func TestUploadRunsPipelineToCompletion(t *testing.T) {
	h := newTestServer(t)
	h.grant(t, 10)

	h.mock.SetResult(1, extract.Item{
		LineType:    "medical_service",
		PatientName: "DOE JANE",
		ClaimNumber: "CLM-100",
		CheckNumber: "0042",
		PayerName:   "ACME HEALTH",
		BilledAmount: dollars(200), PaidAmount: dollars(150),
		Confidence: 0.95,
	})
	h.mock.SetResult(2, extract.Item{
		LineType: "summary_total", CheckNumber: "0042",
		PaidAmount: dollars(150), Confidence: 0.99,
	})

	code, doc := h.upload(t, testutil.PDF(t, 2))
	if code != http.StatusOK {
		t.Fatalf("upload status = %d", code)
	}

	final := h.waitTerminal(t, doc.ID)
	if final.Status != store.DocStatusCompleted {
		t.Fatalf("status = %s (%s: %s)", final.Status, final.ErrorCode, final.ErrorMessage)
	}
	if final.ItemsExtracted != 2 {
		t.Errorf("items extracted = %d", final.ItemsExtracted)
	}

	var items endpoints.ListItemsResponse
	if code := h.get(t, "/api/documents/"+doc.ID+"/items", &items); code != http.StatusOK {
		t.Fatalf("list items: status %d", code)
	}
	if len(items.Items) != 2 {
		t.Fatalf("items = %d", len(items.Items))
	}

	var rec store.Reconciliation
	if code := h.get(t, "/api/documents/"+doc.ID+"/reconciliation", &rec); code != http.StatusOK {
		t.Fatalf("reconciliation: status %d", code)
	}
	if rec.Status != store.ReconBalanced {
		t.Errorf("reconciliation = %s, delta %d", rec.Status, rec.DeltaCents)
	}

	// Two pages were charged from the granted ten.
	var balance endpoints.CreditBalanceResponse
	h.get(t, "/api/credits", &balance)
	if balance.Balance != 8 {
		t.Errorf("balance = %d", balance.Balance)
	}
}

func TestUploadWithoutCreditsIsRejected(t *testing.T) {
	h := newTestServer(t)

	code, doc := h.upload(t, testutil.PDF(t, 1))
	if code != http.StatusPaymentRequired {
		t.Fatalf("upload status = %d", code)
	}
	if doc.Status != store.DocStatusFailed || doc.ErrorCode != "insufficient_credits" {
		t.Errorf("doc = %s/%s", doc.Status, doc.ErrorCode)
	}
}

func TestRemitGenerationAndExportLock(t *testing.T) {
	h := newTestServer(t)
	h.grant(t, 10)

	h.mock.SetResult(1, extract.Item{
		LineType:    "medical_service",
		PatientName: "DOE JANE",
		ClaimNumber: "CLM-200",
		CheckNumber: "0099",
		BilledAmount: dollars(100), PaidAmount: dollars(80),
		Confidence: 0.9,
	})

	_, doc := h.upload(t, testutil.PDF(t, 1))
	final := h.waitTerminal(t, doc.ID)
	if final.Status != store.DocStatusCompleted {
		t.Fatalf("status = %s", final.Status)
	}

	req := endpoints.GenerateRemitRequest{DocumentIDs: []string{doc.ID}}
	var result struct {
		BatchID string `json:"batch_id"`
		Content string `json:"content"`
	}
	if code := h.post(t, "/api/remits", req, &result); code != http.StatusOK {
		t.Fatalf("generate: status %d", code)
	}
	if result.BatchID == "" || result.Content == "" {
		t.Fatal("empty remit result")
	}

	// Export lock holds until unlocked.
	if code := h.post(t, "/api/remits", req, nil); code != http.StatusConflict {
		t.Errorf("second generate status = %d", code)
	}
	if code := h.post(t, "/api/documents/"+doc.ID+"/unlock", nil, nil); code != http.StatusOK {
		t.Errorf("unlock status = %d", code)
	}
	if code := h.post(t, "/api/remits", req, nil); code != http.StatusOK {
		t.Errorf("regenerate status = %d", code)
	}
}

func TestUpdateItemClearsFlags(t *testing.T) {
	h := newTestServer(t)
	h.grant(t, 10)

	// Missing paid amount flags the service line.
	h.mock.SetResult(1, extract.Item{
		LineType:    "medical_service",
		PatientName: "SMITH PAT",
		ClaimNumber: "CLM-300",
		BilledAmount: dollars(60),
		Confidence:   0.9,
	})

	_, doc := h.upload(t, testutil.PDF(t, 1))
	final := h.waitTerminal(t, doc.ID)
	if final.ReviewStatus != store.ReviewStatusNeedsReview {
		t.Fatalf("review = %q", final.ReviewStatus)
	}

	var items endpoints.ListItemsResponse
	h.get(t, "/api/documents/"+doc.ID+"/items", &items)
	if len(items.Items) != 1 || !items.Items[0].Flagged {
		t.Fatalf("expected one flagged item, got %+v", items.Items)
	}

	paid := int64(6000)
	body, _ := json.Marshal(store.ItemUpdate{PaidCents: &paid})
	req, _ := http.NewRequest(http.MethodPatch,
		h.ts.URL+"/api/items/"+items.Items[0].ID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	var updated store.LineItem
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Flagged {
		t.Errorf("item still flagged after correction: %v", updated.FlagReasons)
	}
	if updated.PaidCents == nil || *updated.PaidCents != 6000 {
		t.Errorf("paid = %v", updated.PaidCents)
	}
}

func TestSweepEndpoint(t *testing.T) {
	h := newTestServer(t)

	var report struct {
		StaleRerun int `json:"stale_rerun"`
	}
	if code := h.post(t, "/api/sweep", nil, &report); code != http.StatusOK {
		t.Errorf("sweep status = %d", code)
	}
}
