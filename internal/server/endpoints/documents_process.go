package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/split"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/svcctx"
)

// ProcessRequest asks the orchestrator to ingest one remittance PDF. The
// source is either a URL or an object-store coordinate.
type ProcessRequest struct {
	TenantID string `json:"tenant_id"`
	FileName string `json:"file_name"`

	SourceURL string `json:"source_url,omitempty"`

	SourceStore  string `json:"source_store,omitempty"`
	SourceBucket string `json:"source_bucket,omitempty"`
	SourceKey    string `json:"source_key,omitempty"`
}

// ProcessDocumentEndpoint handles POST /api/documents.
type ProcessDocumentEndpoint struct{}

var _ api.Endpoint = (*ProcessDocumentEndpoint)(nil)

func (e *ProcessDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents", e.handler
}

func (e *ProcessDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Process a remittance document
//	@Description	Fetch, split and enqueue a scanned remittance PDF for extraction
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ProcessRequest	true	"Source location"
//	@Success		200		{object}	store.Document
//	@Failure		400		{object}	ErrorResponse
//	@Failure		402		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents [post]
func (e *ProcessDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SourceURL == "" && req.SourceKey == "" {
		writeError(w, http.StatusBadRequest, "source_url or source_store/source_bucket/source_key is required")
		return
	}
	if req.TenantID == "" {
		req.TenantID = DefaultTenant
	}

	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not initialized")
		return
	}

	doc, err := orch.Process(r.Context(), split.Request{
		TenantID:     req.TenantID,
		FileName:     req.FileName,
		SourceURL:    req.SourceURL,
		SourceStore:  req.SourceStore,
		SourceBucket: req.SourceBucket,
		SourceKey:    req.SourceKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeDocumentOutcome(w, doc)
}

// writeDocumentOutcome maps a processed document onto an HTTP status. The
// document record is the response either way; failures just change the code.
func writeDocumentOutcome(w http.ResponseWriter, doc *store.Document) {
	status := http.StatusOK
	if doc.Status == store.DocStatusFailed && doc.ErrorCode == split.CodeInsufficientCredits {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, doc)
}

func (e *ProcessDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req ProcessRequest
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a remittance document from a URL or object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var doc store.Document
			if err := client.Post(cmd.Context(), "/api/documents", req, &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
	cmd.Flags().StringVar(&req.TenantID, "tenant", DefaultTenant, "Tenant ID")
	cmd.Flags().StringVar(&req.FileName, "file-name", "", "Display name for the document")
	cmd.Flags().StringVar(&req.SourceURL, "url", "", "HTTP(S) URL of the source PDF")
	cmd.Flags().StringVar(&req.SourceStore, "store", "", "Object store holding the source PDF")
	cmd.Flags().StringVar(&req.SourceBucket, "bucket", "", "Bucket holding the source PDF")
	cmd.Flags().StringVar(&req.SourceKey, "key", "", "Object key of the source PDF")
	return cmd
}
