package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/split"
	"github.com/evanhollis/eraflow/internal/svcctx"
)

// UploadDocumentEndpoint handles POST /api/documents/upload with a multipart
// PDF upload. The file is staged into the inbox bucket, then processed like
// any other object-store source.
type UploadDocumentEndpoint struct{}

var _ api.Endpoint = (*UploadDocumentEndpoint)(nil)

func (e *UploadDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/upload", e.handler
}

func (e *UploadDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload and process a remittance PDF
//	@Description	Upload a PDF file, stage it in the inbox bucket and run the extraction pipeline
//	@Tags			documents
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"PDF file to process"
//	@Param			tenant	formData	string	false	"Tenant ID"
//	@Success		200		{object}	store.Document
//	@Failure		400		{object}	ErrorResponse
//	@Failure		402		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents/upload [post]
func (e *UploadDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 100 << 20 // 100MB
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file %s is not a PDF", header.Filename))
		return
	}

	tenant := r.FormValue("tenant")
	if tenant == "" {
		tenant = DefaultTenant
	}

	cm := svcctx.ConfigManagerFrom(r.Context())
	stores := svcctx.StoresFrom(r.Context())
	orch := svcctx.OrchestratorFrom(r.Context())
	if cm == nil || stores == nil || orch == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}
	cfg := cm.Get()

	inbox, err := stores.Lookup(cfg.Storage.PageStore)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	key := "uploads/" + uuid.NewString() + ".pdf"
	if err := inbox.Put(r.Context(), cfg.Storage.InboxBucket, key, data); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to stage upload: %v", err))
		return
	}

	doc, err := orch.Process(r.Context(), split.Request{
		TenantID:     tenant,
		FileName:     header.Filename,
		SourceStore:  cfg.Storage.PageStore,
		SourceBucket: cfg.Storage.InboxBucket,
		SourceKey:    key,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeDocumentOutcome(w, doc)
}

func (e *UploadDocumentEndpoint) Command(_ func() string) *cobra.Command {
	// No CLI command for file upload; use "process" with an object-store key.
	return nil
}
