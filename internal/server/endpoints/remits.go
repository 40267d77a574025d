package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/era"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/svcctx"
)

// GenerateRemitRequest names the documents to encode into one remittance file.
type GenerateRemitRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// GenerateRemitEndpoint handles POST /api/remits. It encodes completed
// documents into an 835-style remittance file and export-locks them.
type GenerateRemitEndpoint struct{}

var _ api.Endpoint = (*GenerateRemitEndpoint)(nil)

func (e *GenerateRemitEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/remits", e.handler
}

func (e *GenerateRemitEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Generate a remittance file
//	@Description	Encode completed documents into an 835-style remittance envelope and stamp each with an export lock
//	@Tags			remits
//	@Accept			json
//	@Produce		json
//	@Param			request	body		GenerateRemitRequest	true	"Documents to encode"
//	@Success		200		{object}	era.Result
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/remits [post]
func (e *GenerateRemitEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req GenerateRemitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	enc := svcctx.EncoderFrom(r.Context())
	cm := svcctx.ConfigManagerFrom(r.Context())
	if enc == nil || cm == nil {
		writeError(w, http.StatusServiceUnavailable, "encoder not initialized")
		return
	}

	result, err := enc.Generate(r.Context(), era.Request{
		DocumentIDs: req.DocumentIDs,
		Profile:     cm.Get().Billing.Profile(),
	})
	switch {
	case errors.Is(err, era.ErrProfileIncomplete):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, store.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, store.ErrDocumentLocked):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (e *GenerateRemitEndpoint) Command(getServerURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <document-id> [document-id...]",
		Short: "Generate a remittance file for completed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var result era.Result
			req := GenerateRemitRequest{DocumentIDs: args}
			if err := client.Post(cmd.Context(), "/api/remits", req, &result); err != nil {
				return err
			}
			return api.Output(result)
		},
	}
	return cmd
}

// UnlockExportEndpoint handles POST /api/documents/{id}/unlock, clearing the
// export lock so a document can be re-encoded.
type UnlockExportEndpoint struct{}

var _ api.Endpoint = (*UnlockExportEndpoint)(nil)

func (e *UnlockExportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/unlock", e.handler
}

func (e *UnlockExportEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Unlock an exported document
//	@Description	Clear a document's export lock so it can appear in another remittance file
//	@Tags			remits
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	store.Document
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id}/unlock [post]
func (e *UnlockExportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	err := st.UnlockExport(r.Context(), id)
	if errors.Is(err, store.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	doc, err := st.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (e *UnlockExportEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <document-id>",
		Short: "Clear a document's export lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var doc store.Document
			if err := client.Post(cmd.Context(), "/api/documents/"+args[0]+"/unlock", nil, &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
}
