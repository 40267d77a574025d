package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/svcctx"
)

// ReprocessResponse reports how many page jobs were re-queued.
type ReprocessResponse struct {
	DocumentID   string `json:"document_id"`
	Redispatched int    `json:"redispatched"`
}

// ReprocessDocumentEndpoint handles POST /api/documents/{id}/reprocess.
// It resets every page job of a terminal document and re-dispatches them,
// without charging credits again.
type ReprocessDocumentEndpoint struct{}

var _ api.Endpoint = (*ReprocessDocumentEndpoint)(nil)

func (e *ReprocessDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/reprocess", e.handler
}

func (e *ReprocessDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Reprocess a document
//	@Description	Re-queue all page jobs for a document and dispatch them again. Export-locked documents must be unlocked first.
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	ReprocessResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id}/reprocess [post]
func (e *ReprocessDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	st := svcctx.StoreFrom(r.Context())
	orch := svcctx.OrchestratorFrom(r.Context())
	if st == nil || orch == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	err := st.ResetDocumentForReprocess(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
		return
	case errors.Is(err, store.ErrDocumentLocked):
		writeError(w, http.StatusConflict, "document has an active export lock")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	n, err := orch.Redispatch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ReprocessResponse{DocumentID: id, Redispatched: n})
}

func (e *ReprocessDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <id>",
		Short: "Re-queue and dispatch all pages of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ReprocessResponse
			if err := client.Post(cmd.Context(), "/api/documents/"+args[0]+"/reprocess", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
