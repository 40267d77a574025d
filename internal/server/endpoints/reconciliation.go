package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/svcctx"
)

// ReconciliationEndpoint handles GET /api/documents/{id}/reconciliation.
type ReconciliationEndpoint struct{}

var _ api.Endpoint = (*ReconciliationEndpoint)(nil)

func (e *ReconciliationEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/reconciliation", e.handler
}

func (e *ReconciliationEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Reconcile a document
//	@Description	Compare the document's stated check total against the sum of its extracted service lines
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	store.Reconciliation
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id}/reconciliation [get]
func (e *ReconciliationEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	rec, err := st.ReconcileDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (e *ReconciliationEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <document-id>",
		Short: "Compare a document's check total against its line totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var rec store.Reconciliation
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0]+"/reconciliation", &rec); err != nil {
				return err
			}
			return api.Output(rec)
		},
	}
}
