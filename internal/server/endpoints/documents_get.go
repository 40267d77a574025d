package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/svcctx"
)

// DocumentDetail is a document with its page jobs.
type DocumentDetail struct {
	Document *store.Document  `json:"document"`
	Jobs     []*store.PageJob `json:"jobs"`
}

// GetDocumentEndpoint handles GET /api/documents/{id}.
type GetDocumentEndpoint struct{}

var _ api.Endpoint = (*GetDocumentEndpoint)(nil)

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}", e.handler
}

func (e *GetDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get document by ID
//	@Description	Get a document along with its per-page job states
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	DocumentDetail
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id} [get]
func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	doc, err := st.GetDocument(r.Context(), id)
	if errors.Is(err, store.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jobs, err := st.ListPageJobs(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, DocumentDetail{Document: doc, Jobs: jobs})
}

func (e *GetDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a document by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var detail DocumentDetail
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0], &detail); err != nil {
				return err
			}
			return api.Output(detail)
		},
	}
}
