package endpoints

import (
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/svcctx"
)

// ListDocumentsResponse is the response for listing documents.
type ListDocumentsResponse struct {
	Documents []*store.Document `json:"documents"`
}

// ListDocumentsEndpoint handles GET /api/documents.
type ListDocumentsEndpoint struct{}

var _ api.Endpoint = (*ListDocumentsEndpoint)(nil)

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List documents
//	@Description	List remittance documents for a tenant, newest first
//	@Tags			documents
//	@Produce		json
//	@Param			tenant	query		string	false	"Tenant ID"
//	@Param			limit	query		int		false	"Max documents to return"
//	@Success		200		{object}	ListDocumentsResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/documents [get]
func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	docs, err := st.ListDocuments(r.Context(), tenantOf(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListDocumentsResponse{Documents: docs})
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var tenant string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			path := "/api/documents?tenant=" + tenant + "&limit=" + strconv.Itoa(limit)
			var resp ListDocumentsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", DefaultTenant, "Tenant ID")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max documents to return")
	return cmd
}
