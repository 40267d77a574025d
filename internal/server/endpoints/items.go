package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/store"
	"github.com/evanhollis/eraflow/internal/svcctx"
	"github.com/evanhollis/eraflow/internal/worker"
)

// ListItemsResponse is the response for listing a document's line items.
type ListItemsResponse struct {
	Items []*store.LineItem `json:"items"`
}

// ListItemsEndpoint handles GET /api/documents/{id}/items.
type ListItemsEndpoint struct{}

var _ api.Endpoint = (*ListItemsEndpoint)(nil)

func (e *ListItemsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/items", e.handler
}

func (e *ListItemsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List extracted line items
//	@Description	List all line items extracted from a document, ordered by page
//	@Tags			items
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	ListItemsResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/documents/{id}/items [get]
func (e *ListItemsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	items, err := st.ListDocumentItems(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListItemsResponse{Items: items})
}

func (e *ListItemsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "items <document-id>",
		Short: "List line items extracted from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListItemsResponse
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0]+"/items", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// UpdateItemEndpoint handles PATCH /api/items/{id}. Field corrections re-run
// the exception rules so fixed items shed their flags.
type UpdateItemEndpoint struct{}

var _ api.Endpoint = (*UpdateItemEndpoint)(nil)

func (e *UpdateItemEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/api/items/{id}", e.handler
}

func (e *UpdateItemEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Correct a line item
//	@Description	Apply field-level corrections to a line item and re-evaluate its exception flags
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Line item ID"
//	@Param			request	body		store.ItemUpdate	true	"Fields to update"
//	@Success		200		{object}	store.LineItem
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/items/{id} [patch]
func (e *UpdateItemEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "item id is required")
		return
	}

	var upd store.ItemUpdate
	if err := decodeBody(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	item, err := st.UpdateLineItem(r.Context(), id, upd)
	if errors.Is(err, store.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "line item not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	worker.EvaluateItem(item)
	if err := st.SetItemFlags(r.Context(), id, item.Flagged, item.FlagReasons); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (e *UpdateItemEndpoint) Command(_ func() string) *cobra.Command {
	// Field-level corrections come from the review UI, not the CLI.
	return nil
}
