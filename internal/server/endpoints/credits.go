package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/svcctx"
)

// CreditBalanceResponse reports a tenant's page-credit balance.
type CreditBalanceResponse struct {
	TenantID string `json:"tenant_id"`
	Balance  int64  `json:"balance"`
}

// GetCreditsEndpoint handles GET /api/credits.
type GetCreditsEndpoint struct{}

var _ api.Endpoint = (*GetCreditsEndpoint)(nil)

func (e *GetCreditsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/credits", e.handler
}

func (e *GetCreditsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get credit balance
//	@Description	Get a tenant's remaining page-credit balance
//	@Tags			credits
//	@Produce		json
//	@Param			tenant	query		string	false	"Tenant ID"
//	@Success		200		{object}	CreditBalanceResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/credits [get]
func (e *GetCreditsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	tenant := tenantOf(r)
	balance, err := st.CreditBalance(r.Context(), tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CreditBalanceResponse{TenantID: tenant, Balance: balance})
}

func (e *GetCreditsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a tenant's credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CreditBalanceResponse
			if err := client.Get(cmd.Context(), "/api/credits?tenant="+tenant, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", DefaultTenant, "Tenant ID")
	return cmd
}

// GrantCreditsRequest adds page credits to a tenant's balance.
type GrantCreditsRequest struct {
	TenantID string `json:"tenant_id"`
	Amount   int64  `json:"amount"`
}

// GrantCreditsEndpoint handles POST /api/credits/grant.
type GrantCreditsEndpoint struct{}

var _ api.Endpoint = (*GrantCreditsEndpoint)(nil)

func (e *GrantCreditsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/credits/grant", e.handler
}

func (e *GrantCreditsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Grant credits
//	@Description	Add page credits to a tenant's balance, creating the tenant row if needed
//	@Tags			credits
//	@Accept			json
//	@Produce		json
//	@Param			request	body		GrantCreditsRequest	true	"Grant"
//	@Success		200		{object}	CreditBalanceResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/credits/grant [post]
func (e *GrantCreditsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req GrantCreditsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.TenantID == "" {
		req.TenantID = DefaultTenant
	}

	st := svcctx.StoreFrom(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return
	}

	if err := st.GrantCredits(r.Context(), req.TenantID, req.Amount); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	balance, err := st.CreditBalance(r.Context(), req.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CreditBalanceResponse{TenantID: req.TenantID, Balance: balance})
}

func (e *GrantCreditsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req GrantCreditsRequest
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Add page credits to a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp CreditBalanceResponse
			if err := client.Post(cmd.Context(), "/api/credits/grant", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.TenantID, "tenant", DefaultTenant, "Tenant ID")
	cmd.Flags().Int64Var(&req.Amount, "amount", 0, "Credits to add")
	cmd.MarkFlagRequired("amount")
	return cmd
}
