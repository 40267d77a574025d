package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/evanhollis/eraflow/internal/api"
	"github.com/evanhollis/eraflow/internal/svcctx"
	"github.com/evanhollis/eraflow/internal/sweep"
)

// TriggerSweepEndpoint handles POST /api/sweep, running one recovery pass
// immediately instead of waiting for the next tick.
type TriggerSweepEndpoint struct{}

var _ api.Endpoint = (*TriggerSweepEndpoint)(nil)

func (e *TriggerSweepEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sweep", e.handler
}

func (e *TriggerSweepEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Run a recovery sweep
//	@Description	Re-run stale queued jobs, requeue cooled retryable jobs and close out stalled documents
//	@Tags			sweep
//	@Produce		json
//	@Success		200	{object}	sweep.Report
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/sweep [post]
func (e *TriggerSweepEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	sw := svcctx.SweeperFrom(r.Context())
	if sw == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper not initialized")
		return
	}

	report, err := sw.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (e *TriggerSweepEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a recovery sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var report sweep.Report
			if err := client.Post(cmd.Context(), "/api/sweep", nil, &report); err != nil {
				return err
			}
			return api.Output(report)
		},
	}
}
