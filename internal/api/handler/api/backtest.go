// internal/api/handler/api/backtest.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/newthinker/tinkclaw/internal/api/job"
	"github.com/newthinker/tinkclaw/internal/api/response"
	"github.com/newthinker/tinkclaw/internal/backtest"
	"github.com/newthinker/tinkclaw/internal/core"
)

const backtestTimeout = 5 * time.Minute

// BacktestRequest is the request body for starting a backtest.
type BacktestRequest struct {
	Symbols  []string `json:"symbols"`
	Strategy string   `json:"strategy"`
	Days     int      `json:"days"`
}

// Backtester runs server-side backtests.
type Backtester interface {
	Run(ctx context.Context, strategy string, symbols []string, days int) (*backtest.Report, error)
}

// BacktestHandler handles backtest API requests.
type BacktestHandler struct {
	jobStore   *job.Store
	backtester Backtester
}

// NewBacktestHandler creates a new backtest handler.
func NewBacktestHandler(jobStore *job.Store, backtester Backtester) *BacktestHandler {
	return &BacktestHandler{
		jobStore:   jobStore,
		backtester: backtester,
	}
}

// Create starts a new backtest job.
func (h *BacktestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrConfigInvalid, err))
		return
	}

	if len(req.Symbols) == 0 {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrConfigMissing, errors.New("symbols are required")))
		return
	}
	if req.Strategy != "" && !backtest.ValidStrategy(req.Strategy) {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrConfigInvalid, errors.New("unknown strategy "+req.Strategy)))
		return
	}

	j := h.jobStore.Create("backtest")

	// Run backtest in background
	go h.runBacktest(j.ID, req)

	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

// runBacktest executes the backtest and updates job status.
func (h *BacktestHandler) runBacktest(jobID string, req BacktestRequest) {
	h.jobStore.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusRunning
	})

	ctx, cancel := context.WithTimeout(context.Background(), backtestTimeout)
	defer cancel()
	report, err := h.backtester.Run(ctx, req.Strategy, req.Symbols, req.Days)

	if err != nil {
		h.jobStore.Update(jobID, func(j *job.Job) {
			j.Status = job.StatusFailed
			j.Result = report
			var ce *core.Error
			if errors.As(err, &ce) {
				j.Error = ce
			} else {
				j.Error = core.WrapError(core.ErrRejected, err)
			}
		})
		return
	}

	h.jobStore.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.Progress = 100
		j.Result = report
	})
}

// GetStatus returns the status of a backtest job.
func (h *BacktestHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobStore.Get(chi.URLParam(r, "id"))
	if err != nil {
		response.Fail(w, err)
		return
	}

	resp := map[string]any{
		"job_id":   j.ID,
		"status":   j.Status,
		"progress": j.Progress,
	}

	if j.Result != nil {
		resp["result"] = j.Result
	}
	if j.Status == job.StatusFailed && j.Error != nil {
		resp["error"] = map[string]string{
			"code":    j.Error.Code,
			"message": j.Error.Error(),
		}
	}

	response.JSON(w, http.StatusOK, resp)
}
