// Package handlers serves read-only JSON reports over the ledger.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/ledger"
	"github.com/n3tuk/time-locked-savings/internal/model"
)

// Ledger is the read side of the ledger the reports need.
type Ledger interface {
	Totals() ledger.Totals
	ReleaseLog() []model.ReleaseEvent
	LockBoxes(username string, filter model.LockBoxFilter) ([]model.LockBox, error)
}

// ReportHandlers serves the report endpoints.
type ReportHandlers struct {
	ledger Ledger
	logger *zap.Logger
}

// NewReportHandlers creates the report handlers.
func NewReportHandlers(l Ledger, logger *zap.Logger) *ReportHandlers {
	return &ReportHandlers{ledger: l, logger: logger}
}

// Routes mounts the handlers on r.
func (h *ReportHandlers) Routes(r chi.Router) {
	r.Get("/totals", h.HandleTotals)
	r.Get("/releases", h.HandleReleases)
	r.Get("/accounts/{username}/lockboxes", h.HandleLockBoxes)
}

// TotalsResponse summarizes the ledger.
type TotalsResponse struct {
	Accounts        int             `json:"accounts"`
	ActiveAccounts  int             `json:"active_accounts"`
	ActiveLockBoxes int             `json:"active_lockboxes"`
	Balance         decimal.Decimal `json:"balance"`
	Locked          decimal.Decimal `json:"locked"`
}

// ReleaseResponse is one entry of the release log.
type ReleaseResponse struct {
	LockBoxID  int64           `json:"lockbox_id"`
	Username   string          `json:"username"`
	Amount     decimal.Decimal `json:"amount"`
	ReleasedAt time.Time       `json:"released_at"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleTotals handles GET /totals.
func (h *ReportHandlers) HandleTotals(w http.ResponseWriter, r *http.Request) {
	t := h.ledger.Totals()
	h.respond(w, http.StatusOK, TotalsResponse{
		Accounts:        t.Accounts,
		ActiveAccounts:  t.ActiveAccounts,
		ActiveLockBoxes: t.ActiveLockBoxes,
		Balance:         t.Balance,
		Locked:          t.Locked,
	})
}

// HandleReleases handles GET /releases.
func (h *ReportHandlers) HandleReleases(w http.ResponseWriter, r *http.Request) {
	log := h.ledger.ReleaseLog()
	out := make([]ReleaseResponse, 0, len(log))
	for _, ev := range log {
		out = append(out, ReleaseResponse{
			LockBoxID:  ev.LockBoxID,
			Username:   ev.Username,
			Amount:     ev.Amount,
			ReleasedAt: ev.ReleasedAt,
		})
	}
	h.respond(w, http.StatusOK, out)
}

// HandleLockBoxes handles GET /accounts/{username}/lockboxes. The state
// query parameter selects active, released or all (the default) boxes.
//
// Returns:
//   - 200 OK: the selected boxes, possibly empty
//   - 400 Bad Request: unknown state
//   - 404 Not Found: no such account
func (h *ReportHandlers) HandleLockBoxes(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var filter model.LockBoxFilter
	switch r.URL.Query().Get("state") {
	case "", "all":
		filter = model.LockBoxFilter{ShowActive: true, ShowReleased: true}
	case "active":
		filter.ShowActive = true
	case "released":
		filter.ShowReleased = true
	default:
		h.respond(w, http.StatusBadRequest, ErrorResponse{Error: "state must be active, released or all"})
		return
	}

	boxes, err := h.ledger.LockBoxes(username, filter)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		h.respond(w, http.StatusNotFound, ErrorResponse{Error: "account not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to list lock boxes", zap.String("username", username), zap.Error(err))
		h.respond(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to list lock boxes"})
		return
	}

	if boxes == nil {
		boxes = []model.LockBox{}
	}
	h.respond(w, http.StatusOK, boxes)
}

func (h *ReportHandlers) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
