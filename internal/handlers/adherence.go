package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"vitalscore/internal/adherence"
	"vitalscore/internal/metrics"
)

const trendDays = 7

type AdherenceHandler struct {
	store   LogStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewAdherenceHandler(store LogStore, m *metrics.Metrics, logger *zap.Logger) *AdherenceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdherenceHandler{store: store, metrics: m, logger: logger, now: time.Now}
}

type adherenceResponse struct {
	Program   string                `json:"program"`
	AsOf      string                `json:"as_of"`
	StartDate *string               `json:"start_date"`
	State     adherence.StreakState `json:"state"`
	Trend     []adherence.DayMark   `json:"trend"`
}

// Get godoc
// @Summary Streak and compliance for a program
// @Description as_of defaults to today (UTC). Includes the last 7 days ending at as_of.
// @Tags adherence
// @Produce json
// @Security BearerAuth
// @Param program query string true "Program"
// @Param as_of query string false "Date (YYYY-MM-DD)"
// @Success 200 {object} adherenceResponse
// @Failure 404 {string} string "Not enrolled"
// @Router /adherence [get]
func (h *AdherenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	program := r.URL.Query().Get("program")
	if program == "" {
		http.Error(w, "program is required", http.StatusBadRequest)
		return
	}
	asOf, err := asOfParam(r, "as_of", h.now)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	userID := currentUser(r)
	enrollment, err := h.store.GetEnrollment(r.Context(), userID, program)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	logs, err := h.store.ListDailyLogs(r.Context(), userID, program, enrollment.StartDate, &asOf)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	state, err := adherence.Compute(logs, enrollment.StartDate, asOf)
	h.metrics.Adherence(err)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, adherenceResponse{
		Program:   program,
		AsOf:      asOf.Format(adherence.DateLayout),
		StartDate: toDateStringPtr(enrollment.StartDate),
		State:     state,
		Trend:     adherence.Window(logs, asOf, trendDays),
	})
}
