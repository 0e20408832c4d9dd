package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"vitalscore/internal/adherence"
	"vitalscore/internal/models"
)

type CheckinHandler struct {
	store  LogStore
	logger *zap.Logger
	now    func() time.Time
}

func NewCheckinHandler(store LogStore, logger *zap.Logger) *CheckinHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckinHandler{store: store, logger: logger, now: time.Now}
}

type enrollRequest struct {
	Program   string `json:"program"`
	StartDate string `json:"start_date"`
}

type enrollmentResponse struct {
	Program   string  `json:"program"`
	StartDate *string `json:"start_date"`
}

type checkinRequest struct {
	Program       string `json:"program"`
	LocalDate     string `json:"local_date"`
	FeelingScore  *int   `json:"feeling_score"`
	EnergyScore   *int   `json:"energy_score"`
	CompliancePct *int   `json:"compliance_pct"`
	Notes         string `json:"notes"`
}

func checkRange(name string, v *int, lo, hi int) error {
	if v != nil && (*v < lo || *v > hi) {
		return fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return nil
}

// Enroll godoc
// @Summary Start or restart a program
// @Description start_date defaults to today (UTC)
// @Tags checkin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body enrollRequest true "Program and optional start date"
// @Success 201 {object} enrollmentResponse
// @Router /enroll [post]
func (h *CheckinHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	program := strings.TrimSpace(req.Program)
	if program == "" {
		http.Error(w, "program is required", http.StatusBadRequest)
		return
	}
	start := adherence.Day(h.now().UTC())
	if req.StartDate != "" {
		d, err := adherence.ParseDate("start_date", req.StartDate)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		start = d
	}
	if err := h.store.Enroll(r.Context(), currentUser(r), program, &start); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollmentResponse{Program: program, StartDate: toDateStringPtr(&start)})
}

// Upsert godoc
// @Summary Record the check-in for a day
// @Description Creates the day's log or replaces it. Dates more than a day ahead of UTC today are rejected.
// @Tags checkin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body checkinRequest true "Daily log"
// @Success 200 {object} dailyLogDTO
// @Success 201 {object} dailyLogDTO
// @Failure 404 {string} string "Not enrolled"
// @Router /checkin [post]
func (h *CheckinHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	program := strings.TrimSpace(req.Program)
	if program == "" {
		http.Error(w, "program is required", http.StatusBadRequest)
		return
	}
	if req.LocalDate == "" {
		http.Error(w, "local_date is required", http.StatusBadRequest)
		return
	}
	date, err := adherence.ParseDate("local_date", req.LocalDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if date.After(adherence.Day(h.now().UTC()).AddDate(0, 0, 1)) {
		http.Error(w, "local_date is in the future", http.StatusBadRequest)
		return
	}
	for _, err := range []error{
		checkRange("feeling_score", req.FeelingScore, 1, 10),
		checkRange("energy_score", req.EnergyScore, 1, 10),
		checkRange("compliance_pct", req.CompliancePct, 0, 100),
	} {
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	userID := currentUser(r)
	if _, err := h.store.GetEnrollment(r.Context(), userID, program); err != nil {
		writeError(w, h.logger, err)
		return
	}
	entry := models.DailyLogEntry{
		UserID:        userID,
		Program:       program,
		Date:          date,
		FeelingScore:  req.FeelingScore,
		EnergyScore:   req.EnergyScore,
		CompliancePct: req.CompliancePct,
		Notes:         strings.TrimSpace(req.Notes),
	}
	inserted, err := h.store.UpsertDailyLog(r.Context(), entry)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, toDailyLogDTO(entry))
}

// Delete godoc
// @Summary Delete the check-in for a day
// @Tags checkin
// @Security BearerAuth
// @Param program query string true "Program"
// @Param local_date query string true "Date (YYYY-MM-DD)"
// @Success 204
// @Failure 404 {string} string "Not found"
// @Router /checkin [delete]
func (h *CheckinHandler) Delete(w http.ResponseWriter, r *http.Request) {
	program := r.URL.Query().Get("program")
	if program == "" {
		http.Error(w, "program is required", http.StatusBadRequest)
		return
	}
	date, err := adherence.ParseDate("local_date", r.URL.Query().Get("local_date"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.store.DeleteDailyLog(r.Context(), currentUser(r), program, date); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List godoc
// @Summary List check-ins
// @Description Newest first. start_date and end_date are inclusive and optional.
// @Tags checkin
// @Produce json
// @Security BearerAuth
// @Param program query string true "Program"
// @Param start_date query string false "Start date (YYYY-MM-DD)"
// @Param end_date query string false "End date (YYYY-MM-DD)"
// @Success 200 {array} dailyLogDTO
// @Router /checkins [get]
func (h *CheckinHandler) List(w http.ResponseWriter, r *http.Request) {
	program := r.URL.Query().Get("program")
	if program == "" {
		http.Error(w, "program is required", http.StatusBadRequest)
		return
	}
	from, err := optionalDateParam(r, "start_date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	to, err := optionalDateParam(r, "end_date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	logs, err := h.store.ListDailyLogs(r.Context(), currentUser(r), program, from, to)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]dailyLogDTO, 0, len(logs))
	for _, l := range logs {
		out = append(out, toDailyLogDTO(l))
	}
	writeJSON(w, http.StatusOK, out)
}
