package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"vitalscore/internal/adherence"
	"vitalscore/internal/cohort"
	"vitalscore/internal/middleware"
	"vitalscore/internal/models"
	"vitalscore/internal/scoring"
	"vitalscore/internal/store"
)

// AssessmentStore persists questionnaires.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, userID int, in models.AssessmentInput) (int, error)
	LatestAssessment(ctx context.Context, userID int) (models.Assessment, error)
}

// LogStore holds enrollments and daily check-ins.
type LogStore interface {
	Enroll(ctx context.Context, userID int, program string, start *time.Time) error
	GetEnrollment(ctx context.Context, userID int, program string) (models.ProgramEnrollment, error)
	UpsertDailyLog(ctx context.Context, e models.DailyLogEntry) (bool, error)
	DeleteDailyLog(ctx context.Context, userID int, program string, date time.Time) error
	ListDailyLogs(ctx context.Context, userID int, program string, from, to *time.Time) ([]models.DailyLogEntry, error)
}

// CohortSource loads a whole program's rows for aggregation.
type CohortSource interface {
	ListCohortRows(ctx context.Context, program string, asOf time.Time) ([]cohort.Row, error)
}

type dailyLogDTO struct {
	LocalDate     string `json:"local_date"`
	FeelingScore  *int   `json:"feeling_score,omitempty"`
	EnergyScore   *int   `json:"energy_score,omitempty"`
	CompliancePct *int   `json:"compliance_pct,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

func toDailyLogDTO(e models.DailyLogEntry) dailyLogDTO {
	return dailyLogDTO{
		LocalDate:     e.Date.Format(adherence.DateLayout),
		FeelingScore:  e.FeelingScore,
		EnergyScore:   e.EnergyScore,
		CompliancePct: e.CompliancePct,
		Notes:         e.Notes,
	}
}

func toDateStringPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(adherence.DateLayout)
	return &s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and hidden from the client.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, scoring.ErrValidation), errors.Is(err, adherence.ErrInvalidDate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request timed out", zap.Error(err))
		http.Error(w, "timed out", http.StatusGatewayTimeout)
	default:
		logger.Error("request failed", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func currentUser(r *http.Request) int {
	id, _ := middleware.UserID(r.Context())
	return id
}

// asOfParam reads an optional YYYY-MM-DD query parameter, defaulting to the
// calendar date of now in UTC.
func asOfParam(r *http.Request, key string, now func() time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return adherence.Day(now().UTC()), nil
	}
	return adherence.ParseDate(key, v)
}

func optionalDateParam(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	d, err := adherence.ParseDate(key, v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func intParam(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return n
}
