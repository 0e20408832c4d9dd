package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vitalscore/internal/metrics"
	"vitalscore/internal/scoring"
)

type AssessmentHandler struct {
	engine  *scoring.Engine
	store   AssessmentStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAssessmentHandler builds the questionnaire endpoints. store may be nil,
// in which case answers are scored but not kept.
func NewAssessmentHandler(engine *scoring.Engine, store AssessmentStore, m *metrics.Metrics, logger *zap.Logger) *AssessmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssessmentHandler{engine: engine, store: store, metrics: m, logger: logger}
}

type scoreResponse struct {
	AssessmentID *int       `json:"assessment_id,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	scoring.Result
}

// Score godoc
// @Summary Score a questionnaire
// @Description Normalizes raw answers, scores them and stores them when a database is configured
// @Tags assessment
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body scoring.RawAnswers true "Questionnaire answers"
// @Success 200 {object} scoreResponse
// @Failure 400 {string} string "Invalid answers"
// @Router /assessment/score [post]
func (h *AssessmentHandler) Score(w http.ResponseWriter, r *http.Request) {
	var raw scoring.RawAnswers
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.metrics.Rejected()
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	in, err := scoring.Normalize(raw)
	if err != nil {
		h.metrics.Rejected()
		writeError(w, h.logger, err)
		return
	}
	res := h.engine.Score(in)
	h.metrics.Scored(string(res.Level))

	out := scoreResponse{Result: res}
	if h.store != nil {
		id, err := h.store.SaveAssessment(r.Context(), currentUser(r), in)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		out.AssessmentID = &id
	}
	writeJSON(w, http.StatusOK, out)
}

// Latest godoc
// @Summary Re-score the latest questionnaire
// @Tags assessment
// @Produce json
// @Security BearerAuth
// @Success 200 {object} scoreResponse
// @Failure 404 {string} string "No assessment yet"
// @Router /assessment/latest [get]
func (h *AssessmentHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	a, err := h.store.LatestAssessment(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{
		AssessmentID: &a.ID,
		CreatedAt:    &a.CreatedAt,
		Result:       h.engine.Score(a.AssessmentInput),
	})
}
