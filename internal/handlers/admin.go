package handlers

import (
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"vitalscore/internal/adherence"
	"vitalscore/internal/cache"
	"vitalscore/internal/cohort"
	"vitalscore/internal/metrics"
)

const defaultLeaderboardSize = 10

type AdminHandler struct {
	source     CohortSource
	aggregator *cohort.Aggregator
	cache      *cache.ReportCache
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewAdminHandler builds the cohort report endpoint. cache may be nil.
func NewAdminHandler(source CohortSource, agg *cohort.Aggregator, rc *cache.ReportCache, m *metrics.Metrics, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{source: source, aggregator: agg, cache: rc, metrics: m, logger: logger, now: time.Now}
}

type cohortResponse struct {
	ReportID    string                    `json:"report_id"`
	Program     string                    `json:"program"`
	AsOf        string                    `json:"as_of"`
	Cached      bool                      `json:"cached"`
	Summary     cohort.Summary            `json:"summary"`
	Leaderboard []cohort.LeaderboardEntry `json:"leaderboard"`
	Failures    []cohort.UserResult       `json:"failures"`
	Warnings    []string                  `json:"warnings,omitempty"`
}

// Cohort godoc
// @Summary Cohort adherence report
// @Description Aggregates every enrolled user's adherence (admin only). Reports are cached per program and date unless refresh=true.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param program query string true "Program"
// @Param as_of query string false "Date (YYYY-MM-DD)"
// @Param top query int false "Leaderboard size"
// @Param refresh query bool false "Bypass the cache"
// @Success 200 {object} cohortResponse
// @Failure 403 {string} string "Forbidden"
// @Router /admin/cohort [get]
func (h *AdminHandler) Cohort(w http.ResponseWriter, r *http.Request) {
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
	top := intParam(r, "top", defaultLeaderboardSize)
	ctx := r.Context()

	var rep *cohort.Report
	cached := false
	if h.cache != nil && r.URL.Query().Get("refresh") != "true" {
		rep, err = h.cache.Get(ctx, program, asOf.Format(adherence.DateLayout))
		if err != nil {
			h.logger.Warn("report cache read failed", zap.String("program", program), zap.Error(err))
			rep = nil
		}
		cached = rep != nil
		h.metrics.CacheLookup(cached)
	}

	if rep == nil {
		rows, err := h.source.ListCohortRows(ctx, program, asOf)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		rep, err = h.aggregator.Aggregate(ctx, rows, asOf)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if err := h.cache.Set(ctx, program, rep); err != nil {
			h.logger.Warn("report cache write failed", zap.String("program", program), zap.Error(err))
		}
	}

	failures := []cohort.UserResult{}
	for _, res := range rep.PerUser {
		if !res.OK() {
			failures = append(failures, res)
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].UserID < failures[j].UserID })

	writeJSON(w, http.StatusOK, cohortResponse{
		ReportID:    rep.ID.String(),
		Program:     program,
		AsOf:        rep.AsOf,
		Cached:      cached,
		Summary:     rep.Summary,
		Leaderboard: rep.Leaderboard(top),
		Failures:    failures,
		Warnings:    rep.Warnings,
	})
}
