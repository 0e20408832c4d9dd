package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalscore/internal/cache"
	"vitalscore/internal/cohort"
	"vitalscore/internal/metrics"
	"vitalscore/internal/middleware"
	"vitalscore/internal/models"
	"vitalscore/internal/scoring"
	"vitalscore/internal/store"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func fixedNow() time.Time { return time.Date(2026, 4, 10, 21, 30, 0, 0, time.UTC) }

func request(method, target, body string, userID int) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	return r.WithContext(middleware.WithUserID(r.Context(), userID))
}

type fakeStore struct {
	assessments map[int][]models.Assessment
	enrollments map[string]models.ProgramEnrollment
	logs        map[string]models.DailyLogEntry
	cohortCalls int
	err         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assessments: map[int][]models.Assessment{},
		enrollments: map[string]models.ProgramEnrollment{},
		logs:        map[string]models.DailyLogEntry{},
	}
}

func enrollKey(userID int, program string) string {
	return program + "/" + strconv.Itoa(userID)
}

func logKey(userID int, program string, d time.Time) string {
	return enrollKey(userID, program) + "/" + d.Format("2006-01-02")
}

func (f *fakeStore) SaveAssessment(_ context.Context, userID int, in models.AssessmentInput) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	id := len(f.assessments[userID]) + 1
	f.assessments[userID] = append(f.assessments[userID], models.Assessment{ID: id, UserID: userID, AssessmentInput: in})
	return id, nil
}

func (f *fakeStore) LatestAssessment(_ context.Context, userID int) (models.Assessment, error) {
	list := f.assessments[userID]
	if len(list) == 0 {
		return models.Assessment{}, store.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (f *fakeStore) Enroll(_ context.Context, userID int, program string, start *time.Time) error {
	f.enrollments[enrollKey(userID, program)] = models.ProgramEnrollment{UserID: userID, Program: program, StartDate: start}
	return nil
}

func (f *fakeStore) GetEnrollment(_ context.Context, userID int, program string) (models.ProgramEnrollment, error) {
	e, ok := f.enrollments[enrollKey(userID, program)]
	if !ok {
		return e, store.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) UpsertDailyLog(_ context.Context, e models.DailyLogEntry) (bool, error) {
	k := logKey(e.UserID, e.Program, e.Date)
	_, existed := f.logs[k]
	f.logs[k] = e
	return !existed, nil
}

func (f *fakeStore) DeleteDailyLog(_ context.Context, userID int, program string, d time.Time) error {
	k := logKey(userID, program, d)
	if _, ok := f.logs[k]; !ok {
		return store.ErrNotFound
	}
	delete(f.logs, k)
	return nil
}

func (f *fakeStore) ListDailyLogs(_ context.Context, userID int, program string, from, to *time.Time) ([]models.DailyLogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []models.DailyLogEntry{}
	for _, e := range f.logs {
		if e.UserID != userID || e.Program != program {
			continue
		}
		if (from != nil && e.Date.Before(*from)) || (to != nil && e.Date.After(*to)) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (f *fakeStore) ListCohortRows(ctx context.Context, program string, asOf time.Time) ([]cohort.Row, error) {
	f.cohortCalls++
	if f.err != nil {
		return nil, f.err
	}
	var rows []cohort.Row
	for _, e := range f.enrollments {
		if e.Program != program {
			continue
		}
		logs, _ := f.ListDailyLogs(ctx, e.UserID, program, nil, &asOf)
		rows = append(rows, cohort.Row{UserID: e.UserID, StartDate: e.StartDate, Entries: logs})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows, nil
}

func (f *fakeStore) addLogs(userID int, program string, dates ...time.Time) {
	for _, d := range dates {
		f.logs[logKey(userID, program, d)] = models.DailyLogEntry{UserID: userID, Program: program, Date: d}
	}
}

const worstAnswers = `{"age": 45, "weight": "110", "height": 175, "sleep_hours": 4, "alcohol_units_per_week": 20,
	"nicotine": "daily", "libido": "very low", "morning_erection": "never", "morning_energy": "very_low",
	"mood": "negative", "training_frequency": "none", "recovery_speed": "very slow", "supplements": "none"}`

func TestAssessment_ScorePersists(t *testing.T) {
	fs := newFakeStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	engine, err := scoring.NewEngine(scoring.DefaultPolicy(), nil)
	require.NoError(t, err)
	h := NewAssessmentHandler(engine, fs, m, nil)

	rec := httptest.NewRecorder()
	h.Score(rec, request(http.MethodPost, "/api/assessment/score", worstAnswers, 4))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out scoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.AssessmentID)
	assert.Equal(t, 1, *out.AssessmentID)
	assert.Equal(t, 100, out.TotalScore)
	assert.Equal(t, scoring.LevelCritical, out.Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssessmentsScored.WithLabelValues("critical")))

	rec = httptest.NewRecorder()
	h.Latest(rec, request(http.MethodGet, "/api/assessment/latest", "", 4))
	require.Equal(t, http.StatusOK, rec.Code)
	var latest scoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, out.TotalScore, latest.TotalScore)
	assert.Equal(t, out.RiskFactors, latest.RiskFactors)
}

func TestAssessment_ScoreRejectsInvalidAnswers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	engine, err := scoring.NewEngine(scoring.DefaultPolicy(), nil)
	require.NoError(t, err)
	h := NewAssessmentHandler(engine, nil, m, nil)

	for _, body := range []string{`{"age": "abc", "weight": 80, "height": 180}`, `{"age": 12, "weight": 80, "height": 180}`, `not json`} {
		rec := httptest.NewRecorder()
		h.Score(rec, request(http.MethodPost, "/api/assessment/score", body, 1))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.AssessmentsRejected))
}

func TestAssessment_WithoutStore(t *testing.T) {
	engine, err := scoring.NewEngine(scoring.DefaultPolicy(), nil)
	require.NoError(t, err)
	h := NewAssessmentHandler(engine, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Score(rec, request(http.MethodPost, "/api/assessment/score", `{"age": 30, "weight": 75, "height": 180}`, 1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "assessment_id")

	rec = httptest.NewRecorder()
	h.Latest(rec, request(http.MethodGet, "/api/assessment/latest", "", 1))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAssessment_LatestNotFound(t *testing.T) {
	engine, err := scoring.NewEngine(scoring.DefaultPolicy(), nil)
	require.NoError(t, err)
	h := NewAssessmentHandler(engine, newFakeStore(), nil, nil)

	rec := httptest.NewRecorder()
	h.Latest(rec, request(http.MethodGet, "/api/assessment/latest", "", 9))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckin_Flow(t *testing.T) {
	fs := newFakeStore()
	h := NewCheckinHandler(fs, nil)
	h.now = fixedNow

	rec := httptest.NewRecorder()
	h.Upsert(rec, request(http.MethodPost, "/api/checkin", `{"program": "reset-90", "local_date": "2026-04-10"}`, 1))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Enroll(rec, request(http.MethodPost, "/api/enroll", `{"program": "reset-90"}`, 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"program": "reset-90", "start_date": "2026-04-10"}`, rec.Body.String())

	body := `{"program": "reset-90", "local_date": "2026-04-10", "feeling_score": 7, "compliance_pct": 80, "notes": " ok "}`
	rec = httptest.NewRecorder()
	h.Upsert(rec, request(http.MethodPost, "/api/checkin", body, 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"local_date": "2026-04-10", "feeling_score": 7, "compliance_pct": 80, "notes": "ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Upsert(rec, request(http.MethodPost, "/api/checkin", body, 1))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.List(rec, request(http.MethodGet, "/api/checkins?program=reset-90&start_date=2026-04-01", "", 1))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []dailyLogDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "2026-04-10", listed[0].LocalDate)

	rec = httptest.NewRecorder()
	h.Delete(rec, request(http.MethodDelete, "/api/checkin?program=reset-90&local_date=2026-04-10", "", 1))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.Delete(rec, request(http.MethodDelete, "/api/checkin?program=reset-90&local_date=2026-04-10", "", 1))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckin_Validation(t *testing.T) {
	fs := newFakeStore()
	start := day(2026, 4, 1)
	require.NoError(t, fs.Enroll(context.Background(), 1, "reset-90", &start))
	h := NewCheckinHandler(fs, nil)
	h.now = fixedNow

	tests := []struct {
		name string
		body string
	}{
		{"missing program", `{"local_date": "2026-04-10"}`},
		{"missing date", `{"program": "reset-90"}`},
		{"bad date", `{"program": "reset-90", "local_date": "10/04/2026"}`},
		{"future date", `{"program": "reset-90", "local_date": "2026-04-12"}`},
		{"feeling too high", `{"program": "reset-90", "local_date": "2026-04-10", "feeling_score": 11}`},
		{"energy too low", `{"program": "reset-90", "local_date": "2026-04-10", "energy_score": 0}`},
		{"compliance over 100", `{"program": "reset-90", "local_date": "2026-04-10", "compliance_pct": 120}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Upsert(rec, request(http.MethodPost, "/api/checkin", tt.body, 1))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.Upsert(rec, request(http.MethodPost, "/api/checkin", `{"program": "reset-90", "local_date": "2026-04-11"}`, 1))
	assert.Equal(t, http.StatusCreated, rec.Code, "one day ahead is allowed for users east of UTC")
}

func TestAdherence_Get(t *testing.T) {
	fs := newFakeStore()
	start := day(2026, 4, 1)
	require.NoError(t, fs.Enroll(context.Background(), 1, "reset-90", &start))
	fs.addLogs(1, "reset-90", day(2026, 4, 10), day(2026, 4, 9), day(2026, 4, 8), day(2026, 4, 5), day(2026, 4, 4))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewAdherenceHandler(fs, m, nil)
	h.now = fixedNow

	rec := httptest.NewRecorder()
	h.Get(rec, request(http.MethodGet, "/api/adherence?program=reset-90", "", 1))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out adherenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "2026-04-10", out.AsOf)
	require.NotNil(t, out.StartDate)
	assert.Equal(t, "2026-04-01", *out.StartDate)
	assert.Equal(t, 3, out.State.CurrentStreak)
	assert.Equal(t, 3, out.State.LongestStreak)
	assert.Equal(t, 10, out.State.ElapsedDays)
	assert.Equal(t, 5, out.State.MissedDays)
	assert.Equal(t, 50, out.State.ComplianceRate)
	assert.True(t, out.State.LoggedToday)
	require.Len(t, out.Trend, 7)
	assert.Equal(t, "2026-04-04", out.Trend[0].Date)
	assert.True(t, out.Trend[0].Logged)
	assert.False(t, out.Trend[3].Logged)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdherenceComputed.WithLabelValues("ok")))

	rec = httptest.NewRecorder()
	h.Get(rec, request(http.MethodGet, "/api/adherence?program=reset-90&as_of=2026-04-05", "", 1))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 2, out.State.CurrentStreak)
	assert.Equal(t, 5, out.State.ElapsedDays)
}

func TestAdherence_Errors(t *testing.T) {
	fs := newFakeStore()
	start := day(2026, 4, 1)
	require.NoError(t, fs.Enroll(context.Background(), 1, "reset-90", &start))
	h := NewAdherenceHandler(fs, nil, nil)
	h.now = fixedNow

	tests := []struct {
		name   string
		target string
		user   int
		want   int
	}{
		{"missing program", "/api/adherence", 1, http.StatusBadRequest},
		{"malformed as_of", "/api/adherence?program=reset-90&as_of=yesterday", 1, http.StatusBadRequest},
		{"as_of before start", "/api/adherence?program=reset-90&as_of=2026-03-01", 1, http.StatusBadRequest},
		{"not enrolled", "/api/adherence?program=reset-90", 2, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Get(rec, request(http.MethodGet, tt.target, "", tt.user))
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	fs.err = errors.New("connection reset")
	rec := httptest.NewRecorder()
	h.Get(rec, request(http.MethodGet, "/api/adherence?program=reset-90", "", 1))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func cohortStore(t *testing.T) *fakeStore {
	t.Helper()
	fs := newFakeStore()
	start := day(2026, 4, 7)
	future := day(2026, 5, 1)
	for _, u := range []int{1, 2, 3} {
		require.NoError(t, fs.Enroll(context.Background(), u, "reset-90", &start))
	}
	require.NoError(t, fs.Enroll(context.Background(), 4, "reset-90", &future))
	fs.addLogs(1, "reset-90", day(2026, 4, 10), day(2026, 4, 9))
	fs.addLogs(2, "reset-90", day(2026, 4, 10), day(2026, 4, 9), day(2026, 4, 8), day(2026, 4, 7))
	fs.addLogs(3, "reset-90", day(2026, 4, 8))
	return fs
}

func TestAdmin_CohortWithoutCache(t *testing.T) {
	fs := cohortStore(t)
	h := NewAdminHandler(fs, cohort.NewAggregator(cohort.WithWorkers(2)), nil, nil, nil)
	h.now = fixedNow

	rec := httptest.NewRecorder()
	h.Cohort(rec, request(http.MethodGet, "/api/admin/cohort?program=reset-90&top=2", "", 99))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out cohortResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.Cached)
	assert.Equal(t, "2026-04-10", out.AsOf)
	assert.Equal(t, 4, out.Summary.Users)
	assert.Equal(t, 1, out.Summary.Failed)
	require.Len(t, out.Leaderboard, 2)
	assert.Equal(t, 2, out.Leaderboard[0].UserID)
	assert.Equal(t, 1, out.Leaderboard[1].UserID)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, 4, out.Failures[0].UserID)
	assert.NotEmpty(t, out.Failures[0].Error)
}

func TestAdmin_CohortCache(t *testing.T) {
	fs := cohortStore(t)
	client, mock := redismock.NewClientMock()
	rc := cache.NewReportCache(client, time.Minute)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewAdminHandler(fs, cohort.NewAggregator(), rc, m, nil)
	h.now = fixedNow
	key := "vitalscore:cohort:reset-90:2026-04-10"

	mock.ExpectGet(key).RedisNil()
	mock.CustomMatch(func(expected, actual []interface{}) error {
		if len(actual) < 2 || actual[1] != key {
			return errors.New("unexpected key")
		}
		return nil
	}).ExpectSet(key, nil, time.Minute).SetVal("OK")

	rec := httptest.NewRecorder()
	h.Cohort(rec, request(http.MethodGet, "/api/admin/cohort?program=reset-90", "", 99))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first cohortResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.Cached)
	assert.Equal(t, 1, fs.cohortCalls)

	rep, err := cohort.NewAggregator().Aggregate(context.Background(), mustRows(t, fs), day(2026, 4, 10))
	require.NoError(t, err)
	b, err := json.Marshal(rep)
	require.NoError(t, err)
	mock.ExpectGet(key).SetVal(string(b))

	rec = httptest.NewRecorder()
	h.Cohort(rec, request(http.MethodGet, "/api/admin/cohort?program=reset-90", "", 99))
	require.Equal(t, http.StatusOK, rec.Code)
	var second cohortResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, rep.ID.String(), second.ReportID)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Leaderboard, second.Leaderboard)
	assert.Equal(t, 2, fs.cohortCalls, "only mustRows touched the store again")

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportCache.WithLabelValues("miss")))
}

func TestAdmin_CohortCacheFailureFallsBack(t *testing.T) {
	fs := cohortStore(t)
	client, mock := redismock.NewClientMock()
	h := NewAdminHandler(fs, cohort.NewAggregator(), cache.NewReportCache(client, time.Minute), nil, nil)
	h.now = fixedNow

	mock.ExpectGet("vitalscore:cohort:reset-90:2026-04-09").SetErr(errors.New("connection refused"))
	rec := httptest.NewRecorder()
	h.Cohort(rec, request(http.MethodGet, "/api/admin/cohort?program=reset-90&as_of=2026-04-09", "", 99))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fs.cohortCalls)
}

func TestAdmin_CohortErrors(t *testing.T) {
	fs := cohortStore(t)
	h := NewAdminHandler(fs, cohort.NewAggregator(), nil, nil, nil)
	h.now = fixedNow

	rec := httptest.NewRecorder()
	h.Cohort(rec, request(http.MethodGet, "/api/admin/cohort", "", 99))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Cohort(rec, request(http.MethodGet, "/api/admin/cohort?program=reset-90&as_of=2026-13-01", "", 99))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fs.err = errors.New("db down")
	rec = httptest.NewRecorder()
	h.Cohort(rec, request(http.MethodGet, "/api/admin/cohort?program=reset-90", "", 99))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func mustRows(t *testing.T, fs *fakeStore) []cohort.Row {
	t.Helper()
	rows, err := fs.ListCohortRows(context.Background(), "reset-90", day(2026, 4, 10))
	require.NoError(t, err)
	return rows
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Healthz(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "database": "disabled"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Healthz(fakePinger{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status": "ok", "database": "ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Healthz(fakePinger{err: errors.New("refused")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
