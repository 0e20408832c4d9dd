// Package cohort runs the adherence engine across many users and summarizes
// the results for reporting.
package cohort

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vitalscore/internal/adherence"
	"vitalscore/internal/metrics"
	"vitalscore/internal/models"
)

const DefaultWorkers = 8

// Row is one enrolled user with their check-ins, already fetched. Err marks
// a row that could not be loaded; it is reported for that user only.
type Row struct {
	UserID    int
	StartDate *time.Time
	Entries   []models.DailyLogEntry
	Err       error
}

// UserResult carries either a state or the error that prevented computing it.
type UserResult struct {
	UserID int                   `json:"user_id"`
	State  adherence.StreakState `json:"state"`
	Err    error                 `json:"-"`
	Error  string                `json:"error,omitempty"`
}

func (r UserResult) OK() bool { return r.Err == nil && r.Error == "" }

type Summary struct {
	Users             int     `json:"users"`
	Succeeded         int     `json:"succeeded"`
	Failed            int     `json:"failed"`
	MeanCompliance    float64 `json:"mean_compliance"`
	MeanCurrentStreak float64 `json:"mean_current_streak"`
	MeanLongestStreak float64 `json:"mean_longest_streak"`
}

type Report struct {
	ID      uuid.UUID          `json:"id"`
	AsOf    string             `json:"as_of"`
	PerUser map[int]UserResult `json:"per_user"`
	Summary Summary            `json:"summary"`
	// Ranking holds successful users only: compliance rate descending, then
	// current streak descending, then input order.
	Ranking  []int    `json:"ranking"`
	Warnings []string `json:"warnings,omitempty"`
}

type LeaderboardEntry struct {
	Rank           int `json:"rank"`
	UserID         int `json:"user_id"`
	ComplianceRate int `json:"compliance_rate"`
	CurrentStreak  int `json:"current_streak"`
	LongestStreak  int `json:"longest_streak"`
}

// Leaderboard returns the top n ranked users; n <= 0 returns all of them.
func (r *Report) Leaderboard(n int) []LeaderboardEntry {
	if n <= 0 || n > len(r.Ranking) {
		n = len(r.Ranking)
	}
	out := make([]LeaderboardEntry, 0, n)
	for i, id := range r.Ranking[:n] {
		st := r.PerUser[id].State
		out = append(out, LeaderboardEntry{
			Rank:           i + 1,
			UserID:         id,
			ComplianceRate: st.ComplianceRate,
			CurrentStreak:  st.CurrentStreak,
			LongestStreak:  st.LongestStreak,
		})
	}
	return out
}

type Aggregator struct {
	workers int
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Aggregator)

func WithWorkers(n int) Option { return func(a *Aggregator) { a.workers = n } }

// WithTimeout bounds a whole Aggregate call.
func WithTimeout(d time.Duration) Option { return func(a *Aggregator) { a.timeout = d } }

func WithLogger(l *zap.Logger) Option { return func(a *Aggregator) { a.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Aggregator) { a.metrics = m } }

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{workers: DefaultWorkers}
	for _, o := range opts {
		o(a)
	}
	if a.workers <= 0 {
		a.workers = DefaultWorkers
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// Aggregate computes every row's adherence on a bounded pool of workers. A
// row that fails is reported in PerUser with its error and does not stop the
// batch. When a user appears more than once the first row wins and the rest
// are listed in Report.Warnings. The only error returned is the context
// ending before all rows finished.
func (a *Aggregator) Aggregate(ctx context.Context, rows []Row, asOf time.Time) (*Report, error) {
	started := time.Now()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	rows, warnings := dedupeRows(rows)

	results := make([]UserResult, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, row := range rows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var st adherence.StreakState
			err := row.Err
			if err == nil {
				st, err = adherence.Compute(row.Entries, row.StartDate, asOf)
			}
			res := UserResult{UserID: row.UserID, State: st, Err: err}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregate cohort: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregate cohort: %w", err)
	}

	rep := buildReport(results, asOf)
	rep.Warnings = warnings
	for _, w := range warnings {
		a.logger.Warn("cohort row skipped", zap.String("reason", w))
	}
	for _, r := range results {
		a.metrics.Adherence(r.Err)
		if r.Err != nil {
			a.logger.Warn("cohort row failed", zap.Int("user_id", r.UserID), zap.Error(r.Err))
		}
	}
	a.metrics.Cohort(time.Since(started), rep.Summary.Failed)
	a.logger.Info("cohort aggregated",
		zap.String("report_id", rep.ID.String()),
		zap.String("as_of", rep.AsOf),
		zap.Int("users", rep.Summary.Users),
		zap.Int("failed", rep.Summary.Failed),
		zap.Duration("duration", time.Since(started)),
	)
	return rep, nil
}

func dedupeRows(rows []Row) ([]Row, []string) {
	seen := make(map[int]struct{}, len(rows))
	out := rows[:0:0]
	var warnings []string
	for _, r := range rows {
		if _, dup := seen[r.UserID]; dup {
			warnings = append(warnings, fmt.Sprintf("user %d appears more than once; extra row ignored", r.UserID))
			continue
		}
		seen[r.UserID] = struct{}{}
		out = append(out, r)
	}
	return out, warnings
}

func buildReport(results []UserResult, asOf time.Time) *Report {
	rep := &Report{
		ID:      uuid.New(),
		AsOf:    adherence.Day(asOf).Format(adherence.DateLayout),
		PerUser: make(map[int]UserResult, len(results)),
		Summary: Summary{Users: len(results)},
		Ranking: []int{},
	}
	ok := make([]UserResult, 0, len(results))
	var compliance, current, longest int
	for _, r := range results {
		rep.PerUser[r.UserID] = r
		if !r.OK() {
			rep.Summary.Failed++
			continue
		}
		ok = append(ok, r)
		compliance += r.State.ComplianceRate
		current += r.State.CurrentStreak
		longest += r.State.LongestStreak
	}
	rep.Summary.Succeeded = len(ok)
	if n := float64(len(ok)); n > 0 {
		rep.Summary.MeanCompliance = round2(float64(compliance) / n)
		rep.Summary.MeanCurrentStreak = round2(float64(current) / n)
		rep.Summary.MeanLongestStreak = round2(float64(longest) / n)
	}

	sort.SliceStable(ok, func(i, j int) bool {
		a, b := ok[i].State, ok[j].State
		if a.ComplianceRate != b.ComplianceRate {
			return a.ComplianceRate > b.ComplianceRate
		}
		return a.CurrentStreak > b.CurrentStreak
	})
	for _, r := range ok {
		rep.Ranking = append(rep.Ranking, r.UserID)
	}
	return rep
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
