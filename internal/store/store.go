// Package store reads and writes the records the scoring and adherence
// engines consume.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"vitalscore/internal/cohort"
	"vitalscore/internal/crypto"
	"vitalscore/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db    *sqlx.DB
	notes *crypto.Sealer
}

func New(db *sqlx.DB) *Store { return &Store{db: db} }

// WithNotesSealer encrypts check-in notes at rest. A nil sealer stores them
// as plaintext.
func (s *Store) WithNotesSealer(n *crypto.Sealer) *Store {
	s.notes = n
	return s
}

func (s *Store) openNotes(logs []models.DailyLogEntry) error {
	for i := range logs {
		notes, err := s.notes.Open(logs[i].Notes)
		if err != nil {
			return fmt.Errorf("daily log %s: %w", logs[i].Date.Format("2006-01-02"), err)
		}
		logs[i].Notes = notes
	}
	return nil
}

// IsAdmin reports whether the user has the admin flag. Unknown users are not
// admins.
func (s *Store) IsAdmin(ctx context.Context, userID int) (bool, error) {
	var isAdmin bool
	if err := s.db.QueryRowxContext(ctx, `SELECT is_admin FROM users WHERE id=$1`, userID).Scan(&isAdmin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return isAdmin, nil
}

func (s *Store) SaveAssessment(ctx context.Context, userID int, in models.AssessmentInput) (int, error) {
	var id int
	err := s.db.QueryRowxContext(ctx, `INSERT INTO assessments
		(user_id, age, weight_kg, height_cm, sleep_hours, alcohol_units, nicotine, libido,
		 morning_erection, morning_energy, mood, training_frequency, recovery_speed, supplements)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		userID, in.Age, in.WeightKg, in.HeightCm, in.SleepHours, in.AlcoholUnitsPerWeek, in.Nicotine, in.Libido,
		in.MorningErection, in.MorningEnergy, in.Mood, in.TrainingFrequency, in.RecoverySpeed, in.Supplements,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save assessment: %w", err)
	}
	return id, nil
}

func (s *Store) LatestAssessment(ctx context.Context, userID int) (models.Assessment, error) {
	var a models.Assessment
	err := s.db.GetContext(ctx, &a, `SELECT id, user_id, created_at, age, weight_kg, height_cm, sleep_hours,
		alcohol_units, nicotine, libido, morning_erection, morning_energy, mood, training_frequency,
		recovery_speed, supplements
		FROM assessments WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, fmt.Errorf("latest assessment: %w", err)
	}
	return a, nil
}

// UpsertDailyLog creates the check-in for the entry's day or replaces it.
// It reports whether a new row was inserted.
func (s *Store) UpsertDailyLog(ctx context.Context, e models.DailyLogEntry) (bool, error) {
	notes, err := s.notes.Seal(e.Notes)
	if err != nil {
		return false, fmt.Errorf("seal notes: %w", err)
	}
	var inserted bool
	err = s.db.QueryRowxContext(ctx, `INSERT INTO daily_logs
		(user_id, program, log_date, feeling_score, energy_score, compliance_pct, notes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id, program, log_date)
		DO UPDATE SET
			feeling_score = EXCLUDED.feeling_score,
			energy_score = EXCLUDED.energy_score,
			compliance_pct = EXCLUDED.compliance_pct,
			notes = EXCLUDED.notes,
			updated_at = NOW()
		RETURNING (xmax = 0)`,
		e.UserID, e.Program, e.Date, e.FeelingScore, e.EnergyScore, e.CompliancePct, notes,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert daily log: %w", err)
	}
	return inserted, nil
}

func (s *Store) DeleteDailyLog(ctx context.Context, userID int, program string, date time.Time) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM daily_logs WHERE user_id=$1 AND program=$2 AND log_date=$3`,
		userID, program, date)
	if err != nil {
		return fmt.Errorf("delete daily log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDailyLogs returns a user's check-ins for a program, newest first.
// from and to are inclusive and optional.
func (s *Store) ListDailyLogs(ctx context.Context, userID int, program string, from, to *time.Time) ([]models.DailyLogEntry, error) {
	where := "WHERE user_id=$1 AND program=$2"
	args := []interface{}{userID, program}
	if from != nil {
		args = append(args, *from)
		where += fmt.Sprintf(" AND log_date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		where += fmt.Sprintf(" AND log_date <= $%d", len(args))
	}

	out := []models.DailyLogEntry{}
	query := "SELECT user_id, program, log_date, feeling_score, energy_score, compliance_pct, notes FROM daily_logs " +
		where + " ORDER BY log_date DESC"
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list daily logs: %w", err)
	}
	if err := s.openNotes(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Enroll starts a program for the user. Re-enrolling keeps the original
// start date unless start is set.
func (s *Store) Enroll(ctx context.Context, userID int, program string, start *time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO program_enrollments (user_id, program, start_date)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, program)
		DO UPDATE SET start_date = COALESCE(EXCLUDED.start_date, program_enrollments.start_date)`,
		userID, program, start)
	if err != nil {
		return fmt.Errorf("enroll: %w", err)
	}
	return nil
}

func (s *Store) GetEnrollment(ctx context.Context, userID int, program string) (models.ProgramEnrollment, error) {
	var e models.ProgramEnrollment
	err := s.db.GetContext(ctx, &e, `SELECT user_id, program, start_date, created_at
		FROM program_enrollments WHERE user_id=$1 AND program=$2`, userID, program)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

// ListCohortRows loads every enrollment in a program together with its
// check-ins up to asOf, ordered by user id.
func (s *Store) ListCohortRows(ctx context.Context, program string, asOf time.Time) ([]cohort.Row, error) {
	var enrollments []models.ProgramEnrollment
	if err := s.db.SelectContext(ctx, &enrollments, `SELECT user_id, program, start_date, created_at
		FROM program_enrollments WHERE program=$1 ORDER BY user_id`, program); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}

	// Notes are not needed for adherence and are left unread.
	var logs []models.DailyLogEntry
	if err := s.db.SelectContext(ctx, &logs, `SELECT user_id, program, log_date, feeling_score, energy_score, compliance_pct
		FROM daily_logs WHERE program=$1 AND log_date <= $2 ORDER BY user_id, log_date DESC`, program, asOf); err != nil {
		return nil, fmt.Errorf("list cohort logs: %w", err)
	}

	byUser := make(map[int][]models.DailyLogEntry, len(enrollments))
	for _, l := range logs {
		byUser[l.UserID] = append(byUser[l.UserID], l)
	}
	rows := make([]cohort.Row, 0, len(enrollments))
	for _, e := range enrollments {
		rows = append(rows, cohort.Row{UserID: e.UserID, StartDate: e.StartDate, Entries: byUser[e.UserID]})
	}
	return rows, nil
}
