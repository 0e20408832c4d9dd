package models

import "time"

// AssessmentInput is one completed questionnaire after normalization.
// Categorical fields hold lower_snake_case bucket keys; an empty string means
// the question was not answered. SleepHours and AlcoholUnitsPerWeek are nil
// when missing or unparsable.
type AssessmentInput struct {
	Age                 float64  `db:"age" json:"age" yaml:"age"`
	WeightKg            float64  `db:"weight_kg" json:"weight_kg" yaml:"weight_kg"`
	HeightCm            float64  `db:"height_cm" json:"height_cm" yaml:"height_cm"`
	SleepHours          *float64 `db:"sleep_hours" json:"sleep_hours,omitempty" yaml:"sleep_hours"`
	AlcoholUnitsPerWeek *float64 `db:"alcohol_units" json:"alcohol_units_per_week,omitempty" yaml:"alcohol_units_per_week"`
	Nicotine            string   `db:"nicotine" json:"nicotine" yaml:"nicotine"`
	Libido              string   `db:"libido" json:"libido" yaml:"libido"`
	MorningErection     string   `db:"morning_erection" json:"morning_erection" yaml:"morning_erection"`
	MorningEnergy       string   `db:"morning_energy" json:"morning_energy" yaml:"morning_energy"`
	Mood                string   `db:"mood" json:"mood" yaml:"mood"`
	TrainingFrequency   string   `db:"training_frequency" json:"training_frequency" yaml:"training_frequency"`
	RecoverySpeed       string   `db:"recovery_speed" json:"recovery_speed" yaml:"recovery_speed"`
	Supplements         string   `db:"supplements" json:"supplements" yaml:"supplements"`
}

// Assessment is a stored questionnaire submission.
type Assessment struct {
	ID        int       `db:"id" json:"id"`
	UserID    int       `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	AssessmentInput
}

// DailyLogEntry is one check-in for one user and program on one calendar day.
// Date is always UTC midnight.
type DailyLogEntry struct {
	UserID        int       `db:"user_id" json:"user_id" yaml:"user_id"`
	Program       string    `db:"program" json:"program" yaml:"program"`
	Date          time.Time `db:"log_date" json:"date" yaml:"date"`
	FeelingScore  *int      `db:"feeling_score" json:"feeling_score,omitempty" yaml:"feeling_score"`
	EnergyScore   *int      `db:"energy_score" json:"energy_score,omitempty" yaml:"energy_score"`
	CompliancePct *int      `db:"compliance_pct" json:"compliance_pct,omitempty" yaml:"compliance_pct"`
	Notes         string    `db:"notes" json:"notes,omitempty" yaml:"notes"`
}

type ProgramEnrollment struct {
	UserID    int        `db:"user_id" json:"user_id"`
	Program   string     `db:"program" json:"program"`
	StartDate *time.Time `db:"start_date" json:"start_date,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
