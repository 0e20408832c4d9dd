package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS assessments (
    id SERIAL PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    age NUMERIC NOT NULL,
    weight_kg NUMERIC NOT NULL,
    height_cm NUMERIC NOT NULL,
    sleep_hours NUMERIC,
    alcohol_units NUMERIC,
    nicotine TEXT NOT NULL DEFAULT '',
    libido TEXT NOT NULL DEFAULT '',
    morning_erection TEXT NOT NULL DEFAULT '',
    morning_energy TEXT NOT NULL DEFAULT '',
    mood TEXT NOT NULL DEFAULT '',
    training_frequency TEXT NOT NULL DEFAULT '',
    recovery_speed TEXT NOT NULL DEFAULT '',
    supplements TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS assessments_user_created_idx ON assessments (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS program_enrollments (
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    program TEXT NOT NULL,
    start_date DATE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, program)
);

CREATE TABLE IF NOT EXISTS daily_logs (
    id SERIAL PRIMARY KEY,
    user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    program TEXT NOT NULL,
    log_date DATE NOT NULL,
    feeling_score INTEGER CHECK (feeling_score BETWEEN 1 AND 10),
    energy_score INTEGER CHECK (energy_score BETWEEN 1 AND 10),
    compliance_pct INTEGER CHECK (compliance_pct BETWEEN 0 AND 100),
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(user_id, program, log_date)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	alters := `
DO $$ BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns WHERE table_name='users' AND column_name='is_admin'
    ) THEN
        ALTER TABLE users ADD COLUMN is_admin BOOLEAN NOT NULL DEFAULT false;
    END IF;
END $$;`
	_, err := db.ExecContext(ctx, alters)
	return err
}
