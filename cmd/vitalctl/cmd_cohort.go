package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vitalscore/internal/cohort"
	"vitalscore/internal/config"
	"vitalscore/internal/store"
)

type cohortFile struct {
	Users []struct {
		UserID int `yaml:"user_id"`
		logFile `yaml:",inline"`
	} `yaml:"users"`
}

// rows converts the file's users. A user whose dates do not parse becomes a
// row carrying that error, so the rest of the cohort is still reported.
func (f cohortFile) rows() []cohort.Row {
	rows := make([]cohort.Row, 0, len(f.Users))
	for _, u := range f.Users {
		start, entries, err := u.toEntries()
		if err != nil {
			rows = append(rows, cohort.Row{UserID: u.UserID, Err: err})
			continue
		}
		for i := range entries {
			entries[i].UserID = u.UserID
		}
		rows = append(rows, cohort.Row{UserID: u.UserID, StartDate: start, Entries: entries})
	}
	return rows
}

type cohortOutput struct {
	ReportID    string                    `json:"report_id" yaml:"report_id"`
	AsOf        string                    `json:"as_of" yaml:"as_of"`
	Summary     cohort.Summary            `json:"summary" yaml:"summary"`
	Leaderboard []cohort.LeaderboardEntry `json:"leaderboard" yaml:"leaderboard"`
	Failures    map[int]string            `json:"failures,omitempty" yaml:"failures,omitempty"`
	Warnings    []string                  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func newCohortCmd(logger *zap.Logger) *cobra.Command {
	var file, program, asOfFlag string
	var top, workers int
	cmd := &cobra.Command{
		Use:   "cohort",
		Short: "Aggregate adherence for every user in a program",
		Long: `Aggregate adherence across a cohort. Rows come from --file when given,
otherwise from the database named by DATABASE_URL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, err := asOfOrToday(asOfFlag)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			var rows []cohort.Row
			if file != "" {
				var f cohortFile
				if err := decodeFile(file, &f); err != nil {
					return err
				}
				rows = f.rows()
			} else {
				if rows, err = loadCohortRows(ctx, program, asOf); err != nil {
					return err
				}
			}

			agg := cohort.NewAggregator(cohort.WithWorkers(workers), cohort.WithLogger(logger.Named("cohort")))
			rep, err := agg.Aggregate(ctx, rows, asOf)
			if err != nil {
				return err
			}
			out := cohortOutput{
				ReportID:    rep.ID.String(),
				AsOf:        rep.AsOf,
				Summary:     rep.Summary,
				Leaderboard: rep.Leaderboard(top),
				Warnings:    rep.Warnings,
			}
			for id, res := range rep.PerUser {
				if !res.OK() {
					if out.Failures == nil {
						out.Failures = map[int]string{}
					}
					out.Failures[id] = res.Error
				}
			}
			return render(cmd, out)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Cohort file (YAML or JSON)")
	cmd.Flags().StringVar(&program, "program", "", "Program to aggregate from the database")
	cmd.Flags().StringVar(&asOfFlag, "as-of", "", "Evaluation date YYYY-MM-DD (default: today UTC)")
	cmd.Flags().IntVar(&top, "top", 10, "Leaderboard size (0 for everyone)")
	cmd.Flags().IntVar(&workers, "workers", cohort.DefaultWorkers, "Concurrent workers")
	return cmd
}

func loadCohortRows(ctx context.Context, program string, asOf time.Time) ([]cohort.Row, error) {
	if program == "" {
		return nil, errors.New("--program is required without --file")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	sealer, err := cfg.NotesSealer()
	if err != nil {
		return nil, err
	}
	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer db.Close()
	return store.New(db).WithNotesSealer(sealer).ListCohortRows(ctx, program, asOf)
}
