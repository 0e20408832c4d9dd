package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vitalscore/internal/adherence"
	"vitalscore/internal/models"
)

type logFile struct {
	StartDate string     `yaml:"start_date"`
	Entries   []logEntry `yaml:"entries"`
}

type logEntry struct {
	Date          string `yaml:"date"`
	FeelingScore  *int   `yaml:"feeling_score"`
	EnergyScore   *int   `yaml:"energy_score"`
	CompliancePct *int   `yaml:"compliance_pct"`
	Notes         string `yaml:"notes"`
}

// toEntries parses the file's dates. An empty start_date means the program
// has not started.
func (f logFile) toEntries() (*time.Time, []models.DailyLogEntry, error) {
	var start *time.Time
	if f.StartDate != "" {
		d, err := adherence.ParseDate("start_date", f.StartDate)
		if err != nil {
			return nil, nil, err
		}
		start = &d
	}
	entries := make([]models.DailyLogEntry, 0, len(f.Entries))
	for i, e := range f.Entries {
		d, err := adherence.ParseDate(fmt.Sprintf("entries[%d].date", i), e.Date)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, models.DailyLogEntry{
			Date:          d,
			FeelingScore:  e.FeelingScore,
			EnergyScore:   e.EnergyScore,
			CompliancePct: e.CompliancePct,
			Notes:         e.Notes,
		})
	}
	return start, entries, nil
}

type adherenceOutput struct {
	AsOf  string                `json:"as_of" yaml:"as_of"`
	State adherence.StreakState `json:"state" yaml:"state"`
	Trend []adherence.DayMark   `json:"trend" yaml:"trend"`
}

func newAdherenceCmd(logger *zap.Logger) *cobra.Command {
	var file, asOfFlag string
	var days int
	cmd := &cobra.Command{
		Use:   "adherence",
		Short: "Compute streaks and compliance for a check-in file",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, err := asOfOrToday(asOfFlag)
			if err != nil {
				return err
			}
			var f logFile
			if err := decodeFile(file, &f); err != nil {
				return err
			}
			start, entries, err := f.toEntries()
			if err != nil {
				return err
			}
			st, err := adherence.Compute(entries, start, asOf)
			if err != nil {
				return err
			}
			logger.Debug("adherence computed", zap.String("file", file), zap.Int("current_streak", st.CurrentStreak))
			return render(cmd, adherenceOutput{
				AsOf:  asOf.Format(adherence.DateLayout),
				State: st,
				Trend: adherence.Window(entries, asOf, days),
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Check-in file (YAML or JSON)")
	cmd.Flags().StringVar(&asOfFlag, "as-of", "", "Evaluation date YYYY-MM-DD (default: today UTC)")
	cmd.Flags().IntVar(&days, "trend-days", 7, "Days of trend to print")
	cmd.MarkFlagRequired("file")
	return cmd
}

func asOfOrToday(s string) (time.Time, error) {
	if s == "" {
		return adherence.Day(time.Now().UTC()), nil
	}
	return adherence.ParseDate("as-of", s)
}
