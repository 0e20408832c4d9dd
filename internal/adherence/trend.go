package adherence

import (
	"time"

	"vitalscore/internal/models"
)

type DayMark struct {
	Date          string `json:"date"`
	Logged        bool   `json:"logged"`
	FeelingScore  *int   `json:"feeling_score,omitempty"`
	EnergyScore   *int   `json:"energy_score,omitempty"`
	CompliancePct *int   `json:"compliance_pct,omitempty"`
}

// Window lists the n days ending at asOf, oldest first, marking the days
// that have a check-in. When a day has several entries the first one wins.
func Window(entries []models.DailyLogEntry, asOf time.Time, n int) []DayMark {
	if n <= 0 {
		return []DayMark{}
	}
	byDay := make(map[int64]models.DailyLogEntry, len(entries))
	for _, e := range entries {
		if e.Date.IsZero() {
			continue
		}
		k := Day(e.Date).Unix()
		if _, ok := byDay[k]; !ok {
			byDay[k] = e
		}
	}
	end := Day(asOf)
	out := make([]DayMark, 0, n)
	for i := n - 1; i >= 0; i-- {
		d := end.AddDate(0, 0, -i)
		m := DayMark{Date: d.Format(DateLayout)}
		if e, ok := byDay[d.Unix()]; ok {
			m.Logged = true
			m.FeelingScore = e.FeelingScore
			m.EnergyScore = e.EnergyScore
			m.CompliancePct = e.CompliancePct
		}
		out = append(out, m)
	}
	return out
}
