package scoring

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Questionnaire fields, in evaluation order.
const (
	FieldLibido            = "libido"
	FieldMorningErection   = "morning_erection"
	FieldMorningEnergy     = "morning_energy"
	FieldSleep             = "sleep_hours"
	FieldAlcohol           = "alcohol_units_per_week"
	FieldNicotine          = "nicotine"
	FieldMood              = "mood"
	FieldTrainingFrequency = "training_frequency"
	FieldRecoverySpeed     = "recovery_speed"
)

type Level string

const (
	LevelGood     Level = "good"
	LevelModerate Level = "moderate"
	LevelCritical Level = "critical"
)

type Tier string

const (
	TierDigital Tier = "digital"
	TierRegular Tier = "regular"
	TierPremium Tier = "premium"
)

// Bucket is one answer option and the points it contributes.
type Bucket struct {
	Points int    `yaml:"points" json:"points"`
	Label  string `yaml:"label" json:"label"`
}

// Cutoff scores a numeric answer that crosses Limit.
type Cutoff struct {
	Limit  float64 `yaml:"limit" json:"limit"`
	Points int     `yaml:"points" json:"points"`
	Label  string  `yaml:"label" json:"label"`
}

// Thresholds split a total score into three bands. Level and Tier are both
// derived from the band so they cannot drift apart.
type Thresholds struct {
	ModerateMin int `yaml:"moderate_min" json:"moderate_min"`
	CriticalMin int `yaml:"critical_min" json:"critical_min"`
	MaxScore    int `yaml:"max_score" json:"max_score"`
}

func (t Thresholds) band(score int) int {
	switch {
	case score >= t.CriticalMin:
		return 2
	case score >= t.ModerateMin:
		return 1
	default:
		return 0
	}
}

func (t Thresholds) Level(score int) Level {
	return [...]Level{LevelGood, LevelModerate, LevelCritical}[t.band(score)]
}

func (t Thresholds) Tier(score int) Tier {
	return [...]Tier{TierDigital, TierRegular, TierPremium}[t.band(score)]
}

// HormoneModel maps a total score to an estimated hormone value:
// value = Base - score*PerPoint, rounded to one decimal.
type HormoneModel struct {
	Base      float64 `yaml:"base" json:"base"`
	PerPoint  float64 `yaml:"per_point" json:"per_point"`
	LowBelow  float64 `yaml:"low_below" json:"low_below"`
	HighAbove float64 `yaml:"high_above" json:"high_above"`
}

// Policy holds every weight and threshold used by the engine.
type Policy struct {
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`

	Libido            map[string]Bucket `yaml:"libido" json:"libido"`
	MorningErection   map[string]Bucket `yaml:"morning_erection" json:"morning_erection"`
	MorningEnergy     map[string]Bucket `yaml:"morning_energy" json:"morning_energy"`
	Nicotine          map[string]Bucket `yaml:"nicotine" json:"nicotine"`
	Mood              map[string]Bucket `yaml:"mood" json:"mood"`
	TrainingFrequency map[string]Bucket `yaml:"training_frequency" json:"training_frequency"`
	RecoverySpeed     map[string]Bucket `yaml:"recovery_speed" json:"recovery_speed"`

	// NicotineOther scores any answered nicotine value that is neither
	// "none" nor listed in Nicotine.
	NicotineOther Bucket `yaml:"nicotine_other" json:"nicotine_other"`

	// Severity lists each categorical table's keys from worst to mildest.
	// Points must not increase along the list.
	Severity map[string][]string `yaml:"severity" json:"severity"`

	// SleepBelow is checked in order; the first cutoff with hours < Limit wins.
	SleepBelow []Cutoff `yaml:"sleep_below" json:"sleep_below"`
	// AlcoholAbove is checked in order; the first cutoff with units > Limit wins.
	AlcoholAbove []Cutoff `yaml:"alcohol_above" json:"alcohol_above"`

	TopIssueFields []string `yaml:"top_issue_fields" json:"top_issue_fields"`
	TopIssuesLimit int      `yaml:"top_issues_limit" json:"top_issues_limit"`

	Hormone HormoneModel `yaml:"hormone" json:"hormone"`
}

func DefaultPolicy() Policy {
	const nicotineLabel = "Nicotine use"
	return Policy{
		Thresholds: Thresholds{ModerateMin: 31, CriticalMin: 61, MaxScore: 100},
		Libido: map[string]Bucket{
			"very_low": {25, "Very low libido"},
			"low":      {15, "Low libido"},
			"normal":   {0, ""},
			"high":     {0, ""},
		},
		MorningErection: map[string]Bucket{
			"never":     {20, "No morning erections"},
			"rarely":    {10, "Rare morning erections"},
			"sometimes": {0, ""},
			"often":     {0, ""},
			"daily":     {0, ""},
		},
		MorningEnergy: map[string]Bucket{
			"very_low": {15, "Very low morning energy"},
			"low":      {10, "Low morning energy"},
			"moderate": {0, ""},
			"high":     {0, ""},
		},
		Nicotine: map[string]Bucket{
			"none":       {0, ""},
			"occasional": {5, nicotineLabel},
			"daily":      {5, nicotineLabel},
			"cigarettes": {5, nicotineLabel},
			"snus":       {5, nicotineLabel},
			"vape":       {5, nicotineLabel},
		},
		NicotineOther: Bucket{5, nicotineLabel},
		Mood: map[string]Bucket{
			"negative": {10, "Negative mood"},
			"variable": {5, "Variable mood"},
			"stable":   {0, ""},
			"positive": {0, ""},
		},
		TrainingFrequency: map[string]Bucket{
			"none":   {10, "No regular training"},
			"1_2":    {5, "Training only 1-2 times per week"},
			"3_4":    {0, ""},
			"5_plus": {0, ""},
		},
		RecoverySpeed: map[string]Bucket{
			"very_slow": {5, "Very slow recovery"},
			"slow":      {3, "Slow recovery"},
			"normal":    {0, ""},
			"fast":      {0, ""},
		},
		SleepBelow: []Cutoff{
			{Limit: 5, Points: 15, Label: "Sleeps less than 5 hours"},
			{Limit: 6.5, Points: 10, Label: "Sleeps less than 6.5 hours"},
		},
		AlcoholAbove: []Cutoff{
			{Limit: 14, Points: 10, Label: "More than 14 alcohol units per week"},
			{Limit: 7, Points: 5, Label: "More than 7 alcohol units per week"},
		},
		Severity: map[string][]string{
			FieldLibido:            {"very_low", "low", "normal", "high"},
			FieldMorningErection:   {"never", "rarely", "sometimes", "often", "daily"},
			FieldMorningEnergy:     {"very_low", "low", "moderate", "high"},
			FieldNicotine:          {"daily", "cigarettes", "snus", "vape", "occasional", "none"},
			FieldMood:              {"negative", "variable", "stable", "positive"},
			FieldTrainingFrequency: {"none", "1_2", "3_4", "5_plus"},
			FieldRecoverySpeed:     {"very_slow", "slow", "normal", "fast"},
		},
		TopIssueFields: []string{FieldLibido, FieldMorningErection, FieldMorningEnergy, FieldMood},
		TopIssuesLimit: 3,
		Hormone:        HormoneModel{Base: 28, PerPoint: 0.2, LowBelow: 12, HighAbove: 26},
	}
}

// LoadPolicy reads a YAML policy file. Fields the file omits keep their
// default values.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	t := p.Thresholds
	if t.ModerateMin <= 0 || t.CriticalMin <= t.ModerateMin || t.MaxScore < t.CriticalMin {
		return fmt.Errorf("policy: thresholds must satisfy 0 < moderate_min < critical_min <= max_score, got %d/%d/%d",
			t.ModerateMin, t.CriticalMin, t.MaxScore)
	}
	tables := map[string]map[string]Bucket{
		FieldLibido:            p.Libido,
		FieldMorningErection:   p.MorningErection,
		FieldMorningEnergy:     p.MorningEnergy,
		FieldNicotine:          p.Nicotine,
		FieldMood:              p.Mood,
		FieldTrainingFrequency: p.TrainingFrequency,
		FieldRecoverySpeed:     p.RecoverySpeed,
	}
	for _, field := range sortedKeys(tables) {
		for key, b := range tables[field] {
			if b.Points < 0 {
				return fmt.Errorf("policy: %s.%s has negative points", field, key)
			}
			if b.Points > 0 && b.Label == "" {
				return fmt.Errorf("policy: %s.%s scores points but has no label", field, key)
			}
		}
		if err := validateSeverity(field, tables[field], p.Severity[field]); err != nil {
			return err
		}
	}
	if b := p.NicotineOther; b.Points < 0 || (b.Points > 0 && b.Label == "") {
		return fmt.Errorf("policy: nicotine_other needs non-negative points and a label")
	}
	// Lower sleep and higher alcohol must never score fewer points.
	if err := validateCutoffs(FieldSleep, p.SleepBelow, func(prev, next float64) bool { return next > prev }); err != nil {
		return err
	}
	if err := validateCutoffs(FieldAlcohol, p.AlcoholAbove, func(prev, next float64) bool { return next < prev }); err != nil {
		return err
	}
	for _, f := range p.TopIssueFields {
		if _, ok := tables[f]; !ok && f != FieldSleep && f != FieldAlcohol {
			return fmt.Errorf("policy: unknown top issue field %q", f)
		}
	}
	if p.TopIssuesLimit < 0 {
		return fmt.Errorf("policy: top_issues_limit must not be negative")
	}
	return nil
}

// validateSeverity checks that order names every bucket of table once and
// that a worse bucket never scores fewer points than a milder one.
func validateSeverity(field string, table map[string]Bucket, order []string) error {
	if len(order) != len(table) {
		return fmt.Errorf("policy: severity.%s must list all %d buckets, got %d", field, len(table), len(order))
	}
	seen := make(map[string]bool, len(order))
	for i, key := range order {
		b, ok := table[key]
		if !ok || seen[key] {
			return fmt.Errorf("policy: severity.%s has unknown or repeated bucket %q", field, key)
		}
		seen[key] = true
		if i > 0 && b.Points > table[order[i-1]].Points {
			return fmt.Errorf("policy: %s.%s scores more than the worse bucket %s", field, key, order[i-1])
		}
	}
	return nil
}

func validateCutoffs(field string, cs []Cutoff, ordered func(prev, next float64) bool) error {
	for i, c := range cs {
		if c.Points < 0 {
			return fmt.Errorf("policy: %s cutoff %v has negative points", field, c.Limit)
		}
		if c.Points > 0 && c.Label == "" {
			return fmt.Errorf("policy: %s cutoff %v has no label", field, c.Limit)
		}
		if i == 0 {
			continue
		}
		prev := cs[i-1]
		if !ordered(prev.Limit, c.Limit) || c.Points > prev.Points {
			return fmt.Errorf("policy: %s cutoffs must go from most to least severe", field)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
