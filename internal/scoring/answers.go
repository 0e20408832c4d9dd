package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"vitalscore/internal/models"
)

// ErrValidation matches any *ValidationError via errors.Is.
var ErrValidation = errors.New("invalid assessment")

// ValidationError reports a structurally invalid questionnaire.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid assessment: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Answer is a questionnaire answer as submitted. Forms send strings, API
// clients often send bare numbers; both decode to the same text.
type Answer string

func (a *Answer) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*a = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*a = Answer(v)
	case strings.HasPrefix(s, "{"), strings.HasPrefix(s, "["):
		return fmt.Errorf("answer must be a string or number")
	default:
		*a = Answer(s)
	}
	return nil
}

func (a *Answer) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("answer must be a scalar, line %d", n.Line)
	}
	if n.Tag == "!!null" {
		*a = ""
		return nil
	}
	*a = Answer(n.Value)
	return nil
}

// RawAnswers is the questionnaire exactly as captured from the form.
type RawAnswers struct {
	Age                 Answer `json:"age" yaml:"age"`
	Weight              Answer `json:"weight" yaml:"weight"`
	Height              Answer `json:"height" yaml:"height"`
	SleepHours          Answer `json:"sleep_hours" yaml:"sleep_hours"`
	AlcoholUnitsPerWeek Answer `json:"alcohol_units_per_week" yaml:"alcohol_units_per_week"`
	Nicotine            Answer `json:"nicotine" yaml:"nicotine"`
	Libido              Answer `json:"libido" yaml:"libido"`
	MorningErection     Answer `json:"morning_erection" yaml:"morning_erection"`
	MorningEnergy       Answer `json:"morning_energy" yaml:"morning_energy"`
	Mood                Answer `json:"mood" yaml:"mood"`
	TrainingFrequency   Answer `json:"training_frequency" yaml:"training_frequency"`
	RecoverySpeed       Answer `json:"recovery_speed" yaml:"recovery_speed"`
	Supplements         Answer `json:"supplements" yaml:"supplements"`
}

var keyAliases = map[string]string{
	"verylow":      "very_low",
	"veryslow":     "very_slow",
	"1_2_per_week": "1_2",
	"1_2x":         "1_2",
	"3_4_per_week": "3_4",
	"3_4x":         "3_4",
	"5+":           "5_plus",
	"5":            "5_plus",
	"no":           "none",
}

// Normalize validates the numeric answers and canonicalizes categorical
// ones. Categorical values are not checked against the policy here; the
// engine scores unknown values as zero points.
func Normalize(raw RawAnswers) (models.AssessmentInput, error) {
	var in models.AssessmentInput
	var err error
	if in.Age, err = requiredNumber("age", raw.Age, 18, 120); err != nil {
		return in, err
	}
	if in.WeightKg, err = requiredNumber("weight", raw.Weight, 20, 400); err != nil {
		return in, err
	}
	if in.HeightCm, err = requiredNumber("height", raw.Height, 100, 250); err != nil {
		return in, err
	}
	in.SleepHours = optionalNumber(raw.SleepHours, 24)
	in.AlcoholUnitsPerWeek = optionalNumber(raw.AlcoholUnitsPerWeek, 500)
	in.Nicotine = normalizeKey(raw.Nicotine)
	in.Libido = normalizeKey(raw.Libido)
	in.MorningErection = normalizeKey(raw.MorningErection)
	in.MorningEnergy = normalizeKey(raw.MorningEnergy)
	in.Mood = normalizeKey(raw.Mood)
	in.TrainingFrequency = normalizeKey(raw.TrainingFrequency)
	in.RecoverySpeed = normalizeKey(raw.RecoverySpeed)
	in.Supplements = normalizeKey(raw.Supplements)
	return in, nil
}

func parseNumber(a Answer) (float64, bool) {
	s := strings.TrimSpace(strings.ReplaceAll(string(a), ",", "."))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func requiredNumber(field string, a Answer, lo, hi float64) (float64, error) {
	if strings.TrimSpace(string(a)) == "" {
		return 0, &ValidationError{Field: field, Reason: "is required"}
	}
	v, ok := parseNumber(a)
	if !ok {
		return 0, &ValidationError{Field: field, Reason: "must be numeric"}
	}
	if v < lo || v > hi {
		return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("must be between %g and %g", lo, hi)}
	}
	return v, nil
}

// optionalNumber returns nil for missing, unparsable or out-of-range values.
func optionalNumber(a Answer, hi float64) *float64 {
	v, ok := parseNumber(a)
	if !ok || v < 0 || v > hi {
		return nil
	}
	return &v
}

func normalizeKey(a Answer) string {
	s := strings.ToLower(strings.TrimSpace(string(a)))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if alias, ok := keyAliases[s]; ok {
		return alias
	}
	return s
}
