package scoring

import (
	"math"
	"strconv"

	"go.uber.org/zap"

	"vitalscore/internal/models"
)

type HormoneClass string

const (
	HormoneLow    HormoneClass = "low"
	HormoneNormal HormoneClass = "normal"
	HormoneHigh   HormoneClass = "high"
)

type HormoneEstimate struct {
	Value float64      `json:"value"`
	Class HormoneClass `json:"class"`
}

// Contribution is one triggered rule. Every contribution has exactly one
// matching entry in Result.RiskFactors.
type Contribution struct {
	Field  string `json:"field"`
	Bucket string `json:"bucket"`
	Points int    `json:"points"`
	Label  string `json:"label"`
}

type Result struct {
	TotalScore            int             `json:"total_score"`
	RawScore              int             `json:"raw_score"`
	Level                 Level           `json:"level"`
	RecommendedTier       Tier            `json:"recommended_tier"`
	RiskFactors           []string        `json:"risk_factors"`
	TopIssues             []string        `json:"top_issues"`
	Breakdown             []Contribution  `json:"breakdown"`
	EstimatedHormoneValue HormoneEstimate `json:"estimated_hormone_value"`
	BMI                   float64         `json:"bmi"`
}

// Engine scores normalized questionnaires against a Policy. It is safe for
// concurrent use.
type Engine struct {
	policy Policy
	logger *zap.Logger
	topSet map[string]bool
}

func NewEngine(p Policy, logger *zap.Logger) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	top := make(map[string]bool, len(p.TopIssueFields))
	for _, f := range p.TopIssueFields {
		top[f] = true
	}
	return &Engine{policy: p, logger: logger, topSet: top}, nil
}

var defaultEngine, _ = NewEngine(DefaultPolicy(), nil)

// ScoreAssessment normalizes raw answers and scores them with the default
// policy.
func ScoreAssessment(raw RawAnswers) (Result, error) {
	return defaultEngine.ScoreAnswers(raw)
}

func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) ScoreAnswers(raw RawAnswers) (Result, error) {
	in, err := Normalize(raw)
	if err != nil {
		return Result{}, err
	}
	return e.Score(in), nil
}

// Score applies the additive rules in a fixed order. Missing or unknown
// answers score zero points and are logged at debug level, except nicotine:
// any answer other than "none" counts as use.
func (e *Engine) Score(in models.AssessmentInput) Result {
	p := e.policy
	var hits []Contribution

	categorical := func(field, value string, table map[string]Bucket) {
		b, ok := table[value]
		if !ok && field == FieldNicotine && value != "" && value != "none" {
			b, ok = p.NicotineOther, true
		}
		if !ok {
			e.logger.Debug("unrecognized answer scored as lowest risk",
				zap.String("field", field), zap.String("value", value))
			return
		}
		if b.Points > 0 {
			hits = append(hits, Contribution{Field: field, Bucket: value, Points: b.Points, Label: b.Label})
		}
	}
	numeric := func(field string, v *float64, cutoffs []Cutoff, below bool) {
		if v == nil {
			e.logger.Debug("missing numeric answer scored as lowest risk", zap.String("field", field))
			return
		}
		for _, c := range cutoffs {
			op, crossed := ">", *v > c.Limit
			if below {
				op, crossed = "<", *v < c.Limit
			}
			if !crossed {
				continue
			}
			if c.Points > 0 {
				bucket := op + strconv.FormatFloat(c.Limit, 'g', -1, 64)
				hits = append(hits, Contribution{Field: field, Bucket: bucket, Points: c.Points, Label: c.Label})
			}
			return
		}
	}

	categorical(FieldLibido, in.Libido, p.Libido)
	categorical(FieldMorningErection, in.MorningErection, p.MorningErection)
	categorical(FieldMorningEnergy, in.MorningEnergy, p.MorningEnergy)
	numeric(FieldSleep, in.SleepHours, p.SleepBelow, true)
	numeric(FieldAlcohol, in.AlcoholUnitsPerWeek, p.AlcoholAbove, false)
	categorical(FieldNicotine, in.Nicotine, p.Nicotine)
	categorical(FieldMood, in.Mood, p.Mood)
	categorical(FieldTrainingFrequency, in.TrainingFrequency, p.TrainingFrequency)
	categorical(FieldRecoverySpeed, in.RecoverySpeed, p.RecoverySpeed)

	res := Result{
		RiskFactors: make([]string, 0, len(hits)),
		TopIssues:   []string{},
		Breakdown:   hits,
	}
	if res.Breakdown == nil {
		res.Breakdown = []Contribution{}
	}
	for _, h := range hits {
		res.RawScore += h.Points
		res.RiskFactors = append(res.RiskFactors, h.Label)
		// Evaluation order, not weight order.
		if e.topSet[h.Field] && len(res.TopIssues) < p.TopIssuesLimit {
			res.TopIssues = append(res.TopIssues, h.Label)
		}
	}
	res.TotalScore = min(res.RawScore, p.Thresholds.MaxScore)
	res.Level = p.Thresholds.Level(res.TotalScore)
	res.RecommendedTier = p.Thresholds.Tier(res.TotalScore)
	res.EstimatedHormoneValue = e.estimateHormone(res.TotalScore)
	res.BMI = bmi(in.WeightKg, in.HeightCm)
	return res
}

func (e *Engine) estimateHormone(score int) HormoneEstimate {
	h := e.policy.Hormone
	capped := min(score, e.policy.Thresholds.MaxScore)
	v := round1(h.Base - float64(capped)*h.PerPoint)
	class := HormoneNormal
	switch {
	case v < h.LowBelow:
		class = HormoneLow
	case v > h.HighAbove:
		class = HormoneHigh
	}
	return HormoneEstimate{Value: v, Class: class}
}

func bmi(weightKg, heightCm float64) float64 {
	if weightKg <= 0 || heightCm <= 0 {
		return 0
	}
	m := heightCm / 100
	return round1(weightKg / (m * m))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
