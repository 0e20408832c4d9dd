package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vitalscore/internal/scoring"
)

func newScoreCmd(logger *zap.Logger) *cobra.Command {
	var file, policyFile string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a questionnaire file",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := scoring.DefaultPolicy()
			if policyFile != "" {
				p, err := scoring.LoadPolicy(policyFile)
				if err != nil {
					return err
				}
				policy = p
			}
			engine, err := scoring.NewEngine(policy, logger.Named("scoring"))
			if err != nil {
				return err
			}

			var raw scoring.RawAnswers
			if err := decodeFile(file, &raw); err != nil {
				return err
			}
			res, err := engine.ScoreAnswers(raw)
			if err != nil {
				return fmt.Errorf("score %s: %w", file, err)
			}
			logger.Debug("scored", zap.String("file", file), zap.Int("total", res.TotalScore), zap.String("level", string(res.Level)))
			return render(cmd, res)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Answers file (YAML or JSON)")
	cmd.Flags().StringVar(&policyFile, "policy", "", "Scoring policy override file")
	cmd.MarkFlagRequired("file")
	return cmd
}
