package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func newRootCmd(logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "vitalctl",
		Short: "Score questionnaires and compute program adherence offline",
		Long: `vitalctl runs the scoring and adherence engines against local files
or the configured database.

Examples:
  vitalctl score --file answers.yaml
  vitalctl adherence --file logs.yaml --as-of 2026-04-10
  vitalctl cohort --program reset-90 --top 5`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("format", "json", "Output format (json|yaml)")
	root.AddCommand(newScoreCmd(logger), newAdherenceCmd(logger), newCohortCmd(logger))
	return root
}

// render writes v to the command's output in the --format encoding.
func render(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("format")
	return encode(cmd.OutOrStdout(), format, v)
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// decodeFile reads a YAML or JSON document into v.
func decodeFile(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}
