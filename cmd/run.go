package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AI-driven-ST-Foundation/agent/engine"
	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
	"github.com/AI-driven-ST-Foundation/agent/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario of do/check steps",
	Long: `Runs the steps of a scenario file in order. Each step is resolved against a
fresh page source. The run stops at the first failing step unless the
scenario sets continue_on_error.

Example scenario:
  name: login
  variables:
    email: '{{faker "Internet.email"}}'
  steps:
    - do: tap the Login button
    - do: "type this text: {{email}}"
    - check: the welcome banner is visible`,
	RunE: runScenario,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("file", "f", "", "Path to the scenario file (YAML)")
	runCmd.Flags().StringP("report", "o", "", "Write the run report to this path (.html for HTML, JSON otherwise)")
	runCmd.Flags().String("provider", "", "Provider name to use instead of the scenario or agent provider")
	_ = runCmd.MarkFlagRequired("file")
}

func runScenario(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("file")
	reportPath, _ := cmd.Flags().GetString("report")
	provider, _ := cmd.Flags().GetString("provider")

	scenario, err := model.ParseScenario(path)
	if err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", path, err)
	}
	if provider == "" {
		provider = scenario.Provider
	}

	s, err := openSession(ctx, sessionOptions{provider: provider, needDriver: true})
	if err != nil {
		return err
	}
	defer s.Close()

	runner := &engine.Runner{
		Resolver:    s.agent,
		Screen:      s.driver,
		Usage:       s.usage,
		Screenshots: s.cfg.Agent.ImageGrounded,
		StepTimeout: engine.ParseTimeout(s.cfg.Agent.Timeout),
	}
	run, runErr := runner.Run(ctx, scenario)
	if run == nil {
		return runErr
	}

	engine.PrintSummary(run)
	if reportPath != "" {
		if err := writeReport(run, reportPath); err != nil {
			logger.Logger.Error("Failed to write run report", "error", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if run.HasFailures() {
		return fmt.Errorf("scenario %q: %d step(s) failed", scenario.Name, run.Failed)
	}
	return nil
}

func writeReport(run *engine.RunReport, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		g, err := report.NewGenerator()
		if err != nil {
			return err
		}
		return g.GenerateHTMLToFile(run, path)
	default:
		return engine.WriteJSON(run, path)
	}
}
