package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/AI-driven-ST-Foundation/agent/agent"
	"github.com/AI-driven-ST-Foundation/agent/catalog"
	"github.com/AI-driven-ST-Foundation/agent/logger"
)

var doCmd = &cobra.Command{
	Use:   "do <instruction>",
	Short: "Perform one action described in natural language",
	Long: `Resolves the instruction against the current UI tree and runs exactly one
AppiumLibrary action keyword.

Examples:
  mobile-agent do "tap the Login button"
  mobile-agent do "type this text: hello@test.com" --tree page.xml --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(cmd, catalog.KindDo, strings.Join(args, " "))
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <instruction>",
	Short: "Verify one assertion described in natural language",
	Long: `Resolves the instruction against the current UI tree and runs exactly one
AppiumLibrary assertion keyword.

Examples:
  mobile-agent check "the welcome banner is visible"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(cmd, catalog.KindCheck, strings.Join(args, " "))
	},
}

func init() {
	for _, c := range []*cobra.Command{doCmd, checkCmd} {
		rootCmd.AddCommand(c)
		c.Flags().String("tree", "", "Read the UI tree from this file instead of the driver")
		c.Flags().String("screenshot", "", "PNG screenshot for image grounding (default: captured from the driver)")
		c.Flags().String("provider", "", "Provider name to use instead of agent.provider")
		c.Flags().Bool("dry-run", false, "Resolve the keyword without executing it")
		c.Flags().Bool("json", false, "Print the outcome as JSON")
	}
}

func runResolve(cmd *cobra.Command, kind catalog.Kind, instruction string) error {
	ctx := cmd.Context()
	treePath, _ := cmd.Flags().GetString("tree")
	shotPath, _ := cmd.Flags().GetString("screenshot")
	provider, _ := cmd.Flags().GetString("provider")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	asJSON, _ := cmd.Flags().GetBool("json")

	s, err := openSession(ctx, sessionOptions{
		provider:   provider,
		needDriver: treePath == "",
		dryRun:     dryRun,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	snap, err := loadSnapshot(ctx, s, treePath, shotPath)
	if err != nil {
		return err
	}

	var outcome agent.Outcome
	if kind == catalog.KindCheck {
		outcome, err = s.agent.Check(ctx, instruction, snap)
	} else {
		outcome, err = s.agent.Do(ctx, instruction, snap)
	}
	if printErr := printOutcome(outcome, asJSON); printErr != nil {
		logger.Logger.Warn("Failed to print outcome", "error", printErr)
	}
	return err
}

// loadSnapshot reads the tree and screenshot from files when given and from
// the driver otherwise.
func loadSnapshot(ctx context.Context, s *session, treePath, shotPath string) (agent.Snapshot, error) {
	var snap agent.Snapshot
	if treePath != "" {
		data, err := os.ReadFile(treePath)
		if err != nil {
			return snap, fmt.Errorf("failed to read UI tree: %w", err)
		}
		snap.Tree = string(data)
	} else {
		tree, err := s.driver.PageSource(ctx)
		if err != nil {
			return snap, fmt.Errorf("failed to read page source: %w", err)
		}
		snap.Tree = tree
	}

	if !s.cfg.Agent.ImageGrounded {
		return snap, nil
	}
	switch {
	case shotPath != "":
		img, err := os.ReadFile(shotPath)
		if err != nil {
			return snap, fmt.Errorf("failed to read screenshot: %w", err)
		}
		snap.Screenshot = img
	case s.driver != nil:
		img, err := s.driver.Screenshot(ctx)
		if err != nil {
			logger.Logger.Warn("Screenshot failed, continuing without image", "error", err)
		} else {
			snap.Screenshot = img
		}
	}
	return snap, nil
}

func printOutcome(outcome agent.Outcome, asJSON bool) error {
	if asJSON {
		data, err := sonic.ConfigStd.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	if outcome.Call.Keyword != "" {
		fmt.Printf("%s\n", outcome.Call)
	}
	return nil
}
