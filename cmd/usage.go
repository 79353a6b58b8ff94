package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/AI-driven-ST-Foundation/agent/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show or reset accumulated token usage and cost",
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print token usage and cost per model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		acc, err := openUsage(cmd)
		if err != nil {
			return err
		}
		defer acc.Close()

		totals, err := acc.Totals(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read usage: %w", err)
		}
		if asJSON {
			data, err := sonic.ConfigStd.MarshalIndent(totals, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		writeUsageTable(os.Stdout, totals)
		return nil
	},
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the accumulated usage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		acc, err := openUsage(cmd)
		if err != nil {
			return err
		}
		defer acc.Close()
		if err := acc.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("failed to reset usage: %w", err)
		}
		fmt.Println("Usage reset.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usageShowCmd, usageResetCmd)
	usageShowCmd.Flags().Bool("json", false, "Print as JSON")
}

func openUsage(cmd *cobra.Command) (*usage.Accumulator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return usage.Open(cmd.Context(), cfg.Usage)
}

func writeUsageTable(w io.Writer, totals usage.Totals) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "  %-32s %12s %12s %8s %10s\n", "MODEL", "PROMPT", "COMPLETION", "CALLS", "COST ($)")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, m := range totals.Models {
		fmt.Fprintf(w, "  %-32s %12d %12d %8d %10.4f\n", m.Model, m.PromptTokens, m.CompletionTokens, m.Calls, m.Cost)
	}
	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "  %-32s %12d %12d %8d %10.4f\n", "TOTAL", totals.PromptTokens, totals.CompletionTokens, totals.Calls, totals.Cost)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}
