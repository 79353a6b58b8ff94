package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/version"
)

const (
	AppName       = "mobile-agent"
	DefaultConfig = "mobile-agent.yaml"
	EnvPrefix     = "MOBILE_AGENT"
)

var logFile *os.File

var rootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Resolve natural-language mobile test steps into AppiumLibrary keywords",
	Long: `Turns one instruction such as "tap the Login button" into exactly one
AppiumLibrary keyword call, using an LLM to pick the element from the
current UI tree.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine.
		_ = godotenv.Load()

		w, f, err := logger.SetupLogWriter(viper.GetString("log"))
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		logFile = f
		logger.SetupLogger(w, viper.GetBool("verbose"))
		logger.Logger.Debug("Starting application",
			"app", AppName,
			"version", version.Version,
			"command", cmd.Name(),
			"config", viper.GetString("config"))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	},
}

// Execute runs the command tree and exits non-zero on failure. Interrupts
// cancel the running step.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version.String()

	rootCmd.PersistentFlags().StringP("config", "c", DefaultConfig, "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringP("log", "l", "", "Path to the log file (if not set, logs to stdout)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"config", "log", "verbose"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}
