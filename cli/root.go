package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/shepherd/config"
	"github.com/zhubert/shepherd/logger"
)

// Version is the shepherd release version.
const Version = "1.0.0"

var flagDebug bool

var rootCmd = &cobra.Command{
	Use:     "shepherd",
	Short:   "Supervisor for interactive assistant CLI sessions",
	Version: Version,
	Long: `Shepherd spawns and supervises interactive assistant CLI sessions.

It attaches each session to a pseudo-terminal, captures its output,
detects interactive prompts, and exposes the whole registry over
MCP tools (shepherd mcp) or HTTP (shepherd serve).`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(checkCmd)
}

// Execute runs the root command and returns an exit code for main.
func Execute() int {
	defer logger.Close()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// setup loads configuration and initializes file logging. Shared by the
// serve and mcp commands. Logging always goes to a file: in MCP mode stdout
// belongs to the protocol.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logPath := cfg.LogPath
	if logPath == "" {
		logPath, err = logger.DefaultLogPath()
		if err != nil {
			return nil, fmt.Errorf("resolving log path: %w", err)
		}
	}
	if err := logger.Init(logPath); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger.SetDebug(flagDebug || cfg.LogLevel == "debug")

	if err := ValidateRequired(DefaultPrerequisites(cfg.Command)); err != nil {
		return nil, err
	}
	return cfg, nil
}
