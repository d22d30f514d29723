package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/shepherd/logger"
	"github.com/zhubert/shepherd/manager"
	"github.com/zhubert/shepherd/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP stdio server",
	Long: `Mcp speaks the Model Context Protocol over stdin/stdout, exposing
session supervision as tools for an MCP client.

All logging goes to the log file; stdout carries only protocol frames.
The server exits on EOF and terminates every live session on the way out.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	log := logger.WithComponent("mcp-cmd")

	sup, err := manager.New(cfg)
	if err != nil {
		return err
	}

	if killed, err := sup.CleanupOrphans(cmd.Context()); err != nil {
		log.Warn("orphan cleanup failed", "error", err)
	} else if killed > 0 {
		log.Info("cleaned up orphaned processes", "count", killed)
	}

	err = mcp.NewServer(os.Stdin, os.Stdout, sup).Run()
	sup.Shutdown()
	return err
}
