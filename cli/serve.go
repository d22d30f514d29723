package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/shepherd/api"
	"github.com/zhubert/shepherd/logger"
	"github.com/zhubert/shepherd/manager"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP session supervisor",
	Long: `Serve starts the supervisor and exposes it over HTTP.

The server runs until interrupted; on shutdown every live session is
terminated with the configured grace period.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	sup, err := manager.New(cfg)
	if err != nil {
		return err
	}

	// Kill strays from a previous run before taking on new sessions.
	if killed, err := sup.CleanupOrphans(cmd.Context()); err != nil {
		log.Warn("orphan cleanup failed", "error", err)
	} else if killed > 0 {
		log.Info("cleaned up orphaned processes", "count", killed)
	}

	srv := api.NewServer(cfg, sup)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Printf("shepherd listening on http://%s\n", cfg.HTTPAddr())

	select {
	case err := <-errCh:
		sup.Shutdown()
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	sup.Shutdown()
	return nil
}
