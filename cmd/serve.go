package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-gallery/internal/config"
	"github.com/kozaktomas/face-gallery/internal/scheduler"
	"github.com/kozaktomas/face-gallery/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Gallery API server.

The server exposes enrollment, identification, gallery management and the
audit log under /api/v1, runs the periodic integrity sweep, and reloads the
distance threshold whenever CONFIG_FILE changes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.enableIndex(ctx)

	sched, err := scheduler.New(cfg.Scheduler, a.gallery, a.indexer, a.ops)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()
	fmt.Printf("Scheduler started with %d jobs\n", sched.JobCount())

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		err := config.Watch(ctx, path, func(next *config.Config) {
			if next.Matcher.DistanceThreshold == a.matcher.Threshold() {
				return
			}
			if err := a.service.SetThreshold(next.Matcher.DistanceThreshold); err != nil {
				fmt.Printf("Warning: ignoring reloaded threshold: %v\n", err)
				return
			}
			fmt.Printf("Distance threshold changed to %.3f\n", next.Matcher.DistanceThreshold)
		})
		if err != nil {
			fmt.Printf("Warning: config reload disabled: %v\n", err)
		}
	}

	server := web.NewServer(cfg, a.service)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		sched.Stop()
		a.saveIndex()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Gallery API on http://%s:%d (threshold %.3f, dim %d)\n",
		cfg.Web.Host, cfg.Web.Port, a.matcher.Threshold(), cfg.Matcher.Dim)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
