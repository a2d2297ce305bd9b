package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-gate/internal/metrics"
	"github.com/kozaktomas/face-gate/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Gate HTTP API.

Public endpoints: POST /compararCara, POST /subirUsuario, POST /login,
GET /generarToken (unless AUTH_TEST_TOKENS=false), GET /health, GET /metrics.
Everything under /usuarios, /imagenes and /historial requires a bearer token.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("warm", true, "Load all embeddings into the registry before accepting requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, "face-gate")
	if err != nil {
		return err
	}

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.close(ctx)
		return fmt.Errorf("registering metrics: %w", err)
	}

	if mustGetBool(cmd, "warm") {
		candidates, err := a.registry.All(ctx)
		if err != nil {
			a.close(ctx)
			return fmt.Errorf("loading registered faces: %w", err)
		}
		a.log.Info("registry loaded", "users", len(candidates))
	}

	if err := a.tokens.StartSweeper(a.cfg.Auth.SweepInterval); err != nil {
		a.close(ctx)
		return err
	}
	if err := a.registry.StartRefresher(a.cfg.Match.RefreshInterval); err != nil {
		a.close(ctx)
		return err
	}

	server := web.NewServer(web.Deps{
		Config:   a.cfg,
		Users:    a.users,
		Tokens:   a.tokens,
		History:  a.store,
		Recorder: a.recorder,
		DB:       a.store,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   a.log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
		a.close(shutdownCtx)
	}()

	fmt.Printf("Starting Face Gate API on http://%s\n", server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		a.close(ctx)
		return fmt.Errorf("starting server: %w", err)
	}
	<-shutdownDone
	return nil
}
