package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/kartta/internal/api"
	"github.com/yairfalse/kartta/internal/daemon"
)

var serveRunOnStart bool

// serveCmd runs the HTTP API and the discovery scheduler
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and scheduled discovery",
	Long: `Run Kartta as a service.

Serves the inventory API and, unless discovery.interval is 0, runs
discovery across every active account on a fixed interval.

Endpoints:
- POST /api/v1/discovery    trigger a synchronous discovery run
- GET/PATCH /api/v1/resources
- GET/POST/DELETE /api/v1/accounts
- /health, /-/ready, /metrics`,
	Example: `  kartta serve -c kartta.yaml
  kartta serve -c kartta.yaml --run-on-start`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveRunOnStart, "run-on-start", false, "Run discovery immediately instead of waiting one interval")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	var health api.HealthReporter
	if cfg.Discovery.Interval > 0 {
		d, err := daemon.NewDaemon(a.coordinator, daemon.Config{
			Interval:   cfg.Discovery.Interval,
			RunOnStart: serveRunOnStart,
		})
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		health = d

		dctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Start(dctx)
		}, func(error) {
			cancel()
		})
	} else {
		log.Info().Msg("discovery scheduler disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	deps := api.Deps{
		Discovery:   a.coordinator,
		Accounts:    a.registry,
		Resources:   a.store,
		Health:      health,
		Ready:       a.store.Ping,
		Metrics:     a.telemetry.Handler(),
		CORSOrigins: cfg.Server.CORSOrigins,
	}
	if a.journal != nil {
		deps.Changes = a.journal
	}
	router := api.New(deps)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	g.Add(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}
