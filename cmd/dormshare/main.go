package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/platinummonkey/dormshare/pkg/api"
	"github.com/platinummonkey/dormshare/pkg/config"
	"github.com/platinummonkey/dormshare/pkg/observability"
	"golang.org/x/sync/errgroup"
)

const usage = `Usage: dormshare <command> [flags]

Commands:
  serve     run the API and health servers (default)
  migrate   apply credential store migrations and the role seed
  token     issue a token pair for a principal

Configuration is read from DORMSHARE_* environment variables.
`

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "migrate":
		err = runMigrate(args)
	case "token":
		err = runToken(args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *observability.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)
	return cfg, logger, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	skipSeed := fs.Bool("skip-seed", false, "Do not apply the role seed on startup")
	fs.Parse(args)

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if !*skipSeed {
		if err := a.seed(ctx); err != nil {
			a.Close()
			return err
		}
	}
	if err := a.watchSecrets(); err != nil {
		a.Close()
		return err
	}
	if a.sweeper != nil {
		a.sweeper.Start()
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      a.apiServer(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     api.NewHealthRouter(observability.NewHealthChecker(a.db, a.redis), a.registry),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterServer("api", apiServer)
	shutdown.RegisterServer("health", healthServer)
	if a.sweeper != nil {
		shutdown.RegisterShutdownFunc("revocation-sweeper", func(ctx context.Context) error {
			a.sweeper.Stop(ctx)
			return nil
		})
	}
	shutdown.RegisterShutdownFunc("app", func(ctx context.Context) error {
		if a.webhook != nil {
			if err := a.webhook.Close(ctx); err != nil {
				logger.WithError(err).Warn("audit webhook did not drain")
			}
		}
		return a.Close()
	})
	shutdown.RegisterShutdownFunc("tracing", providers.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		srv := srv
		g.Go(func() error {
			logger.WithField("addr", srv.Addr).Info("server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("dormshare stopped with error")
		return err
	}
	logger.Info("dormshare stopped")
	return nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	skipSeed := fs.Bool("skip-seed", false, "Only apply schema migrations")
	fs.Parse(args)

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if !*skipSeed {
		if err := a.seed(ctx); err != nil {
			return err
		}
	}
	logger.Info("credential store is up to date")
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	principalID := fs.Int64("principal", 0, "Principal ID to issue tokens for")
	fs.Parse(args)

	if *principalID <= 0 {
		return fmt.Errorf("-principal is required")
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pair, err := a.sessions.Issue(ctx, *principalID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}
