package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/marketsim/internal/agent"
	"github.com/efreitasn/marketsim/internal/config"
	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/feed"
	"github.com/efreitasn/marketsim/internal/handler"
	"github.com/efreitasn/marketsim/internal/journal"
	"github.com/efreitasn/marketsim/internal/service"
	"github.com/efreitasn/marketsim/internal/sim"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("simulation failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clock := domain.NewRoundClock(cfg.StartTime, cfg.RoundDuration)
	svc, err := service.New(service.Config{
		Instruments:        cfg.Instruments,
		LendableShares:     cfg.LendableShares,
		LendableCash:       cfg.LendableCash,
		AllowPartialBorrow: cfg.AllowPartialBorrow,
		DefaultTTLRounds:   cfg.OrderTTLRounds,
		IDs:                domain.NewSeededIDs(cfg.Seed),
		Clock:              clock,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	s, err := sim.New(sim.Config{
		Seed:            cfg.Seed,
		Rounds:          cfg.Rounds,
		DecisionWorkers: cfg.DecisionWorkers,
		InitialCash:     cfg.InitialCash,
		InitialShares:   cfg.InitialShares,
		Verify:          cfg.Verify,
	}, svc, clock, agent.Population(cfg.Agents, cfg.Seed), logger)
	if err != nil {
		return err
	}

	var store *journal.Store
	if cfg.JournalDir != "" {
		store, err = journal.Open(cfg.JournalDir, journal.Options{Sync: cfg.JournalSync, Logger: logger})
		if err != nil {
			return err
		}
		defer store.Close()
		s.AddObserver(store)
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := feed.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Error("trade feed close error", slog.String("error", err.Error()))
			}
		}()
		s.AddObserver(pub)
	}

	var srv *http.Server
	if cfg.Serve {
		hub := handler.NewRoundHub(logger)
		s.AddObserver(hub)
		addr := fmt.Sprintf(":%d", cfg.Port)
		srv = &http.Server{
			Addr:         addr,
			Handler:      handler.NewRouter(svc, s, hub, logger),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		}
		srv.RegisterOnShutdown(hub.Close)
		go func() {
			logger.Info("server starting", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}()
	}

	logger.Info("simulation starting",
		slog.Uint64("seed", cfg.Seed),
		slog.Int("rounds", cfg.Rounds),
		slog.Int("agents", cfg.Agents),
		slog.Any("instruments", cfg.InstrumentNames()),
	)
	runErr := s.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		logger.Info("shutdown signal received", slog.Int("round", s.Round()))
		runErr = nil
	}

	if store != nil {
		if fp, err := store.Fingerprint(); err == nil {
			logger.Info("journal fingerprint", slog.Int("round", s.Round()), slog.String("blake3", fp))
		}
	}

	if srv != nil {
		// Keep serving the final state until asked to stop.
		if runErr == nil {
			<-ctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
		logger.Info("server stopped")
	}
	return runErr
}
