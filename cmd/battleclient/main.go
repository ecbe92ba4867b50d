package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/dsalaz04/pkmn-battle-client/internal/battle"
	"github.com/dsalaz04/pkmn-battle-client/internal/bus"
	"github.com/dsalaz04/pkmn-battle-client/internal/config"
	"github.com/dsalaz04/pkmn-battle-client/internal/history"
	"github.com/dsalaz04/pkmn-battle-client/internal/httpapi"
	"github.com/dsalaz04/pkmn-battle-client/internal/metrics"
	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
	"github.com/dsalaz04/pkmn-battle-client/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var hist *history.Store
	if cfg.HistoryPath != "" {
		hist, err = history.Open(ctx, cfg.HistoryPath)
		if err != nil {
			return fmt.Errorf("open battle history: %w", err)
		}
		defer hist.Close()
	}

	b := bus.New()
	var eng *battle.Engine

	ch, err := transport.Dial(ctx, transport.Options{
		URL:           cfg.ServerURL,
		Log:           log.Named("transport"),
		DialTimeout:   cfg.DialTimeout,
		MaxReconnects: cfg.MaxReconnects,
		OnDisconnect: func(err error) {
			if eng != nil {
				eng.HandleDisconnect(err)
			}
			stop()
		},
	})
	if err != nil {
		return fmt.Errorf("connect to battle server: %w", err)
	}
	defer ch.Close()

	eng = battle.New(ctx, ch, b, timeutil.Real(), hist, battle.Options{
		GraceDelay:     cfg.GraceDelay,
		RequestTimeout: cfg.RequestTimeout,
	}, log.Named("battle"))
	defer eng.Close()

	if cfg.RoomID != "" {
		if !eng.JoinRoom(cfg.RoomID) {
			return fmt.Errorf("join room %s: transport unavailable", cfg.RoomID)
		}
		log.Info("joining room", zap.String("roomId", cfg.RoomID))
	}

	srv := &http.Server{
		Addr:    cfg.DebugAddr,
		Handler: httpapi.SetupRoutes(eng, hist, metrics.NewRegistry(), log.Named("http")),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("debug surface listening", zap.String("addr", cfg.DebugAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shut down")
	return nil
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zc := zap.NewDevelopmentConfig()
	if cfg.LogJSON {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
