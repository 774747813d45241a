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
	"time"

	"synthd/config"
	"synthd/core/types"
	"synthd/gateway"
	"synthd/native/collateral"
	"synthd/native/token"
	"synthd/storage"
)

const shutdownGrace = 10 * time.Second

// slogEmitter forwards engine events to the structured log.
type slogEmitter struct {
	log *slog.Logger
}

func (s *slogEmitter) Emit(evt *types.Event) {
	attrs := make([]any, 0, 2+2*len(evt.Attributes))
	attrs = append(attrs, "event", evt.Type)
	for key, value := range evt.Attributes {
		attrs = append(attrs, key, value)
	}
	s.log.Info("engine event", attrs...)
}

func main() {
	configPath := flag.String("config", "synthd.toml", "path to the TOML configuration file")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(*configPath, log); err != nil {
		log.Error("synthd exited", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	tokens, feeds := cfg.CollateralPairs()
	engine, err := collateral.NewEngine(cfg.ModuleAddress(), tokens, feeds, cfg.RiskParameters())
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	ledger := token.NewLedger(db)
	engine.SetState(storage.NewPositionStore(db))
	engine.SetCustody(token.NewCustody(ledger, cfg.ModuleAddress()))
	engine.SetDebtToken(token.NewDebt(ledger, cfg.DebtTokenAddress(), cfg.ModuleAddress()))
	engine.SetEmitter(&slogEmitter{log: log.With("component", "engine")})

	prices := collateral.NewManualSource()
	engine.SetPriceSource(prices)

	handler := gateway.New(gateway.Options{
		Engine:    engine,
		Prices:    prices,
		APITokens: cfg.APITokens,
		RateLimit: gateway.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: log.With("component", "gateway"),
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
