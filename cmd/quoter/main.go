package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ox-maker-go/config"
	"ox-maker-go/gateway"
	"ox-maker-go/infrastructure/logger"
	"ox-maker-go/internal/engine"
	"ox-maker-go/inventory"
	"ox-maker-go/market"
	"ox-maker-go/metrics"
	"ox-maker-go/order"
	"ox-maker-go/risk"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	dryRun := flag.Bool("dry-run", false, "log order actions instead of sending them")
	metricsAddr := flag.String("metrics", "", "override metrics listen address")
	flag.Parse()

	// .env is optional; real deployments use systemd environment files.
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	log.Info("quoter starting",
		zap.String("env", cfg.Env),
		zap.Int("universe", len(cfg.Instruments)),
		zap.Bool("dry_run", *dryRun))
	metrics.StartServer(cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst)
	rest := gateway.NewOXFunClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.APISecret, limiter)
	var exchange engine.Exchange = rest
	if *dryRun {
		exchange = dryRunExchange{inner: rest, log: log}
	}

	universe := cfg.Universe()
	store := market.NewStore()
	book := inventory.NewBook()

	// Startup sweep: any order left over from a previous run is unknown
	// state, so clear the book before quoting.
	startupSweep(ctx, exchange, universe, log)

	constraints := make(map[string]order.Constraints, len(cfg.Instruments))
	for inst, ic := range cfg.Instruments {
		constraints[inst] = order.Constraints{TickSize: ic.TickSize, MinSize: ic.MinSize}
	}

	feed := gateway.NewFeedClient(cfg.Gateway.WSURL, universe, store, log.Logger)

	rec, err := engine.New(engine.Config{
		Interval:             time.Duration(cfg.Quoting.ReconciliationIntervalSeconds) * time.Second,
		MaxActiveInstruments: cfg.Quoting.MaxActiveInstruments,
		SelectionDwellCycles: cfg.Quoting.SelectionDwellCycles,
		FreshnessFactor:      cfg.Quoting.FreshnessFactor,
		OrderNotionalUSD:     cfg.Quoting.OrderNotionalUSD,
		Gate: risk.Gate{
			MinSpread:        cfg.Quoting.MinSpreadThreshold,
			MinIndexDistance: cfg.Quoting.MinDistanceFromIndex,
		},
		Universe:    universe,
		Constraints: constraints,
	}, engine.Components{
		Exchange:    exchange,
		Snapshots:   store,
		Positions:   book,
		Logger:      log,
		OnActiveSet: feed.SetActive,
	})
	if err != nil {
		log.Fatal("engine init failed", zap.Error(err))
	}

	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("feed stopped", zap.Error(err))
		}
	}()

	if err := rec.Start(ctx); err != nil {
		log.Fatal("engine start failed", zap.Error(err))
	}

	// Threshold-only hot reload; wiring changes need a restart.
	go func() {
		w := config.Watcher{Path: *configPath}
		err := w.Start(ctx, func(next config.AppConfig) {
			rec.UpdateParams(risk.Gate{
				MinSpread:        next.Quoting.MinSpreadThreshold,
				MinIndexDistance: next.Quoting.MinDistanceFromIndex,
			}, next.Quoting.OrderNotionalUSD)
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdogLoop(ctx, rec, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("signal received, shutting down", zap.String("signal", sig.String()))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := rec.Stop(); err != nil {
		log.Error("engine stop failed", zap.Error(err))
	}
	cancel()
	log.Info("quoter exited")
}

// startupSweep cancels all working orders per configured instrument. Failures
// are logged and quoting proceeds; the first tick reconciles against whatever
// survived.
func startupSweep(ctx context.Context, ex engine.Exchange, universe []string, log *logger.Logger) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, inst := range universe {
		if err := ex.CancelAll(sctx, inst); err != nil {
			log.Warn("startup cancel-all failed", zap.String("instrument", inst), zap.Error(err))
		}
	}
	log.Info("startup order sweep complete", zap.Int("instruments", len(universe)))
}

// watchdogLoop pets the systemd watchdog while the loop keeps ticking.
func watchdogLoop(ctx context.Context, rec *engine.Reconciler, log *logger.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rec.GetState() == engine.StateRunning {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}
}

// dryRunExchange passes reads through and logs writes without sending them.
type dryRunExchange struct {
	inner engine.Exchange
	log   *logger.Logger
}

func (d dryRunExchange) PlaceOrder(_ context.Context, instrument string, side order.Side, price, size float64) (string, error) {
	d.log.Info("[dry-run] place",
		zap.String("instrument", instrument),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("size", size))
	return fmt.Sprintf("dry-%d", time.Now().UnixNano()), nil
}

func (d dryRunExchange) CancelOrder(_ context.Context, instrument, orderID string) error {
	d.log.Info("[dry-run] cancel", zap.String("instrument", instrument), zap.String("order_id", orderID))
	return nil
}

func (d dryRunExchange) ClosePosition(_ context.Context, instrument string, side order.Side, size float64) error {
	d.log.Info("[dry-run] close",
		zap.String("instrument", instrument),
		zap.String("side", string(side)),
		zap.Float64("size", size))
	return nil
}

func (d dryRunExchange) CancelAll(_ context.Context, instrument string) error {
	d.log.Info("[dry-run] cancel-all", zap.String("instrument", instrument))
	return nil
}

func (d dryRunExchange) OpenOrders(ctx context.Context) ([]order.ActiveOrder, error) {
	return d.inner.OpenOrders(ctx)
}

func (d dryRunExchange) Positions(ctx context.Context) ([]inventory.Position, error) {
	return d.inner.Positions(ctx)
}
