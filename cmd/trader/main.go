package main

import (
	"context"
	"flag"
	"log"
	"os"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/bus"
	"main/internal/core"
	"main/internal/gateway"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/pace"
	"main/internal/risk"
	"main/internal/session"
	"main/internal/source/sim"
	"main/internal/source/wsfeed"
	"main/internal/store"
	"main/internal/strategy/value"
)

func main() {
	if err := run(); err != nil {
		log.Printf("trader: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	if cfg.Profiling.Enable {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	st, err := buildStore(cfg.Store)
	if err != nil {
		return err
	}

	limiter, err := pace.New(cfg.Pace)
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	router := bus.NewRouter(metrics)
	sessions := session.NewManager(cfg.Session, buildSource(cfg.Feed), router, limiter, metrics)

	orch, err := core.New(core.Config{
		CheckpointInterval: cfg.Runtime.CheckpointInterval,
		ShutdownTimeout:    cfg.Runtime.ShutdownTimeout,
	}, core.Deps{
		Router:   router,
		Store:    st,
		Gateway:  gateway.NewPaper(cfg.Runtime.SlippageBps),
		Risk:     risk.NewEngine(cfg.Risk),
		Sessions: sessions,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		switch sc.Name {
		case ops.StrategyExampleValue:
			strat := value.New(value.Config{
				AllocatedCapital: sc.AllocatedCapital,
				MinMarketCap:     sc.MinMarketCap,
			})
			if err := orch.AddStrategy(strat, sc.AllocatedCapital); err != nil {
				return err
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = orch.Run(ctx)
	cancel()
	snapshot := metrics.Snapshot()
	logs.Infof("metrics: published=%d delivered=%d errors=%d dropped=%d orders=%d rejected=%d reconnects=%d",
		snapshot.Published, snapshot.Delivered, snapshot.HandlerErrors, snapshot.Dropped,
		snapshot.OrdersSubmitted, snapshot.OrdersRejected, snapshot.SessionReconnects)
	return err
}

func buildStore(cfg ops.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case ops.BackendPostgres:
		return store.NewPGStore(cfg.DSN)
	default:
		return store.NewFileStore(cfg.Path)
	}
}

func buildSource(cfg ops.FeedConfig) session.Source {
	if cfg.Kind == "ws" {
		return wsfeed.New(cfg.WS)
	}
	return sim.New(0)
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
