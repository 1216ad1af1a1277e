package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"regimesync/internal/adapters/config"
	"regimesync/internal/adapters/errors/noop"
	"regimesync/internal/adapters/errors/sentry"
	"regimesync/internal/broadcaster"
	"regimesync/internal/eventbridge"
	"regimesync/internal/fanout"
	"regimesync/internal/metrics"
	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

// regimehub is the producer bridge: the analysis side pushes MARKET_UPDATE
// events to the event bridge, the hub flattens them onto the wire format
// and broadcasts to every connected chart. The last payload goes out again
// periodically so late joiners catch up.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting regimehub in %s mode", cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	if cfg.Metrics.Enabled {
		startMetricsServer(cfg.Metrics.Addr, log)
	}

	srv := broadcaster.NewServer(broadcaster.Config{
		Port:           cfg.Broadcast.Port,
		WriteTimeout:   cfg.Broadcast.WriteTimeout,
		SendsPerSecond: cfg.Broadcast.SendsPerSecond,
	}, log)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start broadcaster: %v", err)
	}
	defer srv.Stop()

	bridge := eventbridge.NewServer(eventbridge.Config{Port: cfg.EventBridge.Port}, log)

	if cfg.Fanout.Enabled {
		hub := fanout.NewHub(log)
		if err := hub.Start(cfg.Fanout.Addr); err != nil {
			log.Fatalf("Failed to start fanout hub: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			hub.Stop(ctx)
		}()

		// Every event the analysis side emits goes to the dashboard
		// clients as-is; the wire consumers below only see market updates.
		bridge.SubscribeAll(func(ev eventbridge.Event) {
			hub.Publish(ev)
		})
		log.Infow("Dashboard fanout started", "addr", cfg.Fanout.Addr)
	}

	bridge.Subscribe(eventbridge.EventMarketUpdate, func(ev eventbridge.Event) {
		var ov broadcaster.Overview
		if err := json.Unmarshal(ev.Payload, &ov); err != nil {
			log.Warnw("Dropping malformed overview", "error", err)
			return
		}

		payload := broadcaster.BuildPayload(ov, time.Now())
		if err := srv.Broadcast(payload); err != nil && !errors.Is(err, errors.ErrNoClients) {
			log.Warnw("Broadcast failed", "error", err)
		}
	})

	if err := bridge.Start(); err != nil {
		log.Fatalf("Failed to start event bridge: %v", err)
	}
	defer bridge.Stop()

	stopTicker := startRebroadcast(srv, cfg.Broadcast.RebroadcastInterval, log)
	defer stopTicker()

	waitForShutdown(errorTracker, log)
}

// startRebroadcast resends the last payload on a fixed interval
func startRebroadcast(srv *broadcaster.Server, interval time.Duration, log *logger.Logger) func() {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := srv.Rebroadcast(); err != nil && !errors.Is(err, errors.ErrNoClients) {
					log.Warnw("Rebroadcast failed", "error", err)
				}
			case <-stop:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(stop)
	}
}

func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

func startMetricsServer(addr string, log *logger.Logger) {
	metrics.Init()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()

	log.Infow("Metrics server started", "addr", addr)
}

func waitForShutdown(errorTracker errors.Tracker, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := errorTracker.Flush(ctx); err != nil {
		log.Warnf("Failed to flush error tracker: %v", err)
	}
}
