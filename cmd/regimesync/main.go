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
	"regimesync/internal/adapters/postgres"
	"regimesync/internal/adapters/redis"
	"regimesync/internal/client"
	"regimesync/internal/dispatch"
	"regimesync/internal/domain/regime"
	"regimesync/internal/eventbridge"
	"regimesync/internal/fanout"
	"regimesync/internal/metrics"
	"regimesync/internal/notify"
	pgrepo "regimesync/internal/repository/postgres"
	redisrepo "regimesync/internal/repository/redis"
	"regimesync/internal/sampler"
	"regimesync/internal/sinks"
	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

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
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	if cfg.Metrics.Enabled {
		startMetricsServer(cfg.Metrics.Addr, log)
	}

	state := regime.NewState(log)
	priceSampler := sampler.New()
	queue := dispatch.NewQueue(0, log)
	defer queue.Close()

	manager := client.NewManager(client.Config{
		Host:        cfg.Feed.Host,
		Port:        cfg.Feed.Port,
		RetryDelay:  cfg.Feed.RetryDelay,
		StopTimeout: cfg.Feed.StopTimeout,
	}, regime.AffinityForInstrument(cfg.Feed.Instrument), state, priceSampler, queue, log)

	closers := initObservers(cfg, manager, log)
	defer func() {
		// Reverse order: observer queues drain before their backends close.
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	bridge := initPriceBridge(cfg, priceSampler, log)
	if bridge != nil {
		defer bridge.Stop()
	}

	manager.Start()
	log.Infow("Feed client started",
		"host", cfg.Feed.Host,
		"port", cfg.Feed.Port,
		"instrument", cfg.Feed.Instrument,
		"affinity", string(regime.AffinityForInstrument(cfg.Feed.Instrument)),
	)

	waitForShutdown(errorTracker, log)
	if err := manager.Stop(); err != nil {
		log.Warnw("Feed shutdown incomplete", "error", err)
	}
}

// initObservers wires the optional snapshot consumers: persistence sinks,
// the Telegram notifier and the dashboard fan-out. It returns the cleanup
// functions to run on shutdown.
func initObservers(cfg *config.Config, manager *client.Manager, log *logger.Logger) []func() {
	var closers []func()

	var cache regime.SnapshotCache
	var history regime.HistoryRepository

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		cache = redisrepo.NewSnapshotRepository(redisClient.Client(), cfg.Redis.TTL)
		log.Info("Snapshot cache enabled")
	}

	if cfg.Postgres.Enabled {
		pgClient, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		closers = append(closers, func() { _ = pgClient.Close() })

		repo := pgrepo.NewHistoryRepository(pgClient.DB())
		if err := repo.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to prepare history schema: %v", err)
		}
		history = repo
		log.Info("Transition history enabled")
	}

	if cache != nil || history != nil {
		snapshotSinks := sinks.New(cache, history, log)
		closers = append(closers, snapshotSinks.Close)
		manager.AddObserver(snapshotSinks.OnSnapshot)
	}

	if cfg.Telegram.Enabled {
		notifier, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
		if err != nil {
			log.Fatalf("Failed to create Telegram notifier: %v", err)
		}
		closers = append(closers, notifier.Close)
		manager.AddObserver(notifier.OnSnapshot)
		log.Info("Telegram notifications enabled")
	}

	if cfg.Fanout.Enabled {
		hub := fanout.NewHub(log)
		if err := hub.Start(cfg.Fanout.Addr); err != nil {
			log.Fatalf("Failed to start fanout hub: %v", err)
		}
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			hub.Stop(ctx)
		})
		manager.AddObserver(func(snap regime.Snapshot) { hub.Publish(snap) })
		log.Infow("Dashboard fanout enabled", "addr", cfg.Fanout.Addr)
	}

	return closers
}

// initPriceBridge starts the local event receiver that host integrations
// push instrument prices through. Without it the sampler never sees a
// price and the price-dependent apply steps stay idle.
func initPriceBridge(cfg *config.Config, priceSampler *sampler.PriceSampler, log *logger.Logger) *eventbridge.Server {
	bridge := eventbridge.NewServer(eventbridge.Config{Port: cfg.EventBridge.Port}, log)

	bridge.Subscribe("INSTRUMENT_PRICE", func(ev eventbridge.Event) {
		var payload struct {
			Price float64 `json:"price"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			log.Warnw("Dropping malformed price event", "error", err)
			return
		}
		priceSampler.OnInstrumentUpdate(payload.Price)
	})

	if err := bridge.Start(); err != nil {
		log.Warnf("Price bridge unavailable: %v", err)
		return nil
	}

	return bridge
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
