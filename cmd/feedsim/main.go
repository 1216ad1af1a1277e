package main

import (
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"regimesync/internal/broadcaster"
	"regimesync/internal/domain/regime"
	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

// feedsim drives connected consumers with canned regime updates so the
// full pipeline can be exercised without the analysis side running.
func main() {
	port := flag.Int("port", 5010, "broadcast port")
	interval := flag.Duration("interval", 2*time.Second, "delay between updates")
	flag.Parse()

	if err := logger.Init("debug", "development"); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()

	srv := broadcaster.NewServer(broadcaster.Config{Port: *port, SendsPerSecond: 100}, log)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start broadcaster: %v", err)
	}
	defer srv.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	start := time.Now()
	var sent uint64

	log.Infow("Feed simulator running", "port", *port, "interval", interval.String())

	for {
		select {
		case <-ticker.C:
			payload := broadcaster.BuildPayload(nextOverview(), time.Now())
			if err := srv.Broadcast(payload); err != nil && !errors.Is(err, errors.ErrNoClients) {
				log.Warnw("Broadcast failed", "error", err)
				continue
			}
			sent++

			if sent%30 == 0 {
				log.Infow("Simulator stats",
					"sent", humanize.Comma(int64(sent)),
					"uptime", humanize.RelTime(start, time.Now(), "", ""),
					"clients", srv.ClientCount(),
				)
			}
		case <-quit:
			log.Info("Simulator stopped")
			return
		}
	}
}

var labels = []string{
	"🟢 GRIND UP",
	"🟢 MELT UP",
	"🟡 SUPPORT / CHOP",
	"🔴 CRASH / FLUSH",
	"🟡 WEAK GRIND UP",
}

var cursor int

// nextOverview walks the canned regimes, jittering spots so spreads and
// adjusted levels move between updates.
func nextOverview() broadcaster.Overview {
	label := labels[cursor%len(labels)]
	cursor++

	ndxSpot := 15000 + rand.Float64()*40
	spxSpot := 4520 + rand.Float64()*10

	return broadcaster.Overview{
		Compass: broadcaster.Compass{
			Label:    label,
			XScore:   rand.Float64()*2 - 1,
			YScore:   rand.Float64()*2 - 1,
			Strategy: "fade moves at the walls",
		},
		Components: []broadcaster.Component{
			{Symbol: "SPY", Spot: spxSpot / 10, FlipStrike: 450, NetGEX: 1.2e9},
			{Symbol: "SPX", Spot: spxSpot, FlipStrike: 4500, NetGEX: 8e8},
			{Symbol: "NDX", Spot: ndxSpot, FlipStrike: 15000, NetGEX: 3e8},
		},
		GammaLevels: map[string][]regime.RawLevel{
			"NDX": {
				{Strike: 15100, GEX: 5000},
				{Strike: 14950, GEX: -4000},
				{Strike: 15200, GEX: 2500},
			},
			"SPX": {
				{Strike: 4550, GEX: 2000},
				{Strike: 4490, GEX: -1500},
			},
		},
	}
}
