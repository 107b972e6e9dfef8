// cti-radar - Real-time cyber threat intelligence dashboard backend.
//
// It serves the dashboard REST API and websocket push channel, runs indicator
// lookups against VirusTotal, AbuseIPDB, ThreatFox and PulseDive, and keeps a
// live feed of known-bad IPs flowing to every connected dashboard.
//
// Usage:
//
//	cti-radar -config=cti-radar.yaml
//
// Environment variables override the file:
//
//	CTI_RADAR_SERVER_ADDR          - Listen address (default :5000)
//	CTI_RADAR_DATABASE_URL         - PostgreSQL URL (in-memory store when empty)
//	CTI_RADAR_REDIS_URL            - Redis URL for the lookup cache
//	CTI_RADAR_KAFKA_BROKERS        - Comma-separated brokers for threat fan-out
//	CTI_RADAR_GEOIP_PATH           - MaxMind City database path
//	CTI_RADAR_INTEL_VIRUSTOTAL_KEY - Provider API keys (also _ABUSEIPDB_KEY, ...)
package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hervehildenbrand/cti-radar/pkg/api"
	"github.com/hervehildenbrand/cti-radar/pkg/config"
	"github.com/hervehildenbrand/cti-radar/pkg/database"
	"github.com/hervehildenbrand/cti-radar/pkg/geo"
	"github.com/hervehildenbrand/cti-radar/pkg/intel"
	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
	"github.com/hervehildenbrand/cti-radar/pkg/mq"
	"github.com/hervehildenbrand/cti-radar/pkg/notify"
	"github.com/hervehildenbrand/cti-radar/pkg/simulator"
	"github.com/hervehildenbrand/cti-radar/pkg/socket"
)

var (
	configPath    = flag.String("config", "", "Path to YAML config file (optional)")
	statsInterval = flag.Duration("stats", 30*time.Second, "Stats logging interval")
)

func main() {
	flag.Parse()
	logger.Init("info", "text")
	if *statsInterval <= 0 {
		logger.Fatal("-stats must be positive, got %v", *statsInterval)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: %v", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	logger.Info("cti-radar starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store: PostgreSQL when configured, memory otherwise
	var store database.Store = database.NewMemoryStore()
	if cfg.Database.URL != "" {
		pg, err := database.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			logger.Warn("Database connection failed, using in-memory store: %v", err)
		} else {
			store = pg
		}
	}

	// Redis (optional)
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Warn("Invalid Redis URL: %v", err)
		} else {
			redisClient = redis.NewClient(opt)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Warn("Redis connection failed: %v", err)
				redisClient.Close()
				redisClient = nil
			} else {
				logger.Info("Connected to Redis: %s", opt.Addr)
			}
		}
	}

	// GeoIP resolver (optional)
	var resolver geo.Resolver = geo.NewNullResolver()
	if cfg.GeoIP.Path != "" {
		mmdb, err := geo.NewMMDBResolver(cfg.GeoIP.Path)
		if err != nil {
			logger.Warn("Failed to load GeoIP data from %s: %v", cfg.GeoIP.Path, err)
		} else {
			resolver = mmdb
		}
	}

	hub := socket.NewHub(cfg.Server.MaxClients)

	httpClient := &http.Client{Timeout: cfg.Intel.Timeout}
	virusTotal := intel.NewVirusTotal(cfg.Intel.VirusTotalKey, httpClient)
	abuseIPDB := intel.NewAbuseIPDB(cfg.Intel.AbuseIPDBKey, httpClient)
	threatFox := intel.NewThreatFox(cfg.Intel.ThreatFoxKey, httpClient)
	pulseDive := intel.NewPulseDive(cfg.Intel.PulseDiveKey, httpClient)
	providers := []intel.Provider{virusTotal, abuseIPDB, threatFox, pulseDive}
	for name, status := range intel.KeyStatus(providers) {
		logger.Info("Provider %s: %s", name, status)
	}

	opts := []intel.Option{
		intel.WithCache(intel.NewCache(redisClient, cfg.Redis.CacheTTL)),
		intel.WithGeo(resolver),
	}

	// Kafka (optional)
	var publisher *mq.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = mq.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		opts = append(opts, intel.WithPublisher(publisher))
	}

	// Telegram (optional)
	var notifier *notify.Telegram
	if cfg.Telegram.Enabled {
		notifier, err = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn("Telegram notifier disabled: %v", err)
			notifier = nil
		} else {
			notifier.Start()
			opts = append(opts, intel.WithNotifier(notifier))
		}
	}

	analyzer := intel.NewAnalyzer(providers, store, hub, opts...)
	hub.On(models.EventLookupIndicator, analyzer.HandleLookup(ctx))
	hub.On(models.EventAddTag, analyzer.HandleTag(ctx))
	hub.Start()

	gen := simulator.NewGenerator(simulator.DefaultLandmasses, rand.New(rand.NewSource(time.Now().UnixNano())))
	if n, err := simulator.Seed(ctx, store, gen, cfg.Simulator.SeedCount); err != nil {
		logger.Warn("Seeding failed: %v", err)
	} else if n > 0 {
		logger.Info("Seeded %d threat records", n)
	}

	var wg sync.WaitGroup

	// Live feed
	if cfg.Poller.Interval > 0 {
		poller := intel.NewPoller([]intel.Provider{abuseIPDB, threatFox}, cfg.Poller.Watchlist, hub, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx, cfg.Poller.Interval)
		}()
	}

	// Synthetic traffic
	if cfg.Simulator.Tick > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			simulator.Run(ctx, gen, hub, cfg.Simulator.Tick)
		}()
	}

	// Stats logger
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(*statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hubStats := hub.Stats()
				storeStats := store.Stats()
				lookupStats := analyzer.Stats()
				logger.Info("STATS: clients=%v sent=%v dropped=%v lookups=%v results=%v store=%v",
					hubStats["clients"], hubStats["messages_sent"], hubStats["dropped"],
					lookupStats["lookups"], lookupStats["results"], storeStats)
			}
		}
	}()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(store, hub, intel.KeyStatus(providers)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Listening on %s", cfg.Server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error: %v", err)
		stop()
	}

	logger.Info("Shutting down...")
	wg.Wait()
	hub.Stop()

	if notifier != nil {
		notifier.Stop()
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("Kafka close: %v", err)
		}
	}
	// Flushes queued records
	if err := store.Close(); err != nil {
		logger.Warn("Store close: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	resolver.Close()

	logger.Info("Final stats: %v", analyzer.Stats())
}
