// cti-dashboard - Headless dashboard client for cti-radar.
//
// It connects to the backend push channel, keeps the same state a browser
// dashboard would (live feed, severity stats, map markers, charts) and logs a
// snapshot periodically. Indicators passed with -lookup are submitted for
// analysis once connected.
//
// Usage:
//
//	cti-dashboard -server=http://localhost:5000 -skin=overview -lookup=8.8.8.8
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hervehildenbrand/cti-radar/pkg/api"
	"github.com/hervehildenbrand/cti-radar/pkg/config"
	"github.com/hervehildenbrand/cti-radar/pkg/dashboard"
	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
	"github.com/hervehildenbrand/cti-radar/pkg/socket"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file (optional)")
	serverFlag = flag.String("server", "", "Backend base URL (overrides dashboard.server_url)")
	skinFlag   = flag.String("skin", "", "Dashboard skin: operations or overview (overrides dashboard.skin)")
	lookupFlag = flag.String("lookup", "", "Comma-separated indicators to analyse once connected")
	geojson    = flag.Bool("geojson", false, "Log map markers as GeoJSON with each snapshot")
)

func main() {
	flag.Parse()
	logger.Init("info", "text")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	if *serverFlag != "" {
		cfg.Dashboard.ServerURL = *serverFlag
	}
	if *skinFlag != "" {
		cfg.Dashboard.Skin = *skinFlag
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: %v", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	skin, err := dashboard.SkinByName(cfg.Dashboard.Skin)
	if err != nil {
		logger.Fatal("%v", err)
	}
	wsURL, err := socket.WebsocketURL(cfg.Dashboard.ServerURL)
	if err != nil {
		logger.Fatal("Invalid server URL: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := socket.NewClient(wsURL)
	view := dashboard.NewView(skin, client)
	view.Register(client)

	pending := splitIndicators(*lookupFlag)
	client.On(models.EventConnect, func(json.RawMessage) {
		for _, indicator := range pending {
			if err := view.Lookup(indicator); err != nil {
				logger.Warn("[dashboard] lookup %s: %v", indicator, err)
			}
		}
		pending = nil
	})
	client.On(models.EventTagAdded, func(data json.RawMessage) {
		var tag models.TagRequest
		if err := json.Unmarshal(data, &tag); err == nil {
			logger.Info("[dashboard] tag %q added to %s", tag.Tag, tag.ThreatID)
		}
	})

	logger.Info("cti-dashboard starting (skin=%s, server=%s)", skin.Name, cfg.Dashboard.ServerURL)
	client.Start()
	view.Start(ctx, api.NewClient(cfg.Dashboard.ServerURL, nil))

	ticker := time.NewTicker(cfg.Dashboard.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down...")
			client.Stop()
			view.Close()
			logSnapshot(view)
			return
		case <-ticker.C:
			logSnapshot(view)
		}
	}
}

func logSnapshot(view *dashboard.View) {
	snap := view.Snapshot()
	logger.Info("SNAPSHOT: status=%q today=%d high=%d counts=%+v feed=%d markers=%d analysis=%q",
		snap.Status, snap.IndicatorsToday, snap.HighSeverity, snap.Counts, snap.FeedLen, snap.Markers, snap.Analysis)

	if rows := view.Feed().Rows(); len(rows) > 0 {
		latest := rows[0]
		logger.Info("LATEST: [%s] %s %s owner=%s country=%s",
			strings.ToUpper(string(latest.Severity)), latest.Source, latest.Indicator, latest.Owner, latest.Country)
	}
	if snap.KPIs != nil {
		logger.Info("KPIS: total=%d high=%d medium=%d unique=%d top_countries=%+v",
			snap.KPIs.TotalThreats, snap.KPIs.HighSeverity, snap.KPIs.MediumSeverity, snap.KPIs.UniqueIndicators, snap.TopCountries)
	}
	if *geojson {
		if raw, err := view.Map().GeoJSON(); err == nil {
			logger.Info("MAP: %s", raw)
		}
	}
}

func splitIndicators(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
