package intel

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// DefaultWatchlist is the set of known-bad IPs the live feed samples from.
var DefaultWatchlist = []string{
	"185.220.101.4", "91.219.29.55", "198.54.117.199",
	"172.67.139.117", "104.21.23.149", "195.133.40.25",
}

// LiveFeedSource labels results pushed by the poller.
func LiveFeedSource(provider string) string {
	return "Live Threat Feed (" + provider + ")"
}

// Poller periodically re-checks a random watchlist IP and pushes the results
// to the dashboards without persisting them.
type Poller struct {
	providers []Provider
	watchlist []string
	out       Broadcaster

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPoller creates a poller. Providers are typically AbuseIPDB and ThreatFox.
func NewPoller(providers []Provider, watchlist []string, out Broadcaster, rng *rand.Rand) *Poller {
	if len(watchlist) == 0 {
		watchlist = DefaultWatchlist
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Poller{providers: providers, watchlist: watchlist, out: out, rng: rng}
}

func (p *Poller) pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watchlist[p.rng.Intn(len(p.watchlist))]
}

// Poll checks one watchlist IP and returns it.
func (p *Poller) Poll(ctx context.Context) string {
	indicator := p.pick()
	logger.Info("[poller] polling %s", indicator)

	for _, provider := range p.providers {
		ev, err := provider.Query(ctx, indicator)
		if err != nil {
			logger.Warn("[poller] %s query for %s failed: %v", provider.Name(), indicator, err)
			continue
		}
		if ev == nil {
			continue
		}
		if ev.Indicator == "" {
			ev.Indicator = indicator
		}

		logger.Debug("[poller] pushing %s from %s", indicator, provider.Name())
		p.out.Broadcast(models.EventNewThreatData, models.ThreatData{
			Source: LiveFeedSource(provider.Name()),
			Data:   *ev,
		})
		if ev.HasCoordinates() {
			p.out.Broadcast(models.EventNewGeoThreat, *ev)
		}
	}
	return indicator
}

// Run polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("[poller] live feed every %v over %d indicators", interval, len(p.watchlist))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}
