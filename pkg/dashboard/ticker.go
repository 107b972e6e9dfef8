package dashboard

import (
	"context"
	"sync"
	"time"
)

// Ticker timings
const (
	AnalysisInterval = 10 * time.Second
	FadeDuration     = 500 * time.Millisecond
)

// AnalysisSnippets are the canned analyst notes rotated by the ticker.
var AnalysisSnippets = []string{
	"ANALYSIS: Correlating multiple high-confidence reports from AbuseIPDB with recent VirusTotal detections. A potential coordinated brute-force campaign targeting SSH on port 22 is emerging from ISP 'DigitalOcean'.",
	"TRENDING: Observed a 35% increase in phishing indicators originating from country code 'VN' (Vietnam) over the past 6 hours. Associated domains frequently use keywords like 'invoice' and 'payment'.",
	"ALERT: New indicator '198.54.117.199' matches signature for 'Cobalt Strike' C2 server. This IP should be considered high-risk and blocked at the perimeter immediately. Escalating for investigation.",
	"INSIGHT: Geolocation data shows a cluster of malicious activity in Central Europe. Cross-referencing with ISP data suggests a single actor may be using a botnet for credential stuffing attacks.",
	"MONITORING: A low-severity but high-volume scan is detected from the ASN 'AS-CHOOPA'. While currently benign, this behavior is often a precursor to a larger attack. Continuing to monitor.",
}

// AnalysisTicker cycles through snippets with a fade around each swap.
type AnalysisTicker struct {
	mu       sync.Mutex
	snippets []string
	index    int
	text     string
	visible  bool
	fade     time.Duration
	sched    *Scheduler
	onChange func(text string)
}

// NewAnalysisTicker creates a ticker over snippets. A nil sched swaps text immediately.
func NewAnalysisTicker(snippets []string, sched *Scheduler, onChange func(string)) *AnalysisTicker {
	if len(snippets) == 0 {
		snippets = AnalysisSnippets
	}
	return &AnalysisTicker{
		snippets: snippets,
		visible:  true,
		fade:     FadeDuration,
		sched:    sched,
		onChange: onChange,
	}
}

// Tick fades out, advances the index modulo the list length and fades back in.
func (t *AnalysisTicker) Tick() {
	t.mu.Lock()
	t.visible = false
	t.mu.Unlock()

	if t.sched == nil {
		t.swap()
		return
	}
	t.sched.After(t.fade, t.swap)
}

func (t *AnalysisTicker) swap() {
	t.mu.Lock()
	t.index = (t.index + 1) % len(t.snippets)
	t.text = t.snippets[t.index]
	t.visible = true
	text, cb := t.text, t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(text)
	}
}

// Run performs the initial tick and then one every interval until ctx is done.
func (t *AnalysisTicker) Run(ctx context.Context, interval time.Duration) {
	t.Tick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Text returns the displayed snippet and whether it is faded in.
func (t *AnalysisTicker) Text() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text, t.visible
}

// Index returns the current snippet index.
func (t *AnalysisTicker) Index() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index
}
