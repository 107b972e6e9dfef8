package dashboard

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

// Feed caps per skin
const (
	OperationsFeedCap = 50
	OverviewFeedCap   = 10
)

// HighlightDuration is how long the newest row stays highlighted.
const HighlightDuration = 2 * time.Second

// Row is one rendered feed entry.
type Row struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Severity    models.Severity `json:"severity"`
	Indicator   string          `json:"indicator"`
	Owner       string          `json:"owner"`
	Country     string          `json:"country"`
	Highlighted bool            `json:"highlighted"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// Feed is a newest-first list of rows with a fixed cap. Each row ID maps to
// the full event so selection does not depend on rendered text.
type Feed struct {
	mu        sync.Mutex
	cap       int
	rows      []*Row
	records   map[string]models.ThreatEvent
	highlight time.Duration
	sched     *Scheduler
	tasks     map[string]*Task
}

// NewFeed creates a feed capped at limit rows. sched owns highlight timers.
func NewFeed(limit int, sched *Scheduler) *Feed {
	if limit < 1 {
		limit = 1
	}
	return &Feed{
		cap:       limit,
		records:   make(map[string]models.ThreatEvent),
		highlight: HighlightDuration,
		sched:     sched,
		tasks:     make(map[string]*Task),
	}
}

// Cap returns the configured maximum length.
func (f *Feed) Cap() int {
	return f.cap
}

// Append inserts a row for event at the head, evicting from the tail while over cap.
func (f *Feed) Append(event models.ThreatEvent, source string) Row {
	row := &Row{
		ID:          uuid.New().String(),
		Source:      source,
		Severity:    event.Severity.Normalize(),
		Indicator:   event.Indicator,
		Owner:       ispOrOwner(event),
		Country:     CountryLabel(event.Country),
		Highlighted: true,
		ReceivedAt:  time.Now(),
	}

	f.mu.Lock()
	f.rows = append([]*Row{row}, f.rows...)
	f.records[row.ID] = event
	for len(f.rows) > f.cap {
		last := f.rows[len(f.rows)-1]
		f.rows = f.rows[:len(f.rows)-1]
		f.evictLocked(last.ID)
	}
	out := *row
	f.mu.Unlock()

	if f.sched != nil {
		id := row.ID
		task := f.sched.After(f.highlight, func() { f.clearHighlight(id) })
		if task != nil {
			f.mu.Lock()
			if _, live := f.records[id]; live {
				f.tasks[id] = task
			} else {
				task.Cancel()
			}
			f.mu.Unlock()
		}
	}
	return out
}

func (f *Feed) evictLocked(id string) {
	delete(f.records, id)
	if task, ok := f.tasks[id]; ok {
		task.Cancel()
		delete(f.tasks, id)
	}
}

func (f *Feed) clearHighlight(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	for _, r := range f.rows {
		if r.ID == id {
			r.Highlighted = false
			return
		}
	}
}

// Rows returns a snapshot of the feed, newest first.
func (f *Feed) Rows() []Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Row, len(f.rows))
	for i, r := range f.rows {
		out[i] = *r
	}
	return out
}

// Len returns the current number of rows.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// Lookup returns the full event behind a row.
func (f *Feed) Lookup(id string) (models.ThreatEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.records[id]
	return e, ok
}
