package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/hervehildenbrand/cti-radar/pkg/logger"
	"github.com/hervehildenbrand/cti-radar/pkg/models"
)

const (
	batchSize     = 50
	batchInterval = 2 * time.Second
	queueSize     = 10000
)

const schema = `
CREATE TABLE IF NOT EXISTS threats (
	id         TEXT PRIMARY KEY,
	indicator  TEXT NOT NULL,
	source     TEXT NOT NULL,
	severity   TEXT NOT NULL DEFAULT '',
	country    TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL,
	tags       TEXT[] NOT NULL DEFAULT '{}',
	seen_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS threats_indicator_source_seen ON threats (indicator, source, seen_at);
CREATE INDEX IF NOT EXISTS threats_seen ON threats (seen_at);
`

// PostgresStore writes sightings to PostgreSQL in batches and serves
// aggregates straight from SQL.
type PostgresStore struct {
	db      *sql.DB
	queue   chan models.ThreatRecord
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// Stats
	recordsWritten uint64
	recordsDropped uint64
	batchesWritten uint64
}

// NewPostgresStore connects, creates the schema and starts the writer.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("[database] connected to PostgreSQL")

	s := &PostgresStore{
		db:    db,
		queue: make(chan models.ThreatRecord, queueSize),
		done:  make(chan struct{}),
	}
	s.start()
	return s, nil
}

func (s *PostgresStore) start() {
	if s.running.Swap(true) {
		return
	}
	s.wg.Add(1)
	go s.writerLoop()
	logger.Info("[database] threat writer started")
}

// Close flushes queued records and closes the pool.
func (s *PostgresStore) Close() error {
	if !s.running.Swap(false) {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	logger.Info("[database] threat writer stopped (written=%d, dropped=%d, batches=%d)",
		atomic.LoadUint64(&s.recordsWritten), atomic.LoadUint64(&s.recordsDropped), atomic.LoadUint64(&s.batchesWritten))
	return s.db.Close()
}

// Save queues rec for the next batch. It never blocks; records are dropped
// when the queue is full.
func (s *PostgresStore) Save(_ context.Context, rec models.ThreatRecord) error {
	if !s.running.Load() {
		return fmt.Errorf("store closed")
	}
	select {
	case s.queue <- prepare(rec):
	default:
		n := atomic.AddUint64(&s.recordsDropped, 1)
		if n%1000 == 1 {
			logger.Warn("[database] queue full, dropped %d records", n)
		}
	}
	return nil
}

func (s *PostgresStore) Stats() map[string]interface{} {
	return map[string]interface{}{
		"backend":         "postgres",
		"records_written": atomic.LoadUint64(&s.recordsWritten),
		"records_dropped": atomic.LoadUint64(&s.recordsDropped),
		"batches_written": atomic.LoadUint64(&s.batchesWritten),
		"queue_len":       len(s.queue),
		"queue_cap":       cap(s.queue),
	}
}

func (s *PostgresStore) writerLoop() {
	defer s.wg.Done()

	batch := make([]models.ThreatRecord, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				s.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.writeBatch(batch)
				batch = batch[:0]
			}

		case <-s.done:
			// Flush remaining records
			for drained := false; !drained; {
				select {
				case rec := <-s.queue:
					batch = append(batch, rec)
					if len(batch) >= batchSize {
						s.writeBatch(batch)
						batch = batch[:0]
					}
				default:
					drained = true
				}
			}
			if len(batch) > 0 {
				s.writeBatch(batch)
			}
			return
		}
	}
}

func (s *PostgresStore) writeBatch(batch []models.ThreatRecord) {
	tx, err := s.db.Begin()
	if err != nil {
		logger.Error("[database] begin transaction: %v", err)
		return
	}
	defer tx.Rollback()

	written := writeEach(tx, batch, func(rec models.ThreatRecord) error {
		return upsert(tx, rec)
	})

	if err := tx.Commit(); err != nil {
		logger.Error("[database] commit batch: %v", err)
		return
	}
	atomic.AddUint64(&s.recordsWritten, uint64(written))
	atomic.AddUint64(&s.batchesWritten, 1)
}

// writeEach runs write for every record inside its own savepoint, so a failed
// record is rolled back alone and the rest of the batch still commits.
func writeEach(tx execer, batch []models.ThreatRecord, write func(models.ThreatRecord) error) int {
	written := 0
	for _, rec := range batch {
		if _, err := tx.Exec(`SAVEPOINT batch_record`); err != nil {
			logger.Error("[database] savepoint: %v", err)
			return written
		}
		if err := write(rec); err != nil {
			logger.Error("[database] write %s/%s: %v", rec.Source, rec.Indicator, err)
			if _, err := tx.Exec(`ROLLBACK TO SAVEPOINT batch_record`); err != nil {
				logger.Error("[database] rollback to savepoint: %v", err)
				return written
			}
			continue
		}
		if _, err := tx.Exec(`RELEASE SAVEPOINT batch_record`); err != nil {
			logger.Error("[database] release savepoint: %v", err)
			return written
		}
		written++
	}
	return written
}

// upsert updates today's row for (indicator, source) or inserts a new one.
func upsert(tx *sql.Tx, rec models.ThreatRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	var existingID string
	err = tx.QueryRow(`
		SELECT id FROM threats
		WHERE indicator = $1 AND source = $2 AND seen_at >= $3
		LIMIT 1
	`, rec.Indicator, rec.Source, StartOfDay(rec.Timestamp)).Scan(&existingID)

	switch {
	case err == nil:
		_, err = tx.Exec(`
			UPDATE threats SET data = $1, severity = $2, country = $3, seen_at = $4
			WHERE id = $5
		`, data, severityKey(rec.Data.Severity), rec.Data.Country, rec.Timestamp, existingID)
		return err
	case err != sql.ErrNoRows:
		return fmt.Errorf("find existing: %w", err)
	}

	return insert(tx, rec, data)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insert(tx execer, rec models.ThreatRecord, data []byte) error {
	_, err := tx.Exec(`
		INSERT INTO threats (id, indicator, source, severity, country, data, tags, seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID,
		rec.Indicator,
		rec.Source,
		severityKey(rec.Data.Severity),
		rec.Data.Country,
		data,
		pq.Array(rec.Tags),
		rec.Timestamp,
	)
	return err
}

// Insert writes records synchronously in one transaction.
func (s *PostgresStore) Insert(ctx context.Context, records []models.ThreatRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		rec = prepare(rec)
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
		if err := insert(tx, rec, data); err != nil {
			return fmt.Errorf("insert %s: %w", rec.Indicator, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	atomic.AddUint64(&s.recordsWritten, uint64(len(records)))
	return nil
}

func (s *PostgresStore) Trends(ctx context.Context) ([]DayCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc('day', seen_at AT TIME ZONE 'UTC') AS day, count(*)
		FROM threats
		GROUP BY day
		ORDER BY day
	`)
	if err != nil {
		return nil, fmt.Errorf("query trends: %w", err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		dc.Day = StartOfDay(dc.Day)
		out = append(out, dc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) buckets(ctx context.Context, query string, args ...interface{}) ([]Bucket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) BySeverity(ctx context.Context) ([]Bucket, error) {
	out, err := s.buckets(ctx, `
		SELECT severity, count(*) AS n FROM threats
		WHERE severity <> ''
		GROUP BY severity
		ORDER BY n DESC, severity
	`)
	if err != nil {
		return nil, fmt.Errorf("query severity: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) BySource(ctx context.Context) ([]Bucket, error) {
	out, err := s.buckets(ctx, `
		SELECT source, count(*) AS n FROM threats
		GROUP BY source
		ORDER BY n DESC, source
	`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) TopCountries(ctx context.Context, limit int) ([]Bucket, error) {
	out, err := s.buckets(ctx, `
		SELECT country, count(*) AS n FROM threats
		WHERE country <> '' AND country <> $1
		GROUP BY country
		ORDER BY n DESC, country
		LIMIT $2
	`, models.NotAvailable, limit)
	if err != nil {
		return nil, fmt.Errorf("query countries: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) KPIs(ctx context.Context) (models.KPIs, error) {
	var k models.KPIs
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE severity = 'high'),
			count(*) FILTER (WHERE severity = 'medium'),
			count(DISTINCT indicator)
		FROM threats
	`).Scan(&k.TotalThreats, &k.HighSeverity, &k.MediumSeverity, &k.UniqueIndicators)
	if err != nil {
		return k, fmt.Errorf("query kpis: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) records(ctx context.Context, query string, args ...interface{}) ([]models.ThreatRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threats: %w", err)
	}
	defer rows.Close()

	var out []models.ThreatRecord
	for rows.Next() {
		var rec models.ThreatRecord
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.Indicator, &rec.Source, &data, pq.Array(&rec.Tags), &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan threat: %w", err)
		}
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			logger.Debug("[database] bad data for %s: %v", rec.ID, err)
		}
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]models.ThreatRecord, error) {
	return s.records(ctx, `
		SELECT id, indicator, source, data, tags, seen_at FROM threats
		ORDER BY seen_at DESC
		LIMIT $1
	`, limit)
}

func (s *PostgresStore) Export(ctx context.Context) ([]models.ThreatRecord, error) {
	return s.records(ctx, `
		SELECT id, indicator, source, data, tags, seen_at FROM threats
		ORDER BY seen_at
	`)
}

func (s *PostgresStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threats`)
	if err != nil {
		return 0, fmt.Errorf("delete threats: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) AddTag(ctx context.Context, id, tag string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE threats
		SET tags = CASE WHEN $2 = ANY(tags) THEN tags ELSE array_append(tags, $2) END
		WHERE id = $1
	`, id, tag)
	if err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM threats`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count threats: %w", err)
	}
	return n, nil
}
