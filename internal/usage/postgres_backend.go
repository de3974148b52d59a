package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/minhvu-dev/subsweep/internal/logging"
)

// PostgresBackend implements the Backend interface using PostgreSQL with pgx.
type PostgresBackend struct {
	pool          *pgxpool.Pool
	recordChan    chan Record
	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	retentionDays int
}

// Postgres backend constants
const (
	pgDefaultBatchSize         = 100
	pgDefaultFlushInterval     = 5 * time.Second
	pgDefaultRetentionDays     = 30
	pgDefaultChannelBufferSize = 1000
)

// NewPostgresBackend creates a new PostgreSQL-backed persistence layer.
// The backend must be started with Start() before use.
func NewPostgresBackend(dsn string, cfg BackendConfig) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := ensurePostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = pgDefaultBatchSize
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = pgDefaultFlushInterval
	}

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = pgDefaultRetentionDays
	}

	return &PostgresBackend{
		pool:          pool,
		recordChan:    make(chan Record, pgDefaultChannelBufferSize),
		flushTicker:   time.NewTicker(flushInterval),
		stopChan:      make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retentionDays: retentionDays,
		cleanupTicker: time.NewTicker(24 * time.Hour),
	}, nil
}

// ensurePostgresSchema creates the translation_records table and indexes
// if they don't exist.
func ensurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS translation_records (
		id BIGSERIAL PRIMARY KEY,
		account_id TEXT NOT NULL,
		project_name TEXT NOT NULL,
		key_name TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		batch_id TEXT NOT NULL DEFAULT '',
		chunk_name TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		requested_at TIMESTAMPTZ NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT FALSE,
		prompt_tokens BIGINT NOT NULL DEFAULT 0,
		lines_in BIGINT NOT NULL DEFAULT 0,
		lines_out BIGINT NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_translation_requested_at ON translation_records(requested_at);
	CREATE INDEX IF NOT EXISTS idx_translation_account ON translation_records(account_id, project_name);
	CREATE INDEX IF NOT EXISTS idx_translation_model ON translation_records(model);
	`

	_, err := pool.Exec(ctx, schema)
	return err
}

// Start begins background workers (write loop, cleanup loop).
func (b *PostgresBackend) Start() error {
	b.wg.Add(2)
	go b.writeLoop()
	go b.cleanupLoop()
	return nil
}

// Stop gracefully shuts down the backend, flushing pending writes.
func (b *PostgresBackend) Stop() error {
	if b == nil {
		return nil
	}

	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.flushTicker.Stop()
		b.cleanupTicker.Stop()
		b.wg.Wait()
		if b.pool != nil {
			b.pool.Close()
		}
	})

	return nil
}

// Enqueue adds a record to the write queue.
// This method is non-blocking and safe for high-throughput use.
func (b *PostgresBackend) Enqueue(record Record) {
	if b == nil {
		return
	}
	select {
	case b.recordChan <- record:
	default:
		log.Warnf("Usage persistence queue full, dropping record for %s/%s", record.KeyName, record.Model)
	}
}

// Flush forces pending records to be written to storage.
func (b *PostgresBackend) Flush(ctx context.Context) error {
	if b == nil {
		return nil
	}

	batch := make([]Record, 0, b.batchSize)
	for {
		select {
		case record := <-b.recordChan:
			batch = append(batch, record)
			if len(batch) >= b.batchSize {
				if err := b.writeBatch(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				return b.writeBatch(ctx, batch)
			}
			return nil
		}
	}
}

// QueryGlobalStats returns aggregate statistics since the given time.
func (b *PostgresBackend) QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = false THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = true THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(lines_out), 0)
		FROM translation_records
		WHERE requested_at >= $1
	`, since)

	var stats AggregatedStats
	if err := row.Scan(&stats.TotalRequests, &stats.SuccessCount, &stats.FailureCount, &stats.PromptTokens, &stats.LinesTranslated); err != nil {
		return nil, fmt.Errorf("failed to query global stats: %w", err)
	}
	return &stats, nil
}

// QueryDailyStats returns per-day statistics since the given time.
func (b *PostgresBackend) QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			COALESCE(DATE(requested_at)::TEXT, TO_CHAR(NOW(), 'YYYY-MM-DD')) as day,
			COUNT(*) as requests,
			COALESCE(SUM(lines_out), 0) as lines
		FROM translation_records
		WHERE requested_at >= $1
		GROUP BY DATE(requested_at)
		HAVING DATE(requested_at) IS NOT NULL
		ORDER BY day
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var results []DailyStats
	for rows.Next() {
		var d DailyStats
		if err := rows.Scan(&d.Day, &d.Requests, &d.Lines); err != nil {
			return nil, err
		}
		if d.Day != "" {
			results = append(results, d)
		}
	}
	return results, rows.Err()
}

// QueryHourlyStats returns per-hour-of-day statistics since the given time.
func (b *PostgresBackend) QueryHourlyStats(ctx context.Context, since time.Time) ([]HourlyStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			EXTRACT(HOUR FROM requested_at)::INTEGER as hour,
			COUNT(*) as requests,
			COALESCE(SUM(lines_out), 0) as lines
		FROM translation_records
		WHERE requested_at >= $1
		GROUP BY EXTRACT(HOUR FROM requested_at)
		ORDER BY hour
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly stats: %w", err)
	}
	defer rows.Close()

	var results []HourlyStats
	for rows.Next() {
		var h HourlyStats
		if err := rows.Scan(&h.Hour, &h.Requests, &h.Lines); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

func (b *PostgresBackend) QueryAccountStats(ctx context.Context, since time.Time) ([]AccountStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			COALESCE(NULLIF(account_id, ''), 'unknown') as account_id,
			COALESCE(NULLIF(project_name, ''), 'unknown') as project_name,
			COUNT(*) as requests,
			SUM(CASE WHEN failed = false THEN 1 ELSE 0 END) as success_count,
			SUM(CASE WHEN failed = true THEN 1 ELSE 0 END) as failure_count,
			COALESCE(SUM(prompt_tokens), 0) as prompt_tokens,
			COALESCE(SUM(lines_out), 0) as lines,
			COALESCE(AVG(duration_ms)::BIGINT, 0) as avg_latency_ms
		FROM translation_records
		WHERE requested_at >= $1
		GROUP BY account_id, project_name
		ORDER BY requests DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query account stats: %w", err)
	}
	defer rows.Close()

	var results []AccountStats
	for rows.Next() {
		var as AccountStats
		if err := rows.Scan(
			&as.AccountID, &as.ProjectName, &as.Requests, &as.SuccessCount, &as.FailureCount,
			&as.PromptTokens, &as.Lines, &as.AvgLatencyMs,
		); err != nil {
			return nil, err
		}
		results = append(results, as)
	}
	return results, rows.Err()
}

func (b *PostgresBackend) QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			COALESCE(NULLIF(model, ''), 'unknown') as model,
			COUNT(*) as requests,
			SUM(CASE WHEN failed = false THEN 1 ELSE 0 END) as success_count,
			SUM(CASE WHEN failed = true THEN 1 ELSE 0 END) as failure_count,
			COALESCE(SUM(prompt_tokens), 0) as prompt_tokens,
			COALESCE(SUM(lines_out), 0) as lines,
			COALESCE(AVG(duration_ms)::BIGINT, 0) as avg_latency_ms
		FROM translation_records
		WHERE requested_at >= $1
		GROUP BY model
		ORDER BY requests DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query model stats: %w", err)
	}
	defer rows.Close()

	var results []ModelStats
	for rows.Next() {
		var ms ModelStats
		if err := rows.Scan(
			&ms.Model, &ms.Requests, &ms.SuccessCount, &ms.FailureCount,
			&ms.PromptTokens, &ms.Lines, &ms.AvgLatencyMs,
		); err != nil {
			return nil, err
		}
		results = append(results, ms)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the given time.
func (b *PostgresBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.pool.Exec(ctx, `
		DELETE FROM translation_records WHERE requested_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// writeLoop continuously reads from the record channel and writes in batches.
func (b *PostgresBackend) writeLoop() {
	defer b.wg.Done()

	batch := make([]Record, 0, b.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := b.writeBatch(ctx, batch); err != nil {
			log.Errorf("Failed to write usage batch: %v", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case record := <-b.recordChan:
			batch = append(batch, record)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-b.flushTicker.C:
			flush()
		case <-b.stopChan:
			// Drain remaining records
			for {
				select {
				case record := <-b.recordChan:
					batch = append(batch, record)
					if len(batch) >= b.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch writes a batch of records using CopyFrom for high performance.
func (b *PostgresBackend) writeBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	columns := []string{
		"account_id", "project_name", "key_name", "model", "batch_id",
		"chunk_name", "outcome", "requested_at", "failed", "prompt_tokens",
		"lines_in", "lines_out", "duration_ms", "error_message",
	}

	_, err := b.pool.CopyFrom(
		ctx,
		pgx.Identifier{"translation_records"},
		columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{
				r.AccountID,
				r.ProjectName,
				r.KeyName,
				r.Model,
				r.BatchID,
				r.ChunkName,
				r.Outcome,
				r.RequestedAt,
				r.Failed,
				r.PromptTokens,
				r.LinesIn,
				r.LinesOut,
				r.DurationMs,
				r.ErrorMessage,
			}, nil
		}),
	)

	if err != nil {
		return fmt.Errorf("failed to copy records: %w", err)
	}

	return nil
}

// cleanupLoop periodically removes old records based on retention policy.
func (b *PostgresBackend) cleanupLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.cleanupTicker.C:
			cutoffTime := time.Now().AddDate(0, 0, -b.retentionDays)
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
			rowsDeleted, err := b.Cleanup(ctx, cutoffTime)
			cancel()
			if err != nil {
				log.Errorf("Failed to cleanup old translation records: %v", err)
			} else if rowsDeleted > 0 {
				log.Infof("Cleaned up %d translation records older than %d days", rowsDeleted, b.retentionDays)
			}
		case <-b.stopChan:
			return
		}
	}
}
