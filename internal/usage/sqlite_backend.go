package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/minhvu-dev/subsweep/internal/logging"
	_ "modernc.org/sqlite"
)

// SQLiteBackend implements the Backend interface using SQLite.
type SQLiteBackend struct {
	db            *sql.DB
	recordChan    chan Record
	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	retentionDays int
	dbPath        string
}

// SQLite backend constants
const (
	sqliteDefaultBatchSize         = 100
	sqliteDefaultFlushInterval     = 5 * time.Second
	sqliteDefaultRetentionDays     = 30
	sqliteDefaultChannelBufferSize = 1000
)

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS translation_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		project_name TEXT NOT NULL,
		key_name TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		batch_id TEXT NOT NULL DEFAULT '',
		chunk_name TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		requested_at TIMESTAMP NOT NULL,
		failed BOOLEAN NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		lines_in INTEGER NOT NULL DEFAULT 0,
		lines_out INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_translation_requested_at ON translation_records(requested_at);
	CREATE INDEX IF NOT EXISTS idx_translation_account ON translation_records(account_id, project_name);
	CREATE INDEX IF NOT EXISTS idx_translation_model ON translation_records(model);
	`

	_, err := db.Exec(schema)
	return err
}

// NewSQLiteBackend creates a new SQLite-backed persistence layer.
// The backend must be started with Start() before use.
func NewSQLiteBackend(dbPath string, cfg BackendConfig) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("SQLite path is required")
	}

	// Expand ~ to home directory
	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	// Ensure parent directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = sqliteDefaultBatchSize
	}

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = sqliteDefaultFlushInterval
	}

	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = sqliteDefaultRetentionDays
	}

	return &SQLiteBackend{
		db:            db,
		recordChan:    make(chan Record, sqliteDefaultChannelBufferSize),
		flushTicker:   time.NewTicker(flushInterval),
		stopChan:      make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retentionDays: retentionDays,
		cleanupTicker: time.NewTicker(24 * time.Hour), // Cleanup daily
		dbPath:        dbPath,
	}, nil
}

// Start begins background workers (write loop, cleanup loop).
func (b *SQLiteBackend) Start() error {
	b.wg.Add(2)
	go b.writeLoop()
	go b.cleanupLoop()
	return nil
}

// Stop gracefully shuts down the backend, flushing pending writes.
func (b *SQLiteBackend) Stop() error {
	if b == nil {
		return nil
	}

	var err error
	b.stopOnce.Do(func() {
		close(b.stopChan)
		b.flushTicker.Stop()
		b.cleanupTicker.Stop()
		b.wg.Wait()
		if b.db != nil {
			err = b.db.Close()
		}
	})

	return err
}

// Enqueue adds a record to the write queue.
// This method is non-blocking and safe for high-throughput use.
func (b *SQLiteBackend) Enqueue(record Record) {
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
func (b *SQLiteBackend) Flush(ctx context.Context) error {
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
func (b *SQLiteBackend) QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(lines_out), 0)
		FROM translation_records
		WHERE requested_at >= ?
	`, since)

	var stats AggregatedStats
	if err := row.Scan(&stats.TotalRequests, &stats.SuccessCount, &stats.FailureCount, &stats.PromptTokens, &stats.LinesTranslated); err != nil {
		return nil, fmt.Errorf("failed to query global stats: %w", err)
	}
	return &stats, nil
}

// QueryDailyStats returns per-day statistics since the given time.
func (b *SQLiteBackend) QueryDailyStats(ctx context.Context, since time.Time) ([]DailyStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			COALESCE(DATE(requested_at), DATE('now')) as day,
			COUNT(*) as requests,
			COALESCE(SUM(lines_out), 0) as lines
		FROM translation_records
		WHERE requested_at >= ?
		GROUP BY DATE(requested_at)
		HAVING day IS NOT NULL
		ORDER BY day
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var results []DailyStats
	for rows.Next() {
		var d DailyStats
		var dayStr sql.NullString
		if err := rows.Scan(&dayStr, &d.Requests, &d.Lines); err != nil {
			return nil, err
		}
		if dayStr.Valid && dayStr.String != "" {
			d.Day = dayStr.String
			results = append(results, d)
		}
	}
	return results, rows.Err()
}

// QueryHourlyStats returns per-hour-of-day statistics since the given time.
func (b *SQLiteBackend) QueryHourlyStats(ctx context.Context, since time.Time) ([]HourlyStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			CAST(strftime('%H', requested_at) AS INTEGER) as hour,
			COUNT(*) as requests,
			COALESCE(SUM(lines_out), 0) as lines
		FROM translation_records
		WHERE requested_at >= ?
		GROUP BY hour
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

func (b *SQLiteBackend) QueryAccountStats(ctx context.Context, since time.Time) ([]AccountStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			COALESCE(NULLIF(account_id, ''), 'unknown') as account_id,
			COALESCE(NULLIF(project_name, ''), 'unknown') as project_name,
			COUNT(*) as requests,
			SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END) as success_count,
			SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END) as failure_count,
			COALESCE(SUM(prompt_tokens), 0) as prompt_tokens,
			COALESCE(SUM(lines_out), 0) as lines,
			COALESCE(CAST(AVG(duration_ms) AS INTEGER), 0) as avg_latency_ms
		FROM translation_records
		WHERE requested_at >= ?
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

func (b *SQLiteBackend) QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			COALESCE(NULLIF(model, ''), 'unknown') as model,
			COUNT(*) as requests,
			SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END) as success_count,
			SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END) as failure_count,
			COALESCE(SUM(prompt_tokens), 0) as prompt_tokens,
			COALESCE(SUM(lines_out), 0) as lines,
			COALESCE(CAST(AVG(duration_ms) AS INTEGER), 0) as avg_latency_ms
		FROM translation_records
		WHERE requested_at >= ?
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
func (b *SQLiteBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, `
		DELETE FROM translation_records WHERE requested_at < ?
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DBPath returns the filesystem path to the SQLite database.
func (b *SQLiteBackend) DBPath() string {
	if b == nil {
		return ""
	}
	return b.dbPath
}

// writeLoop continuously reads from the record channel and writes in batches.
func (b *SQLiteBackend) writeLoop() {
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

// writeBatch writes a batch of records to the database in a single transaction.
func (b *SQLiteBackend) writeBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO translation_records (
			account_id, project_name, key_name, model, batch_id, chunk_name,
			outcome, requested_at, failed, prompt_tokens, lines_in, lines_out,
			duration_ms, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		_, err := stmt.ExecContext(ctx,
			record.AccountID,
			record.ProjectName,
			record.KeyName,
			record.Model,
			record.BatchID,
			record.ChunkName,
			record.Outcome,
			record.RequestedAt,
			record.Failed,
			record.PromptTokens,
			record.LinesIn,
			record.LinesOut,
			record.DurationMs,
			record.ErrorMessage,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// cleanupLoop periodically removes old records based on retention policy.
func (b *SQLiteBackend) cleanupLoop() {
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
