package usage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/minhvu-dev/subsweep/internal/dispatch"
	log "github.com/minhvu-dev/subsweep/internal/logging"
)

var (
	statisticsEnabled atomic.Bool
	defaultSink       *Sink
	activeBackend     Backend
)

func init() {
	statisticsEnabled.Store(true)
}

// Sink collects usage statistics from the dispatcher using lock-free
// counters and delegates persistence to a Backend implementation.
// It satisfies dispatch.Observer.
type Sink struct {
	counters *Counters
	backend  Backend
}

// NewSink constructs a sink with the given backend. backend may be nil,
// in which case only in-memory counters are kept.
func NewSink(backend Backend) *Sink {
	return &Sink{
		counters: NewCounters(),
		backend:  backend,
	}
}

// Observe implements dispatch.Observer. It updates lock-free counters
// and enqueues a record to the backend.
func (s *Sink) Observe(ev dispatch.Event) {
	if s == nil || !statisticsEnabled.Load() {
		return
	}

	s.counters.Record(ev.Failed, int64(ev.PromptTokens), int64(ev.LinesOut))

	if s.backend != nil {
		s.backend.Enqueue(Record{
			AccountID:    ev.AccountID,
			ProjectName:  ev.ProjectName,
			KeyName:      ev.KeyName,
			Model:        ev.Model,
			BatchID:      ev.BatchID,
			ChunkName:    ev.ChunkName,
			Outcome:      ev.Outcome,
			RequestedAt:  time.Now(),
			Failed:       ev.Failed,
			PromptTokens: int64(ev.PromptTokens),
			LinesIn:      int64(ev.LinesIn),
			LinesOut:     int64(ev.LinesOut),
			DurationMs:   ev.DurationMs,
			ErrorMessage: ev.Error,
		})
	}
}

// GetCounters returns the current counter snapshot.
func (s *Sink) GetCounters() CounterSnapshot {
	if s == nil {
		return CounterSnapshot{}
	}
	return s.counters.Snapshot()
}

// GetBackend returns the backend for query operations.
func (s *Sink) GetBackend() Backend {
	if s == nil {
		return nil
	}
	return s.backend
}

// SetStatisticsEnabled toggles whether statistics are recorded.
func SetStatisticsEnabled(enabled bool) { statisticsEnabled.Store(enabled) }

// StatisticsEnabled reports the current recording state.
func StatisticsEnabled() bool { return statisticsEnabled.Load() }

// Initialize creates and starts the backend and the shared sink, seeding
// counters from historical data.
func Initialize(cfg BackendConfig) error {
	backend, err := NewBackend(cfg)
	if err != nil {
		return err
	}
	if err := backend.Start(); err != nil {
		return err
	}
	activeBackend = backend

	sink := NewSink(backend)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := backend.QueryGlobalStats(ctx, time.Time{})
	if err != nil {
		log.Warnf("Failed to bootstrap usage counters from history: %v", err)
	} else if stats != nil {
		sink.counters.Bootstrap(
			stats.TotalRequests,
			stats.SuccessCount,
			stats.FailureCount,
			stats.PromptTokens,
			stats.LinesTranslated,
		)
		log.Infof("Bootstrapped usage counters: %d requests, %d lines", stats.TotalRequests, stats.LinesTranslated)
	}

	defaultSink = sink
	return nil
}

// Stop gracefully shuts down the usage system.
func Stop() error {
	if activeBackend != nil {
		return activeBackend.Stop()
	}
	return nil
}

// GetSink returns the shared sink instance, or nil if Initialize was
// never called.
func GetSink() *Sink { return defaultSink }
