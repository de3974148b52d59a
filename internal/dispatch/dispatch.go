// Package dispatch drives batch translation: it pulls credentials from the
// rotation scheduler, calls the translation endpoint through a bounded
// worker pool, and layers two kinds of resilience on top — per-chunk key
// failover and fleet-wide model-tier fallback.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/minhvu-dev/subsweep/internal/gemini"
	log "github.com/minhvu-dev/subsweep/internal/logging"
	"github.com/minhvu-dev/subsweep/internal/resilience"
	"github.com/minhvu-dev/subsweep/internal/rotation"
)

// DefaultModelPriority is the fixed fallback order: most capable preview
// first, lighter tiers last. A caller-specified model is moved to the head.
var DefaultModelPriority = []string{
	"gemini-3-pro-preview",
	"gemini-2.5-pro",
	"gemini-3-flash-preview",
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-2.5-flash-lite",
}

// Chunk is one unit of translation work: a named list of source lines.
type Chunk struct {
	ID    string
	Name  string
	Lines []string
}

// Caller is the external translation endpoint. *gemini.Client satisfies it;
// tests substitute fakes.
type Caller interface {
	Generate(ctx context.Context, prompt, apiKey, model string) (*gemini.Result, error)
}

// PromptFunc renders a chunk into the prompt sent to the endpoint.
type PromptFunc func(chunk Chunk) (string, error)

// Observer receives one event per completed call attempt, for usage
// accounting. May be nil.
type Observer interface {
	Observe(ev Event)
}

// Event describes one call attempt outcome.
type Event struct {
	BatchID      string
	ChunkName    string
	Model        string
	AccountID    string
	ProjectName  string
	KeyName      string
	Outcome      string
	Failed       bool
	PromptTokens int
	LinesIn      int
	LinesOut     int
	DurationMs   int64
	Error        string
}

// Config holds dispatcher tuning. Zero values fall back to defaults.
type Config struct {
	// Workers bounds the worker pool for one batch.
	Workers int
	// Stagger is the mandatory delay between call submissions across the
	// whole pool. It keeps aggregate request rate under the provider's
	// burst tolerance; it is a scheduling knob, not a correctness one.
	Stagger time.Duration
	// KeyAttempts bounds per-chunk key failover within one attempt.
	KeyAttempts int
	// Retry controls the chunk retry pass for non-fleet failures.
	Retry resilience.RetryConfig
	// Models is the tier priority list.
	Models []string
	// RetryBudget bounds concurrent retries across the batch.
	RetryBudget int64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.Stagger <= 0 {
		c.Stagger = time.Second
	}
	if c.KeyAttempts <= 0 {
		c.KeyAttempts = 8
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry = resilience.DefaultChunkRetryConfig
	}
	if len(c.Models) == 0 {
		c.Models = DefaultModelPriority
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 20
	}
	return c
}

// Dispatcher translates batches of chunks.
type Dispatcher struct {
	sched    *rotation.Scheduler
	rec      *rotation.Recorder
	caller   Caller
	prompt   PromptFunc
	cfg      Config
	limiter  *rate.Limiter
	budget   *resilience.RetryBudget
	observer Observer
}

// New builds a dispatcher. prompt must not be nil; observer may be.
func New(sched *rotation.Scheduler, rec *rotation.Recorder, caller Caller, prompt PromptFunc, cfg Config, observer Observer) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		sched:    sched,
		rec:      rec,
		caller:   caller,
		prompt:   prompt,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.Stagger), 1),
		budget:   resilience.NewRetryBudget(cfg.RetryBudget),
		observer: observer,
	}
}

// Run translates chunks starting at startModel, falling back through the
// tier list when the credential fleet is exhausted. It never fails the
// whole batch for individual chunk errors; the returned report carries
// per-chunk outcomes. The returned error is non-nil only for empty input
// or cancellation (the partial report is still returned alongside it).
func (d *Dispatcher) Run(ctx context.Context, chunks []Chunk, startModel string) (*Report, error) {
	if len(chunks) == 0 {
		return nil, errors.New("dispatch: empty batch")
	}

	report := newReport(uuid.NewString(), chunks)
	models := orderTiers(d.cfg.Models, startModel)

	pending := make([]Chunk, len(chunks))
	copy(pending, chunks)

	for tierIdx, model := range models {
		if len(pending) == 0 {
			break
		}
		report.TiersTried = append(report.TiersTried, model)
		log.Infof("dispatch: batch %s: %d chunk(s) on %s", report.BatchID, len(pending), model)

		pass := d.runPass(ctx, report, model, pending)
		pending = pass.remaining

		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			report.finish(model)
			return report, err
		}
		if len(pending) == 0 {
			report.finish(model)
			return report, nil
		}

		if pass.fleetExhausted {
			if tierIdx+1 < len(models) {
				next := models[tierIdx+1]
				log.Warnf("dispatch: fleet exhausted on %s, falling back to %s", model, next)
				// A tier switch implies a fresh per-tier quota, so
				// rate-limited and exhausted credentials come back.
				d.sched.ResetAllExceptDisabled()
				continue
			}
			log.Errorf("dispatch: fleet exhausted on %s with no fallback tier left", model)
			report.FleetExhausted = true
			break
		}

		// Non-fleet failures: retry the failed chunks on the same tier,
		// then stop. Content errors do not justify burning another tier.
		pending = d.retryFailed(ctx, report, model, pending)
		if err := ctx.Err(); err != nil {
			report.Cancelled = true
			report.finish(model)
			return report, err
		}
		report.finish(model)
		return report, nil
	}

	report.finish(report.lastTier())
	return report, nil
}

type passResult struct {
	remaining      []Chunk
	fleetExhausted bool
}

// runPass submits every pending chunk to the worker pool once. Chunks that
// complete are recorded in the report; chunks that hit fleet exhaustion
// stay pending; chunks that fail for content reasons are recorded as
// failed and also returned as remaining for the retry pass.
func (d *Dispatcher) runPass(ctx context.Context, report *Report, model string, pending []Chunk) passResult {
	var (
		res passResult
		mu  = &report.mu
	)
	noKey := &report.noKey
	noKey.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for _, chunk := range pending {
		chunk := chunk
		g.Go(func() error {
			if noKey.Load() || gctx.Err() != nil {
				return nil
			}
			out := d.attemptChunk(gctx, report.BatchID, model, chunk)
			mu.Lock()
			defer mu.Unlock()
			switch out.kind {
			case attemptDone:
				report.complete(chunk, model, out)
			case attemptFailed:
				report.fail(chunk, model, out)
			case attemptNoKey:
				noKey.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	mu.Lock()
	for _, chunk := range pending {
		if !report.isDone(chunk.Name) {
			res.remaining = append(res.remaining, chunk)
		}
	}
	res.fleetExhausted = noKey.Load()
	mu.Unlock()
	return res
}

// retryFailed gives non-fleet failures a bounded second chance with
// backoff, through a failsafe retry executor and the shared retry budget.
func (d *Dispatcher) retryFailed(ctx context.Context, report *Report, model string, pending []Chunk) []Chunk {
	exec := resilience.NewExecutor[*attemptOutcome](d.cfg.Retry)

	var remaining []Chunk
	for _, chunk := range pending {
		if ctx.Err() != nil {
			remaining = append(remaining, chunk)
			continue
		}
		if !d.budget.TryAcquire() {
			log.Warnf("dispatch: retry budget exhausted, giving up on %s", chunk.Name)
			remaining = append(remaining, chunk)
			continue
		}
		chunk := chunk
		out, err := exec.WithContext(ctx).Get(func() (*attemptOutcome, error) {
			o := d.attemptChunk(ctx, report.BatchID, model, chunk)
			if o.kind == attemptDone {
				return o, nil
			}
			if o.errMsg == "" {
				return nil, errors.New("no credential available")
			}
			return nil, errors.New(o.errMsg)
		})
		d.budget.Release()

		report.mu.Lock()
		if err == nil {
			report.complete(chunk, model, out)
		} else {
			report.failMessage(chunk, model, err.Error())
			remaining = append(remaining, chunk)
		}
		report.mu.Unlock()
	}
	return remaining
}

type attemptKind int

const (
	attemptDone attemptKind = iota
	attemptFailed
	attemptNoKey
	attemptCancelled
)

type attemptOutcome struct {
	kind     attemptKind
	lines    []string
	key      rotation.KeyInfo
	mismatch bool
	errMsg   string
}

// attemptChunk translates one chunk, failing over across credentials when
// the provider rate-limits or reports quota exhaustion. It ends in one of
// three states: done, failed (content error, retryable), or no-key (fleet
// exhausted for this tier).
func (d *Dispatcher) attemptChunk(ctx context.Context, batchID, model string, chunk Chunk) *attemptOutcome {
	prompt, err := d.prompt(chunk)
	if err != nil {
		return &attemptOutcome{kind: attemptFailed, errMsg: "build prompt: " + err.Error()}
	}
	promptTokens := gemini.EstimateTokens(prompt)

	for try := 0; try < d.cfg.KeyAttempts; try++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return &attemptOutcome{kind: attemptCancelled, errMsg: err.Error()}
		}

		key, ok := d.sched.Next()
		if !ok {
			return &attemptOutcome{kind: attemptNoKey}
		}
		log.Debugf("dispatch: %s via %s on %s", chunk.Name, key.Name, model)

		start := time.Now()
		res, callErr := d.caller.Generate(ctx, prompt, key.APIKey, model)
		elapsed := time.Since(start).Milliseconds()

		if callErr != nil {
			// Transport errors and timeouts are generic failures, never
			// rate-limit signals.
			d.rec.Failure(key.APIKey, callErr.Error())
			d.observe(Event{
				BatchID: batchID, ChunkName: chunk.Name, Model: model,
				AccountID: key.AccountID, ProjectName: key.ProjectName, KeyName: key.Name,
				Outcome: "error", Failed: true, PromptTokens: promptTokens,
				LinesIn: len(chunk.Lines), DurationMs: elapsed, Error: callErr.Error(),
			})
			return &attemptOutcome{kind: attemptFailed, key: key, errMsg: callErr.Error()}
		}

		ev := Event{
			BatchID: batchID, ChunkName: chunk.Name, Model: model,
			AccountID: key.AccountID, ProjectName: key.ProjectName, KeyName: key.Name,
			Outcome: res.Outcome.String(), PromptTokens: promptTokens,
			LinesIn: len(chunk.Lines), DurationMs: elapsed,
		}

		switch res.Outcome {
		case gemini.OutcomeRateLimited:
			d.rec.RateLimited(key.APIKey)
			ev.Failed = true
			ev.Error = res.ErrorMessage
			d.observe(ev)
			continue // fail over to the next credential

		case gemini.OutcomeQuotaExhausted:
			d.rec.QuotaExhausted(key.APIKey)
			ev.Failed = true
			ev.Error = res.ErrorMessage
			d.observe(ev)
			continue

		case gemini.OutcomeFailed:
			d.rec.Failure(key.APIKey, res.ErrorMessage)
			ev.Failed = true
			ev.Error = res.ErrorMessage
			d.observe(ev)
			return &attemptOutcome{kind: attemptFailed, key: key, errMsg: res.ErrorMessage}

		default: // OutcomeSuccess
			lines := gemini.ParseDelimited(res.Text)
			if len(lines) == 0 {
				// The call itself succeeded; a parse failure is a chunk
				// error and must not penalize the credential.
				d.rec.Success(key.APIKey)
				ev.Error = "empty translation after parsing"
				d.observe(ev)
				return &attemptOutcome{kind: attemptFailed, key: key, errMsg: "empty translation after parsing"}
			}
			d.rec.Success(key.APIKey)
			mismatch := len(lines) != len(chunk.Lines)
			if mismatch {
				log.Warnf("dispatch: %s: expected %d segments, got %d", chunk.Name, len(chunk.Lines), len(lines))
			}
			ev.LinesOut = len(lines)
			d.observe(ev)
			return &attemptOutcome{kind: attemptDone, lines: lines, key: key, mismatch: mismatch}
		}
	}
	return &attemptOutcome{kind: attemptFailed, errMsg: "all credential attempts failed"}
}

func (d *Dispatcher) observe(ev Event) {
	if d.observer != nil {
		d.observer.Observe(ev)
	}
}

// orderTiers moves startModel to the head of the priority list, keeping
// the rest in order. An unknown startModel is prepended.
func orderTiers(models []string, startModel string) []string {
	if startModel == "" {
		out := make([]string, len(models))
		copy(out, models)
		return out
	}
	out := []string{startModel}
	for _, m := range models {
		if m != startModel {
			out = append(out, m)
		}
	}
	return out
}
