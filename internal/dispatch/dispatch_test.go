package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minhvu-dev/subsweep/internal/gemini"
	"github.com/minhvu-dev/subsweep/internal/keystore"
	"github.com/minhvu-dev/subsweep/internal/resilience"
	"github.com/minhvu-dev/subsweep/internal/rotation"
)

// fakeCaller scripts Generate responses and records every call.
type fakeCaller struct {
	mu      sync.Mutex
	calls   []fakeCall
	respond func(n int, prompt, apiKey, model string) (*gemini.Result, error)
}

type fakeCall struct {
	prompt string
	apiKey string
	model  string
}

func (f *fakeCaller) Generate(ctx context.Context, prompt, apiKey, model string) (*gemini.Result, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, fakeCall{prompt: prompt, apiKey: apiKey, model: model})
	f.mu.Unlock()
	return f.respond(n, prompt, apiKey, model)
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCaller) keysUsed() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	used := make(map[string]int)
	for _, c := range f.calls {
		used[c.apiKey]++
	}
	return used
}

// echo returns the prompt itself as the translation, so a chunk's output
// lines equal its input lines when the prompt is the delimited join below.
func echo(prompt string) (*gemini.Result, error) {
	return &gemini.Result{Outcome: gemini.OutcomeSuccess, Text: prompt}, nil
}

func delimitedPrompt(chunk Chunk) (string, error) {
	return "|" + strings.Join(chunk.Lines, "|") + "|", nil
}

func testFleet(t *testing.T, numAccounts, numProjects int) (*rotation.Scheduler, *rotation.Recorder, *keystore.Store) {
	t.Helper()
	var seeds []keystore.AccountSeed
	for a := 0; a < numAccounts; a++ {
		seed := keystore.AccountSeed{AccountID: "acct" + string(rune('0'+a))}
		for p := 0; p < numProjects; p++ {
			seed.Projects = append(seed.Projects, keystore.ProjectSeed{
				ProjectName: "proj" + string(rune('0'+p)),
				APIKey:      seed.AccountID + "-proj" + string(rune('0'+p)),
			})
		}
		seeds = append(seeds, seed)
	}
	settings := keystore.DefaultSettings()
	settings.ProjectsPerAccount = numProjects
	store, err := keystore.Open(filepath.Join(t.TempDir(), "state.json"), seeds, settings)
	if err != nil {
		t.Fatal(err)
	}
	return rotation.NewScheduler(store), rotation.NewRecorder(store), store
}

func fastConfig() Config {
	return Config{
		Workers:     3,
		Stagger:     time.Microsecond,
		KeyAttempts: 8,
		Models:      []string{"tier-1", "tier-2"},
		Retry: resilience.RetryConfig{
			MaxRetries:  2,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			JitterDelay: time.Millisecond,
		},
	}
}

func makeChunks(n, linesPer int) []Chunk {
	var chunks []Chunk
	for i := 0; i < n; i++ {
		c := Chunk{ID: "id", Name: "part-" + string(rune('1'+i))}
		for l := 0; l < linesPer; l++ {
			c.Lines = append(c.Lines, c.Name+"-line-"+string(rune('1'+l)))
		}
		chunks = append(chunks, c)
	}
	return chunks
}

func TestRunAllSuccess(t *testing.T) {
	sched, rec, _ := testFleet(t, 2, 2)
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		return echo(prompt)
	}}
	d := New(sched, rec, caller, delimitedPrompt, fastConfig(), nil)

	chunks := makeChunks(5, 3)
	report, err := d.Run(context.Background(), chunks, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("report not complete: %d/%d done, failed: %v",
			report.DoneChunks, report.TotalChunks, report.Failed())
	}
	if report.FinalModel != "tier-1" {
		t.Errorf("final model = %s, want tier-1", report.FinalModel)
	}
	if len(report.TiersTried) != 1 {
		t.Errorf("tiers tried = %v, want one", report.TiersTried)
	}
	for i, cr := range report.Chunks {
		if !cr.Done {
			t.Errorf("chunk %s not done: %s", cr.Name, cr.LastError)
			continue
		}
		if len(cr.Lines) != len(chunks[i].Lines) {
			t.Errorf("chunk %s: %d lines out, want %d", cr.Name, len(cr.Lines), len(chunks[i].Lines))
		}
		if cr.CountMismatch {
			t.Errorf("chunk %s flagged count mismatch", cr.Name)
		}
	}

	// Five draws over a four-key fleet: every key used, none more than twice.
	used := caller.keysUsed()
	if len(used) != 4 {
		t.Errorf("keys used = %d, want all 4 (%v)", len(used), used)
	}
	for key, n := range used {
		if n > 2 {
			t.Errorf("key %s used %d times, want <= 2", key, n)
		}
	}
}

func TestRunFailsOverOnRateLimit(t *testing.T) {
	sched, rec, store := testFleet(t, 2, 1)
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		if apiKey == "acct0-proj0" {
			return &gemini.Result{Outcome: gemini.OutcomeRateLimited, ErrorMessage: "rate limit exceeded"}, nil
		}
		return echo(prompt)
	}}
	cfg := fastConfig()
	cfg.Workers = 1
	d := New(sched, rec, caller, delimitedPrompt, cfg, nil)

	report, err := d.Run(context.Background(), makeChunks(1, 2), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("report not complete: %v", report.Failed())
	}
	if report.Chunks[0].KeyName != "acct1/proj0" {
		t.Errorf("completed via %s, want failover key acct1/proj0", report.Chunks[0].KeyName)
	}

	store.View(func(cfg *keystore.Config) {
		cred := keystore.FindByKey(cfg, "acct0-proj0")
		if cred.Status != keystore.StatusRateLimited {
			t.Errorf("rate-limited credential status = %s", cred.Status)
		}
		good := keystore.FindByKey(cfg, "acct1-proj0")
		if good.Stats.SuccessCount != 1 {
			t.Errorf("failover key success count = %d, want 1", good.Stats.SuccessCount)
		}
	})
}

func TestRunFallsBackTiersOnFleetExhaustion(t *testing.T) {
	sched, rec, _ := testFleet(t, 1, 1)
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		if model == "tier-1" {
			return &gemini.Result{Outcome: gemini.OutcomeQuotaExhausted, ErrorMessage: "quota exceeded"}, nil
		}
		return echo(prompt)
	}}
	d := New(sched, rec, caller, delimitedPrompt, fastConfig(), nil)

	report, err := d.Run(context.Background(), makeChunks(2, 2), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("report not complete: %v", report.Failed())
	}
	if report.FinalModel != "tier-2" {
		t.Errorf("final model = %s, want tier-2", report.FinalModel)
	}
	want := []string{"tier-1", "tier-2"}
	if len(report.TiersTried) != 2 || report.TiersTried[0] != want[0] || report.TiersTried[1] != want[1] {
		t.Errorf("tiers tried = %v, want %v", report.TiersTried, want)
	}
	if report.FleetExhausted {
		t.Error("fleet exhausted flag set despite successful fallback")
	}
}

func TestRunTotalFleetExhaustion(t *testing.T) {
	sched, rec, _ := testFleet(t, 1, 1)
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		return &gemini.Result{Outcome: gemini.OutcomeQuotaExhausted, ErrorMessage: "quota exceeded"}, nil
	}}
	d := New(sched, rec, caller, delimitedPrompt, fastConfig(), nil)

	report, err := d.Run(context.Background(), makeChunks(1, 1), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.FleetExhausted {
		t.Error("fleet exhausted flag not set")
	}
	if !report.TotalFailure() {
		t.Errorf("done chunks = %d, want 0", report.DoneChunks)
	}
	if len(report.TiersTried) != 2 {
		t.Errorf("tiers tried = %v, want both", report.TiersTried)
	}
}

func TestRunRetriesContentFailures(t *testing.T) {
	sched, rec, _ := testFleet(t, 2, 2)
	var flaky sync.Map
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		// First call per prompt fails with a content error, second succeeds.
		if _, seen := flaky.LoadOrStore(prompt, true); !seen {
			return &gemini.Result{Outcome: gemini.OutcomeFailed, ErrorMessage: "garbled response"}, nil
		}
		return echo(prompt)
	}}
	cfg := fastConfig()
	cfg.Workers = 1
	d := New(sched, rec, caller, delimitedPrompt, cfg, nil)

	report, err := d.Run(context.Background(), makeChunks(2, 2), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("report not complete after retry: %v", report.Failed())
	}
	if len(report.TiersTried) != 1 {
		t.Errorf("tiers tried = %v; content failures must not burn tiers", report.TiersTried)
	}
	if caller.callCount() != 4 {
		t.Errorf("calls = %d, want 4 (2 failures + 2 retries)", caller.callCount())
	}
}

func TestRunPersistentContentFailure(t *testing.T) {
	sched, rec, _ := testFleet(t, 2, 2)
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		return &gemini.Result{Outcome: gemini.OutcomeFailed, ErrorMessage: "garbled response"}, nil
	}}
	cfg := fastConfig()
	cfg.Workers = 1
	d := New(sched, rec, caller, delimitedPrompt, cfg, nil)

	report, err := d.Run(context.Background(), makeChunks(1, 1), "")
	if err != nil {
		t.Fatalf("Run returned error for chunk-level failure: %v", err)
	}
	if !report.TotalFailure() {
		t.Errorf("done chunks = %d, want 0", report.DoneChunks)
	}
	failed := report.Failed()
	if len(failed) != 1 || !strings.Contains(failed[0].LastError, "garbled") {
		t.Errorf("failed chunks = %+v", failed)
	}
	if report.FleetExhausted {
		t.Error("fleet exhausted flag set for a content failure")
	}
}

func TestRunCountMismatchAccepted(t *testing.T) {
	sched, rec, _ := testFleet(t, 1, 1)
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		// Model merged two lines into one segment.
		return &gemini.Result{Outcome: gemini.OutcomeSuccess, Text: "|merged segment|"}, nil
	}}
	d := New(sched, rec, caller, delimitedPrompt, fastConfig(), nil)

	report, err := d.Run(context.Background(), makeChunks(1, 3), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("mismatched chunk not accepted: %v", report.Failed())
	}
	if !report.Chunks[0].CountMismatch {
		t.Error("count mismatch not flagged")
	}
	if len(report.Chunks[0].Lines) != 1 {
		t.Errorf("lines = %v", report.Chunks[0].Lines)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	sched, rec, _ := testFleet(t, 1, 1)
	d := New(sched, rec, &fakeCaller{}, delimitedPrompt, fastConfig(), nil)
	if _, err := d.Run(context.Background(), nil, ""); err == nil {
		t.Fatal("Run with no chunks did not error")
	}
}

func TestRunCancelledContext(t *testing.T) {
	sched, rec, _ := testFleet(t, 1, 1)
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		return echo(prompt)
	}}
	d := New(sched, rec, caller, delimitedPrompt, fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := d.Run(ctx, makeChunks(3, 1), "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report == nil || !report.Cancelled {
		t.Error("report missing cancelled flag")
	}
}

func TestRunCallerModelMovesToHead(t *testing.T) {
	sched, rec, _ := testFleet(t, 1, 1)
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		return echo(prompt)
	}}
	d := New(sched, rec, caller, delimitedPrompt, fastConfig(), nil)

	report, err := d.Run(context.Background(), makeChunks(1, 1), "tier-2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.FinalModel != "tier-2" {
		t.Errorf("final model = %s, want caller's tier-2", report.FinalModel)
	}
}

func TestRunObserverSeesEveryAttempt(t *testing.T) {
	sched, rec, _ := testFleet(t, 2, 1)
	caller := &fakeCaller{respond: func(n int, prompt, apiKey, model string) (*gemini.Result, error) {
		if n == 0 {
			return &gemini.Result{Outcome: gemini.OutcomeRateLimited, ErrorMessage: "rate limit exceeded"}, nil
		}
		return echo(prompt)
	}}
	obs := &recordingObserver{}
	cfg := fastConfig()
	cfg.Workers = 1
	d := New(sched, rec, caller, delimitedPrompt, cfg, obs)

	if _, err := d.Run(context.Background(), makeChunks(1, 2), ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := obs.snapshot()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (one per attempt)", len(events))
	}
	if !events[0].Failed || events[0].Outcome != "rate_limited" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Failed || events[1].Outcome != "success" || events[1].LinesOut != 2 {
		t.Errorf("second event = %+v", events[1])
	}
	for _, ev := range events {
		if ev.BatchID == "" || ev.KeyName == "" || ev.Model == "" {
			t.Errorf("event missing identity fields: %+v", ev)
		}
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Observe(ev Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.events))
	copy(out, o.events)
	return out
}

func TestOrderTiers(t *testing.T) {
	models := []string{"a", "b", "c"}

	if got := orderTiers(models, ""); len(got) != 3 || got[0] != "a" {
		t.Errorf("orderTiers(no start) = %v", got)
	}
	if got := orderTiers(models, "b"); got[0] != "b" || got[1] != "a" || got[2] != "c" {
		t.Errorf("orderTiers(b) = %v", got)
	}
	if got := orderTiers(models, "x"); len(got) != 4 || got[0] != "x" {
		t.Errorf("orderTiers(unknown) = %v", got)
	}
	// The shared priority list must never be mutated.
	orderTiers(models, "c")
	if models[0] != "a" || models[1] != "b" || models[2] != "c" {
		t.Errorf("input slice mutated: %v", models)
	}
}
