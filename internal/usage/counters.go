package usage

import "sync/atomic"

// Counters provides lock-free atomic counters for real-time usage metrics.
// These are updated on every call for instant stats access; historical
// data is queried from the database backend.
type Counters struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	failureCount  atomic.Int64
	promptTokens  atomic.Int64
	linesOut      atomic.Int64
}

// NewCounters creates a new counter set initialized to zero.
func NewCounters() *Counters {
	return &Counters{}
}

// Record increments counters based on call outcome.
// This method is lock-free and safe for high-concurrency use.
func (c *Counters) Record(failed bool, promptTokens, linesOut int64) {
	if c == nil {
		return
	}
	c.totalRequests.Add(1)
	if failed {
		c.failureCount.Add(1)
	} else {
		c.successCount.Add(1)
	}
	c.promptTokens.Add(promptTokens)
	c.linesOut.Add(linesOut)
}

// Snapshot returns current counter values as an immutable snapshot.
func (c *Counters) Snapshot() CounterSnapshot {
	if c == nil {
		return CounterSnapshot{}
	}
	return CounterSnapshot{
		TotalRequests:   c.totalRequests.Load(),
		SuccessCount:    c.successCount.Load(),
		FailureCount:    c.failureCount.Load(),
		PromptTokens:    c.promptTokens.Load(),
		LinesTranslated: c.linesOut.Load(),
	}
}

// Reset zeroes all counters. Use with caution.
func (c *Counters) Reset() {
	if c == nil {
		return
	}
	c.totalRequests.Store(0)
	c.successCount.Store(0)
	c.failureCount.Store(0)
	c.promptTokens.Store(0)
	c.linesOut.Store(0)
}

// Bootstrap sets initial counter values from historical data.
// This should be called once at startup to seed counters with
// aggregated statistics from the database.
func (c *Counters) Bootstrap(total, success, failure, tokens, lines int64) {
	if c == nil {
		return
	}
	c.totalRequests.Store(total)
	c.successCount.Store(success)
	c.failureCount.Store(failure)
	c.promptTokens.Store(tokens)
	c.linesOut.Store(lines)
}

// CounterSnapshot holds an immutable point-in-time view of counter values.
type CounterSnapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	SuccessCount    int64 `json:"success_count"`
	FailureCount    int64 `json:"failure_count"`
	PromptTokens    int64 `json:"prompt_tokens"`
	LinesTranslated int64 `json:"lines_translated"`
}
