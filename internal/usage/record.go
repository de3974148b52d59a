// Package usage provides usage tracking and persistence backends for
// translation call attempts.
package usage

import "time"

// Record is one translation call attempt as stored by a backend.
type Record struct {
	AccountID    string    `json:"account_id"`
	ProjectName  string    `json:"project_name"`
	KeyName      string    `json:"key_name"`
	Model        string    `json:"model"`
	BatchID      string    `json:"batch_id"`
	ChunkName    string    `json:"chunk_name"`
	Outcome      string    `json:"outcome"`
	RequestedAt  time.Time `json:"requested_at"`
	Failed       bool      `json:"failed"`
	PromptTokens int64     `json:"prompt_tokens"`
	LinesIn      int64     `json:"lines_in"`
	LinesOut     int64     `json:"lines_out"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// AggregatedStats represents summary statistics for a time period.
type AggregatedStats struct {
	TotalRequests   int64 `json:"total_requests"`
	SuccessCount    int64 `json:"success_count"`
	FailureCount    int64 `json:"failure_count"`
	PromptTokens    int64 `json:"prompt_tokens"`
	LinesTranslated int64 `json:"lines_translated"`
}

// DailyStats represents aggregated metrics for a single day.
type DailyStats struct {
	Day      string `json:"day"` // Format: "2006-01-02"
	Requests int64  `json:"requests"`
	Lines    int64  `json:"lines"`
}

// HourlyStats represents aggregated metrics for an hour of the day.
type HourlyStats struct {
	Hour     int   `json:"hour"` // 0-23
	Requests int64 `json:"requests"`
	Lines    int64 `json:"lines"`
}

// AccountStats represents aggregated metrics per account/project pair.
type AccountStats struct {
	AccountID    string `json:"account_id"`
	ProjectName  string `json:"project_name"`
	Requests     int64  `json:"requests"`
	SuccessCount int64  `json:"success_count"`
	FailureCount int64  `json:"failure_count"`
	PromptTokens int64  `json:"prompt_tokens"`
	Lines        int64  `json:"lines"`
	AvgLatencyMs int64  `json:"avg_latency_ms"`
}

// ModelStats represents aggregated metrics per model tier.
type ModelStats struct {
	Model        string `json:"model"`
	Requests     int64  `json:"requests"`
	SuccessCount int64  `json:"success_count"`
	FailureCount int64  `json:"failure_count"`
	PromptTokens int64  `json:"prompt_tokens"`
	Lines        int64  `json:"lines"`
	AvgLatencyMs int64  `json:"avg_latency_ms"`
}

// Snapshot combines counters with database query results for the
// GET /usage API response.
type Snapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	SuccessCount    int64 `json:"success_count"`
	FailureCount    int64 `json:"failure_count"`
	PromptTokens    int64 `json:"prompt_tokens"`
	LinesTranslated int64 `json:"lines_translated"`

	RequestsByDay  map[string]int64 `json:"requests_by_day,omitempty"`
	RequestsByHour map[string]int64 `json:"requests_by_hour,omitempty"`
	LinesByDay     map[string]int64 `json:"lines_by_day,omitempty"`

	Accounts []AccountStats `json:"accounts,omitempty"`
	Models   []ModelStats   `json:"models,omitempty"`
}
