// Package keystore holds the credential fleet: an immutable list of
// (account, project, API key) triples merged with mutable runtime state
// that is persisted across restarts. It is the single source of truth for
// credential eligibility; status transitions happen only through the
// rotation package's recorder or the recovery passes defined here.
package keystore

import "time"

// Status is the lifecycle state of a single credential.
type Status string

const (
	// StatusAvailable means the credential can be handed out.
	StatusAvailable Status = "available"
	// StatusRateLimited means the provider returned 429; the credential
	// recovers automatically once RateLimitResetAt passes.
	StatusRateLimited Status = "rate_limited"
	// StatusExhausted means the daily quota is spent; recovered only by
	// the daily reset pass.
	StatusExhausted Status = "exhausted"
	// StatusDisabled is set by an operator and never auto-recovered.
	StatusDisabled Status = "disabled"
	// StatusError marks an invalid or revoked key; never auto-recovered.
	StatusError Status = "error"
)

// AccountStatus gates every credential under an account.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

// Stats carries informational counters. They never gate scheduling.
type Stats struct {
	RequestsToday    int        `json:"requests_today"`
	SuccessCount     int        `json:"success_count"`
	ErrorCount       int        `json:"error_count"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
}

// LimitTracking carries the timestamps that gate automatic recovery.
type LimitTracking struct {
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	MinuteRequestCount int        `json:"minute_request_count"`
	RateLimitResetAt   *time.Time `json:"rate_limit_reset_at,omitempty"`
	DailyLimitResetAt  *time.Time `json:"daily_limit_reset_at,omitempty"`
}

// Credential is one project slot under an account: the immutable key plus
// its mutable runtime state.
type Credential struct {
	ProjectName string        `json:"project_name"`
	APIKey      string        `json:"-"`
	Status      Status        `json:"status"`
	Stats       Stats         `json:"stats"`
	Limits      LimitTracking `json:"limit_tracking"`
}

// Account owns an ordered list of credentials. When Status is inactive all
// of its credentials are skipped regardless of their own status.
type Account struct {
	AccountID string        `json:"account_id"`
	Email     string        `json:"email,omitempty"`
	Status    AccountStatus `json:"account_status"`
	Projects  []*Credential `json:"projects"`
}

// RotationState is the Horizontal Sweep cursor plus bookkeeping. It is the
// only mutable scheduling state and survives restarts.
type RotationState struct {
	CurrentAccountIndex int    `json:"current_account_index"`
	CurrentProjectIndex int    `json:"current_project_index"`
	TotalRequestsSent   int64  `json:"total_requests_sent"`
	RotationRound       int64  `json:"rotation_round"`
	LastDailyReset      string `json:"last_daily_reset,omitempty"`
}

// Settings are the scheduling knobs. ProjectsPerAccount bounds the project
// dimension of the sweep; accounts with fewer projects are simply skipped
// at the missing indices.
type Settings struct {
	CooldownSeconds    int `json:"global_cooldown_seconds"`
	ProjectsPerAccount int `json:"projects_per_account"`
	DefaultRPMLimit    int `json:"default_rpm_limit"`
	MaxRPDLimit        int `json:"max_rpd_limit"`
	DelayBetweenMs     int `json:"delay_between_requests_ms"`
}

// DefaultSettings mirrors the provider's documented free-tier limits.
func DefaultSettings() Settings {
	return Settings{
		CooldownSeconds:    65,
		ProjectsPerAccount: 5,
		DefaultRPMLimit:    15,
		MaxRPDLimit:        1500,
		DelayBetweenMs:     1000,
	}
}

// Config is the merged view: settings, cursor, and the account fleet.
type Config struct {
	Settings Settings      `json:"settings"`
	Rotation RotationState `json:"rotation_state"`
	Accounts []*Account    `json:"accounts"`
}

// Seed types describe the static, read-only credential list supplied at
// process start. Secrets live only here; the persisted state blob never
// contains them.

// ProjectSeed is one (project, key) pair from the credential source.
type ProjectSeed struct {
	ProjectName string `json:"project_name"`
	APIKey      string `json:"api_key"`
}

// AccountSeed is one account from the credential source.
type AccountSeed struct {
	AccountID string        `json:"account_id"`
	Email     string        `json:"email,omitempty"`
	Projects  []ProjectSeed `json:"projects"`
}

// FleetStats is an aggregate snapshot used by the CLI and management API.
type FleetStats struct {
	TotalAccounts       int   `json:"total_accounts"`
	TotalProjects       int   `json:"total_projects"`
	Available           int   `json:"available"`
	RateLimited         int   `json:"rate_limited"`
	Exhausted           int   `json:"exhausted"`
	Errored             int   `json:"error"`
	Disabled            int   `json:"disabled"`
	EmptyKeys           int   `json:"empty_keys"`
	RequestsToday       int   `json:"total_requests_today"`
	TotalRequestsSent   int64 `json:"total_requests_sent"`
	CurrentAccountIndex int   `json:"current_account_index"`
	CurrentProjectIndex int   `json:"current_project_index"`
	RotationRound       int64 `json:"rotation_round"`
}
