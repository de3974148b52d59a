package keystore

import (
	"fmt"
	"sync"
	"time"

	log "github.com/minhvu-dev/subsweep/internal/logging"
)

// Store merges the static credential seeds with the persisted mutable state
// and guards all access behind a single mutex. Every mutation is flushed to
// disk before the lock is released, so a crash-restart (or a second process
// instance) always observes the latest committed state.
type Store struct {
	mu       sync.Mutex
	path     string
	seeds    []AccountSeed
	settings Settings
	cfg      *Config
}

// Open builds a Store from the credential seeds and whatever state blob
// exists at path. Missing or corrupt persisted state degrades to defaults;
// Open fails only on unusable paths.
func Open(path string, seeds []AccountSeed, settings Settings) (*Store, error) {
	if settings.ProjectsPerAccount <= 0 {
		settings.ProjectsPerAccount = DefaultSettings().ProjectsPerAccount
	}
	if settings.CooldownSeconds <= 0 {
		settings.CooldownSeconds = DefaultSettings().CooldownSeconds
	}

	s := &Store{path: path, seeds: seeds, settings: settings}
	s.cfg = s.merge(loadState(path))

	now := time.Now()
	AutoRecoverAll(s.cfg, now)
	DailyReset(s.cfg, now)
	if err := s.persist(); err != nil {
		log.WithError(err).Warn("keystore: initial state save failed")
	}
	return s, nil
}

// merge overlays persisted per-credential state onto the seed list. State is
// matched by account ID and project name; credentials without persisted
// state start out available with zeroed counters.
func (s *Store) merge(st *stateFile) *Config {
	cfg := &Config{Settings: s.settings}
	if st != nil {
		cfg.Rotation = st.Rotation
	}
	if cfg.Rotation.RotationRound <= 0 {
		cfg.Rotation.RotationRound = 1
	}

	for _, seed := range s.seeds {
		acct := &Account{
			AccountID: seed.AccountID,
			Email:     seed.Email,
			Status:    AccountActive,
		}
		var saved *accountState
		if st != nil {
			saved = st.account(seed.AccountID)
		}
		if saved != nil && saved.Status != "" {
			acct.Status = saved.Status
		}
		for _, p := range seed.Projects {
			cred := &Credential{
				ProjectName: p.ProjectName,
				APIKey:      p.APIKey,
				Status:      StatusAvailable,
			}
			if saved != nil {
				if ps := saved.project(p.ProjectName); ps != nil {
					cred.Status = ps.Status
					cred.Stats = ps.Stats
					cred.Limits = ps.Limits
				}
			}
			acct.Projects = append(acct.Projects, cred)
		}
		cfg.Accounts = append(cfg.Accounts, acct)
	}
	return cfg
}

// Update runs fn with exclusive access to the config and persists the
// mutable state afterwards. The returned error comes from persistence only;
// the in-memory mutation has already been applied when it is non-nil.
func (s *Store) Update(fn func(cfg *Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.cfg)
	return s.persist()
}

// View runs fn with shared access to the config. fn must not mutate.
func (s *Store) View(fn func(cfg *Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.cfg)
}

// Reload re-reads the persisted state and re-runs the recovery passes,
// mirroring a fresh Open. Used by the fsnotify watcher and the CLI.
func (s *Store) Reload(seeds []AccountSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seeds != nil {
		s.seeds = seeds
	}
	s.cfg = s.merge(loadState(s.path))
	now := time.Now()
	AutoRecoverAll(s.cfg, now)
	DailyReset(s.cfg, now)
	return s.persist()
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Available reports whether cred may be handed out right now.
//
// NOTE: this is deliberately not a pure predicate. When a rate-limited
// credential's reset time has passed, Available flips it back to available
// and clears its limit tracking as a side effect; the scheduler depends on
// this recovery-on-read behavior. Callers must hold the store lock (i.e.
// call from within Update or View).
func Available(cred *Credential, now time.Time) bool {
	if cred == nil || cred.APIKey == "" {
		return false
	}
	switch cred.Status {
	case StatusRateLimited:
		if at := cred.Limits.RateLimitResetAt; at != nil && !now.Before(*at) {
			cred.Status = StatusAvailable
			cred.Limits.RateLimitResetAt = nil
			cred.Limits.MinuteRequestCount = 0
			return true
		}
		return false
	case StatusExhausted, StatusDisabled, StatusError:
		return false
	case StatusAvailable:
		return true
	default:
		return false
	}
}

// availableNow is the pure form of Available for read-only snapshots:
// it reports a past-reset rate-limited credential as available without
// flipping its status.
func availableNow(cred *Credential, now time.Time) bool {
	if cred == nil || cred.APIKey == "" {
		return false
	}
	switch cred.Status {
	case StatusAvailable:
		return true
	case StatusRateLimited:
		at := cred.Limits.RateLimitResetAt
		return at != nil && !now.Before(*at)
	default:
		return false
	}
}

// AutoRecoverAll applies Available's rate-limit recovery to every
// credential so freshly-recoverable keys become visible before a sweep.
func AutoRecoverAll(cfg *Config, now time.Time) int {
	recovered := 0
	for _, acct := range cfg.Accounts {
		for _, cred := range acct.Projects {
			if cred.Status != StatusRateLimited {
				continue
			}
			if at := cred.Limits.RateLimitResetAt; at != nil && !now.Before(*at) {
				cred.Status = StatusAvailable
				cred.Limits.RateLimitResetAt = nil
				cred.Limits.MinuteRequestCount = 0
				recovered++
			}
		}
	}
	if recovered > 0 {
		log.Infof("keystore: auto-recovered %d credential(s) from rate_limited", recovered)
	}
	return recovered
}

// DailyReset zeroes per-day counters and promotes exhausted
// credentials back to available when the local calendar date has changed.
// Idempotent: re-running on the same date is a no-op.
func DailyReset(cfg *Config, now time.Time) bool {
	today := now.Format("2006-01-02")
	if cfg.Rotation.LastDailyReset == today {
		return false
	}
	log.Infof("keystore: daily reset (last %q, today %s)", cfg.Rotation.LastDailyReset, today)
	for _, acct := range cfg.Accounts {
		for _, cred := range acct.Projects {
			cred.Stats.RequestsToday = 0
			cred.Stats.SuccessCount = 0
			cred.Stats.ErrorCount = 0
			if cred.Status == StatusExhausted {
				cred.Status = StatusAvailable
				cred.Limits.DailyLimitResetAt = nil
			}
		}
	}
	cfg.Rotation.LastDailyReset = today
	return true
}

// AutoRecover runs the bulk rate-limit recovery pass and persists if
// anything changed.
func (s *Store) AutoRecover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if AutoRecoverAll(s.cfg, time.Now()) > 0 {
		if err := s.persist(); err != nil {
			log.WithError(err).Warn("keystore: save after auto-recover failed")
		}
	}
}

// CheckDailyReset runs the daily reset pass and persists if it fired.
func (s *Store) CheckDailyReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if DailyReset(s.cfg, time.Now()) {
		if err := s.persist(); err != nil {
			log.WithError(err).Warn("keystore: save after daily reset failed")
		}
	}
}

// ResetAllExceptDisabled flips rate_limited and exhausted credentials back
// to available and clears their limit tracking. disabled and error stay
// untouched: disabled is an operator decision, and error is excluded to
// match the original behavior (flagged as an open product question rather
// than changed here). Used when switching model tiers, since rate limits
// apply per tier.
func (s *Store) ResetAllExceptDisabled() int {
	reset := 0
	err := s.Update(func(cfg *Config) {
		for _, acct := range cfg.Accounts {
			for _, cred := range acct.Projects {
				if cred.Status == StatusRateLimited || cred.Status == StatusExhausted {
					cred.Status = StatusAvailable
					cred.Limits.RateLimitResetAt = nil
					cred.Limits.DailyLimitResetAt = nil
					cred.Limits.MinuteRequestCount = 0
					reset++
				}
			}
		}
	})
	if err != nil {
		log.WithError(err).Warn("keystore: save after status reset failed")
	}
	return reset
}

// FindByKey returns the credential holding apiKey, or nil. Caller must hold
// the lock (call from within Update/View).
func FindByKey(cfg *Config, apiKey string) *Credential {
	if apiKey == "" {
		return nil
	}
	for _, acct := range cfg.Accounts {
		for _, cred := range acct.Projects {
			if cred.APIKey == apiKey {
				return cred
			}
		}
	}
	return nil
}

// Stats returns an aggregate snapshot of the fleet.
func (s *Store) Stats() FleetStats {
	var fs FleetStats
	s.View(func(cfg *Config) {
		now := time.Now()
		fs.TotalAccounts = len(cfg.Accounts)
		for _, acct := range cfg.Accounts {
			for _, cred := range acct.Projects {
				fs.TotalProjects++
				if cred.APIKey == "" {
					fs.EmptyKeys++
					continue
				}
				switch {
				case availableNow(cred, now):
					fs.Available++
				case cred.Status == StatusRateLimited:
					fs.RateLimited++
				case cred.Status == StatusExhausted:
					fs.Exhausted++
				case cred.Status == StatusDisabled:
					fs.Disabled++
				default:
					fs.Errored++
				}
				fs.RequestsToday += cred.Stats.RequestsToday
			}
		}
		fs.TotalRequestsSent = cfg.Rotation.TotalRequestsSent
		fs.CurrentAccountIndex = cfg.Rotation.CurrentAccountIndex
		fs.CurrentProjectIndex = cfg.Rotation.CurrentProjectIndex
		fs.RotationRound = cfg.Rotation.RotationRound
	})
	return fs
}

// persist writes the mutable state. Caller must hold s.mu.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	if err := saveState(s.path, s.cfg); err != nil {
		return fmt.Errorf("keystore: save state: %w", err)
	}
	return nil
}
