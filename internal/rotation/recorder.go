package rotation

import (
	"strings"
	"time"

	"github.com/minhvu-dev/subsweep/internal/keystore"
	log "github.com/minhvu-dev/subsweep/internal/logging"
)

// Recorder is the only writer of credential status transitions. Call sites
// report every external API attempt through it; each record is persisted
// before the call returns so scheduling decisions always see the latest
// committed state.
type Recorder struct {
	store *keystore.Store
}

// NewRecorder wraps store.
func NewRecorder(store *keystore.Store) *Recorder {
	return &Recorder{store: store}
}

// Success records a completed call. The status is left as-is (an available
// credential stays available); counters and timestamps advance.
func (r *Recorder) Success(apiKey string) {
	r.update("success", apiKey, func(cred *keystore.Credential, now time.Time) {
		cred.Stats.RequestsToday++
		cred.Stats.SuccessCount++
		t := now
		cred.Stats.LastSuccessAt = &t
		cred.Limits.LastUsedAt = &t
		cred.Limits.MinuteRequestCount++
	})
}

// RateLimited records an HTTP 429. The credential enters rate_limited with
// a cooldown deadline from settings; it recovers automatically once the
// deadline passes.
func (r *Recorder) RateLimited(apiKey string) {
	err := r.store.Update(func(cfg *keystore.Config) {
		cred := keystore.FindByKey(cfg, apiKey)
		if cred == nil {
			log.Debug("rotation: record rate limit for unknown key")
			return
		}
		now := time.Now()
		resetAt := now.Add(time.Duration(cfg.Settings.CooldownSeconds) * time.Second)
		cred.Status = keystore.StatusRateLimited
		cred.Stats.ErrorCount++
		cred.Stats.LastErrorMessage = "429 rate limited at " + now.Format(time.RFC3339)
		cred.Limits.RateLimitResetAt = &resetAt
		cred.Limits.MinuteRequestCount = 0
		log.Warnf("rotation: credential %s rate limited until %s", cred.ProjectName, resetAt.Format(time.RFC3339))
	})
	if err != nil {
		log.WithError(err).Warn("rotation: state save after rate limit record failed")
	}
}

// QuotaExhausted records a provider-signaled daily cap. The credential
// stays exhausted until the next local midnight's daily reset.
func (r *Recorder) QuotaExhausted(apiKey string) {
	r.update("quota exhausted", apiKey, func(cred *keystore.Credential, now time.Time) {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		cred.Status = keystore.StatusExhausted
		cred.Stats.ErrorCount++
		cred.Stats.LastErrorMessage = "daily quota exhausted at " + now.Format(time.RFC3339)
		cred.Limits.DailyLimitResetAt = &midnight
		log.Warnf("rotation: credential %s exhausted until %s", cred.ProjectName, midnight.Format(time.RFC3339))
	})
}

// Failure records any other error. Messages that indicate an invalid or
// revoked key flip the credential to the terminal error status; everything
// else only bumps counters.
func (r *Recorder) Failure(apiKey, message string) {
	r.update("error", apiKey, func(cred *keystore.Credential, now time.Time) {
		cred.Stats.ErrorCount++
		cred.Stats.LastErrorMessage = message
		if IsInvalidKeyMessage(message) {
			cred.Status = keystore.StatusError
			log.Warnf("rotation: credential %s marked error: %s", cred.ProjectName, message)
		}
	})
}

// IsInvalidKeyMessage reports whether an error message points at a bad
// credential rather than a transient failure.
func IsInvalidKeyMessage(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "invalid") || strings.Contains(m, "api key")
}

// IsQuotaMessage reports whether an error message signals the provider's
// daily cap rather than a per-minute rate limit.
func IsQuotaMessage(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "exhausted") || strings.Contains(m, "quota")
}

func (r *Recorder) update(kind, apiKey string, fn func(cred *keystore.Credential, now time.Time)) {
	err := r.store.Update(func(cfg *keystore.Config) {
		cred := keystore.FindByKey(cfg, apiKey)
		if cred == nil {
			log.Debugf("rotation: record %s for unknown key", kind)
			return
		}
		fn(cred, time.Now())
	})
	if err != nil {
		log.WithError(err).Warnf("rotation: state save after %s record failed", kind)
	}
}
