package rotation

import (
	"strings"
	"testing"
	"time"

	"github.com/minhvu-dev/subsweep/internal/keystore"
)

func credByKey(t *testing.T, store *keystore.Store, apiKey string) keystore.Credential {
	t.Helper()
	var out *keystore.Credential
	store.View(func(cfg *keystore.Config) {
		if cred := keystore.FindByKey(cfg, apiKey); cred != nil {
			c := *cred
			out = &c
		}
	})
	if out == nil {
		t.Fatalf("credential %q not found", apiKey)
	}
	return *out
}

func TestSuccessAdvancesCounters(t *testing.T) {
	store := fleet(t, 1, 1)
	rec := NewRecorder(store)

	rec.Success("acct-proj-0")
	rec.Success("acct-proj-0")

	cred := credByKey(t, store, "acct-proj-0")
	if cred.Status != keystore.StatusAvailable {
		t.Errorf("status = %s, want available", cred.Status)
	}
	if cred.Stats.RequestsToday != 2 || cred.Stats.SuccessCount != 2 {
		t.Errorf("counters = today %d / success %d, want 2/2",
			cred.Stats.RequestsToday, cred.Stats.SuccessCount)
	}
	if cred.Stats.LastSuccessAt == nil || cred.Limits.LastUsedAt == nil {
		t.Error("success timestamps not set")
	}
	if cred.Limits.MinuteRequestCount != 2 {
		t.Errorf("minute count = %d, want 2", cred.Limits.MinuteRequestCount)
	}
}

func TestRateLimitedSetsCooldown(t *testing.T) {
	store := fleet(t, 1, 1)
	rec := NewRecorder(store)
	before := time.Now()

	rec.RateLimited("acct-proj-0")

	cred := credByKey(t, store, "acct-proj-0")
	if cred.Status != keystore.StatusRateLimited {
		t.Fatalf("status = %s, want rate_limited", cred.Status)
	}
	if cred.Limits.RateLimitResetAt == nil {
		t.Fatal("cooldown deadline not set")
	}
	cooldown := time.Duration(keystore.DefaultSettings().CooldownSeconds) * time.Second
	earliest := before.Add(cooldown)
	latest := time.Now().Add(cooldown)
	if cred.Limits.RateLimitResetAt.Before(earliest) || cred.Limits.RateLimitResetAt.After(latest) {
		t.Errorf("cooldown deadline %s outside [%s, %s]",
			cred.Limits.RateLimitResetAt, earliest, latest)
	}
	if cred.Limits.MinuteRequestCount != 0 {
		t.Errorf("minute count = %d, want 0", cred.Limits.MinuteRequestCount)
	}
	if cred.Stats.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", cred.Stats.ErrorCount)
	}
	if !strings.HasPrefix(cred.Stats.LastErrorMessage, "429 rate limited at ") {
		t.Errorf("error message = %q", cred.Stats.LastErrorMessage)
	}
}

func TestQuotaExhaustedUntilMidnight(t *testing.T) {
	store := fleet(t, 1, 1)
	rec := NewRecorder(store)

	rec.QuotaExhausted("acct-proj-0")

	cred := credByKey(t, store, "acct-proj-0")
	if cred.Status != keystore.StatusExhausted {
		t.Fatalf("status = %s, want exhausted", cred.Status)
	}
	if cred.Limits.DailyLimitResetAt == nil {
		t.Fatal("daily reset deadline not set")
	}
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	if !cred.Limits.DailyLimitResetAt.Equal(midnight) {
		t.Errorf("daily reset deadline = %s, want next local midnight %s",
			cred.Limits.DailyLimitResetAt, midnight)
	}
}

func TestFailureMarksInvalidKeysTerminal(t *testing.T) {
	store := fleet(t, 1, 2)
	rec := NewRecorder(store)

	rec.Failure("acct-proj-0", "API key not valid. Please pass a valid API key.")
	rec.Failure("acct-proj-1", "connection reset by peer")

	bad := credByKey(t, store, "acct-proj-0")
	if bad.Status != keystore.StatusError {
		t.Errorf("invalid-key credential status = %s, want error", bad.Status)
	}
	transient := credByKey(t, store, "acct-proj-1")
	if transient.Status != keystore.StatusAvailable {
		t.Errorf("transient-failure credential status = %s, want available", transient.Status)
	}
	if transient.Stats.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", transient.Stats.ErrorCount)
	}
	if transient.Stats.LastErrorMessage != "connection reset by peer" {
		t.Errorf("error message = %q", transient.Stats.LastErrorMessage)
	}
}

func TestRecordUnknownKeyIsNoop(t *testing.T) {
	store := fleet(t, 1, 1)
	rec := NewRecorder(store)

	rec.Success("nope")
	rec.RateLimited("nope")
	rec.Failure("nope", "whatever")

	cred := credByKey(t, store, "acct-proj-0")
	if cred.Stats.RequestsToday != 0 || cred.Stats.ErrorCount != 0 {
		t.Errorf("unknown-key record touched another credential: %+v", cred.Stats)
	}
}

func TestIsInvalidKeyMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"API key not valid", true},
		{"INVALID_ARGUMENT: bad request", true},
		{"missing api key", true},
		{"connection refused", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsInvalidKeyMessage(tc.msg); got != tc.want {
			t.Errorf("IsInvalidKeyMessage(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestIsQuotaMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"RESOURCE_EXHAUSTED", true},
		{"Quota exceeded for quota metric", true},
		{"429 too many requests", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsQuotaMessage(tc.msg); got != tc.want {
			t.Errorf("IsQuotaMessage(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}
