// Package rotation implements the Horizontal Sweep allocator and the
// outcome recorder over a keystore.Store. The sweep visits every active
// account for the current project slot before advancing to the next slot,
// so repeated use of one credential is spaced by the rest of the fleet.
package rotation

import (
	"fmt"
	"time"

	"github.com/minhvu-dev/subsweep/internal/keystore"
	log "github.com/minhvu-dev/subsweep/internal/logging"
)

// KeyInfo is the tagged credential handle handed to callers. It is the one
// shape a credential takes outside the keystore.
type KeyInfo struct {
	AccountID    string `json:"account_id"`
	AccountEmail string `json:"account_email,omitempty"`
	ProjectName  string `json:"project_name"`
	APIKey       string `json:"-"`
	Name         string `json:"name"`
	AccountIndex int    `json:"account_index"`
	ProjectIndex int    `json:"project_index"`
}

// Scheduler hands out credentials in Horizontal Sweep order. All methods
// are safe for concurrent use; each successful Next yields a distinct
// credential and strictly advances the cursor.
type Scheduler struct {
	store *keystore.Store
}

// NewScheduler wraps store. The store owns all locking and persistence.
func NewScheduler(store *keystore.Store) *Scheduler {
	return &Scheduler{store: store}
}

// Store exposes the underlying keystore for composition roots.
func (s *Scheduler) Store() *keystore.Store { return s.store }

// Next picks the next available credential, advances the cursor, and
// persists the rotation state. It returns ok=false when no credential in
// the fleet is currently available; the cursor is left untouched in that
// case. The search is bounded to accounts x projects positions, so Next
// always terminates even with a wholly unavailable fleet.
func (s *Scheduler) Next() (KeyInfo, bool) {
	var (
		info  KeyInfo
		found bool
	)
	err := s.store.Update(func(cfg *keystore.Config) {
		now := time.Now()
		recoverAndResetDaily(cfg, now)

		numAccounts := len(cfg.Accounts)
		if numAccounts == 0 {
			return
		}
		numProjects := cfg.Settings.ProjectsPerAccount

		accIdx := cfg.Rotation.CurrentAccountIndex
		projIdx := cfg.Rotation.CurrentProjectIndex

		for attempts := 0; attempts < numAccounts*numProjects; attempts++ {
			ai := accIdx % numAccounts
			pi := projIdx % numProjects
			acct := cfg.Accounts[ai]

			if acct.Status == keystore.AccountActive && pi < len(acct.Projects) {
				cred := acct.Projects[pi]
				if keystore.Available(cred, now) {
					info = KeyInfo{
						AccountID:    acct.AccountID,
						AccountEmail: acct.Email,
						ProjectName:  cred.ProjectName,
						APIKey:       cred.APIKey,
						Name:         fmt.Sprintf("%s/%s", acct.AccountID, cred.ProjectName),
						AccountIndex: ai,
						ProjectIndex: pi,
					}
					found = true

					// Advance the cursor past the position just handed
					// out: accounts first, wrapping into the next
					// project slot once the account dimension is spent.
					nextAcc := ai + 1
					nextProj := pi
					if nextAcc >= numAccounts {
						nextAcc = 0
						nextProj = (pi + 1) % numProjects
						cfg.Rotation.RotationRound++
					}
					cfg.Rotation.CurrentAccountIndex = nextAcc
					cfg.Rotation.CurrentProjectIndex = nextProj
					cfg.Rotation.TotalRequestsSent++
					return
				}
			}

			accIdx++
			if accIdx >= numAccounts {
				accIdx = 0
				projIdx++
			}
		}
	})
	if err != nil {
		log.WithError(err).Warn("rotation: state save after Next failed")
	}
	return info, found
}

// AllAvailable returns every currently usable credential without consuming
// rotation state. The same recovery pass as Next applies first.
func (s *Scheduler) AllAvailable() []KeyInfo {
	var out []KeyInfo
	err := s.store.Update(func(cfg *keystore.Config) {
		now := time.Now()
		recoverAndResetDaily(cfg, now)
		for ai, acct := range cfg.Accounts {
			if acct.Status != keystore.AccountActive {
				continue
			}
			for pi, cred := range acct.Projects {
				if keystore.Available(cred, now) {
					out = append(out, KeyInfo{
						AccountID:    acct.AccountID,
						AccountEmail: acct.Email,
						ProjectName:  cred.ProjectName,
						APIKey:       cred.APIKey,
						Name:         fmt.Sprintf("%s/%s", acct.AccountID, cred.ProjectName),
						AccountIndex: ai,
						ProjectIndex: pi,
					})
				}
			}
		}
	})
	if err != nil {
		log.WithError(err).Warn("rotation: state save after AllAvailable failed")
	}
	return out
}

// ResetAllExceptDisabled clears rate_limited/exhausted statuses fleet-wide.
// Called on model-tier switches, since rate limits apply per tier.
func (s *Scheduler) ResetAllExceptDisabled() int {
	n := s.store.ResetAllExceptDisabled()
	if n > 0 {
		log.Infof("rotation: reset %d credential(s) for tier switch", n)
	}
	return n
}

// ResetCursor rewinds the sweep to the origin. Credential statuses are left
// untouched.
func (s *Scheduler) ResetCursor() {
	err := s.store.Update(func(cfg *keystore.Config) {
		cfg.Rotation.CurrentAccountIndex = 0
		cfg.Rotation.CurrentProjectIndex = 0
		cfg.Rotation.RotationRound = 1
	})
	if err != nil {
		log.WithError(err).Warn("rotation: state save after cursor reset failed")
	}
}

// Stats returns the fleet aggregate snapshot.
func (s *Scheduler) Stats() keystore.FleetStats { return s.store.Stats() }

// recoverAndResetDaily runs the two recovery passes under the caller's
// lock: bulk rate-limit recovery and the once-per-day counter reset.
func recoverAndResetDaily(cfg *keystore.Config, now time.Time) {
	keystore.AutoRecoverAll(cfg, now)
	keystore.DailyReset(cfg, now)
}
