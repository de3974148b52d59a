package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/minhvu-dev/subsweep/internal/buildinfo"
	"github.com/minhvu-dev/subsweep/internal/keystore"
	log "github.com/minhvu-dev/subsweep/internal/logging"
)

// Health reports process liveness and version.
func (s *Server) Health(c *gin.Context) {
	respondOK(c, gin.H{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

// keyView is a sanitized per-credential view. It never carries the API
// key itself.
type keyView struct {
	ProjectName string                 `json:"project_name"`
	Status      keystore.Status        `json:"status"`
	Stats       keystore.Stats         `json:"stats"`
	Limits      keystore.LimitTracking `json:"limit_tracking"`
}

type accountView struct {
	AccountID string                 `json:"account_id"`
	Email     string                 `json:"email,omitempty"`
	Status    keystore.AccountStatus `json:"account_status"`
	Projects  []keyView              `json:"projects"`
}

// ListKeys returns the full fleet with per-credential state.
func (s *Server) ListKeys(c *gin.Context) {
	var accounts []accountView
	s.store.View(func(cfg *keystore.Config) {
		accounts = make([]accountView, 0, len(cfg.Accounts))
		for _, acc := range cfg.Accounts {
			av := accountView{
				AccountID: acc.AccountID,
				Email:     acc.Email,
				Status:    acc.Status,
				Projects:  make([]keyView, 0, len(acc.Projects)),
			}
			for _, cred := range acc.Projects {
				av.Projects = append(av.Projects, keyView{
					ProjectName: cred.ProjectName,
					Status:      cred.Status,
					Stats:       cred.Stats,
					Limits:      cred.Limits,
				})
			}
			accounts = append(accounts, av)
		}
	})
	respondOK(c, gin.H{"accounts": accounts})
}

// GetStats returns the aggregate fleet snapshot.
func (s *Server) GetStats(c *gin.Context) {
	respondOK(c, s.sched.Stats())
}

// GetUsage returns counter and historical usage statistics. Historical
// sections are omitted when no persistence backend is configured.
func (s *Server) GetUsage(c *gin.Context) {
	if s.sink == nil {
		respondOK(c, gin.H{"statistics": "disabled"})
		return
	}

	counters := s.sink.GetCounters()
	body := gin.H{"counters": counters}

	if backend := s.sink.GetBackend(); backend != nil {
		ctx := c.Request.Context()
		since := time.Now().AddDate(0, 0, -30)

		if daily, err := backend.QueryDailyStats(ctx, since); err == nil {
			body["by_day"] = daily
		} else {
			log.Warnf("usage: daily stats query failed: %v", err)
		}
		if hourly, err := backend.QueryHourlyStats(ctx, since); err == nil {
			body["by_hour"] = hourly
		}
		if accounts, err := backend.QueryAccountStats(ctx, since); err == nil {
			body["by_account"] = accounts
		}
		if models, err := backend.QueryModelStats(ctx, since); err == nil {
			body["by_model"] = models
		}
	}

	respondOK(c, body)
}

// ResetKeys revives rate-limited and exhausted credentials. Disabled and
// errored credentials stay down.
func (s *Server) ResetKeys(c *gin.Context) {
	n := s.sched.ResetAllExceptDisabled()
	log.Infof("management: reset %d credential(s)", n)
	respondOK(c, gin.H{"status": "ok", "reset": n})
}

// ResetRotation rewinds the sweep cursor to the first account/project.
func (s *Server) ResetRotation(c *gin.Context) {
	s.sched.ResetCursor()
	respondOK(c, gin.H{"status": "ok"})
}

// Reload re-reads the credentials file and merges it with current state.
func (s *Server) Reload(c *gin.Context) {
	if s.reload == nil {
		respondError(c, http.StatusNotImplemented, ErrCodeBadRequest, "reload is not configured")
		return
	}
	if err := s.reload(); err != nil {
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	respondOK(c, gin.H{"status": "ok"})
}
