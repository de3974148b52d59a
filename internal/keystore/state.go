package keystore

import (
	"os"
	"path/filepath"

	"github.com/minhvu-dev/subsweep/internal/json"
	log "github.com/minhvu-dev/subsweep/internal/logging"
)

// stateFile is the on-disk shape of the mutable state. It carries no
// secrets: credentials are matched back to their keys by account ID and
// project name at load time.
type stateFile struct {
	Rotation RotationState  `json:"rotation_state"`
	Accounts []accountState `json:"accounts"`
}

type accountState struct {
	AccountID string         `json:"account_id"`
	Status    AccountStatus  `json:"account_status,omitempty"`
	Projects  []projectState `json:"projects"`
}

type projectState struct {
	ProjectName string        `json:"project_name"`
	Status      Status        `json:"status"`
	Stats       Stats         `json:"stats"`
	Limits      LimitTracking `json:"limit_tracking"`
}

func (st *stateFile) account(id string) *accountState {
	for i := range st.Accounts {
		if st.Accounts[i].AccountID == id {
			return &st.Accounts[i]
		}
	}
	return nil
}

func (a *accountState) project(name string) *projectState {
	for i := range a.Projects {
		if a.Projects[i].ProjectName == name {
			return &a.Projects[i]
		}
	}
	return nil
}

// loadState reads the persisted state blob. A missing or corrupt file
// returns nil, which callers treat as "no persisted state".
func loadState(path string) *stateFile {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("keystore: state file unreadable, using defaults")
		}
		return nil
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		log.WithError(err).Warn("keystore: state file corrupt, using defaults")
		return nil
	}
	return &st
}

// saveState writes the mutable portion of cfg atomically via a temp file
// rename so readers never observe a partial write.
func saveState(path string, cfg *Config) error {
	st := stateFile{Rotation: cfg.Rotation}
	for _, acct := range cfg.Accounts {
		as := accountState{AccountID: acct.AccountID, Status: acct.Status}
		for _, cred := range acct.Projects {
			as.Projects = append(as.Projects, projectState{
				ProjectName: cred.ProjectName,
				Status:      cred.Status,
				Stats:       cred.Stats,
				Limits:      cred.Limits,
			})
		}
		st.Accounts = append(st.Accounts, as)
	}

	data, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DefaultStatePath returns the per-user location of the state file.
func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "subsweep", "state.json")
}
