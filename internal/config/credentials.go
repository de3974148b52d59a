package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/minhvu-dev/subsweep/internal/json"
	"github.com/minhvu-dev/subsweep/internal/keystore"
)

// credentialsFile is the on-disk shape of the account/key list. The file
// is JWCC (JSON with comments and trailing commas) so operators can
// annotate accounts inline.
type credentialsFile struct {
	Accounts []keystore.AccountSeed `json:"accounts"`
}

// LoadCredentials reads and validates the account seed list.
func LoadCredentials(path string) ([]keystore.AccountSeed, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}

	var file credentialsFile
	if err := json.Unmarshal(std, &file); err != nil {
		return nil, fmt.Errorf("decode credentials %s: %w", path, err)
	}

	seeds, err := validateSeeds(file.Accounts)
	if err != nil {
		return nil, fmt.Errorf("credentials %s: %w", path, err)
	}
	return seeds, nil
}

// validateSeeds normalizes the seed list: trims whitespace, drops
// accounts with no projects, and rejects duplicate account IDs.
func validateSeeds(accounts []keystore.AccountSeed) ([]keystore.AccountSeed, error) {
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts defined")
	}

	seen := make(map[string]struct{}, len(accounts))
	out := make([]keystore.AccountSeed, 0, len(accounts))

	for i := range accounts {
		acc := accounts[i]
		acc.AccountID = strings.TrimSpace(acc.AccountID)
		acc.Email = strings.TrimSpace(acc.Email)
		if acc.AccountID == "" {
			return nil, fmt.Errorf("account %d: account_id is required", i)
		}
		if _, dup := seen[acc.AccountID]; dup {
			return nil, fmt.Errorf("duplicate account_id %q", acc.AccountID)
		}
		seen[acc.AccountID] = struct{}{}

		projects := make([]keystore.ProjectSeed, 0, len(acc.Projects))
		projNames := make(map[string]struct{}, len(acc.Projects))
		for j := range acc.Projects {
			p := acc.Projects[j]
			p.ProjectName = strings.TrimSpace(p.ProjectName)
			p.APIKey = strings.TrimSpace(p.APIKey)
			if p.ProjectName == "" {
				return nil, fmt.Errorf("account %q: project %d has no name", acc.AccountID, j)
			}
			if _, dup := projNames[p.ProjectName]; dup {
				return nil, fmt.Errorf("account %q: duplicate project %q", acc.AccountID, p.ProjectName)
			}
			projNames[p.ProjectName] = struct{}{}
			projects = append(projects, p)
		}
		if len(projects) == 0 {
			return nil, fmt.Errorf("account %q has no projects", acc.AccountID)
		}
		acc.Projects = projects
		out = append(out, acc)
	}

	return out, nil
}
