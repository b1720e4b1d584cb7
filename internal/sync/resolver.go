package sync

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
	"github.com/jakemccloskey/nango/internal/store"
)

// Resolver loads sync definitions. Durable runs resolve against the
// per-tenant config store; dry runs may resolve from a local nango.yaml
// so scripts can be exercised before deployment.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver over the config store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the sync config for (provider config key, sync name),
// or nil when the tenant has no matching entry.
func (r *Resolver) Resolve(accountID int64, providerConfigKey, syncName string) (*models.SyncConfig, error) {
	return r.store.GetSyncConfig(accountID, providerConfigKey, syncName)
}

// localConfigFile is the shape of a local nango.yaml used by dry runs.
type localConfigFile struct {
	Integrations map[string]map[string]localSyncDef `yaml:"integrations"`
}

type localSyncDef struct {
	Returns []string `yaml:"returns"`
	Runs    string   `yaml:"runs"`
	Command string   `yaml:"command"`
}

// ResolveLocal reads a sync definition from a nango.yaml in dir. Used by
// the dry-run path only; nothing is written to the store.
func ResolveLocal(dir, providerConfigKey, syncName string) (*models.SyncConfig, error) {
	path := filepath.Join(dir, "nango.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ErrFileRead{Path: path, Err: err}
	}

	var file localConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}

	integration, ok := file.Integrations[providerConfigKey]
	if !ok {
		return nil, nil
	}
	def, ok := integration[syncName]
	if !ok {
		return nil, nil
	}

	return &models.SyncConfig{
		ProviderConfigKey: providerConfigKey,
		SyncName:          syncName,
		Models:            def.Returns,
		Runs:              def.Runs,
		ScriptCommand:     def.Command,
	}, nil
}
