package config

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/jakemccloskey/nango/internal/errors"
	"github.com/jakemccloskey/nango/internal/models"
)

// TemplateRegistry holds the provider templates loaded from the
// providers.yaml registry, keyed by provider name. It supports hot reload
// so adding a provider does not require a restart.
type TemplateRegistry struct {
	path      string
	mu        sync.RWMutex
	templates map[string]models.ProviderTemplate
}

// NewTemplateRegistry loads the registry from the given YAML file.
func NewTemplateRegistry(path string) (*TemplateRegistry, error) {
	r := &TemplateRegistry{path: path}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TemplateRegistry) load() error {
	content, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &errors.ErrConfigNotFound{Path: r.path}
		}
		return &errors.ErrFileRead{Path: r.path, Err: err}
	}

	var parsed map[string]models.ProviderTemplate
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return &errors.ErrConfigParse{Err: err}
	}

	for name, tpl := range parsed {
		if tpl.AuthMode == "" {
			return &errors.ErrConfigValidation{Err: fmt.Errorf("template %s: auth_mode is required", name)}
		}
		tpl.Provider = name
		parsed[name] = tpl
	}

	r.mu.Lock()
	r.templates = parsed
	r.mu.Unlock()
	return nil
}

// Get returns the template for a provider.
func (r *TemplateRegistry) Get(provider string) (models.ProviderTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[provider]
	return tpl, ok
}

// Providers returns all registered provider names.
func (r *TemplateRegistry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// Watch reloads the registry whenever the file changes, until the context
// is cancelled.
func (r *TemplateRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(r.path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					_ = r.load()
				}
			case <-watcher.Errors:
				// A failed reload keeps the previous registry.
			}
		}
	}()

	return nil
}
