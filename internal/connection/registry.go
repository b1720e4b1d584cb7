package connection

import (
	"context"
	"sync"

	"github.com/jakemccloskey/nango/internal/models"
)

// refreshKey is the granularity at which in-flight refreshes coalesce.
type refreshKey struct {
	connectionID      string
	providerConfigKey string
}

// refreshTask is one in-flight refresh. Awaiters block on done and then
// read the immutable result; the owner writes the result exactly once
// before closing done.
type refreshTask struct {
	done  chan struct{}
	creds *models.OAuth2Credentials
	err   error
}

func (t *refreshTask) await(ctx context.Context) (*models.OAuth2Credentials, error) {
	select {
	case <-t.done:
		return t.creds, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RefreshRegistry tracks in-flight credential refreshes so that at most
// one refresh runs per (connection id, provider config key) at a time.
// It is scoped to one process; a restart forgets in-flight work and the
// next caller simply refreshes again.
type RefreshRegistry struct {
	mu    sync.Mutex
	tasks map[refreshKey]*refreshTask
}

// NewRefreshRegistry creates an empty registry. Each Manager receives its
// own instance so tests can run managers independently.
func NewRefreshRegistry() *RefreshRegistry {
	return &RefreshRegistry{tasks: make(map[refreshKey]*refreshTask)}
}

// lookup returns the in-flight task for a key, if any.
func (r *RefreshRegistry) lookup(key refreshKey) (*refreshTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[key]
	return task, ok
}

// begin atomically claims the key. When the returned bool is true the
// caller owns the refresh and must call finish exactly once; otherwise
// the returned task belongs to another caller and should be awaited.
func (r *RefreshRegistry) begin(key refreshKey) (*refreshTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks[key]; ok {
		return task, false
	}
	task := &refreshTask{done: make(chan struct{})}
	r.tasks[key] = task
	return task, true
}

// finish publishes the result to every awaiter and removes the entry.
// Removal is unconditional: success and failure both clear the key.
func (r *RefreshRegistry) finish(key refreshKey, task *refreshTask, creds *models.OAuth2Credentials, err error) {
	task.creds = creds
	task.err = err

	r.mu.Lock()
	delete(r.tasks, key)
	r.mu.Unlock()

	close(task.done)
}

// InFlight reports how many refreshes are currently running.
func (r *RefreshRegistry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
