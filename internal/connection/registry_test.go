package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakemccloskey/nango/internal/models"
)

func TestRegistryClaim(t *testing.T) {
	r := NewRefreshRegistry()
	key := refreshKey{"conn-1", "github-prod"}

	task, owner := r.begin(key)
	require.True(t, owner)
	assert.Equal(t, 1, r.InFlight())

	same, second := r.begin(key)
	assert.False(t, second)
	assert.Same(t, task, same, "second claim joins the first task")

	other, owner2 := r.begin(refreshKey{"conn-2", "github-prod"})
	assert.True(t, owner2, "different key claims independently")
	assert.NotSame(t, task, other)

	r.finish(key, task, &models.OAuth2Credentials{AccessToken: "done"}, nil)
	r.finish(refreshKey{"conn-2", "github-prod"}, other, nil, nil)
	assert.Zero(t, r.InFlight())
}

func TestRegistryAwaitersObserveOneCompletion(t *testing.T) {
	r := NewRefreshRegistry()
	key := refreshKey{"conn-1", "github-prod"}

	task, owner := r.begin(key)
	require.True(t, owner)

	const awaiters = 8
	var wg, joined sync.WaitGroup
	joined.Add(awaiters)
	results := make([]*models.OAuth2Credentials, awaiters)
	for i := 0; i < awaiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			shared, own := r.begin(key)
			assert.False(t, own)
			joined.Done()
			results[i], _ = shared.await(context.Background())
		}(i)
	}

	// Every awaiter has joined the task before it completes.
	joined.Wait()
	creds := &models.OAuth2Credentials{AccessToken: "shared"}
	r.finish(key, task, creds, nil)
	wg.Wait()

	for i := 0; i < awaiters; i++ {
		assert.Same(t, creds, results[i])
	}

	// The key is free again after completion.
	_, owner = r.begin(key)
	assert.True(t, owner)
}

func TestRegistryAwaitCancellation(t *testing.T) {
	r := NewRefreshRegistry()
	key := refreshKey{"conn-1", "github-prod"}

	task, owner := r.begin(key)
	require.True(t, owner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := task.await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.finish(key, task, nil, nil)
}
