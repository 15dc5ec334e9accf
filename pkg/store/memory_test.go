package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jelmore/jelmore/pkg/session"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	sess := session.New("q", "echo")
	require.NoError(t, c.Set(ctx, sess, time.Minute))

	got, err := c.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	// cached copy is isolated from later mutation
	got.Status = session.StatusFailed
	again, err := c.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusInitializing, again.Status)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	sess := session.New("q", "echo")
	require.NoError(t, c.Set(ctx, sess, 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()

	sess := session.New("q", "echo")
	require.NoError(t, c.Set(ctx, sess, time.Minute))
	require.NoError(t, c.Delete(ctx, sess.ID))
	require.NoError(t, c.Delete(ctx, sess.ID))

	_, err := c.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCacheRejectsZeroTTL(t *testing.T) {
	c := NewMemoryCache(0)
	err := c.Set(context.Background(), session.New("q", "echo"), 0)
	assert.Error(t, err)
}

func TestMemoryCacheJanitor(t *testing.T) {
	c := NewMemoryCache(10 * time.Millisecond)
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, session.New("q", "echo"), 5*time.Millisecond))

	assert.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.entries) == 0
	}, time.Second, 10*time.Millisecond)
}
