package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snowcli/snow/pkg/models"
)

func TestFileStore_CreateLoadSave_RoundTrips(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	sess, err := store.CreateSession(ctx, false)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	require.NoError(t, store.SaveMessage(ctx, sess.ID, &models.Message{Role: models.RoleUser, Content: "hi"}))
	require.NoError(t, store.SaveMessage(ctx, sess.ID, &models.Message{Role: models.RoleAssistant, Content: "hello"}))

	reloaded, err := store.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Messages, 2)
	require.Equal(t, "hi", reloaded.Messages[0].Content)
}

func TestFileStore_Ephemeral_NeverWritesToDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	sess, err := store.CreateSession(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.SaveMessage(ctx, sess.ID, &models.Message{Role: models.RoleUser, Content: "ephemeral"}))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.NotContains(t, entries, sess.ID)

	reloaded, err := store.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Messages, 1)
}

func TestFileStore_SaveMessage_SerializesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	sess, err := store.CreateSession(ctx, false)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.SaveMessage(ctx, sess.ID, &models.Message{Role: models.RoleUser, Content: "msg"})
		}(i)
	}
	wg.Wait()

	reloaded, err := store.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Messages, n, "no append should be lost to a lock race")
}

func TestLocker_BlocksConcurrentWriters(t *testing.T) {
	l := NewLocker(50 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, l.Lock(ctx, "s1"))
	defer l.Unlock("s1")

	err := l.Lock(ctx, "s1")
	require.ErrorIs(t, err, ErrLockTimeout)
}
