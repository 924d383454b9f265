package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_CreateAndList_Monotonic(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Create("sess-1", 0, map[string][]byte{"a.go": []byte("package a")})
	require.NoError(t, err)
	_, err = store.Create("sess-1", 3, map[string][]byte{"a.go": []byte("package a v2")})
	require.NoError(t, err)

	snaps, err := store.List("sess-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, 0, snaps[0].MessageIndex)
	require.Equal(t, 3, snaps[1].MessageIndex)
}

func TestStore_Create_RejectsNonMonotonic(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Create("sess-1", 5, map[string][]byte{"a.go": []byte("x")})
	require.NoError(t, err)

	_, err = store.Create("sess-1", 2, map[string][]byte{"a.go": []byte("y")})
	require.ErrorIs(t, err, ErrNotMonotonic)
}

func TestStore_Create_IdempotentForSameIndex(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	files := map[string][]byte{"a.go": []byte("same content")}
	first, err := store.Create("sess-1", 0, files)
	require.NoError(t, err)
	second, err := store.Create("sess-1", 0, files)
	require.NoError(t, err)
	require.Equal(t, first.Files[0].ContentHash, second.Files[0].ContentHash)
}

func TestStore_Rollback_RestoresBlobContent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Create("sess-1", 0, map[string][]byte{"a.go": []byte("v1")})
	require.NoError(t, err)
	_, err = store.Create("sess-1", 4, map[string][]byte{"a.go": []byte("v2")})
	require.NoError(t, err)

	restored, err := store.Rollback("sess-1", 2)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), restored["a.go"])

	restored, err = store.Rollback("sess-1", 4)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), restored["a.go"])
}
