package folder

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowcli/snow/pkg/models"
)

func TestPreprocessor_OnFileRead_FlagsRedisplayOnChange(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Append("/project/src", Note{ID: "n1", Text: "watch out for the legacy parser"}))

	pre := NewPreprocessor(store)
	sess := &models.Session{}

	redisplay, err := pre.OnFileRead(sess, filepath.Join("/project/src", "main.go"))
	require.NoError(t, err)
	require.Len(t, redisplay, 1)
	require.Equal(t, "/project/src", redisplay[0].Folder)

	// Reading again with no new notes should not flag redisplay.
	redisplay, err = pre.OnFileRead(sess, filepath.Join("/project/src", "other.go"))
	require.NoError(t, err)
	require.Empty(t, redisplay)

	require.NoError(t, store.Append("/project/src", Note{ID: "n2", Text: "new note"}))
	redisplay, err = pre.OnFileRead(sess, filepath.Join("/project/src", "main.go"))
	require.NoError(t, err)
	require.Len(t, redisplay, 1)
}

func TestRenderPinned_Empty(t *testing.T) {
	require.Equal(t, "", RenderPinned(nil))
}
