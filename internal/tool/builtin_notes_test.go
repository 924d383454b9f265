package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowcli/snow/internal/session"
	"github.com/snowcli/snow/pkg/models"
)

func newTestHolder(t *testing.T) *session.CurrentSessionHolder {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	holder := session.NewCurrentSessionHolder(store)
	holder.SetCurrent(&models.Session{ID: "sess-1"})
	return holder
}

func TestTodoWriteTool_ReplacesListAndFillsIDs(t *testing.T) {
	holder := newTestHolder(t)
	tool := NewTodoWriteTool(holder)

	res, err := tool.Execute(context.Background(), []byte(`{"todos":[{"text":"write tests"},{"id":"keep-me","text":"ship it","done":true}]}`))
	require.NoError(t, err)
	require.False(t, res.IsError)

	todos := holder.Current().Todos
	require.Len(t, todos, 2)
	require.NotEmpty(t, todos[0].ID)
	require.Equal(t, "keep-me", todos[1].ID)
	require.True(t, todos[1].Done)
}

func TestTodoWriteTool_NoActiveSession(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	holder := session.NewCurrentSessionHolder(store)
	tool := NewTodoWriteTool(holder)

	res, err := tool.Execute(context.Background(), []byte(`{"todos":[]}`))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestUsefulInfoWriteTool_Appends(t *testing.T) {
	holder := newTestHolder(t)
	tool := NewUsefulInfoWriteTool(holder)

	_, err := tool.Execute(context.Background(), []byte(`{"text":"the db migration runs nightly"}`))
	require.NoError(t, err)
	_, err = tool.Execute(context.Background(), []byte(`{"text":"staging creds live in vault"}`))
	require.NoError(t, err)

	info := holder.Current().UsefulInfo
	require.Len(t, info, 2)
	require.Equal(t, "the db migration runs nightly", info[0].Text)
	require.NotEmpty(t, info[0].ID)
}

func TestUsefulInfoWriteTool_RequiresText(t *testing.T) {
	holder := newTestHolder(t)
	tool := NewUsefulInfoWriteTool(holder)

	res, err := tool.Execute(context.Background(), []byte(`{"text":""}`))
	require.NoError(t, err)
	require.True(t, res.IsError)
}
