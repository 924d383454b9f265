package hook

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowcli/snow/internal/term"
)

func TestRunOnSessionStart_WarnsOnExitOne(t *testing.T) {
	exec := term.NewExecutor(slog.Default())
	defs := []*Definition{{Name: "warn", Event: EventOnSessionStart, Kind: KindCommand, Command: "echo warning; exit 1"}}
	reg := NewRegistry(exec, nil, defs)

	outcome, err := reg.RunOnSessionStart(context.Background())
	require.NoError(t, err)
	require.True(t, outcome.Warned)
	require.False(t, outcome.Blocked)
}

func TestRunBeforeCompress_BlocksOnExitTwo(t *testing.T) {
	exec := term.NewExecutor(slog.Default())
	defs := []*Definition{{Name: "block", Event: EventBeforeCompress, Kind: KindCommand, Command: "echo fatal >&2; exit 2"}}
	reg := NewRegistry(exec, nil, defs)

	outcome, err := reg.RunBeforeCompress(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, outcome.Blocked)
}

func TestParseStopReply(t *testing.T) {
	d := parseStopReply("ask:ai, continue:true\nfollow up with tests")
	require.NotNil(t, d)
	require.True(t, d.Continue)
	require.Equal(t, "follow up with tests", d.InjectText)

	require.Nil(t, parseStopReply("just some ordinary reply"))
}
