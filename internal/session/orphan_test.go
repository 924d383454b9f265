package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snowcli/snow/pkg/models"
)

func TestOrphanRepair_DropsDanglingAssistantToolCalls(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "do it"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "x", Name: "terminal-execute"}}},
		{Role: models.RoleUser, Content: "new prompt after force-quit"},
	}

	repaired, report := OrphanRepair(messages)

	require.Equal(t, 1, report.DroppedAssistantMessages)
	require.Len(t, repaired, 2)
	require.Equal(t, "do it", repaired[0].Content)
	require.Equal(t, "new prompt after force-quit", repaired[1].Content)
}

func TestOrphanRepair_DropsUndeclaredToolResult(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleTool, ToolCallID: "never-declared", Content: "leftover"},
	}

	repaired, report := OrphanRepair(messages)

	require.Equal(t, 1, report.DroppedToolMessages)
	require.Len(t, repaired, 1)
}

func TestOrphanRepair_KeepsMatchedPairs(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "a"}, {ID: "b"}}},
		{Role: models.RoleTool, ToolCallID: "a", Content: "ra"},
		{Role: models.RoleTool, ToolCallID: "b", Content: "rb"},
		{Role: models.RoleAssistant, Content: "done"},
	}

	repaired, report := OrphanRepair(messages)

	require.Zero(t, report.DroppedAssistantMessages)
	require.Zero(t, report.DroppedToolMessages)
	require.Len(t, repaired, 5)
}

func TestMidTurn_TrueWhenResultsStillPending(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "a"}}},
	}
	require.True(t, MidTurn(messages))
}

func TestMidTurn_FalseWhenComplete(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "a"}}},
		{Role: models.RoleTool, ToolCallID: "a"},
	}
	require.False(t, MidTurn(messages))
}
