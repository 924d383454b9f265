package session

import "github.com/snowcli/snow/pkg/models"

// RepairReport summarizes what OrphanRepair removed from a message slice.
type RepairReport struct {
	DroppedAssistantMessages int
	DroppedToolMessages      int
}

// OrphanRepair implements §4.3. It runs in-memory on a copy of the session
// messages and never mutates the on-disk session (Invariant P1's outbound
// half): a force-quit mid-execution leaves dangling tool_calls that make
// providers reject the whole history, so before every outbound LLM request
// the orchestrator must repair a copy, never the durable log.
func OrphanRepair(messages []models.Message) ([]models.Message, RepairReport) {
	matchedResults := map[string]bool{}
	declaredCalls := map[string]bool{}

	for _, m := range messages {
		if m.Role == models.RoleTool && m.ToolCallID != "" {
			matchedResults[m.ToolCallID] = true
		}
		for _, tc := range m.ToolCalls {
			declaredCalls[tc.ID] = true
		}
	}

	var report RepairReport
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == models.RoleAssistant && m.HasToolCalls():
			if !allMatched(m.ToolCalls, matchedResults) {
				report.DroppedAssistantMessages++
				continue
			}
			out = append(out, m)
		case m.Role == models.RoleTool:
			if m.ToolCallID == "" || !declaredCalls[m.ToolCallID] {
				report.DroppedToolMessages++
				continue
			}
			out = append(out, m)
		default:
			out = append(out, m)
		}
	}
	return out, report
}

func allMatched(calls []models.ToolCall, matched map[string]bool) bool {
	for _, c := range calls {
		if !matched[c.ID] {
			return false
		}
	}
	return true
}

// MidTurn reports whether the session is in the middle of a tool-calling
// turn: the last assistant message has tool_calls that have not all
// received results in the tool messages after it. Per P1, this is the one case an "orphan" assistant message is
// expected and not a corruption to repair on disk.
func MidTurn(messages []models.Message) bool {
	idx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			idx = i
			break
		}
	}
	if idx == -1 || !messages[idx].HasToolCalls() {
		return false
	}
	matched := map[string]bool{}
	for _, m := range messages[idx+1:] {
		if m.Role == models.RoleTool {
			matched[m.ToolCallID] = true
		}
	}
	return !allMatched(messages[idx].ToolCalls, matched)
}
