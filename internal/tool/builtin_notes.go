package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/snowcli/snow/internal/session"
	"github.com/snowcli/snow/pkg/models"
)

// TodoWriteTool exposes the running TODO list (§4.4 step 3, §4.6 step 6) as
// a tool the model can update. Names matching "todo-*" are always
// auto-approved (internal/tool/confirm.go) since they never touch the
// user's filesystem or shell.
type TodoWriteTool struct {
	sessions *session.CurrentSessionHolder
}

// NewTodoWriteTool wraps holder as a "todo-write" tool that replaces the
// current session's todo list wholesale.
func NewTodoWriteTool(holder *session.CurrentSessionHolder) *TodoWriteTool {
	return &TodoWriteTool{sessions: holder}
}

func (t *TodoWriteTool) Name() string { return "todo-write" }

func (t *TodoWriteTool) Description() string {
	return "Replace the running TODO list for this session with the given items."
}

// todoWriteInput mirrors the wire shape of a todo-write call; its struct
// tags are reflected into the tool's advertised JSON Schema.
type todoWriteInput struct {
	Todos []todoInput `json:"todos" jsonschema:"required"`
}

type todoInput struct {
	ID         string `json:"id,omitempty"`
	Text       string `json:"text" jsonschema:"required"`
	Done       bool   `json:"done,omitempty"`
	ActiveForm string `json:"activeForm,omitempty"`
}

func (t *TodoWriteTool) Schema() json.RawMessage { return GenerateSchema(todoWriteInput{}) }

func (t *TodoWriteTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Todos []models.Todo `json:"todos"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	sess := t.sessions.Current()
	if sess == nil {
		return &Result{Content: "no active session", IsError: true}, nil
	}
	for i := range input.Todos {
		if input.Todos[i].ID == "" {
			input.Todos[i].ID = uuid.NewString()
		}
	}
	sess.Todos = input.Todos
	return &Result{Content: fmt.Sprintf("todo list updated: %d item(s)", len(sess.Todos))}, nil
}

// UsefulInfoWriteTool appends a durable note to the session's useful-info
// list (§4.4 step 3: rendered as a pinned message every round until
// cleared). Names matching "useful-info-*" are always auto-approved.
type UsefulInfoWriteTool struct {
	sessions *session.CurrentSessionHolder
}

func NewUsefulInfoWriteTool(holder *session.CurrentSessionHolder) *UsefulInfoWriteTool {
	return &UsefulInfoWriteTool{sessions: holder}
}

func (t *UsefulInfoWriteTool) Name() string { return "useful-info-write" }

func (t *UsefulInfoWriteTool) Description() string {
	return "Remember a short durable note that should stay pinned at the top of every future round."
}

// usefulInfoWriteInput mirrors the wire shape of a useful-info-write call.
type usefulInfoWriteInput struct {
	Text string `json:"text" jsonschema:"required,description=The note to remember."`
}

func (t *UsefulInfoWriteTool) Schema() json.RawMessage { return GenerateSchema(usefulInfoWriteInput{}) }

func (t *UsefulInfoWriteTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	if input.Text == "" {
		return &Result{Content: "text is required", IsError: true}, nil
	}
	sess := t.sessions.Current()
	if sess == nil {
		return &Result{Content: "no active session", IsError: true}, nil
	}
	sess.UsefulInfo = append(sess.UsefulInfo, models.UsefulInfoItem{ID: uuid.NewString(), Text: input.Text})
	return &Result{Content: "noted"}, nil
}
