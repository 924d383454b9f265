package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/snowcli/snow/internal/provider"
	"github.com/snowcli/snow/internal/session"
	"github.com/snowcli/snow/internal/tool"
	"github.com/snowcli/snow/pkg/models"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newMemStore() *memStore { return &memStore{sessions: map[string]*models.Session{}} }

func (s *memStore) CreateSession(ctx context.Context, ephemeral bool) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &models.Session{ID: uuid.NewString(), Ephemeral: ephemeral}
	s.sessions[sess.ID] = sess.Clone()
	return sess, nil
}

func (s *memStore) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id].Clone(), nil
}

func (s *memStore) SaveSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *memStore) SaveMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &models.Session{ID: sessionID}
		s.sessions[sessionID] = sess
	}
	sess.Messages = append(sess.Messages, *msg)
	return nil
}

func (s *memStore) List(ctx context.Context) ([]string, error) { return nil, nil }
func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

type scriptedProvider struct {
	rounds [][]*models.StreamChunk
	calls  int
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) Dialect() provider.Dialect { return provider.DialectAnthropic }
func (p *scriptedProvider) SupportsTools() bool       { return true }
func (p *scriptedProvider) Models() []provider.ModelInfo {
	return []provider.ModelInfo{{ID: "fake-model", ContextWindow: 100000}}
}

func (p *scriptedProvider) Stream(ctx context.Context, req *provider.Request) (<-chan *models.StreamChunk, error) {
	round := p.rounds[p.calls]
	p.calls++
	ch := make(chan *models.StreamChunk, len(round))
	for _, c := range round {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func newTestOrchestrator(t *testing.T, prov provider.Provider) (*Orchestrator, *memStore) {
	t.Helper()
	store := newMemStore()
	holder := session.NewCurrentSessionHolder(store)
	registry := provider.NewRegistry()
	registry.Add(prov)

	tools := tool.NewRegistry()
	policy, err := tool.NewPolicy("", nil)
	require.NoError(t, err)
	policy.YOLO = true
	dispatcher := tool.NewDispatcher(tools, policy, tool.DefaultDispatchConfig())

	o := New(holder, store, registry, tools, dispatcher, nil, nil, nil, nil, nil, nil, Config{
		AdvancedModel: "fake-model",
		BasicModel:    "fake-model",
		ContextWindow: 100000,
	})
	return o, store
}

func contentChunk(s string) *models.StreamChunk {
	return &models.StreamChunk{Kind: models.ChunkContent, Delta: s}
}

func doneChunk() *models.StreamChunk { return &models.StreamChunk{Kind: models.ChunkDone} }

func TestProcessUserTurn_ContentOnly(t *testing.T) {
	prov := &scriptedProvider{rounds: [][]*models.StreamChunk{
		{contentChunk("hello "), contentChunk("world"), doneChunk()},
	}}
	o, store := newTestOrchestrator(t, prov)

	usage, err := o.ProcessUserTurn(context.Background(), "hi", nil, false)
	require.NoError(t, err)
	require.NotNil(t, usage)

	sess := o.sessions.Current()
	require.Len(t, sess.Messages, 2)
	require.Equal(t, models.RoleUser, sess.Messages[0].Role)
	require.Equal(t, models.RoleAssistant, sess.Messages[1].Role)
	require.Equal(t, "hello world", sess.Messages[1].Content)

	persisted, _ := store.LoadSession(context.Background(), sess.ID)
	require.Len(t, persisted.Messages, 2)
}

func TestProcessUserTurn_ToolCallThenAnswer(t *testing.T) {
	echo := &echoToolStub{}
	prov := &scriptedProvider{rounds: [][]*models.StreamChunk{
		{
			contentChunk("let me check"),
			{Kind: models.ChunkToolCalls, ToolCalls: []models.ToolCall{{ID: "call_1", Name: "echo", ArgumentsJSON: json.RawMessage(`{}`)}}},
			doneChunk(),
		},
		{contentChunk("done"), doneChunk()},
	}}
	o, _ := newTestOrchestrator(t, prov)
	o.tools.Register(echo)

	usage, err := o.ProcessUserTurn(context.Background(), "do the thing", nil, false)
	require.NoError(t, err)
	require.NotNil(t, usage)

	sess := o.sessions.Current()
	// user, assistant(tool_calls), tool result, assistant(final)
	require.Len(t, sess.Messages, 4)
	require.Equal(t, models.RoleAssistant, sess.Messages[1].Role)
	require.Len(t, sess.Messages[1].ToolCalls, 1)
	require.Equal(t, models.RoleTool, sess.Messages[2].Role)
	require.Equal(t, "call_1", sess.Messages[2].ToolCallID)
	require.Equal(t, "done", sess.Messages[3].Content)
	require.Equal(t, 1, echo.calls)
}

func TestProcessUserTurn_EmptyResponseExhaustsRetries(t *testing.T) {
	rounds := make([][]*models.StreamChunk, 0, 5)
	for i := 0; i < 5; i++ {
		rounds = append(rounds, []*models.StreamChunk{doneChunk()})
	}
	prov := &scriptedProvider{rounds: rounds}
	o, _ := newTestOrchestrator(t, prov)
	o.cfg.MaxEmptyRetries = 3

	_, err := o.ProcessUserTurn(context.Background(), "hi", nil, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty response")
}

func TestProcessUserTurn_RejectsEmptyInput(t *testing.T) {
	prov := &scriptedProvider{rounds: [][]*models.StreamChunk{{doneChunk()}}}
	o, _ := newTestOrchestrator(t, prov)

	_, err := o.ProcessUserTurn(context.Background(), "", nil, false)
	require.Error(t, err)
}

type echoToolStub struct{ calls int }

func (e *echoToolStub) Name() string            { return "echo" }
func (e *echoToolStub) Description() string     { return "echoes" }
func (e *echoToolStub) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (e *echoToolStub) Execute(ctx context.Context, args json.RawMessage) (*tool.Result, error) {
	e.calls++
	return &tool.Result{Content: "ok"}, nil
}
