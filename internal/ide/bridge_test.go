package ide

import (
	"context"
	"encoding/json"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct{}

func (fakeHandler) Diagnostics(filePath string) ([]Diagnostic, error) {
	return []Diagnostic{{Message: "unused import", Severity: 2, Line: 3, Character: 1}}, nil
}
func (fakeHandler) GoToDefinition(filePath string, line, column int) ([]Location, error) {
	return []Location{{FilePath: filePath, Line: 10, Column: 2}}, nil
}
func (fakeHandler) FindReferences(filePath string, line, column int) ([]Location, error) {
	return []Location{{FilePath: filePath, Line: 20, Column: 4}}, nil
}
func (fakeHandler) Symbols(filePath string) ([]Symbol, error) {
	return []Symbol{{Name: "Foo", Kind: "function", Line: 1}}, nil
}
func (fakeHandler) GitShowHEAD(filePath string) (string, error) { return "old content", nil }

func dialBridge(t *testing.T, b *Bridge, port int) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: "127.0.0.1:" + strconv.Itoa(port), Path: "/"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBridge_ListenRegistersPort(t *testing.T) {
	b := New(fakeHandler{}, nil)
	portFile := filepath.Join(t.TempDir(), "snow-cli-ports.json")
	port, err := b.Listen("/workspace", portFile, 9527, 9537)
	require.NoError(t, err)
	require.GreaterOrEqual(t, port, 9527)
	defer b.Shutdown(context.Background(), portFile, "/workspace")

	reg, err := readPortFile(portFile)
	require.NoError(t, err)
	require.Equal(t, port, reg["/workspace"])
}

func TestBridge_GetDiagnostics(t *testing.T) {
	b := New(fakeHandler{}, nil)
	portFile := filepath.Join(t.TempDir(), "ports.json")
	port, err := b.Listen("/workspace", portFile, 9527, 9537)
	require.NoError(t, err)
	defer b.Shutdown(context.Background(), portFile, "/workspace")

	conn := dialBridge(t, b, port)
	require.NoError(t, conn.WriteJSON(Frame{Type: "getDiagnostics", FilePath: "main.go", RequestID: "r1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply Frame
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "diagnostics", reply.Type)
	require.Equal(t, "r1", reply.RequestID)
	require.Len(t, reply.Diagnostics, 1)
}

func TestBridge_PushContextBroadcastsToClients(t *testing.T) {
	b := New(fakeHandler{}, nil)
	portFile := filepath.Join(t.TempDir(), "ports.json")
	port, err := b.Listen("/workspace", portFile, 9527, 9537)
	require.NoError(t, err)
	defer b.Shutdown(context.Background(), portFile, "/workspace")

	conn := dialBridge(t, b, port)
	time.Sleep(50 * time.Millisecond)

	b.PushContext(Frame{WorkspaceFolder: "/workspace", ActiveFile: "main.go"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply Frame
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "context", reply.Type)
	require.Equal(t, "main.go", reply.ActiveFile)
}

func TestBridge_UnknownFrameTypeRepliesError(t *testing.T) {
	b := New(fakeHandler{}, nil)
	portFile := filepath.Join(t.TempDir(), "ports.json")
	port, err := b.Listen("/workspace", portFile, 9527, 9537)
	require.NoError(t, err)
	defer b.Shutdown(context.Background(), portFile, "/workspace")

	conn := dialBridge(t, b, port)
	require.NoError(t, conn.WriteJSON(Frame{Type: "bogus", RequestID: "r9"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply Frame
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, "error", reply.Type)
}

func TestWritePortFile_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ports.json")
	require.NoError(t, writePortFile(path, map[string]int{"/a": 9527}))
	reg, err := readPortFile(path)
	require.NoError(t, err)
	require.Equal(t, 9527, reg["/a"])

	raw, err := json.Marshal(reg)
	require.NoError(t, err)
	require.Contains(t, string(raw), "9527")
}
