// Package ide implements the IDE Bridge (§4.10): a WebSocket server bound
// to the first free port in a configured range, discoverable by editors
// through a port-registry file, that answers diagnostics/navigation
// requests and pushes editor-context and diff-view frames. Grounded on
// the teacher's internal/gateway WebSocket control plane (upgrader
// config, per-connection writer goroutine, JSON frame discriminator).
package ide

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 45 * time.Second
	pingInterval   = 15 * time.Second
	maxPayloadSize = 1 << 20
)

// Frame is the single-line JSON envelope every bridge message uses,
// discriminated by Type (§4.10).
type Frame struct {
	Type         string `json:"type"`
	RequestID    string `json:"requestId,omitempty"`
	FilePath     string `json:"filePath,omitempty"`
	Line         int    `json:"line,omitempty"`
	Column       int    `json:"column,omitempty"`
	EndLine      int    `json:"endLine,omitempty"`
	EndColumn    int    `json:"endColumn,omitempty"`
	OriginalContent string `json:"originalContent,omitempty"`
	NewContent   string `json:"newContent,omitempty"`
	Label        string `json:"label,omitempty"`

	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	Locations   []Location   `json:"locations,omitempty"`
	Symbols     []Symbol     `json:"symbols,omitempty"`
	Files       []DiffFile   `json:"files,omitempty"`

	WorkspaceFolder string  `json:"workspaceFolder,omitempty"`
	ActiveFile      string  `json:"activeFile,omitempty"`
	CursorPosition  *Cursor `json:"cursorPosition,omitempty"`
	SelectedText    string  `json:"selectedText,omitempty"`
}

// Diagnostic mirrors one LSP-style diagnostic entry.
type Diagnostic struct {
	Message  string `json:"message"`
	Severity int    `json:"severity"`
	Line     int    `json:"line"`
	Character int   `json:"character"`
	Source   string `json:"source,omitempty"`
	Code     string `json:"code,omitempty"`
}

// Location is a file position returned by go-to-definition/find-references.
type Location struct {
	FilePath  string `json:"filePath"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"endLine"`
	EndColumn int    `json:"endColumn"`
}

// Symbol is one entry in a flattened document symbol tree.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"endLine"`
	EndColumn int    `json:"endColumn"`
	Detail    string `json:"detail,omitempty"`
}

// DiffFile is one entry in a showDiffReview sequence.
type DiffFile struct {
	FilePath        string `json:"filePath"`
	OriginalContent string `json:"originalContent"`
	NewContent      string `json:"newContent"`
}

// Cursor is a zero-based line/character editor position.
type Cursor struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Handler answers the bridge's request/reply message types. It is
// injected so this package has no dependency on an actual language
// server or git repository; production wiring lives in cmd/snow.
type Handler interface {
	Diagnostics(filePath string) ([]Diagnostic, error)
	GoToDefinition(filePath string, line, column int) ([]Location, error)
	FindReferences(filePath string, line, column int) ([]Location, error)
	Symbols(filePath string) ([]Symbol, error)
	GitShowHEAD(filePath string) (string, error)
}

// Bridge is the running WebSocket server plus the set of connected
// clients it pushes editor-context broadcasts to.
type Bridge struct {
	handler  Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	listener net.Listener
	server   *http.Server
	port     int

	mu      sync.Mutex
	clients map[*client]struct{}
	lastCtx *Frame
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New builds a Bridge. It does not yet listen; call Listen to bind a port.
func New(handler Handler, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		handler: handler,
		logger:  logger.With("component", "ide.bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Listen binds the first free port in [start, end], writing workspaceFolder
// → port into the port-registry file at portFile (§4.10: "$TMP/snow-cli-
// ports.json"). It returns the bound port.
func (b *Bridge) Listen(workspaceFolder, portFile string, start, end int) (int, error) {
	var lis net.Listener
	var err error
	port := start
	for ; port <= end; port++ {
		lis, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			break
		}
	}
	if lis == nil {
		return 0, fmt.Errorf("ide: no free port in [%d,%d]: %w", start, end, err)
	}

	b.listener = lis
	b.port = port
	mux := http.NewServeMux()
	mux.Handle("/", b)
	b.server = &http.Server{Handler: mux}

	if err := registerPort(portFile, workspaceFolder, port); err != nil {
		b.logger.Warn("ide: write port registry failed", "error", err)
	}

	go func() {
		if err := b.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			b.logger.Error("ide: serve failed", "error", err)
		}
	}()

	return port, nil
}

// Port returns the bound port, or 0 if Listen has not succeeded.
func (b *Bridge) Port() int { return b.port }

// Shutdown stops the server and removes workspaceFolder's entry from the
// port-registry file.
func (b *Bridge) Shutdown(ctx context.Context, portFile, workspaceFolder string) error {
	if err := unregisterPort(portFile, workspaceFolder); err != nil {
		b.logger.Warn("ide: remove port registry entry failed", "error", err)
	}
	if b.server == nil {
		return nil
	}
	return b.server.Shutdown(ctx)
}

func registerPort(portFile, workspaceFolder string, port int) error {
	reg, _ := readPortFile(portFile)
	if reg == nil {
		reg = map[string]int{}
	}
	reg[workspaceFolder] = port
	return writePortFile(portFile, reg)
}

func unregisterPort(portFile, workspaceFolder string) error {
	reg, err := readPortFile(portFile)
	if err != nil || reg == nil {
		return err
	}
	delete(reg, workspaceFolder)
	return writePortFile(portFile, reg)
}

func readPortFile(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var reg map[string]int
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func writePortFile(path string, reg map[string]int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ServeHTTP upgrades the connection and runs its read/write pumps.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("ide: upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 32)}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	if b.lastCtx != nil {
		if payload, err := json.Marshal(b.lastCtx); err == nil {
			c.send <- payload
		}
	}
	b.mu.Unlock()

	go b.writePump(c)
	b.readPump(c)
}

func (b *Bridge) readPump(c *client) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		remaining := len(b.clients)
		b.mu.Unlock()
		close(c.send)
		c.conn.Close()
		if remaining == 0 {
			b.broadcastClearedContext()
		}
	}()

	c.conn.SetReadLimit(maxPayloadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		reply := b.handle(frame)
		if reply == nil {
			continue
		}
		payload, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		select {
		case c.send <- payload:
		default:
			b.logger.Warn("ide: client send buffer full, dropping reply")
		}
	}
}

func (b *Bridge) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle dispatches one request frame to the Handler and builds its reply,
// per the message catalog in §4.10. A showGitDiff request is answered with
// a showDiff frame whose originalContent is the file at HEAD (empty when
// git fails). showDiff, closeDiff and showDiffReview frames arriving from a
// client get no reply.
func (b *Bridge) handle(req Frame) *Frame {
	if b.handler == nil {
		return &Frame{Type: "error", RequestID: req.RequestID}
	}
	switch req.Type {
	case "getDiagnostics":
		diags, err := b.handler.Diagnostics(req.FilePath)
		if err != nil {
			return &Frame{Type: "diagnostics", RequestID: req.RequestID}
		}
		return &Frame{Type: "diagnostics", RequestID: req.RequestID, Diagnostics: diags}
	case "aceGoToDefinition":
		locs, _ := b.handler.GoToDefinition(req.FilePath, req.Line, req.Column)
		return &Frame{Type: "aceGoToDefinition", RequestID: req.RequestID, Locations: locs}
	case "aceFindReferences":
		locs, _ := b.handler.FindReferences(req.FilePath, req.Line, req.Column)
		return &Frame{Type: "aceFindReferences", RequestID: req.RequestID, Locations: locs}
	case "aceGetSymbols":
		syms, _ := b.handler.Symbols(req.FilePath)
		return &Frame{Type: "aceGetSymbols", RequestID: req.RequestID, Symbols: syms}
	case "showGitDiff":
		baseline, err := b.handler.GitShowHEAD(req.FilePath)
		if err != nil {
			baseline = ""
		}
		return &Frame{Type: "showDiff", FilePath: req.FilePath, OriginalContent: baseline}
	case "showDiff", "closeDiff", "showDiffReview":
		return nil
	default:
		return &Frame{Type: "error", RequestID: req.RequestID}
	}
}

// PushContext broadcasts an editor-context frame to every connected
// client and remembers it as the last valid context for late joiners and
// for rebroadcast when focus leaves an editor area (§4.10).
func (b *Bridge) PushContext(frame Frame) {
	frame.Type = "context"
	b.mu.Lock()
	b.lastCtx = &frame
	b.mu.Unlock()
	b.broadcast(frame)
}

// RebroadcastLastContext resends the last valid context, used when focus
// moves to a non-editor area without closing any editor.
func (b *Bridge) RebroadcastLastContext() {
	b.mu.Lock()
	last := b.lastCtx
	b.mu.Unlock()
	if last != nil {
		b.broadcast(*last)
	}
}

func (b *Bridge) broadcastClearedContext() {
	b.mu.Lock()
	b.lastCtx = nil
	b.mu.Unlock()
	b.broadcast(Frame{Type: "context", WorkspaceFolder: "", ActiveFile: ""})
}

func (b *Bridge) broadcast(frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// NewRequestID mints an identifier for a server-initiated request.
func NewRequestID() string { return uuid.NewString() }
