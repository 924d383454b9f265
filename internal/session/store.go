// Package session implements the Session Store (§4.5): an append-only,
// durable log of messages per session, one JSON file per session id, with a
// single writer per session and orphan repair run in-memory before every
// outbound LLM request (§4.3).
package session

import (
	"context"

	"github.com/snowcli/snow/pkg/models"
)

// Store is the durable session persistence contract.
type Store interface {
	// CreateSession allocates a new session, optionally ephemeral
	// (SNOW_TASK_MODE=true sessions are never written to disk for resume).
	CreateSession(ctx context.Context, ephemeral bool) (*models.Session, error)

	// LoadSession reads a session by id from durable storage.
	LoadSession(ctx context.Context, id string) (*models.Session, error)

	// SaveSession durably persists the whole session (used after
	// compression, and whenever fields outside Messages change).
	SaveSession(ctx context.Context, session *models.Session) error

	// SaveMessage durably appends one message to the named session. Calls
	// for the same session id are serialised: concurrent callers queue.
	SaveMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// List returns session ids available for resume, newest first.
	List(ctx context.Context) ([]string, error)

	// Delete removes a session's durable record.
	Delete(ctx context.Context, id string) error
}

// CurrentSessionHolder owns the process-wide "current session" pointer. It
// is the only thing in the runtime allowed to mutate which session is
// current — the orchestrator and the compressor (§5, "currentSession is
// process-wide, mutated only by the orchestrator and the compressor").
type CurrentSessionHolder struct {
	store Store

	mu      chanLock
	current *models.Session
}

type chanLock chan struct{}

func newChanLock() chanLock {
	c := make(chanLock, 1)
	c <- struct{}{}
	return c
}

func (c chanLock) Lock()   { <-c }
func (c chanLock) Unlock() { c <- struct{}{} }

// NewCurrentSessionHolder wraps a Store with a process-wide current pointer.
func NewCurrentSessionHolder(store Store) *CurrentSessionHolder {
	return &CurrentSessionHolder{store: store, mu: newChanLock()}
}

// Current returns the presently-active session, or nil if none is set.
func (h *CurrentSessionHolder) Current() *models.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// SetCurrent installs session as current. Per §4.5, after compression the
// caller MUST have already reloaded the new session from disk before
// calling this, rather than trusting the in-memory copy returned by the
// compressor.
func (h *CurrentSessionHolder) SetCurrent(s *models.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = s
}

// Clear drops the current session pointer (used by /clear).
func (h *CurrentSessionHolder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = nil
}

// ReloadCurrentFromDisk re-reads the current session's id from the store and
// installs the freshly loaded copy as current.
func (h *CurrentSessionHolder) ReloadCurrentFromDisk(ctx context.Context) error {
	h.mu.Lock()
	id := ""
	if h.current != nil {
		id = h.current.ID
	}
	h.mu.Unlock()
	if id == "" {
		return nil
	}
	fresh, err := h.store.LoadSession(ctx, id)
	if err != nil {
		return err
	}
	h.SetCurrent(fresh)
	return nil
}
