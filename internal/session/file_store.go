package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/snowcli/snow/pkg/models"
)

// FileStore persists one session per JSON file named by session id, per
// SPEC_FULL.md §6 (External Interfaces: "Session file"). Ephemeral sessions
// (SNOW_TASK_MODE) are held only in memory and never touch disk.
type FileStore struct {
	dir    string
	locker *Locker

	ephemeral map[string]*models.Session
	ephMu     chanLock
}

// NewFileStore opens (creating if absent) a session store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create store dir: %w", err)
	}
	return &FileStore{
		dir:       dir,
		locker:    NewLocker(DefaultLockTimeout),
		ephemeral: map[string]*models.Session{},
		ephMu:     newChanLock(),
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) CreateSession(ctx context.Context, ephemeral bool) (*models.Session, error) {
	now := time.Now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Ephemeral: ephemeral,
	}
	if ephemeral {
		s.ephMu.Lock()
		s.ephemeral[sess.ID] = sess
		s.ephMu.Unlock()
		return sess.Clone(), nil
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *FileStore) LoadSession(ctx context.Context, id string) (*models.Session, error) {
	s.ephMu.Lock()
	if eph, ok := s.ephemeral[id]; ok {
		s.ephMu.Unlock()
		return eph.Clone(), nil
	}
	s.ephMu.Unlock()

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("session: %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", id, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &sess, nil
}

func (s *FileStore) SaveSession(ctx context.Context, sess *models.Session) error {
	if sess == nil {
		return errors.New("session: nil session")
	}
	if sess.Ephemeral {
		s.ephMu.Lock()
		s.ephemeral[sess.ID] = sess.Clone()
		s.ephMu.Unlock()
		return nil
	}
	return s.locker.WithLock(ctx, sess.ID, func() error {
		sess.UpdatedAt = time.Now()
		data, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			return fmt.Errorf("session: marshal %s: %w", sess.ID, err)
		}
		tmp := s.path(sess.ID) + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("session: write %s: %w", sess.ID, err)
		}
		return os.Rename(tmp, s.path(sess.ID))
	})
}

// SaveMessage durably appends msg to sessionID. The session is read,
// appended to, and rewritten atomically under the per-session lock so
// concurrent appends (e.g. a pending user message drained mid-turn) never
// interleave.
func (s *FileStore) SaveMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	return s.locker.WithLock(ctx, sessionID, func() error {
		sess, err := s.loadUnlocked(sessionID)
		if err != nil {
			return err
		}
		sess.Messages = append(sess.Messages, *msg)
		return s.saveUnlocked(sess)
	})
}

// loadUnlocked and saveUnlocked bypass the per-session lock: callers must
// already hold it (used internally by SaveMessage to avoid deadlocking on
// its own WithLock call).
func (s *FileStore) loadUnlocked(id string) (*models.Session, error) {
	s.ephMu.Lock()
	if eph, ok := s.ephemeral[id]; ok {
		s.ephMu.Unlock()
		return eph, nil
	}
	s.ephMu.Unlock()

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("session: %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", id, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &sess, nil
}

func (s *FileStore) saveUnlocked(sess *models.Session) error {
	if sess.Ephemeral {
		s.ephMu.Lock()
		s.ephemeral[sess.ID] = sess
		s.ephMu.Unlock()
		return nil
	}
	sess.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", sess.ID, err)
	}
	tmp := s.path(sess.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write %s: %w", sess.ID, err)
	}
	return os.Rename(tmp, s.path(sess.ID))
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	type withTime struct {
		id string
		mt time.Time
	}
	var ids []withTime
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		ids = append(ids, withTime{id: e.Name()[:len(e.Name())-len(".json")], mt: info.ModTime()})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].mt.After(ids[j].mt) })
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.id
	}
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.ephMu.Lock()
	delete(s.ephemeral, id)
	s.ephMu.Unlock()
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
