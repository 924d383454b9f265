// Package snapshot implements the content-addressed workspace snapshot
// store keyed by (sessionId, messageIndex). It is the leaf dependency of the
// runtime: nothing here imports session, tool, or orchestrator packages.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/snowcli/snow/pkg/models"
)

// ErrNotMonotonic is returned when a caller attempts to create a snapshot
// whose messageIndex does not exceed every prior snapshot for the session.
var ErrNotMonotonic = errors.New("snapshot: messageIndex must be strictly increasing")

// Store is a content-addressed blob store plus a per-session, per-message-
// index manifest directory, matching the layout in SPEC_FULL.md §6.
type Store struct {
	root string

	mu   sync.Mutex
	last map[string]int // sessionID -> highest committed messageIndex
}

// NewStore opens (creating if absent) a snapshot store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create root: %w", err)
	}
	return &Store{root: dir, last: map[string]int{}}, nil
}

func (s *Store) manifestDir(sessionID string) string {
	return filepath.Join(s.root, "sessions", sessionID)
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.root, "blobs", hash[:2], hash)
}

// Create captures the given files (path -> content) into a new snapshot for
// sessionID at messageIndex. It writes content-addressed blobs (skipping
// ones that already exist) and a manifest file, then commits the index as
// the new high-water mark. Create is idempotent for a repeated
// (sessionID, messageIndex, identical file set) call — re-creating the same
// index with the same content is a no-op success (P4).
func (s *Store) Create(sessionID string, messageIndex int, files map[string][]byte) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.last[sessionID]; ok && messageIndex <= last {
		if existing, err := s.loadManifest(sessionID, messageIndex); err == nil {
			return existing, nil
		}
		return nil, ErrNotMonotonic
	}

	snap := &models.Snapshot{SessionID: sessionID, MessageIndex: messageIndex}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	for _, p := range paths {
		content := files[p]
		sum := sha256.Sum256(content)
		hash := hex.EncodeToString(sum[:])
		if err := s.writeBlob(hash, content); err != nil {
			return nil, err
		}
		snap.Files = append(snap.Files, models.SnapshotFile{Path: p, ContentHash: hash})
	}
	snap.FileCount = len(snap.Files)

	if err := s.writeManifest(snap); err != nil {
		return nil, err
	}
	s.last[sessionID] = messageIndex
	return snap, nil
}

func (s *Store) writeBlob(hash string, content []byte) error {
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil // already have this content; blobs are immutable
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir blob dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("snapshot: write blob: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) writeManifest(snap *models.Snapshot) error {
	dir := s.manifestDir(snap.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir manifest dir: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: marshal manifest: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%08d.json", snap.MessageIndex))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) loadManifest(sessionID string, messageIndex int) (*models.Snapshot, error) {
	path := filepath.Join(s.manifestDir(sessionID), fmt.Sprintf("%08d.json", messageIndex))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// List returns all committed snapshots for a session, ordered by
// messageIndex ascending.
func (s *Store) List(sessionID string) ([]*models.Snapshot, error) {
	dir := s.manifestDir(sessionID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	out := make([]*models.Snapshot, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var snap models.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("snapshot: decode %s: %w", e.Name(), err)
		}
		out = append(out, &snap)
	}
	return out, nil
}

// Rollback reads back the blob content for every file in the snapshot at or
// before messageIndex (the closest snapshot at-or-below that index), so a
// caller can restore the workspace to that point.
func (s *Store) Rollback(sessionID string, messageIndex int) (map[string][]byte, error) {
	snaps, err := s.List(sessionID)
	if err != nil {
		return nil, err
	}
	var target *models.Snapshot
	for _, snap := range snaps {
		if snap.MessageIndex <= messageIndex {
			target = snap
		}
	}
	if target == nil {
		return nil, fmt.Errorf("snapshot: no snapshot at or before index %d for session %s", messageIndex, sessionID)
	}
	out := make(map[string][]byte, len(target.Files))
	for _, f := range target.Files {
		content, err := os.ReadFile(s.blobPath(f.ContentHash))
		if err != nil {
			return nil, fmt.Errorf("snapshot: read blob for %s: %w", f.Path, err)
		}
		out[f.Path] = content
	}
	return out, nil
}
