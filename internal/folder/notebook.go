// Package folder implements the Folder Notebook Preprocessor (§4.9): each
// workspace folder may carry a small notebook of notes, and the
// orchestrator injects a pinned reminder of the newest notes for any
// folder the user has read from since the notes last changed.
package folder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/snowcli/snow/pkg/models"
)

// MaxNotesPerFolder bounds how many of a folder's newest entries are
// considered for redisplay (§4.9: "newest 5 notebook entries").
const MaxNotesPerFolder = 5

// Note is one notebook entry for a folder.
type Note struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Store persists one notebook.json per workspace folder, content-addressed
// by folder path the way internal/snapshot content-addresses by hash —
// here the key is the folder's path, not a blob hash, since notebooks are
// small and human-edited rather than binary blobs.
type Store struct {
	mu   sync.RWMutex
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("folder: create notebook root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(folderPath string) string {
	safe := strings.ReplaceAll(strings.TrimPrefix(folderPath, string(filepath.Separator)), string(filepath.Separator), "__")
	return filepath.Join(s.root, safe+".json")
}

// Notes returns a folder's notes, newest first, capped to MaxNotesPerFolder.
func (s *Store) Notes(folderPath string) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := os.ReadFile(s.path(folderPath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var notes []Note
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil, err
	}
	if len(notes) > MaxNotesPerFolder {
		notes = notes[len(notes)-MaxNotesPerFolder:]
	}
	// newest first
	reversed := make([]Note, len(notes))
	for i, n := range notes {
		reversed[len(notes)-1-i] = n
	}
	return reversed, nil
}

// Append adds a note to a folder's notebook.
func (s *Store) Append(folderPath string, note Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path(folderPath))
	var notes []Note
	if err == nil {
		_ = json.Unmarshal(raw, &notes)
	}
	notes = append(notes, note)
	out, err := json.Marshal(notes)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(folderPath), out, 0o644)
}

// Preprocessor tracks per-session "last shown" note ids and decides which
// folders need redisplay after a file read.
type Preprocessor struct {
	notebook *Store
}

func NewPreprocessor(notebook *Store) *Preprocessor {
	return &Preprocessor{notebook: notebook}
}

// OnFileRead computes every parent folder of filePath, looks up each
// folder's newest notes, and returns the subset whose id-tuple differs
// from what was last shown in sess.ReadFolders — updating that map in
// place. Folders with no notebook entries are skipped entirely.
func (p *Preprocessor) OnFileRead(sess *models.Session, filePath string) ([]Redisplay, error) {
	if sess.ReadFolders == nil {
		sess.ReadFolders = make(map[string][]string)
	}
	var needsRedisplay []Redisplay
	for _, folder := range parentFolders(filePath) {
		notes, err := p.notebook.Notes(folder)
		if err != nil {
			return nil, err
		}
		if len(notes) == 0 {
			continue
		}
		ids := make([]string, len(notes))
		for i, n := range notes {
			ids[i] = n.ID
		}
		if !sameIDs(sess.ReadFolders[folder], ids) {
			sess.ReadFolders[folder] = ids
			needsRedisplay = append(needsRedisplay, Redisplay{Folder: folder, Notes: notes})
		}
	}
	sort.Slice(needsRedisplay, func(i, j int) bool {
		return depth(needsRedisplay[i].Folder) < depth(needsRedisplay[j].Folder)
	})
	return needsRedisplay, nil
}

// Redisplay is one folder whose notebook changed since it was last shown.
type Redisplay struct {
	Folder string
	Notes  []Note
}

// RenderPinned renders the pinned user message body for a set of folders
// needing redisplay, sorted shallow-to-deep by the caller.
func RenderPinned(folders []Redisplay) string {
	if len(folders) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Folder notes for files you've read:\n\n")
	for _, f := range folders {
		fmt.Fprintf(&b, "## %s\n", f.Folder)
		for _, n := range f.Notes {
			fmt.Fprintf(&b, "- %s\n", n.Text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func parentFolders(filePath string) []string {
	dir := filepath.Dir(filePath)
	var folders []string
	for {
		folders = append(folders, dir)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return folders
}

func depth(path string) int {
	return strings.Count(filepath.ToSlash(path), "/")
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
