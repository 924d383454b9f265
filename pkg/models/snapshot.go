package models

// SnapshotFile records one workspace file captured in a snapshot, addressed
// by content hash rather than inline bytes.
type SnapshotFile struct {
	Path        string `json:"path"`
	ContentHash string `json:"contentHash"`
}

// Snapshot is a content-addressed capture of workspace files at a session
// message boundary. Snapshots are append-only per session and
// MessageIndex is strictly increasing (P4).
type Snapshot struct {
	SessionID    string         `json:"sessionId"`
	MessageIndex int            `json:"messageIndex"`
	FileCount    int            `json:"fileCount"`
	Files        []SnapshotFile `json:"files"`
}

// FilePaths returns just the paths captured by this snapshot.
func (s *Snapshot) FilePaths() []string {
	out := make([]string, len(s.Files))
	for i, f := range s.Files {
		out[i] = f.Path
	}
	return out
}
