package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// snapshotGC walks every session's manifest directory to collect
// referenced content hashes, then removes any blob under blobs/ that no
// manifest references — the orphaned-blob half of the cron-driven
// maintenance sweep described in SPEC_FULL.md, adapted from the teacher's
// internal/cron job pattern.
func snapshotGC(snapshotsDir string) error {
	referenced := map[string]bool{}

	sessionsDir := filepath.Join(snapshotsDir, "sessions")
	sessionEntries, err := os.ReadDir(sessionsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, se := range sessionEntries {
		if !se.IsDir() {
			continue
		}
		manifestDir := filepath.Join(sessionsDir, se.Name())
		manifests, err := os.ReadDir(manifestDir)
		if err != nil {
			continue
		}
		for _, mf := range manifests {
			if filepath.Ext(mf.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(manifestDir, mf.Name()))
			if err != nil {
				continue
			}
			var manifest struct {
				Files []struct {
					ContentHash string `json:"contentHash"`
				} `json:"files"`
			}
			if err := json.Unmarshal(data, &manifest); err != nil {
				continue
			}
			for _, f := range manifest.Files {
				referenced[f.ContentHash] = true
			}
		}
	}

	blobsDir := filepath.Join(snapshotsDir, "blobs")
	shards, err := os.ReadDir(blobsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(blobsDir, shard.Name())
		blobs, err := os.ReadDir(shardPath)
		if err != nil {
			continue
		}
		for _, b := range blobs {
			if referenced[b.Name()] {
				continue
			}
			_ = os.Remove(filepath.Join(shardPath, b.Name()))
		}
	}
	return nil
}

// pruneApprovalRequests compacts the always-approved permissions file,
// deduplicating entries. Confirmation prompts themselves are synchronous
// (answered within the round that raised them, never persisted as pending
// requests — see internal/tool/confirm.go), so the only durable state a
// sweep can prune here is this file's accumulated entries.
func pruneApprovalRequests(permissionsFile string) error {
	data, err := os.ReadFile(permissionsFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	seen := map[string]bool{}
	deduped := names[:0]
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		deduped = append(deduped, n)
	}
	if len(deduped) == len(names) {
		return nil
	}
	out, err := json.MarshalIndent(deduped, "", "  ")
	if err != nil {
		return err
	}
	tmp := permissionsFile + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, permissionsFile)
}
