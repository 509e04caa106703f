package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot files are written to timestamped JSON files under a cache
// directory, one subdirectory per kind.

// SnapshotKind names a cache subdirectory
type SnapshotKind string

const (
	KindResults   SnapshotKind = "results"
	KindDashboard SnapshotKind = "dashboard"
)

// generateFilename creates a timestamped filename with the given extension.
func generateFilename(ext string) string {
	return time.Now().Format("2006-01-02T15-04-05.000") + ext
}

// SaveSnapshot writes data as indented JSON under cacheDir/kind.
// Returns the path to the saved file.
func SaveSnapshot[T any](cacheDir string, kind SnapshotKind, data T) (string, error) {
	dir := filepath.Join(cacheDir, string(kind))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, generateFilename(".json"))

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	return path, nil
}

// LoadLatestSnapshot loads the most recent snapshot of kind.
// Returns the data, the path it was loaded from, and any error.
func LoadLatestSnapshot[T any](cacheDir string, kind SnapshotKind) (T, string, error) {
	var zero T

	dir := filepath.Join(cacheDir, string(kind))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return zero, "", fmt.Errorf("no cached %s snapshot", kind)
		}
		return zero, "", err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps
	var latest string
	for _, entry := range entries {
		if !entry.IsDir() {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return zero, "", fmt.Errorf("no cached %s snapshot", kind)
	}

	path := filepath.Join(dir, latest)
	jsonData, err := os.ReadFile(path)
	if err != nil {
		return zero, "", fmt.Errorf("failed to read snapshot: %w", err)
	}

	var data T
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return zero, "", fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return data, path, nil
}
