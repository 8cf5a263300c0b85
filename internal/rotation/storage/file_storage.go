package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNoStatus is returned by GetStatus for targets that never ran.
var ErrNoStatus = errors.New("no status recorded")

const historyTimeFormat = "20060102-150405"

// FileStorage implements Storage using the filesystem
type FileStorage struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStorage creates a new file-based storage
func NewFileStorage(baseDir string) *FileStorage {
	return &FileStorage{
		baseDir: baseDir,
	}
}

// Dir returns the storage root.
func (fs *FileStorage) Dir() string {
	return fs.baseDir
}

// DefaultStorageDir returns the default storage directory
func DefaultStorageDir() string {
	if dir := os.Getenv("CREDROTATE_HISTORY_DIR"); dir != "" {
		return dir
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "credrotate")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "credrotate")
	}

	return filepath.Join(os.TempDir(), "credrotate")
}

// SaveStatus saves the status summary for a target
func (fs *FileStorage) SaveStatus(status *TargetStatus) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	statusDir := filepath.Join(fs.baseDir, "status")
	if err := os.MkdirAll(statusDir, 0700); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return writeFileAtomic(filepath.Join(statusDir, sanitizeFilename(status.Target)+".json"), data)
}

// GetStatus retrieves the status summary for a target
func (fs *FileStorage) GetStatus(target string) (*TargetStatus, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(fs.baseDir, "status", sanitizeFilename(target)+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("target %s: %w", target, ErrNoStatus)
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var status TargetStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

// SaveHistory saves a history entry
func (fs *FileStorage) SaveHistory(entry *HistoryEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("history entry has no ID")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	historyDir := filepath.Join(fs.baseDir, "history", sanitizeFilename(entry.Target))
	if err := os.MkdirAll(historyDir, 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	// The timestamp prefix orders files and drives cleanup; the ID suffix
	// keeps runs in the same second apart.
	name := fmt.Sprintf("%s-%s.json", entry.Timestamp.UTC().Format(historyTimeFormat), sanitizeFilename(entry.ID))
	return writeFileAtomic(filepath.Join(historyDir, name), data)
}

// GetHistory retrieves history for a target, newest first
func (fs *FileStorage) GetHistory(target string, limit int) ([]HistoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.readHistoryDir(filepath.Join(fs.baseDir, "history", sanitizeFilename(target)), limit)
}

func (fs *FileStorage) readHistoryDir(dir string, limit int) ([]HistoryEntry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	entries := []HistoryEntry{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	// File names only order runs to the second, so sort on the full
	// timestamp before applying the limit.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// GetAllHistory retrieves history for all targets, newest first
func (fs *FileStorage) GetAllHistory(limit int) ([]HistoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	historyDir := filepath.Join(fs.baseDir, "history")
	targetDirs, err := os.ReadDir(historyDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	all := []HistoryEntry{}
	for _, dir := range targetDirs {
		if !dir.IsDir() {
			continue
		}
		entries, err := fs.readHistoryDir(filepath.Join(historyDir, dir.Name()), limit)
		if err != nil {
			continue
		}
		all = append(all, entries...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CleanupOldEntries removes entries older than the given age
func (fs *FileStorage) CleanupOldEntries(olderThan time.Duration) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	var errs []error

	err := filepath.WalkDir(filepath.Join(fs.baseDir, "history"), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		name := d.Name()
		if d.IsDir() || filepath.Ext(name) != ".json" || len(name) < len(historyTimeFormat) {
			return nil
		}
		ts, perr := time.Parse(historyTimeFormat, name[:len(historyTimeFormat)])
		if perr != nil || !ts.Before(cutoff) {
			return nil
		}
		if rerr := os.Remove(path); rerr != nil {
			errs = append(errs, rerr)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}

// writeFileAtomic writes through a temp file so readers never see a
// partial entry.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// sanitizeFilename replaces characters that might be problematic in filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
		"..", "_",
	)
	return replacer.Replace(name)
}
