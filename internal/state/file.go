package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend persists state as JSON files under a directory:
// checkpoint.json plus threads/<channel>.json per channel. All writes are
// write-then-rename so a crash mid-write leaves the previous file intact.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (b *FileBackend) checkpointPath() string {
	return filepath.Join(b.dir, "checkpoint.json")
}

func (b *FileBackend) threadsPath(channel string) string {
	return filepath.Join(b.dir, "threads", sanitizeName(channel)+".json")
}

func (b *FileBackend) LoadCheckpoint() (*Checkpoint, error) {
	data, err := os.ReadFile(b.checkpointPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

func (b *FileBackend) SaveCheckpoint(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return writeFileAtomic(b.checkpointPath(), data)
}

func (b *FileBackend) LoadThreads(channel string) (map[string]string, error) {
	data, err := os.ReadFile(b.threadsPath(channel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read threads: %w", err)
	}
	var threads map[string]string
	if err := json.Unmarshal(data, &threads); err != nil {
		return nil, fmt.Errorf("parse threads: %w", err)
	}
	return threads, nil
}

func (b *FileBackend) SaveThreads(channel string, threads map[string]string) error {
	data, err := json.MarshalIndent(threads, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal threads: %w", err)
	}
	return writeFileAtomic(b.threadsPath(channel), data)
}

func (b *FileBackend) Clear() error {
	if err := os.Remove(b.checkpointPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.RemoveAll(filepath.Join(b.dir, "threads")); err != nil {
		return err
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}

// writeFileAtomic writes to a temp file in the destination directory, then
// renames it over the target.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
