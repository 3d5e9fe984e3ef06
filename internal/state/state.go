package state

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is bumped whenever the checkpoint layout changes. A
// checkpoint with any other version loads as absent, never partially trusted.
const SchemaVersion = 1

// Checkpoint records per-channel progress for resumable runs. It is replaced
// atomically on every save; a crash mid-write never corrupts the previous
// valid record.
type Checkpoint struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// CompletedChannels maps channel name to the last successfully
	// imported message timestamp (the watermark).
	CompletedChannels map[string]string `json:"completed_channels"`

	// Spaces maps channel name to the space created for it, consulted in
	// update mode to reuse spaces across runs.
	Spaces map[string]string `json:"spaces"`
}

// Backend persists checkpoints and per-channel thread maps.
type Backend interface {
	LoadCheckpoint() (*Checkpoint, error) // nil when absent
	SaveCheckpoint(cp *Checkpoint) error
	LoadThreads(channel string) (map[string]string, error) // nil when absent
	SaveThreads(channel string, threads map[string]string) error
	Clear() error
	Close() error
}

// Store owns the in-memory checkpoint and thread maps and writes them
// through a backend. It assumes single-writer access: the tool never runs
// two instances against the same channel.
type Store struct {
	backend Backend
	logger  *slog.Logger
	cp      *Checkpoint
	threads map[string]map[string]string
}

// Open loads the existing checkpoint or starts a fresh one. An unknown
// schema version is treated as no checkpoint at all.
func Open(backend Backend, logger *slog.Logger) (*Store, error) {
	cp, err := backend.LoadCheckpoint()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp != nil && cp.Version != SchemaVersion {
		logger.Warn("checkpoint schema version mismatch, starting fresh",
			"found", cp.Version, "want", SchemaVersion)
		cp = nil
	}
	if cp == nil {
		cp = &Checkpoint{
			Version:           SchemaVersion,
			RunID:             uuid.NewString(),
			StartedAt:         time.Now().UTC(),
			CompletedChannels: make(map[string]string),
			Spaces:            make(map[string]string),
		}
	} else {
		logger.Info("resuming from checkpoint",
			"run_id", cp.RunID, "channels", len(cp.CompletedChannels))
	}
	if cp.CompletedChannels == nil {
		cp.CompletedChannels = make(map[string]string)
	}
	if cp.Spaces == nil {
		cp.Spaces = make(map[string]string)
	}
	return &Store{
		backend: backend,
		logger:  logger,
		cp:      cp,
		threads: make(map[string]map[string]string),
	}, nil
}

// RunID identifies this run (or the resumed one) in reports and events.
func (s *Store) RunID() string {
	return s.cp.RunID
}

// Watermark returns the last successfully imported timestamp for a channel,
// or "" when the channel has no progress yet.
func (s *Store) Watermark(channel string) string {
	return s.cp.CompletedChannels[channel]
}

// SetWatermark advances a channel's watermark and persists the checkpoint.
func (s *Store) SetWatermark(channel, ts string) error {
	s.cp.CompletedChannels[channel] = ts
	return s.Flush()
}

// Space returns the space recorded for a channel by a prior run, or "".
func (s *Store) Space(channel string) string {
	return s.cp.Spaces[channel]
}

// SetSpace records the space serving a channel and persists the checkpoint.
func (s *Store) SetSpace(channel, space string) error {
	s.cp.Spaces[channel] = space
	return s.Flush()
}

// Thread resolves a source thread-root timestamp to the thread handle
// recorded when that root (or its first fallback reply) was sent.
func (s *Store) Thread(channel, rootTS string) (string, error) {
	m, err := s.channelThreads(channel)
	if err != nil {
		return "", err
	}
	return m[rootTS], nil
}

// SetThread records a thread handle and persists the channel's thread map so
// replies arriving in a later run still resolve to the correct thread.
func (s *Store) SetThread(channel, rootTS, name string) error {
	m, err := s.channelThreads(channel)
	if err != nil {
		return err
	}
	m[rootTS] = name
	if err := s.backend.SaveThreads(channel, m); err != nil {
		return fmt.Errorf("save threads %s: %w", channel, err)
	}
	return nil
}

func (s *Store) channelThreads(channel string) (map[string]string, error) {
	if m, ok := s.threads[channel]; ok {
		return m, nil
	}
	m, err := s.backend.LoadThreads(channel)
	if err != nil {
		return nil, fmt.Errorf("load threads %s: %w", channel, err)
	}
	if m == nil {
		m = make(map[string]string)
	}
	s.threads[channel] = m
	return m, nil
}

// Flush persists the checkpoint. Called after each successful message send
// and at phase transitions, and on cancellation before unwinding.
func (s *Store) Flush() error {
	s.cp.UpdatedAt = time.Now().UTC()
	if err := s.backend.SaveCheckpoint(s.cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Clear deletes all persisted state. Only called after a fully successful
// run.
func (s *Store) Clear() error {
	return s.backend.Clear()
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
