// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/nohassle/hdmi-matrix-bridge/pkg/errors"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/interfaces"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/logger"
)

const (
	spoolPrefix  = "spool_"
	spoolSuffix  = ".json"
	spoolFileExt = spoolPrefix + "*" + spoolSuffix
)

// SpooledEvent is one event held on disk awaiting replay.
type SpooledEvent struct {
	ID        string                 `json:"id"`
	Event     *interfaces.RouteEvent `json:"event"`
	SpooledAt time.Time              `json:"spooled_at"`
}

// Spool persists events to local disk while InfluxDB is unreachable. One file
// per event keeps writes atomic and replay simple.
type Spool struct {
	dir      string
	maxBytes int64

	mu          sync.Mutex
	currentSize int64
	seq         int64
}

// NewSpool creates the spool directory if needed, scans any events left over
// from a previous run, and drops entries older than maxAge so a spool that
// never replays cannot fill forever.
func NewSpool(dir string, maxBytes int64, maxAge time.Duration) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.NewStorageError("spool_init", err)
	}

	s := &Spool{
		dir:      dir,
		maxBytes: maxBytes,
	}

	size, count, err := s.scan()
	if err != nil {
		return nil, err
	}
	s.currentSize = size

	if count > 0 {
		logger.Info().Int("events", count).Int64("bytes", size).Str("dir", dir).
			Msg("Found spooled events from previous run")
	}

	if maxAge > 0 {
		if _, err := s.CleanupOld(maxAge); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// scan totals the size of existing spool files.
func (s *Spool) scan() (int64, int, error) {
	entries, err := filepath.Glob(filepath.Join(s.dir, spoolFileExt))
	if err != nil {
		return 0, 0, apperrors.NewStorageError("spool_scan", err)
	}

	var size int64
	for _, path := range entries {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		size += info.Size()
	}
	return size, len(entries), nil
}

// Write spools one event. Returns an error when the spool is full rather than
// evicting older events, so the oldest data survives an extended outage.
func (s *Spool) Write(event *interfaces.RouteEvent) error {
	if event == nil {
		return apperrors.NewStorageError("spool_write", fmt.Errorf("event cannot be nil"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := fmt.Sprintf("%d_%d", time.Now().UnixNano(), s.seq)

	spooled := SpooledEvent{
		ID:        id,
		Event:     event,
		SpooledAt: time.Now(),
	}

	data, err := json.MarshalIndent(spooled, "", "  ")
	if err != nil {
		return apperrors.NewStorageError("spool_write", err)
	}

	if s.currentSize+int64(len(data)) > s.maxBytes {
		return apperrors.NewStorageError("spool_write",
			fmt.Errorf("spool full: %d bytes used of %d", s.currentSize, s.maxBytes))
	}

	path := filepath.Join(s.dir, spoolPrefix+id+spoolSuffix)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperrors.NewStorageError("spool_write", err)
	}

	s.currentSize += int64(len(data))
	logger.Debug().Str("id", id).Str("type", string(event.Type)).Msg("Event spooled to disk")
	return nil
}

// List returns all spooled events ordered oldest first.
func (s *Spool) List() ([]*SpooledEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := filepath.Glob(filepath.Join(s.dir, spoolFileExt))
	if err != nil {
		return nil, apperrors.NewStorageError("spool_list", err)
	}

	events := make([]*SpooledEvent, 0, len(entries))
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("Failed to read spool file")
			continue
		}
		var spooled SpooledEvent
		if err := json.Unmarshal(data, &spooled); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("Corrupt spool file, skipping")
			continue
		}
		events = append(events, &spooled)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].SpooledAt.Equal(events[j].SpooledAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].SpooledAt.Before(events[j].SpooledAt)
	})
	return events, nil
}

// Delete removes a replayed event from the spool.
func (s *Spool) Delete(id string) error {
	if strings.ContainsAny(id, "/\\") {
		return apperrors.NewStorageError("spool_delete", fmt.Errorf("invalid spool id %q", id))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, spoolPrefix+id+spoolSuffix)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.NewStorageError("spool_delete", err)
	}

	if err := os.Remove(path); err != nil {
		return apperrors.NewStorageError("spool_delete", err)
	}

	s.currentSize -= info.Size()
	if s.currentSize < 0 {
		s.currentSize = 0
	}
	return nil
}

// Size returns the number of bytes currently spooled.
func (s *Spool) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSize
}

// CleanupOld removes spooled events older than maxAge, for cases where replay
// never succeeds and the spool would otherwise fill.
func (s *Spool) CleanupOld(maxAge time.Duration) (int, error) {
	events, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, spooled := range events {
		if spooled.SpooledAt.After(cutoff) {
			continue
		}
		if err := s.Delete(spooled.ID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		logger.Info().Int("removed", removed).Dur("max_age", maxAge).
			Msg("Cleaned up expired spool entries")
	}
	return removed, nil
}
