// Package dlqstore implements the on-disk dead-letter queue (C3): one JSON
// file per entry under data/dlq/{operation_type}/{dlq_id}.json, atomic
// writes, and a .processed_ids index guarding idempotent replay.
package dlqstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/atomicfile"
	"collabiq/internal/logger"
)

// Store is a file-backed DLQStore.
type Store struct {
	baseDir string
	log     *logger.Logger

	mu           sync.Mutex
	processedIDs map[string]bool
}

// New creates a Store rooted at baseDir (typically data/dlq).
func New(baseDir string) *Store {
	s := &Store{baseDir: baseDir, log: logger.Default().WithComponent("dlqstore")}
	s.processedIDs = s.loadProcessedIDs()
	return s
}

func (s *Store) processedIndexPath() string {
	return filepath.Join(s.baseDir, ".processed_ids")
}

func (s *Store) loadProcessedIDs() map[string]bool {
	ids := make(map[string]bool)
	data, err := os.ReadFile(s.processedIndexPath())
	if err != nil {
		return ids
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return ids
	}
	for _, id := range list {
		ids[id] = true
	}
	return ids
}

func (s *Store) persistProcessedIDsLocked() error {
	ids := make([]string, 0, len(s.processedIDs))
	for id := range s.processedIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return atomicfile.WriteJSON(s.processedIndexPath(), ids)
}

func (s *Store) entryPath(entry domain.DLQEntry) string {
	return filepath.Join(s.baseDir, string(entry.OperationType), entry.DLQID+".json")
}

func (s *Store) lockPath(entry domain.DLQEntry) string {
	return filepath.Join(s.baseDir, string(entry.OperationType), entry.DLQID+".json.lock")
}

// Write persists entry atomically. If the DLQ write itself fails, the
// error is logged at ERROR and returned — the caller (the closest
// pipeline step) is expected to continue regardless, degrading from
// "recorded in DLQ" to "recorded only in logs" (§4.3).
func (s *Store) Write(ctx context.Context, entry domain.DLQEntry) error {
	if err := atomicfile.WriteJSON(s.entryPath(entry), entry); err != nil {
		s.log.WithEmailID(entry.MessageID).WithError(err).Error("failed to write DLQ entry %s", entry.DLQID)
		return err
	}
	return nil
}

// Get reads one entry by id, searching every operation-type subdirectory.
func (s *Store) Get(ctx context.Context, dlqID string) (domain.DLQEntry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return domain.DLQEntry{}, err
	}
	for _, e := range entries {
		if e.DLQID == dlqID {
			return e, nil
		}
	}
	return domain.DLQEntry{}, fmt.Errorf("dlq entry %s not found", dlqID)
}

// List returns every entry across all operation types.
func (s *Store) List(ctx context.Context) ([]domain.DLQEntry, error) {
	var entries []domain.DLQEntry

	opDirs, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, err
	}

	for _, opDir := range opDirs {
		if !opDir.IsDir() {
			continue
		}
		dir := filepath.Join(s.baseDir, opDir.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			var entry domain.DLQEntry
			data, err := os.ReadFile(filepath.Join(dir, f.Name()))
			if err != nil {
				continue
			}
			if err := json.Unmarshal(data, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAttemptAt.Before(entries[j].LastAttemptAt)
	})

	return entries, nil
}

// Replay attempts a single entry's replay, guarded by a per-entry lock
// file (os.O_EXCL) so two replay invocations never race on one entry.
func (s *Store) Replay(ctx context.Context, dlqID string, replayFn func(domain.DLQEntry) error) (out.ReplayOutcome, error) {
	entry, err := s.Get(ctx, dlqID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	alreadyProcessed := s.processedIDs[entry.DLQID]
	s.mu.Unlock()
	if alreadyProcessed || entry.Status == domain.DLQCompleted {
		return out.ReplayCompleted, nil // P4: replaying a completed entry is a no-op
	}

	lockPath := s.lockPath(entry)
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return out.ReplayFailed, fmt.Errorf("entry %s is already being replayed: %w", dlqID, err)
	}
	defer func() {
		lockFile.Close()
		os.Remove(lockPath)
	}()

	entry.Status = domain.DLQReplaying
	entry.LastAttemptAt = time.Now()
	_ = s.Write(ctx, entry)

	replayErr := replayFn(entry)
	now := time.Now()

	if replayErr == nil {
		entry.Status = domain.DLQCompleted
		entry.Processed = true
		entry.ReplayedAt = &now
		entry.LastAttemptAt = now
		if err := s.Write(ctx, entry); err != nil {
			return out.ReplayFailed, err
		}

		s.mu.Lock()
		s.processedIDs[entry.DLQID] = true
		persistErr := s.persistProcessedIDsLocked()
		s.mu.Unlock()
		if persistErr != nil {
			s.log.WithError(persistErr).Error("failed to persist processed-ids index after replaying %s", dlqID)
		}
		return out.ReplayCompleted, nil
	}

	entry.ErrorDetails.RetryCount++
	entry.ErrorDetails.Message = replayErr.Error()
	entry.LastAttemptAt = now
	entry.Status = domain.DLQPending
	if err := s.Write(ctx, entry); err != nil {
		return out.ReplayFailed, err
	}
	return out.ReplayUpdated, nil
}

// ReplayAll walks every entry in modification-time (LastAttemptAt) order,
// replaying each.
func (s *Store) ReplayAll(ctx context.Context, replayFn func(domain.DLQEntry) error) (map[string]out.ReplayOutcome, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string]out.ReplayOutcome, len(entries))
	for _, entry := range entries {
		if entry.Status == domain.DLQCompleted {
			continue
		}
		outcome, err := s.Replay(ctx, entry.DLQID, replayFn)
		if err != nil {
			s.log.WithEmailID(entry.MessageID).WithError(err).Warn("replay of %s did not complete", entry.DLQID)
			continue
		}
		results[entry.DLQID] = outcome
	}
	return results, nil
}

// NewDLQID builds a dlq_{timestamp}_{message_id} identifier (§3).
func NewDLQID(now time.Time, messageID string) string {
	return fmt.Sprintf("dlq_%d_%s", now.UnixNano(), messageID)
}
