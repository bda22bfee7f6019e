// Package pipeline persists pipeline runs as JSON files on disk: one
// directory per run holding the run state, its append-only handoff records
// and an archive of every submitted attempt.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
)

// Store manages run state on disk. It implements orchestrator.Store and
// orchestrator.AttemptArchiver.
type Store struct {
	baseDir string // defaults to ~/.mailgate/runs
	mu      sync.Mutex
}

var (
	_ orchestrator.Store           = (*Store)(nil)
	_ orchestrator.AttemptArchiver = (*Store)(nil)
)

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.mailgate/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".mailgate", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) recordsDir(runID string) string {
	return filepath.Join(s.runDir(runID), "records")
}

// AttemptDir returns the directory holding one stage iteration's attempt.
func (s *Store) AttemptDir(runID string, stage handoff.Stage, iteration int) string {
	return filepath.Join(s.runDir(runID), "attempts", string(stage), fmt.Sprintf("iteration-%d", iteration))
}

func validRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}

// CreateRun writes a new run. It fails if the run already exists.
func (s *Store) CreateRun(_ context.Context, run handoff.PipelineRun) error {
	if err := validRunID(run.RunID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.runDir(run.RunID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("run %s already exists", run.RunID)
	}
	if err := os.MkdirAll(s.recordsDir(run.RunID), 0o755); err != nil {
		return fmt.Errorf("mkdir records: %w", err)
	}
	if err := WriteJSON(s.runPath(run.RunID), run); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

// SaveRun overwrites an existing run's state.
func (s *Store) SaveRun(_ context.Context, run handoff.PipelineRun) error {
	if err := validRunID(run.RunID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.runPath(run.RunID)); err != nil {
		return fmt.Errorf("run %s: %w", run.RunID, handoff.ErrNotFound)
	}
	return WriteJSON(s.runPath(run.RunID), run)
}

// GetRun reads a run's state.
func (s *Store) GetRun(_ context.Context, runID string) (handoff.PipelineRun, error) {
	if err := validRunID(runID); err != nil {
		return handoff.PipelineRun{}, err
	}
	var run handoff.PipelineRun
	if err := ReadJSON(s.runPath(runID), &run); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return handoff.PipelineRun{}, fmt.Errorf("run %s: %w", runID, handoff.ErrNotFound)
		}
		return handoff.PipelineRun{}, err
	}
	return run, nil
}

// Update performs an atomic read-modify-write of a run's state.
func (s *Store) Update(ctx context.Context, runID string, fn func(*handoff.PipelineRun)) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	fn(&run)
	return s.SaveRun(ctx, run)
}

// AppendRecord writes rec as the next record of its run. Records are
// immutable: a sequence number that is already taken is rejected.
func (s *Store) AppendRecord(_ context.Context, rec handoff.HandoffRecord) error {
	if err := validRunID(rec.RunID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.runPath(rec.RunID)); err != nil {
		return fmt.Errorf("run %s: %w", rec.RunID, handoff.ErrNotFound)
	}
	n, err := s.countRecords(rec.RunID)
	if err != nil {
		return err
	}
	if rec.Seq != n {
		return fmt.Errorf("record seq %d for run %s, expected %d", rec.Seq, rec.RunID, n)
	}
	path := filepath.Join(s.recordsDir(rec.RunID), recordFile(rec))
	return WriteJSON(path, rec)
}

func recordFile(rec handoff.HandoffRecord) string {
	return fmt.Sprintf("%04d-%s.json", rec.Seq, rec.StageFrom)
}

func (s *Store) countRecords(runID string) (int, error) {
	entries, err := os.ReadDir(s.recordsDir(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read records: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

// Records returns a run's records in sequence order.
func (s *Store) Records(ctx context.Context, runID string) ([]handoff.HandoffRecord, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.recordsDir(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read records: %w", err)
	}
	var records []handoff.HandoffRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var rec handoff.HandoffRecord
		if err := ReadJSON(filepath.Join(s.recordsDir(runID), e.Name()), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, nil
}

// ArchiveAttempt stores an attempt's payload and verdict. A repeated
// attempt for the same stage iteration overwrites the earlier one.
func (s *Store) ArchiveAttempt(_ context.Context, a orchestrator.Attempt) error {
	if err := validRunID(a.RunID); err != nil {
		return err
	}
	dir := s.AttemptDir(a.RunID, a.Stage, a.Iteration)
	if err := WriteJSON(filepath.Join(dir, "payload.json"), a.Payload); err != nil {
		return err
	}
	return WriteJSON(filepath.Join(dir, "attempt.json"), a)
}

// GetAttempt reads an archived attempt.
func (s *Store) GetAttempt(runID string, stage handoff.Stage, iteration int) (orchestrator.Attempt, error) {
	var a orchestrator.Attempt
	path := filepath.Join(s.AttemptDir(runID, stage, iteration), "attempt.json")
	if err := ReadJSON(path, &a); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return a, fmt.Errorf("attempt %s/%s/%d: %w", runID, stage, iteration, handoff.ErrNotFound)
		}
		return a, err
	}
	return a, nil
}

// List returns all runs, optionally filtered by status, oldest first.
// Pass "" for statusFilter to return all runs.
func (s *Store) List(ctx context.Context, statusFilter handoff.RunStatus) ([]handoff.PipelineRun, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []handoff.PipelineRun
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.GetRun(ctx, entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || run.Status == statusFilter {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s: %w", runID, handoff.ErrNotFound)
	}
	return os.RemoveAll(dir)
}
