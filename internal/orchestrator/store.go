package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

// Store persists runs and their append-only handoff records.
type Store interface {
	CreateRun(ctx context.Context, run handoff.PipelineRun) error
	SaveRun(ctx context.Context, run handoff.PipelineRun) error
	GetRun(ctx context.Context, runID string) (handoff.PipelineRun, error)
	AppendRecord(ctx context.Context, rec handoff.HandoffRecord) error
	Records(ctx context.Context, runID string) ([]handoff.HandoffRecord, error)
}

// MemoryStore keeps runs in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	runs    map[string]handoff.PipelineRun
	records map[string][]handoff.HandoffRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]handoff.PipelineRun),
		records: make(map[string][]handoff.HandoffRecord),
	}
}

func (m *MemoryStore) CreateRun(_ context.Context, run handoff.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; ok {
		return fmt.Errorf("run %s already exists", run.RunID)
	}
	m.runs[run.RunID] = run
	return nil
}

func (m *MemoryStore) SaveRun(_ context.Context, run handoff.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; !ok {
		return fmt.Errorf("run %s: %w", run.RunID, handoff.ErrNotFound)
	}
	m.runs[run.RunID] = run
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (handoff.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return handoff.PipelineRun{}, fmt.Errorf("run %s: %w", runID, handoff.ErrNotFound)
	}
	return run, nil
}

func (m *MemoryStore) AppendRecord(_ context.Context, rec handoff.HandoffRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[rec.RunID]; !ok {
		return fmt.Errorf("run %s: %w", rec.RunID, handoff.ErrNotFound)
	}
	m.records[rec.RunID] = append(m.records[rec.RunID], rec)
	return nil
}

func (m *MemoryStore) Records(_ context.Context, runID string) ([]handoff.HandoffRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, handoff.ErrNotFound)
	}
	return append([]handoff.HandoffRecord(nil), m.records[runID]...), nil
}
