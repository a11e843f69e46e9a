// Package handlers implements the MCP control-plane endpoints.
package handlers

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iceos-ai/iceos/common/bootstrap"
	"github.com/iceos-ai/iceos/common/validation"
	"github.com/iceos-ai/iceos/core/blueprint"
	"github.com/iceos-ai/iceos/core/expr"
	"github.com/iceos-ai/iceos/core/model"
)

// Handler holds the shared state of the control plane: the bootstrap
// container, the graph validator, and the in-process run/blueprint
// tables. The plane is stateless beyond these and Redis.
type Handler struct {
	components *bootstrap.Components
	validator  *blueprint.Validator
	payload    *validator.Validate
	patchGuard *validation.PatchValidator

	blueprints *BlueprintStore
	runs       *RunManager
}

// New creates the handler with its validators and stores
func New(components *bootstrap.Components) (*Handler, error) {
	evaluator, err := expr.NewEvaluator()
	if err != nil {
		return nil, err
	}

	return &Handler{
		components: components,
		validator:  blueprint.NewValidator(evaluator),
		payload:    validator.New(),
		patchGuard: validation.NewPatchValidator(),
		blueprints: NewBlueprintStore(),
		runs:       NewRunManager(),
	}, nil
}

// BlueprintStore keeps registered blueprints by id. Registered
// blueprints are immutable; re-registration replaces the whole document.
type BlueprintStore struct {
	mu   sync.RWMutex
	byID map[string]*blueprint.Blueprint
}

func NewBlueprintStore() *BlueprintStore {
	return &BlueprintStore{byID: map[string]*blueprint.Blueprint{}}
}

// Put stores a blueprint and reports whether it replaced an existing one
func (s *BlueprintStore) Put(bp *blueprint.Blueprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.byID[bp.BlueprintID]
	s.byID[bp.BlueprintID] = bp
	return existed
}

// Get returns a blueprint by id
func (s *BlueprintStore) Get(id string) (*blueprint.Blueprint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bp, ok := s.byID[id]
	return bp, ok
}

// RunEntry tracks one dispatched run
type RunEntry struct {
	RunID       string
	BlueprintID string
	Status      model.RunStatus
	StartedAt   time.Time
	Report      *model.RunReport
}

// RunManager tracks dispatched runs and their final reports
type RunManager struct {
	mu   sync.RWMutex
	runs map[string]*RunEntry
}

func NewRunManager() *RunManager {
	return &RunManager{runs: map[string]*RunEntry{}}
}

// Start registers a run as running
func (m *RunManager) Start(runID, blueprintID string) *RunEntry {
	entry := &RunEntry{
		RunID:       runID,
		BlueprintID: blueprintID,
		Status:      model.RunRunning,
		StartedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.runs[runID] = entry
	m.mu.Unlock()
	return entry
}

// Finish records the terminal report. A cancelled run keeps its
// status; only the report attaches.
func (m *RunManager) Finish(runID string, report *model.RunReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.runs[runID]
	if !ok {
		return
	}
	entry.Report = report
	if entry.Status == model.RunCancelled {
		return
	}
	if report.Success {
		entry.Status = model.RunCompleted
	} else {
		entry.Status = model.RunFailed
	}
}

// Cancel marks a run cancelled if it is still running
func (m *RunManager) Cancel(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.runs[runID]; ok && entry.Status == model.RunRunning {
		entry.Status = model.RunCancelled
	}
}

// Get returns a run entry snapshot
func (m *RunManager) Get(runID string) (RunEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.runs[runID]
	if !ok {
		return RunEntry{}, false
	}
	return *entry, true
}
