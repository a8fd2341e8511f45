// Package executor runs one task end-to-end: a bounded reasoning loop that
// asks the planner for actions, dispatches them through the tool registry,
// and checkpoints progress after every step for resume-after-crash.
package executor

import (
	"os"
	"path/filepath"
	"time"

	"archi/internal/jsonx"
	"archi/internal/logging"
)

// StepRecord is one executed step in the plan history.
type StepRecord struct {
	Action    string         `json:"action"`
	Args      map[string]any `json:"args,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
}

// PlanState is the durable execution state for one task. It is written
// after every step; on resume, execution continues at Step.
type PlanState struct {
	TaskID       string       `json:"task_id"`
	Step         int          `json:"step"` // next step index to execute
	History      []StepRecord `json:"history"`
	FilesCreated []string     `json:"files_created,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// stateStore persists PlanState as plan_state/<task_id>.json.
type stateStore struct {
	dir        string
	staleAfter time.Duration
	logger     logging.Logger
}

func newStateStore(dir string, staleAfter time.Duration, logger logging.Logger) *stateStore {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	return &stateStore{dir: dir, staleAfter: staleAfter, logger: logging.OrNop(logger)}
}

func (s *stateStore) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

// load returns prior state for the task, or nil when none exists or the
// state is stale. Stale state files are removed.
func (s *stateStore) load(taskID string, now time.Time) *PlanState {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		return nil
	}
	var state PlanState
	if err := jsonx.Unmarshal(data, &state); err != nil {
		s.logger.Warn("Plan state for %s corrupt, discarding: %v", taskID, err)
		os.Remove(s.path(taskID))
		return nil
	}
	if now.Sub(state.UpdatedAt) > s.staleAfter {
		s.logger.Info("Plan state for %s is stale (%v old), discarding", taskID, now.Sub(state.UpdatedAt))
		os.Remove(s.path(taskID))
		return nil
	}
	return &state
}

// save writes state durably. Persistence failures are logged and execution
// continues with in-memory state.
func (s *stateStore) save(state *PlanState) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Warn("Plan state dir failed: %v", err)
		return
	}
	data, err := jsonx.MarshalIndent(state, "", "  ")
	if err != nil {
		s.logger.Warn("Plan state marshal failed: %v", err)
		return
	}
	path := s.path(state.TaskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn("Plan state write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Warn("Plan state rename failed: %v", err)
	}
}

// discard removes the state file after successful completion.
func (s *stateStore) discard(taskID string) {
	os.Remove(s.path(taskID))
}
