package goals

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"archi/internal/jsonx"
	"archi/internal/logging"
)

const snapshotFile = "goals_state.json"

// Store owns all goals and tasks. All mutation goes through it; the
// snapshot is serialized atomically.
type Store struct {
	mu    sync.Mutex
	goals []*Goal

	dataDir string
	now     func() time.Time
	logger  logging.Logger
}

type snapshot struct {
	Version int     `json:"version"`
	Goals   []*Goal `json:"goals"`
}

// NewStore creates a store and loads any prior snapshot from dataDir.
func NewStore(dataDir string, logger logging.Logger) *Store {
	s := &Store{
		dataDir: dataDir,
		now:     time.Now,
		logger:  logging.OrNop(logger),
	}
	s.LoadState()
	return s
}

// SetClock replaces the clock (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateGoal adds a new undecomposed goal. Priority is clamped to 1-10.
func (s *Store) CreateGoal(description, userIntent string, priority int) *Goal {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	s.mu.Lock()
	g := &Goal{
		ID:          uuid.NewString(),
		Description: description,
		UserIntent:  userIntent,
		Priority:    priority,
		CreatedAt:   s.now(),
	}
	s.goals = append(s.goals, g)
	s.saveLocked()
	s.mu.Unlock()
	return g
}

// Goals returns a deep-enough copy for read-only iteration.
func (s *Store) Goals() []*Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Goal, 0, len(s.goals))
	for _, g := range s.goals {
		gc := *g
		gc.Tasks = make([]*Task, len(g.Tasks))
		for i, t := range g.Tasks {
			tc := *t
			gc.Tasks[i] = &tc
		}
		out = append(out, &gc)
	}
	return out
}

// GetGoal returns a copy of the goal with the given id.
func (s *Store) GetGoal(id string) (*Goal, bool) {
	for _, g := range s.Goals() {
		if g.ID == id {
			return g, true
		}
	}
	return nil, false
}

// GetNextTask returns the globally best ready task: highest task priority,
// goal priority breaking ties, oldest goal after that. Nil when nothing is
// ready.
func (s *Store) GetNextTask() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Task
	var bestGoal *Goal
	for _, g := range s.goals {
		if g.IsComplete() {
			continue
		}
		for _, t := range g.Tasks {
			if !g.isReady(t) {
				continue
			}
			if best == nil || betterTask(t, g, best, bestGoal) {
				best, bestGoal = t, g
			}
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func betterTask(t *Task, g *Goal, best *Task, bestGoal *Goal) bool {
	if t.Priority != best.Priority {
		return t.Priority > best.Priority
	}
	if g.Priority != bestGoal.Priority {
		return g.Priority > bestGoal.Priority
	}
	return g.CreatedAt.Before(bestGoal.CreatedAt)
}

// StartTask moves a pending task to in_progress.
func (s *Store) StartTask(id string) error {
	return s.transition(id, func(t *Task) error {
		if t.Status != TaskPending {
			return fmt.Errorf("task %s is %s, not pending", id, t.Status)
		}
		now := s.now()
		t.Status = TaskInProgress
		t.StartedAt = &now
		return nil
	})
}

// CompleteTask moves an in_progress task to completed with an optional
// result payload.
func (s *Store) CompleteTask(id, result string) error {
	return s.transition(id, func(t *Task) error {
		if t.Status != TaskInProgress {
			return fmt.Errorf("task %s is %s, not in_progress", id, t.Status)
		}
		now := s.now()
		t.Status = TaskCompleted
		t.CompletedAt = &now
		t.Result = result
		return nil
	})
}

// FailTask moves an in_progress task to failed.
func (s *Store) FailTask(id, errText string) error {
	return s.transition(id, func(t *Task) error {
		if t.Status != TaskInProgress {
			return fmt.Errorf("task %s is %s, not in_progress", id, t.Status)
		}
		now := s.now()
		t.Status = TaskFailed
		t.CompletedAt = &now
		t.Error = errText
		return nil
	})
}

// BlockTask parks a pending task; UnblockTask returns it to pending.
func (s *Store) BlockTask(id string) error {
	return s.transition(id, func(t *Task) error {
		if t.Status != TaskPending {
			return fmt.Errorf("task %s is %s, not pending", id, t.Status)
		}
		t.Status = TaskBlocked
		return nil
	})
}

// UnblockTask returns a blocked task to pending.
func (s *Store) UnblockTask(id string) error {
	return s.transition(id, func(t *Task) error {
		if t.Status != TaskBlocked {
			return fmt.Errorf("task %s is %s, not blocked", id, t.Status)
		}
		t.Status = TaskPending
		return nil
	})
}

// ResetTask returns a failed task to pending for explicit retry.
func (s *Store) ResetTask(id string) error {
	return s.transition(id, func(t *Task) error {
		if t.Status != TaskFailed {
			return fmt.Errorf("task %s is %s, not failed", id, t.Status)
		}
		t.Status = TaskPending
		t.StartedAt = nil
		t.CompletedAt = nil
		t.Error = ""
		return nil
	})
}

func (s *Store) transition(id string, apply func(*Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.goals {
		if t := g.task(id); t != nil {
			if err := apply(t); err != nil {
				return err
			}
			s.saveLocked()
			s.logger.Debug("Task %s -> %s (goal %s now %.0f%%)", id, t.Status, g.ID, g.CompletionPercent())
			return nil
		}
	}
	return fmt.Errorf("task %s not found", id)
}

// SaveState writes the snapshot atomically.
func (s *Store) SaveState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked()
}

func (s *Store) saveLocked() {
	if s.dataDir == "" {
		return
	}
	data, err := jsonx.MarshalIndent(snapshot{Version: 1, Goals: s.goals}, "", "  ")
	if err != nil {
		s.logger.Warn("Goal snapshot marshal failed: %v", err)
		return
	}
	path := filepath.Join(s.dataDir, snapshotFile)
	tmp := path + ".tmp"
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		s.logger.Warn("Goal snapshot dir failed: %v", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn("Goal snapshot write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Warn("Goal snapshot rename failed: %v", err)
	}
}

// LoadState replaces in-memory state with the snapshot. A corrupt snapshot
// is logged and the store starts empty.
func (s *Store) LoadState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataDir == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(s.dataDir, snapshotFile))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Goal snapshot unreadable: %v", err)
		}
		return
	}
	var snap snapshot
	if err := jsonx.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("Goal snapshot corrupt, starting empty: %v", err)
		s.goals = nil
		return
	}
	s.goals = snap.Goals

	// A crash mid-execution leaves tasks in_progress; return them to
	// pending so a later dream cycle can resume them.
	for _, g := range s.goals {
		for _, t := range g.Tasks {
			if t.Status == TaskInProgress {
				t.Status = TaskPending
				t.StartedAt = nil
			}
		}
	}
}
