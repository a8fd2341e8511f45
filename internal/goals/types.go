// Package goals is the persistent priority-ordered store of user goals,
// each decomposed into a DAG of tasks with dependency-respecting dispatch.
package goals

import (
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is the smallest unit the plan executor runs end-to-end.
type Task struct {
	ID            string        `json:"id"`
	GoalID        string        `json:"goal_id"`
	Description   string        `json:"description"`
	Priority      int           `json:"priority"`
	Prerequisites []string      `json:"prerequisites,omitempty"`
	EstimatedTime time.Duration `json:"estimated_time,omitempty"`
	Status        TaskStatus    `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Result        string        `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Goal is a durable user intent decomposed into executable tasks.
type Goal struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	UserIntent  string    `json:"user_intent,omitempty"`
	Priority    int       `json:"priority"` // 1-10
	CreatedAt   time.Time `json:"created_at"`
	Tasks       []*Task   `json:"tasks"`
	Decomposed  bool      `json:"decomposed"`
}

// IsComplete reports whether the goal has at least one task and every task
// succeeded.
func (g *Goal) IsComplete() bool {
	if len(g.Tasks) == 0 {
		return false
	}
	for _, t := range g.Tasks {
		if t.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// CompletionPercent is completed tasks over all tasks; 0 when no tasks.
func (g *Goal) CompletionPercent() float64 {
	if len(g.Tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range g.Tasks {
		if t.Status == TaskCompleted {
			done++
		}
	}
	return float64(done) / float64(len(g.Tasks)) * 100
}

func (g *Goal) task(id string) *Task {
	for _, t := range g.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// isReady reports whether the task is pending with all prerequisites
// completed. Prerequisites that no longer exist are treated as satisfied.
func (g *Goal) isReady(t *Task) bool {
	if t.Status != TaskPending {
		return false
	}
	for _, prereq := range t.Prerequisites {
		p := g.task(prereq)
		if p != nil && p.Status != TaskCompleted {
			return false
		}
	}
	return true
}
