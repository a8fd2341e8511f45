package goals

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"archi/internal/jsonx"
)

// Planner is the completion capability decomposition consumes.
type Planner interface {
	Plan(ctx context.Context, prompt string) (string, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, prompt string) (string, error)

func (f PlannerFunc) Plan(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// plannedTask is the JSON shape the decomposition prompt asks for.
// DependsOn entries are indices or identifiers of earlier tasks in the
// same response.
type plannedTask struct {
	ID               string          `json:"id,omitempty"`
	Description      string          `json:"description"`
	Priority         int             `json:"priority"`
	DependsOn        []jsonx.RawMessage `json:"depends_on,omitempty"`
	EstimatedMinutes int             `json:"estimated_minutes,omitempty"`
}

const decomposePrompt = `Break the following goal into 2-8 concrete, independently executable tasks.

Goal: %s
Intent: %s

Respond with a JSON array only. Each element:
{"id": "t1", "description": "...", "priority": 1-10, "depends_on": ["t1"], "estimated_minutes": 30}
depends_on may reference only earlier tasks in the array, by id or index.`

// DecomposeGoal asks the planner for a task list, canonicalizes
// prerequisite references, rejects cycles, and persists. Forward and self
// references are dropped silently.
func (s *Store) DecomposeGoal(ctx context.Context, goalID string, planner Planner) ([]*Task, error) {
	s.mu.Lock()
	var goal *Goal
	for _, g := range s.goals {
		if g.ID == goalID {
			goal = g
			break
		}
	}
	s.mu.Unlock()
	if goal == nil {
		return nil, fmt.Errorf("goal %s not found", goalID)
	}
	if goal.Decomposed {
		return nil, fmt.Errorf("goal %s already decomposed", goalID)
	}

	raw, err := planner.Plan(ctx, fmt.Sprintf(decomposePrompt, goal.Description, goal.UserIntent))
	if err != nil {
		return nil, fmt.Errorf("planner failed: %w", err)
	}

	var planned []plannedTask
	if err := jsonx.ExtractArray(jsonx.StripScratchpad(raw), &planned); err != nil {
		// Prose fallback: a numbered list becomes dependency-free tasks.
		for _, line := range jsonx.ExtractStringList(raw) {
			planned = append(planned, plannedTask{Description: line, Priority: goal.Priority})
		}
		if len(planned) == 0 {
			return nil, fmt.Errorf("planner output unparseable: %w", err)
		}
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("planner produced no tasks")
	}

	tasks, err := s.resolveTasks(goal, planned)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	goal.Tasks = tasks
	goal.Decomposed = true
	s.saveLocked()
	s.mu.Unlock()
	return tasks, nil
}

// resolveTasks canonicalizes planner references to stable task IDs using
// an index map built during the same decomposition.
func (s *Store) resolveTasks(goal *Goal, planned []plannedTask) ([]*Task, error) {
	now := s.now()
	tasks := make([]*Task, len(planned))
	// Reference map: planner-supplied id and positional index (0- and
	// 1-based) all resolve to the generated task ID.
	refs := map[string]int{}

	for i, p := range planned {
		priority := p.Priority
		if priority < 1 || priority > 10 {
			priority = goal.Priority
		}
		tasks[i] = &Task{
			ID:            uuid.NewString(),
			GoalID:        goal.ID,
			Description:   strings.TrimSpace(p.Description),
			Priority:      priority,
			EstimatedTime: time.Duration(p.EstimatedMinutes) * time.Minute,
			Status:        TaskPending,
			CreatedAt:     now,
		}
		if tasks[i].Description == "" {
			return nil, fmt.Errorf("task %d has empty description", i)
		}
		if p.ID != "" {
			refs[strings.ToLower(p.ID)] = i
		}
	}

	for i, p := range planned {
		for _, rawRef := range p.DependsOn {
			idx, ok := resolveRef(rawRef, refs)
			// Backward references only; anything else is dropped.
			if !ok || idx >= i {
				continue
			}
			tasks[i].Prerequisites = append(tasks[i].Prerequisites, tasks[idx].ID)
		}
	}

	if hasCycle(tasks) {
		return nil, fmt.Errorf("decomposition of goal %s contains a dependency cycle", goal.ID)
	}
	return tasks, nil
}

// resolveRef maps a raw JSON reference (integer index or string id/index)
// to a position in the decomposition order.
func resolveRef(raw jsonx.RawMessage, refs map[string]int) (int, bool) {
	var asInt int
	if err := jsonx.Unmarshal(raw, &asInt); err == nil {
		if asInt < 0 {
			return 0, false
		}
		return asInt, true
	}
	var asString string
	if err := jsonx.Unmarshal(raw, &asString); err != nil {
		return 0, false
	}
	asString = strings.ToLower(strings.TrimSpace(asString))
	if idx, ok := refs[asString]; ok {
		return idx, true
	}
	if n, err := strconv.Atoi(asString); err == nil && n >= 0 {
		return n, true
	}
	return 0, false
}

// hasCycle runs a three-color DFS over the prerequisite edges.
func hasCycle(tasks []*Task) bool {
	byID := map[string]*Task{}
	for _, t := range tasks {
		byID[t.ID] = t
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case gray:
			return true
		case black:
			return false
		}
		color[id] = gray
		if t := byID[id]; t != nil {
			for _, p := range t.Prerequisites {
				if visit(p) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, t := range tasks {
		if visit(t.ID) {
			return true
		}
	}
	return false
}
