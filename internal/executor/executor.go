package executor

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"archi/internal/config"
	"archi/internal/goals"
	"archi/internal/jsonx"
	"archi/internal/logging"
	"archi/internal/safety"
	"archi/internal/tools"
)

// Planner is the completion capability that proposes the next action.
type Planner interface {
	Plan(ctx context.Context, prompt string) (string, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, prompt string) (string, error)

func (f PlannerFunc) Plan(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Progress is emitted after every step on the caller-supplied channel.
type Progress struct {
	TaskID   string
	Step     int
	MaxSteps int
	Status   string
}

// plannedAction is the JSON shape the step prompt asks for.
type plannedAction struct {
	Action    string         `json:"action"`
	Args      map[string]any `json:"args,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
}

var sourceTaskPattern = regexp.MustCompile(`(?i)\b(refactor|source|codebase|self[- ]modif|\.go\b|implement.*code)`)

// Executor runs tasks through the reasoning loop.
type Executor struct {
	registry *tools.Registry
	safety   *safety.Controller
	states   *stateStore
	source   *sourceWriter

	maxSteps       int
	maxStepsSource int
	verify         bool

	now    func() time.Time
	logger logging.Logger
}

// New creates an Executor. Directories in cfg are resolved against dataDir
// when relative.
func New(cfg config.ExecutorConfig, dataDir string, registry *tools.Registry, controller *safety.Controller, logger logging.Logger) *Executor {
	logger = logging.OrNop(logger)
	stateDir := resolveDir(cfg.StateDir, dataDir, "plan_state")
	backupDir := resolveDir(cfg.BackupDir, dataDir, "source_backups")
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 20
	}
	maxStepsSource := cfg.MaxStepsSource
	if maxStepsSource < maxSteps {
		maxStepsSource = maxSteps * 2
	}
	return &Executor{
		registry:       registry,
		safety:         controller,
		states:         newStateStore(stateDir, cfg.StateStaleAfter, logger),
		source:         newSourceWriter(controller.ProjectRoot(), backupDir, logger),
		maxSteps:       maxSteps,
		maxStepsSource: maxStepsSource,
		verify:         cfg.VerifyResults,
		now:            time.Now,
		logger:         logger,
	}
}

// SetClock replaces the clock (tests).
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
	e.source.now = now
}

// Execute runs one task to termination: the planner emits done, the step
// limit is reached, or a hard-fatal error occurs. Progress events go to
// progress when non-nil. The returned string is the final summary.
func (e *Executor) Execute(ctx context.Context, task *goals.Task, planner Planner, progress chan<- Progress) (string, error) {
	maxSteps := e.maxSteps
	if sourceTaskPattern.MatchString(task.Description) {
		maxSteps = e.maxStepsSource
	}

	state := e.states.load(task.ID, e.now())
	if state == nil {
		state = &PlanState{TaskID: task.ID, StartedAt: e.now()}
	} else if state.Step > 0 {
		e.logger.Info("Resuming task %s at step %d", task.ID, state.Step)
	}

	for state.Step < maxSteps {
		select {
		case <-ctx.Done():
			// State is already persisted through the last completed
			// step; the next invocation resumes there.
			return "", ctx.Err()
		default:
		}

		action, err := e.nextAction(ctx, task, planner, state)
		if err != nil {
			return "", fmt.Errorf("planner failed at step %d: %w", state.Step, err)
		}

		if action.Action == "done" {
			summary := stringArg(action.Args, "summary")
			if summary == "" {
				summary = "task completed"
			}
			e.recordStep(state, action, summary, true)
			e.emit(progress, task.ID, state.Step, maxSteps, "done")
			result := summary
			if e.verify {
				result = e.verifyResult(ctx, planner, state, summary)
			}
			e.states.discard(task.ID)
			return result, nil
		}

		result := e.dispatch(ctx, action)
		summary := result.Error
		if result.Success {
			summary = summarizeFields(result.Fields)
		}
		e.recordStep(state, action, summary, result.Success)
		e.trackFiles(state, action, result)
		e.emit(progress, task.ID, state.Step, maxSteps, action.Action)
	}

	return "", fmt.Errorf("task %s hit the step limit (%d) without completing", task.ID, maxSteps)
}

// nextAction builds the step prompt and parses the planner's reply.
func (e *Executor) nextAction(ctx context.Context, task *goals.Task, planner Planner, state *PlanState) (*plannedAction, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are executing a task step by step.\n\nTask: %s\n\n", task.Description)
	fmt.Fprintf(&b, "Available actions: %s, think, done\n\n", strings.Join(e.registry.Names(), ", "))
	if len(state.History) > 0 {
		b.WriteString("Steps so far:\n")
		for i, step := range state.History {
			status := "ok"
			if !step.Success {
				status = "FAILED"
			}
			fmt.Fprintf(&b, "%d. %s [%s] %s\n", i+1, step.Action, status, truncateText(step.Summary, 200))
		}
		b.WriteString("\n")
	}
	b.WriteString(`Respond with JSON only:
{"action": "<name>", "args": {...}, "reasoning": "<short>"}
Use {"action": "done", "args": {"summary": "<what was accomplished>"}} when finished.`)

	raw, err := planner.Plan(ctx, b.String())
	if err != nil {
		return nil, err
	}

	var action plannedAction
	if err := jsonx.ExtractObject(jsonx.StripScratchpad(raw), &action); err != nil {
		return nil, fmt.Errorf("unparseable action: %w", err)
	}
	if action.Action == "" {
		return nil, fmt.Errorf("planner returned no action")
	}
	return &action, nil
}

func (e *Executor) dispatch(ctx context.Context, action *plannedAction) tools.Result {
	switch action.Action {
	case "think":
		return tools.Ok(map[string]any{"thought": action.Reasoning})
	case "write_source":
		return e.writeSource(action.Args)
	default:
		return e.registry.Execute(ctx, action.Action, action.Args)
	}
}

// writeSource is the self-modification action family: project-root scoped,
// protected-path checked, backed up, syntax checked.
func (e *Executor) writeSource(args map[string]any) tools.Result {
	path := stringArg(args, "path")
	content := stringArg(args, "content")
	if path == "" || content == "" {
		return tools.Fail("write_source requires path and content")
	}
	abs, err := e.safety.CheckSourceWrite(path)
	if err != nil {
		return tools.Fail("%v", err)
	}
	backup, err := e.source.write(abs, content)
	if err != nil {
		return tools.Fail("%v", err)
	}
	fields := map[string]any{"path": abs, "bytes": len(content)}
	if backup != "" {
		fields["backup"] = backup
	}
	return tools.Ok(fields)
}

func (e *Executor) recordStep(state *PlanState, action *plannedAction, summary string, success bool) {
	state.History = append(state.History, StepRecord{
		Action:    action.Action,
		Args:      action.Args,
		Summary:   truncateText(summary, 500),
		Success:   success,
		Timestamp: e.now(),
	})
	state.Step++
	state.UpdatedAt = e.now()
	e.states.save(state)
}

func (e *Executor) trackFiles(state *PlanState, action *plannedAction, result tools.Result) {
	if !result.Success {
		return
	}
	switch action.Action {
	case "create_file", "append_file", "write_source":
		if path, ok := result.Fields["path"].(string); ok {
			for _, existing := range state.FilesCreated {
				if existing == path {
					return
				}
			}
			state.FilesCreated = append(state.FilesCreated, path)
		}
	}
}

// verifyResult re-reads the files this task produced and asks the planner
// to judge their quality. The judgement is appended to the result.
func (e *Executor) verifyResult(ctx context.Context, planner Planner, state *PlanState, summary string) string {
	if len(state.FilesCreated) == 0 {
		return summary
	}
	var b strings.Builder
	b.WriteString("Review the following files produced by a task and judge briefly whether they fulfil it.\n\n")
	fmt.Fprintf(&b, "Task summary: %s\n\n", summary)
	for _, path := range state.FilesCreated {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", path, truncateText(string(data), 4000))
	}
	judgement, err := planner.Plan(ctx, b.String())
	if err != nil {
		e.logger.Warn("Verification pass failed: %v", err)
		return summary
	}
	return summary + "\n\nVerification: " + truncateText(jsonx.StripScratchpad(judgement), 1000)
}

func (e *Executor) emit(progress chan<- Progress, taskID string, step, maxSteps int, status string) {
	if progress == nil {
		return
	}
	select {
	case progress <- Progress{TaskID: taskID, Step: step, MaxSteps: maxSteps, Status: status}:
	default:
		// A slow consumer must not stall plan execution.
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

func summarizeFields(fields map[string]any) string {
	if len(fields) == 0 {
		return "ok"
	}
	data, err := jsonx.Marshal(fields)
	if err != nil {
		return "ok"
	}
	return truncateText(string(data), 500)
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func resolveDir(dir, dataDir, fallback string) string {
	if dir == "" {
		dir = fallback
	}
	if !strings.HasPrefix(dir, "/") {
		return dataDir + "/" + dir
	}
	return dir
}
