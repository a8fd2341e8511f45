package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archi/internal/config"
	"archi/internal/goals"
	"archi/internal/safety"
	"archi/internal/tools"
)

// scriptedPlanner replays canned responses and records every prompt.
type scriptedPlanner struct {
	responses []string
	prompts   []string
}

func (p *scriptedPlanner) Plan(_ context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	if len(p.responses) == 0 {
		return "", errors.New("script exhausted")
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	return next, nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Execute(_ context.Context, params map[string]any) tools.Result {
	return tools.Ok(map[string]any{"echoed": params["text"]})
}

type testHarness struct {
	exec    *Executor
	dataDir string
	project string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	dataDir := t.TempDir()
	project := t.TempDir()

	controller, err := safety.NewController(t.TempDir(), project, []string{"config.yaml"})
	require.NoError(t, err)

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(echoTool{}))

	cfg := config.ExecutorConfig{
		MaxSteps:        5,
		MaxStepsSource:  10,
		StateStaleAfter: 24 * time.Hour,
	}
	return &testHarness{
		exec:    New(cfg, dataDir, registry, controller, nil),
		dataDir: dataDir,
		project: project,
	}
}

func (h *testHarness) statePath(taskID string) string {
	return filepath.Join(h.dataDir, "plan_state", taskID+".json")
}

func testTask(description string) *goals.Task {
	return &goals.Task{ID: "task-1", GoalID: "goal-1", Description: description}
}

func TestExecuteRunsUntilDone(t *testing.T) {
	h := newTestHarness(t)
	planner := &scriptedPlanner{responses: []string{
		`{"action": "echo", "args": {"text": "hi"}}`,
		`{"action": "done", "args": {"summary": "greeted the user"}}`,
	}}

	result, err := h.exec.Execute(context.Background(), testTask("say hello"), planner, nil)
	require.NoError(t, err)
	assert.Equal(t, "greeted the user", result)

	_, err = os.Stat(h.statePath("task-1"))
	assert.True(t, os.IsNotExist(err), "state discarded after completion")
}

func TestExecuteStepLimit(t *testing.T) {
	h := newTestHarness(t)
	planner := &scriptedPlanner{}
	for i := 0; i < 10; i++ {
		planner.responses = append(planner.responses, `{"action": "think", "reasoning": "hmm"}`)
	}

	_, err := h.exec.Execute(context.Background(), testTask("organize my notes"), planner, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step limit")
	assert.Len(t, planner.prompts, 5)
}

func TestExecuteSourceTaskGetsLargerBudget(t *testing.T) {
	h := newTestHarness(t)
	planner := &scriptedPlanner{}
	for i := 0; i < 7; i++ {
		planner.responses = append(planner.responses, `{"action": "think", "reasoning": "hmm"}`)
	}
	planner.responses = append(planner.responses, `{"action": "done", "args": {"summary": "refactored"}}`)

	result, err := h.exec.Execute(context.Background(), testTask("refactor the parser"), planner, nil)
	require.NoError(t, err, "a source task runs past the normal step limit")
	assert.Equal(t, "refactored", result)
}

func TestExecuteResumesFromPersistedState(t *testing.T) {
	h := newTestHarness(t)

	// Two steps succeed, then the planner dies.
	first := &scriptedPlanner{responses: []string{
		`{"action": "echo", "args": {"text": "one"}}`,
		`{"action": "echo", "args": {"text": "two"}}`,
	}}
	_, err := h.exec.Execute(context.Background(), testTask("say hello"), first, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2")

	_, err = os.Stat(h.statePath("task-1"))
	require.NoError(t, err, "state survives a planner failure")

	// The next invocation sees the prior steps and finishes.
	second := &scriptedPlanner{responses: []string{
		`{"action": "done", "args": {"summary": "picked up where it left off"}}`,
	}}
	result, err := h.exec.Execute(context.Background(), testTask("say hello"), second, nil)
	require.NoError(t, err)
	assert.Equal(t, "picked up where it left off", result)
	require.Len(t, second.prompts, 1)
	assert.Contains(t, second.prompts[0], "Steps so far")
	assert.Contains(t, second.prompts[0], "2. echo")
}

func TestExecuteScratchpadAndFencedActions(t *testing.T) {
	h := newTestHarness(t)
	planner := &scriptedPlanner{responses: []string{
		"<think>what should I do</think>\n```json\n{\"action\": \"done\", \"args\": {\"summary\": \"fine\"}}\n```",
	}}

	result, err := h.exec.Execute(context.Background(), testTask("quick job"), planner, nil)
	require.NoError(t, err)
	assert.Equal(t, "fine", result)
}

func TestExecuteUnknownToolRecordedAsFailure(t *testing.T) {
	h := newTestHarness(t)
	planner := &scriptedPlanner{responses: []string{
		`{"action": "teleport", "args": {}}`,
		`{"action": "done", "args": {"summary": "gave up on teleporting"}}`,
	}}

	_, err := h.exec.Execute(context.Background(), testTask("impossible job"), planner, nil)
	require.NoError(t, err)
	require.Len(t, planner.prompts, 2)
	assert.Contains(t, planner.prompts[1], "FAILED")
	assert.Contains(t, planner.prompts[1], "unknown tool")
}

func TestExecuteWriteSourceProtectedPathDenied(t *testing.T) {
	h := newTestHarness(t)
	planner := &scriptedPlanner{responses: []string{
		`{"action": "write_source", "args": {"path": "config.yaml", "content": "owned: true"}}`,
		`{"action": "done", "args": {"summary": "stopped"}}`,
	}}

	_, err := h.exec.Execute(context.Background(), testTask("update settings"), planner, nil)
	require.NoError(t, err)
	require.Len(t, planner.prompts, 2)
	assert.Contains(t, planner.prompts[1], "FAILED")

	_, err = os.Stat(filepath.Join(h.project, "config.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecuteWriteSourceValidGo(t *testing.T) {
	h := newTestHarness(t)
	planner := &scriptedPlanner{responses: []string{
		`{"action": "write_source", "args": {"path": "pkg/util.go", "content": "package pkg\n\nfunc Answer() int { return 42 }\n"}}`,
		`{"action": "done", "args": {"summary": "added helper"}}`,
	}}

	_, err := h.exec.Execute(context.Background(), testTask("add a helper"), planner, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(h.project, "pkg", "util.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "func Answer()")
}

func TestExecuteContextCancellation(t *testing.T) {
	h := newTestHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	planner := &scriptedPlanner{responses: []string{`{"action": "think", "reasoning": "hmm"}`}}
	_, err := h.exec.Execute(ctx, testTask("anything"), planner, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, planner.prompts, "no planner call after cancellation")
}

func TestExecuteEmitsProgress(t *testing.T) {
	h := newTestHarness(t)
	planner := &scriptedPlanner{responses: []string{
		`{"action": "echo", "args": {"text": "hi"}}`,
		`{"action": "done", "args": {"summary": "ok"}}`,
	}}

	progress := make(chan Progress, 8)
	_, err := h.exec.Execute(context.Background(), testTask("say hello"), planner, progress)
	require.NoError(t, err)

	close(progress)
	var statuses []string
	for p := range progress {
		assert.Equal(t, "task-1", p.TaskID)
		statuses = append(statuses, p.Status)
	}
	assert.Equal(t, []string{"echo", "done"}, statuses)
}

func TestSourceWriterRollsBackBadGo(t *testing.T) {
	project := t.TempDir()
	w := newSourceWriter(project, filepath.Join(project, ".backups"), nil)

	target := filepath.Join(project, "broken.go")
	_, err := w.write(target, "package broken\n\nfunc oops( {\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax check failed")

	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err), "new file removed on rollback")
}

func TestSourceWriterRestoresOriginalOnBadWrite(t *testing.T) {
	project := t.TempDir()
	w := newSourceWriter(project, filepath.Join(project, ".backups"), nil)

	target := filepath.Join(project, "keep.go")
	require.NoError(t, os.WriteFile(target, []byte("package keep\n"), 0o644))

	_, err := w.write(target, "package keep\n\nfunc oops( {\n")
	require.Error(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "package keep\n", string(data))
}

func TestCheckSyntax(t *testing.T) {
	assert.NoError(t, checkSyntax("ok.go", "package ok\n"))
	assert.Error(t, checkSyntax("bad.go", "package bad func"))
	assert.NoError(t, checkSyntax("ok.json", `{"a": 1}`))
	assert.Error(t, checkSyntax("bad.json", "{nope"))
	assert.NoError(t, checkSyntax("notes.txt", "anything goes"))
}

func TestStateStoreStaleDiscard(t *testing.T) {
	dir := t.TempDir()
	s := newStateStore(dir, time.Hour, nil)

	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.save(&PlanState{TaskID: "t", Step: 3, UpdatedAt: base})

	loaded := s.load("t", base.Add(30*time.Minute))
	require.NotNil(t, loaded)
	assert.Equal(t, 3, loaded.Step)

	assert.Nil(t, s.load("t", base.Add(2*time.Hour)), "stale state discarded")
	_, err := os.Stat(filepath.Join(dir, "t.json"))
	assert.True(t, os.IsNotExist(err))
}
