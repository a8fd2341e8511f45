package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archi/internal/config"
	"archi/internal/goals"
	"archi/internal/heartbeat"
	"archi/internal/memory"
	"archi/internal/monitor"
	"archi/internal/safety"
	"archi/internal/tools"
)

// captureLogger records formatted lines for assertions.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) logf(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+": "+fmt.Sprintf(format, args...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.logf("DEBUG", format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.logf("INFO", format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.logf("WARN", format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.logf("ERROR", format, args...) }

func (l *captureLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// recordingTool counts dispatches and keeps the last params.
type recordingTool struct {
	calls int
	last  map[string]any
}

func (r *recordingTool) Name() string        { return "echo" }
func (r *recordingTool) Description() string { return "records its parameters" }

func (r *recordingTool) Execute(_ context.Context, params map[string]any) tools.Result {
	r.calls++
	r.last = params
	return tools.Ok(map[string]any{"echo": params})
}

func newTestAgent(t *testing.T, logger *captureLogger) (*Agent, *recordingTool) {
	t.Helper()
	dataDir := t.TempDir()

	controller, err := safety.NewController(t.TempDir(), t.TempDir(), nil)
	require.NoError(t, err)
	registry := tools.NewRegistry()
	tool := &recordingTool{}
	require.NoError(t, registry.Register(tool))

	cfg := config.Default()
	a := New(cfg, dataDir, Deps{
		Scheduler: heartbeat.NewScheduler(cfg.Heartbeat, nil),
		Monitor:   monitor.New(config.MonitoringConfig{}, "", nil),
		Store:     goals.NewStore(dataDir, nil),
		ShortTerm: memory.NewShortTerm(20),
		Tools:     registry,
		Safety:    controller,
	}, logger)
	return a, tool
}

func TestInjectTriggerDispatchesThroughRegistry(t *testing.T) {
	a, tool := newTestAgent(t, nil)

	require.True(t, a.InjectTrigger(Trigger{
		Name: "timer",
		Tool: "echo",
		Args: map[string]any{"note": "water the plants"},
	}))

	assert.True(t, a.fireTriggers(context.Background()))
	assert.Equal(t, 1, tool.calls)
	assert.Equal(t, "water the plants", tool.last["note"])

	tail := a.ActionTail(5)
	require.NotEmpty(t, tail)
	last := tail[len(tail)-1]
	assert.Equal(t, "trigger", last.Kind)
	assert.Equal(t, true, last.Detail["success"])

	turns := a.shortTerm.Turns()
	require.NotEmpty(t, turns)
	assert.Equal(t, "system", turns[len(turns)-1].Role)
}

func TestTriggerWithEscapingPathIsDenied(t *testing.T) {
	a, tool := newTestAgent(t, nil)

	a.InjectTrigger(Trigger{
		Name: "timer",
		Tool: "echo",
		Args: map[string]any{"path": "../../etc/passwd"},
	})
	a.fireTriggers(context.Background())

	assert.Zero(t, tool.calls, "denied action never reaches the tool")

	tail := a.ActionTail(5)
	require.NotEmpty(t, tail)
	assert.Equal(t, "trigger_denied", tail[len(tail)-1].Kind)
}

func TestTriggerUnknownToolRecordedAsFailure(t *testing.T) {
	a, _ := newTestAgent(t, nil)

	a.InjectTrigger(Trigger{Name: "timer", Tool: "no_such_tool"})
	a.fireTriggers(context.Background())

	tail := a.ActionTail(5)
	require.NotEmpty(t, tail)
	last := tail[len(tail)-1]
	assert.Equal(t, "trigger", last.Kind)
	assert.Equal(t, false, last.Detail["success"])
}

func TestTriggerDispatchCountsAsSystemEvent(t *testing.T) {
	a, _ := newTestAgent(t, nil)
	s := a.Scheduler()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	now = now.Add(11 * time.Minute)
	require.Equal(t, heartbeat.ModeDeepSleep, s.Mode())

	a.InjectTrigger(Trigger{Name: "timer", Tool: "echo", Args: map[string]any{}})
	a.fireTriggers(context.Background())

	assert.Equal(t, heartbeat.ModeMonitoring, s.Mode(), "dispatch defers deep sleep without forcing command")
}

func TestQuietTickPeeksNextReadyTask(t *testing.T) {
	logger := &captureLogger{}
	a, _ := newTestAgent(t, logger)

	g := a.store.CreateGoal("sort the photo library", "", 5)
	_, err := a.store.DecomposeGoal(context.Background(), g.ID, goals.PlannerFunc(
		func(context.Context, string) (string, error) {
			return `[{"description": "sort January", "priority": 5}]`, nil
		}))
	require.NoError(t, err)

	a.peekNextTask()
	assert.True(t, logger.contains("Next ready task"))
}

func TestPeekNextTaskQuietWhenNothingReady(t *testing.T) {
	logger := &captureLogger{}
	a, _ := newTestAgent(t, logger)

	a.peekNextTask()
	assert.False(t, logger.contains("Next ready task"))
}

func TestEmergencyStopChecksProjectRoot(t *testing.T) {
	projectRoot := t.TempDir()
	dataDir := t.TempDir()

	cfg := config.Default()
	cfg.Executor.ProjectRoot = projectRoot
	a := New(cfg, dataDir, Deps{
		Scheduler: heartbeat.NewScheduler(cfg.Heartbeat, nil),
		Monitor:   monitor.New(config.MonitoringConfig{}, "", nil),
		Store:     goals.NewStore(dataDir, nil),
		ShortTerm: memory.NewShortTerm(20),
	}, nil)

	assert.False(t, a.emergencyStopped())
	require.NoError(t, os.WriteFile(filepath.Join(projectRoot, "EMERGENCY_STOP"), nil, 0o644))
	assert.True(t, a.emergencyStopped())

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, ErrEmergencyStop)
}
