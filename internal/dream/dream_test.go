package dream

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archi/internal/config"
	"archi/internal/executor"
	"archi/internal/goals"
	"archi/internal/safety"
	"archi/internal/tools"
)

// fakeIdle is a settable idle clock.
type fakeIdle struct{ nanos int64 }

func (f *fakeIdle) IdleFor() time.Duration { return time.Duration(atomic.LoadInt64(&f.nanos)) }
func (f *fakeIdle) set(d time.Duration) { atomic.StoreInt64(&f.nanos, int64(d)) }

func newTestExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	controller, err := safety.NewController(t.TempDir(), t.TempDir(), nil)
	require.NoError(t, err)
	return executor.New(config.ExecutorConfig{MaxSteps: 5}, t.TempDir(), tools.NewRegistry(), controller, nil)
}

// newStoreWithTasks decomposes one goal into n sequential-free tasks.
func newStoreWithTasks(t *testing.T, n int) *goals.Store {
	t.Helper()
	store := goals.NewStore(t.TempDir(), nil)
	g := store.CreateGoal("background chores", "", 5)

	list := "["
	for i := 0; i < n; i++ {
		if i > 0 {
			list += ","
		}
		list += `{"description": "chore ` + string(rune('a'+i)) + `", "priority": 5}`
	}
	list += "]"
	_, err := store.DecomposeGoal(context.Background(), g.ID, goals.PlannerFunc(
		func(context.Context, string) (string, error) { return list, nil }))
	require.NoError(t, err)
	return store
}

func donePlanner() executor.Planner {
	return executor.PlannerFunc(func(context.Context, string) (string, error) {
		return `{"action": "done", "args": {"summary": "handled while idle"}}`, nil
	})
}

func testDreamConfig() config.DreamConfig {
	return config.DreamConfig{
		CheckInterval: time.Second,
		IdleThreshold: 5 * time.Minute,
		TasksPerCycle: 3,
		HistorySize:   50,
	}
}

func TestRunCycleDrainsReadyTasks(t *testing.T) {
	idle := &fakeIdle{}
	idle.set(time.Hour)
	store := newStoreWithTasks(t, 2)
	c := New(testDreamConfig(), idle, store, newTestExecutor(t), donePlanner(), nil)

	record := c.RunCycle(context.Background())
	assert.Equal(t, 2, record.TasksRun)
	assert.Zero(t, record.TasksFailed)
	assert.False(t, record.Interrupted)

	assert.Nil(t, store.GetNextTask(), "all tasks consumed")
	assert.False(t, c.IsRunning())
	assert.False(t, c.LastRun().IsZero())
}

func TestRunCycleBoundedByTasksPerCycle(t *testing.T) {
	idle := &fakeIdle{}
	idle.set(time.Hour)
	store := newStoreWithTasks(t, 3)
	cfg := testDreamConfig()
	cfg.TasksPerCycle = 2
	c := New(cfg, idle, store, newTestExecutor(t), donePlanner(), nil)

	record := c.RunCycle(context.Background())
	assert.Equal(t, 2, record.TasksRun)
	assert.NotNil(t, store.GetNextTask(), "one task left for the next cycle")
}

func TestRunCycleInterruptedAtTaskBoundary(t *testing.T) {
	idle := &fakeIdle{}
	idle.set(time.Hour)
	store := newStoreWithTasks(t, 3)

	// The user comes back while the first task runs. The in-flight task
	// finishes, the cycle stops before the next one.
	planner := executor.PlannerFunc(func(context.Context, string) (string, error) {
		idle.set(time.Second)
		return `{"action": "done", "args": {"summary": "finished first"}}`, nil
	})
	c := New(testDreamConfig(), idle, store, newTestExecutor(t), planner, nil)

	record := c.RunCycle(context.Background())
	assert.Equal(t, 1, record.TasksRun)
	assert.True(t, record.Interrupted)
	assert.NotNil(t, store.GetNextTask())
}

func TestRunCycleRecordsFailures(t *testing.T) {
	idle := &fakeIdle{}
	idle.set(time.Hour)
	store := newStoreWithTasks(t, 1)

	planner := executor.PlannerFunc(func(context.Context, string) (string, error) {
		return "that is not an action", nil
	})
	c := New(testDreamConfig(), idle, store, newTestExecutor(t), planner, nil)

	record := c.RunCycle(context.Background())
	assert.Equal(t, 1, record.TasksRun)
	assert.Equal(t, 1, record.TasksFailed)

	// The failed task does not come back as ready.
	assert.Nil(t, store.GetNextTask())
}

func TestRunCycleEmptyStore(t *testing.T) {
	idle := &fakeIdle{}
	idle.set(time.Hour)
	store := goals.NewStore(t.TempDir(), nil)
	c := New(testDreamConfig(), idle, store, newTestExecutor(t), donePlanner(), nil)

	record := c.RunCycle(context.Background())
	assert.Zero(t, record.TasksRun)
	assert.False(t, record.Interrupted)
	assert.Len(t, c.History(), 1)
}

func TestSetClockConcurrentWithCycle(t *testing.T) {
	idle := &fakeIdle{}
	idle.set(time.Hour)
	store := newStoreWithTasks(t, 2)
	c := New(testDreamConfig(), idle, store, newTestExecutor(t), donePlanner(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			c.SetClock(time.Now)
		}
	}()

	record := c.RunCycle(context.Background())
	<-done

	assert.Equal(t, 2, record.TasksRun)
	assert.False(t, record.FinishedAt.IsZero())
}

func TestHistoryStaysBounded(t *testing.T) {
	idle := &fakeIdle{}
	idle.set(time.Hour)
	store := goals.NewStore(t.TempDir(), nil)
	cfg := testDreamConfig()
	cfg.HistorySize = 2
	c := New(cfg, idle, store, newTestExecutor(t), donePlanner(), nil)

	for i := 0; i < 5; i++ {
		c.RunCycle(context.Background())
	}
	assert.Len(t, c.History(), 2)
}

func TestRunCycleCancelledContext(t *testing.T) {
	idle := &fakeIdle{}
	idle.set(time.Hour)
	store := newStoreWithTasks(t, 2)
	c := New(testDreamConfig(), idle, store, newTestExecutor(t), donePlanner(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	record := c.RunCycle(ctx)
	assert.True(t, record.Interrupted)
	assert.Zero(t, record.TasksRun)
}
