// Package dream runs background work while the user is away. A monitor
// goroutine watches the idle clock; once the agent has been quiet long
// enough it drains a bounded batch of ready tasks through the executor.
// User activity cancels the cycle at the next task boundary.
package dream

import (
	"context"
	"sync"
	"time"

	"archi/internal/config"
	"archi/internal/executor"
	"archi/internal/goals"
	"archi/internal/logging"
	"archi/internal/metrics"
)

// IdleSource reports how long the agent has been without user
// interaction. The heartbeat scheduler satisfies it.
type IdleSource interface {
	IdleFor() time.Duration
}

// CycleRecord is one completed dream cycle in the bounded history.
type CycleRecord struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	TasksRun    int       `json:"tasks_run"`
	TasksFailed int       `json:"tasks_failed"`
	Interrupted bool      `json:"interrupted"`
}

// Cycle owns the dream loop.
type Cycle struct {
	cfg      config.DreamConfig
	idle     IdleSource
	store    *goals.Store
	executor *executor.Executor
	planner  executor.Planner
	logger   logging.Logger

	mu       sync.Mutex
	running  bool
	history  []CycleRecord
	lastRun  time.Time

	now func() time.Time
}

func New(cfg config.DreamConfig, idle IdleSource, store *goals.Store, exec *executor.Executor, planner executor.Planner, logger logging.Logger) *Cycle {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.TasksPerCycle <= 0 {
		cfg.TasksPerCycle = 3
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	return &Cycle{
		cfg:      cfg,
		idle:     idle,
		store:    store,
		executor: exec,
		planner:  planner,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// SetClock replaces the clock (tests).
func (c *Cycle) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Run is the monitor loop. It blocks until ctx is cancelled.
func (c *Cycle) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.shouldDream() {
				c.RunCycle(ctx)
			}
		}
	}
}

func (c *Cycle) shouldDream() bool {
	if c.idle.IdleFor() < c.cfg.IdleThreshold {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running
}

// IsRunning reports whether a cycle is in flight.
func (c *Cycle) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// History returns a copy of the recorded cycles, newest last.
func (c *Cycle) History() []CycleRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CycleRecord, len(c.history))
	copy(out, c.history)
	return out
}

// RunCycle drains up to TasksPerCycle ready tasks. Between tasks the idle
// clock is re-checked: a user interaction interrupts the cycle so the
// agent is free to respond. The in-flight task always finishes first.
func (c *Cycle) RunCycle(ctx context.Context) CycleRecord {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return CycleRecord{}
	}
	c.running = true
	now := c.now
	c.mu.Unlock()

	record := CycleRecord{StartedAt: now()}
	c.logger.Info("Dream cycle starting (idle %v)", c.idle.IdleFor().Round(time.Second))

	for record.TasksRun < c.cfg.TasksPerCycle {
		if ctx.Err() != nil {
			record.Interrupted = true
			break
		}
		if record.TasksRun > 0 && c.idle.IdleFor() < c.cfg.IdleThreshold {
			c.logger.Info("Dream cycle interrupted by user activity")
			record.Interrupted = true
			break
		}

		task := c.store.GetNextTask()
		if task == nil {
			break
		}
		if err := c.store.StartTask(task.ID); err != nil {
			c.logger.Warn("Dream could not start task %s: %v", task.ID, err)
			break
		}

		c.logger.Info("Dream executing task %s: %s", task.ID, task.Description)
		result, err := c.executor.Execute(ctx, task, c.planner, nil)
		record.TasksRun++
		if err != nil {
			record.TasksFailed++
			metrics.DreamTasks.WithLabelValues("failed").Inc()
			c.logger.Warn("Dream task %s failed: %v", task.ID, err)
			if ferr := c.store.FailTask(task.ID, err.Error()); ferr != nil {
				c.logger.Warn("Dream could not mark task %s failed: %v", task.ID, ferr)
			}
			continue
		}
		metrics.DreamTasks.WithLabelValues("completed").Inc()
		if cerr := c.store.CompleteTask(task.ID, result); cerr != nil {
			c.logger.Warn("Dream could not complete task %s: %v", task.ID, cerr)
		}
	}

	record.FinishedAt = now()

	outcome := "completed"
	switch {
	case record.Interrupted:
		outcome = "interrupted"
	case record.TasksRun == 0:
		outcome = "empty"
	}
	metrics.DreamCycles.WithLabelValues(outcome).Inc()
	c.logger.Info("Dream cycle finished: %d tasks (%d failed, interrupted=%v)",
		record.TasksRun, record.TasksFailed, record.Interrupted)

	c.mu.Lock()
	c.running = false
	c.lastRun = record.FinishedAt
	c.history = append(c.history, record)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
	c.mu.Unlock()
	return record
}

// LastRun returns when the previous cycle finished (zero if never).
func (c *Cycle) LastRun() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}
