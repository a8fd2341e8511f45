// Package agent is the control loop that ties the subsystems together:
// the heartbeat scheduler paces wakeups, the monitor throttles under
// load, injected triggers dispatch through the safety gate and the tool
// registry, goals get decomposed and pruned during housekeeping, and the
// dream cycle runs in its own goroutine. An EMERGENCY_STOP file at the
// project root halts everything.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"archi/internal/config"
	"archi/internal/dream"
	"archi/internal/executor"
	"archi/internal/goals"
	"archi/internal/heartbeat"
	"archi/internal/llm/router"
	"archi/internal/logging"
	"archi/internal/memory"
	"archi/internal/metrics"
	"archi/internal/monitor"
	"archi/internal/safety"
	"archi/internal/tools"
)

// ErrEmergencyStop is returned when the stop file halts the loop.
var ErrEmergencyStop = fmt.Errorf("emergency stop requested")

const defaultSystemPrompt = "You are Archi, a helpful personal assistant running on the user's own machine. Be concise and practical."

// Agent owns the always-on loop.
type Agent struct {
	cfg       config.Config
	dataDir   string
	scheduler *heartbeat.Scheduler
	monitor   *monitor.Monitor
	store     *goals.Store
	router    *router.Router
	dreams    *dream.Cycle
	shortTerm *memory.ShortTerm
	longTerm  *memory.LongTerm // may be nil
	tools     *tools.Registry
	safety    *safety.Controller
	actions   *actionLog
	logger    logging.Logger

	triggers chan Trigger
	now      func() time.Time
}

// Trigger is one injected unit of work: a structured action the loop
// dispatches through the tool registry after safety checks.
type Trigger struct {
	Name string
	Tool string
	Args map[string]any
}

// Deps carries the wired subsystems into the agent.
type Deps struct {
	Scheduler *heartbeat.Scheduler
	Monitor   *monitor.Monitor
	Store     *goals.Store
	Router    *router.Router
	Dreams    *dream.Cycle
	ShortTerm *memory.ShortTerm
	LongTerm  *memory.LongTerm
	Tools     *tools.Registry
	Safety    *safety.Controller
}

func New(cfg config.Config, dataDir string, deps Deps, logger logging.Logger) *Agent {
	return &Agent{
		cfg:       cfg,
		dataDir:   dataDir,
		scheduler: deps.Scheduler,
		monitor:   deps.Monitor,
		store:     deps.Store,
		router:    deps.Router,
		dreams:    deps.Dreams,
		shortTerm: deps.ShortTerm,
		longTerm:  deps.LongTerm,
		tools:     deps.Tools,
		safety:    deps.Safety,
		actions:   newActionLog(dataDir, logger),
		logger:    logging.OrNop(logger),
		triggers:  make(chan Trigger, 16),
		now:       time.Now,
	}
}

// AttachDreams wires the dream cycle. The cycle's planner comes from
// this agent, so it is attached after construction and before Run.
func (a *Agent) AttachDreams(d *dream.Cycle) { a.dreams = d }

// Scheduler exposes the heartbeat scheduler (interaction marking).
func (a *Agent) Scheduler() *heartbeat.Scheduler { return a.scheduler }

// Store exposes the goal store.
func (a *Agent) Store() *goals.Store { return a.store }

// ActionTail returns recent action log entries, oldest first.
func (a *Agent) ActionTail(n int) []actionRecord { return a.actions.Tail(n) }

// Planner adapts the router into the planning capability the executor
// and goal decomposition consume. Planning prompts carry the reasoning
// hint so they classify as complex.
func (a *Agent) Planner() executor.PlannerFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		res := a.router.Generate(ctx, router.Request{
			UserTurn:     prompt,
			MaxTokens:    2048,
			UseReasoning: true,
		})
		if res.Blocked {
			return "", fmt.Errorf("planning blocked: %s", res.Error)
		}
		if !res.Success {
			return "", fmt.Errorf("planning failed: %s", res.Error)
		}
		return res.Text, nil
	}
}

// Run drives the loop until ctx is cancelled or the stop file appears.
// The dream monitor runs alongside.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Agent loop starting (data dir %s)", a.dataDir)
	a.actions.record("agent_start", nil)

	g, ctx := errgroup.WithContext(ctx)
	if a.dreams != nil {
		g.Go(func() error {
			a.dreams.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return a.loop(ctx)
	})

	err := g.Wait()
	a.actions.record("agent_stop", map[string]any{"reason": errText(err)})
	a.logger.Info("Agent loop stopped: %v", err)
	if err == context.Canceled {
		return nil
	}
	return err
}

func (a *Agent) loop(ctx context.Context) error {
	lastHousekeeping := time.Time{}

	for {
		if a.emergencyStopped() {
			a.logger.Error("Emergency stop file present, halting")
			a.actions.record("emergency_stop", nil)
			return ErrEmergencyStop
		}

		metrics.AgentTicks.Inc()
		snap := a.monitor.Sample()

		fired := a.fireTriggers(ctx)

		interval := a.cfg.HeartbeatTriggerInterval
		if interval <= 0 {
			interval = 60 * time.Second
		}
		if snap.Healthy && a.now().Sub(lastHousekeeping) >= interval {
			a.housekeeping(ctx)
			lastHousekeeping = a.now()
			fired = true
		}

		if !fired {
			a.peekNextTask()
		}

		cooldown := a.scheduler.Cooldown()
		if !snap.Healthy {
			cooldown = time.Duration(float64(cooldown) * a.monitor.ThrottleFactor())
			a.logger.Warn("Throttling: next wakeup in %v (%s)", cooldown, strings.Join(snap.Reasons, ","))
		}

		if err := sleepChunked(ctx, cooldown); err != nil {
			return err
		}
	}
}

// InjectTrigger queues a structured action for the next tick. A full
// queue drops the trigger rather than blocking the caller.
func (a *Agent) InjectTrigger(tr Trigger) bool {
	select {
	case a.triggers <- tr:
		return true
	default:
		a.logger.Warn("Trigger queue full, dropping %s", tr.Name)
		return false
	}
}

// fireTriggers drains the queue, dispatching each action through the
// safety gate and the tool registry.
func (a *Agent) fireTriggers(ctx context.Context) bool {
	fired := false
	for {
		select {
		case tr := <-a.triggers:
			fired = true
			a.runTrigger(ctx, tr)
		default:
			return fired
		}
	}
}

func (a *Agent) runTrigger(ctx context.Context, tr Trigger) {
	if err := a.vetTrigger(tr); err != nil {
		a.logger.Warn("Trigger %s denied: %v", tr.Name, err)
		a.actions.record("trigger_denied", map[string]any{
			"trigger": tr.Name,
			"tool":    tr.Tool,
			"error":   err.Error(),
		})
		return
	}

	res := a.tools.Execute(ctx, tr.Tool, tr.Args)
	a.actions.record("trigger", map[string]any{
		"trigger": tr.Name,
		"tool":    tr.Tool,
		"success": res.Success,
		"error":   res.Error,
	})
	if a.shortTerm != nil {
		a.shortTerm.Add("system", triggerSummary(tr, res))
	}
	a.scheduler.MarkSystemEvent()
}

// vetTrigger applies the safety perimeter before a structured action
// reaches a tool: any path argument must resolve inside the workspace.
func (a *Agent) vetTrigger(tr Trigger) error {
	if a.tools == nil {
		return fmt.Errorf("no tool registry wired")
	}
	if a.safety == nil {
		return nil
	}
	if path, ok := tr.Args["path"].(string); ok {
		if _, err := a.safety.ResolveWorkspacePath(path); err != nil {
			return err
		}
	}
	return nil
}

func triggerSummary(tr Trigger, res tools.Result) string {
	if res.Success {
		return fmt.Sprintf("trigger %s: %s ok", tr.Name, tr.Tool)
	}
	return fmt.Sprintf("trigger %s: %s failed: %s", tr.Name, tr.Tool, res.Error)
}

// peekNextTask logs the next ready task on quiet ticks. Execution itself
// happens only inside dream cycles.
func (a *Agent) peekNextTask() {
	if a.store == nil {
		return
	}
	if task := a.store.GetNextTask(); task != nil {
		a.logger.Debug("Next ready task %s: %s", task.ID, task.Description)
	}
}

// housekeeping decomposes fresh goals and prunes near-duplicates. Real
// work counts as a system event; an idle pass does not, so quiet days
// still reach deep sleep.
func (a *Agent) housekeeping(ctx context.Context) {
	worked := false
	planner := a.Planner()
	for _, goal := range a.store.Goals() {
		if goal.Decomposed {
			continue
		}
		tasks, err := a.store.DecomposeGoal(ctx, goal.ID, goals.PlannerFunc(planner))
		if err != nil {
			a.logger.Warn("Decomposition of goal %s failed: %v", goal.ID, err)
			continue
		}
		worked = true
		a.logger.Info("Goal %s decomposed into %d tasks", goal.ID, len(tasks))
		a.actions.record("goal_decomposed", map[string]any{
			"goal_id": goal.ID,
			"tasks":   len(tasks),
		})
	}

	if removed := a.store.PruneDuplicates(); removed > 0 {
		worked = true
		a.logger.Info("Pruned %d duplicate goals", removed)
		a.actions.record("goals_pruned", map[string]any{"removed": removed})
	}

	if worked {
		a.scheduler.MarkSystemEvent()
	}
}

// HandleMessage serves one user message through the router, keeping the
// conversation window and marking activity for the scheduler.
func (a *Agent) HandleMessage(ctx context.Context, text string) *router.Result {
	a.scheduler.MarkActivity()

	history := make([]router.ChatTurn, 0, a.shortTerm.Len())
	for _, turn := range a.shortTerm.Turns() {
		history = append(history, router.ChatTurn{Role: turn.Role, Content: turn.Content})
	}

	res := a.router.Generate(ctx, router.Request{
		System:   defaultSystemPrompt,
		History:  history,
		UserTurn: text,
	})

	a.shortTerm.Add("user", text)
	if res.Success {
		a.shortTerm.Add("assistant", res.Text)
	}
	a.actions.record("chat", map[string]any{
		"provider": res.Provider,
		"cached":   res.Cached,
		"blocked":  res.Blocked,
		"cost_usd": res.CostUSD,
	})
	return res
}

// Remember stores a long-term memory when the vector store is wired.
func (a *Agent) Remember(ctx context.Context, content string) (string, error) {
	if a.longTerm == nil {
		return "", fmt.Errorf("long-term memory not configured")
	}
	return a.longTerm.Remember(ctx, content, map[string]string{"source": "user"})
}

// Recall searches long-term memory when the vector store is wired.
func (a *Agent) Recall(ctx context.Context, query string, topK int) ([]memory.Recollection, error) {
	if a.longTerm == nil {
		return nil, fmt.Errorf("long-term memory not configured")
	}
	return a.longTerm.Recall(ctx, query, topK, 0.3)
}

// emergencyStopped looks for the stop file at the project root, falling
// back to the data dir when no project root is configured.
func (a *Agent) emergencyStopped() bool {
	name := a.cfg.EmergencyStopFile
	if name == "" {
		name = "EMERGENCY_STOP"
	}
	root := a.cfg.Executor.ProjectRoot
	if root == "" {
		root = a.dataDir
	}
	_, err := os.Stat(filepath.Join(root, name))
	return err == nil
}

// sleepChunked sleeps in short slices so cancellation lands fast even
// during deep-sleep cooldowns.
func sleepChunked(ctx context.Context, d time.Duration) error {
	const chunk = time.Second
	for d > 0 {
		step := d
		if step > chunk {
			step = chunk
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
		d -= step
	}
	return nil
}

func errText(err error) string {
	if err == nil {
		return "shutdown"
	}
	return err.Error()
}
