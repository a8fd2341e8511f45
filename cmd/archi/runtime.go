package main

import (
	"fmt"
	"os"
	"path/filepath"

	"archi/internal/agent"
	"archi/internal/budget"
	"archi/internal/config"
	"archi/internal/dream"
	archierrors "archi/internal/errors"
	"archi/internal/executor"
	"archi/internal/goals"
	"archi/internal/heartbeat"
	"archi/internal/llm"
	"archi/internal/llm/cache"
	"archi/internal/llm/router"
	"archi/internal/logging"
	"archi/internal/memory"
	"archi/internal/monitor"
	"archi/internal/safety"
	"archi/internal/tools"
)

// runtime is the fully wired agent plus the pieces commands talk to
// directly.
type runtime struct {
	cfg     config.Config
	dataDir string
	agent   *agent.Agent
	ledger  *budget.Ledger
	store   *goals.Store
	router  *router.Router
	monitor *monitor.Monitor
	dreams  *dream.Cycle
	logger  logging.Logger
}

// buildRuntime wires every subsystem from the effective configuration.
func buildRuntime(cfg config.Config) (*runtime, error) {
	dataDir := cfg.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir %s: %w", dataDir, err)
	}

	logger := logging.NewComponentLogger("Runtime")

	ledger := budget.NewLedger(cfg.Budget, dataDir, logging.NewComponentLogger("Budget"))

	respCache := cache.New(cache.Config{
		MaxSize: cfg.Router.CacheSize,
		TTL:     cfg.Router.CacheTTL,
		Dir:     cfg.Router.CacheDir,
	}, logging.NewLLMLogger("Cache"))

	var local llm.Provider
	if cfg.Local.BaseURL != "" {
		local = llm.NewRetryClient(
			llm.NewLlamaCppClient(cfg.Local, cfg.Router.LocalTimeout),
			archierrors.DefaultRetryConfig(), nil)
	}
	var remote llm.Provider
	if cfg.Remote.APIKey != "" {
		remote = llm.NewRetryClient(
			llm.NewOpenAIClient("remote", cfg.Remote, cfg.Router.RemoteTimeout),
			archierrors.DefaultRetryConfig(), nil)
	}
	if local == nil && remote == nil {
		return nil, fmt.Errorf("no provider configured: set local.base_url or ARCHI_REMOTE_API_KEY")
	}

	rt := router.New(local, remote, respCache, ledger, cfg.Router,
		cfg.Budget.WarningPct, logging.NewLLMLogger("Router"))

	workspaceDir := resolveUnder(cfg.Executor.WorkspaceDir, dataDir, "workspace")
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace dir %s: %w", workspaceDir, err)
	}
	controller, err := safety.NewController(workspaceDir, cfg.Executor.ProjectRoot, cfg.Executor.ProtectedPaths)
	if err != nil {
		return nil, fmt.Errorf("safety controller: %w", err)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterFileTools(registry, controller); err != nil {
		return nil, err
	}
	if err := tools.RegisterWebTools(registry, cfg.Router.RemoteTimeout, cfg.Executor.FetchTruncateBytes); err != nil {
		return nil, err
	}

	exec := executor.New(cfg.Executor, dataDir, registry, controller, logging.NewComponentLogger("Executor"))

	store := goals.NewStore(dataDir, logging.NewComponentLogger("Goals"))
	scheduler := heartbeat.NewScheduler(cfg.Heartbeat, logging.NewComponentLogger("Heartbeat"))
	mon := monitor.New(cfg.Monitoring, "/", logging.NewComponentLogger("Monitor"))

	shortTerm := memory.NewShortTerm(20)
	longTerm := buildLongTerm(cfg, dataDir)

	ag := agent.New(cfg, dataDir, agent.Deps{
		Scheduler: scheduler,
		Monitor:   mon,
		Store:     store,
		Router:    rt,
		ShortTerm: shortTerm,
		LongTerm:  longTerm,
		Tools:     registry,
		Safety:    controller,
	}, logging.NewComponentLogger("Agent"))

	dreams := dream.New(cfg.Dream, scheduler, store, exec, ag.Planner(), logging.NewDreamLogger("Dream"))
	ag.AttachDreams(dreams)

	return &runtime{
		cfg:     cfg,
		dataDir: dataDir,
		agent:   ag,
		ledger:  ledger,
		store:   store,
		router:  rt,
		monitor: mon,
		dreams:  dreams,
		logger:  logger,
	}, nil
}

// buildLongTerm opens vector memory when an embeddings endpoint exists.
// Memory is optional; the agent runs without it.
func buildLongTerm(cfg config.Config, dataDir string) *memory.LongTerm {
	base := cfg.Local.BaseURL
	key := ""
	model := cfg.Local.Model
	if base == "" {
		base = cfg.Remote.BaseURL
		key = cfg.Remote.APIKey
		model = "text-embedding-3-small"
		if key == "" {
			return nil
		}
	}
	embedder, err := memory.NewHTTPEmbedder(memory.EmbedderConfig{
		BaseURL: base,
		APIKey:  key,
		Model:   model,
	})
	if err != nil {
		return nil
	}
	longTerm, err := memory.NewLongTerm(dataDir, embedder, logging.NewComponentLogger("Memory"))
	if err != nil {
		return nil
	}
	return longTerm
}

func (r *runtime) close() {
	r.ledger.Flush()
	r.store.SaveState()
}

func resolveUnder(dir, dataDir, fallback string) string {
	if dir == "" {
		dir = fallback
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(dataDir, dir)
}
