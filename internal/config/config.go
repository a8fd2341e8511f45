// Package config defines the agent's declarative configuration surface:
// typed defaults, a YAML file overlay, and an ARCHI_* environment overlay.
// Configuration problems are never fatal; bad values are logged and the
// default is kept.
package config

import (
	"time"
)

// ModelPrice holds USD prices per million tokens for one model.
type ModelPrice struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// BudgetConfig bounds paid-provider spend.
type BudgetConfig struct {
	DailyHardStopUSD   float64               `yaml:"daily_hard_stop_usd"`
	MonthlyHardStopUSD float64               `yaml:"monthly_hard_stop_usd"`
	WarningPct         float64               `yaml:"warning_pct"` // fraction of daily budget at which simple-query escalation is suppressed
	FlushInterval      time.Duration         `yaml:"flush_interval"`
	Prices             map[string]ModelPrice `yaml:"prices"` // "provider/model" -> price
}

// MonitoringConfig holds system health thresholds (percentages).
type MonitoringConfig struct {
	CPUThreshold    float64 `yaml:"cpu_threshold"`
	MemoryThreshold float64 `yaml:"memory_threshold"`
	DiskThreshold   float64 `yaml:"disk_threshold"`
	TempThreshold   float64 `yaml:"temp_threshold"` // degrees C; 0 disables
	ThrottleFactor  float64 `yaml:"throttle_factor"`
}

// TimeWindow is a wall-clock hour range; Start==End disables the window.
// Ranges may wrap midnight (e.g. 23..7).
type TimeWindow struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Contains reports whether hour falls inside the window.
func (w TimeWindow) Contains(hour int) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// HeartbeatConfig drives the three-mode activity scheduler.
type HeartbeatConfig struct {
	CommandCooldown    time.Duration `yaml:"command_cooldown"`
	CommandDuration    time.Duration `yaml:"command_duration"`
	MonitoringCooldown time.Duration `yaml:"monitoring_cooldown"`
	IdleThreshold      time.Duration `yaml:"idle_threshold"`
	DeepCooldown       time.Duration `yaml:"deep_cooldown"`
	MaxCooldown        time.Duration `yaml:"max_cooldown"`

	NightWindow   TimeWindow    `yaml:"night_window"`
	NightCooldown time.Duration `yaml:"night_cooldown"`

	WorkHours          TimeWindow `yaml:"work_hours"`
	WorkMultiplier     float64    `yaml:"work_multiplier"`
	EveningHours       TimeWindow `yaml:"evening_hours"`
	EveningMultiplier  float64    `yaml:"evening_multiplier"`
}

// DreamConfig drives the idle-triggered dream cycle.
type DreamConfig struct {
	CheckInterval   time.Duration `yaml:"check_interval"`
	IdleThreshold   time.Duration `yaml:"idle_threshold"`
	TasksPerCycle   int           `yaml:"tasks_per_cycle"`
	HistorySize     int           `yaml:"history_size"`
}

// RouterConfig tunes complexity classification and confidence thresholds.
type RouterConfig struct {
	CacheSize            int           `yaml:"cache_size"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	CacheDir             string        `yaml:"cache_dir"` // non-empty enables the durable tier
	ConfidenceThreshold  float64       `yaml:"confidence_threshold"`
	ShortQueryThreshold  float64       `yaml:"short_query_threshold"`
	LocalTimeout         time.Duration `yaml:"local_timeout"`
	RemoteTimeout        time.Duration `yaml:"remote_timeout"`
}

// ExecutorConfig bounds plan execution.
type ExecutorConfig struct {
	MaxSteps           int           `yaml:"max_steps"`
	MaxStepsSource     int           `yaml:"max_steps_source"` // for source-modification tasks
	StateDir           string        `yaml:"state_dir"`
	StateStaleAfter    time.Duration `yaml:"state_stale_after"`
	WorkspaceDir       string        `yaml:"workspace_dir"`
	ProjectRoot        string        `yaml:"project_root"`
	BackupDir          string        `yaml:"backup_dir"`
	ProtectedPaths     []string      `yaml:"protected_paths"`
	VerifyResults      bool          `yaml:"verify_results"`
	FetchTruncateBytes int           `yaml:"fetch_truncate_bytes"`
}

// PortsConfig lists the listening ports of the interaction surfaces.
type PortsConfig struct {
	Dashboard int `yaml:"dashboard"`
	WebChat   int `yaml:"web_chat"`
}

// BrowserConfig holds timeouts for browser-driven tools.
type BrowserConfig struct {
	DefaultTimeoutMs    int `yaml:"default_timeout_ms"`
	NavigationTimeoutMs int `yaml:"navigation_timeout_ms"`
}

// ProviderConfig describes one completion provider endpoint.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// Config is the root configuration object.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Local  ProviderConfig `yaml:"local"`
	Remote ProviderConfig `yaml:"remote"`

	Budget     BudgetConfig     `yaml:"budget"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Dream      DreamConfig      `yaml:"dream"`
	Router     RouterConfig     `yaml:"router"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Ports      PortsConfig      `yaml:"ports"`
	Browser    BrowserConfig    `yaml:"browser"`

	HeartbeatTriggerInterval time.Duration `yaml:"heartbeat_trigger_interval"`
	EmergencyStopFile        string        `yaml:"emergency_stop_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: "~/.archi",
		Local: ProviderConfig{
			BaseURL: "http://127.0.0.1:8082/v1",
			Model:   "local-gguf",
		},
		Remote: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Budget: BudgetConfig{
			DailyHardStopUSD:   1.00,
			MonthlyHardStopUSD: 20.00,
			WarningPct:         0.8,
			FlushInterval:      30 * time.Second,
			Prices: map[string]ModelPrice{
				"remote/gpt-4o-mini": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
				"remote/gpt-4o":      {InputPerMTok: 2.50, OutputPerMTok: 10.00},
			},
		},
		Monitoring: MonitoringConfig{
			CPUThreshold:    90,
			MemoryThreshold: 90,
			DiskThreshold:   95,
			TempThreshold:   0,
			ThrottleFactor:  5,
		},
		Heartbeat: HeartbeatConfig{
			CommandCooldown:    10 * time.Second,
			CommandDuration:    120 * time.Second,
			MonitoringCooldown: 60 * time.Second,
			IdleThreshold:      600 * time.Second,
			DeepCooldown:       600 * time.Second,
			MaxCooldown:        1800 * time.Second,
			NightWindow:        TimeWindow{StartHour: 23, EndHour: 7},
			NightCooldown:      1800 * time.Second,
			WorkHours:          TimeWindow{StartHour: 9, EndHour: 18},
			WorkMultiplier:     1.0,
			EveningHours:       TimeWindow{StartHour: 18, EndHour: 23},
			EveningMultiplier:  1.5,
		},
		Dream: DreamConfig{
			CheckInterval: 30 * time.Second,
			IdleThreshold: 300 * time.Second,
			TasksPerCycle: 3,
			HistorySize:   50,
		},
		Router: RouterConfig{
			CacheSize:           256,
			CacheTTL:            1 * time.Hour,
			ConfidenceThreshold: 0.7,
			ShortQueryThreshold: 0.5,
			LocalTimeout:        120 * time.Second,
			RemoteTimeout:       60 * time.Second,
		},
		Executor: ExecutorConfig{
			MaxSteps:           20,
			MaxStepsSource:     40,
			StateDir:           "plan_state",
			StateStaleAfter:    24 * time.Hour,
			WorkspaceDir:       "workspace",
			BackupDir:          "source_backups",
			VerifyResults:      false,
			FetchTruncateBytes: 20000,
		},
		Ports: PortsConfig{
			Dashboard: 8765,
			WebChat:   8766,
		},
		Browser: BrowserConfig{
			DefaultTimeoutMs:    30000,
			NavigationTimeoutMs: 60000,
		},
		HeartbeatTriggerInterval: 60 * time.Second,
		EmergencyStopFile:        "EMERGENCY_STOP",
	}
}
