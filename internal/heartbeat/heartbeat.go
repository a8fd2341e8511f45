// Package heartbeat decides how often the agent loop wakes up. The
// scheduler tracks the last user interaction and the last system event,
// derives one of three modes from the idle time, then shapes the cooldown
// with the night window and time-of-day multipliers.
package heartbeat

import (
	"sync"
	"time"

	"archi/internal/config"
	"archi/internal/logging"
	"archi/internal/metrics"
)

// Mode is the scheduler's activity regime.
type Mode string

const (
	// ModeCommand follows a recent user interaction: short cooldowns so
	// replies land fast.
	ModeCommand Mode = "command"
	// ModeMonitoring is the default regime when nobody is talking.
	ModeMonitoring Mode = "monitoring"
	// ModeDeepSleep kicks in after a long idle stretch.
	ModeDeepSleep Mode = "deep_sleep"
)

// minCooldown is the floor below which the loop would spin.
const minCooldown = 100 * time.Millisecond

// Scheduler derives the agent loop's wake cadence.
type Scheduler struct {
	cfg config.HeartbeatConfig

	mu           sync.Mutex
	lastActivity time.Time
	lastEvent    time.Time
	lastMode     Mode

	now    func() time.Time
	logger logging.Logger
}

// NewScheduler starts in monitoring mode with the idle clock at zero.
func NewScheduler(cfg config.HeartbeatConfig, logger logging.Logger) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		now:    time.Now,
		logger: logging.OrNop(logger),
	}
	s.lastActivity = s.now()
	s.lastEvent = s.lastActivity
	return s
}

// SetClock replaces the clock (tests). Resets the idle baselines.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.lastActivity = now()
	s.lastEvent = s.lastActivity
}

// MarkActivity records a user interaction, switching to command mode.
func (s *Scheduler) MarkActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
}

// LastActivity returns the time of the most recent interaction.
func (s *Scheduler) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// MarkSystemEvent records internally generated activity (trigger
// dispatch, housekeeping). It defers the demotion to deep sleep without
// forcing command mode.
func (s *Scheduler) MarkSystemEvent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvent = s.now()
}

// IdleFor returns how long the agent has been without interaction.
func (s *Scheduler) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActivity)
}

// Mode returns the current regime. Command follows the last user
// interaction; outside command, the non-command idle time counts system
// events too, so recent internal work keeps the agent in monitoring.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeLocked(s.now())
}

func (s *Scheduler) modeLocked(now time.Time) Mode {
	sinceUser := now.Sub(s.lastActivity)
	if sinceUser < s.cfg.CommandDuration {
		return ModeCommand
	}
	idle := sinceUser
	if sinceEvent := now.Sub(s.lastEvent); sinceEvent < idle {
		idle = sinceEvent
	}
	if idle >= s.cfg.IdleThreshold {
		return ModeDeepSleep
	}
	return ModeMonitoring
}

// Cooldown computes the next sleep interval. Command mode always wins so
// a night-time user still gets fast replies; outside command mode the
// night window overrides everything, then the daytime multiplier scales
// the base cooldown. The result is clamped to [minCooldown, MaxCooldown].
func (s *Scheduler) Cooldown() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	mode := s.modeLocked(now)
	cooldown := s.cooldownFor(mode, now)

	if mode != s.lastMode {
		s.logger.Info("Heartbeat mode %s -> %s (cooldown %v)", s.lastMode, mode, cooldown)
		if s.lastMode != "" {
			metrics.SchedulerMode.WithLabelValues(string(s.lastMode)).Set(0)
		}
		metrics.SchedulerMode.WithLabelValues(string(mode)).Set(1)
		s.lastMode = mode
	}
	return cooldown
}

func (s *Scheduler) cooldownFor(mode Mode, now time.Time) time.Duration {
	hour := now.Hour()

	if mode == ModeCommand {
		return clampCooldown(s.cfg.CommandCooldown, s.cfg.MaxCooldown)
	}

	if s.cfg.NightWindow.Contains(hour) {
		return clampCooldown(s.cfg.NightCooldown, s.cfg.MaxCooldown)
	}

	base := s.cfg.MonitoringCooldown
	if mode == ModeDeepSleep {
		base = s.cfg.DeepCooldown
	}

	multiplier := 1.0
	switch {
	case s.cfg.WorkHours.Contains(hour) && s.cfg.WorkMultiplier > 0:
		multiplier = s.cfg.WorkMultiplier
	case s.cfg.EveningHours.Contains(hour) && s.cfg.EveningMultiplier > 0:
		multiplier = s.cfg.EveningMultiplier
	}

	return clampCooldown(time.Duration(float64(base)*multiplier), s.cfg.MaxCooldown)
}

func clampCooldown(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		d = max
	}
	if d < minCooldown {
		d = minCooldown
	}
	return d
}
