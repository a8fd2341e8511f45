// Package monitor samples host health from /proc and sysfs. The agent
// loop throttles its cadence while any threshold is exceeded.
package monitor

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"archi/internal/config"
	"archi/internal/logging"
)

// Snapshot is one health sample. Percent values are 0..100.
type Snapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	TempCelsius   float64   `json:"temp_celsius"`
	Healthy       bool      `json:"healthy"`
	Reasons       []string  `json:"reasons,omitempty"`
	SampledAt     time.Time `json:"sampled_at"`
}

type cpuSample struct {
	idle  uint64
	total uint64
}

// Monitor reads host metrics and judges them against the configured
// thresholds. CPU usage is a delta between consecutive samples, so the
// first call reports 0.
type Monitor struct {
	cfg      config.MonitoringConfig
	diskPath string
	logger   logging.Logger

	mu      sync.Mutex
	lastCPU cpuSample
}

func New(cfg config.MonitoringConfig, diskPath string, logger logging.Logger) *Monitor {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Monitor{cfg: cfg, diskPath: diskPath, logger: logging.OrNop(logger)}
}

// Sample reads all metrics and evaluates health. Unreadable metrics
// report as zero rather than failing the sample.
func (m *Monitor) Sample() Snapshot {
	snap := Snapshot{
		CPUPercent:    m.cpuPercent(),
		MemoryPercent: memoryPercent(),
		DiskPercent:   diskPercent(m.diskPath),
		TempCelsius:   temperature(),
		SampledAt:     time.Now(),
	}

	if m.cfg.CPUThreshold > 0 && snap.CPUPercent > m.cfg.CPUThreshold {
		snap.Reasons = append(snap.Reasons, "cpu")
	}
	if m.cfg.MemoryThreshold > 0 && snap.MemoryPercent > m.cfg.MemoryThreshold {
		snap.Reasons = append(snap.Reasons, "memory")
	}
	if m.cfg.DiskThreshold > 0 && snap.DiskPercent > m.cfg.DiskThreshold {
		snap.Reasons = append(snap.Reasons, "disk")
	}
	if m.cfg.TempThreshold > 0 && snap.TempCelsius > m.cfg.TempThreshold {
		snap.Reasons = append(snap.Reasons, "temperature")
	}
	snap.Healthy = len(snap.Reasons) == 0
	if !snap.Healthy {
		m.logger.Warn("Health degraded: %s (cpu %.0f%% mem %.0f%% disk %.0f%%)",
			strings.Join(snap.Reasons, ","), snap.CPUPercent, snap.MemoryPercent, snap.DiskPercent)
	}
	return snap
}

// ThrottleFactor is the cadence multiplier applied while unhealthy.
func (m *Monitor) ThrottleFactor() float64 {
	if m.cfg.ThrottleFactor <= 1 {
		return 5
	}
	return m.cfg.ThrottleFactor
}

// cpuPercent computes usage from the aggregate line of /proc/stat.
func (m *Monitor) cpuPercent() float64 {
	current, ok := readCPUSample()
	if !ok {
		return 0
	}
	m.mu.Lock()
	prev := m.lastCPU
	m.lastCPU = current
	m.mu.Unlock()

	if prev.total == 0 || current.total <= prev.total {
		return 0
	}
	totalDelta := float64(current.total - prev.total)
	idleDelta := float64(current.idle - prev.idle)
	return (1 - idleDelta/totalDelta) * 100
}

func readCPUSample() (cpuSample, bool) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuSample{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var sample cpuSample
		for i, field := range fields[1:] {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				continue
			}
			sample.total += v
			// idle is field 4, iowait field 5
			if i == 3 || i == 4 {
				sample.idle += v
			}
		}
		return sample, sample.total > 0
	}
	return cpuSample{}, false
}

func memoryPercent() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if total == 0 {
		return 0
	}
	return (1 - available/total) * 100
}

func diskPercent(path string) float64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil || stat.Blocks == 0 {
		return 0
	}
	used := float64(stat.Blocks - stat.Bavail)
	return used / float64(stat.Blocks) * 100
}

// temperature reads the first thermal zone, in millidegrees.
func temperature() float64 {
	data, err := os.ReadFile("/sys/class/thermal/thermal_zone0/temp")
	if err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0
	}
	return v / 1000
}
