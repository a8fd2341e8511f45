package agent

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"archi/internal/jsonx"
	"archi/internal/logging"
)

// actionRecord is one line of the append-only action log.
type actionRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// actionLog appends JSONL records under the data dir. Logging failures
// never interfere with the loop.
type actionLog struct {
	mu     sync.Mutex
	path   string
	logger logging.Logger
	now    func() time.Time
}

func newActionLog(dataDir string, logger logging.Logger) *actionLog {
	return &actionLog{
		path:   filepath.Join(dataDir, "action_log.jsonl"),
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

func (l *actionLog) record(kind string, detail map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := jsonx.Marshal(actionRecord{Timestamp: l.now(), Kind: kind, Detail: detail})
	if err != nil {
		l.logger.Warn("Action log marshal failed: %v", err)
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Warn("Action log open failed: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		l.logger.Warn("Action log write failed: %v", err)
	}
}

// Tail returns up to n most recent records, oldest first.
func (l *actionLog) Tail(n int) []actionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var records []actionRecord
	for _, line := range splitLines(data) {
		var rec actionRecord
		if err := jsonx.Unmarshal(line, &rec); err == nil {
			records = append(records, rec)
		}
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
