package executor

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"archi/internal/jsonx"
	"archi/internal/logging"
)

// sourceWriter handles the self-modification family: every write is
// preceded by a timestamped backup and a git checkpoint tag, followed by a
// syntax check with rollback on failure.
type sourceWriter struct {
	projectRoot string
	backupDir   string
	logger      logging.Logger
	now         func() time.Time
}

func newSourceWriter(projectRoot, backupDir string, logger logging.Logger) *sourceWriter {
	return &sourceWriter{
		projectRoot: projectRoot,
		backupDir:   backupDir,
		logger:      logging.OrNop(logger),
		now:         time.Now,
	}
}

// write replaces abs with content. Returns the backup path used, if any.
func (w *sourceWriter) write(abs, content string) (string, error) {
	backupPath, hadOriginal := w.backup(abs)
	tag := w.gitCheckpoint()

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return backupPath, fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return backupPath, fmt.Errorf("write: %w", err)
	}

	if err := checkSyntax(abs, content); err != nil {
		w.logger.Warn("Syntax check failed for %s, rolling back: %v", abs, err)
		w.rollback(abs, backupPath, hadOriginal, tag)
		return backupPath, fmt.Errorf("syntax check failed: %w", err)
	}
	return backupPath, nil
}

// backup copies the current file into the backup dir as
// <flattened_path>.<timestamp>.bak. Missing originals (new files) are fine.
func (w *sourceWriter) backup(abs string) (string, bool) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false
	}
	if err := os.MkdirAll(w.backupDir, 0o755); err != nil {
		w.logger.Warn("Backup dir failed: %v", err)
		return "", true
	}
	rel, rerr := filepath.Rel(w.projectRoot, abs)
	if rerr != nil {
		rel = filepath.Base(abs)
	}
	flattened := strings.ReplaceAll(rel, string(filepath.Separator), "_")
	backupPath := filepath.Join(w.backupDir, fmt.Sprintf("%s.%d.bak", flattened, w.now().Unix()))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		w.logger.Warn("Backup write failed: %v", err)
		return "", true
	}
	return backupPath, true
}

// gitCheckpoint tags the current HEAD. Best effort: a project without git
// simply gets no tag.
func (w *sourceWriter) gitCheckpoint() string {
	tag := fmt.Sprintf("archi-checkpoint-%d", w.now().UnixNano())
	cmd := exec.Command("git", "tag", tag)
	cmd.Dir = w.projectRoot
	if err := cmd.Run(); err != nil {
		w.logger.Debug("Git checkpoint skipped: %v", err)
		return ""
	}
	return tag
}

func (w *sourceWriter) rollback(abs, backupPath string, hadOriginal bool, tag string) {
	if hadOriginal && backupPath != "" {
		if data, err := os.ReadFile(backupPath); err == nil {
			if err := os.WriteFile(abs, data, 0o644); err != nil {
				w.logger.Error("Rollback write failed for %s: %v", abs, err)
			}
			return
		}
	}
	if !hadOriginal {
		os.Remove(abs)
	}
	if tag != "" {
		// The tag stays; it marks the last known-good tree for manual
		// recovery.
		w.logger.Info("Rolled back %s (checkpoint tag %s)", abs, tag)
	}
}

// checkSyntax validates program sources: Go files parse with go/parser,
// JSON files must be valid JSON. Other formats pass.
func checkSyntax(path, content string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		fset := token.NewFileSet()
		_, err := parser.ParseFile(fset, path, content, parser.AllErrors)
		return err
	case ".json":
		if !jsonx.Valid([]byte(content)) {
			return fmt.Errorf("invalid JSON")
		}
		return nil
	default:
		return nil
	}
}
