// Package logging provides category-scoped file loggers for the agent.
//
// Log lines go to per-category files under the archi log directory
// (ARCHI_LOG_DIR, default ~/.archi/logs). Warnings and errors are also
// echoed to stderr so a foreground `archi run` stays observable.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const logDirEnvVar = "ARCHI_LOG_DIR"

// Logger defines the minimal printf-style logging contract every component
// depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Category selects the log file a logger writes to.
type Category string

const (
	CategoryService Category = "service"
	CategoryLLM     Category = "llm"
	CategoryDream   Category = "dream"
)

var (
	categoryMu      sync.Mutex
	categoryLoggers = make(map[Category]*FileLogger)

	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
)

// FileLogger writes formatted lines to a category log file.
type FileLogger struct {
	file      *os.File
	out       *log.Logger
	level     Level
	mu        sync.Mutex
	component string
	category  Category
	echo      bool
}

// NewComponentLogger returns a service-category logger scoped to a component.
func NewComponentLogger(component string) *FileLogger {
	return NewCategorizedLogger(CategoryService, component)
}

// NewLLMLogger returns a logger that writes to the dedicated LLM log file.
func NewLLMLogger(component string) *FileLogger {
	return NewCategorizedLogger(CategoryLLM, component)
}

// NewDreamLogger returns a logger that writes to the dream-cycle log file.
func NewDreamLogger(component string) *FileLogger {
	return NewCategorizedLogger(CategoryDream, component)
}

// NewCategorizedLogger returns a logger for the given category and component.
// Loggers of the same category share one underlying file.
func NewCategorizedLogger(category Category, component string) *FileLogger {
	base := getOrCreateCategoryLogger(category)
	return &FileLogger{
		file:      base.file,
		out:       base.out,
		level:     base.level,
		component: component,
		category:  category,
		echo:      base.echo,
	}
}

func getOrCreateCategoryLogger(category Category) *FileLogger {
	categoryMu.Lock()
	defer categoryMu.Unlock()

	if logger, ok := categoryLoggers[category]; ok {
		return logger
	}

	l := &FileLogger{level: LevelDebug, category: category, echo: true}
	dir, err := resolveLogDirectory()
	if err == nil {
		err = os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		log.Printf("logging: cannot prepare log directory: %v", err)
	} else {
		path := filepath.Join(dir, logFileName(category))
		file, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if ferr != nil {
			log.Printf("logging: cannot open %s: %v", path, ferr)
		} else {
			l.file = file
			l.out = log.New(file, "", 0)
		}
	}
	categoryLoggers[category] = l
	return l
}

func resolveLogDirectory() (string, error) {
	if override := strings.TrimSpace(os.Getenv(logDirEnvVar)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".archi", "logs"), nil
}

func logFileName(category Category) string {
	switch category {
	case CategoryLLM:
		return "archi-llm.log"
	case CategoryDream:
		return "archi-dream.log"
	default:
		return "archi-service.log"
	}
}

// SetLevel sets the minimum level written by this logger.
func (l *FileLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the underlying log file.
func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *FileLogger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	component := l.component
	if component == "" {
		component = "ARCHI"
	}
	category := strings.ToUpper(string(l.category))

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] [%s] %s:%d - %s",
		time.Now().Format("2006-01-02 15:04:05"), level, category, component, file, line, message)

	if l.out != nil {
		l.out.Println(logLine)
	}
	if l.echo {
		switch level {
		case LevelWarn:
			warnColor.Fprintf(os.Stderr, "[%s] %s\n", component, message)
		case LevelError:
			errorColor.Fprintf(os.Stderr, "[%s] %s\n", component, message)
		}
	}
}

func (l *FileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *FileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *FileLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *FileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
