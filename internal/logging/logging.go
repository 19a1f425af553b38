// Package logging provides config-driven categorized logging for starchat.
// Logs are written to <data-dir>/logs/ with a separate file per category.
// When debug mode is off, every call is a silent no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and wiring
	CategorySession  Category = "session"  // Session orchestration
	CategoryExtract  Category = "extract"  // Tolerant JSON extraction
	CategoryPrompt   Category = "prompt"   // Prompt assembly
	CategoryGateway  Category = "gateway"  // Inference guard + LLM clients
	CategoryDispatch Category = "dispatch" // Action dispatch state machine
	CategoryStore    Category = "store"    // SQLite persistence
	CategoryRelation Category = "relation" // Relationship/memory side effects
	CategoryServer   Category = "server"   // HTTP surface
	CategoryRender   Category = "render"   // Renderer collaborator
)

// Logger wraps a zap sugared logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu       sync.RWMutex
	loggers  = make(map[Category]*Logger)
	logsDir  string
	enabled  bool
	minLevel zapcore.Level = zapcore.DebugLevel
	nop                    = &Logger{sugar: zap.NewNop().Sugar()}
)

// Initialize sets up the logging directory. dataDir is the starchat data
// directory; logs land in dataDir/logs. With debug=false nothing is written.
func Initialize(dataDir string, debug bool, level string) error {
	mu.Lock()
	defer mu.Unlock()

	enabled = debug
	switch level {
	case "info":
		minLevel = zapcore.InfoLevel
	case "warn":
		minLevel = zapcore.WarnLevel
	case "error":
		minLevel = zapcore.ErrorLevel
	default:
		minLevel = zapcore.DebugLevel
	}

	if !enabled {
		return nil
	}

	logsDir = filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := get(CategoryBoot)
	boot.Info("=== starchat logging initialized ===")
	boot.Info("logs directory: %s level: %s", logsDir, minLevel)
	return nil
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	mu.RLock()
	if !enabled {
		mu.RUnlock()
		return nop
	}
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	return get(cat)
}

// get creates the category logger. Caller must hold mu.
func get(cat Category) *Logger {
	if l, ok := loggers[cat]; ok {
		return l
	}

	path := filepath.Join(logsDir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] cannot open %s: %v\n", path, err)
		return nop
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(f),
		minLevel,
	)
	l := &Logger{
		category: cat,
		sugar:    zap.New(core).Sugar().Named(string(cat)),
	}
	loggers[cat] = l
	return l
}

// Debug logs a debug-level message (printf style).
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an info-level message (printf style).
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning (printf style).
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error (printf style).
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Sync flushes all category loggers. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	for _, l := range loggers {
		_ = l.sugar.Sync()
	}
}

// Convenience helpers mirroring the per-category call sites used throughout
// the codebase. Info level unless the Debug variant is used.

func Session(format string, args ...interface{})  { Get(CategorySession).Info(format, args...) }
func Extract(format string, args ...interface{})  { Get(CategoryExtract).Info(format, args...) }
func Prompt(format string, args ...interface{})   { Get(CategoryPrompt).Info(format, args...) }
func Gateway(format string, args ...interface{})  { Get(CategoryGateway).Info(format, args...) }
func Dispatch(format string, args ...interface{}) { Get(CategoryDispatch).Info(format, args...) }
func Store(format string, args ...interface{})    { Get(CategoryStore).Info(format, args...) }
func Relation(format string, args ...interface{}) { Get(CategoryRelation).Info(format, args...) }

func SessionDebug(format string, args ...interface{})  { Get(CategorySession).Debug(format, args...) }
func ExtractDebug(format string, args ...interface{})  { Get(CategoryExtract).Debug(format, args...) }
func PromptDebug(format string, args ...interface{})   { Get(CategoryPrompt).Debug(format, args...) }
func GatewayDebug(format string, args ...interface{})  { Get(CategoryGateway).Debug(format, args...) }
func DispatchDebug(format string, args ...interface{}) { Get(CategoryDispatch).Debug(format, args...) }
func StoreDebug(format string, args ...interface{})    { Get(CategoryStore).Debug(format, args...) }
func RelationDebug(format string, args ...interface{}) { Get(CategoryRelation).Debug(format, args...) }
