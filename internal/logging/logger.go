// Package logging provides config-driven categorized logging for the sandbox.
// Every subsystem logs through a named zap logger obtained with Get; before
// Initialize is called all loggers are no-ops so packages can log freely in
// tests.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config loading
	CategorySupervisor Category = "supervisor" // API server process lifecycle
	CategoryHarness    Category = "harness"    // Check execution
	CategoryExecution  Category = "execution"  // Execution service requests
	CategoryCompiler   Category = "compiler"   // Local function compilation
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console, json
	File   string // empty means stderr
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize builds the root logger. It may be called more than once; each
// call replaces the previous logger.
func Initialize(cfg Config) error {
	zcfg := zap.NewProductionConfig()
	zcfg.Sampling = nil
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch strings.ToLower(cfg.Format) {
	case "", "console", "text":
		zcfg.Encoding = "console"
	case "json":
		zcfg.Encoding = "json"
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		zcfg.OutputPaths = []string{cfg.File}
	}

	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	SetLogger(logger)
	return nil
}

// SetLogger replaces the root logger. Tests use it to install an observer
// or a nop logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = make(map[Category]*zap.SugaredLogger)
}

// Get returns (or creates) the logger for the given category.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.Named(string(category)).Sugar()
	loggers[category] = l
	return l
}

// Sync flushes the root logger. Errors from syncing a terminal are ignored.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Infof(format, args...)
}

// Supervisor logs to the supervisor category
func Supervisor(format string, args ...interface{}) {
	Get(CategorySupervisor).Infof(format, args...)
}

// SupervisorDebug logs debug to the supervisor category
func SupervisorDebug(format string, args ...interface{}) {
	Get(CategorySupervisor).Debugf(format, args...)
}

// SupervisorWarn logs a warning to the supervisor category
func SupervisorWarn(format string, args ...interface{}) {
	Get(CategorySupervisor).Warnf(format, args...)
}

// Harness logs to the harness category
func Harness(format string, args ...interface{}) {
	Get(CategoryHarness).Infof(format, args...)
}

// HarnessDebug logs debug to the harness category
func HarnessDebug(format string, args ...interface{}) {
	Get(CategoryHarness).Debugf(format, args...)
}

// ExecutionDebug logs debug to the execution category
func ExecutionDebug(format string, args ...interface{}) {
	Get(CategoryExecution).Debugf(format, args...)
}

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer starts timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Infof("%s completed in %v", t.op, elapsed)
	return elapsed
}
