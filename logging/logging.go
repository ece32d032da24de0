// Package logging provides real-time log output for ledger operations.
// The ledger entry is THE durable record of what happened to a task.
// This package provides optional console output for monitoring, derived
// from the same transitions the store persists.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
// This is for real-time monitoring only - audit history lives in the ledger.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	tenantID  string
	traceID   string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		tenantID:  l.tenantID,
		traceID:   l.traceID,
	}
}

// WithTenant returns a new logger scoped to a tenant.
func (l *Logger) WithTenant(tenantID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		tenantID:  tenantID,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		tenantID:  l.tenantID,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var merged map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		merged = fields[0]
	}
	if l.tenantID != "" || l.traceID != "" {
		if merged == nil {
			merged = make(map[string]interface{})
		}
		if l.tenantID != "" {
			merged["tenant"] = l.tenantID
		}
		if l.traceID != "" {
			merged["trace"] = l.traceID
		}
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Transition-derived logging methods ---
// These are called alongside store writes. They provide real-time
// console output without duplicating the ledger's audit data.

// Transition logs a status transition for an entry.
func (l *Logger) Transition(taskID, from, to string) {
	l.Info("transition", map[string]interface{}{
		"task": taskID,
		"from": from,
		"to":   to,
	})
}

// Admitted logs admission of a new entry.
func (l *Logger) Admitted(taskID, idempotencyKey, status string) {
	l.Info("admitted", map[string]interface{}{
		"task":   taskID,
		"key":    idempotencyKey,
		"status": status,
	})
}

// Deduplicated logs an admission that returned an existing entry.
func (l *Logger) Deduplicated(taskID, idempotencyKey string) {
	l.Debug("deduplicated", map[string]interface{}{
		"task": taskID,
		"key":  idempotencyKey,
	})
}

// Enqueued logs a delayed job enqueue.
func (l *Logger) Enqueued(taskID, jobID string, delay time.Duration) {
	l.Debug("enqueued", map[string]interface{}{
		"task":  taskID,
		"job":   jobID,
		"delay": delay.String(),
	})
}

// JobCancelFailed logs a best-effort cancel that did not succeed.
// Cancellation failures are swallowed on state-transition paths, so a
// log line is the only trace they leave.
func (l *Logger) JobCancelFailed(taskID, jobID string, err error) {
	l.Warn("job_cancel_failed", map[string]interface{}{
		"task":  taskID,
		"job":   jobID,
		"error": err.Error(),
	})
}

// Dispatched logs a successful action dispatch.
func (l *Logger) Dispatched(taskID, actionType, subject string) {
	l.Debug("dispatched", map[string]interface{}{
		"task":    taskID,
		"action":  actionType,
		"subject": subject,
	})
}

// ExecutionResult logs the outcome of one execution attempt.
func (l *Logger) ExecutionResult(taskID string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"task":     taskID,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("execution_failed", fields)
	} else {
		l.Info("execution_complete", fields)
	}
}

// RetryScheduled logs a retry decision.
func (l *Logger) RetryScheduled(taskID string, attempt int, delay time.Duration) {
	l.Info("retry_scheduled", map[string]interface{}{
		"task":    taskID,
		"attempt": attempt,
		"delay":   delay.String(),
	})
}
