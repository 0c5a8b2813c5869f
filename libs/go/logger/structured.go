package logger

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogComponent represents different relay components for filtering
type LogComponent string

const (
	ComponentAPI        LogComponent = "api"
	ComponentRelay      LogComponent = "relay"
	ComponentAuthz      LogComponent = "authz"
	ComponentQuorum     LogComponent = "quorum"
	ComponentChain      LogComponent = "chain"
	ComponentSigner     LogComponent = "signer"
	ComponentBroadcast  LogComponent = "broadcast"
	ComponentSecrets    LogComponent = "secrets"
	ComponentRegistry   LogComponent = "registry"
	ComponentAudit      LogComponent = "audit"
	ComponentMiddleware LogComponent = "middleware"
	ComponentServer     LogComponent = "server"
	ComponentWorker     LogComponent = "worker"
)

// LogContext holds structured context information for logs
type LogContext struct {
	InvocationID  string
	CorrelationID string
	Action        string
	Actor         string
	Peer          int
	Component     LogComponent
	Operation     string
	Duration      time.Duration
	Fields        map[string]interface{}
}

// StructuredLogger provides enhanced logging with structured context
type StructuredLogger struct {
	logger    *zap.Logger
	component LogComponent
	context   LogContext
}

// NewStructuredLogger creates a new structured logger for a specific component
func NewStructuredLogger(component LogComponent) *StructuredLogger {
	return NewStructuredLoggerWith(Log, component)
}

// NewStructuredLoggerWith builds a structured logger on top of an explicit zap logger.
func NewStructuredLoggerWith(base *zap.Logger, component LogComponent) *StructuredLogger {
	return &StructuredLogger{
		logger:    Or(base),
		component: component,
		context:   LogContext{Component: component, Fields: make(map[string]interface{})},
	}
}

// WithInvocation scopes the logger to one relay invocation and execution peer
func (sl *StructuredLogger) WithInvocation(invocationID string, peer int) *StructuredLogger {
	newLogger := sl.clone()
	newLogger.context.InvocationID = invocationID
	newLogger.context.Peer = peer
	return newLogger
}

// WithAction adds the action name and actor address to the log context
func (sl *StructuredLogger) WithAction(action, actor string) *StructuredLogger {
	newLogger := sl.clone()
	newLogger.context.Action = action
	newLogger.context.Actor = actor
	return newLogger
}

// WithCorrelationID adds correlation ID to the log context
func (sl *StructuredLogger) WithCorrelationID(correlationID string) *StructuredLogger {
	newLogger := sl.clone()
	newLogger.context.CorrelationID = correlationID
	return newLogger
}

// WithField adds a field to the log context
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	newLogger := sl.clone()
	newLogger.context.Fields[key] = value
	return newLogger
}

// WithOperation adds operation name to the log context
func (sl *StructuredLogger) WithOperation(operation string) *StructuredLogger {
	newLogger := sl.clone()
	newLogger.context.Operation = operation
	return newLogger
}

// WithDuration adds duration to the log context
func (sl *StructuredLogger) WithDuration(duration time.Duration) *StructuredLogger {
	newLogger := sl.clone()
	newLogger.context.Duration = duration
	return newLogger
}

// clone creates a copy of the structured logger
func (sl *StructuredLogger) clone() *StructuredLogger {
	newFields := make(map[string]interface{}, len(sl.context.Fields))
	for k, v := range sl.context.Fields {
		newFields[k] = v
	}

	ctx := sl.context
	ctx.Fields = newFields
	return &StructuredLogger{
		logger:    sl.logger,
		component: sl.component,
		context:   ctx,
	}
}

// buildFields creates zap fields from the log context
func (sl *StructuredLogger) buildFields() []zapcore.Field {
	fields := make([]zapcore.Field, 0, 8+len(sl.context.Fields))

	if sl.context.Component != "" {
		fields = append(fields, zap.String("component", string(sl.context.Component)))
	}
	if sl.context.InvocationID != "" {
		fields = append(fields, zap.String("invocation_id", sl.context.InvocationID), zap.Int("peer", sl.context.Peer))
	}
	if sl.context.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", sl.context.CorrelationID))
	}
	if sl.context.Action != "" {
		fields = append(fields, zap.String("action", sl.context.Action))
	}
	if sl.context.Actor != "" {
		fields = append(fields, zap.String("actor", sl.context.Actor))
	}
	if sl.context.Operation != "" {
		fields = append(fields, zap.String("operation", sl.context.Operation))
	}
	if sl.context.Duration > 0 {
		fields = append(fields, zap.Duration("duration", sl.context.Duration))
	}

	for key, value := range sl.context.Fields {
		fields = append(fields, zap.Any(key, value))
	}

	return fields
}

// Debug logs a debug message with structured context
func (sl *StructuredLogger) Debug(msg string) {
	sl.logger.Debug(msg, sl.buildFields()...)
}

// Info logs an info message with structured context
func (sl *StructuredLogger) Info(msg string) {
	sl.logger.Info(msg, sl.buildFields()...)
}

// Warn logs a warning message with structured context
func (sl *StructuredLogger) Warn(msg string) {
	sl.logger.Warn(msg, sl.buildFields()...)
}

// Error logs an error message with structured context
func (sl *StructuredLogger) Error(msg string, err error) {
	fields := sl.buildFields()
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	sl.logger.Error(msg, fields...)
}

// LogOperation logs the start and end of an operation with timing
func (sl *StructuredLogger) LogOperation(operation string, fn func() error) error {
	start := time.Now()
	opLogger := sl.WithOperation(operation)

	opLogger.Debug("Operation started")

	err := fn()
	finalLogger := opLogger.WithDuration(time.Since(start))

	if err != nil {
		finalLogger.Error("Operation failed", err)
	} else {
		finalLogger.Info("Operation completed")
	}

	return err
}
