package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// ErrorObject is emitted only for error logs.
type ErrorObject struct {
	Msg   string `json:"msg"`
	Stack string `json:"stack,omitempty"`
}

// LogEntry is the single-line JSON format written to the sink.
type LogEntry struct {
	Timestamp     string       `json:"timestamp"`                // RFC 3339 UTC
	Level         string       `json:"level"`                    // DEBUG | INFO | WARN | ERROR
	Service       string       `json:"service"`                  // e.g. broker-service
	Action        string       `json:"action"`                   // event name, e.g. taxi_auth_success
	Message       string       `json:"message"`                  // human-readable description
	Hostname      string       `json:"hostname"`                 // service hostname
	RequestID     string       `json:"request_id,omitempty"`     // correlation ID
	ReservationID string       `json:"reservation_id,omitempty"` // reservation in scope
	Plate         string       `json:"patente,omitempty"`        // vehicle in scope
	Details       any          `json:"details,omitempty"`        // extra fields (map or struct)
	Error         *ErrorObject `json:"error,omitempty"`
}

// Logger writes structured JSON lines, one per event.
type Logger struct {
	service  string
	hostname string
	debug    bool

	mu  sync.Mutex
	out io.Writer
}

// New creates a structured logger for the given service writing to stdout.
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

// NewWithWriter creates a structured logger writing to w.
func NewWithWriter(service string, w io.Writer) *Logger {
	hn, err := os.Hostname()
	if err != nil || strings.TrimSpace(hn) == "" {
		hn = "unknown-hostname"
	}
	if strings.TrimSpace(service) == "" {
		service = "unknown-service"
	}
	return &Logger{service: service, hostname: hn, debug: true, out: w}
}

// SetDebug toggles DEBUG output.
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = enabled
}

func (l *Logger) emit(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Level == "DEBUG" && !l.debug {
		return
	}

	b, err := json.Marshal(e)
	if err == nil {
		fmt.Fprintln(l.out, string(b))
		return
	}

	// retry once without Details (common source of marshal errors)
	e.Details = nil
	if b, err := json.Marshal(e); err == nil {
		fmt.Fprintln(l.out, string(b))
		return
	}

	fallback := map[string]any{
		"timestamp": nowISO(),
		"level":     "ERROR",
		"service":   l.service,
		"action":    "logger_marshal_failed",
		"message":   "failed to encode log entry",
		"hostname":  l.hostname,
		"error":     ErrorObject{Msg: strings.TrimSpace(err.Error())},
	}
	if fb, err := json.Marshal(fallback); err == nil {
		fmt.Fprintln(l.out, string(fb))
	} else {
		fmt.Fprintf(os.Stderr, "log marshal failed: %v\n", err)
	}
}

func (l *Logger) entry(ctx context.Context, level, action, msg string, details any) LogEntry {
	return LogEntry{
		Timestamp:     nowISO(),
		Level:         level,
		Service:       l.service,
		Action:        safeAction(action),
		Message:       strings.TrimSpace(msg),
		Hostname:      l.hostname,
		RequestID:     fromCtx(ctx, ctxKeyRequestID),
		ReservationID: fromCtx(ctx, ctxKeyReservationID),
		Plate:         fromCtx(ctx, ctxKeyPlate),
		Details:       details,
	}
}

// Debug writes a DEBUG line with optional details.
func (l *Logger) Debug(ctx context.Context, action, msg string, details any) {
	l.emit(l.entry(ctx, "DEBUG", action, msg, details))
}

// Info writes an INFO line with optional details.
func (l *Logger) Info(ctx context.Context, action, msg string, details any) {
	l.emit(l.entry(ctx, "INFO", action, msg, details))
}

// Warn writes a WARN line; err may be nil.
func (l *Logger) Warn(ctx context.Context, action, msg string, err error, details any) {
	e := l.entry(ctx, "WARN", action, msg, details)
	if err != nil {
		e.Error = &ErrorObject{Msg: strings.TrimSpace(err.Error())}
	}
	l.emit(e)
}

// Error writes an ERROR line and attaches a stack trace.
func (l *Logger) Error(ctx context.Context, action, msg string, err error, details any) {
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	e := l.entry(ctx, "ERROR", action, msg, details)
	e.Error = &ErrorObject{
		Msg:   strings.TrimSpace(err.Error()),
		Stack: string(debug.Stack()),
	}
	l.emit(e)
}

// ------------ Context helpers -------------

type ctxKey string

const (
	ctxKeyRequestID     ctxKey = "taxi_request_id"
	ctxKeyReservationID ctxKey = "taxi_reservation_id"
	ctxKeyPlate         ctxKey = "taxi_plate"
)

// WithRequestID returns a new context carrying request_id.
func (l *Logger) WithRequestID(ctx context.Context, reqID string) context.Context {
	return withValue(ctx, ctxKeyRequestID, reqID)
}

// WithReservationID returns a new context carrying reservation_id.
func (l *Logger) WithReservationID(ctx context.Context, reservationID string) context.Context {
	return withValue(ctx, ctxKeyReservationID, reservationID)
}

// WithPlate returns a new context carrying the vehicle plate.
func (l *Logger) WithPlate(ctx context.Context, plate string) context.Context {
	return withValue(ctx, ctxKeyPlate, plate)
}

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	if strings.TrimSpace(v) == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func fromCtx(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// ----- Small utilities -----

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func safeAction(a string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return "unspecified"
	}
	return a
}
