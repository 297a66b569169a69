// Package notify is the user-visible notification sink. Producers (the
// session store, page handlers) call Notify; the web layer drains a
// per-request Recorder into toasts, the console prints them.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Severity controls toast styling.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Notification is one user-visible message.
type Notification struct {
	Title       string
	Description string
	Severity    Severity
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Success, Error and Info build notifications with the matching severity.
func Success(title, description string) Notification {
	return Notification{Title: title, Description: description, Severity: SeveritySuccess}
}

func Error(title, description string) Notification {
	return Notification{Title: title, Description: description, Severity: SeverityError}
}

func Info(title, description string) Notification {
	return Notification{Title: title, Description: description, Severity: SeverityInfo}
}

// Recorder buffers notifications until Drain is called.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// Drain returns everything recorded so far and empties the buffer.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items
	r.items = nil
	return items
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at a level matching severity.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Severity {
	case SeverityError:
		level = slog.LevelWarn
	case SeverityWarning:
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "notification",
		"title", n.Title,
		"description", n.Description,
		"severity", string(n.Severity),
	)
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(context.Context, Notification) {})

type contextKey struct{}

// WithRecorder stores a request-scoped recorder in ctx.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, contextKey{}, r)
}

// RecorderFrom returns the recorder stored by WithRecorder, or nil.
func RecorderFrom(ctx context.Context) *Recorder {
	r, _ := ctx.Value(contextKey{}).(*Recorder)
	return r
}
