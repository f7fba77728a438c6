// Package secidxlog provides the structured logger the planner and its
// collaborators log through.
package secidxlog

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the minimal surface the planner needs. It lets callers plug in
// any slog-backed logger (or a no-op one in tests) without the planner
// depending on a concrete implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
}

// SlogLogger adapts a *slog.Logger to Logger, tagging every line with a
// fixed prefix so planner output is easy to grep out of a busy log stream.
type SlogLogger struct {
	logger *slog.Logger
	prefix string
}

// New builds a SlogLogger writing text-formatted records to stderr at the
// given level.
func New(level slog.Level) *SlogLogger {
	return &SlogLogger{
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		prefix: "[secidx] ",
	}
}

// NewNop returns a Logger that discards everything, for tests that don't
// care about log output.
func NewNop() Logger {
	return &SlogLogger{logger: slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(l.prefix+msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(l.prefix+msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(l.prefix+msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(l.prefix+msg, args...) }

type ctxArgsKey struct{}

// WithArgs attaches key-value pairs that every *Ctx log call made against
// the returned context will append, e.g. a schema/table pair for the
// duration of one planning call.
func WithArgs(ctx context.Context, args ...any) context.Context {
	return context.WithValue(ctx, ctxArgsKey{}, append(ctxArgs(ctx), args...))
}

func ctxArgs(ctx context.Context) []any {
	if v, ok := ctx.Value(ctxArgsKey{}).([]any); ok {
		return v
	}
	return nil
}

func (l *SlogLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	l.logger.Debug(l.prefix+msg, append(args, ctxArgs(ctx)...)...)
}

func (l *SlogLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	l.logger.Info(l.prefix+msg, append(args, ctxArgs(ctx)...)...)
}

func (l *SlogLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	l.logger.Warn(l.prefix+msg, append(args, ctxArgs(ctx)...)...)
}

func (l *SlogLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	l.logger.Error(l.prefix+msg, append(args, ctxArgs(ctx)...)...)
}
