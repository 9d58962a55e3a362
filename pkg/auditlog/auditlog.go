// Package auditlog provides structured, leveled logging of review-workflow
// activity (status transitions, signing, rollback, cache invalidation).
//
// It is a pure logging sink, not a persisted event journal: per the
// Non-goals in §1 ("does not implement... persistent event logs"), nothing
// written here is replayed or queried back by the engine. The typed
// ReviewEvent values in pkg/events remain the single source of truth for
// review-workflow history; this package only surfaces the same activity to
// operators via log/slog.
//
// Grounded on the teacher's pkg/audit/logger.go: same
// {resource, action, actor, metadata} event shape, adapted from a
// JSON-to-writer journal onto log/slog's structured attrs.
package auditlog

import (
	"context"
	"log/slog"
)

// Logger attaches resource/collection/principal fields to every record.
type Logger struct {
	l *slog.Logger
}

// New wraps an slog.Logger. A nil base logger falls back to slog.Default().
func New(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{l: base}
}

func (a *Logger) forResource(bucket, collection string) *slog.Logger {
	return a.l.With("bucket", bucket, "collection", collection)
}

// TransitionRequested records a requested (and accepted) status change.
func (a *Logger) TransitionRequested(ctx context.Context, bucket, collection, principal, from, to string) {
	a.forResource(bucket, collection).InfoContext(ctx, "status transition",
		"principal", principal, "from", from, "to", to)
}

// TransitionRejected records a rejected status change and why.
func (a *Logger) TransitionRejected(ctx context.Context, bucket, collection, principal, to, reason string) {
	a.forResource(bucket, collection).WarnContext(ctx, "status transition rejected",
		"principal", principal, "requested", to, "reason", reason)
}

// SignApplied records a completed sign-and-mirror operation.
func (a *Logger) SignApplied(ctx context.Context, bucket, collection string, recordCount int) {
	a.forResource(bucket, collection).InfoContext(ctx, "destination signed",
		"record_count", recordCount)
}

// RollbackApplied records a completed rollback and how many records changed.
func (a *Logger) RollbackApplied(ctx context.Context, bucket, collection string, changed int) {
	a.forResource(bucket, collection).InfoContext(ctx, "source rolled back",
		"changed_count", changed)
}

// CacheInvalidationFailed records a swallowed cache-invalidation error
// (§7: invalidation failures never fail the signing transaction).
func (a *Logger) CacheInvalidationFailed(ctx context.Context, backend, bucket, collection string, err error) {
	a.forResource(bucket, collection).ErrorContext(ctx, "cache invalidation failed",
		"backend", backend, "error", err)
}
