package shardwatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Callback is the external contract an application implements to observe
// shard lifecycle and change events (spec.md §4.4). Every operation
// receives the current opaque user context and returns its replacement;
// all four are invoked from the Supervisor's single goroutine and must not
// call back into the Supervisor synchronously.
type Callback interface {
	DBCreated(ctx context.Context, shard ShardName, userCtx any) any
	DBDeleted(ctx context.Context, shard ShardName, userCtx any) any
	DBFound(ctx context.Context, shard ShardName, userCtx any) any
	DBChange(ctx context.Context, shard ShardName, row Row, userCtx any) any
}

// NopCallback discards every event and passes the user context through
// unchanged. Useful as a default or in tests that only care about
// checkpoint-table behavior.
type NopCallback struct{}

func (NopCallback) DBCreated(_ context.Context, _ ShardName, userCtx any) any { return userCtx }
func (NopCallback) DBDeleted(_ context.Context, _ ShardName, userCtx any) any { return userCtx }
func (NopCallback) DBFound(_ context.Context, _ ShardName, userCtx any) any   { return userCtx }
func (NopCallback) DBChange(_ context.Context, _ ShardName, _ Row, userCtx any) any {
	return userCtx
}

// safeCallback wraps a Callback so a panicking application callback logs
// and leaves the user context unchanged instead of crashing the
// Supervisor loop. spec.md's callback contract is "never fails"; Go has no
// process-level isolation to fall back on if that promise is broken, so
// this recover is the pragmatic substitute.
type safeCallback struct {
	inner  Callback
	logger *zap.Logger
}

func newSafeCallback(inner Callback, logger *zap.Logger) *safeCallback {
	return &safeCallback{inner: inner, logger: logger}
}

func (s *safeCallback) call(name string, prev any, fn func() any) (result any) {
	result = prev
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panicked, keeping previous context",
				zap.String("callback", name), zap.Any("recover", r))
		}
	}()
	result = fn()
	return result
}

func (s *safeCallback) DBCreated(ctx context.Context, shard ShardName, userCtx any) any {
	return s.call("db_created", userCtx, func() any { return s.inner.DBCreated(ctx, shard, userCtx) })
}

func (s *safeCallback) DBDeleted(ctx context.Context, shard ShardName, userCtx any) any {
	return s.call("db_deleted", userCtx, func() any { return s.inner.DBDeleted(ctx, shard, userCtx) })
}

func (s *safeCallback) DBFound(ctx context.Context, shard ShardName, userCtx any) any {
	return s.call("db_found", userCtx, func() any { return s.inner.DBFound(ctx, shard, userCtx) })
}

func (s *safeCallback) DBChange(ctx context.Context, shard ShardName, row Row, userCtx any) any {
	return s.call("db_change", userCtx, func() any { return s.inner.DBChange(ctx, shard, row, userCtx) })
}

var _ fmt.Stringer = ShardName("")

func (s ShardName) String() string { return string(s) }
