package shardwatch

import "context"

// MultiCallback fans every event out to each wrapped Callback in turn,
// threading the user context through each one so a later callback sees
// whatever an earlier one returned.
type MultiCallback []Callback

func (m MultiCallback) DBCreated(ctx context.Context, shard ShardName, userCtx any) any {
	for _, cb := range m {
		userCtx = cb.DBCreated(ctx, shard, userCtx)
	}
	return userCtx
}

func (m MultiCallback) DBDeleted(ctx context.Context, shard ShardName, userCtx any) any {
	for _, cb := range m {
		userCtx = cb.DBDeleted(ctx, shard, userCtx)
	}
	return userCtx
}

func (m MultiCallback) DBFound(ctx context.Context, shard ShardName, userCtx any) any {
	for _, cb := range m {
		userCtx = cb.DBFound(ctx, shard, userCtx)
	}
	return userCtx
}

func (m MultiCallback) DBChange(ctx context.Context, shard ShardName, row Row, userCtx any) any {
	for _, cb := range m {
		userCtx = cb.DBChange(ctx, shard, row, userCtx)
	}
	return userCtx
}
