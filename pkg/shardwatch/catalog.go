package shardwatch

import "context"

// CatalogRow is one row of the shard-map database's change history, as
// walked by the Scanner (spec.md §4.3 step 3).
type CatalogRow struct {
	// ID is the shard-map row's identifier, e.g. a database name.
	ID string
	// Deleted reports whether the database this row describes was removed.
	Deleted bool
}

// ShardCatalog is the consumed collaborator standing in for the cluster
// shard-map database plus the "local shards of a database" query
// (spec.md §6). Implementations are not required to be safe for use after
// their context is canceled.
type ShardCatalog interface {
	// ShardExists reports whether a local database named exactly name
	// exists (spec.md §4.3 step 1, the literal-suffix "system database" case).
	ShardExists(ctx context.Context, name string) (bool, error)

	// WalkShardMap streams the shard-map database's full change history,
	// oldest first, closing the returned channel when the walk completes.
	// Any error should be observable via the returned error channel; a nil
	// error channel means the walk cannot fail after it starts.
	WalkShardMap(ctx context.Context) (<-chan CatalogRow, <-chan error, error)

	// LocalShards enumerates the shard databases physically present on
	// this node for the given logical database name. A database with no
	// local shards yields an empty, nil-error result (spec.md §6:
	// "database_does_not_exist ... treats as the empty list").
	LocalShards(ctx context.Context, database string) ([]ShardName, error)
}
