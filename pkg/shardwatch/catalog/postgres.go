// Package catalog implements shardwatch.ShardCatalog against a control-plane
// PostgreSQL database: a system catalog table tracking every shard ever
// created or dropped, plus pg_database for the physical inventory of a
// single node.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgeflare/pgo/pkg/shardwatch"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements shardwatch.ShardCatalog on top of a control-plane
// pool. Table holds one row per shard-map mutation, oldest first:
//
//	CREATE TABLE shard_map (
//	    seq      BIGSERIAL PRIMARY KEY,
//	    id       TEXT NOT NULL,
//	    deleted  BOOLEAN NOT NULL DEFAULT false
//	);
type Postgres struct {
	Pool  *pgxpool.Pool
	Table string
}

func (p *Postgres) table() string {
	if p.Table == "" {
		return "shard_map"
	}
	return p.Table
}

// ShardExists implements shardwatch.ShardCatalog.
func (p *Postgres) ShardExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := p.Pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check database exists: %w", err)
	}
	return exists, nil
}

// WalkShardMap implements shardwatch.ShardCatalog.
func (p *Postgres) WalkShardMap(ctx context.Context) (<-chan shardwatch.CatalogRow, <-chan error, error) {
	// #nosec G201 -- p.table() is operator-controlled configuration, not user input.
	query := fmt.Sprintf("SELECT id, deleted FROM %s ORDER BY seq ASC", p.table())
	rows, err := p.Pool.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query shard map: %w", err)
	}

	out := make(chan shardwatch.CatalogRow)
	errs := make(chan error, 1)

	go func() {
		defer rows.Close()
		defer close(out)
		defer close(errs)

		for rows.Next() {
			var row shardwatch.CatalogRow
			if err := rows.Scan(&row.ID, &row.Deleted); err != nil {
				errs <- fmt.Errorf("scan shard map row: %w", err)
				return
			}
			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil {
			errs <- fmt.Errorf("iterate shard map: %w", err)
		}
	}()

	return out, errs, nil
}

// LocalShards implements shardwatch.ShardCatalog. It matches every physical
// database whose name is either exactly database or database followed by a
// dot-separated suffix, e.g. "acct" and "acct.suff.0123456789".
func (p *Postgres) LocalShards(ctx context.Context, database string) ([]shardwatch.ShardName, error) {
	rows, err := p.Pool.Query(ctx,
		"SELECT datname FROM pg_database WHERE datname = $1 OR datname LIKE $2",
		database, escapeLike(database)+".%")
	if err != nil {
		return nil, fmt.Errorf("query local shards: %w", err)
	}
	defer rows.Close()

	var shards []shardwatch.ShardName
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan shard name: %w", err)
		}
		shards = append(shards, shardwatch.ShardName(name))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate local shards: %w", err)
	}
	return shards, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
