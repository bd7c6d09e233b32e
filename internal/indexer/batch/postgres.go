package batch

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/postgres"
)

var migrations = []postgres.Migration{
	{
		Version: 1,
		Name:    "create index_batches",
		SQL: `
CREATE TABLE IF NOT EXISTS index_batches (
	version       BIGSERIAL PRIMARY KEY,
	collection_id BIGINT      NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS index_batches_collection ON index_batches (collection_id, version);`,
	},
}

// Postgres allocates versions from a shared sequence so several indexer
// processes never hand out the same version.
type Postgres struct {
	client *postgres.Client
}

// NewPostgres migrates the batch schema.
func NewPostgres(ctx context.Context, client *postgres.Client) (*Postgres, error) {
	if err := client.Migrate(ctx, migrations...); err != nil {
		return nil, fmt.Errorf("migrating batch schema: %w", err)
	}
	return &Postgres{client: client}, nil
}

// NextVersion takes the next row of index_batches for the collection.
func (p *Postgres) NextVersion(ctx context.Context, collectionID uint64) (int64, error) {
	var version int64
	err := p.client.InTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO index_batches (collection_id) VALUES ($1) RETURNING version`,
			int64(collectionID),
		).Scan(&version)
	})
	if err != nil {
		return 0, fmt.Errorf("allocating batch version for collection %d: %w", collectionID, err)
	}
	return version, nil
}

// Latest returns the newest version allocated for collectionID, or 0.
func (p *Postgres) Latest(ctx context.Context, collectionID uint64) (int64, error) {
	var version sql.NullInt64
	err := p.client.DB.QueryRowContext(ctx,
		`SELECT max(version) FROM index_batches WHERE collection_id = $1`,
		int64(collectionID),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading latest batch version: %w", err)
	}
	return version.Int64, nil
}
