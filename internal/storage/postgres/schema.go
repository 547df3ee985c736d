package postgres

import (
	"context"
	"fmt"
)

// bootstrapStatements create the tables the gateway needs. They are run
// one by one because CREATE EXTENSION and trigger DDL cannot share a
// statement batch. snapshots must exist before urls because of the
// snapshot_id foreign key.
var bootstrapStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,

	`CREATE TABLE IF NOT EXISTS snapshots (
		id uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
		url TEXT NOT NULL,
		content JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS urls (
		id uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
		url TEXT NOT NULL UNIQUE,
		content JSONB,
		snapshot_id uuid,
		FOREIGN KEY (snapshot_id) REFERENCES snapshots(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS snapshots_url_created_at_idx
		ON snapshots (url, created_at DESC)`,

	`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = NOW();
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,

	`DROP TRIGGER IF EXISTS update_urls_updated_at ON urls`,

	`CREATE TRIGGER update_urls_updated_at
		BEFORE UPDATE ON urls
		FOR EACH ROW
		EXECUTE FUNCTION update_updated_at_column()`,

	`DROP TRIGGER IF EXISTS update_snapshots_updated_at ON snapshots`,

	`CREATE TRIGGER update_snapshots_updated_at
		BEFORE UPDATE ON snapshots
		FOR EACH ROW
		EXECUTE FUNCTION update_updated_at_column()`,
}

// Bootstrap creates the schema if it does not exist yet. It is safe to
// run on every startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range bootstrapStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
