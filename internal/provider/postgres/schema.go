// Package postgres implements the feed store and durable sink on Postgres.
//
// Every sink table is a logical partition of one append-only records table.
// The well-known fields identifier, ts and metric are lifted into columns so
// freshness and correlation queries can use indexes; the full record is kept
// as JSONB.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS records (
    id          BIGSERIAL PRIMARY KEY,
    table_name  TEXT NOT NULL,
    identifier  TEXT,
    ts          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    metric      DOUBLE PRECISION,
    data        JSONB NOT NULL,
    inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_records_table_identifier ON records (table_name, identifier);
CREATE INDEX IF NOT EXISTS idx_records_table_ts ON records (table_name, ts);
`
