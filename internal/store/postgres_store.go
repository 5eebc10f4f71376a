package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultDBMaxOpenConns    = 10
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = 30 * time.Minute
	defaultDBConnMaxIdleTime = 5 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
)

const createRecordsTable = `
	CREATE TABLE IF NOT EXISTS workflow_records (
		id         TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)
`

// PostgresBackend keeps one JSONB row per record.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, domain.InvalidArgument("DATABASE_URL is required when STORE_DRIVER=postgres")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, domain.Internal("failed to open postgres connection", err)
	}
	db.SetMaxOpenConns(defaultDBMaxOpenConns)
	db.SetMaxIdleConns(defaultDBMaxIdleConns)
	db.SetConnMaxLifetime(defaultDBConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultDBConnMaxIdleTime)

	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) Load(ctx context.Context) ([]domain.WorkflowRecord, error) {
	pingCtx, cancel := context.WithTimeout(ctx, defaultDBPingTimeout)
	defer cancel()
	if err := b.db.PingContext(pingCtx); err != nil {
		return nil, domain.Internal("failed to connect to postgres", err)
	}
	if _, err := b.db.ExecContext(ctx, createRecordsTable); err != nil {
		return nil, domain.Internal("failed to ensure workflow_records table", err)
	}

	rows, err := b.db.QueryContext(ctx, `SELECT payload FROM workflow_records ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, domain.Internal("failed to query workflow records", err)
	}
	defer rows.Close()

	out := []domain.WorkflowRecord{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, domain.Internal("failed to scan workflow record", err)
		}
		var record domain.WorkflowRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, domain.Internal("failed to decode workflow record", err)
		}
		out = append(out, domain.NormalizeRecord(record))
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("failed to iterate workflow records", err)
	}
	return out, nil
}

// Save replaces the stored set inside one transaction.
func (b *PostgresBackend) Save(ctx context.Context, records []domain.WorkflowRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_records`); err != nil {
		return domain.Internal("failed to clear workflow records", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO workflow_records (id, payload, updated_at)
		VALUES ($1, $2::jsonb, $3)
	`)
	if err != nil {
		return domain.Internal("failed to prepare workflow record insert", err)
	}
	defer stmt.Close()

	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return domain.Internal("failed to encode workflow record", err)
		}
		if _, err := stmt.ExecContext(ctx, record.ID, string(payload), record.UpdatedAt); err != nil {
			return domain.Internal("failed to insert workflow record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal("failed to commit workflow records", err)
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
