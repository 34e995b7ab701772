package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

// NewPostgresWriter creates a new PostgreSQL catalog writer.
func NewPostgresWriter(cfg Config) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{pool: pool}

	if err := w.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Println("[catalog] connected to PostgreSQL catalog")
	return w, nil
}

func (w *PostgresWriter) initSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// upsertReportSQL keeps the first filed_at. A re-filed report takes the new
// file name, state, worker and run; identity fields and the page count are
// only replaced by non-empty values, since a reconciled file carries no page
// count.
const upsertReportSQL = `
	INSERT INTO pda_reports (
		identity_key, name, email, document, gender,
		file_name, state, worker, run_id, pages, filed_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (identity_key)
	DO UPDATE SET
		name = COALESCE(NULLIF(EXCLUDED.name, ''), pda_reports.name),
		email = COALESCE(NULLIF(EXCLUDED.email, ''), pda_reports.email),
		document = COALESCE(NULLIF(EXCLUDED.document, ''), pda_reports.document),
		gender = COALESCE(NULLIF(EXCLUDED.gender, ''), pda_reports.gender),
		file_name = EXCLUDED.file_name,
		state = EXCLUDED.state,
		worker = EXCLUDED.worker,
		run_id = EXCLUDED.run_id,
		pages = COALESCE(NULLIF(EXCLUDED.pages, 0), pda_reports.pages),
		updated_at = NOW()
`

// RecordReport upserts the report row and points every candidate key at it,
// in one transaction.
func (w *PostgresWriter) RecordReport(ctx context.Context, e Entry) error {
	if e.IdentityKey == "" {
		return errors.New("identity key is required")
	}
	filedAt := e.FiledAt
	if filedAt.IsZero() {
		filedAt = time.Now().UTC()
	}

	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertReportSQL,
			e.IdentityKey, e.Name, e.Email, e.Document, e.Gender,
			e.FileName, e.State, e.Worker, e.RunID, e.Pages, filedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert report: %w", err)
		}

		batch := &pgx.Batch{}
		for _, k := range e.CandidateKeys {
			batch.Queue(`
				INSERT INTO pda_report_keys (candidate_key, identity_key)
				VALUES ($1, $2)
				ON CONFLICT (candidate_key) DO NOTHING
			`, k, e.IdentityKey)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("record candidate keys: %w", err)
		}
		return nil
	})
}

// Lookup returns the report any of keys points at.
func (w *PostgresWriter) Lookup(ctx context.Context, keys []string) (Entry, bool, error) {
	if len(keys) == 0 {
		return Entry{}, false, nil
	}

	var e Entry
	err := w.pool.QueryRow(ctx, `
		SELECT r.identity_key, r.name, r.email, r.document, r.gender,
		       r.file_name, r.state, r.worker, r.run_id, r.pages, r.filed_at
		FROM pda_report_keys k
		JOIN pda_reports r ON r.identity_key = k.identity_key
		WHERE k.candidate_key = ANY($1)
		ORDER BY r.filed_at
		LIMIT 1
	`, keys).Scan(
		&e.IdentityKey, &e.Name, &e.Email, &e.Document, &e.Gender,
		&e.FileName, &e.State, &e.Worker, &e.RunID, &e.Pages, &e.FiledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup report: %w", err)
	}
	return e, true, nil
}

// Count returns the number of reports in the catalog.
func (w *PostgresWriter) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := w.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pda_reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
