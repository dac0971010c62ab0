package persistence

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"post_worker/core/domain"
	"post_worker/core/port/out"
	"post_worker/pkg/apperr"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS post_history (
	id            BIGINT PRIMARY KEY,
	run_id        TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	opening_style TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL,
	language      TEXT NOT NULL DEFAULT '',
	tags          TEXT[] NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_post_history_created ON post_history (created_at DESC, id DESC);`

// PostgresHistory implements out.HistoryRepository on a post_history table.
type PostgresHistory struct {
	db *sqlx.DB
}

var _ out.HistoryRepository = (*PostgresHistory)(nil)

func NewPostgresHistory(db *sqlx.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

func (r *PostgresHistory) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, historySchema); err != nil {
		return apperr.StorageError("create post_history", err)
	}
	return nil
}

type historyRow struct {
	ID           int64          `db:"id"`
	RunID        string         `db:"run_id"`
	Category     string         `db:"category"`
	OpeningStyle string         `db:"opening_style"`
	Text         string         `db:"text"`
	Language     string         `db:"language"`
	Tags         pq.StringArray `db:"tags"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (row historyRow) toDomain() domain.HistoryRecord {
	return domain.HistoryRecord{
		ID:           row.ID,
		RunID:        row.RunID,
		Category:     row.Category,
		OpeningStyle: domain.OpeningStyle(row.OpeningStyle),
		Text:         row.Text,
		Language:     row.Language,
		Tags:         []string(row.Tags),
		CreatedAt:    row.CreatedAt,
	}
}

func (r *PostgresHistory) Window(ctx context.Context, limit int) (domain.HistoryWindow, error) {
	var w domain.HistoryWindow
	if err := r.db.GetContext(ctx, &w.Count,
		`SELECT COUNT(*) FROM post_history WHERE btrim(text) <> ''`); err != nil {
		return domain.HistoryWindow{}, apperr.StorageError("count history", err)
	}
	if limit <= 0 || w.Count == 0 {
		return w, nil
	}

	query := `
		SELECT text
		FROM post_history
		WHERE btrim(text) <> ''
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &w.Recent, query, limit); err != nil {
		return domain.HistoryWindow{}, apperr.StorageError("read recent history", err)
	}
	for i := range w.Recent {
		w.Recent[i] = strings.TrimSpace(w.Recent[i])
	}
	return w, nil
}

// Recent returns up to limit full records, newest first.
func (r *PostgresHistory) Recent(ctx context.Context, limit int) ([]domain.HistoryRecord, error) {
	query := `
		SELECT id, run_id, category, opening_style, text, language, tags, created_at
		FROM post_history
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.StorageError("read history", err)
	}

	records := make([]domain.HistoryRecord, len(rows))
	for i, row := range rows {
		records[i] = row.toDomain()
	}
	return records, nil
}

func (r *PostgresHistory) Append(ctx context.Context, records []domain.HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.StorageError("begin history append", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO post_history (id, run_id, category, opening_style, text, language, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, query,
			rec.ID, rec.RunID, rec.Category, string(rec.OpeningStyle),
			rec.Text, rec.Language, pq.Array(rec.Tags), createdAt,
		); err != nil {
			return apperr.StorageError("append history", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.StorageError("commit history append", err)
	}
	return nil
}

func (r *PostgresHistory) HealCategories(ctx context.Context, fallback string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE post_history
		SET category = $1
		WHERE lower(btrim(category)) IN ('', $2)`,
		fallback, domain.UnknownCategory)
	if err != nil {
		return 0, apperr.StorageError("heal history", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperr.StorageError("heal history", err)
	}
	return int(n), nil
}
