package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/contextpilot/contextpilot/internal/errs"
	"github.com/contextpilot/contextpilot/internal/logger"
	"github.com/contextpilot/contextpilot/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS context_units (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    content TEXT NOT NULL,
    confidence REAL NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    source TEXT NOT NULL DEFAULT 'manual',
    status TEXT NOT NULL DEFAULT 'active',
    superseded_by TEXT,
    created_at TEXT NOT NULL,
    last_used_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_context_units_status ON context_units(status);
CREATE INDEX IF NOT EXISTS idx_context_units_kind ON context_units(kind);

CREATE TABLE IF NOT EXISTS unit_embeddings (
    unit_id TEXT PRIMARY KEY,
    embedding BLOB NOT NULL,
    computed_at TEXT NOT NULL
);
`

// SQLiteStore persists context units and their embeddings in SQLite.
// Embedding vectors are stored as sqlite-vec float32 blobs in a side table
// keyed 1:1 by unit id.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("opened sqlite context store", "path", path)
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying connection so collaborators (conversation store)
// can share one database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Add(ctx context.Context, p AddParams) (model.ContextUnit, error) {
	if err := validateAdd(p); err != nil {
		return model.ContextUnit{}, err
	}

	source := p.Source
	if source == "" {
		source = "manual"
	}

	unit := model.ContextUnit{
		ID:         uuid.NewString(),
		Kind:       p.Kind,
		Content:    p.Content,
		Confidence: p.Confidence,
		Tags:       normalizeTags(p.Tags),
		Source:     source,
		Status:     model.StatusActive,
		CreatedAt:  time.Now().UTC(),
	}

	tagsJSON, err := json.Marshal(unit.Tags)
	if err != nil {
		return model.ContextUnit{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO context_units (id, kind, content, confidence, tags, source, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		unit.ID, string(unit.Kind), unit.Content, unit.Confidence,
		string(tagsJSON), unit.Source, string(unit.Status),
		unit.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return model.ContextUnit{}, err
	}

	logger.Debug("added context unit", "id", unit.ID, "kind", unit.Kind)
	return unit, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (model.ContextUnit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, content, confidence, tags, source, status, superseded_by, created_at, last_used_at
		FROM context_units WHERE id = ?`, id)

	unit, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return model.ContextUnit{}, errs.NotFound("context unit", id)
	}
	return unit, err
}

func (s *SQLiteStore) List(ctx context.Context, includeSuperseded bool, f Filter) ([]model.ContextUnit, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}

	where := []string{"1=1"}
	var args []any

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	} else if !includeSuperseded {
		where = append(where, "status = ?")
		args = append(args, string(model.StatusActive))
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.ContentSubstring != "" {
		where = append(where, "LOWER(content) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.ContentSubstring)+"%")
	}

	query := fmt.Sprintf(`
		SELECT id, kind, content, confidence, tags, source, status, superseded_by, created_at, last_used_at
		FROM context_units WHERE %s ORDER BY created_at DESC`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ContextUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		// status and kind were already applied in SQL; only the tag subset
		// needs a Go-side check since tags live in a JSON column
		if matches(unit, true, Filter{Tags: f.Tags}) {
			out = append(out, unit)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fields UpdateFields) (model.ContextUnit, error) {
	if err := validateUpdate(fields); err != nil {
		return model.ContextUnit{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ContextUnit{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, kind, content, confidence, tags, source, status, superseded_by, created_at, last_used_at
		FROM context_units WHERE id = ?`, id)
	unit, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return model.ContextUnit{}, errs.NotFound("context unit", id)
	}
	if err != nil {
		return model.ContextUnit{}, err
	}

	contentChanged := false
	if fields.Kind != nil {
		unit.Kind = *fields.Kind
	}
	if fields.Confidence != nil {
		unit.Confidence = *fields.Confidence
	}
	if fields.Tags != nil {
		unit.Tags = normalizeTags(*fields.Tags)
	}
	if fields.Content != nil && *fields.Content != unit.Content {
		unit.Content = *fields.Content
		contentChanged = true
	}

	tagsJSON, err := json.Marshal(unit.Tags)
	if err != nil {
		return model.ContextUnit{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE context_units SET kind = ?, content = ?, confidence = ?, tags = ?
		WHERE id = ?`,
		string(unit.Kind), unit.Content, unit.Confidence, string(tagsJSON), id)
	if err != nil {
		return model.ContextUnit{}, err
	}

	if contentChanged {
		if _, err := tx.ExecContext(ctx, `DELETE FROM unit_embeddings WHERE unit_id = ?`, id); err != nil {
			return model.ContextUnit{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.ContextUnit{}, err
	}
	return unit, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM context_units WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return false, nil
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM unit_embeddings WHERE unit_id = ?`, id)
	return true, nil
}

func (s *SQLiteStore) Supersede(ctx context.Context, oldID, newID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range []string{oldID, newID} {
		var found string
		err := tx.QueryRowContext(ctx, `SELECT id FROM context_units WHERE id = ?`, id).Scan(&found)
		if err == sql.ErrNoRows {
			return errs.NotFound("context unit", id)
		}
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE context_units SET status = ?, superseded_by = ? WHERE id = ?`,
		string(model.StatusSuperseded), newID, oldID)
	if err != nil {
		return err
	}

	logger.Debug("superseded context unit", "old", oldID, "new", newID)
	return tx.Commit()
}

func (s *SQLiteStore) EmbeddingOf(ctx context.Context, id string) ([]float32, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT embedding FROM unit_embeddings WHERE unit_id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeEmbedding(blob)
}

func (s *SQLiteStore) SetEmbedding(ctx context.Context, id string, vector []float32) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	blob, err := serializeEmbedding(vector)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unit_embeddings (unit_id, embedding, computed_at) VALUES (?, ?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET embedding = excluded.embedding, computed_at = excluded.computed_at`,
		id, blob, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ListWithEmbeddings(ctx context.Context) ([]Embedded, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.kind, u.content, u.confidence, u.tags, u.source, u.status, u.superseded_by,
		       u.created_at, u.last_used_at, e.embedding
		FROM context_units u
		JOIN unit_embeddings e ON e.unit_id = u.id
		WHERE u.status = ?`, string(model.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Embedded
	for rows.Next() {
		var (
			unit                    model.ContextUnit
			tagsJSON                string
			supersededBy, lastUsed  *string
			createdAt               string
			blob                    []byte
		)
		err := rows.Scan(&unit.ID, &unit.Kind, &unit.Content, &unit.Confidence, &tagsJSON,
			&unit.Source, &unit.Status, &supersededBy, &createdAt, &lastUsed, &blob)
		if err != nil {
			return nil, err
		}
		fillUnitTimes(&unit, tagsJSON, supersededBy, createdAt, lastUsed)

		vec, err := deserializeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, Embedded{Unit: unit, Vector: vec})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) TouchUsed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UTC().Format(time.RFC3339Nano))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	query := fmt.Sprintf(`UPDATE context_units SET last_used_at = ? WHERE id IN (%s)`,
		strings.Join(placeholders, ","))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (model.ContextUnit, error) {
	var (
		unit                   model.ContextUnit
		tagsJSON               string
		supersededBy, lastUsed *string
		createdAt              string
	)
	err := row.Scan(&unit.ID, &unit.Kind, &unit.Content, &unit.Confidence, &tagsJSON,
		&unit.Source, &unit.Status, &supersededBy, &createdAt, &lastUsed)
	if err != nil {
		return model.ContextUnit{}, err
	}
	fillUnitTimes(&unit, tagsJSON, supersededBy, createdAt, lastUsed)
	return unit, nil
}

func fillUnitTimes(unit *model.ContextUnit, tagsJSON string, supersededBy *string, createdAt string, lastUsed *string) {
	_ = json.Unmarshal([]byte(tagsJSON), &unit.Tags)
	unit.SupersededBy = supersededBy
	unit.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastUsed != nil {
		t, err := time.Parse(time.RFC3339Nano, *lastUsed)
		if err == nil {
			unit.LastUsedAt = &t
		}
	}
}
