package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/verifier/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// runs and tests.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if dsn == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the handle for seeding content in tests and local tooling.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS course_materials (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	course_id  INTEGER NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS material_chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	material_id INTEGER NOT NULL REFERENCES course_materials(id) ON DELETE CASCADE,
	course_id   INTEGER NOT NULL,
	page_number TEXT,
	chunk_index INTEGER NOT NULL DEFAULT 0,
	content     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_material_chunks_material_course ON material_chunks(material_id, course_id);

CREATE TABLE IF NOT EXISTS message_trust_scores (
	id                          INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id                  INTEGER NOT NULL UNIQUE,
	trust_score                 INTEGER NOT NULL CHECK (trust_score BETWEEN 0 AND 100),
	trust_level                 TEXT NOT NULL,
	verification_reasoning      TEXT NOT NULL DEFAULT '',
	source_verification_details TEXT NOT NULL DEFAULT '{}',
	conflicts_detected          TEXT NOT NULL DEFAULT '[]',
	verification_timestamp      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_audit_log (
	id                TEXT PRIMARY KEY,
	agent_type        TEXT NOT NULL,
	action_type       TEXT NOT NULL,
	input_data        TEXT,
	output_data       TEXT,
	confidence_score  REAL,
	execution_time_ms INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT,
	created_at        TEXT NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListChunks(ctx context.Context, materialID, courseID int64) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, material_id, course_id, page_number, chunk_index, content FROM material_chunks WHERE material_id = ? AND course_id = ? ORDER BY chunk_index, id`,
		materialID, courseID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list chunks for material %d", materialID)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var page sql.NullString
		if err := rows.Scan(&c.ID, &c.MaterialID, &c.CourseID, &page, &c.ChunkIndex, &c.Content); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chunk")
		}
		if page.Valid {
			c.PageNumber = &page.String
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "sqlite: iterate chunks")
}

func (s *SQLiteStore) GetDocument(ctx context.Context, materialID, courseID int64) (*model.Document, error) {
	var d model.Document
	var content sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, course_id, title, content FROM course_materials WHERE id = ? AND course_id = ?`,
		materialID, courseID,
	).Scan(&d.MaterialID, &d.CourseID, &d.Title, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %d", materialID)
	}
	if !content.Valid || content.String == "" {
		return nil, nil
	}
	d.Content = content.String
	return &d, nil
}

// AddMaterial inserts a material and its chunks in one transaction.
func (s *SQLiteStore) AddMaterial(ctx context.Context, m model.Material) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO course_materials (course_id, title, content) VALUES (?, ?, ?)`,
		m.CourseID, m.Title, m.Content,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert material for course %d", m.CourseID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: material id")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO material_chunks (material_id, course_id, page_number, chunk_index, content) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare chunk insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range chunkRows(id, m) {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert chunk for material %d", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit material")
	}
	return id, nil
}

func (s *SQLiteStore) GetVerification(ctx context.Context, messageID int64) (*model.StoredVerification, error) {
	var (
		score         int
		level         string
		reasoning     string
		details       string
		conflictsJSON string
		atText        string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT trust_score, trust_level, verification_reasoning, source_verification_details, conflicts_detected, verification_timestamp FROM message_trust_scores WHERE message_id = ?`,
		messageID,
	).Scan(&score, &level, &reasoning, &details, &conflictsJSON, &atText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get verification %d", messageID)
	}

	var conflicts []string
	if err := json.Unmarshal([]byte(conflictsJSON), &conflicts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal conflicts")
	}
	at, err := time.Parse(time.RFC3339Nano, atText)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse verification timestamp")
	}
	return decodeStored(messageID, score, level, reasoning, []byte(details), conflicts, at)
}

func (s *SQLiteStore) UpsertVerification(ctx context.Context, messageID int64, res model.VerificationResult) error {
	details, err := encodeDetails(res)
	if err != nil {
		return err
	}
	conflicts, err := json.Marshal(hallucinations(res))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal conflicts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO message_trust_scores (message_id, trust_score, trust_level, verification_reasoning, source_verification_details, conflicts_detected, verification_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET
			trust_score = excluded.trust_score,
			trust_level = excluded.trust_level,
			verification_reasoning = excluded.verification_reasoning,
			source_verification_details = excluded.source_verification_details,
			conflicts_detected = excluded.conflicts_detected,
			verification_timestamp = excluded.verification_timestamp`,
		messageID, res.TrustScore, string(res.TrustLevel), res.Reasoning, string(details), string(conflicts),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return eris.Wrapf(err, "sqlite: upsert verification %d", messageID)
}

func (s *SQLiteStore) InsertAudit(ctx context.Context, e model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_audit_log (id, agent_type, action_type, input_data, output_data, confidence_score, execution_time_ms, error_message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AgentType, e.ActionType, nullableJSON(e.Input), nullableJSON(e.Output), e.Confidence,
		e.ExecutionTime.Milliseconds(), e.Error, e.CreatedAt.Format(time.RFC3339Nano),
	)
	return eris.Wrap(err, "sqlite: insert audit")
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
