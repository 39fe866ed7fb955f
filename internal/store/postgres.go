package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/verifier/internal/db"
	"github.com/sells-group/verifier/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close is a no-op.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS course_materials (
	id         BIGSERIAL PRIMARY KEY,
	course_id  BIGINT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS material_chunks (
	id          BIGSERIAL PRIMARY KEY,
	material_id BIGINT NOT NULL REFERENCES course_materials(id) ON DELETE CASCADE,
	course_id   BIGINT NOT NULL,
	page_number TEXT,
	chunk_index INTEGER NOT NULL DEFAULT 0,
	content     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_material_chunks_material_course ON material_chunks(material_id, course_id);

CREATE TABLE IF NOT EXISTS message_trust_scores (
	id                          BIGSERIAL PRIMARY KEY,
	message_id                  BIGINT NOT NULL UNIQUE,
	trust_score                 INTEGER NOT NULL CHECK (trust_score BETWEEN 0 AND 100),
	trust_level                 TEXT NOT NULL,
	verification_reasoning      TEXT NOT NULL DEFAULT '',
	source_verification_details JSONB NOT NULL DEFAULT '{}'::jsonb,
	conflicts_detected          TEXT[] NOT NULL DEFAULT '{}',
	verification_timestamp      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agent_audit_log (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	agent_type        TEXT NOT NULL,
	action_type       TEXT NOT NULL,
	input_data        JSONB,
	output_data       JSONB,
	confidence_score  DOUBLE PRECISION,
	execution_time_ms BIGINT NOT NULL DEFAULT 0,
	error_message     TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agent_audit_log_agent_created ON agent_audit_log(agent_type, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// AddMaterial inserts a material and bulk-copies its chunks.
func (s *PostgresStore) AddMaterial(ctx context.Context, m model.Material) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO course_materials (course_id, title, content) VALUES ($1, $2, $3) RETURNING id`,
		m.CourseID, m.Title, m.Content,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert material for course %d", m.CourseID)
	}
	if _, err := db.CopyFrom(ctx, s.pool, TableChunks, chunkColumns, chunkRows(id, m)); err != nil {
		return 0, eris.Wrapf(err, "postgres: copy chunks for material %d", id)
	}
	return id, nil
}

// ListChunks returns every chunk of a material in reading order. Page
// numbers are returned but not filtered on.
func (s *PostgresStore) ListChunks(ctx context.Context, materialID, courseID int64) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, material_id, course_id, page_number, chunk_index, content FROM material_chunks WHERE material_id = $1 AND course_id = $2 ORDER BY chunk_index, id`,
		materialID, courseID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list chunks for material %d", materialID)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.MaterialID, &c.CourseID, &c.PageNumber, &c.ChunkIndex, &c.Content); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "postgres: iterate chunks")
}

// GetDocument returns the whole-document content of a material, or nil if
// the material does not exist in the course or has no content yet.
func (s *PostgresStore) GetDocument(ctx context.Context, materialID, courseID int64) (*model.Document, error) {
	var d model.Document
	var content *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, course_id, title, content FROM course_materials WHERE id = $1 AND course_id = $2`,
		materialID, courseID,
	).Scan(&d.MaterialID, &d.CourseID, &d.Title, &content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %d", materialID)
	}
	if content == nil || *content == "" {
		return nil, nil
	}
	d.Content = *content
	return &d, nil
}

func (s *PostgresStore) GetVerification(ctx context.Context, messageID int64) (*model.StoredVerification, error) {
	var (
		score     int
		level     string
		reasoning string
		details   []byte
		conflicts []string
		at        time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT trust_score, trust_level, verification_reasoning, source_verification_details, conflicts_detected, verification_timestamp FROM message_trust_scores WHERE message_id = $1`,
		messageID,
	).Scan(&score, &level, &reasoning, &details, &conflicts, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get verification %d", messageID)
	}
	return decodeStored(messageID, score, level, reasoning, details, conflicts, at)
}

// UpsertVerification writes the result for a message. Concurrent writers
// for the same message race; the last write wins.
func (s *PostgresStore) UpsertVerification(ctx context.Context, messageID int64, res model.VerificationResult) error {
	details, err := encodeDetails(res)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO message_trust_scores (message_id, trust_score, trust_level, verification_reasoning, source_verification_details, conflicts_detected, verification_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE SET
			trust_score = EXCLUDED.trust_score,
			trust_level = EXCLUDED.trust_level,
			verification_reasoning = EXCLUDED.verification_reasoning,
			source_verification_details = EXCLUDED.source_verification_details,
			conflicts_detected = EXCLUDED.conflicts_detected,
			verification_timestamp = EXCLUDED.verification_timestamp`,
		messageID, res.TrustScore, string(res.TrustLevel), res.Reasoning, details, hallucinations(res), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert verification %d", messageID)
}

func (s *PostgresStore) InsertAudit(ctx context.Context, e model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_audit_log (id, agent_type, action_type, input_data, output_data, confidence_score, execution_time_ms, error_message, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.AgentType, e.ActionType, []byte(e.Input), []byte(e.Output), e.Confidence, e.ExecutionTime.Milliseconds(), e.Error, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert audit")
}
