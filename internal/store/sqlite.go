package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	coreerr "github.com/protlit/protlit/internal/errors"
)

// SQLiteStore implements MetadataStore on SQLite with WAL mode.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	abstract        TEXT NOT NULL DEFAULT '',
	full_text       TEXT NOT NULL DEFAULT '',
	authors         TEXT NOT NULL DEFAULT '[]',
	journal         TEXT NOT NULL DEFAULT '',
	published_at    INTEGER NOT NULL,
	source          TEXT NOT NULL,
	doi             TEXT NOT NULL DEFAULT '',
	embedding       BLOB,
	embedding_model TEXT NOT NULL DEFAULT '',
	tombstone       INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	doc_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	text       TEXT NOT NULL,
	type       TEXT NOT NULL,
	confidence REAL NOT NULL,
	start_pos  INTEGER NOT NULL DEFAULT 0,
	end_pos    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entities_doc ON entities(doc_id);
CREATE INDEX IF NOT EXISTS idx_entities_text ON entities(text, type);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) the metadata database at path.
// An empty path opens an in-memory database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, coreerr.StoreUnavailable("create data directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, coreerr.StoreUnavailable("open metadata database", err)
	}

	// The in-memory DSN gives each connection its own database.
	if path == "" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, coreerr.StoreUnavailable("configure metadata database", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, coreerr.StoreUnavailable("create metadata schema", err)
	}

	return &SQLiteStore{db: db}, nil
}

// UpsertDocuments writes documents idempotently by ID within one transaction.
func (s *SQLiteStore) UpsertDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coreerr.StoreUnavailable("metadata store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return coreerr.StoreUnavailable("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, d := range docs {
		authors, err := json.Marshal(d.Authors)
		if err != nil {
			return fmt.Errorf("marshal authors for %s: %w", d.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents
				(id, title, abstract, full_text, authors, journal, published_at,
				 source, doi, embedding, embedding_model, tombstone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title=excluded.title, abstract=excluded.abstract,
				full_text=excluded.full_text, authors=excluded.authors,
				journal=excluded.journal, published_at=excluded.published_at,
				source=excluded.source, doi=excluded.doi,
				embedding=excluded.embedding, embedding_model=excluded.embedding_model,
				tombstone=excluded.tombstone, updated_at=excluded.updated_at`,
			d.ID, d.Title, d.Abstract, d.FullText, string(authors), d.Journal,
			d.PublishedAt.Unix(), string(d.Source), d.DOI,
			encodeVector(d.Embedding), d.EmbeddingModel, boolToInt(d.Tombstone),
			now, now)
		if err != nil {
			return coreerr.StoreUnavailable("upsert document "+d.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE doc_id = ?`, d.ID); err != nil {
			return coreerr.StoreUnavailable("clear entities for "+d.ID, err)
		}
		for _, e := range d.Entities {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO entities (doc_id, text, type, confidence, start_pos, end_pos)
				VALUES (?, ?, ?, ?, ?, ?)`,
				d.ID, e.Text, string(e.Type), e.Confidence, e.Start, e.End)
			if err != nil {
				return coreerr.StoreUnavailable("insert entity for "+d.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return coreerr.StoreUnavailable("commit upsert", err)
	}
	return nil
}

// GetDocument returns a document by ID, tombstones included.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, coreerr.StoreUnavailable("metadata store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx, selectDocuments+` WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coreerr.New(coreerr.ErrCodeDocumentMissing, "document not found: "+id, nil)
	}
	if err != nil {
		return nil, err
	}
	return s.attachEntities(ctx, doc)
}

// GetDocuments batch-fetches documents, skipping unknown IDs.
func (s *SQLiteStore) GetDocuments(ctx context.Context, ids []string) ([]*Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, coreerr.StoreUnavailable("metadata store is closed", nil)
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		selectDocuments+` WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, coreerr.StoreUnavailable("query documents", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	for i, d := range docs {
		if docs[i], err = s.attachEntities(ctx, d); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// ListDocuments returns all live documents ordered by ID.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, coreerr.StoreUnavailable("metadata store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		selectDocuments+` WHERE tombstone = 0 ORDER BY id`)
	if err != nil {
		return nil, coreerr.StoreUnavailable("list documents", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	for i, d := range docs {
		if docs[i], err = s.attachEntities(ctx, d); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// TombstoneDocument marks a document logically deleted.
// All three retrieval paths honor the flag on their next snapshot.
func (s *SQLiteStore) TombstoneDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coreerr.StoreUnavailable("metadata store is closed", nil)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET tombstone = 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return coreerr.StoreUnavailable("tombstone document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerr.New(coreerr.ErrCodeDocumentMissing, "document not found: "+id, nil)
	}
	return nil
}

// SetEmbedding stores a vector and its model version for a document.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, id string, vec []float32, modelVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coreerr.StoreUnavailable("metadata store is closed", nil)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET embedding = ?, embedding_model = ?, updated_at = ? WHERE id = ?`,
		encodeVector(vec), modelVersion, time.Now().Unix(), id)
	if err != nil {
		return coreerr.StoreUnavailable("store embedding", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerr.New(coreerr.ErrCodeDocumentMissing, "document not found: "+id, nil)
	}
	return nil
}

// GetState returns a state value, or "" when the key is absent.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", coreerr.StoreUnavailable("metadata store is closed", nil)
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", coreerr.StoreUnavailable("read state", err)
	}
	return value, nil
}

// SetState writes a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coreerr.StoreUnavailable("metadata store is closed", nil)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return coreerr.StoreUnavailable("write state", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

const selectDocuments = `
	SELECT id, title, abstract, full_text, authors, journal, published_at,
	       source, doi, embedding, embedding_model, tombstone, created_at, updated_at
	FROM documents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		d          Document
		authors    string
		published  int64
		source     string
		embedding  []byte
		tombstone  int
		created    int64
		updated    int64
	)
	err := row.Scan(&d.ID, &d.Title, &d.Abstract, &d.FullText, &authors,
		&d.Journal, &published, &source, &d.DOI, &embedding,
		&d.EmbeddingModel, &tombstone, &created, &updated)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(authors), &d.Authors); err != nil {
		return nil, fmt.Errorf("unmarshal authors for %s: %w", d.ID, err)
	}
	d.PublishedAt = time.Unix(published, 0).UTC()
	d.Source = Source(source)
	d.Embedding = decodeVector(embedding)
	d.Tombstone = tombstone != 0
	d.CreatedAt = time.Unix(created, 0).UTC()
	d.UpdatedAt = time.Unix(updated, 0).UTC()
	return &d, nil
}

func scanDocuments(rows *sql.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, coreerr.StoreUnavailable("scan document", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerr.StoreUnavailable("iterate documents", err)
	}
	return docs, nil
}

func (s *SQLiteStore) attachEntities(ctx context.Context, d *Document) (*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text, type, confidence, start_pos, end_pos
		FROM entities WHERE doc_id = ? ORDER BY start_pos`, d.ID)
	if err != nil {
		return nil, coreerr.StoreUnavailable("query entities", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e     EntityMention
			etype string
		)
		if err := rows.Scan(&e.Text, &etype, &e.Confidence, &e.Start, &e.End); err != nil {
			return nil, coreerr.StoreUnavailable("scan entity", err)
		}
		e.DocID = d.ID
		e.Type = EntityType(etype)
		d.Entities = append(d.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerr.StoreUnavailable("iterate entities", err)
	}
	return d, nil
}

// encodeVector packs a float32 slice as little-endian bytes for BLOB storage.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a BLOB written by encodeVector.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
