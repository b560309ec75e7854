package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registers "sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	document_id             TEXT PRIMARY KEY,
	file_path                TEXT NOT NULL,
	content_hash             TEXT NOT NULL,
	last_modified_timestamp  REAL NOT NULL,
	chunk_index              INTEGER NOT NULL,
	total_chunks             INTEGER NOT NULL,
	extracted_text_chunk     TEXT NOT NULL,
	original_path            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);

CREATE TABLE IF NOT EXISTS kv_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// State keys recorded alongside the index so a later run can detect that the
// on-disk index was built with a different embedding configuration.
const (
	StateKeyDimensions = "index_embedding_dimension"
	StateKeyModel      = "index_embedding_model"
)

// ErrSchemaMismatch is returned by OpenOrCreate when an existing index's
// recorded dimension or model disagrees with the requested configuration.
// Per the index's schema-mismatch invariant, the caller must decide whether
// to rebuild (DeleteAll) or fail the whole run (ConfigError).
type ErrSchemaMismatch struct {
	WantDimensions int
	GotDimensions  int
	WantModel      string
	GotModel       string
}

func (e ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("index schema mismatch: built with model=%q dims=%d, requested model=%q dims=%d",
		e.GotModel, e.GotDimensions, e.WantModel, e.WantDimensions)
}

type sqliteStore struct {
	db         *sql.DB
	vectors    VectorStore
	vectorPath string
}

var _ Store = (*sqliteStore)(nil)

// OpenOrCreate opens (or initializes) the index rooted at dir — the
// directory named by LANCEDB_URI. It creates the SQLite row table and the
// HNSW vector graph if absent, and verifies that an existing index's
// recorded dimensions/model match dims/modelName, returning
// ErrSchemaMismatch if not.
func OpenOrCreate(dir string, dims int, modelName string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	dbPath := filepath.Join(dir, "metadata.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	gotDims, gotModel, err := readState(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	if gotDims == 0 && gotModel == "" {
		if err := writeState(db, dims, modelName); err != nil {
			db.Close()
			return nil, err
		}
	} else if gotDims != dims || gotModel != modelName {
		db.Close()
		return nil, ErrSchemaMismatch{
			WantDimensions: dims, GotDimensions: gotDims,
			WantModel: modelName, GotModel: gotModel,
		}
	}

	vectors, err := NewHNSWStore(VectorStoreConfig{Dimensions: dims, Metric: "cos"})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	vectorPath := filepath.Join(dir, "vectors.hnsw")
	if _, err := os.Stat(vectorPath); err == nil {
		if err := vectors.Load(vectorPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("load vector store: %w", err)
		}
	}

	return &sqliteStore{db: db, vectors: vectors, vectorPath: vectorPath}, nil
}

func readState(db *sql.DB) (dims int, model string, err error) {
	row := db.QueryRow(`SELECT value FROM kv_state WHERE key = ?`, StateKeyDimensions)
	var dimStr string
	if err := row.Scan(&dimStr); err == nil {
		fmt.Sscanf(dimStr, "%d", &dims)
	} else if err != sql.ErrNoRows {
		return 0, "", fmt.Errorf("read dimension state: %w", err)
	}

	row = db.QueryRow(`SELECT value FROM kv_state WHERE key = ?`, StateKeyModel)
	if err := row.Scan(&model); err != nil && err != sql.ErrNoRows {
		return 0, "", fmt.Errorf("read model state: %w", err)
	}

	return dims, model, nil
}

func writeState(db *sql.DB, dims int, model string) error {
	_, err := db.Exec(`INSERT INTO kv_state(key, value) VALUES (?, ?), (?, ?)`,
		StateKeyDimensions, fmt.Sprintf("%d", dims),
		StateKeyModel, model,
	)
	if err != nil {
		return fmt.Errorf("write index state: %w", err)
	}
	return nil
}

func (s *sqliteStore) Upsert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (document_id, file_path, content_hash, last_modified_timestamp,
			chunk_index, total_chunks, extracted_text_chunk, original_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			file_path = excluded.file_path,
			content_hash = excluded.content_hash,
			last_modified_timestamp = excluded.last_modified_timestamp,
			chunk_index = excluded.chunk_index,
			total_chunks = excluded.total_chunks,
			extracted_text_chunk = excluded.extracted_text_chunk,
			original_path = excluded.original_path
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, len(rows))
	vectors := make([][]float32, len(rows))
	for i, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.DocumentID, r.FilePath, r.ContentHash, r.LastModifiedTimestamp,
			r.ChunkIndex, r.TotalChunks, r.ExtractedTextChunk, r.OriginalPath); err != nil {
			return fmt.Errorf("upsert row %s: %w", r.DocumentID, err)
		}
		ids[i] = r.DocumentID
		vectors[i] = r.Vector
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	if err := s.vectors.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	return s.persistVectors()
}

func (s *sqliteStore) DeleteWhereFilePathEq(ctx context.Context, path string) error {
	return s.DeleteWhereFilePathIn(ctx, []string{path})
}

func (s *sqliteStore) DeleteWhereFilePathIn(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	for _, path := range paths {
		rows, err := tx.QueryContext(ctx, `SELECT document_id FROM chunks WHERE file_path = ?`, path)
		if err != nil {
			return fmt.Errorf("query chunks for %s: %w", path, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan chunk id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, path); err != nil {
			return fmt.Errorf("delete chunks for %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}
	if err := s.vectors.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return s.persistVectors()
}

func (s *sqliteStore) ScanIndexState(ctx context.Context) (map[string]IndexStateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, content_hash, MAX(total_chunks)
		FROM chunks
		GROUP BY file_path
	`)
	if err != nil {
		return nil, fmt.Errorf("scan index state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]IndexStateEntry)
	for rows.Next() {
		var path, hash string
		var total uint32
		if err := rows.Scan(&path, &hash, &total); err != nil {
			return nil, fmt.Errorf("scan index state row: %w", err)
		}
		state[path] = IndexStateEntry{ContentHash: hash, TotalChunks: total}
	}
	return state, rows.Err()
}

func (s *sqliteStore) LookupFileState(ctx context.Context, filePath string) (IndexStateEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash, MAX(total_chunks)
		FROM chunks WHERE file_path = ?
		GROUP BY file_path
	`, filePath)

	var entry IndexStateEntry
	err := row.Scan(&entry.ContentHash, &entry.TotalChunks)
	if err == sql.ErrNoRows {
		return IndexStateEntry{}, false, nil
	}
	if err != nil {
		return IndexStateEntry{}, false, fmt.Errorf("lookup file state for %s: %w", filePath, err)
	}
	return entry, true, nil
}

func (s *sqliteStore) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	hits, err := s.vectors.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		row, err := s.rowByID(ctx, hit.ID)
		if err != nil {
			return nil, err
		}
		if row == nil {
			// Vector exists but the row was deleted out from under it; skip.
			continue
		}
		results = append(results, SearchResult{Row: *row, Distance: hit.Distance, Score: hit.Score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	return results, nil
}

func (s *sqliteStore) rowByID(ctx context.Context, id string) (*Row, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document_id, file_path, content_hash, last_modified_timestamp,
			chunk_index, total_chunks, extracted_text_chunk, original_path
		FROM chunks WHERE document_id = ?
	`, id)

	var r Row
	err := row.Scan(&r.DocumentID, &r.FilePath, &r.ContentHash, &r.LastModifiedTimestamp,
		&r.ChunkIndex, &r.TotalChunks, &r.ExtractedTextChunk, &r.OriginalPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load row %s: %w", id, err)
	}
	return &r, nil
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("delete all chunks: %w", err)
	}
	for _, id := range s.vectors.AllIDs() {
		_ = s.vectors.Delete(ctx, []string{id})
	}
	return s.persistVectors()
}

func (s *sqliteStore) persistVectors() error {
	if err := s.vectors.Save(s.vectorPath); err != nil {
		return fmt.Errorf("persist vector store: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if err := s.vectors.Close(); err != nil {
		return fmt.Errorf("close vector store: %w", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close metadata db: %w", err)
	}
	return nil
}
