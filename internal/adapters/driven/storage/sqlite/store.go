// Package sqlite implements the index store on SQLite. Documents, chunks,
// embeddings and the inverted term index live in one database file opened
// in WAL mode. Dense and lexical scoring happen in Go over SQL-filtered
// candidate sets.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/mailindex/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/mailindex/internal/core/domain"
	"github.com/custodia-labs/mailindex/internal/core/ports/driven"
	"github.com/custodia-labs/mailindex/internal/lexical"
)

// Ensure Store implements both index interfaces.
var (
	_ driven.IndexStore  = (*Store)(nil)
	_ driven.SearchIndex = (*Store)(nil)
)

// Store is the SQLite-backed index store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite index store at the specified data directory.
// If dataDir is empty, defaults to ~/.mailindex/data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".mailindex", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "index.db")

	// WAL mode for concurrent reads during ingestion.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(
			"INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// EnsureModel records which embedding model populated this index, or fails
// when the index was built with a different model or dimensionality. Vectors
// from different models are not comparable, so a mismatch requires a fresh
// index rather than a silent mix.
func (s *Store) EnsureModel(ctx context.Context, model string, dimensions int) error {
	var storedModel string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM index_meta WHERE key = 'embedding_model'").Scan(&storedModel)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO index_meta (key, value) VALUES
				('embedding_model', ?),
				('embedding_dimensions', ?)
		`, model, strconv.Itoa(dimensions))
		if err != nil {
			return fmt.Errorf("recording embedding model: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading embedding model: %w", err)
	}

	var storedDims string
	if err := s.db.QueryRowContext(ctx,
		"SELECT value FROM index_meta WHERE key = 'embedding_dimensions'").Scan(&storedDims); err != nil {
		return fmt.Errorf("reading embedding dimensions: %w", err)
	}

	if storedModel != model || storedDims != strconv.Itoa(dimensions) {
		return fmt.Errorf("index built with model %s (%s dims), configured %s (%d dims): %w",
			storedModel, storedDims, model, dimensions, domain.ErrDimensionMismatch)
	}
	return nil
}

// SaveDocument stores or updates document metadata and clears any tombstone.
func (s *Store) SaveDocument(ctx context.Context, doc *domain.Document) error {
	now := time.Now().UTC()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, namespace, filetype, subject, sender, received_at, filename,
			 content_hash, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			namespace = excluded.namespace,
			filetype = excluded.filetype,
			subject = excluded.subject,
			sender = excluded.sender,
			received_at = excluded.received_at,
			filename = excluded.filename,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, doc.ID, doc.Namespace, string(doc.Filetype), doc.Source.Subject, doc.Source.From,
		nullTime(doc.Source.ReceivedAt), doc.Source.Filename, doc.ContentHash, createdAt, now)

	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID, tombstoned or not.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, filetype, subject, sender, received_at, filename,
		       content_hash, created_at, updated_at, deleted_at
		FROM documents WHERE id = ?
	`, id)

	var doc domain.Document
	var filetype string
	var receivedAt, deletedAt sql.NullTime
	if err := row.Scan(&doc.ID, &doc.Namespace, &filetype, &doc.Source.Subject,
		&doc.Source.From, &receivedAt, &doc.Source.Filename, &doc.ContentHash,
		&doc.CreatedAt, &doc.UpdatedAt, &deletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Filetype = domain.Filetype(filetype)
	if receivedAt.Valid {
		doc.Source.ReceivedAt = receivedAt.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		doc.DeletedAt = &t
	}

	return &doc, nil
}

// ListChunkHashes returns ordinal -> contentHash for a document's chunks.
func (s *Store) ListChunkHashes(ctx context.Context, documentID string) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, content_hash FROM chunks WHERE document_id = ?
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunk hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[int]string)
	for rows.Next() {
		var ordinal int
		var hash string
		if err := rows.Scan(&ordinal, &hash); err != nil {
			return nil, fmt.Errorf("scanning chunk hash: %w", err)
		}
		hashes[ordinal] = hash
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk hashes: %w", err)
	}

	return hashes, nil
}

// UpsertChunk writes a chunk keyed by (document_id, ordinal) with
// conditional-write semantics. The chunk row and its term index are replaced
// in one transaction so readers never see a half-written chunk.
func (s *Store) UpsertChunk(ctx context.Context, chunk *domain.Chunk) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existingHash string
	err = tx.QueryRowContext(ctx, `
		SELECT content_hash FROM chunks WHERE document_id = ? AND ordinal = ?
	`, chunk.DocumentID, chunk.Ordinal).Scan(&existingHash)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("checking existing chunk: %w", err)
	}
	if err == nil && existingHash == chunk.ContentHash {
		return false, nil
	}

	positionJSON, err := json.Marshal(chunk.Position)
	if err != nil {
		return false, fmt.Errorf("marshalling position: %w", err)
	}

	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunks
			(id, document_id, ordinal, text, token_count, overlap, position,
			 embedding, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, ordinal) DO UPDATE SET
			id = excluded.id,
			text = excluded.text,
			token_count = excluded.token_count,
			overlap = excluded.overlap,
			position = excluded.position,
			embedding = excluded.embedding,
			content_hash = excluded.content_hash
	`, chunk.ID, chunk.DocumentID, chunk.Ordinal, chunk.Text, chunk.TokenCount,
		chunk.Overlap, string(positionJSON), float32SliceToBytes(chunk.Embedding),
		chunk.ContentHash, createdAt)
	if err != nil {
		return false, fmt.Errorf("saving chunk: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunk_terms WHERE chunk_id = ?", chunk.ID); err != nil {
		return false, fmt.Errorf("clearing chunk terms: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunk_terms (chunk_id, term, tf) VALUES (?, ?, ?)")
	if err != nil {
		return false, fmt.Errorf("preparing term statement: %w", err)
	}
	defer stmt.Close()

	for term, tf := range lexical.TermCounts(chunk.Text) {
		if _, err := stmt.ExecContext(ctx, chunk.ID, term, tf); err != nil {
			return false, fmt.Errorf("saving chunk term: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// DeleteChunksFrom removes a document's chunks at or above the given ordinal.
func (s *Store) DeleteChunksFrom(ctx context.Context, documentID string, fromOrdinal int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chunks WHERE document_id = ? AND ordinal >= ?
	`, documentID, fromOrdinal)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// TombstoneDocument marks a document deleted. Chunks stay on disk but become
// invisible to search and hydration immediately.
func (s *Store) TombstoneDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("tombstoning document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking tombstone result: %w", err)
	}
	if affected == 0 {
		// Either missing or already tombstoned; distinguish the two.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents WHERE id = ?", id).Scan(&exists); err != nil {
			return fmt.Errorf("checking document: %w", err)
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

// GetChunk retrieves a live chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.document_id, c.ordinal, c.text, c.token_count, c.overlap,
		       c.position, c.embedding, c.content_hash, c.created_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id = ? AND d.deleted_at IS NULL
	`, id)

	var chunk domain.Chunk
	var positionJSON string
	var embeddingBlob []byte
	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Ordinal, &chunk.Text,
		&chunk.TokenCount, &chunk.Overlap, &positionJSON, &embeddingBlob,
		&chunk.ContentHash, &chunk.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	if err := json.Unmarshal([]byte(positionJSON), &chunk.Position); err != nil {
		return nil, fmt.Errorf("unmarshaling position: %w", err)
	}
	chunk.Embedding = bytesToFloat32Slice(embeddingBlob)

	return &chunk, nil
}

// DenseSearch ranks SQL-filtered candidates by cosine similarity in Go.
func (s *Store) DenseSearch(ctx context.Context, namespace string, query []float32,
	filters domain.Filters, limit int) ([]driven.SearchHit, error) {
	if namespace == "" || len(query) == 0 {
		return nil, nil
	}

	where, args := filterClause(namespace, filters)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.ordinal, c.embedding
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dense candidates: %w", err)
	}
	defer rows.Close()

	var hits []driven.SearchHit //nolint:prealloc // size unknown from query
	for rows.Next() {
		var hit driven.SearchHit
		var embeddingBlob []byte
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.Ordinal, &embeddingBlob); err != nil {
			return nil, fmt.Errorf("scanning dense candidate: %w", err)
		}

		embedding := bytesToFloat32Slice(embeddingBlob)
		if len(embedding) != len(query) {
			continue
		}
		hit.Score = cosine(query, embedding)
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dense candidates: %w", err)
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// LexicalSearch ranks SQL-filtered candidates by BM25 over the term index.
func (s *Store) LexicalSearch(ctx context.Context, namespace string, terms []string,
	filters domain.Filters, limit int) ([]driven.SearchHit, error) {
	if namespace == "" || len(terms) == 0 {
		return nil, nil
	}

	// Candidate set defines the corpus statistics: chunk count, average
	// length and per-term document frequency are all computed over it.
	where, args := filterClause(namespace, filters)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, c.ordinal, c.token_count
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lexical candidates: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		hit        driven.SearchHit
		tokenCount int
	}
	var candidates []candidate //nolint:prealloc // size unknown from query
	byChunkID := make(map[string]int)
	var totalTokens int
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.hit.ChunkID, &c.hit.DocumentID, &c.hit.Ordinal,
			&c.tokenCount); err != nil {
			return nil, fmt.Errorf("scanning lexical candidate: %w", err)
		}
		byChunkID[c.hit.ChunkID] = len(candidates)
		candidates = append(candidates, c)
		totalTokens += c.tokenCount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lexical candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(terms))
	placeholders = placeholders[:len(placeholders)-1]
	termArgs := make([]any, 0, len(terms))
	for _, term := range terms {
		termArgs = append(termArgs, term)
	}

	termRows, err := s.db.QueryContext(ctx, `
		SELECT t.chunk_id, t.term, t.tf
		FROM chunk_terms t
		JOIN chunks c ON c.id = t.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE t.term IN (`+placeholders+`) AND `+where, append(termArgs, args...)...)
	if err != nil {
		return nil, fmt.Errorf("querying term index: %w", err)
	}
	defer termRows.Close()

	counts := make(map[string]map[string]int) // chunkID -> term -> tf
	stats := lexical.CorpusStats{
		ChunkCount: len(candidates),
		AvgTokens:  float64(totalTokens) / float64(len(candidates)),
		DocFreq:    make(map[string]int),
	}
	for termRows.Next() {
		var chunkID, term string
		var tf int
		if err := termRows.Scan(&chunkID, &term, &tf); err != nil {
			return nil, fmt.Errorf("scanning term row: %w", err)
		}
		if counts[chunkID] == nil {
			counts[chunkID] = make(map[string]int)
		}
		counts[chunkID][term] = tf
		stats.DocFreq[term]++
	}
	if err := termRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating term rows: %w", err)
	}

	var hits []driven.SearchHit
	for chunkID, termCounts := range counts {
		i, ok := byChunkID[chunkID]
		if !ok {
			continue
		}
		score := lexical.Score(terms, termCounts, candidates[i].tokenCount, stats)
		if score <= 0 {
			continue
		}
		hit := candidates[i].hit
		hit.Score = score
		hits = append(hits, hit)
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// filterClause builds the shared candidate WHERE clause: live documents in
// the namespace, narrowed by any metadata filters.
func filterClause(namespace string, filters domain.Filters) (string, []any) {
	clauses := []string{"d.deleted_at IS NULL", "d.namespace = ?"}
	args := []any{namespace}

	if filters.After != nil {
		clauses = append(clauses, "d.received_at >= ?")
		args = append(args, filters.After.UTC())
	}
	if filters.Before != nil {
		clauses = append(clauses, "d.received_at <= ?")
		args = append(args, filters.Before.UTC())
	}
	if filters.Sender != "" {
		clauses = append(clauses, "LOWER(d.sender) = LOWER(?)")
		args = append(args, filters.Sender)
	}
	if filters.SubjectContains != "" {
		clauses = append(clauses, "INSTR(LOWER(d.subject), LOWER(?)) > 0")
		args = append(args, filters.SubjectContains)
	}
	if filters.Filetype != "" {
		clauses = append(clauses, "d.filetype = ?")
		args = append(args, string(filters.Filetype))
	}

	return strings.Join(clauses, " AND "), args
}

// sortHits orders by descending score, then (documentID, ordinal) ascending.
func sortHits(hits []driven.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if c := strings.Compare(hits[i].DocumentID, hits[j].DocumentID); c != 0 {
			return c < 0
		}
		return hits[i].Ordinal < hits[j].Ordinal
	})
}

// cosine computes cosine similarity between two equal-length vectors.
func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
