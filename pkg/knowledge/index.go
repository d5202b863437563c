// Package knowledge indexes the user's document folder into a hybrid
// vector plus keyword search index backed by SQLite.
package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/knollapp/knoll/pkg/search"
)

func init() {
	sqlite_vec.Auto()
}

// Indexable document extensions.
var indexableExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// Options tunes hybrid search behavior.
type Options struct {
	Limit         int
	VectorWeight  float64
	KeywordWeight float64
	MinScore      float64
}

// Index is the knowledge-base search index. It watches the document
// folder, marks itself dirty on changes, and re-syncs lazily before the
// next search.
type Index struct {
	db       *sql.DB
	docsPath string
	embedder EmbeddingProvider
	watcher  *Watcher
	logger   zerolog.Logger

	ftsAvailable bool

	mu           sync.RWMutex
	dirty        bool
	syncing      bool
	lastSyncTime time.Time
}

// IndexConfig holds index configuration. Embedder may be nil; the index
// then degrades to keyword-only search.
type IndexConfig struct {
	DocsPath string
	DBPath   string
	Embedder EmbeddingProvider
	Logger   zerolog.Logger
}

// NewIndex opens the index database and starts watching the document
// folder. The index starts dirty so the first search triggers a sync.
func NewIndex(cfg IndexConfig) (*Index, error) {
	if cfg.DocsPath == "" {
		return nil, fmt.Errorf("documents path is required")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	idx := &Index{
		db:       db,
		docsPath: cfg.DocsPath,
		embedder: cfg.Embedder,
		logger:   cfg.Logger.With().Str("module", "knowledge").Logger(),
		dirty:    true,
	}

	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	watcher, err := NewWatcher(idx.logger, idx.MarkDirty)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Watch(cfg.DocsPath); err != nil {
		watcher.Stop()
		db.Close()
		return nil, fmt.Errorf("failed to watch documents folder: %w", err)
	}
	idx.watcher = watcher

	idx.logger.Info().Str("docs", cfg.DocsPath).Msg("Knowledge index initialized")
	return idx, nil
}

func (idx *Index) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			path         TEXT NOT NULL UNIQUE,
			title        TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			indexed_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);

		CREATE TABLE IF NOT EXISTS chunks (
			id          TEXT PRIMARY KEY,
			document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			content     TEXT NOT NULL,
			position    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding    BLOB NOT NULL,
			created_at   INTEGER NOT NULL
		);
	`
	if _, err := idx.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 needs the sqlite_fts5 build tag on mattn/go-sqlite3. Without
	// it keyword search degrades to substring matching over chunks.
	ftsSchema := `
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := idx.db.Exec(ftsSchema); err != nil {
		if !strings.Contains(err.Error(), "fts5") {
			return err
		}
		idx.logger.Warn().Msg("FTS5 module unavailable, keyword search degrades to substring matching")
	} else {
		idx.ftsAvailable = true
	}

	if idx.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, idx.embedder.Dimension())
		if _, err := idx.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// MarkDirty flags the index for re-sync before the next search.
func (idx *Index) MarkDirty() {
	idx.mu.Lock()
	idx.dirty = true
	idx.mu.Unlock()
}

// Search runs a hybrid vector plus keyword query and returns local
// search results ordered by combined score. A dirty index syncs first;
// sync failure degrades to searching the stale index.
func (idx *Index) Search(ctx context.Context, query string, opts *Options) ([]search.Result, error) {
	if query == "" {
		return nil, nil
	}
	if opts == nil {
		opts = &Options{Limit: 20, VectorWeight: 0.7, KeywordWeight: 0.3}
	}

	idx.mu.RLock()
	dirty := idx.dirty
	idx.mu.RUnlock()
	if dirty {
		if err := idx.Sync(ctx); err != nil {
			idx.logger.Warn().Err(err).Msg("Sync failed before search, using stale index")
		}
	}

	var (
		vectorHits  []scoredChunk
		keywordHits []scoredChunk
		vectorErr   error
		keywordErr  error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if idx.embedder != nil {
			vectorHits, vectorErr = idx.vectorSearch(ctx, query, 200)
		}
	}()
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = idx.keywordSearch(ctx, query, 200)
	}()
	wg.Wait()

	if vectorErr != nil {
		idx.logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
	}
	if keywordErr != nil {
		idx.logger.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
	}
	if vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("both search methods failed: %w", keywordErr)
	}

	merged := mergeScores(vectorHits, keywordHits, opts)
	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}

	results := make([]search.Result, 0, len(merged))
	for _, hit := range merged {
		var content, path, title string
		err := idx.db.QueryRowContext(ctx, `
			SELECT c.content, d.path, d.title
			FROM chunks c JOIN documents d ON c.document_id = d.id
			WHERE c.id = ?`, hit.chunkID).Scan(&content, &path, &title)
		if err != nil {
			idx.logger.Warn().Err(err).Str("chunk_id", hit.chunkID).
				Msg("Failed to fetch chunk details")
			continue
		}
		results = append(results, search.Result{
			ID:      hit.chunkID,
			Title:   title,
			Content: content,
			Score:   hit.score,
			Source:  search.SourceLocal,
			ChunkID: hit.chunkID,
			URL:     path,
		})
	}

	idx.logger.Debug().Str("query", query).Int("results", len(results)).
		Msg("Knowledge search completed")
	return results, nil
}

// GetChunks resolves chunk ids to their canonical detail records in one
// batched query. Unknown ids are simply absent from the result.
func (idx *Index) GetChunks(ctx context.Context, ids []string) (map[string]search.ChunkDetail, error) {
	if len(ids) == 0 {
		return map[string]search.ChunkDetail{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := idx.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id, c.content, d.path, d.title
		FROM chunks c JOIN documents d ON c.document_id = d.id
		WHERE c.id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	details := make(map[string]search.ChunkDetail, len(ids))
	for rows.Next() {
		var detail search.ChunkDetail
		if err := rows.Scan(&detail.ChunkID, &detail.Content, &detail.SourceURI, &detail.Title); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		details[detail.ChunkID] = detail
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}

	return details, nil
}

type scoredChunk struct {
	chunkID string
	score   float64
}

func (idx *Index) vectorSearch(ctx context.Context, query string, limit int) ([]scoredChunk, error) {
	embedding, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT chunk_id, vec_distance_cosine(embedding, ?) AS distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []scoredChunk
	for rows.Next() {
		var chunkID string
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, err
		}
		// Cosine distance in [0,2] maps to similarity in [-1,1].
		hits = append(hits, scoredChunk{chunkID: chunkID, score: 1.0 - distance})
	}
	return hits, rows.Err()
}

func (idx *Index) keywordSearch(ctx context.Context, query string, limit int) ([]scoredChunk, error) {
	if !idx.ftsAvailable {
		return idx.substringSearch(ctx, query, limit)
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []scoredChunk
	for rows.Next() {
		var chunkID string
		var score float64
		if err := rows.Scan(&chunkID, &score); err != nil {
			return nil, err
		}
		// BM25 scores come back negative.
		hits = append(hits, scoredChunk{chunkID: chunkID, score: -score})
	}
	return hits, rows.Err()
}

// substringSearch is the keyword fallback when the FTS5 module is not
// compiled in. Chunks are scored by case-insensitive term occurrence.
func (idx *Index) substringSearch(ctx context.Context, query string, limit int) ([]scoredChunk, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := idx.db.QueryContext(ctx, "SELECT id, content FROM chunks")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []scoredChunk
	for rows.Next() {
		var chunkID, content string
		if err := rows.Scan(&chunkID, &content); err != nil {
			return nil, err
		}

		lower := strings.ToLower(content)
		var score float64
		for _, term := range terms {
			score += float64(strings.Count(lower, term))
		}
		if score > 0 {
			hits = append(hits, scoredChunk{chunkID: chunkID, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].chunkID < hits[j].chunkID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// mergeScores combines both result sets with weighted, normalized
// scores, descending.
func mergeScores(vectorHits, keywordHits []scoredChunk, opts *Options) []scoredChunk {
	vectorMap := make(map[string]float64, len(vectorHits))
	keywordMap := make(map[string]float64, len(keywordHits))

	var maxKeyword float64
	for _, h := range vectorHits {
		vectorMap[h.chunkID] = h.score
	}
	for _, h := range keywordHits {
		keywordMap[h.chunkID] = h.score
		if h.score > maxKeyword {
			maxKeyword = h.score
		}
	}

	seen := make(map[string]bool)
	var merged []scoredChunk
	for _, m := range []map[string]float64{vectorMap, keywordMap} {
		for chunkID := range m {
			if seen[chunkID] {
				continue
			}
			seen[chunkID] = true

			var vectorScore, keywordScore float64
			if s, ok := vectorMap[chunkID]; ok {
				vectorScore = (s + 1) / 2
			}
			if s, ok := keywordMap[chunkID]; ok && maxKeyword > 0 {
				keywordScore = s / maxKeyword
			}

			combined := vectorScore*opts.VectorWeight + keywordScore*opts.KeywordWeight
			if opts.MinScore > 0 && combined < opts.MinScore {
				continue
			}
			merged = append(merged, scoredChunk{chunkID: chunkID, score: combined})
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].chunkID < merged[j].chunkID
	})
	return merged
}

// Sync walks the document folder and reindexes anything whose content
// hash changed, then prunes documents that no longer exist on disk.
func (idx *Index) Sync(ctx context.Context) error {
	idx.mu.Lock()
	if idx.syncing {
		idx.mu.Unlock()
		return fmt.Errorf("sync already in progress")
	}
	idx.syncing = true
	idx.mu.Unlock()

	defer func() {
		idx.mu.Lock()
		idx.syncing = false
		idx.dirty = false
		idx.lastSyncTime = time.Now()
		idx.mu.Unlock()
	}()

	start := time.Now()

	var docFiles []string
	err := filepath.WalkDir(idx.docsPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && indexableExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			relPath, _ := filepath.Rel(idx.docsPath, path)
			docFiles = append(docFiles, relPath)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk documents folder: %w", err)
	}

	indexed, skipped, chunkCount := 0, 0, 0
	for _, relPath := range docFiles {
		changed, chunks, err := idx.indexDocument(ctx, filepath.Join(idx.docsPath, relPath), relPath)
		if err != nil {
			idx.logger.Warn().Err(err).Str("document", relPath).Msg("Failed to index document")
			continue
		}
		if changed {
			indexed++
			chunkCount += chunks
		} else {
			skipped++
		}
	}

	pruned, err := idx.pruneDeleted(ctx, docFiles)
	if err != nil {
		idx.logger.Warn().Err(err).Msg("Failed to prune deleted documents")
	}

	idx.logger.Info().
		Int("indexed", indexed).
		Int("skipped", skipped).
		Int("chunks", chunkCount).
		Int("pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("Sync completed")
	return nil
}

// indexDocument reindexes a single document unless its hash is
// unchanged. Embedding failures skip the vector entry for that chunk
// but keep the chunk searchable by keyword.
func (idx *Index) indexDocument(ctx context.Context, fullPath, relPath string) (bool, int, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return false, 0, err
	}

	hash := sha256.Sum256(content)
	contentHash := hex.EncodeToString(hash[:])

	var existingHash string
	err = idx.db.QueryRowContext(ctx,
		"SELECT content_hash FROM documents WHERE path = ?", relPath).Scan(&existingHash)
	if err == nil && existingHash == contentHash {
		return false, 0, nil
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	// The virtual tables are not covered by the foreign-key cascade, so
	// a re-index must clear the old chunk rows everywhere itself.
	var oldDocID int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM documents WHERE path = ?", relPath).Scan(&oldDocID)
	if err != nil && err != sql.ErrNoRows {
		return false, 0, err
	}
	if err == nil {
		if err := idx.deleteDocument(ctx, tx, oldDocID); err != nil {
			return false, 0, err
		}
	}

	result, err := tx.ExecContext(ctx,
		"INSERT INTO documents (path, title, content_hash, indexed_at) VALUES (?, ?, ?, ?)",
		relPath, documentTitle(relPath, string(content)), contentHash, time.Now().Unix())
	if err != nil {
		return false, 0, err
	}
	docID, _ := result.LastInsertId()

	chunks := splitChunks(string(content))
	for i, text := range chunks {
		chunkID := fmt.Sprintf("%s#%d", relPath, i)

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chunks (id, document_id, content, position) VALUES (?, ?, ?, ?)",
			chunkID, docID, text, i); err != nil {
			return false, 0, err
		}
		if idx.ftsAvailable {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)",
				chunkID, text); err != nil {
				return false, 0, err
			}
		}

		if idx.embedder != nil {
			if err := idx.storeEmbedding(ctx, tx, chunkID, text); err != nil {
				idx.logger.Warn().Err(err).Str("chunk_id", chunkID).
					Msg("Failed to store embedding")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return true, len(chunks), nil
}

// storeEmbedding caches embeddings by content hash so re-chunked but
// unchanged text never re-hits the embeddings API.
func (idx *Index) storeEmbedding(ctx context.Context, tx *sql.Tx, chunkID, content string) error {
	hashBytes := sha256.Sum256([]byte(content))
	contentHash := hex.EncodeToString(hashBytes[:])

	var embedding []float32
	var cached []byte
	err := tx.QueryRowContext(ctx,
		"SELECT embedding FROM embedding_cache WHERE content_hash = ?", contentHash).Scan(&cached)
	if err == nil {
		if err := json.Unmarshal(cached, &embedding); err != nil {
			return fmt.Errorf("failed to unmarshal cached embedding: %w", err)
		}
	} else {
		embedding, err = idx.embedder.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("failed to generate embedding: %w", err)
		}

		data, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, created_at) VALUES (?, ?, ?)",
			contentHash, data, time.Now().Unix()); err != nil {
			return fmt.Errorf("failed to cache embedding: %w", err)
		}
	}

	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO embeddings (chunk_id, embedding) VALUES (?, ?)",
		chunkID, string(data)); err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	return nil
}

func (idx *Index) pruneDeleted(ctx context.Context, existing []string) (int, error) {
	existingSet := make(map[string]bool, len(existing))
	for _, path := range existing {
		existingSet[path] = true
	}

	rows, err := idx.db.QueryContext(ctx, "SELECT id, path FROM documents")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var toDelete []int64
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return 0, err
		}
		if !existingSet[path] {
			toDelete = append(toDelete, id)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(toDelete) == 0 {
		return 0, nil
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, docID := range toDelete {
		if err := idx.deleteDocument(ctx, tx, docID); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(toDelete), nil
}

// deleteDocument removes a document and its chunks from every table,
// including the FTS and vector tables that cascades cannot reach.
func (idx *Index) deleteDocument(ctx context.Context, tx *sql.Tx, docID int64) error {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM chunks WHERE document_id = ?", docID)
	if err != nil {
		return err
	}
	var chunkIDs []string
	for rows.Next() {
		var chunkID string
		if err := rows.Scan(&chunkID); err != nil {
			rows.Close()
			return err
		}
		chunkIDs = append(chunkIDs, chunkID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, chunkID := range chunkIDs {
		if idx.ftsAvailable {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM chunks_fts WHERE chunk_id = ?", chunkID); err != nil {
				return err
			}
		}
		if idx.embedder != nil {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM embeddings WHERE chunk_id = ?", chunkID); err != nil {
				return err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", docID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", docID); err != nil {
		return err
	}
	return nil
}

// Close stops the watcher and closes the database.
func (idx *Index) Close() error {
	if idx.watcher != nil {
		idx.watcher.Stop()
	}
	return idx.db.Close()
}

// documentTitle takes the first markdown heading, falling back to the
// file name without extension.
func documentTitle(relPath, content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
		if trimmed != "" {
			break
		}
	}
	base := filepath.Base(relPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

const (
	chunkMaxSize = 1000
	chunkOverlap = 50
)

// splitChunks splits a document into overlapping line-aligned chunks.
func splitChunks(content string) []string {
	var chunks []string
	var current strings.Builder

	for _, line := range strings.Split(content, "\n") {
		if current.Len() > 0 && current.Len()+len(line)+1 > chunkMaxSize {
			text := current.String()
			chunks = append(chunks, strings.TrimSpace(text))

			current.Reset()
			if len(text) > chunkOverlap {
				current.WriteString(text[len(text)-chunkOverlap:])
			}
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
		chunks = append(chunks, trimmed)
	}
	return chunks
}
