// Package sqlite persists a vector index as a directory holding one SQLite
// database. Builds are written to a sibling temp directory and swapped in
// by rename, so readers see either the previous index or the new one.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"greenrag/internal/domain"
	"greenrag/internal/logger"
	"greenrag/internal/vectorstore"
	"greenrag/internal/vectorstore/memory"
)

// DBFile is the database file name inside the index directory.
const DBFile = "index.db"

//go:embed schema.sql
var schema string

var _ vectorstore.Store = (*Store)(nil)

// Store keeps an index under a fixed directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store { return &Store{dir: dir} }

func (s *Store) Name() string { return "sqlite" }

// Dir returns the index directory.
func (s *Store) Dir() string { return s.dir }

// Exists reports whether the index directory exists.
func (s *Store) Exists(context.Context) bool {
	_, err := os.Stat(s.dir)
	return err == nil
}

// Build writes a complete index and replaces any existing one.
func (s *Store) Build(ctx context.Context, chunks []domain.Chunk, vectors [][]float32, manifest domain.Manifest) (vectorstore.Index, error) {
	idx, err := memory.NewStorage(chunks, vectors, manifest)
	if err != nil {
		return nil, err
	}
	manifest = idx.Manifest()

	parent := filepath.Dir(s.dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("creating index parent directory: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(s.dir)+".building-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := writeDB(ctx, filepath.Join(tmp, DBFile), chunks, vectors, manifest); err != nil {
		return nil, err
	}
	if err := s.swap(tmp); err != nil {
		return nil, err
	}
	committed = true
	logger.Info("Index written to %s (%d chunks)", s.dir, len(chunks))
	return idx, nil
}

// swap moves the staged directory into place, restoring the old one on failure.
func (s *Store) swap(staged string) error {
	var old string
	if _, err := os.Stat(s.dir); err == nil {
		old = staged + ".old"
		if err := os.Rename(s.dir, old); err != nil {
			return fmt.Errorf("moving previous index aside: %w", err)
		}
	}
	if err := os.Rename(staged, s.dir); err != nil {
		if old != "" {
			_ = os.Rename(old, s.dir)
		}
		return fmt.Errorf("installing index: %w", err)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			logger.Warn("Could not remove previous index %s: %v", old, err)
		}
	}
	return nil
}

func writeDB(ctx context.Context, path string, chunks []domain.Chunk, vectors [][]float32, manifest domain.Manifest) error {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (position, content, page, article, source, embedding) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		var page sql.NullInt64
		if c.Metadata.Page != nil {
			page = sql.NullInt64{Int64: int64(*c.Metadata.Page), Valid: true}
		}
		var article sql.NullString
		if c.Metadata.Article != nil {
			article = sql.NullString{String: *c.Metadata.Article, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, i, c.Content, page, article, c.Metadata.Source, encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	meta := map[string]string{
		"build_id":    manifest.BuildID,
		"model":       manifest.Model,
		"dimension":   strconv.Itoa(manifest.Dimension),
		"chunk_count": strconv.Itoa(len(chunks)),
		"created_at":  manifest.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO manifest (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index: %w", err)
	}
	return db.Close()
}

// Open loads the persisted index into memory.
func (s *Store) Open(ctx context.Context) (vectorstore.Index, error) {
	path := filepath.Join(s.dir, DBFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat index: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	manifest, err := readManifest(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNotFound, path, err)
	}
	chunks, vectors, err := readChunks(ctx, db, manifest.Dimension)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNotFound, path, err)
	}
	if len(chunks) != manifest.ChunkCount {
		return nil, fmt.Errorf("%w: %s: manifest lists %d chunks, found %d", domain.ErrNotFound, path, manifest.ChunkCount, len(chunks))
	}
	logger.Debug("Loaded %d chunks from %s", len(chunks), path)
	return memory.NewStorage(chunks, vectors, manifest)
}

func readManifest(ctx context.Context, db *sql.DB) (domain.Manifest, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM manifest`)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}
	defer rows.Close()

	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return domain.Manifest{}, err
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return domain.Manifest{}, err
	}

	var m domain.Manifest
	m.BuildID = meta["build_id"]
	m.Model = meta["model"]
	if m.Dimension, err = strconv.Atoi(meta["dimension"]); err != nil || m.Dimension <= 0 {
		return m, fmt.Errorf("invalid dimension %q", meta["dimension"])
	}
	if m.ChunkCount, err = strconv.Atoi(meta["chunk_count"]); err != nil {
		return m, fmt.Errorf("invalid chunk count %q", meta["chunk_count"])
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, meta["created_at"]); err != nil {
		return m, fmt.Errorf("invalid created_at %q", meta["created_at"])
	}
	return m, nil
}

func readChunks(ctx context.Context, db *sql.DB, dimension int) ([]domain.Chunk, [][]float32, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT content, page, article, source, embedding FROM chunks ORDER BY position`)
	if err != nil {
		return nil, nil, fmt.Errorf("reading chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	var vectors [][]float32
	for rows.Next() {
		var (
			c       domain.Chunk
			page    sql.NullInt64
			article sql.NullString
			blob    []byte
		)
		if err := rows.Scan(&c.Content, &page, &article, &c.Metadata.Source, &blob); err != nil {
			return nil, nil, err
		}
		if page.Valid {
			p := int(page.Int64)
			c.Metadata.Page = &p
		}
		if article.Valid {
			a := article.String
			c.Metadata.Article = &a
		}
		v, err := decodeVector(blob, dimension)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %d: %w", len(chunks), err)
		}
		chunks = append(chunks, c)
		vectors = append(vectors, v)
	}
	return chunks, vectors, rows.Err()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte, dimension int) ([]float32, error) {
	if len(b) != 4*dimension {
		return nil, fmt.Errorf("embedding has %d bytes, want %d", len(b), 4*dimension)
	}
	out := make([]float32, dimension)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
