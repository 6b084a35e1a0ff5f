package mbtiles

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DefaultBatchSize is the number of tiles to buffer before flushing to the database.
	DefaultBatchSize = 64
)

type tileKey struct {
	z, x, y int
}

// Store is a read-write MBTiles tile cache. Writes are buffered and flushed in
// batches; reads see buffered tiles before they reach the database.
type Store struct {
	db        *sql.DB
	path      string
	pending   map[tileKey][]byte
	order     []tileKey
	batchSize int
	mu        sync.Mutex
}

// Open opens or creates an MBTiles cache at path. Metadata is written when the
// database is new and left untouched otherwise.
func Open(path string, metadata Metadata) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps WAL readers and the batch writer consistent.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	var metaRows int
	if err := db.QueryRow("SELECT COUNT(*) FROM metadata").Scan(&metaRows); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to inspect metadata: %w", err)
	}
	if metaRows == 0 {
		if err := insertMetadata(db, metadata); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to insert metadata: %w", err)
		}
	}

	return &Store{
		db:        db,
		path:      path,
		pending:   make(map[tileKey][]byte),
		batchSize: DefaultBatchSize,
	}, nil
}

// createSchema creates the MBTiles database schema.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT NOT NULL,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS tiles (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_data BLOB NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

func insertMetadata(db *sql.DB, meta Metadata) error {
	stmt, err := db.Prepare("INSERT INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare metadata insert: %w", err)
	}
	defer stmt.Close()

	for key, value := range meta.ToMap() {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("failed to insert metadata %q: %w", key, err)
		}
	}

	return nil
}

// Path returns the database file the store was opened on.
func (s *Store) Path() string {
	return s.path
}

// ReadTile returns the raw image bytes for an XYZ tile, or ErrTileNotFound.
func (s *Store) ReadTile(z, x, y int) ([]byte, error) {
	s.mu.Lock()
	if data, ok := s.pending[tileKey{z, x, y}]; ok {
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	var compressed []byte
	err := s.db.QueryRow(
		"SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?",
		z, x, tmsRow(z, y),
	).Scan(&compressed)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d/%d/%d", ErrTileNotFound, z, x, y)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tile: %w", err)
	}

	data, err := gzipDecompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress tile %d/%d/%d: %w", z, x, y, err)
	}

	return data, nil
}

// WriteTile buffers a tile. When the batch is full, it is automatically flushed.
func (s *Store) WriteTile(z, x, y int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tileKey{z, x, y}
	if _, ok := s.pending[key]; !ok {
		s.order = append(s.order, key)
	}
	s.pending[key] = data

	if len(s.order) >= s.batchSize {
		return s.flushLocked()
	}

	return nil
}

// Flush writes any buffered tiles to the database.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes buffered tiles to the database. Must be called with lock held.
func (s *Store) flushLocked() error {
	if len(s.order) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, key := range s.order {
		compressed, err := gzipCompress(s.pending[key])
		if err != nil {
			return fmt.Errorf("failed to compress tile %d/%d/%d: %w", key.z, key.x, key.y, err)
		}

		if _, err := stmt.Exec(key.z, key.x, tmsRow(key.z, key.y), compressed); err != nil {
			return fmt.Errorf("failed to insert tile %d/%d/%d: %w", key.z, key.x, key.y, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.pending = make(map[tileKey][]byte)
	s.order = s.order[:0]
	return nil
}

// Count returns the number of tiles in the cache, buffered tiles included.
func (s *Store) Count() (int, error) {
	if err := s.Flush(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tiles").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tiles: %w", err)
	}
	return n, nil
}

// Metadata reads metadata from the database.
func (s *Store) Metadata() (Metadata, error) {
	rows, err := s.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("error iterating metadata: %w", err)
	}

	return metadataFromMap(values), nil
}

// Close flushes any remaining tiles and closes the database.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		s.db.Close()
		return err
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// tmsRow flips an XYZ row into the TMS row numbering MBTiles uses.
func tmsRow(z, y int) int {
	return (1 << z) - 1 - y
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)

	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}

	if err := gw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
