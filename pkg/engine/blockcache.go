package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"

	"github.com/nushell/nushell-sub009/pkg/ast"
	"github.com/nushell/nushell-sub009/pkg/ir"
)

// BlockCache persists compiled blocks in SQLite using the versioned wire
// encoding, so repeat invocations of a shell skip recompilation. Rows that
// fail to decode (stale wire version, corruption) are treated as misses
// and evicted; the cache never makes a lookup fail.
type BlockCache struct {
	db   *sql.DB
	log  commonlog.Logger
	mu   sync.Mutex
	path string
}

// OpenBlockCache opens (or creates) a cache database at path.
func OpenBlockCache(path string, log commonlog.Logger) (*BlockCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blocks (
		id   INTEGER PRIMARY KEY,
		wire BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating blocks table: %w", err)
	}
	return &BlockCache{db: db, log: log, path: path}, nil
}

// Close closes the underlying database.
func (c *BlockCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get loads a cached block. Any decode failure evicts the row and reports
// a miss.
func (c *BlockCache) Get(id ast.BlockID) (*ir.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var wire []byte
	err := c.db.QueryRow("SELECT wire FROM blocks WHERE id = ?", int64(id)).Scan(&wire)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		if c.log != nil {
			c.log.Warningf("reading cached block %d: %v", id, err)
		}
		return nil, false
	}
	block, err := ir.UnmarshalBlock(wire)
	if err != nil {
		if c.log != nil {
			c.log.Warningf("evicting undecodable cached block %d: %v", id, err)
		}
		_, _ = c.db.Exec("DELETE FROM blocks WHERE id = ?", int64(id))
		return nil, false
	}
	return block, true
}

// Put stores a compiled block, replacing any previous row.
func (c *BlockCache) Put(id ast.BlockID, block *ir.Block) error {
	wire, err := ir.MarshalBlock(block)
	if err != nil {
		return fmt.Errorf("encoding block %d: %w", id, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec(
		"INSERT OR REPLACE INTO blocks (id, wire) VALUES (?, ?)",
		int64(id), wire,
	); err != nil {
		return fmt.Errorf("writing block %d: %w", id, err)
	}
	return nil
}

// Purge drops every cached block.
func (c *BlockCache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec("DELETE FROM blocks"); err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	return nil
}
