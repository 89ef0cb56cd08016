// Package duckdb exports converted trees to DuckDB so node, mutation and
// metadata tables can be queried with SQL.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"

	goduckdb "github.com/marcboeker/go-duckdb"
)

// Store manages a DuckDB connection holding exported runs.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates a DuckDB database at the given path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database path, empty for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id VARCHAR PRIMARY KEY,
		source_path VARCHAR,
		source_size BIGINT,
		source_mtime TIMESTAMP,
		created_at TIMESTAMP,
		total_nodes BIGINT,
		num_tips BIGINT,
		num_mutations BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS mutations (
		run_id VARCHAR,
		mutation_id BIGINT,
		type VARCHAR,
		gene VARCHAR,
		previous_residue VARCHAR,
		residue_pos INTEGER,
		new_residue VARCHAR,
		nuc_for_codon INTEGER,
		branches BIGINT,
		PRIMARY KEY (run_id, mutation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS nodes (
		run_id VARCHAR,
		node_id BIGINT,
		name VARCHAR,
		parent_id BIGINT,
		x DOUBLE,
		y DOUBLE,
		is_tip BOOLEAN,
		num_tips BIGINT,
		PRIMARY KEY (run_id, node_id)
	)`,
	`CREATE TABLE IF NOT EXISTS node_mutations (
		run_id VARCHAR,
		node_id BIGINT,
		mutation_id BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS node_metadata (
		run_id VARCHAR,
		node_id BIGINT,
		column_name VARCHAR,
		value VARCHAR
	)`,
}

// ensureSchema creates tables if they don't exist.
func (s *Store) ensureSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// appendTo runs fn with an appender on table and flushes it.
func (s *Store) appendTo(ctx context.Context, table string, fn func(*goduckdb.Appender) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", table)
		return err
	}); err != nil {
		return fmt.Errorf("create appender for %s: %w", table, err)
	}
	defer appender.Close()

	if err := fn(appender); err != nil {
		return err
	}
	return appender.Flush()
}
