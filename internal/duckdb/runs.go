package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/taxonium/usher2taxonium/internal/output"
)

// Run describes one exported document.
type Run struct {
	ID           string
	Source       FileFingerprint
	CreatedAt    time.Time
	TotalNodes   int64
	NumTips      int64
	NumMutations int64
}

// NodeRow is a node as stored in the nodes table.
type NodeRow struct {
	NodeID   int64
	Name     string
	ParentID int64
	X, Y     float64
	IsTip    bool
	NumTips  int64
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// WriteDocument stores a prepared document under runID. Metadata values
// that are empty are not stored. When loading fails after the run row was
// inserted, the partial run is removed again.
func (s *Store) WriteDocument(ctx context.Context, runID string, source FileFingerprint, doc *output.Document, now time.Time) error {
	numTips := int64(0)
	for _, n := range doc.Nodes {
		if n.IsLeaf() {
			numTips++
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, source.Path, source.Size, source.ModTime, now.UTC(),
		int64(len(doc.Nodes)), numTips, int64(doc.Catalog.Len()),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if err := s.appendDocument(ctx, runID, doc); err != nil {
		if derr := s.DeleteRun(context.WithoutCancel(ctx), runID); derr != nil {
			return errors.Join(err, derr)
		}
		return err
	}
	return nil
}

// appendDocument bulk loads the catalog, nodes and metadata of a run.
func (s *Store) appendDocument(ctx context.Context, runID string, doc *output.Document) error {
	err := s.appendTo(ctx, "mutations", func(a *goduckdb.Appender) error {
		for i, e := range doc.Catalog.Entries() {
			var nuc any
			if e.NucForCodon != nil {
				nuc = *e.NucForCodon
			}
			if err := a.AppendRow(
				runID, int64(e.MutationID), e.Type, e.Gene,
				e.PreviousResidue, e.ResiduePos, e.NewResidue, nuc,
				int64(doc.Catalog.Branches(i)),
			); err != nil {
				return fmt.Errorf("append mutation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.appendTo(ctx, "nodes", func(a *goduckdb.Appender) error {
		for i := range doc.Nodes {
			l := doc.Line(i)
			n := doc.Nodes[i]
			if err := a.AppendRow(
				runID, int64(l.NodeID), l.Name, int64(l.ParentID),
				n.X, n.Y, l.IsTip, int64(l.NumTips),
			); err != nil {
				return fmt.Errorf("append node: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.appendTo(ctx, "node_mutations", func(a *goduckdb.Appender) error {
		for i, n := range doc.Nodes {
			for _, id := range doc.Catalog.NodeIndices(n) {
				if err := a.AppendRow(runID, int64(i), int64(id)); err != nil {
					return fmt.Errorf("append node mutation: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(doc.Columns) == 0 {
		return nil
	}
	return s.appendTo(ctx, "node_metadata", func(a *goduckdb.Appender) error {
		for i := range doc.Nodes {
			for j, v := range doc.Meta(i) {
				if v == "" {
					continue
				}
				if err := a.AppendRow(runID, int64(i), doc.Columns[j], v); err != nil {
					return fmt.Errorf("append node metadata: %w", err)
				}
			}
		}
		return nil
	})
}

// LatestRun returns the most recent run exported from source, if any.
func (s *Store) LatestRun(ctx context.Context, source FileFingerprint) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		run_id, source_path, source_size, source_mtime, created_at,
		total_nodes, num_tips, num_mutations
		FROM runs
		WHERE source_path=?
		ORDER BY created_at DESC`, source.Path)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID, &r.Source.Path, &r.Source.Size, &r.Source.ModTime, &r.CreatedAt,
			&r.TotalNodes, &r.NumTips, &r.NumMutations,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.Source.Matches(source) {
			return &r, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return nil, nil
}

// DeleteRun removes every row of a run in one transaction.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"node_metadata", "node_mutations", "nodes", "mutations", "runs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id=?", runID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// LookupNode returns the stored node with the given name.
func (s *Store) LookupNode(ctx context.Context, runID, name string) (*NodeRow, error) {
	var n NodeRow
	err := s.db.QueryRowContext(ctx, `SELECT
		node_id, name, parent_id, x, y, is_tip, num_tips
		FROM nodes
		WHERE run_id=? AND name=?
		ORDER BY node_id
		LIMIT 1`, runID, name).
		Scan(&n.NodeID, &n.Name, &n.ParentID, &n.X, &n.Y, &n.IsTip, &n.NumTips)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query node: %w", err)
	}
	return &n, nil
}

// NodeMutations returns the labels of the mutations on a node's branch in
// catalog order, e.g. "S:D614G" or "A23403G".
func (s *Store) NodeMutations(ctx context.Context, runID string, nodeID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		m.type, m.gene, m.previous_residue, m.residue_pos, m.new_residue
		FROM node_mutations nm
		JOIN mutations m ON m.run_id = nm.run_id AND m.mutation_id = nm.mutation_id
		WHERE nm.run_id=? AND nm.node_id=?
		ORDER BY m.mutation_id`, runID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query node mutations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e output.Entry
		if err := rows.Scan(&e.Type, &e.Gene, &e.PreviousResidue, &e.ResiduePos, &e.NewResidue); err != nil {
			return nil, fmt.Errorf("scan node mutation: %w", err)
		}
		out = append(out, e.Label())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node mutations: %w", err)
	}
	return out, nil
}

// CountMutations returns the number of catalog entries of each type.
func (s *Store) CountMutations(ctx context.Context, runID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, count(*) FROM mutations WHERE run_id=? GROUP BY type`, runID)
	if err != nil {
		return nil, fmt.Errorf("count mutations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return out, nil
}

// MetadataValue returns a node's stored value for a column.
func (s *Store) MetadataValue(ctx context.Context, runID string, nodeID int64, column string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM node_metadata WHERE run_id=? AND node_id=? AND column_name=?`,
		runID, nodeID, column).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query metadata: %w", err)
	}
	return v, true, nil
}
