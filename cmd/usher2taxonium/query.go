package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taxonium/usher2taxonium/internal/duckdb"
)

func (a *app) newQueryCmd() *cobra.Command {
	var (
		dbPath  string
		runID   string
		input   string
		columns []string
	)

	cmd := &cobra.Command{
		Use:   "query <node-name>...",
		Short: "Look up nodes in a DuckDB export",
		Example: `  usher2taxonium query --duckdb runs.duckdb --input tree.pb England/QEUH-13ADEF8/2020
  usher2taxonium query --duckdb runs.duckdb --run 6f1c... -c country,date node_1 node_2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return fmt.Errorf("%w: --duckdb is required", errUsage)
			}
			if runID == "" && input == "" {
				return fmt.Errorf("%w: one of --run or --input is required", errUsage)
			}

			store, err := duckdb.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if runID == "" {
				runID, err = latestRunID(ctx, store, input)
				if err != nil {
					return err
				}
			}
			a.logger.Debug("querying run", zap.String("run_id", runID))
			return a.queryNodes(ctx, store, runID, columns, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&dbPath, "duckdb", "", "DuckDB file written by convert --duckdb")
	f.StringVar(&runID, "run", "", "run id to query")
	f.StringVarP(&input, "input", "i", "", "query the latest run exported from this input file")
	f.StringSliceVarP(&columns, "columns", "c", nil, "metadata columns to show")

	return cmd
}

func latestRunID(ctx context.Context, store *duckdb.Store, input string) (string, error) {
	fp, err := duckdb.StatFile(input)
	if err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}
	run, err := store.LatestRun(ctx, fp)
	if err != nil {
		return "", err
	}
	if run == nil {
		return "", fmt.Errorf("no run exported from %s", input)
	}
	return run.ID, nil
}

func (a *app) queryNodes(ctx context.Context, store *duckdb.Store, runID string, columns, names []string) error {
	counts, err := store.CountMutations(ctx, runID)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	fmt.Fprintf(a.stdout, "run %s: %d amino acid and %d nucleotide mutations\n",
		runID, counts["aa"], counts["nt"])

	header := []string{"Name", "Node", "Parent", "Tips", "Mutations"}
	header = append(header, columns...)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		n, err := store.LookupNode(ctx, runID, name)
		if err != nil {
			return err
		}
		if n == nil {
			a.logger.Warn("node not found", zap.String("name", name))
			continue
		}
		muts, err := store.NodeMutations(ctx, runID, n.NodeID)
		if err != nil {
			return err
		}
		row := []string{
			n.Name,
			strconv.FormatInt(n.NodeID, 10),
			strconv.FormatInt(n.ParentID, 10),
			strconv.FormatInt(n.NumTips, 10),
			strings.Join(muts, ","),
		}
		for _, col := range columns {
			v, _, err := store.MetadataValue(ctx, runID, n.NodeID, col)
			if err != nil {
				return err
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}

	renderRows(a.stdout, header, rows)
	return nil
}

func renderRows(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}
