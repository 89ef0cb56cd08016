// Package pipeline runs the whole conversion from an UShER protobuf to a
// Taxonium JSONL document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/taxonium/usher2taxonium/internal/annotate"
	"github.com/taxonium/usher2taxonium/internal/codon"
	"github.com/taxonium/usher2taxonium/internal/duckdb"
	"github.com/taxonium/usher2taxonium/internal/genbank"
	"github.com/taxonium/usher2taxonium/internal/layout"
	"github.com/taxonium/usher2taxonium/internal/metadata"
	"github.com/taxonium/usher2taxonium/internal/output"
	"github.com/taxonium/usher2taxonium/internal/progress"
	"github.com/taxonium/usher2taxonium/internal/tree"
	"github.com/taxonium/usher2taxonium/internal/usher"
	"github.com/taxonium/usher2taxonium/internal/xio"
)

// ErrNoInput is returned when Options lacks an input or output path.
var ErrNoInput = errors.New("input and output paths are required")

var newRunID = duckdb.NewRunID

// Options configures a conversion. Empty optional paths skip their step.
type Options struct {
	Input  string
	Output string

	Metadata  string
	Columns   []string
	KeyColumn string

	GenBank string

	CladeTypes        []string
	NameInternalNodes bool
	Ascending         bool

	// HeaderConfig is a JSON object merged into the header's config.
	HeaderConfig string
	MutationsTSV string
	DuckDB       string
	// ReplaceRun deletes the latest DuckDB run exported from the same
	// input file before storing the new one.
	ReplaceRun bool

	Workers   int
	ChunkSize int

	// Now stamps date_created; defaults to time.Now.
	Now func() time.Time
}

// Summary reports what a conversion did.
type Summary struct {
	Nodes            int
	Tips             int
	Mutations        int
	CondensedNodes   int
	ExpandedLeaves   int
	NamedInternal    int
	MetadataRows     int
	MetadataMatched  int
	Genes            int
	GeneMismatches   int
	AAMutations      int
	CatalogEntries   int
	AACatalogEntries int
	RunID            string
	Elapsed          time.Duration
}

// Run executes every pass in order and writes the requested outputs.
func Run(ctx context.Context, opts Options, logger *zap.Logger) (*Summary, error) {
	if opts.Input == "" || opts.Output == "" {
		return nil, ErrNoInput
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	start := time.Now()
	sum := &Summary{}

	logger.Info("reading tree", zap.String("path", opts.Input))
	data, err := usher.ReadFile(opts.Input)
	if err != nil {
		return nil, err
	}

	b := usher.NewBuilder()
	b.SetLogger(logger)
	b.SetNameInternalNodes(opts.NameInternalNodes)
	t, stats, err := b.Build(data)
	if err != nil {
		return nil, fmt.Errorf("build tree: %w", err)
	}
	defer t.Release()

	sum.Nodes = stats.Nodes
	sum.Mutations = stats.Mutations
	sum.CondensedNodes = stats.CondensedNodes
	sum.ExpandedLeaves = stats.ExpandedLeaves
	sum.NamedInternal = stats.NamedInternal
	logger.Info("built tree",
		zap.Int("nodes", stats.Nodes),
		zap.Int("mutations", stats.Mutations),
		zap.Int("condensed", stats.CondensedNodes),
		zap.Int("expanded_leaves", stats.ExpandedLeaves))

	var columns []string
	if opts.Metadata != "" {
		columns, err = loadMetadata(ctx, opts, workers, logger, t, sum)
		if err != nil {
			return nil, err
		}
	}

	if opts.GenBank != "" {
		if err := annotateTree(ctx, opts, workers, logger, t, sum); err != nil {
			return nil, err
		}
	}

	layout.Ladderize(t, opts.Ascending)
	layout.CalculateCoordinates(t)
	sum.Tips = t.NumTips()

	doc := output.Prepare(t, columns, opts.CladeTypes)
	sum.CatalogEntries = doc.Catalog.Len()
	sum.AACatalogEntries = doc.Catalog.NumAA()
	if opts.HeaderConfig != "" {
		cfg, err := readHeaderConfig(opts.HeaderConfig)
		if err != nil {
			return nil, err
		}
		doc.SetConfig(cfg)
	}

	created := now()
	if err := writeDocument(ctx, opts, workers, logger, doc, created); err != nil {
		return nil, err
	}

	if opts.MutationsTSV != "" {
		if err := writeCatalog(opts.MutationsTSV, doc.Catalog); err != nil {
			return nil, err
		}
		logger.Info("wrote mutation catalog", zap.String("path", opts.MutationsTSV))
	}

	if opts.DuckDB != "" {
		runID, err := exportDuckDB(ctx, opts, logger, doc, created)
		if err != nil {
			return nil, err
		}
		sum.RunID = runID
		logger.Info("exported to duckdb", zap.String("path", opts.DuckDB), zap.String("run_id", runID))
	}

	sum.Elapsed = time.Since(start)
	return sum, nil
}

func loadMetadata(ctx context.Context, opts Options, workers int, logger *zap.Logger, t *tree.Tree, sum *Summary) ([]string, error) {
	r := metadata.NewReader()
	r.SetLogger(logger)
	r.SetWorkers(workers)
	key := opts.KeyColumn
	if key == "" {
		key = metadata.DefaultKeyColumn
	}
	if err := r.Load(ctx, opts.Metadata, opts.Columns, key); err != nil {
		return nil, err
	}
	sum.MetadataRows = r.Len()
	sum.MetadataMatched = r.Apply(t)
	logger.Info("applied metadata",
		zap.Int("rows", sum.MetadataRows),
		zap.Int("matched", sum.MetadataMatched),
		zap.Strings("columns", r.Columns()))
	return r.Columns(), nil
}

func annotateTree(ctx context.Context, opts Options, workers int, logger *zap.Logger, t *tree.Tree, sum *Summary) error {
	rec, err := genbank.ReadFile(opts.GenBank)
	if err != nil {
		return err
	}
	table := codon.NewStandardTable()

	t.SetGenes(rec.Genes)
	sum.Genes = len(rec.Genes)
	for _, m := range annotate.Validate(rec.Genes, rec.Sequence, table) {
		logger.Warn("gene translation differs from annotation",
			zap.String("gene", m.Gene),
			zap.Int("expected_len", len(m.Expected)),
			zap.Int("translated_len", len(m.Translated)))
		sum.GeneMismatches++
	}

	rep := progress.New(logger, "annotating", t.NumNodes())
	a := annotate.NewAnnotator(rec.Genes, rec.Sequence, table)
	a.SetLogger(logger)
	a.SetWorkers(workers)
	a.SetProgress(rep.Callback())
	stats, err := a.Annotate(ctx, t)
	if err != nil {
		return fmt.Errorf("annotate: %w", err)
	}
	rep.Done()
	sum.AAMutations = stats.AAMutations
	return nil
}

func readHeaderConfig(path string) (map[string]any, error) {
	b, err := xio.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse header config %s: %w", path, err)
	}
	return cfg, nil
}

func writeDocument(ctx context.Context, opts Options, workers int, logger *zap.Logger, doc *output.Document, now time.Time) (err error) {
	f, err := xio.Create(opts.Output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", opts.Output, cerr)
		}
	}()

	rep := progress.New(logger, "writing", len(doc.Nodes))
	w := output.NewWriter(f)
	w.SetWorkers(workers)
	w.SetLogger(logger)
	w.SetProgress(rep.Callback())
	if opts.ChunkSize > 0 {
		w.SetChunkSize(opts.ChunkSize)
	}
	if err := w.Write(ctx, doc, now); err != nil {
		return err
	}
	rep.Done()
	return nil
}

func writeCatalog(path string, c *output.Catalog) (err error) {
	f, err := xio.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if err := output.NewTabWriter(f).WriteCatalog(c); err != nil {
		return fmt.Errorf("write mutation catalog: %w", err)
	}
	return nil
}

func exportDuckDB(ctx context.Context, opts Options, logger *zap.Logger, doc *output.Document, now time.Time) (string, error) {
	fp, err := duckdb.StatFile(opts.Input)
	if err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}

	store, err := duckdb.Open(opts.DuckDB)
	if err != nil {
		return "", err
	}
	defer store.Close()

	var prev *duckdb.Run
	if opts.ReplaceRun {
		if prev, err = store.LatestRun(ctx, fp); err != nil {
			return "", err
		}
	}

	runID := newRunID()
	if err := store.WriteDocument(ctx, runID, fp, doc, now); err != nil {
		return "", fmt.Errorf("export duckdb: %w", err)
	}

	// The previous run goes only once the new one is stored.
	if prev != nil {
		if err := store.DeleteRun(ctx, prev.ID); err != nil {
			return "", fmt.Errorf("replace run %s: %w", prev.ID, err)
		}
		logger.Info("replaced previous run", zap.String("run_id", prev.ID), zap.String("new_run_id", runID))
	}
	return runID, nil
}
