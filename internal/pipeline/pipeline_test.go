package pipeline

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxonium/usher2taxonium/internal/duckdb"
	"github.com/taxonium/usher2taxonium/internal/usher"
)

const genbankRecord = `LOCUS       TEST                   12 bp    RNA     linear   VRL 01-JAN-2020
FEATURES             Location/Qualifiers
     source          1..12
     CDS             1..9
                     /gene="orf1"
                     /translation="MK"
ORIGIN
        1 atgaaatagc cc
//
`

const metadataTable = "strain\tcountry\tlineage\n" +
	"A\tUK\tB.1\n" +
	"C\tUS\tA\n" +
	"missing\tFR\tB\n"

// writeInputs lays out a small tree, metadata table and GenBank record.
// Preorder is root, n1, A, B, C.
func writeInputs(t *testing.T) (dir, pb string) {
	t.Helper()
	dir = t.TempDir()
	d := &usher.Data{
		Newick: "((A:1,B:1)n1:1,C:2)root:0;",
		NodeMutations: [][]usher.RawMutation{
			nil,
			nil,
			{{Position: 2, RefNuc: 3, ParNuc: 3, MutNuc: []int32{1}}},
			nil,
			{{Position: 12, RefNuc: 1, ParNuc: 1, MutNuc: []int32{3}}},
		},
		Metadata: [][]string{{"20A"}, {"20A"}, {"20B"}, {}, {}},
	}
	pb = filepath.Join(dir, "tree.pb")
	require.NoError(t, os.WriteFile(pb, usher.Encode(d), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.tsv"), []byte(metadataTable), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ref.gb"), []byte(genbankRecord), 0644))
	return dir, pb
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func byName(lines []map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, l := range lines[1:] {
		out[l["name"].(string)] = l
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	dir, pb := writeInputs(t)
	out := filepath.Join(dir, "out.jsonl")

	sum, err := Run(context.Background(), Options{
		Input:      pb,
		Output:     out,
		Metadata:   filepath.Join(dir, "meta.tsv"),
		GenBank:    filepath.Join(dir, "ref.gb"),
		CladeTypes: []string{"nextstrain"},
		Workers:    2,
		Now:        fixedNow,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Nodes)
	assert.Equal(t, 3, sum.Tips)
	assert.Equal(t, 2, sum.Mutations)
	assert.Equal(t, 3, sum.MetadataRows)
	assert.Equal(t, 2, sum.MetadataMatched)
	assert.Equal(t, 1, sum.Genes)
	assert.Equal(t, 0, sum.GeneMismatches)
	assert.Equal(t, 1, sum.AAMutations)
	assert.Equal(t, 3, sum.CatalogEntries)
	assert.Equal(t, 1, sum.AACatalogEntries)
	assert.Empty(t, sum.RunID)

	lines := readLines(t, out)
	require.Len(t, lines, 6)

	header := lines[0]
	assert.Equal(t, "2.1.2", header["version"])
	assert.EqualValues(t, 5, header["total_nodes"])
	cfg := header["config"].(map[string]any)
	assert.EqualValues(t, 3, cfg["num_tips"])
	assert.Equal(t, "2025-03-14", cfg["date_created"])
	assert.Contains(t, cfg, "gene_details")

	muts := header["mutations"].([]any)
	require.Len(t, muts, 3)
	first := muts[0].(map[string]any)
	assert.Equal(t, "aa", first["type"])
	assert.Equal(t, "orf1", first["gene"])
	assert.Equal(t, "M", first["previous_residue"])
	assert.EqualValues(t, 1, first["residue_pos"])
	assert.Equal(t, "T", first["new_residue"])
	for i, m := range muts {
		assert.EqualValues(t, i, m.(map[string]any)["mutation_id"])
	}

	nodes := byName(lines)
	a := nodes["A"]
	assert.Equal(t, true, a["is_tip"])
	assert.Len(t, a["mutations"], 2, "amino acid and nucleotide change")
	assert.Equal(t, "UK", a["meta_country"])
	assert.Equal(t, "B.1", a["meta_lineage"])
	assert.Equal(t, map[string]any{"nextstrain": "20B"}, a["clades"])

	b := nodes["B"]
	assert.Equal(t, "", b["meta_country"])
	assert.Empty(t, b["mutations"])
	assert.NotContains(t, b, "clades")

	root := nodes["root"]
	assert.Equal(t, root["node_id"], root["parent_id"])
	assert.EqualValues(t, 3, root["num_tips"])
	assert.EqualValues(t, 0, root["x_dist"])

	for id, l := range lines[1:] {
		assert.EqualValues(t, id, l["node_id"], "node ids follow output order")
	}
}

func TestRun_TreeOnly(t *testing.T) {
	dir, pb := writeInputs(t)
	out := filepath.Join(dir, "out.jsonl.gz")

	sum, err := Run(context.Background(), Options{Input: pb, Output: out, Now: fixedNow}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.CatalogEntries)
	assert.Zero(t, sum.AACatalogEntries)
	assert.Zero(t, sum.MetadataRows)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, raw[:2], "gzip framing")
}

func TestRun_NameInternalNodesAndAscending(t *testing.T) {
	dir := t.TempDir()
	d := &usher.Data{
		Newick:        "((a,b),c);",
		NodeMutations: make([][]usher.RawMutation, 5),
	}
	pb := filepath.Join(dir, "t.pb")
	require.NoError(t, os.WriteFile(pb, usher.Encode(d), 0644))
	out := filepath.Join(dir, "out.jsonl")

	sum, err := Run(context.Background(), Options{
		Input:             pb,
		Output:            out,
		NameInternalNodes: true,
		Ascending:         true,
		Now:               fixedNow,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.NamedInternal)

	lines := readLines(t, out)
	var names []string
	for _, l := range lines[1:] {
		names = append(names, l["name"].(string))
	}
	assert.Contains(t, names, "internal_1")
	assert.Contains(t, names, "internal_0")
	assert.Equal(t, "c", lines[1]["name"], "smallest clade first when ascending")
}

func TestRun_HeaderConfigAndCatalog(t *testing.T) {
	dir, pb := writeInputs(t)
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"title":"Test tree","num_tips":99}`), 0644))
	tsv := filepath.Join(dir, "mutations.tsv")
	out := filepath.Join(dir, "out.jsonl")

	_, err := Run(context.Background(), Options{
		Input:        pb,
		Output:       out,
		GenBank:      filepath.Join(dir, "ref.gb"),
		HeaderConfig: cfgPath,
		MutationsTSV: tsv,
		Now:          fixedNow,
	}, nil)
	require.NoError(t, err)

	cfg := readLines(t, out)[0]["config"].(map[string]any)
	assert.Equal(t, "Test tree", cfg["title"])
	assert.EqualValues(t, 3, cfg["num_tips"], "computed values win")

	raw, err := os.ReadFile(tsv)
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, rows, 4)
	assert.True(t, strings.HasPrefix(rows[0], "#Mutation_id"))
	assert.Contains(t, rows[1], "orf1:M1T")
}

func TestRun_DuckDB(t *testing.T) {
	dir, pb := writeInputs(t)
	db := filepath.Join(dir, "runs.duckdb")

	sum, err := Run(context.Background(), Options{
		Input:   pb,
		Output:  filepath.Join(dir, "out.jsonl"),
		GenBank: filepath.Join(dir, "ref.gb"),
		DuckDB:  db,
		Now:     fixedNow,
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, sum.RunID)

	store, err := duckdb.Open(db)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	fp, err := duckdb.StatFile(pb)
	require.NoError(t, err)
	run, err := store.LatestRun(ctx, fp)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, sum.RunID, run.ID)

	a, err := store.LookupNode(ctx, sum.RunID, "A")
	require.NoError(t, err)
	require.NotNil(t, a)
	muts, err := store.NodeMutations(ctx, sum.RunID, a.NodeID)
	require.NoError(t, err)
	assert.Equal(t, []string{"orf1:M1T", "T2C"}, muts)
}

func TestRun_DuckDBReplaceRun(t *testing.T) {
	dir, pb := writeInputs(t)
	db := filepath.Join(dir, "runs.duckdb")
	opts := Options{
		Input:      pb,
		Output:     filepath.Join(dir, "out.jsonl"),
		DuckDB:     db,
		ReplaceRun: true,
		Now:        fixedNow,
	}

	first, err := Run(context.Background(), opts, nil)
	require.NoError(t, err)
	second, err := Run(context.Background(), opts, nil)
	require.NoError(t, err)
	require.NotEqual(t, first.RunID, second.RunID)

	store, err := duckdb.Open(db)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	gone, err := store.LookupNode(ctx, first.RunID, "A")
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := store.LookupNode(ctx, second.RunID, "A")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestRun_DuckDBReplaceRunKeepsPreviousOnFailure(t *testing.T) {
	dir, pb := writeInputs(t)
	db := filepath.Join(dir, "runs.duckdb")
	opts := Options{
		Input:      pb,
		Output:     filepath.Join(dir, "out.jsonl"),
		DuckDB:     db,
		ReplaceRun: true,
		Now:        fixedNow,
	}

	first, err := Run(context.Background(), opts, nil)
	require.NoError(t, err)

	// Reusing the run id makes the second insert fail on the primary key.
	newRunID = func() string { return first.RunID }
	t.Cleanup(func() { newRunID = duckdb.NewRunID })

	_, err = Run(context.Background(), opts, nil)
	require.Error(t, err)

	store, err := duckdb.Open(db)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	kept, err := store.LookupNode(ctx, first.RunID, "A")
	require.NoError(t, err)
	assert.NotNil(t, kept)
	counts, err := store.CountMutations(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["nt"])
}

func TestRun_Errors(t *testing.T) {
	dir, pb := writeInputs(t)
	out := filepath.Join(dir, "out.jsonl")

	tests := []struct {
		name string
		opts Options
	}{
		{"no input", Options{Output: out}},
		{"no output", Options{Input: pb}},
		{"missing tree", Options{Input: filepath.Join(dir, "nope.pb"), Output: out}},
		{"missing genbank", Options{Input: pb, Output: out, GenBank: filepath.Join(dir, "nope.gb")}},
		{"bad key column", Options{Input: pb, Output: out, Metadata: filepath.Join(dir, "meta.tsv"), KeyColumn: "sample"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.opts, nil)
			assert.Error(t, err)
		})
	}

	_, err := Run(context.Background(), Options{}, nil)
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestRun_Cancelled(t *testing.T) {
	dir, pb := writeInputs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, Options{Input: pb, Output: filepath.Join(dir, "out.jsonl")}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
