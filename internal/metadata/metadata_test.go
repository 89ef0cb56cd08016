package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxonium/usher2taxonium/internal/newick"
	"github.com/taxonium/usher2taxonium/internal/tree"
)

const table = "strain\tcountry\tdate\tlineage\n" +
	"a\tUK\t2021-01-01\tB.1\n" +
	"b\tUS\t\tB.1.1\n" +
	"c\tUK\n" +
	"\tXX\t2020\tA\n"

func load(t *testing.T, data string, sep byte, columns []string) *Reader {
	t.Helper()
	r := NewReader()
	r.SetWorkers(3)
	require.NoError(t, r.LoadFrom(context.Background(), strings.NewReader(data), sep, columns, ""))
	return r
}

func TestLoadFrom_AllColumns(t *testing.T) {
	r := load(t, table, '\t', nil)

	assert.Equal(t, []string{"country", "date", "lineage"}, r.Columns())
	assert.Equal(t, 3, r.Len(), "row without a key is skipped")

	row, ok := r.Row("a")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"country": "UK", "date": "2021-01-01", "lineage": "B.1"}, row)

	row, ok = r.Row("b")
	require.True(t, ok)
	assert.Equal(t, "", row["date"])

	row, ok = r.Row("c")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"country": "UK"}, row, "short rows keep the fields they have")
}

func TestLoadFrom_SelectedColumns(t *testing.T) {
	r := load(t, table, '\t', []string{"lineage", "missing", "strain", "country"})
	assert.Equal(t, []string{"lineage", "country"}, r.Columns())

	row, _ := r.Row("a")
	assert.Equal(t, map[string]string{"lineage": "B.1", "country": "UK"}, row)
}

func TestLoadFrom_CSVQuoted(t *testing.T) {
	data := "id,\"note\"\r\n\"s1\",\"say \"\"hi\"\"\"\r\ns2,plain\r\n"
	r := NewReader()
	require.NoError(t, r.LoadFrom(context.Background(), strings.NewReader(data), ',', nil, "id"))

	assert.Equal(t, []string{"note"}, r.Columns())
	row, ok := r.Row("s1")
	require.True(t, ok)
	assert.Equal(t, `say "hi"`, row["note"])
	row, _ = r.Row("s2")
	assert.Equal(t, "plain", row["note"])
}

func TestLoadFrom_QuotedSeparator(t *testing.T) {
	tests := []struct {
		name string
		data string
		sep  byte
		want map[string]string
	}{
		{
			name: "comma inside quotes",
			data: "strain,location,date\ns1,\"Seattle, WA\",2020-03-01\n",
			sep:  ',',
			want: map[string]string{"location": "Seattle, WA", "date": "2020-03-01"},
		},
		{
			name: "tab inside quotes",
			data: "strain\tlocation\tdate\ns1\t\"a\tb\"\t2020-03-02\n",
			sep:  '\t',
			want: map[string]string{"location": "a\tb", "date": "2020-03-02"},
		},
		{
			name: "stray quote in unquoted field",
			data: "strain\tlocation\tdate\ns1\tO'Hare \"T1\tx\n",
			sep:  '\t',
			want: map[string]string{"location": "O'Hare \"T1", "date": "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader()
			require.NoError(t, r.LoadFrom(context.Background(), strings.NewReader(tt.data), tt.sep, nil, ""))
			assert.Equal(t, []string{"location", "date"}, r.Columns())
			row, ok := r.Row("s1")
			require.True(t, ok)
			assert.Equal(t, tt.want, row)
		})
	}
}

func TestLoadFrom_Errors(t *testing.T) {
	r := NewReader()
	err := r.LoadFrom(context.Background(), strings.NewReader("name\tcountry\nx\tUK\n"), '\t', nil, "")
	assert.ErrorIs(t, err, ErrKeyColumnMissing)

	err = r.LoadFrom(context.Background(), strings.NewReader(""), '\t', nil, "")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLoadFrom_LastDuplicateWins(t *testing.T) {
	var b strings.Builder
	b.WriteString("strain\tvalue\n")
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&b, "s%d\t%d\n", i%100, i)
	}

	for _, workers := range []int{1, 4, 16} {
		r := NewReader()
		r.SetWorkers(workers)
		require.NoError(t, r.LoadFrom(context.Background(), strings.NewReader(b.String()), '\t', nil, ""))
		require.Equal(t, 100, r.Len())
		row, _ := r.Row("s7")
		assert.Equal(t, "4907", row["value"], "workers=%d", workers)
	}
}

func TestLoadFrom_Interns(t *testing.T) {
	r := load(t, table, '\t', nil)
	a, _ := r.Row("a")
	c, _ := r.Row("c")
	assert.Same(t, unsafe.StringData(a["country"]), unsafe.StringData(c["country"]))
}

func TestStringPool(t *testing.T) {
	p := NewStringPool()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Intern(fmt.Sprint(j % 10))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, p.Len())
	assert.Equal(t, "3", p.Intern("3"))
}

func TestSeparator(t *testing.T) {
	tests := []struct {
		path string
		want byte
	}{
		{"meta.tsv", '\t'},
		{"meta.tsv.gz", '\t'},
		{"meta.csv", ','},
		{"META.CSV.gz", ','},
		{"META.TSV", '\t'},
		{"meta.txt", ','},
		{"meta", ','},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Separator(tt.path), tt.path)
	}
}

func TestLoad_GzipFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.csv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("strain,country\na,UK\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	r := NewReader()
	require.NoError(t, r.Load(context.Background(), path, nil, "strain"))
	row, ok := r.Row("a")
	require.True(t, ok)
	assert.Equal(t, "UK", row["country"])

	err = r.Load(context.Background(), filepath.Join(t.TempDir(), "nope.tsv"), nil, "")
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	root, err := newick.Parse("((a,b)x,(c,d))root;")
	require.NoError(t, err)
	tr := tree.New(root)

	r := load(t, table, '\t', nil)
	assert.Equal(t, 3, r.Apply(tr))
	assert.Equal(t, "UK", tr.Find("a").Metadata["country"])
	assert.Equal(t, "B.1.1", tr.Find("b").Metadata["lineage"])
	assert.Nil(t, tr.Find("d").Metadata)
	assert.Nil(t, tr.Find("x").Metadata)
}
