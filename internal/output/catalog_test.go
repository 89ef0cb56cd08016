package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxonium/usher2taxonium/internal/layout"
	"github.com/taxonium/usher2taxonium/internal/newick"
	"github.com/taxonium/usher2taxonium/internal/tree"
)

func parse(t *testing.T, s string) *tree.Tree {
	t.Helper()
	root, err := newick.Parse(s)
	require.NoError(t, err)
	return tree.New(root)
}

func nt(pos int32, par, mut byte) tree.Mutation {
	return tree.Mutation{Position: pos, Par: tree.ParseNucleotide(par), Mut: tree.ParseNucleotide(mut)}
}

func TestBuildCatalog_Scenario(t *testing.T) {
	tr := parse(t, "(A:1,B:2)root:0;")
	tr.Find("A").Mutations = []tree.Mutation{nt(5, 'A', 'G')}
	tr.Find("B").Mutations = []tree.Mutation{nt(10, 'C', 'T')}

	c := BuildCatalog(tr)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, 0, c.NumAA())

	e := c.Entries()
	assert.Equal(t, Entry{Gene: "nt", PreviousResidue: "A", ResiduePos: 5, NewResidue: "G", MutationID: 0, Type: TypeNT}, e[0])
	assert.Equal(t, Entry{Gene: "nt", PreviousResidue: "C", ResiduePos: 10, NewResidue: "T", MutationID: 1, Type: TypeNT}, e[1])

	assert.Equal(t, []int{1}, c.NodeIndices(tr.Find("B")))
	assert.Equal(t, []int{0}, c.NodeIndices(tr.Find("A")))
	assert.Equal(t, []int{}, c.NodeIndices(tr.Root()))
}

func TestBuildCatalog_CoalescesIdenticalMutations(t *testing.T) {
	tr := parse(t, "((a,b)x,c)root;")
	same := nt(100, 'G', 'T')
	tr.Find("a").Mutations = []tree.Mutation{same}
	tr.Find("c").Mutations = []tree.Mutation{same, nt(3, 'A', 'C')}
	tr.Find("b").Mutations = []tree.Mutation{nt(100, 'G', 'A')}

	c := BuildCatalog(tr)
	require.Equal(t, 3, c.Len())

	i, ok := c.IndexOfNuc(same.Key())
	require.True(t, ok)
	assert.Equal(t, 2, i, "ordered by position then new base")
	assert.Equal(t, 2, c.Branches(i))
	assert.Equal(t, []int{i}, c.NodeIndices(tr.Find("a")))
	assert.Equal(t, []int{0, i}, c.NodeIndices(tr.Find("c")))

	j, ok := c.IndexOfNuc(nt(100, 'G', 'A').Key())
	require.True(t, ok)
	assert.Equal(t, 1, j)
	assert.Equal(t, 1, c.Branches(j))

	_, ok = c.IndexOfNuc(nt(7, 'A', 'C').Key())
	assert.False(t, ok)
}

func TestBuildCatalog_AABlockFirst(t *testing.T) {
	tr := parse(t, "(a,b)root;")
	a := tr.Find("a")
	a.Mutations = []tree.Mutation{nt(23403, 'A', 'G')}
	a.AAMutations = []tree.AAMutation{
		{Gene: "S", Codon: 614, RefAA: "D", AltAA: "G", NucForCodon: 23402},
		{Gene: "ORF1a", Codon: 10, RefAA: "A", AltAA: "V", NucForCodon: 300},
	}
	b := tr.Find("b")
	b.Mutations = []tree.Mutation{{Chromosome: "chr", Position: 1, Par: tree.NucA, Mut: tree.NucT}}
	b.AAMutations = []tree.AAMutation{{Gene: "S", Codon: 614, RefAA: "D", AltAA: "G", NucForCodon: 23402}}

	c := BuildCatalog(tr)
	require.Equal(t, 4, c.Len())
	require.Equal(t, 2, c.NumAA())

	e := c.Entries()
	assert.Equal(t, "ORF1a", e[0].Gene)
	assert.Equal(t, "S", e[1].Gene)
	require.NotNil(t, e[1].NucForCodon)
	assert.Equal(t, int32(23402), *e[1].NucForCodon)
	assert.Equal(t, TypeAA, e[1].Type)
	assert.Equal(t, 2, c.Branches(1))

	// Empty chromosome sorts before "chr".
	assert.Equal(t, int32(23403), e[2].ResiduePos)
	assert.Equal(t, int32(1), e[3].ResiduePos)
	assert.Nil(t, e[2].NucForCodon)

	assert.Equal(t, []int{0, 1, 2}, c.NodeIndices(a))
	assert.Equal(t, []int{1, 3}, c.NodeIndices(b))
}

func TestBuildCatalog_IndicesValid(t *testing.T) {
	tr := parse(t, "((a,b,c)x,(d,(e,f)y)z)root;")
	i := int32(0)
	tr.PreOrder(func(n *tree.Node) {
		i++
		n.Mutations = []tree.Mutation{nt(i%4+1, 'A', 'C'), nt(i%3+1, 'G', 'T')}
		if i%2 == 0 {
			n.AAMutations = []tree.AAMutation{{Gene: "g", Codon: i % 5, RefAA: "M", AltAA: "T"}}
		}
	})
	layout.CalculateCoordinates(tr)

	c := BuildCatalog(tr)
	seen := make(map[string]bool)
	for id, e := range c.Entries() {
		assert.Equal(t, id, e.MutationID)
		assert.False(t, seen[e.Label()], "duplicate %s", e.Label())
		seen[e.Label()] = true
	}
	tr.PreOrder(func(n *tree.Node) {
		idx := c.NodeIndices(n)
		assert.IsIncreasing(t, idx)
		for _, k := range idx {
			assert.Less(t, k, c.Len())
		}
	})
}

func TestEntry_Label(t *testing.T) {
	tests := []struct {
		entry Entry
		want  string
	}{
		{Entry{Gene: "S", PreviousResidue: "D", ResiduePos: 614, NewResidue: "G", Type: TypeAA}, "S:D614G"},
		{Entry{Gene: "nt", PreviousResidue: "C", ResiduePos: 241, NewResidue: "T", Type: TypeNT}, "C241T"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.entry.Label())
	}
}
