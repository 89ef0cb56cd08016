package annotate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxonium/usher2taxonium/internal/codon"
	"github.com/taxonium/usher2taxonium/internal/gene"
)

func TestCodingSequence(t *testing.T) {
	ref := "ATGAAACCCTTTGGG"

	fwd := gene.Gene{Name: "f", Strand: gene.Forward, Parts: []gene.Part{{Start: 0, End: 3}, {Start: 6, End: 9}}}
	cds, ok := CodingSequence(&fwd, ref)
	require.True(t, ok)
	assert.Equal(t, "ATGCCC", cds)

	rev := gene.New("r", 9, 15, gene.Reverse)
	cds, ok = CodingSequence(&rev, ref)
	require.True(t, ok)
	assert.Equal(t, "CCCAAA", cds)

	out := gene.New("o", 12, 18, gene.Forward)
	_, ok = CodingSequence(&out, ref)
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	ref := "ATGAAATAGCCC"
	genes := []gene.Gene{
		{Name: "ok", Strand: gene.Forward, Parts: []gene.Part{{Start: 0, End: 9}}, Protein: "MK"},
		{Name: "bad", Strand: gene.Forward, Parts: []gene.Part{{Start: 0, End: 6}}, Protein: "MR"},
		{Name: "none", Strand: gene.Forward, Parts: []gene.Part{{Start: 0, End: 6}}},
		{Name: "outside", Strand: gene.Forward, Parts: []gene.Part{{Start: 9, End: 15}}, Protein: "P"},
	}

	got := Validate(genes, ref, codon.NewStandardTable())
	require.Len(t, got, 2)
	assert.Equal(t, Mismatch{Gene: "bad", Expected: "MR", Translated: "MK"}, got[0])
	assert.Equal(t, "outside", got[1].Gene)
	assert.Empty(t, got[1].Translated)
}
