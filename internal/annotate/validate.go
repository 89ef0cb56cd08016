package annotate

import (
	"strings"

	"github.com/taxonium/usher2taxonium/internal/codon"
	"github.com/taxonium/usher2taxonium/internal/gene"
)

// Mismatch describes a gene whose reference translation disagrees with the
// protein recorded in its annotation.
type Mismatch struct {
	Gene       string
	Expected   string
	Translated string
}

// CodingSequence assembles the gene's coding sequence from the reference,
// reverse-complemented for reverse-strand genes. ok is false when a part
// lies outside the reference.
func CodingSequence(g *gene.Gene, reference string) (string, bool) {
	var b strings.Builder
	b.Grow(g.Length())
	for i := 0; i < g.Length(); i++ {
		p := g.GenomicPosition(i)
		if p < 0 || p >= len(reference) {
			return "", false
		}
		base := reference[p]
		if g.IsReverse() {
			base = codon.Complement(base)
		}
		b.WriteByte(base)
	}
	return b.String(), true
}

// Validate translates each gene's coding sequence and compares it with the
// recorded protein. A trailing stop is ignored. Genes without a recorded
// protein are skipped.
func Validate(genes []gene.Gene, reference string, table *codon.Table) []Mismatch {
	var out []Mismatch
	for i := range genes {
		g := &genes[i]
		if g.Protein == "" {
			continue
		}
		cds, ok := CodingSequence(g, reference)
		if !ok {
			out = append(out, Mismatch{Gene: g.Name, Expected: g.Protein})
			continue
		}
		translated := strings.TrimSuffix(table.TranslateSequence(cds), "*")
		if translated != g.Protein {
			out = append(out, Mismatch{Gene: g.Name, Expected: g.Protein, Translated: translated})
		}
	}
	return out
}
