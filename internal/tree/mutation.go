package tree

import (
	"fmt"
	"strconv"
)

// Nucleotide is the UShER nucleotide encoding.
type Nucleotide int8

const (
	NucA       Nucleotide = 0
	NucC       Nucleotide = 1
	NucG       Nucleotide = 2
	NucT       Nucleotide = 3
	NucN       Nucleotide = 4
	NucGap     Nucleotide = 5
	NucInvalid Nucleotide = -1
)

// NucleotideFromCode converts a wire-format integer to a Nucleotide.
// Unknown codes map to NucInvalid.
func NucleotideFromCode(code int32) Nucleotide {
	if code >= int32(NucA) && code <= int32(NucGap) {
		return Nucleotide(code)
	}
	return NucInvalid
}

// ParseNucleotide converts a base character to a Nucleotide.
func ParseNucleotide(b byte) Nucleotide {
	switch b {
	case 'A', 'a':
		return NucA
	case 'C', 'c':
		return NucC
	case 'G', 'g':
		return NucG
	case 'T', 't':
		return NucT
	case 'N', 'n':
		return NucN
	case '-':
		return NucGap
	}
	return NucInvalid
}

// Char returns the output character for a nucleotide. N and invalid
// values render as 'X', gaps as '-'.
func (n Nucleotide) Char() byte {
	switch n {
	case NucA:
		return 'A'
	case NucC:
		return 'C'
	case NucG:
		return 'G'
	case NucT:
		return 'T'
	case NucGap:
		return '-'
	}
	return 'X'
}

// Mutation is a nucleotide change on the branch leading to a node.
// Position is 1-based; a negative position marks a masked site.
type Mutation struct {
	Chromosome string
	Position   int32
	Ref        Nucleotide
	Par        Nucleotide
	Mut        Nucleotide
}

// MutationKey is the identity of a nucleotide mutation in the catalog.
type MutationKey struct {
	Chromosome string
	Position   int32
	Par        Nucleotide
	Mut        Nucleotide
}

// Masked reports whether the mutation is at a masked site.
func (m Mutation) Masked() bool {
	return m.Position < 0
}

// Key returns the catalog identity of the mutation.
func (m Mutation) Key() MutationKey {
	return MutationKey{Chromosome: m.Chromosome, Position: m.Position, Par: m.Par, Mut: m.Mut}
}

// Less orders mutations by chromosome, position, parent then new base.
func (k MutationKey) Less(o MutationKey) bool {
	if k.Chromosome != o.Chromosome {
		return k.Chromosome < o.Chromosome
	}
	if k.Position != o.Position {
		return k.Position < o.Position
	}
	if k.Par != o.Par {
		return k.Par < o.Par
	}
	return k.Mut < o.Mut
}

// Less orders mutations the same way as their keys.
func (m Mutation) Less(o Mutation) bool {
	return m.Key().Less(o.Key())
}

// SiteLess orders mutations by chromosome then position only.
func (m Mutation) SiteLess(o Mutation) bool {
	if m.Chromosome != o.Chromosome {
		return m.Chromosome < o.Chromosome
	}
	return m.Position < o.Position
}

// String renders the mutation as e.g. "A23T", or "MASKED".
func (m Mutation) String() string {
	if m.Masked() {
		return "MASKED"
	}
	return string(m.Par.Char()) + strconv.Itoa(int(m.Position)) + string(m.Mut.Char())
}

// AAMutation is an amino acid change in a gene. Codon is 1-based;
// NucForCodon is the 0-based genomic position of the codon's middle base.
type AAMutation struct {
	Gene        string
	Codon       int32
	RefAA       string
	AltAA       string
	NucForCodon int32
}

// AAMutationKey is the identity of an amino acid mutation in the catalog.
type AAMutationKey struct {
	Gene  string
	Codon int32
	RefAA string
	AltAA string
}

// Key returns the catalog identity of the mutation.
func (m AAMutation) Key() AAMutationKey {
	return AAMutationKey{Gene: m.Gene, Codon: m.Codon, RefAA: m.RefAA, AltAA: m.AltAA}
}

// Less orders by gene, codon, reference then alternate residue.
func (k AAMutationKey) Less(o AAMutationKey) bool {
	if k.Gene != o.Gene {
		return k.Gene < o.Gene
	}
	if k.Codon != o.Codon {
		return k.Codon < o.Codon
	}
	if k.RefAA != o.RefAA {
		return k.RefAA < o.RefAA
	}
	return k.AltAA < o.AltAA
}

// String renders the mutation as e.g. "S:D614G".
func (m AAMutation) String() string {
	return fmt.Sprintf("%s:%s%d%s", m.Gene, m.RefAA, m.Codon, m.AltAA)
}
