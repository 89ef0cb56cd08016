// Package codon translates nucleotide codons to amino acids using the
// standard genetic code.
package codon

import "strings"

// standardCode enumerates amino acids for codons in TCAG order.
const standardCode = "FFLLSSSSYY**CC*WLLLLPPPPHHQQRRRRIIIMTTTTNNKKSSRRVVVVAAAADDEEGGGG"

// Table maps the 64 unambiguous codons to single letter amino acids.
// It is read-only after construction and safe for concurrent use.
type Table struct {
	aa [64]byte
}

// NewStandardTable builds the standard genetic code table.
func NewStandardTable() *Table {
	return NewTable(standardCode)
}

// NewTable builds a table from a 64 letter amino acid string enumerating
// codons in TCAG order, first base slowest. Shorter strings leave the
// remaining codons as 'X'.
func NewTable(code string) *Table {
	t := &Table{}
	for i := range t.aa {
		t.aa[i] = 'X'
		if i < len(code) {
			t.aa[i] = code[i]
		}
	}
	return t
}

// baseIndex returns the position of b in "TCAG", or -1.
func baseIndex(b byte) int {
	switch b {
	case 'T', 't':
		return 0
	case 'C', 'c':
		return 1
	case 'A', 'a':
		return 2
	case 'G', 'g':
		return 3
	}
	return -1
}

// Translate returns the amino acid for a codon. Lowercase input is accepted.
// Returns 'X' for anything that is not exactly three of A, C, G, T and
// '*' for stop codons.
func (t *Table) Translate(codon string) byte {
	if len(codon) != 3 {
		return 'X'
	}
	idx := 0
	for i := 0; i < 3; i++ {
		b := baseIndex(codon[i])
		if b < 0 {
			return 'X'
		}
		idx = idx*4 + b
	}
	return t.aa[idx]
}

// TranslateSequence translates a sequence codon by codon.
// A trailing partial codon is dropped.
func (t *Table) TranslateSequence(seq string) string {
	n := (len(seq) / 3) * 3

	var result strings.Builder
	result.Grow(n / 3)

	for i := 0; i < n; i += 3 {
		result.WriteByte(t.Translate(seq[i : i+3]))
	}

	return result.String()
}

// IsStop reports whether the codon translates to a stop.
func (t *Table) IsStop(codon string) bool {
	return t.Translate(codon) == '*'
}

// ReverseComplement returns the reverse complement of a DNA sequence.
func ReverseComplement(seq string) string {
	n := len(seq)
	var buf [64]byte
	var result []byte
	if n <= len(buf) {
		result = buf[:n]
	} else {
		result = make([]byte, n)
	}
	for i := 0; i < n; i++ {
		result[i] = Complement(seq[n-1-i])
	}
	return string(result)
}

// Complement returns the complement of a single base. Characters other
// than A, C, G and T pass through unchanged.
func Complement(base byte) byte {
	switch base {
	case 'A':
		return 'T'
	case 'T':
		return 'A'
	case 'G':
		return 'C'
	case 'C':
		return 'G'
	case 'a':
		return 't'
	case 't':
		return 'a'
	case 'g':
		return 'c'
	case 'c':
		return 'g'
	default:
		return base
	}
}

// MutateCodon replaces one base of a codon. positionInCodon is 0, 1 or 2.
func MutateCodon(codon string, positionInCodon int, newBase byte) string {
	if len(codon) != 3 || positionInCodon < 0 || positionInCodon > 2 {
		return codon
	}
	var buf [3]byte
	copy(buf[:], codon)
	buf[positionInCodon] = newBase
	return string(buf[:])
}
