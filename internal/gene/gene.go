// Package gene models coding sequences as ordered genomic parts and maps
// between genomic coordinates and positions within a gene.
package gene

// Strand is the orientation of a gene on the reference.
type Strand byte

const (
	Forward Strand = '+'
	Reverse Strand = '-'
)

// Part is one contiguous piece of a gene.
// Coordinates are 0-based, End exclusive.
type Part struct {
	Start      int
	End        int
	Complement bool
}

// Len returns the number of bases in the part.
func (p Part) Len() int {
	return p.End - p.Start
}

// Contains reports whether pos falls inside the part.
func (p Part) Contains(pos int) bool {
	return pos >= p.Start && pos < p.End
}

// Gene represents a coding sequence made of one or more parts, listed in
// the order they appear on the reference.
type Gene struct {
	Name    string
	Strand  Strand
	Parts   []Part
	Protein string // translation recorded in the annotation, if any
}

// New creates a single-part gene.
func New(name string, start, end int, strand Strand) Gene {
	return Gene{
		Name:   name,
		Strand: strand,
		Parts:  []Part{{Start: start, End: end, Complement: strand == Reverse}},
	}
}

// IsReverse returns true if the gene is on the reverse strand.
func (g *Gene) IsReverse() bool {
	return g.Strand == Reverse
}

// Length returns the total number of bases across all parts.
func (g *Gene) Length() int {
	total := 0
	for _, p := range g.Parts {
		total += p.Len()
	}
	return total
}

// Start returns the smallest part start, or 0 for a gene without parts.
func (g *Gene) Start() int {
	if len(g.Parts) == 0 {
		return 0
	}
	s := g.Parts[0].Start
	for _, p := range g.Parts[1:] {
		if p.Start < s {
			s = p.Start
		}
	}
	return s
}

// End returns the largest part end, or 0 for a gene without parts.
func (g *Gene) End() int {
	e := 0
	for _, p := range g.Parts {
		if p.End > e {
			e = p.End
		}
	}
	return e
}

// Contains returns true if pos is inside any part of the gene.
func (g *Gene) Contains(pos int) bool {
	for _, p := range g.Parts {
		if p.Contains(pos) {
			return true
		}
	}
	return false
}

// orderedParts yields part indices in transcription order.
func (g *Gene) orderedParts(fn func(i int) bool) {
	if g.IsReverse() {
		for i := len(g.Parts) - 1; i >= 0; i-- {
			if !fn(i) {
				return
			}
		}
		return
	}
	for i := range g.Parts {
		if !fn(i) {
			return
		}
	}
}

// GenePosition maps a 0-based genomic position to its 0-based position
// within the gene, or -1 if the gene does not cover it. Forward genes count
// from the start of their first part; reverse genes count from the end of
// their last part. When parts overlap, the first matching part in
// transcription order wins.
func (g *Gene) GenePosition(genomic int) int {
	result := -1
	offset := 0
	g.orderedParts(func(i int) bool {
		p := g.Parts[i]
		if p.Contains(genomic) {
			if g.IsReverse() {
				result = offset + (p.End - 1 - genomic)
			} else {
				result = offset + (genomic - p.Start)
			}
			return false
		}
		offset += p.Len()
		return true
	})
	return result
}

// GenomicPosition is the inverse of GenePosition. It returns -1 when
// genePos is outside [0, Length()).
func (g *Gene) GenomicPosition(genePos int) int {
	if genePos < 0 {
		return -1
	}
	result := -1
	offset := 0
	g.orderedParts(func(i int) bool {
		p := g.Parts[i]
		if genePos < offset+p.Len() {
			within := genePos - offset
			if g.IsReverse() {
				result = p.End - 1 - within
			} else {
				result = p.Start + within
			}
			return false
		}
		offset += p.Len()
		return true
	})
	return result
}

// PartOffset returns the part containing genomic and the offset of genomic
// from that part's start.
func (g *Gene) PartOffset(genomic int) (part, offset int, ok bool) {
	part = -1
	g.orderedParts(func(i int) bool {
		if g.Parts[i].Contains(genomic) {
			part = i
			return false
		}
		return true
	})
	if part < 0 {
		return -1, 0, false
	}
	return part, genomic - g.Parts[part].Start, true
}

// FromPartOffset returns the genomic position at offset within part.
func (g *Gene) FromPartOffset(part, offset int) int {
	if part < 0 || part >= len(g.Parts) {
		return -1
	}
	p := g.Parts[part]
	if offset < 0 || offset >= p.Len() {
		return -1
	}
	return p.Start + offset
}

// CodonPosition returns the 0-based codon number for a gene position.
func CodonPosition(genePos int) int {
	return genePos / 3
}

// PositionInCodon returns 0, 1 or 2 for a gene position.
func PositionInCodon(genePos int) int {
	return genePos % 3
}

// CodonGenomicPositions returns the three genomic positions of a 0-based
// codon, sorted ascending. ok is false if any base falls outside the gene.
func (g *Gene) CodonGenomicPositions(codonNum int) (pos [3]int, ok bool) {
	for i := 0; i < 3; i++ {
		p := g.GenomicPosition(codonNum*3 + i)
		if p < 0 {
			return pos, false
		}
		pos[i] = p
	}
	// Three elements: insertion sort.
	for i := 1; i < 3; i++ {
		for j := i; j > 0 && pos[j] < pos[j-1]; j-- {
			pos[j], pos[j-1] = pos[j-1], pos[j]
		}
	}
	return pos, true
}
