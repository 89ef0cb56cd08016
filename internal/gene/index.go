package gene

import "sort"

// CodonRef identifies a codon affected by a genomic position.
type CodonRef struct {
	Gene  int // index into the gene slice the Index was built from
	Codon int // 0-based codon number
}

// Index answers "which gene codons cover this genomic position" in
// O(log n + k) using a sorted-slice interval search over gene parts.
// It is read-only after build.
type Index struct {
	genes     []Gene
	intervals []interval
	maxEnd    []int // maxEnd[i] = max(end) for intervals[:i+1]
}

type interval struct {
	start int
	end   int // exclusive
	gene  int
}

// BuildIndex creates an index over all parts of the given genes.
func BuildIndex(genes []Gene) *Index {
	idx := &Index{genes: genes}
	for gi := range genes {
		for _, p := range genes[gi].Parts {
			if p.Len() <= 0 {
				continue
			}
			idx.intervals = append(idx.intervals, interval{start: p.Start, end: p.End, gene: gi})
		}
	}
	if len(idx.intervals) == 0 {
		return idx
	}

	sort.SliceStable(idx.intervals, func(i, j int) bool {
		return idx.intervals[i].start < idx.intervals[j].start
	})

	idx.maxEnd = make([]int, len(idx.intervals))
	for i, iv := range idx.intervals {
		idx.maxEnd[i] = iv.end
		if i > 0 && idx.maxEnd[i-1] > iv.end {
			idx.maxEnd[i] = idx.maxEnd[i-1]
		}
	}
	return idx
}

// Genes returns the genes the index was built from.
func (x *Index) Genes() []Gene {
	return x.genes
}

// Lookup returns one CodonRef per gene covering pos, ordered by gene index.
func (x *Index) Lookup(pos int) []CodonRef {
	if len(x.intervals) == 0 {
		return nil
	}

	hi := sort.Search(len(x.intervals), func(i int) bool {
		return x.intervals[i].start > pos
	})

	var result []CodonRef
	for i := hi - 1; i >= 0; i-- {
		if x.maxEnd[i] <= pos {
			break
		}
		iv := x.intervals[i]
		if iv.end <= pos {
			continue
		}
		seen := false
		for _, r := range result {
			if r.Gene == iv.gene {
				seen = true
				break
			}
		}
		if seen {
			continue
		}
		gp := x.genes[iv.gene].GenePosition(pos)
		if gp < 0 {
			continue
		}
		result = append(result, CodonRef{Gene: iv.gene, Codon: CodonPosition(gp)})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Gene < result[j].Gene
	})
	return result
}
