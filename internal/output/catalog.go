// Package output builds the Taxonium JSONL document: a global mutation
// catalog in the header followed by one line per node.
package output

import (
	"sort"
	"strconv"

	"github.com/taxonium/usher2taxonium/internal/tree"
)

// Mutation types as they appear in the catalog.
const (
	TypeAA = "aa"
	TypeNT = "nt"
)

// Entry is one mutation in the header's catalog.
type Entry struct {
	Gene            string `json:"gene"`
	PreviousResidue string `json:"previous_residue"`
	ResiduePos      int32  `json:"residue_pos"`
	NewResidue      string `json:"new_residue"`
	MutationID      int    `json:"mutation_id"`
	NucForCodon     *int32 `json:"nuc_for_codon,omitempty"`
	Type            string `json:"type"`
}

// Label renders the entry as e.g. "S:D614G" or "A23T".
func (e Entry) Label() string {
	if e.Type == TypeAA {
		return tree.AAMutation{Gene: e.Gene, Codon: e.ResiduePos, RefAA: e.PreviousResidue, AltAA: e.NewResidue}.String()
	}
	return e.PreviousResidue + strconv.Itoa(int(e.ResiduePos)) + e.NewResidue
}

// Catalog holds every distinct mutation of a tree. Amino acid entries come
// first, then nucleotide entries, each block in key order.
type Catalog struct {
	entries  []Entry
	branches []int
	aa       map[tree.AAMutationKey]int
	nuc      map[tree.MutationKey]int
}

// BuildCatalog collects the distinct mutations of t in one preorder pass.
func BuildCatalog(t *tree.Tree) *Catalog {
	aaFirst := make(map[tree.AAMutationKey]tree.AAMutation)
	aaCount := make(map[tree.AAMutationKey]int)
	nucCount := make(map[tree.MutationKey]int)

	t.PreOrder(func(n *tree.Node) {
		for _, m := range n.AAMutations {
			k := m.Key()
			if _, ok := aaFirst[k]; !ok {
				aaFirst[k] = m
			}
			aaCount[k]++
		}
		for _, m := range n.Mutations {
			nucCount[m.Key()]++
		}
	})

	aaKeys := make([]tree.AAMutationKey, 0, len(aaFirst))
	for k := range aaFirst {
		aaKeys = append(aaKeys, k)
	}
	sort.Slice(aaKeys, func(i, j int) bool { return aaKeys[i].Less(aaKeys[j]) })

	nucKeys := make([]tree.MutationKey, 0, len(nucCount))
	for k := range nucCount {
		nucKeys = append(nucKeys, k)
	}
	sort.Slice(nucKeys, func(i, j int) bool { return nucKeys[i].Less(nucKeys[j]) })

	c := &Catalog{
		entries:  make([]Entry, 0, len(aaKeys)+len(nucKeys)),
		branches: make([]int, 0, len(aaKeys)+len(nucKeys)),
		aa:       make(map[tree.AAMutationKey]int, len(aaKeys)),
		nuc:      make(map[tree.MutationKey]int, len(nucKeys)),
	}
	for _, k := range aaKeys {
		id := len(c.entries)
		nuc := aaFirst[k].NucForCodon
		c.aa[k] = id
		c.entries = append(c.entries, Entry{
			Gene:            k.Gene,
			PreviousResidue: k.RefAA,
			ResiduePos:      k.Codon,
			NewResidue:      k.AltAA,
			MutationID:      id,
			NucForCodon:     &nuc,
			Type:            TypeAA,
		})
		c.branches = append(c.branches, aaCount[k])
	}
	for _, k := range nucKeys {
		id := len(c.entries)
		c.nuc[k] = id
		c.entries = append(c.entries, Entry{
			Gene:            TypeNT,
			PreviousResidue: string(k.Par.Char()),
			ResiduePos:      k.Position,
			NewResidue:      string(k.Mut.Char()),
			MutationID:      id,
			Type:            TypeNT,
		})
		c.branches = append(c.branches, nucCount[k])
	}
	return c
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// NumAA returns the size of the amino acid block.
func (c *Catalog) NumAA() int {
	return len(c.aa)
}

// Entries returns the catalog in index order.
func (c *Catalog) Entries() []Entry {
	return c.entries
}

// Branches returns how many branches carry the entry at index i.
func (c *Catalog) Branches(i int) int {
	return c.branches[i]
}

// IndexOfAA returns the catalog index of an amino acid mutation.
func (c *Catalog) IndexOfAA(k tree.AAMutationKey) (int, bool) {
	i, ok := c.aa[k]
	return i, ok
}

// IndexOfNuc returns the catalog index of a nucleotide mutation.
func (c *Catalog) IndexOfNuc(k tree.MutationKey) (int, bool) {
	i, ok := c.nuc[k]
	return i, ok
}

// NodeIndices returns the sorted, de-duplicated catalog indices of the
// mutations on the branch leading to n. The result is never nil.
func (c *Catalog) NodeIndices(n *tree.Node) []int {
	out := make([]int, 0, len(n.AAMutations)+len(n.Mutations))
	for _, m := range n.AAMutations {
		if i, ok := c.aa[m.Key()]; ok {
			out = append(out, i)
		}
	}
	for _, m := range n.Mutations {
		if i, ok := c.nuc[m.Key()]; ok {
			out = append(out, i)
		}
	}
	if len(out) < 2 {
		return out
	}
	sort.Ints(out)
	j := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[j-1] {
			out[j] = out[i]
			j++
		}
	}
	return out[:j]
}
