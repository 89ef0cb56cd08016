package usher

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/taxonium/usher2taxonium/internal/newick"
	"github.com/taxonium/usher2taxonium/internal/tree"
)

// ErrMutationCountMismatch is returned when the number of mutation lists
// differs from the number of nodes in the Newick string.
var ErrMutationCountMismatch = errors.New("number of nodes does not match number of mutation lists")

// Source provides the parts of a mutation-annotated tree needed to build
// it. Mutation lists and clade annotations are in Newick preorder.
type Source interface {
	NewickString() string
	MutationLists() [][]RawMutation
	Condensed() []CondensedNode
	CladeAnnotations() [][]string
}

func (d *Data) NewickString() string           { return d.Newick }
func (d *Data) MutationLists() [][]RawMutation { return d.NodeMutations }
func (d *Data) Condensed() []CondensedNode     { return d.CondensedNodes }
func (d *Data) CladeAnnotations() [][]string   { return d.Metadata }

// BuildStats summarizes what Build did.
type BuildStats struct {
	Nodes          int
	Mutations      int
	CondensedNodes int
	ExpandedLeaves int
	NamedInternal  int
	CladeAnnotated bool
}

// Builder turns a Source into a tree.
type Builder struct {
	nameInternal bool
	logger       *zap.Logger
}

// NewBuilder creates a builder that leaves internal nodes unnamed.
func NewBuilder() *Builder {
	return &Builder{logger: zap.NewNop()}
}

// SetLogger sets the logger for build progress messages.
func (b *Builder) SetLogger(logger *zap.Logger) {
	b.logger = logger
}

// SetNameInternalNodes enables "internal_<n>" names for unnamed internal
// nodes, numbered in preorder.
func (b *Builder) SetNameInternalNodes(v bool) {
	b.nameInternal = v
}

// Build parses the topology, attaches mutations and clade annotations,
// expands condensed leaves and optionally names internal nodes.
func (b *Builder) Build(src Source) (*tree.Tree, BuildStats, error) {
	var stats BuildStats

	root, err := newick.Parse(src.NewickString())
	if err != nil {
		return nil, stats, fmt.Errorf("parse newick: %w", err)
	}
	t := tree.New(root)
	nodes := t.Nodes()

	lists := src.MutationLists()
	if len(nodes) != len(lists) {
		return nil, stats, fmt.Errorf("%w: %d nodes, %d mutation lists", ErrMutationCountMismatch, len(nodes), len(lists))
	}

	for i, n := range nodes {
		n.Mutations = convertMutations(lists[i])
		stats.Mutations += len(n.Mutations)
	}

	// Annotations are indexed by the wire preorder, so apply them before
	// condensed expansion changes the node set.
	if ann := src.CladeAnnotations(); len(ann) == len(nodes) && len(ann) > 0 {
		for i, n := range nodes {
			if len(ann[i]) > 0 {
				n.Clades = ann[i]
			}
		}
		stats.CladeAnnotated = true
	} else if len(ann) > 0 {
		b.logger.Warn("ignoring clade annotations with mismatched count",
			zap.Int("annotations", len(ann)), zap.Int("nodes", len(nodes)))
	}

	stats.CondensedNodes, stats.ExpandedLeaves = b.expandCondensed(t, src.Condensed())

	if b.nameInternal {
		stats.NamedInternal = nameInternalNodes(t)
		t.RebuildIndex()
	}

	stats.Nodes = t.NumNodes()
	return t, stats, nil
}

func convertMutations(raw []RawMutation) []tree.Mutation {
	if len(raw) == 0 {
		return nil
	}
	muts := make([]tree.Mutation, len(raw))
	for i, r := range raw {
		m := tree.Mutation{
			Chromosome: r.Chromosome,
			Position:   r.Position,
			Ref:        tree.NucleotideFromCode(r.RefNuc),
			Par:        tree.NucleotideFromCode(r.ParNuc),
		}
		if len(r.MutNuc) > 0 {
			m.Mut = tree.NucleotideFromCode(r.MutNuc[0])
		} else {
			m.Mut = m.Par
		}
		muts[i] = m
	}
	sort.SliceStable(muts, func(i, j int) bool {
		return muts[i].SiteLess(muts[j])
	})
	return muts
}

// expandCondensed replaces each condensed leaf with its member samples,
// appended to the leaf's parent. Only non-root leaves without mutations
// are expanded.
func (b *Builder) expandCondensed(t *tree.Tree, condensed []CondensedNode) (expanded, added int) {
	type job struct {
		node   *tree.Node
		leaves []string
	}
	var jobs []job
	for _, cn := range condensed {
		n := t.Find(cn.NodeName)
		if n == nil || !n.IsLeaf() || len(n.Mutations) > 0 || n.Parent == nil {
			continue
		}
		jobs = append(jobs, job{node: n, leaves: cn.CondensedLeaves})
	}

	for _, j := range jobs {
		parent := j.node.Parent
		if parent == nil {
			// Already expanded via a duplicate entry.
			continue
		}
		for _, name := range j.leaves {
			parent.AddChild(name)
			added++
		}
		parent.RemoveChild(j.node)
		expanded++
	}

	if len(condensed) > 0 {
		t.RebuildIndex()
	}
	b.logger.Info("expanded condensed nodes",
		zap.Int("condensed", expanded), zap.Int("new_leaves", added))
	return expanded, added
}

func nameInternalNodes(t *tree.Tree) int {
	count := 0
	t.PreOrder(func(n *tree.Node) {
		if !n.IsLeaf() && n.Name == "" {
			n.Name = "internal_" + strconv.Itoa(count)
			count++
		}
	})
	return count
}
