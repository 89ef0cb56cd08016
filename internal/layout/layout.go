// Package layout orders siblings and computes plotting coordinates.
package layout

import (
	"sort"

	"github.com/taxonium/usher2taxonium/internal/tree"
)

const (
	// XScale is the plotting width the Percentile-th x value maps to.
	XScale = 600.0
	// Percentile selects the x value used for normalization.
	Percentile = 0.95
)

// setEdgeLengths sets each node's edge length to its nucleotide mutation
// count.
func setEdgeLengths(t *tree.Tree) {
	t.PreOrder(func(n *tree.Node) {
		n.EdgeLength = float64(len(n.Mutations))
	})
}

// lessDescending orders larger clades first, then longer branches, then
// named nodes before unnamed ones, then names in byte order.
func lessDescending(a, b *tree.Node) bool {
	if a.NumTips != b.NumTips {
		return a.NumTips > b.NumTips
	}
	if a.EdgeLength != b.EdgeLength {
		return a.EdgeLength > b.EdgeLength
	}
	aNamed, bNamed := a.Name != "", b.Name != ""
	if aNamed != bNamed {
		return aNamed
	}
	return a.Name < b.Name
}

// lessAscending is the exact mirror of lessDescending.
func lessAscending(a, b *tree.Node) bool {
	return lessDescending(b, a)
}

// Ladderize reorders every node's children, deepest nodes first. Tip counts
// and edge lengths are recomputed before sorting. The sort is stable, so
// applying Ladderize twice with the same direction changes nothing.
func Ladderize(t *tree.Tree, ascending bool) {
	if t.Root() == nil {
		return
	}
	t.CountTips()
	setEdgeLengths(t)

	less := lessDescending
	if ascending {
		less = lessAscending
	}

	t.PostOrder(func(n *tree.Node) {
		if len(n.Children) < 2 {
			return
		}
		children := n.Children
		sort.SliceStable(children, func(i, j int) bool {
			return less(children[i], children[j])
		})
	})
}

// CalculateCoordinates sets tip counts, edge lengths, DFS ranges, x and y
// for every node.
func CalculateCoordinates(t *tree.Tree) {
	root := t.Root()
	if root == nil {
		return
	}

	t.CountTips()
	setEdgeLengths(t)
	setDFSIndices(t)

	nodes := t.Nodes()
	xs := make([]float64, len(nodes))
	for i, n := range nodes {
		if n.Parent == nil {
			n.X = 0
		} else {
			n.X = n.Parent.X + n.EdgeLength
		}
		xs[i] = n.X
	}

	sort.Float64s(xs)
	p := xs[int(float64(len(xs))*Percentile)]
	if p > 0 {
		for _, n := range nodes {
			n.X = XScale * (n.X / p)
		}
	}

	leafY := 0
	for _, n := range nodes {
		if n.IsLeaf() {
			n.Y = float64(leafY)
			leafY++
		}
	}

	t.PostOrder(func(n *tree.Node) {
		if n.IsLeaf() {
			return
		}
		minY, maxY := n.Children[0].Y, n.Children[0].Y
		for _, c := range n.Children[1:] {
			if c.Y < minY {
				minY = c.Y
			}
			if c.Y > maxY {
				maxY = c.Y
			}
		}
		n.Y = (minY + maxY) / 2
	})
}

// setDFSIndices numbers nodes in preorder and records for each node the
// index of its last descendant.
func setDFSIndices(t *tree.Tree) {
	next := 0
	t.PreOrder(func(n *tree.Node) {
		n.DFSIndex = next
		next++
	})
	t.PostOrder(func(n *tree.Node) {
		if n.IsLeaf() {
			n.DFSEnd = n.DFSIndex
			return
		}
		n.DFSEnd = n.Children[len(n.Children)-1].DFSEnd
	})
}

// SortByY returns all nodes ordered by y, then x, then name. Ties keep
// preorder.
func SortByY(t *tree.Tree) []*tree.Node {
	nodes := t.Nodes()
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Name < b.Name
	})
	return nodes
}
