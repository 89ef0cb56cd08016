// Package tree holds the in-memory phylogenetic tree and its traversals.
//
// All traversals use explicit stacks so that trees millions of levels deep
// (caterpillar trees are common in large UShER builds) never grow the call
// stack.
package tree

import "github.com/taxonium/usher2taxonium/internal/gene"

// Tree is a rooted tree with a name index over its named nodes.
type Tree struct {
	root     *Node
	index    map[string]*Node
	numNodes int
	genes    []gene.Gene
}

// New creates a tree around root and builds its index.
func New(root *Node) *Tree {
	t := &Tree{}
	t.SetRoot(root)
	return t
}

// Root returns the root node, or nil for an empty tree.
func (t *Tree) Root() *Node {
	return t.root
}

// SetRoot replaces the root and rebuilds the index.
func (t *Tree) SetRoot(root *Node) {
	if root != nil {
		root.Parent = nil
	}
	t.root = root
	t.RebuildIndex()
}

// RebuildIndex recomputes the name index and node count. Call it after
// changing topology or names.
func (t *Tree) RebuildIndex() {
	t.index = make(map[string]*Node)
	t.numNodes = 0
	t.PreOrder(func(n *Node) {
		t.numNodes++
		if n.Name != "" {
			t.index[n.Name] = n
		}
	})
}

// Find returns the node with the given name, or nil. If names repeat, the
// last in preorder wins.
func (t *Tree) Find(name string) *Node {
	return t.index[name]
}

// NumNodes returns the node count as of the last index rebuild.
func (t *Tree) NumNodes() int {
	return t.numNodes
}

// NumTips counts leaves.
func (t *Tree) NumTips() int {
	n := 0
	t.PreOrder(func(node *Node) {
		if node.IsLeaf() {
			n++
		}
	})
	return n
}

// Genes returns the gene definitions attached for output.
func (t *Tree) Genes() []gene.Gene {
	return t.genes
}

// SetGenes attaches gene definitions for output.
func (t *Tree) SetGenes(genes []gene.Gene) {
	t.genes = genes
}

// PreOrder calls fn on every node, parents before children, children in
// order.
func (t *Tree) PreOrder(fn func(*Node)) {
	if t.root == nil {
		return
	}
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// PostOrder calls fn on every node, children (in order) before parents.
func (t *Tree) PostOrder(fn func(*Node)) {
	for _, n := range t.PostOrderNodes() {
		fn(n)
	}
}

// Nodes returns all nodes in preorder.
func (t *Tree) Nodes() []*Node {
	nodes := make([]*Node, 0, t.numNodes)
	t.PreOrder(func(n *Node) {
		nodes = append(nodes, n)
	})
	return nodes
}

// PostOrderNodes returns all nodes in postorder.
func (t *Tree) PostOrderNodes() []*Node {
	if t.root == nil {
		return nil
	}
	// Reverse of a root, right-to-left children preorder.
	out := make([]*Node, 0, t.numNodes)
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		stack = append(stack, n.Children...)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// BreadthFirst returns all nodes level by level.
func (t *Tree) BreadthFirst() []*Node {
	if t.root == nil {
		return nil
	}
	out := make([]*Node, 0, t.numNodes)
	out = append(out, t.root)
	for i := 0; i < len(out); i++ {
		out = append(out, out[i].Children...)
	}
	return out
}

// Leaves returns the leaves in preorder.
func (t *Tree) Leaves() []*Node {
	var out []*Node
	t.PreOrder(func(n *Node) {
		if n.IsLeaf() {
			out = append(out, n)
		}
	})
	return out
}

// CountTips sets NumTips on every node: 1 for a leaf, otherwise the sum
// over children.
func (t *Tree) CountTips() {
	t.PostOrder(func(n *Node) {
		if n.IsLeaf() {
			n.NumTips = 1
			return
		}
		sum := 0
		for _, c := range n.Children {
			sum += c.NumTips
		}
		n.NumTips = sum
	})
}

// Release breaks all parent and child links and empties the tree.
func (t *Tree) Release() {
	for _, n := range t.PostOrderNodes() {
		n.Children = nil
		n.Parent = nil
	}
	t.root = nil
	t.index = nil
	t.numNodes = 0
}
