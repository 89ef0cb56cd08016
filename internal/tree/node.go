package tree

// Node is a vertex of a phylogenetic tree. Children are owned by their
// parent; Parent is a back-reference.
type Node struct {
	Name     string
	Parent   *Node
	Children []*Node

	Mutations   []Mutation
	AAMutations []AAMutation
	Metadata    map[string]string
	Clades      []string

	// Layout. X holds the parsed branch length until coordinates are
	// computed.
	X          float64
	Y          float64
	EdgeLength float64
	NumTips    int
	DFSIndex   int
	DFSEnd     int
}

// NewNode creates a detached node.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// IsLeaf returns true if the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// IsRoot returns true if the node has no parent.
func (n *Node) IsRoot() bool {
	return n.Parent == nil
}

// AddChild creates a named child and appends it.
func (n *Node) AddChild(name string) *Node {
	c := &Node{Name: name, Parent: n}
	n.Children = append(n.Children, c)
	return c
}

// Adopt appends an existing node as the last child.
func (n *Node) Adopt(c *Node) {
	c.Parent = n
	n.Children = append(n.Children, c)
}

// RemoveChild detaches child. It returns false if child is not a child of n.
func (n *Node) RemoveChild(child *Node) bool {
	for i, c := range n.Children {
		if c == child {
			copy(n.Children[i:], n.Children[i+1:])
			n.Children[len(n.Children)-1] = nil
			n.Children = n.Children[:len(n.Children)-1]
			child.Parent = nil
			return true
		}
	}
	return false
}

// Depth returns the number of edges between the node and the root.
func (n *Node) Depth() int {
	d := 0
	for p := n.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}
