package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxonium/usher2taxonium/internal/newick"
	"github.com/taxonium/usher2taxonium/internal/tree"
)

func parse(t *testing.T, s string) *tree.Tree {
	t.Helper()
	root, err := newick.Parse(s)
	require.NoError(t, err)
	return tree.New(root)
}

func childNames(n *tree.Node) []string {
	var out []string
	for _, c := range n.Children {
		out = append(out, c.Name)
	}
	return out
}

func order(tr *tree.Tree) []string {
	var out []string
	tr.PreOrder(func(n *tree.Node) { out = append(out, n.Name) })
	return out
}

func addMutations(n *tree.Node, count int) {
	for i := 0; i < count; i++ {
		n.Mutations = append(n.Mutations, tree.Mutation{Position: int32(i + 1), Par: tree.NucA, Mut: tree.NucG})
	}
}

func TestLadderize_ByTips(t *testing.T) {
	tr := parse(t, "(a,(b,c)x,((d,e)y,f)z)root;")

	Ladderize(tr, false)
	assert.Equal(t, []string{"z", "x", "a"}, childNames(tr.Root()))
	assert.Equal(t, []string{"y", "f"}, childNames(tr.Find("z")))

	Ladderize(tr, true)
	assert.Equal(t, []string{"a", "x", "z"}, childNames(tr.Root()))
	assert.Equal(t, []string{"f", "y"}, childNames(tr.Find("z")))
}

func TestLadderize_TieBreaks(t *testing.T) {
	tr := parse(t, "(,b,a,m,)root;")
	unnamedFirst := tr.Root().Children[0]
	unnamedLast := tr.Root().Children[4]
	addMutations(tr.Find("m"), 2)

	Ladderize(tr, false)
	got := tr.Root().Children
	require.Len(t, got, 5)
	// Edge length first, then named before unnamed, then name ascending;
	// unnamed ties keep their original order.
	assert.Equal(t, "m", got[0].Name)
	assert.Equal(t, "a", got[1].Name)
	assert.Equal(t, "b", got[2].Name)
	assert.Same(t, unnamedFirst, got[3])
	assert.Same(t, unnamedLast, got[4])

	Ladderize(tr, true)
	got = tr.Root().Children
	assert.Same(t, unnamedFirst, got[0])
	assert.Same(t, unnamedLast, got[1])
	assert.Equal(t, "b", got[2].Name)
	assert.Equal(t, "a", got[3].Name)
	assert.Equal(t, "m", got[4].Name)
}

func TestLadderize_Idempotent(t *testing.T) {
	for _, ascending := range []bool{false, true} {
		tr := parse(t, "((q,(r,s)),(t,u,(v,(w,x))),y,(z1,z2))root;")
		addMutations(tr.Find("t"), 1)
		addMutations(tr.Find("y"), 3)

		Ladderize(tr, ascending)
		first := order(tr)
		firstPtrs := tr.Nodes()

		Ladderize(tr, ascending)
		assert.Equal(t, first, order(tr), "ascending=%v", ascending)
		for i, n := range tr.Nodes() {
			assert.Same(t, firstPtrs[i], n)
		}
	}
}

func TestCalculateCoordinates_Scenario(t *testing.T) {
	tr := parse(t, "(A:1,B:2)root:0;")
	addMutations(tr.Find("A"), 1)
	addMutations(tr.Find("B"), 1)

	CalculateCoordinates(tr)

	root := tr.Root()
	assert.Equal(t, 2, root.NumTips)
	assert.Equal(t, 3, tr.NumNodes())
	assert.Equal(t, 0.0, root.X)
	// xs = [0,1,1]; index int(3*0.95)=2 -> 1.
	assert.Equal(t, 600.0, tr.Find("A").X)
	assert.Equal(t, 600.0, tr.Find("B").X)

	assert.Equal(t, 0.0, tr.Find("A").Y)
	assert.Equal(t, 1.0, tr.Find("B").Y)
	assert.Equal(t, 0.5, root.Y)

	assert.Equal(t, 0, root.DFSIndex)
	assert.Equal(t, 2, root.DFSEnd)
	assert.Equal(t, 1, tr.Find("A").DFSIndex)
	assert.Equal(t, 1, tr.Find("A").DFSEnd)
}

func TestCalculateCoordinates_NoMutationsSkipsScaling(t *testing.T) {
	tr := parse(t, "((a:5,b:5):1,c:3);")
	CalculateCoordinates(tr)

	tr.PreOrder(func(n *tree.Node) {
		assert.Equal(t, 0.0, n.X, "branch lengths from Newick are replaced")
	})
}

func TestCalculateCoordinates_Layout(t *testing.T) {
	tr := parse(t, "((a,b)x,(c,(d,e)y)z)root;")
	addMutations(tr.Find("x"), 2)
	addMutations(tr.Find("a"), 1)
	addMutations(tr.Find("z"), 1)
	addMutations(tr.Find("e"), 4)

	CalculateCoordinates(tr)

	// Raw x: root 0, x 2, a 3, b 2, z 1, c 1, y 1, d 1, e 5.
	// Sorted: 0 1 1 1 1 2 2 3 5; index int(9*0.95)=8 -> 5.
	scale := 600.0 / 5.0
	assert.InDelta(t, 3*scale, tr.Find("a").X, 1e-9)
	assert.InDelta(t, 5*scale, tr.Find("e").X, 1e-9)
	assert.InDelta(t, 1*scale, tr.Find("y").X, 1e-9)

	assert.Equal(t, 0.0, tr.Find("a").Y)
	assert.Equal(t, 1.0, tr.Find("b").Y)
	assert.Equal(t, 2.0, tr.Find("c").Y)
	assert.Equal(t, 3.0, tr.Find("d").Y)
	assert.Equal(t, 4.0, tr.Find("e").Y)
	assert.Equal(t, 0.5, tr.Find("x").Y)
	assert.Equal(t, 3.5, tr.Find("y").Y)
	assert.Equal(t, 2.75, tr.Find("z").Y, "midpoint of min and max child y")
	assert.Equal(t, 1.625, tr.Root().Y)

	z := tr.Find("z")
	assert.Equal(t, 4, z.DFSIndex)
	assert.Equal(t, 8, z.DFSEnd)
	assert.Equal(t, 3, tr.Find("x").DFSEnd)

	tr.PreOrder(func(n *tree.Node) {
		sum := 0
		for _, c := range n.Children {
			sum += c.NumTips
		}
		if n.IsLeaf() {
			assert.Equal(t, 1, n.NumTips)
		} else {
			assert.Equal(t, sum, n.NumTips)
		}
	})
	assert.Equal(t, 5, tr.Root().NumTips)
}

func TestSortByY(t *testing.T) {
	tr := parse(t, "((a,b)x,(c,d)y)root;")
	addMutations(tr.Find("x"), 1)
	CalculateCoordinates(tr)

	// y: a 0, b 1, c 2, d 3, x 0.5, y 2.5, root 1.5.
	got := SortByY(tr)
	var names []string
	for _, n := range got {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"a", "x", "b", "root", "c", "y", "d"}, names)
}

func TestSortByY_TieBreakXThenName(t *testing.T) {
	root := tree.NewNode("r")
	b := root.AddChild("b")
	a := root.AddChild("a")
	c := root.AddChild("c")
	tr := tree.New(root)
	b.Y, a.Y, c.Y = 1, 1, 1
	b.X, a.X, c.X = 2, 2, 1
	root.Y = 0

	got := SortByY(tr)
	assert.Equal(t, []*tree.Node{root, c, a, b}, got)
}
