// Package annotate derives amino acid mutations for every branch of a tree
// by propagating nucleotide state from the root.
package annotate

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taxonium/usher2taxonium/internal/codon"
	"github.com/taxonium/usher2taxonium/internal/gene"
	"github.com/taxonium/usher2taxonium/internal/tree"
)

const (
	// progressBatch is the number of nodes a worker processes between
	// progress reports and cancellation checks.
	progressBatch = 1024
	// maxSplitDepth bounds how many levels are expanded sequentially
	// while looking for independent subtrees.
	maxSplitDepth = 64
)

// Stats summarizes an annotation run.
type Stats struct {
	Nodes       int
	AAMutations int
	Tasks       int
}

// Annotator computes amino acid changes on each branch.
type Annotator struct {
	genes     []gene.Gene
	reference string
	table     *codon.Table
	index     *gene.Index

	workers  int
	logger   *zap.Logger
	progress func(done int)

	mu   sync.Mutex
	done int
}

// NewAnnotator creates an annotator for the given genes and 0-based
// reference sequence.
func NewAnnotator(genes []gene.Gene, reference string, table *codon.Table) *Annotator {
	return &Annotator{
		genes:     genes,
		reference: reference,
		table:     table,
		index:     gene.BuildIndex(genes),
		logger:    zap.NewNop(),
	}
}

// SetLogger sets the logger for warning and info messages.
func (a *Annotator) SetLogger(l *zap.Logger) {
	a.logger = l
}

// SetWorkers sets the number of parallel workers. 0 means runtime.NumCPU().
func (a *Annotator) SetWorkers(n int) {
	a.workers = n
}

// SetProgress registers a callback receiving the running count of
// processed nodes. Calls are serialized and the count never decreases.
func (a *Annotator) SetProgress(fn func(done int)) {
	a.progress = fn
}

// state maps a 0-based genomic position to the base in effect on the
// current lineage. Missing positions fall back to the reference.
type state map[int]byte

func (s state) clone() state {
	c := make(state, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// task is an independent subtree together with the lineage state in
// effect at its parent.
type task struct {
	node  *tree.Node
	state state
}

// Annotate sets AAMutations on every node of t. Results do not depend on
// the number of workers.
func (a *Annotator) Annotate(ctx context.Context, t *tree.Tree) (Stats, error) {
	var stats Stats
	if t.Root() == nil || len(a.genes) == 0 || a.reference == "" {
		return stats, nil
	}

	workers := a.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	a.mu.Lock()
	a.done = 0
	a.mu.Unlock()

	tasks, visited := a.split(t.Root(), 4*workers)
	a.report(visited)
	stats.Tasks = len(tasks)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, tk := range tasks {
		g.Go(func() error {
			return a.walk(ctx, tk.node, tk.state.clone())
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	t.PreOrder(func(n *tree.Node) {
		stats.Nodes++
		stats.AAMutations += len(n.AAMutations)
	})
	a.logger.Info("annotated amino acid mutations",
		zap.Int("nodes", stats.Nodes),
		zap.Int("aa_mutations", stats.AAMutations),
		zap.Int("tasks", stats.Tasks))
	return stats, nil
}

// split annotates nodes near the root level by level until at least target
// independent subtrees are available, and returns those subtrees. Children
// of one parent share a read-only state; workers clone before writing.
func (a *Annotator) split(root *tree.Node, target int) ([]task, int) {
	frontier := []task{{node: root, state: state{}}}
	visited := 0

	for depth := 0; depth < maxSplitDepth && len(frontier) < target; depth++ {
		var next []task
		expanded := false
		for _, tk := range frontier {
			if tk.node.IsLeaf() {
				next = append(next, tk)
				continue
			}
			own := a.ownMutations(tk.node)
			tk.node.AAMutations = a.nodeAAMutations(tk.node, own, tk.state)
			visited++

			child := tk.state
			if len(own) > 0 {
				child = tk.state.clone()
				for pos, b := range own {
					child[pos] = b
				}
			}
			for _, c := range tk.node.Children {
				next = append(next, task{node: c, state: child})
			}
			expanded = true
		}
		frontier = next
		if !expanded {
			break
		}
	}
	return frontier, visited
}

type undo struct {
	pos  int
	prev byte
	had  bool
}

// walk annotates the subtree rooted at n. s is owned by the caller's
// goroutine and is restored from an undo log when leaving each node.
func (a *Annotator) walk(ctx context.Context, n *tree.Node, s state) error {
	type frame struct {
		node *tree.Node
		exit bool
		log  []undo
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	stack := []frame{{node: n}}
	pending := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.exit {
			for i := len(f.log) - 1; i >= 0; i-- {
				u := f.log[i]
				if u.had {
					s[u.pos] = u.prev
				} else {
					delete(s, u.pos)
				}
			}
			continue
		}

		own := a.ownMutations(f.node)
		f.node.AAMutations = a.nodeAAMutations(f.node, own, s)

		pending++
		if pending == progressBatch {
			a.report(pending)
			pending = 0
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if f.node.IsLeaf() {
			continue
		}

		var log []undo
		for pos, b := range own {
			prev, had := s[pos]
			log = append(log, undo{pos: pos, prev: prev, had: had})
			s[pos] = b
		}
		stack = append(stack, frame{node: f.node, exit: true, log: log})
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: f.node.Children[i]})
		}
	}
	a.report(pending)
	return nil
}

func (a *Annotator) report(n int) {
	if n == 0 {
		return
	}
	a.mu.Lock()
	a.done += n
	if a.progress != nil {
		a.progress(a.done)
	}
	a.mu.Unlock()
}

// ownMutations returns the node's mutations keyed by 0-based genomic
// position. Masked mutations and positions outside the reference are
// dropped; a later mutation at the same position wins.
func (a *Annotator) ownMutations(n *tree.Node) map[int]byte {
	var own map[int]byte
	for _, m := range n.Mutations {
		if m.Masked() {
			continue
		}
		pos := int(m.Position) - 1
		if pos < 0 || pos >= len(a.reference) {
			continue
		}
		if own == nil {
			own = make(map[int]byte, len(n.Mutations))
		}
		own[pos] = m.Mut.Char()
	}
	return own
}

// nodeAAMutations compares each codon touched by the node's own mutations
// before and after the branch.
func (a *Annotator) nodeAAMutations(n *tree.Node, own map[int]byte, s state) []tree.AAMutation {
	if len(own) == 0 {
		return nil
	}

	var codons []gene.CodonRef
	seen := make(map[gene.CodonRef]bool)
	for _, m := range n.Mutations {
		if m.Masked() {
			continue
		}
		pos := int(m.Position) - 1
		if _, ok := own[pos]; !ok {
			continue
		}
		for _, ref := range a.index.Lookup(pos) {
			if !seen[ref] {
				seen[ref] = true
				codons = append(codons, ref)
			}
		}
	}

	var out []tree.AAMutation
	for _, ref := range codons {
		g := &a.genes[ref.Gene]
		positions, ok := g.CodonGenomicPositions(ref.Codon)
		if !ok || positions[2] >= len(a.reference) {
			continue
		}

		var before [3]byte
		for i, p := range positions {
			before[i] = a.reference[p]
			if v, ok := s[p]; ok {
				before[i] = v
			}
		}
		initial := string(before[:])
		final := initial
		for i, p := range positions {
			if v, ok := own[p]; ok {
				final = codon.MutateCodon(final, i, v)
			}
		}

		if g.IsReverse() {
			initial = codon.ReverseComplement(initial)
			final = codon.ReverseComplement(final)
		}

		refAA := a.table.Translate(initial)
		altAA := a.table.Translate(final)
		if refAA == altAA {
			continue
		}
		out = append(out, tree.AAMutation{
			Gene:        g.Name,
			Codon:       int32(ref.Codon + 1),
			RefAA:       string(refAA),
			AltAA:       string(altAA),
			NucForCodon: int32(positions[1]),
		})
	}
	return out
}
