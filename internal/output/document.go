package output

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/taxonium/usher2taxonium/internal/gene"
	"github.com/taxonium/usher2taxonium/internal/layout"
	"github.com/taxonium/usher2taxonium/internal/tree"
)

// FormatVersion is the Taxonium JSONL version written to the header.
const FormatVersion = "2.1.2"

// Header is the first line of the output.
type Header struct {
	Version    string         `json:"version"`
	Mutations  []Entry        `json:"mutations"`
	TotalNodes int            `json:"total_nodes"`
	Config     map[string]any `json:"config"`
}

// GeneDetail describes a gene in the header config.
type GeneDetail struct {
	Name   string `json:"name"`
	Strand int    `json:"strand"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Line is the serialized form of one node. Metadata columns are appended
// after the fixed fields when the line is encoded.
type Line struct {
	Name      string            `json:"name"`
	XDist     json.Number       `json:"x_dist"`
	Y         json.Number       `json:"y"`
	Mutations []int             `json:"mutations"`
	IsTip     bool              `json:"is_tip"`
	ParentID  int               `json:"parent_id"`
	NodeID    int               `json:"node_id"`
	NumTips   int               `json:"num_tips"`
	Clades    map[string]string `json:"clades,omitempty"`
}

// Document is a laid-out tree ready to be written.
type Document struct {
	Catalog    *Catalog
	Nodes      []*tree.Node
	Columns    []string
	CladeTypes []string

	numTips int
	genes   []gene.Gene
	config  map[string]any
	index   map[*tree.Node]int
}

// Prepare builds the catalog and assigns node ids by y order. t must
// already have coordinates.
func Prepare(t *tree.Tree, columns, cladeTypes []string) *Document {
	nodes := layout.SortByY(t)
	index := make(map[*tree.Node]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}
	numTips := 0
	if t.Root() != nil {
		numTips = t.Root().NumTips
	}
	return &Document{
		Catalog:    BuildCatalog(t),
		Nodes:      nodes,
		Columns:    columns,
		CladeTypes: cladeTypes,
		numTips:    numTips,
		genes:      t.Genes(),
		index:      index,
	}
}

// SetConfig sets extra header config entries. Computed entries take
// precedence over these.
func (d *Document) SetConfig(cfg map[string]any) {
	d.config = cfg
}

// NodeID returns the output id of n, or -1 if n is not in the document.
func (d *Document) NodeID(n *tree.Node) int {
	if i, ok := d.index[n]; ok {
		return i
	}
	return -1
}

// Header returns the header record. now supplies the creation date.
func (d *Document) Header(now time.Time) Header {
	cfg := make(map[string]any, len(d.config)+3)
	for k, v := range d.config {
		cfg[k] = v
	}
	cfg["num_tips"] = d.numTips
	cfg["date_created"] = now.Format("2006-01-02")
	if len(d.genes) > 0 {
		details := make(map[string]GeneDetail, len(d.genes))
		for i := range d.genes {
			g := &d.genes[i]
			strand := 1
			if g.IsReverse() {
				strand = -1
			}
			details[g.Name] = GeneDetail{Name: g.Name, Strand: strand, Start: g.Start(), End: g.End()}
		}
		cfg["gene_details"] = details
	}
	return Header{
		Version:    FormatVersion,
		Mutations:  d.Catalog.Entries(),
		TotalNodes: len(d.Nodes),
		Config:     cfg,
	}
}

// Line returns the record for the node with output id i.
func (d *Document) Line(i int) Line {
	n := d.Nodes[i]
	l := Line{
		Name:      n.Name,
		XDist:     json.Number(strconv.FormatFloat(n.X, 'f', 5, 64)),
		Mutations: d.Catalog.NodeIndices(n),
		IsTip:     n.IsLeaf(),
		ParentID:  i,
		NodeID:    i,
		NumTips:   n.NumTips,
	}
	if n.IsLeaf() {
		l.Y = json.Number(strconv.Itoa(int(n.Y)))
	} else {
		l.Y = json.Number(strconv.FormatFloat(n.Y, 'f', 5, 64))
	}
	if n.Parent != nil {
		l.ParentID = d.index[n.Parent]
	}
	if len(d.CladeTypes) > 0 && n.Clades != nil {
		l.Clades = make(map[string]string, len(d.CladeTypes))
		for j, typ := range d.CladeTypes {
			v := ""
			if j < len(n.Clades) {
				v = n.Clades[j]
			}
			l.Clades[typ] = v
		}
	}
	return l
}

// Meta returns the node's value for every column, in column order.
// Missing values are empty strings.
func (d *Document) Meta(i int) []string {
	n := d.Nodes[i]
	out := make([]string, len(d.Columns))
	for j, col := range d.Columns {
		out[j] = n.Metadata[col]
	}
	return out
}

// AppendLine appends the JSON encoding of node i and a newline to buf.
func (d *Document) AppendLine(buf []byte, i int) ([]byte, error) {
	b, err := json.MarshalNoEscape(d.Line(i))
	if err != nil {
		return buf, err
	}
	buf = append(buf, b[:len(b)-1]...)
	for j, v := range d.Meta(i) {
		key, err := json.MarshalNoEscape("meta_" + d.Columns[j])
		if err != nil {
			return buf, err
		}
		val, err := json.MarshalNoEscape(v)
		if err != nil {
			return buf, err
		}
		buf = append(buf, ',')
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}', '\n'), nil
}
