package output

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// TabWriter writes the mutation catalog in tab-delimited format.
type TabWriter struct {
	w       *bufio.Writer
	columns []string
}

// NewTabWriter creates a new tab-delimited writer.
func NewTabWriter(w io.Writer) *TabWriter {
	return &TabWriter{
		w: bufio.NewWriter(w),
		columns: []string{
			"#Mutation_id",
			"Type",
			"Label",
			"Gene",
			"Previous_residue",
			"Residue_pos",
			"New_residue",
			"Nuc_for_codon",
			"Branches",
		},
	}
}

// WriteHeader writes the header line.
func (tw *TabWriter) WriteHeader() error {
	_, err := tw.w.WriteString(strings.Join(tw.columns, "\t") + "\n")
	return err
}

// Write writes a single catalog entry seen on the given number of branches.
func (tw *TabWriter) Write(e Entry, branches int) error {
	nuc := "-"
	if e.NucForCodon != nil {
		nuc = strconv.Itoa(int(*e.NucForCodon))
	}

	values := []string{
		strconv.Itoa(e.MutationID),
		e.Type,
		e.Label(),
		e.Gene,
		e.PreviousResidue,
		strconv.Itoa(int(e.ResiduePos)),
		e.NewResidue,
		nuc,
		strconv.Itoa(branches),
	}

	_, err := tw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// WriteCatalog writes the header and every entry of c.
func (tw *TabWriter) WriteCatalog(c *Catalog) error {
	if err := tw.WriteHeader(); err != nil {
		return err
	}
	for i, e := range c.Entries() {
		if err := tw.Write(e, c.Branches(i)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Flush flushes any buffered data to the underlying writer.
func (tw *TabWriter) Flush() error {
	return tw.w.Flush()
}
