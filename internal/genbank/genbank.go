// Package genbank reads reference genomes and their coding sequences from
// GenBank flat files.
package genbank

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/taxonium/usher2taxonium/internal/gene"
	"github.com/taxonium/usher2taxonium/internal/xio"
)

// ErrLocation is returned for feature locations that cannot be parsed.
var ErrLocation = errors.New("invalid feature location")

// Record is a parsed GenBank entry.
type Record struct {
	Name     string
	Sequence string
	Genes    []gene.Gene
}

// ReadFile parses the first record of a GenBank file. Files ending in .gz
// are decompressed.
func ReadFile(path string) (*Record, error) {
	f, err := xio.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rec, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}

// feature accumulates the lines of one entry in the FEATURES table.
type feature struct {
	kind       string
	location   strings.Builder
	qualifiers []qualifier
	line       int
}

type qualifier struct {
	key   string
	value strings.Builder
	open  bool
}

func (f *feature) qualifier(key string) (string, bool) {
	for i := range f.qualifiers {
		if f.qualifiers[i].key == key {
			return f.qualifiers[i].value.String(), true
		}
	}
	return "", false
}

// Parse reads one GenBank record from r. Only CDS features are kept.
func Parse(r io.Reader) (*Record, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	rec := &Record{}
	var (
		seq        strings.Builder
		inFeatures bool
		inOrigin   bool
		cur        *feature
		lineNum    int
	)

	finish := func() error {
		if cur == nil {
			return nil
		}
		f := cur
		cur = nil
		if f.kind != "CDS" {
			return nil
		}
		g, err := cdsGene(f)
		if err != nil {
			return fmt.Errorf("line %d: %w", f.line, err)
		}
		if g.Name != "" {
			rec.Genes = append(rec.Genes, g)
		}
		return nil
	}

scan:
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), " \t\r")

		if inOrigin {
			if strings.HasPrefix(line, "//") {
				break
			}
			for i := 0; i < len(line); i++ {
				c := line[i]
				if c >= 'a' && c <= 'z' {
					seq.WriteByte(c - 'a' + 'A')
				} else if c >= 'A' && c <= 'Z' {
					seq.WriteByte(c)
				}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "LOCUS"):
			if fields := strings.Fields(line); len(fields) > 1 {
				rec.Name = fields[1]
			}
			continue
		case strings.HasPrefix(line, "FEATURES"):
			inFeatures = true
			continue
		case strings.HasPrefix(line, "ORIGIN"):
			if err := finish(); err != nil {
				return nil, err
			}
			inFeatures = false
			inOrigin = true
			continue
		case strings.HasPrefix(line, "//"):
			break scan
		}

		if !inFeatures || line == "" {
			continue
		}
		if line[0] != ' ' {
			// Another top-level section ends the feature table.
			if err := finish(); err != nil {
				return nil, err
			}
			inFeatures = false
			continue
		}

		if len(line) > 5 && line[5] != ' ' {
			if err := finish(); err != nil {
				return nil, err
			}
			fields := strings.Fields(line)
			cur = &feature{kind: fields[0], line: lineNum}
			if len(fields) > 1 {
				cur.location.WriteString(strings.Join(fields[1:], ""))
			}
			continue
		}

		if cur == nil {
			continue
		}
		content := strings.TrimSpace(line)
		if n := len(cur.qualifiers); n > 0 && cur.qualifiers[n-1].open {
			q := &cur.qualifiers[n-1]
			appendValue(q, content)
			continue
		}
		if strings.HasPrefix(content, "/") {
			key, value, hasValue := strings.Cut(content[1:], "=")
			cur.qualifiers = append(cur.qualifiers, qualifier{key: key})
			q := &cur.qualifiers[len(cur.qualifiers)-1]
			if hasValue {
				if strings.HasPrefix(value, `"`) {
					q.open = true
					appendValue(q, value[1:])
				} else {
					q.value.WriteString(value)
				}
			}
			continue
		}
		if len(cur.qualifiers) == 0 {
			cur.location.WriteString(content)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read genbank: %w", err)
	}
	if err := finish(); err != nil {
		return nil, err
	}

	rec.Sequence = seq.String()
	return rec, nil
}

// appendValue adds a line of a quoted qualifier value and closes the value
// at an unpaired quote. Translations are joined without separators.
func appendValue(q *qualifier, s string) {
	text, closed := unquote(s)
	if q.value.Len() > 0 && q.key != "translation" {
		q.value.WriteByte(' ')
	}
	q.value.WriteString(text)
	if closed {
		q.open = false
	}
}

// unquote decodes "" escapes up to the closing quote.
func unquote(s string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '"' {
			b.WriteByte('"')
			i++
			continue
		}
		return b.String(), true
	}
	return b.String(), false
}

func cdsGene(f *feature) (gene.Gene, error) {
	name, ok := f.qualifier("gene")
	if !ok || name == "" {
		name, _ = f.qualifier("locus_tag")
	}
	loc := f.location.String()
	parts, err := ParseLocation(loc)
	if err != nil {
		return gene.Gene{}, err
	}

	g := gene.Gene{Name: name, Strand: gene.Forward}
	reverse := len(parts) > 0
	for _, p := range parts {
		reverse = reverse && p.Complement
	}
	if reverse {
		// Reverse-strand genes keep their parts in genomic order.
		g.Strand = gene.Reverse
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
	}
	g.Parts = parts
	g.Protein, _ = f.qualifier("translation")
	return g, nil
}

// ParseLocation converts a feature location such as
// "complement(join(1..10,20..30))" into 0-based half-open parts listed in
// transcription order.
func ParseLocation(s string) ([]gene.Part, error) {
	p := &locParser{s: strings.ReplaceAll(s, " ", "")}
	parts, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("%w %q: trailing characters", ErrLocation, s)
	}
	return parts, nil
}

type locParser struct {
	s   string
	pos int
}

func (p *locParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w %q at %d: %s", ErrLocation, p.s, p.pos, fmt.Sprintf(format, args...))
}

func (p *locParser) parse() ([]gene.Part, error) {
	switch {
	case p.consume("complement("):
		inner, err := p.parse()
		if err != nil {
			return nil, err
		}
		if !p.consume(")") {
			return nil, p.errorf("missing )")
		}
		out := make([]gene.Part, len(inner))
		for i, part := range inner {
			part.Complement = !part.Complement
			out[len(inner)-1-i] = part
		}
		return out, nil

	case p.consume("join("), p.consume("order("):
		var out []gene.Part
		for {
			inner, err := p.parse()
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
			if p.consume(",") {
				continue
			}
			if p.consume(")") {
				return out, nil
			}
			return nil, p.errorf("expected , or )")
		}
	}
	return p.span()
}

func (p *locParser) span() ([]gene.Part, error) {
	p.consume("<")
	start, err := p.number()
	if err != nil {
		return nil, err
	}
	end := start
	if p.consume("..") {
		p.consume(">")
		if end, err = p.number(); err != nil {
			return nil, err
		}
	} else if p.consume("^") {
		if _, err = p.number(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if start < 1 || end < start {
		return nil, p.errorf("bad range %d..%d", start, end)
	}
	return []gene.Part{{Start: start - 1, End: end}}, nil
}

func (p *locParser) number() (int, error) {
	i := p.pos
	for i < len(p.s) && p.s[i] >= '0' && p.s[i] <= '9' {
		i++
	}
	if i == p.pos {
		return 0, p.errorf("expected number")
	}
	n, err := strconv.Atoi(p.s[p.pos:i])
	if err != nil {
		return 0, p.errorf("%v", err)
	}
	p.pos = i
	return n, nil
}

func (p *locParser) consume(tok string) bool {
	if strings.HasPrefix(p.s[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}
