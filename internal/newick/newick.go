// Package newick parses Newick tree strings without recursion.
package newick

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/taxonium/usher2taxonium/internal/tree"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("newick syntax error")

// SyntaxError reports a parse failure at a byte offset.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("newick: %s at offset %d", e.Msg, e.Offset)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

type parser struct {
	s   string
	pos int
}

// Parse builds a node hierarchy from a Newick string and returns its root.
// Branch lengths are stored in each node's X field. Names may be quoted
// with single quotes; a doubled quote inside a quoted name is a literal
// quote.
func Parse(s string) (*tree.Node, error) {
	p := &parser{s: s}
	return p.parse()
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) parse() (*tree.Node, error) {
	p.skipSpace()
	if p.pos >= len(p.s) || p.peek() == ';' {
		return nil, p.errorf("empty tree")
	}

	// Open internal nodes, innermost last.
	var stack []*tree.Node
	var done *tree.Node

subtree:
	for {
		p.skipSpace()
		if p.peek() == '(' {
			p.pos++
			stack = append(stack, tree.NewNode(""))
			continue
		}

		leaf := tree.NewNode("")
		if err := p.label(leaf); err != nil {
			return nil, err
		}
		done = leaf

		for {
			p.skipSpace()
			if len(stack) == 0 {
				break subtree
			}
			top := stack[len(stack)-1]
			top.Adopt(done)

			switch p.peek() {
			case ',':
				p.pos++
				continue subtree
			case ')':
				p.pos++
				stack = stack[:len(stack)-1]
				if err := p.label(top); err != nil {
					return nil, err
				}
				done = top
			case 0:
				return nil, p.errorf("unbalanced parentheses: %d unclosed", len(stack))
			default:
				return nil, p.errorf("unexpected %q", p.peek())
			}
		}
	}

	p.skipSpace()
	if p.peek() == ';' {
		p.pos++
		p.skipSpace()
	}
	if p.pos < len(p.s) {
		if p.peek() == ')' {
			return nil, p.errorf("unbalanced parentheses: unexpected ')'")
		}
		return nil, p.errorf("trailing characters %q", truncate(p.s[p.pos:], 20))
	}
	return done, nil
}

// label parses an optional name and an optional ":length" for n.
func (p *parser) label(n *tree.Node) error {
	p.skipSpace()
	name, err := p.name()
	if err != nil {
		return err
	}
	n.Name = name

	p.skipSpace()
	if p.peek() != ':' {
		return nil
	}
	p.pos++
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && isNumberByte(p.s[p.pos]) {
		p.pos++
	}
	if start == p.pos {
		return nil
	}
	text := p.s[start:p.pos]
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		p.pos = start
		return p.errorf("malformed branch length %q", text)
	}
	n.X = v
	return nil
}

func (p *parser) name() (string, error) {
	if p.peek() != '\'' {
		start := p.pos
		for p.pos < len(p.s) {
			switch p.s[p.pos] {
			case '(', ')', ',', ':', ';', ' ', '\t', '\n', '\r':
				return p.s[start:p.pos], nil
			}
			p.pos++
		}
		return p.s[start:p.pos], nil
	}

	open := p.pos
	p.pos++
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '\'' {
			if p.pos+1 < len(p.s) && p.s[p.pos+1] == '\'' {
				b.WriteByte('\'')
				p.pos += 2
				continue
			}
			p.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		p.pos++
	}
	p.pos = open
	return "", p.errorf("unterminated quoted name")
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
