// Package usher reads UShER mutation-annotated trees and builds the
// in-memory tree from them.
package usher

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/taxonium/usher2taxonium/internal/xio"
)

// Field numbers from UShER's parsimony.proto.
const (
	fieldDataNewick        protowire.Number = 1
	fieldDataNodeMutations protowire.Number = 2
	fieldDataCondensed     protowire.Number = 3
	fieldDataMetadata      protowire.Number = 4

	fieldMutationListMutation protowire.Number = 1

	fieldMutPosition   protowire.Number = 1
	fieldMutRefNuc     protowire.Number = 2
	fieldMutParNuc     protowire.Number = 3
	fieldMutMutNuc     protowire.Number = 4
	fieldMutChromosome protowire.Number = 5

	fieldCondensedNodeName   protowire.Number = 1
	fieldCondensedLeaves     protowire.Number = 2
	fieldMetadataAnnotations protowire.Number = 1
)

// RawMutation is a mutation as stored on the wire.
type RawMutation struct {
	Position   int32
	RefNuc     int32
	ParNuc     int32
	MutNuc     []int32
	Chromosome string
}

// CondensedNode lists the identical samples collapsed into one leaf.
type CondensedNode struct {
	NodeName        string
	CondensedLeaves []string
}

// Data is a decoded parsimony "data" message. NodeMutations and Metadata
// are in Newick preorder.
type Data struct {
	Newick         string
	NodeMutations  [][]RawMutation
	CondensedNodes []CondensedNode
	Metadata       [][]string
}

// ReadFile loads and decodes a .pb or .pb.gz file.
func ReadFile(path string) (*Data, error) {
	raw, err := xio.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protobuf: %w", err)
	}
	d, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("parse protobuf %s: %w", path, err)
	}
	return d, nil
}

// Decode parses a serialized data message.
func Decode(b []byte) (*Data, error) {
	d := &Data{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldDataNewick:
			d.Newick = string(v)
		case fieldDataNodeMutations:
			muts, err := decodeMutationList(v)
			if err != nil {
				return fmt.Errorf("node_mutations[%d]: %w", len(d.NodeMutations), err)
			}
			d.NodeMutations = append(d.NodeMutations, muts)
		case fieldDataCondensed:
			cn, err := decodeCondensedNode(v)
			if err != nil {
				return fmt.Errorf("condensed_nodes[%d]: %w", len(d.CondensedNodes), err)
			}
			d.CondensedNodes = append(d.CondensedNodes, cn)
		case fieldDataMetadata:
			ann, err := decodeMetadata(v)
			if err != nil {
				return fmt.Errorf("metadata[%d]: %w", len(d.Metadata), err)
			}
			d.Metadata = append(d.Metadata, ann)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// forEachField walks the top-level fields of a message. For bytes fields v
// holds the payload; for varint fields x holds the value. Unknown wire types
// are skipped.
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			b = b[n:]
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, nil, x); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func decodeMutationList(b []byte) ([]RawMutation, error) {
	var muts []RawMutation
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != fieldMutationListMutation || typ != protowire.BytesType {
			return nil
		}
		m, err := decodeMut(v)
		if err != nil {
			return err
		}
		muts = append(muts, m)
		return nil
	})
	return muts, err
}

func decodeMut(b []byte) (RawMutation, error) {
	var m RawMutation
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldMutPosition:
			m.Position = int32(x)
		case fieldMutRefNuc:
			m.RefNuc = int32(x)
		case fieldMutParNuc:
			m.ParNuc = int32(x)
		case fieldMutMutNuc:
			if typ == protowire.VarintType {
				m.MutNuc = append(m.MutNuc, int32(x))
				return nil
			}
			// Packed encoding.
			for len(v) > 0 {
				x, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				m.MutNuc = append(m.MutNuc, int32(x))
				v = v[n:]
			}
		case fieldMutChromosome:
			if typ == protowire.BytesType {
				m.Chromosome = string(v)
			}
		}
		return nil
	})
	return m, err
}

func decodeCondensedNode(b []byte) (CondensedNode, error) {
	var cn CondensedNode
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldCondensedNodeName:
			cn.NodeName = string(v)
		case fieldCondensedLeaves:
			cn.CondensedLeaves = append(cn.CondensedLeaves, string(v))
		}
		return nil
	})
	return cn, err
}

func decodeMetadata(b []byte) ([]string, error) {
	ann := []string{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num == fieldMetadataAnnotations && typ == protowire.BytesType {
			ann = append(ann, string(v))
		}
		return nil
	})
	return ann, err
}

// Encode serializes d in the parsimony wire format. mut_nuc is written
// packed.
func Encode(d *Data) []byte {
	var b []byte
	if d.Newick != "" {
		b = protowire.AppendTag(b, fieldDataNewick, protowire.BytesType)
		b = protowire.AppendString(b, d.Newick)
	}
	for _, muts := range d.NodeMutations {
		var list []byte
		for _, m := range muts {
			list = protowire.AppendTag(list, fieldMutationListMutation, protowire.BytesType)
			list = protowire.AppendBytes(list, encodeMut(m))
		}
		b = protowire.AppendTag(b, fieldDataNodeMutations, protowire.BytesType)
		b = protowire.AppendBytes(b, list)
	}
	for _, cn := range d.CondensedNodes {
		var msg []byte
		msg = protowire.AppendTag(msg, fieldCondensedNodeName, protowire.BytesType)
		msg = protowire.AppendString(msg, cn.NodeName)
		for _, leaf := range cn.CondensedLeaves {
			msg = protowire.AppendTag(msg, fieldCondensedLeaves, protowire.BytesType)
			msg = protowire.AppendString(msg, leaf)
		}
		b = protowire.AppendTag(b, fieldDataCondensed, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	for _, ann := range d.Metadata {
		var msg []byte
		for _, a := range ann {
			msg = protowire.AppendTag(msg, fieldMetadataAnnotations, protowire.BytesType)
			msg = protowire.AppendString(msg, a)
		}
		b = protowire.AppendTag(b, fieldDataMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b
}

func encodeMut(m RawMutation) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMutPosition, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(m.Position)))
	b = protowire.AppendTag(b, fieldMutRefNuc, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(m.RefNuc)))
	b = protowire.AppendTag(b, fieldMutParNuc, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(m.ParNuc)))
	if len(m.MutNuc) > 0 {
		var packed []byte
		for _, n := range m.MutNuc {
			packed = protowire.AppendVarint(packed, uint64(int64(n)))
		}
		b = protowire.AppendTag(b, fieldMutMutNuc, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if m.Chromosome != "" {
		b = protowire.AppendTag(b, fieldMutChromosome, protowire.BytesType)
		b = protowire.AppendString(b, m.Chromosome)
	}
	return b
}
