// Package arsc decodes, merges and encodes compiled resource tables
// (resources.arsc).
package arsc

import (
	"fmt"

	"github.com/antisplit/internal/binio"
	"github.com/antisplit/internal/block"
	"github.com/antisplit/internal/chunk"
	apperrors "github.com/antisplit/pkg/errors"
)

const tableHeaderSize = 12

// Table is a decoded resources.arsc.
type Table struct {
	Strings *chunk.StringPool
	// Chunks holds the top-level children in file order: the global pool,
	// packages and unmodelled chunks.
	Chunks *block.List[block.Element]
}

// NewTable creates an empty table with a UTF-8 global pool.
func NewTable() *Table {
	t := &Table{Strings: chunk.NewStringPool(true), Chunks: block.NewList[block.Element](nil)}
	t.Chunks.Add(t.Strings)
	return t
}

// Packages returns the packages in file order.
func (t *Table) Packages() []*Package {
	var out []*Package
	for _, c := range t.Chunks.Items() {
		if p, ok := c.(*Package); ok {
			out = append(out, p)
		}
	}
	return out
}

// AddPackage appends p after the existing top-level chunks.
func (t *Table) AddPackage(p *Package) {
	t.Chunks.Add(p)
}

// Decode parses a resource table.
func Decode(data []byte) (*Table, error) {
	r := binio.NewReader(data)
	h, sub, err := chunk.ReadChunk(r)
	if err != nil {
		return nil, err
	}
	if h.Type != chunk.TypeTable {
		return nil, apperrors.Format("not a resource table: chunk type 0x%04x", h.Type)
	}
	_ = sub.Skip(chunk.HeaderSize)
	declared, _ := sub.ReadUint32()
	if err := sub.Seek(int(h.HeaderSize)); err != nil {
		return nil, apperrors.Format("table header: %v", err)
	}

	t := &Table{Chunks: block.NewList[block.Element](nil)}
	packages := 0
	for sub.Len() > 0 {
		at := sub.Pos()
		ch, err := chunk.PeekHeader(sub)
		if err != nil {
			return nil, err
		}
		switch ch.Type {
		case chunk.TypeStringPool:
			if t.Strings != nil {
				return nil, apperrors.Format("resource table has more than one global string pool")
			}
			if t.Strings, err = chunk.DecodeStringPool(sub); err != nil {
				return nil, err
			}
			t.Chunks.Add(t.Strings)
		case chunk.TypeTablePackage:
			if t.Strings == nil {
				return nil, apperrors.Format("package chunk at %d before global string pool", at)
			}
			_, psub, _ := chunk.ReadChunk(sub)
			pkg, err := decodePackage(ch, psub, t.Strings)
			if err != nil {
				return nil, apperrors.Format("package at %d: %v", at, err)
			}
			t.Chunks.Add(pkg)
			packages++
		default:
			raw, err := chunk.DecodeRaw(sub)
			if err != nil {
				return nil, err
			}
			t.Chunks.Add(raw)
		}
	}
	if t.Strings == nil {
		t.Strings = chunk.NewStringPool(true)
		t.Chunks.Insert(0, t.Strings)
	}
	if int(declared) != packages {
		return nil, apperrors.Format("resource table declares %d packages, found %d", declared, packages)
	}
	return t, nil
}

// Encode serializes the table.
func (t *Table) Encode() ([]byte, error) {
	w := binio.NewWriter(64 * 1024)
	chunk.WriteHeader(w, chunk.TypeTable, tableHeaderSize, 0)
	w.WriteUint32(uint32(len(t.Packages())))
	for _, c := range t.Chunks.Items() {
		switch c := c.(type) {
		case *Package:
			if err := c.encode(w, t.Strings); err != nil {
				return nil, fmt.Errorf("package 0x%02x: %w", c.ID, err)
			}
		case block.Block:
			if _, err := c.WriteTo(w); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected table chunk %T", c)
		}
	}
	w.PutUint32At(4, uint32(w.Len()))
	return w.Bytes(), nil
}

// Package returns the package with id, or nil.
func (t *Table) Package(id uint32) *Package {
	for _, p := range t.Packages() {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ResourceName returns "package:type/key" for a resource id, or "" when the
// id does not resolve.
func (t *Table) ResourceName(id uint32) string {
	p := t.Package(id >> 24)
	if p == nil {
		return ""
	}
	typeID := uint8(id >> 16)
	index := int(id & 0xFFFF)
	for _, typ := range p.Types(typeID) {
		if e := typ.Entry(index); e != nil && e.Key != nil {
			return fmt.Sprintf("%s:%s/%s", p.Name, p.TypeName(typeID), e.Key.Value())
		}
	}
	return ""
}

// Resolve returns every configuration's entry for a resource id.
func (t *Table) Resolve(id uint32) []*Entry {
	p := t.Package(id >> 24)
	if p == nil {
		return nil
	}
	var out []*Entry
	for _, typ := range p.Types(uint8(id >> 16)) {
		if e := typ.Entry(int(id & 0xFFFF)); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Stats summarizes a table for inspection output.
type Stats struct {
	Packages int `json:"packages" yaml:"packages"`
	Strings  int `json:"strings" yaml:"strings"`
	Types    int `json:"types" yaml:"types"`
	Configs  int `json:"configs" yaml:"configs"`
	Entries  int `json:"entries" yaml:"entries"`
}

// Stats counts packages, pooled strings, types, configurations and
// populated entries.
func (t *Table) Stats() Stats {
	packages := t.Packages()
	s := Stats{Packages: len(packages), Strings: t.Strings.Len()}
	for _, p := range packages {
		s.Types += len(p.Specs())
		for _, c := range p.Chunks.Items() {
			if typ, ok := c.(*Type); ok {
				s.Configs++
				s.Entries += typ.Populated()
			}
		}
	}
	return s
}
