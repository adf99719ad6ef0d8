package arsc

import (
	"github.com/antisplit/internal/chunk"
	apperrors "github.com/antisplit/pkg/errors"
)

// MergeStats reports what a Merge call changed.
type MergeStats struct {
	NewTypes    int
	NewConfigs  int
	NewEntries  int
	Overwritten int
}

// Merge folds src into t. Packages are matched by id; type ids are kept so
// resource ids stay valid. For an entry present in both tables the one from
// src wins. A type id that is named differently in the two tables is a
// structural conflict.
func (t *Table) Merge(src *Table) (MergeStats, error) {
	var stats MergeStats
	for _, sp := range src.Packages() {
		bp := t.Package(sp.ID)
		if bp == nil {
			bp = NewPackage(sp.ID, sp.Name)
			bp.TypeIDOffset = sp.TypeIDOffset
			t.AddPackage(bp)
		}
		m := &merger{dst: t, dstPkg: bp, srcPkg: sp, stats: &stats}
		if err := m.run(); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

type merger struct {
	dst    *Table
	dstPkg *Package
	srcPkg *Package
	stats  *MergeStats
}

func (m *merger) run() error {
	if lib := m.srcPkg.Library(); lib != nil {
		dl := m.dstPkg.Library()
		if dl == nil {
			dl = &Library{}
			m.dstPkg.Chunks.Insert(0, dl)
		}
		for _, e := range lib.Entries {
			dl.Add(e)
		}
	}

	for _, spec := range m.srcPkg.Specs() {
		if err := m.ensureTypeName(spec.ID); err != nil {
			return err
		}
		dspec := m.dstPkg.Spec(spec.ID)
		if dspec == nil {
			dspec = &TypeSpec{ID: spec.ID, Res0: spec.Res0}
			m.insertSpec(dspec)
			m.stats.NewTypes++
		}
		dspec.Grow(spec.EntryCount())
		for i, f := range spec.Flags {
			dspec.Flags[i] |= f
		}

		for _, st := range m.srcPkg.Types(spec.ID) {
			m.mergeType(dspec, st)
		}
	}

	for _, c := range m.srcPkg.Chunks.Items() {
		if raw, ok := c.(*chunk.Raw); ok && !m.hasRaw(raw) {
			m.dstPkg.Chunks.Add(&chunk.Raw{Header: raw.Header, Body: append([]byte(nil), raw.Body...)})
		}
	}
	return nil
}

func (m *merger) hasRaw(raw *chunk.Raw) bool {
	for _, c := range m.dstPkg.Chunks.Items() {
		if r, ok := c.(*chunk.Raw); ok && r.Header.Type == raw.Header.Type && string(r.Body) == string(raw.Body) {
			return true
		}
	}
	return false
}

func (m *merger) ensureTypeName(id uint8) error {
	name := m.srcPkg.TypeName(id)
	if name == "" {
		return apperrors.Format("package 0x%02x: type id %d has no name", m.srcPkg.ID, id)
	}
	if existing := m.dstPkg.TypeName(id); existing != "" {
		if existing != name {
			return apperrors.Conflict("package 0x%02x: type id %d is %q in base and %q in split", m.srcPkg.ID, id, existing, name)
		}
		return nil
	}
	if m.dstPkg.TypeIDOffset != m.srcPkg.TypeIDOffset {
		return apperrors.Conflict("package 0x%02x: type id offsets differ (%d and %d)", m.srcPkg.ID, m.dstPkg.TypeIDOffset, m.srcPkg.TypeIDOffset)
	}
	want := int(id) - int(m.dstPkg.TypeIDOffset)
	for m.dstPkg.TypeStrings.Len() < want {
		next := uint8(m.dstPkg.TypeStrings.Len() + 1 + int(m.dstPkg.TypeIDOffset))
		n := m.srcPkg.TypeName(next)
		if n == "" {
			return apperrors.Format("package 0x%02x: type id %d has no name", m.srcPkg.ID, next)
		}
		m.dstPkg.TypeStrings.InsertAt(m.dstPkg.TypeStrings.Len(), n)
	}
	if m.dstPkg.LastPublicType < uint32(m.dstPkg.TypeStrings.Len()) {
		m.dstPkg.LastPublicType = uint32(m.dstPkg.TypeStrings.Len())
	}
	return nil
}

// insertSpec places spec after the last chunk of a lower type id.
func (m *merger) insertSpec(spec *TypeSpec) {
	at := m.dstPkg.Chunks.Len()
	for i, c := range m.dstPkg.Chunks.Items() {
		var id uint8
		switch c := c.(type) {
		case *TypeSpec:
			id = c.ID
		case *Type:
			id = c.ID
		default:
			continue
		}
		if id > spec.ID {
			at = i
			break
		}
	}
	m.dstPkg.Chunks.Insert(at, spec)
}

func (m *merger) mergeType(dspec *TypeSpec, st *Type) {
	var dt *Type
	for _, t := range m.dstPkg.Types(st.ID) {
		if t.SameConfig(st) {
			dt = t
			break
		}
	}
	if dt == nil {
		dt = &Type{ID: st.ID, Flags: st.Flags, Reserved: st.Reserved, Config: append([]byte(nil), st.Config...)}
		m.insertType(dspec, dt)
		m.stats.NewConfigs++
	}
	dt.Grow(len(st.Entries))

	converted := make(map[*Entry]*Entry)
	for i, e := range st.Entries {
		if e == nil {
			continue
		}
		ne, ok := converted[e]
		if !ok {
			ne = m.convertEntry(e)
			converted[e] = ne
		}
		if dt.Entries[i] != nil {
			m.stats.Overwritten++
		} else {
			m.stats.NewEntries++
		}
		dt.Entries[i] = ne
	}
}

// insertType places t after the last Type sharing its id, or after spec.
func (m *merger) insertType(spec *TypeSpec, t *Type) {
	at := spec.Index() + 1
	for i, c := range m.dstPkg.Chunks.Items() {
		if ct, ok := c.(*Type); ok && ct.ID == t.ID {
			at = i + 1
		}
	}
	m.dstPkg.Chunks.Insert(at, t)
}

func (m *merger) convertEntry(e *Entry) *Entry {
	ne := &Entry{
		Flags:  e.Flags,
		Key:    m.dstPkg.KeyStrings.Intern(e.Key.Value()),
		Value:  m.convertValue(e.Value),
		Parent: e.Parent,
	}
	if e.Map != nil {
		ne.Map = make([]MapEntry, len(e.Map))
		for i, me := range e.Map {
			ne.Map[i] = MapEntry{Name: me.Name, Value: m.convertValue(me.Value)}
		}
	}
	return ne
}

func (m *merger) convertValue(v chunk.Value) chunk.Value {
	if v.DataType != chunk.DataString || v.Str == nil {
		return v
	}
	v.Str = m.internString(v.Str)
	return v
}

func (m *merger) internString(s *chunk.StringItem) *chunk.StringItem {
	pool := m.dst.Strings
	if s.Spans == nil {
		return pool.Intern(s.Value())
	}
	spans := make([]chunk.Span, len(s.Spans))
	for i, sp := range s.Spans {
		spans[i] = sp
		if sp.Name != nil {
			spans[i].Name = pool.Intern(sp.Name.Value())
		}
	}
	return pool.AddStyled(s.Value(), spans)
}
