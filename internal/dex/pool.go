package dex

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/antisplit/pkg/collections"
	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/parallel"
)

// ClassPool interns the classes of several dex files and, once finalized,
// assigns every item of the merged file its index.
//
// Intern is safe for concurrent use. Finalize and the index accessors are not,
// and the accessors panic until Finalize has succeeded.
type ClassPool struct {
	classes sync.Map // descriptor -> *Class
	strings sync.Map // string -> struct{}
	types   sync.Map // descriptor -> struct{}
	protos  sync.Map // key -> *Proto
	fields  sync.Map // key -> *FieldRef
	methods sync.Map // key -> *MethodRef
	version atomic.Int32

	config parallel.PoolConfig
	final  *tables
}

type tables struct {
	classes []*Class

	strings   []string
	stringIdx map[string]int
	types     []string
	typeIdx   map[string]int
	protos    []*Proto
	protoIdx  map[string]int
	fields    []*FieldRef
	fieldIdx  map[string]int
	methods   []*MethodRef
	methodIdx map[string]int
	sites     []*CallSite
	siteIdx   map[string]int
	handles   []*MethodHandle
	handleIdx map[string]int
}

// Stats counts the items of a pool or file.
type Stats struct {
	Classes int `json:"classes" yaml:"classes"`
	Strings int `json:"strings" yaml:"strings"`
	Types   int `json:"types" yaml:"types"`
	Protos  int `json:"protos" yaml:"protos"`
	Fields  int `json:"fields" yaml:"fields"`
	Methods int `json:"methods" yaml:"methods"`
}

// NewClassPool creates an empty pool. config bounds the workers InternFiles
// uses.
func NewClassPool(config parallel.PoolConfig) *ClassPool {
	p := &ClassPool{config: config}
	p.version.Store(35)
	return p
}

// InternFiles interns files concurrently.
func (p *ClassPool) InternFiles(ctx context.Context, files []*File) error {
	_, err := parallel.ForEach(ctx, files, p.config, func(ctx context.Context, f *File) error {
		return p.Intern(f)
	})
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return apperrors.Wrapf(apperrors.CodeCanceled, ctx.Err(), "dex: interning classes")
	}
	return nil
}

// Intern adds the classes of f. A class defined twice across inputs, or a
// member declared twice in one class, is a structural conflict.
func (p *ClassPool) Intern(f *File) error {
	if p.final != nil {
		panic("dex: ClassPool.Intern after Finalize")
	}
	for {
		cur := p.version.Load()
		if int32(f.Version) <= cur || p.version.CompareAndSwap(cur, int32(f.Version)) {
			break
		}
	}
	for _, c := range f.Classes {
		if err := checkMembers(c); err != nil {
			return err
		}
		if _, loaded := p.classes.LoadOrStore(c.Type, c); loaded {
			return apperrors.Conflict("dex: class %s is defined more than once", c.Type)
		}
		p.collectClass(c)
	}
	return nil
}

func checkMembers(c *Class) error {
	seen := map[string]bool{}
	for _, list := range [][]*Field{c.StaticFields, c.InstanceFields} {
		for _, f := range list {
			k := f.Ref.Key()
			if seen[k] {
				return apperrors.Conflict("dex: field %s is declared more than once", k)
			}
			seen[k] = true
		}
	}
	for _, list := range [][]*Method{c.DirectMethods, c.VirtualMethods} {
		for _, m := range list {
			k := m.Ref.Key()
			if seen[k] {
				return apperrors.Conflict("dex: method %s is declared more than once", k)
			}
			seen[k] = true
		}
	}
	return nil
}

func (p *ClassPool) addString(s string) {
	p.strings.LoadOrStore(s, struct{}{})
}

func (p *ClassPool) addType(desc string) {
	if _, loaded := p.types.LoadOrStore(desc, struct{}{}); !loaded {
		p.addString(desc)
	}
}

func (p *ClassPool) addProto(pr *Proto) {
	if _, loaded := p.protos.LoadOrStore(pr.Key(), pr); loaded {
		return
	}
	p.addString(pr.Shorty())
	p.addType(pr.Return)
	for _, t := range pr.Params {
		p.addType(t)
	}
}

func (p *ClassPool) addField(f *FieldRef) {
	if _, loaded := p.fields.LoadOrStore(f.Key(), f); loaded {
		return
	}
	p.addType(f.Class)
	p.addType(f.Type)
	p.addString(f.Name)
}

func (p *ClassPool) addMethod(m *MethodRef) {
	if _, loaded := p.methods.LoadOrStore(m.Key(), m); loaded {
		return
	}
	p.addType(m.Class)
	p.addString(m.Name)
	p.addProto(m.Proto)
}

func (p *ClassPool) addHandle(h *MethodHandle) {
	if h.Field != nil {
		p.addField(h.Field)
	} else {
		p.addMethod(h.Method)
	}
}

func (p *ClassPool) addOpt(s OptString) {
	if s.Valid {
		p.addString(s.Value)
	}
}

func (p *ClassPool) addValue(v *EncodedValue) {
	switch v.Type {
	case ValueString:
		p.addString(v.Str)
	case ValueType:
		p.addType(v.Str)
	case ValueField, ValueEnum:
		p.addField(v.Field)
	case ValueMethod:
		p.addMethod(v.Method)
	case ValueMethodType:
		p.addProto(v.Proto)
	case ValueMethodHandle:
		p.addHandle(v.Handle)
	case ValueArray:
		for i := range v.Array {
			p.addValue(&v.Array[i])
		}
	case ValueAnnotation:
		p.addEncodedAnnotation(v.Annotation)
	}
}

func (p *ClassPool) addEncodedAnnotation(a *EncodedAnnotation) {
	p.addType(a.Type)
	for i := range a.Elements {
		p.addString(a.Elements[i].Name)
		p.addValue(&a.Elements[i].Value)
	}
}

func (p *ClassPool) addSet(set AnnotationSet) {
	for _, a := range set {
		if a != nil {
			p.addEncodedAnnotation(&a.EncodedAnnotation)
		}
	}
}

func (p *ClassPool) collectClass(c *Class) {
	p.addType(c.Type)
	if c.Super != "" {
		p.addType(c.Super)
	}
	for _, t := range c.Interfaces {
		p.addType(t)
	}
	p.addOpt(c.SourceFile)
	if a := c.Annotations; a != nil {
		p.addSet(a.Class)
		for _, fa := range a.Fields {
			p.addField(fa.Field)
			p.addSet(fa.Set)
		}
		for _, ma := range a.Methods {
			p.addMethod(ma.Method)
			p.addSet(ma.Set)
		}
		for _, pa := range a.Parameters {
			p.addMethod(pa.Method)
			for _, set := range pa.Sets {
				p.addSet(set)
			}
		}
	}
	for _, list := range [][]*Field{c.StaticFields, c.InstanceFields} {
		for _, f := range list {
			p.addField(f.Ref)
		}
	}
	for k := range c.StaticValues {
		v := c.StaticValues[k]
		p.addValue(&v)
	}
	for _, list := range [][]*Method{c.DirectMethods, c.VirtualMethods} {
		for _, m := range list {
			p.addMethod(m.Ref)
			if m.Code != nil {
				p.collectCode(m.Code)
			}
		}
	}
}

func (p *ClassPool) collectCode(code *Code) {
	for i := range code.Refs {
		ref := &code.Refs[i]
		switch ref.Kind {
		case RefString:
			p.addString(ref.Str)
		case RefType:
			p.addType(ref.Str)
		case RefField:
			p.addField(ref.Field)
		case RefMethod:
			p.addMethod(ref.Method)
		case RefProto:
			p.addProto(ref.Proto)
		case RefCallSite:
			for j := range ref.Site.Values {
				p.addValue(&ref.Site.Values[j])
			}
		case RefMethodHandle:
			p.addHandle(ref.Handle)
		}
	}
	for _, h := range code.Handlers {
		for _, c := range h.Catches {
			p.addType(c.Type)
		}
	}
	if d := code.Debug; d != nil {
		for _, n := range d.ParamNames {
			p.addOpt(n)
		}
		for _, op := range d.Ops {
			p.addOpt(op.Name)
			if op.Type.Valid {
				p.addType(op.Type.Value)
			}
			p.addOpt(op.Sig)
		}
	}
}

// Version is the highest input version seen, at least 035.
func (p *ClassPool) Version() int {
	return int(p.version.Load())
}

// Finalized reports whether Finalize has succeeded.
func (p *ClassPool) Finalized() bool {
	return p.final != nil
}

// Finalize sorts every pool into the order the dex format requires and
// checks the 16-bit index ceilings.
func (p *ClassPool) Finalize() error {
	if p.final != nil {
		return nil
	}
	t := &tables{}

	p.strings.Range(func(k, _ any) bool {
		t.strings = append(t.strings, k.(string))
		return true
	})
	sort.Slice(t.strings, func(i, j int) bool { return compareMUTF8(t.strings[i], t.strings[j]) < 0 })
	t.stringIdx = indexOf(t.strings, func(s string) string { return s })

	p.types.Range(func(k, _ any) bool {
		t.types = append(t.types, k.(string))
		return true
	})
	sort.Slice(t.types, func(i, j int) bool { return t.stringIdx[t.types[i]] < t.stringIdx[t.types[j]] })
	t.typeIdx = indexOf(t.types, func(s string) string { return s })

	p.protos.Range(func(_, v any) bool {
		t.protos = append(t.protos, v.(*Proto))
		return true
	})
	sort.Slice(t.protos, func(i, j int) bool { return t.lessProto(t.protos[i], t.protos[j]) })
	t.protoIdx = indexOf(t.protos, (*Proto).Key)

	p.fields.Range(func(_, v any) bool {
		t.fields = append(t.fields, v.(*FieldRef))
		return true
	})
	sort.Slice(t.fields, func(i, j int) bool {
		a, b := t.fields[i], t.fields[j]
		if a.Class != b.Class {
			return t.typeIdx[a.Class] < t.typeIdx[b.Class]
		}
		if a.Name != b.Name {
			return t.stringIdx[a.Name] < t.stringIdx[b.Name]
		}
		return t.typeIdx[a.Type] < t.typeIdx[b.Type]
	})
	t.fieldIdx = indexOf(t.fields, (*FieldRef).Key)

	p.methods.Range(func(_, v any) bool {
		t.methods = append(t.methods, v.(*MethodRef))
		return true
	})
	sort.Slice(t.methods, func(i, j int) bool {
		a, b := t.methods[i], t.methods[j]
		if a.Class != b.Class {
			return t.typeIdx[a.Class] < t.typeIdx[b.Class]
		}
		if a.Name != b.Name {
			return t.stringIdx[a.Name] < t.stringIdx[b.Name]
		}
		return t.protoIdx[a.Proto.Key()] < t.protoIdx[b.Proto.Key()]
	})
	t.methodIdx = indexOf(t.methods, (*MethodRef).Key)

	for _, c := range []struct {
		name string
		n    int
	}{{"method", len(t.methods)}, {"field", len(t.fields)}, {"type", len(t.types)}, {"proto", len(t.protos)}} {
		if c.n > MaxIndex {
			return apperrors.Conflict("dex: %d %s references exceed the limit of %d for one dex file", c.n, c.name, MaxIndex)
		}
	}

	t.classes = p.orderClasses(t)
	t.siteIdx = map[string]int{}
	t.handleIdx = map[string]int{}
	for _, c := range t.classes {
		t.assignCallSites(c)
	}
	p.final = t
	return nil
}

func indexOf[T any](items []T, key func(T) string) map[string]int {
	m := make(map[string]int, len(items))
	for i, it := range items {
		m[key(it)] = i
	}
	return m
}

func (t *tables) lessProto(a, b *Proto) bool {
	if a.Return != b.Return {
		return t.typeIdx[a.Return] < t.typeIdx[b.Return]
	}
	for i := 0; i < len(a.Params) && i < len(b.Params); i++ {
		if a.Params[i] != b.Params[i] {
			return t.typeIdx[a.Params[i]] < t.typeIdx[b.Params[i]]
		}
	}
	return len(a.Params) < len(b.Params)
}

// orderClasses sorts classes by descriptor, then moves every superclass and
// interface defined in the pool ahead of its subclasses.
func (p *ClassPool) orderClasses(t *tables) []*Class {
	var sorted []*Class
	p.classes.Range(func(_, v any) bool {
		sorted = append(sorted, v.(*Class))
		return true
	})
	sort.Slice(sorted, func(i, j int) bool { return t.typeIdx[sorted[i].Type] < t.typeIdx[sorted[j].Type] })

	pos := make(map[string]int, len(sorted))
	for i, c := range sorted {
		pos[c.Type] = i
	}
	out := make([]*Class, 0, len(sorted))
	visited := collections.NewBitset(len(sorted))
	var visit func(i int)
	visit = func(i int) {
		if visited.Test(i) {
			return
		}
		visited.Set(i)
		c := sorted[i]
		if sup, ok := pos[c.Super]; ok {
			visit(sup)
		}
		for _, iface := range c.Interfaces {
			if j, ok := pos[iface]; ok {
				visit(j)
			}
		}
		out = append(out, c)
	}
	for i := range sorted {
		visit(i)
	}
	return out
}

// assignCallSites numbers call sites and method handles in the order they
// are met walking the class, which keeps the output independent of the
// order inputs were interned in.
func (t *tables) assignCallSites(c *Class) {
	for _, f := range sortedFields(t, c.StaticFields) {
		if v, ok := c.StaticValues[f.Ref.Key()]; ok {
			t.visitValue(&v)
		}
	}
	for _, list := range [][]*Method{c.DirectMethods, c.VirtualMethods} {
		for _, m := range sortedMethods(t, list) {
			if m.Code == nil {
				continue
			}
			for i := range m.Code.Refs {
				ref := &m.Code.Refs[i]
				switch ref.Kind {
				case RefCallSite:
					t.visitSite(ref.Site)
				case RefMethodHandle:
					t.visitHandle(ref.Handle)
				}
			}
		}
	}
}

func (t *tables) visitSite(cs *CallSite) {
	k := cs.Key()
	if _, ok := t.siteIdx[k]; ok {
		return
	}
	for i := range cs.Values {
		t.visitValue(&cs.Values[i])
	}
	t.siteIdx[k] = len(t.sites)
	t.sites = append(t.sites, cs)
}

func (t *tables) visitHandle(h *MethodHandle) {
	k := h.Key()
	if _, ok := t.handleIdx[k]; ok {
		return
	}
	t.handleIdx[k] = len(t.handles)
	t.handles = append(t.handles, h)
}

func (t *tables) visitValue(v *EncodedValue) {
	switch v.Type {
	case ValueMethodHandle:
		t.visitHandle(v.Handle)
	case ValueArray:
		for i := range v.Array {
			t.visitValue(&v.Array[i])
		}
	case ValueAnnotation:
		for i := range v.Annotation.Elements {
			t.visitValue(&v.Annotation.Elements[i].Value)
		}
	}
}

func sortedFields(t *tables, list []*Field) []*Field {
	out := append([]*Field(nil), list...)
	sort.SliceStable(out, func(i, j int) bool {
		return t.fieldIdx[out[i].Ref.Key()] < t.fieldIdx[out[j].Ref.Key()]
	})
	return out
}

func sortedMethods(t *tables, list []*Method) []*Method {
	out := append([]*Method(nil), list...)
	sort.SliceStable(out, func(i, j int) bool {
		return t.methodIdx[out[i].Ref.Key()] < t.methodIdx[out[j].Ref.Key()]
	})
	return out
}

func (p *ClassPool) mustFinal() *tables {
	if p.final == nil {
		panic("dex: ClassPool used before Finalize")
	}
	return p.final
}

func lookup(m map[string]int, key, what string) int {
	i, ok := m[key]
	if !ok {
		panic("dex: " + what + " " + key + " was not interned")
	}
	return i
}

// Classes returns the classes in output order.
func (p *ClassPool) Classes() []*Class { return p.mustFinal().classes }

// Strings returns the sorted string pool.
func (p *ClassPool) Strings() []string { return p.mustFinal().strings }

// Types returns the sorted type descriptors.
func (p *ClassPool) Types() []string { return p.mustFinal().types }

// StringIndex returns the index of s.
func (p *ClassPool) StringIndex(s string) int {
	return lookup(p.mustFinal().stringIdx, s, "string")
}

// TypeIndex returns the index of a type descriptor.
func (p *ClassPool) TypeIndex(desc string) int {
	return lookup(p.mustFinal().typeIdx, desc, "type")
}

// ProtoIndex returns the index of pr.
func (p *ClassPool) ProtoIndex(pr *Proto) int {
	return lookup(p.mustFinal().protoIdx, pr.Key(), "proto")
}

// FieldIndex returns the index of f.
func (p *ClassPool) FieldIndex(f *FieldRef) int {
	return lookup(p.mustFinal().fieldIdx, f.Key(), "field")
}

// MethodIndex returns the index of m.
func (p *ClassPool) MethodIndex(m *MethodRef) int {
	return lookup(p.mustFinal().methodIdx, m.Key(), "method")
}

// CallSiteIndex returns the index of cs.
func (p *ClassPool) CallSiteIndex(cs *CallSite) int {
	return lookup(p.mustFinal().siteIdx, cs.Key(), "call site")
}

// MethodHandleIndex returns the index of h.
func (p *ClassPool) MethodHandleIndex(h *MethodHandle) int {
	return lookup(p.mustFinal().handleIdx, h.Key(), "method handle")
}

// Stats counts the finalized pools.
func (p *ClassPool) Stats() Stats {
	t := p.mustFinal()
	return Stats{
		Classes: len(t.classes),
		Strings: len(t.strings),
		Types:   len(t.types),
		Protos:  len(t.protos),
		Fields:  len(t.fields),
		Methods: len(t.methods),
	}
}
