package dex

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"sort"
	"strings"

	"github.com/antisplit/internal/binio"
	apperrors "github.com/antisplit/pkg/errors"
)

type mapItem struct {
	typ   uint16
	count uint32
	off   uint32
}

type dexWriter struct {
	p *ClassPool
	t *tables

	dataStart uint32
	d         *binio.Writer
	items     []mapItem

	stringOff   []uint32
	typeLists   map[string]uint32
	annotations map[string]uint32
	sets        map[string]uint32
	siteOff     []uint32
	classOffs   []classOffsets
}

type classOffsets struct {
	interfaces, annotations, data, staticValues uint32
}

// Write lays the pool out as one dex file, finalizing it first if needed.
func Write(p *ClassPool) ([]byte, error) {
	if err := p.Finalize(); err != nil {
		return nil, err
	}
	t := p.final
	w := &dexWriter{
		p:           p,
		t:           t,
		typeLists:   map[string]uint32{},
		annotations: map[string]uint32{},
		sets:        map[string]uint32{},
		classOffs:   make([]classOffsets, len(t.classes)),
	}
	w.dataStart = uint32(headerSize +
		4*len(t.strings) + 4*len(t.types) + 12*len(t.protos) +
		8*len(t.fields) + 8*len(t.methods) + 32*len(t.classes) +
		4*len(t.sites) + 8*len(t.handles))
	w.d = binio.NewWriter(1 << 16)

	if err := w.writeData(); err != nil {
		return nil, err
	}
	return w.assemble(), nil
}

func (w *dexWriter) pos() uint32 {
	return w.dataStart + uint32(w.d.Len())
}

// section records the start of a data section and returns a func that
// closes it with its item count.
func (w *dexWriter) section(typ uint16, align int) func(count int) {
	if align > 1 {
		w.d.Align(align)
	}
	start := w.pos()
	return func(count int) {
		if count > 0 {
			w.items = append(w.items, mapItem{typ: typ, count: uint32(count), off: start})
		}
	}
}

func (w *dexWriter) writeData() error {
	t := w.t

	done := w.section(typeStringDataItem, 1)
	w.stringOff = make([]uint32, len(t.strings))
	for i, s := range t.strings {
		w.stringOff[i] = w.pos()
		w.d.WriteULEB128(uint32(utf16Len(s)))
		_, _ = w.d.Write([]byte(s))
		w.d.WriteUint8(0)
	}
	done(len(t.strings))

	done = w.section(typeTypeList, 4)
	n := 0
	for _, pr := range t.protos {
		n += w.typeList(pr.Params)
	}
	for i, c := range t.classes {
		var added int
		w.classOffs[i].interfaces, added = w.typeListOff(c.Interfaces)
		n += added
	}
	done(n)

	done = w.section(typeEncodedArrayItem, 1)
	n = 0
	w.siteOff = make([]uint32, len(t.sites))
	for i, cs := range t.sites {
		w.siteOff[i] = w.pos()
		if err := w.encodedArray(cs.Values); err != nil {
			return err
		}
		n++
	}
	for i, c := range t.classes {
		values := w.staticValues(c)
		if len(values) == 0 {
			continue
		}
		w.classOffs[i].staticValues = w.pos()
		if err := w.encodedArray(values); err != nil {
			return err
		}
		n++
	}
	done(n)

	if err := w.writeAnnotations(); err != nil {
		return err
	}

	debugOffs := map[*Code]uint32{}
	done = w.section(typeDebugInfoItem, 1)
	n = 0
	w.eachCode(func(m *Method) {
		if m.Code.Debug != nil {
			debugOffs[m.Code] = w.pos()
			w.debugInfo(m.Code.Debug)
			n++
		}
	})
	done(n)

	codeOffs := map[*Code]uint32{}
	done = w.section(typeCodeItem, 4)
	n = 0
	var codeErr error
	w.eachCode(func(m *Method) {
		if codeErr != nil {
			return
		}
		w.d.Align(4)
		codeOffs[m.Code] = w.pos()
		if err := w.code(m, debugOffs[m.Code]); err != nil {
			codeErr = err
		}
		n++
	})
	if codeErr != nil {
		return codeErr
	}
	done(n)

	done = w.section(typeClassDataItem, 1)
	n = 0
	for i, c := range t.classes {
		if len(c.StaticFields)+len(c.InstanceFields)+len(c.DirectMethods)+len(c.VirtualMethods) == 0 {
			continue
		}
		w.classOffs[i].data = w.pos()
		w.classData(c, codeOffs)
		n++
	}
	done(n)
	return nil
}

func (w *dexWriter) eachCode(fn func(m *Method)) {
	for _, c := range w.t.classes {
		for _, list := range [][]*Method{c.DirectMethods, c.VirtualMethods} {
			for _, m := range sortedMethods(w.t, list) {
				if m.Code != nil {
					fn(m)
				}
			}
		}
	}
}

func typeListKey(types []string) string {
	return strings.Join(types, "\x00")
}

// typeList writes a type list unless an identical one exists and returns
// the number of items written.
func (w *dexWriter) typeList(types []string) int {
	_, n := w.typeListOff(types)
	return n
}

func (w *dexWriter) typeListOff(types []string) (uint32, int) {
	if len(types) == 0 {
		return 0, 0
	}
	k := typeListKey(types)
	if off, ok := w.typeLists[k]; ok {
		return off, 0
	}
	w.d.Align(4)
	off := w.pos()
	w.d.WriteUint32(uint32(len(types)))
	for _, typ := range types {
		w.d.WriteUint16(uint16(w.p.TypeIndex(typ)))
	}
	w.typeLists[k] = off
	return off, 1
}

// staticValues orders initial values by static field, fills gaps with the
// type's default and drops trailing defaults.
func (w *dexWriter) staticValues(c *Class) []EncodedValue {
	if len(c.StaticValues) == 0 {
		return nil
	}
	fields := sortedFields(w.t, c.StaticFields)
	values := make([]EncodedValue, len(fields))
	last := -1
	for i, f := range fields {
		v, ok := c.StaticValues[f.Ref.Key()]
		if !ok {
			v = DefaultValue(f.Ref.Type)
		}
		values[i] = v
		if !v.IsDefault() {
			last = i
		}
	}
	return values[:last+1]
}

func (w *dexWriter) encodedArray(values []EncodedValue) error {
	w.d.WriteULEB128(uint32(len(values)))
	for i := range values {
		if err := w.encodedValue(&values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *dexWriter) writeUnsigned(typ uint8, x uint64) {
	n := 1
	for n < 8 && x>>(8*uint(n)) != 0 {
		n++
	}
	w.d.WriteUint8(uint8(n-1)<<5 | typ)
	for i := 0; i < n; i++ {
		w.d.WriteUint8(byte(x >> (8 * uint(i))))
	}
}

func (w *dexWriter) writeSigned(typ uint8, x uint64) {
	v := int64(x)
	n := 1
	for n < 8 {
		lim := int64(1) << (8*uint(n) - 1)
		if v >= -lim && v < lim {
			break
		}
		n++
	}
	w.d.WriteUint8(uint8(n-1)<<5 | typ)
	for i := 0; i < n; i++ {
		w.d.WriteUint8(byte(x >> (8 * uint(i))))
	}
}

// writeFloat keeps the high-order bytes of a float or double, dropping
// trailing zero bytes.
func (w *dexWriter) writeFloat(typ uint8, x uint64, width int) {
	n := width
	for n > 1 && byte(x>>(8*uint(width-n))) == 0 {
		n--
	}
	x >>= 8 * uint(width-n)
	w.d.WriteUint8(uint8(n-1)<<5 | typ)
	for i := 0; i < n; i++ {
		w.d.WriteUint8(byte(x >> (8 * uint(i))))
	}
}

func (w *dexWriter) encodedValue(v *EncodedValue) error {
	switch v.Type {
	case ValueByte:
		w.d.WriteUint8(ValueByte)
		w.d.WriteUint8(byte(v.Bits))
	case ValueShort, ValueInt, ValueLong:
		w.writeSigned(v.Type, v.Bits)
	case ValueChar:
		w.writeUnsigned(v.Type, v.Bits)
	case ValueFloat:
		w.writeFloat(v.Type, v.Bits, 4)
	case ValueDouble:
		w.writeFloat(v.Type, v.Bits, 8)
	case ValueString:
		w.writeUnsigned(v.Type, uint64(w.p.StringIndex(v.Str)))
	case ValueType:
		w.writeUnsigned(v.Type, uint64(w.p.TypeIndex(v.Str)))
	case ValueField, ValueEnum:
		w.writeUnsigned(v.Type, uint64(w.p.FieldIndex(v.Field)))
	case ValueMethod:
		w.writeUnsigned(v.Type, uint64(w.p.MethodIndex(v.Method)))
	case ValueMethodType:
		w.writeUnsigned(v.Type, uint64(w.p.ProtoIndex(v.Proto)))
	case ValueMethodHandle:
		w.writeUnsigned(v.Type, uint64(w.p.MethodHandleIndex(v.Handle)))
	case ValueArray:
		w.d.WriteUint8(ValueArray)
		return w.encodedArray(v.Array)
	case ValueAnnotation:
		w.d.WriteUint8(ValueAnnotation)
		return w.encodedAnnotation(v.Annotation)
	case ValueNull:
		w.d.WriteUint8(ValueNull)
	case ValueBoolean:
		w.d.WriteUint8(uint8(v.Bits&1)<<5 | ValueBoolean)
	default:
		return apperrors.Format("dex: unknown encoded value type 0x%02x", v.Type)
	}
	return nil
}

func (w *dexWriter) encodedAnnotation(a *EncodedAnnotation) error {
	w.d.WriteULEB128(uint32(w.p.TypeIndex(a.Type)))
	elems := append([]AnnotationElement(nil), a.Elements...)
	sort.SliceStable(elems, func(i, j int) bool {
		return w.p.StringIndex(elems[i].Name) < w.p.StringIndex(elems[j].Name)
	})
	w.d.WriteULEB128(uint32(len(elems)))
	for i := range elems {
		w.d.WriteULEB128(uint32(w.p.StringIndex(elems[i].Name)))
		if err := w.encodedValue(&elems[i].Value); err != nil {
			return err
		}
	}
	return nil
}

func annotationKey(a *Annotation) string {
	var sb strings.Builder
	sb.WriteByte('0' + a.Visibility)
	a.EncodedAnnotation.writeKey(&sb)
	return sb.String()
}

// writeAnnotations emits annotation items, sets, ref lists and class
// directories, each as its own section.
func (w *dexWriter) writeAnnotations() error {
	t := w.t
	var sets []AnnotationSet
	forSets := func(c *Class, fn func(AnnotationSet)) {
		a := c.Annotations
		if a == nil {
			return
		}
		if a.HasClass {
			fn(a.Class)
		}
		for _, fa := range a.Fields {
			fn(fa.Set)
		}
		for _, ma := range a.Methods {
			fn(ma.Set)
		}
		for _, pa := range a.Parameters {
			for _, s := range pa.Sets {
				if s != nil {
					fn(s)
				}
			}
		}
	}

	for _, c := range t.classes {
		forSets(c, func(set AnnotationSet) { sets = append(sets, set) })
	}

	done := w.section(typeAnnotationItem, 1)
	n := 0
	for _, set := range sets {
		for _, a := range set {
			k := annotationKey(a)
			if _, ok := w.annotations[k]; ok {
				continue
			}
			w.annotations[k] = w.pos()
			w.d.WriteUint8(a.Visibility)
			if err := w.encodedAnnotation(&a.EncodedAnnotation); err != nil {
				return err
			}
			n++
		}
	}
	done(n)

	done = w.section(typeAnnotationSetItem, 4)
	n = 0
	for _, set := range sets {
		if _, added := w.annotationSet(set); added {
			n++
		}
	}
	done(n)

	refOffs := map[*ParameterAnnotations]uint32{}
	done = w.section(typeAnnotationSetRefList, 4)
	n = 0
	for _, c := range t.classes {
		if c.Annotations == nil {
			continue
		}
		for i := range c.Annotations.Parameters {
			pa := &c.Annotations.Parameters[i]
			w.d.Align(4)
			refOffs[pa] = w.pos()
			w.d.WriteUint32(uint32(len(pa.Sets)))
			for _, s := range pa.Sets {
				if s == nil {
					w.d.WriteUint32(0)
					continue
				}
				off, _ := w.annotationSet(s)
				w.d.WriteUint32(off)
			}
			n++
		}
	}
	done(n)

	done = w.section(typeAnnotationsDirectory, 4)
	n = 0
	for i, c := range t.classes {
		a := c.Annotations
		if a == nil || (!a.HasClass && len(a.Fields)+len(a.Methods)+len(a.Parameters) == 0) {
			continue
		}
		w.d.Align(4)
		w.classOffs[i].annotations = w.pos()
		classOff := uint32(0)
		if a.HasClass {
			classOff, _ = w.annotationSet(a.Class)
		}
		w.d.WriteUint32(classOff)
		w.d.WriteUint32(uint32(len(a.Fields)))
		w.d.WriteUint32(uint32(len(a.Methods)))
		w.d.WriteUint32(uint32(len(a.Parameters)))

		fields := append([]MemberAnnotations(nil), a.Fields...)
		sort.SliceStable(fields, func(i, j int) bool { return w.p.FieldIndex(fields[i].Field) < w.p.FieldIndex(fields[j].Field) })
		for _, fa := range fields {
			off, _ := w.annotationSet(fa.Set)
			w.d.WriteUint32(uint32(w.p.FieldIndex(fa.Field)))
			w.d.WriteUint32(off)
		}
		methods := append([]MemberAnnotations(nil), a.Methods...)
		sort.SliceStable(methods, func(i, j int) bool { return w.p.MethodIndex(methods[i].Method) < w.p.MethodIndex(methods[j].Method) })
		for _, ma := range methods {
			off, _ := w.annotationSet(ma.Set)
			w.d.WriteUint32(uint32(w.p.MethodIndex(ma.Method)))
			w.d.WriteUint32(off)
		}
		params := make([]*ParameterAnnotations, len(a.Parameters))
		for j := range a.Parameters {
			params[j] = &a.Parameters[j]
		}
		sort.SliceStable(params, func(i, j int) bool { return w.p.MethodIndex(params[i].Method) < w.p.MethodIndex(params[j].Method) })
		for _, pa := range params {
			w.d.WriteUint32(uint32(w.p.MethodIndex(pa.Method)))
			w.d.WriteUint32(refOffs[pa])
		}
		n++
	}
	done(n)
	return nil
}

// annotationSet writes set unless an identical set exists. Items are
// ordered by type index.
func (w *dexWriter) annotationSet(set AnnotationSet) (uint32, bool) {
	items := append(AnnotationSet(nil), set...)
	sort.SliceStable(items, func(i, j int) bool { return w.p.TypeIndex(items[i].Type) < w.p.TypeIndex(items[j].Type) })
	offs := make([]uint32, len(items))
	var sb strings.Builder
	for i, a := range items {
		offs[i] = w.annotations[annotationKey(a)]
		fmt.Fprintf(&sb, "%x,", offs[i])
	}
	k := sb.String()
	if off, ok := w.sets[k]; ok {
		return off, false
	}
	w.d.Align(4)
	off := w.pos()
	w.d.WriteUint32(uint32(len(offs)))
	for _, o := range offs {
		w.d.WriteUint32(o)
	}
	w.sets[k] = off
	return off, true
}

func (w *dexWriter) optP1(s OptString, isType bool) {
	switch {
	case !s.Valid:
		w.d.WriteULEB128p1(-1)
	case isType:
		w.d.WriteULEB128p1(int64(w.p.TypeIndex(s.Value)))
	default:
		w.d.WriteULEB128p1(int64(w.p.StringIndex(s.Value)))
	}
}

func (w *dexWriter) debugInfo(d *DebugInfo) {
	w.d.WriteULEB128(d.LineStart)
	w.d.WriteULEB128(uint32(len(d.ParamNames)))
	for _, name := range d.ParamNames {
		w.optP1(name, false)
	}
	for _, op := range d.Ops {
		w.d.WriteUint8(op.Op)
		switch op.Op {
		case dbgEndSequence:
			return
		case dbgAdvancePC:
			w.d.WriteULEB128(uint32(op.Num))
		case dbgAdvanceLine:
			w.d.WriteSLEB128(op.Num)
		case dbgStartLocal, dbgStartLocalExtended:
			w.d.WriteULEB128(op.Reg)
			w.optP1(op.Name, false)
			w.optP1(op.Type, true)
			if op.Op == dbgStartLocalExtended {
				w.optP1(op.Sig, false)
			}
		case dbgEndLocal, dbgRestartLocal:
			w.d.WriteULEB128(op.Reg)
		case dbgSetFile:
			w.optP1(op.Name, false)
		}
	}
	w.d.WriteUint8(dbgEndSequence)
}

func (w *dexWriter) refIndex(ref *InsnRef) int {
	switch ref.Kind {
	case RefString:
		return w.p.StringIndex(ref.Str)
	case RefType:
		return w.p.TypeIndex(ref.Str)
	case RefField:
		return w.p.FieldIndex(ref.Field)
	case RefMethod:
		return w.p.MethodIndex(ref.Method)
	case RefProto:
		return w.p.ProtoIndex(ref.Proto)
	case RefCallSite:
		return w.p.CallSiteIndex(ref.Site)
	case RefMethodHandle:
		return w.p.MethodHandleIndex(ref.Handle)
	}
	return 0
}

func (w *dexWriter) code(m *Method, debugOff uint32) error {
	c := m.Code
	insns := append([]uint16(nil), c.Insns...)
	for i := range c.Refs {
		ref := &c.Refs[i]
		idx := w.refIndex(ref)
		if ref.Wide {
			insns[ref.Slot] = uint16(idx)
			insns[ref.Slot+1] = uint16(idx >> 16)
			continue
		}
		if idx > 0xFFFF {
			return apperrors.Conflict("dex: %s index %d in %s does not fit a 16-bit operand", ref.Kind, idx, m.Ref.Key())
		}
		insns[ref.Slot] = uint16(idx)
	}

	handlers := binio.NewWriter(64)
	handlerOffs := make([]int, len(c.Handlers))
	if len(c.Tries) > 0 {
		handlers.WriteULEB128(uint32(len(c.Handlers)))
		for i, h := range c.Handlers {
			handlerOffs[i] = handlers.Len()
			size := int32(len(h.Catches))
			if h.CatchAll >= 0 {
				size = -size
			}
			handlers.WriteSLEB128(size)
			for _, cat := range h.Catches {
				handlers.WriteULEB128(uint32(w.p.TypeIndex(cat.Type)))
				handlers.WriteULEB128(cat.Addr)
			}
			if h.CatchAll >= 0 {
				handlers.WriteULEB128(uint32(h.CatchAll))
			}
		}
	}

	w.d.WriteUint16(c.Registers)
	w.d.WriteUint16(c.Ins)
	w.d.WriteUint16(c.Outs)
	w.d.WriteUint16(uint16(len(c.Tries)))
	w.d.WriteUint32(debugOff)
	w.d.WriteUint32(uint32(len(insns)))
	for _, u := range insns {
		w.d.WriteUint16(u)
	}
	if len(c.Tries) == 0 {
		return nil
	}
	if len(insns)%2 == 1 {
		w.d.WriteUint16(0)
	}
	for _, try := range c.Tries {
		if try.Handler < 0 || try.Handler >= len(handlerOffs) {
			return apperrors.Format("dex: try in %s points at missing handler %d", m.Ref.Key(), try.Handler)
		}
		off := handlerOffs[try.Handler]
		if off > 0xFFFF {
			return apperrors.Conflict("dex: handler list of %s is too large", m.Ref.Key())
		}
		w.d.WriteUint32(try.Start)
		w.d.WriteUint16(try.Count)
		w.d.WriteUint16(uint16(off))
	}
	_, _ = w.d.Write(handlers.Bytes())
	return nil
}

func (w *dexWriter) classData(c *Class, codeOffs map[*Code]uint32) {
	statics := sortedFields(w.t, c.StaticFields)
	instances := sortedFields(w.t, c.InstanceFields)
	direct := sortedMethods(w.t, c.DirectMethods)
	virtual := sortedMethods(w.t, c.VirtualMethods)
	w.d.WriteULEB128(uint32(len(statics)))
	w.d.WriteULEB128(uint32(len(instances)))
	w.d.WriteULEB128(uint32(len(direct)))
	w.d.WriteULEB128(uint32(len(virtual)))
	for _, list := range [][]*Field{statics, instances} {
		prev := 0
		for _, f := range list {
			idx := w.p.FieldIndex(f.Ref)
			w.d.WriteULEB128(uint32(idx - prev))
			w.d.WriteULEB128(f.Access)
			prev = idx
		}
	}
	for _, list := range [][]*Method{direct, virtual} {
		prev := 0
		for _, m := range list {
			idx := w.p.MethodIndex(m.Ref)
			w.d.WriteULEB128(uint32(idx - prev))
			w.d.WriteULEB128(m.Access)
			if m.Code != nil {
				w.d.WriteULEB128(codeOffs[m.Code])
			} else {
				w.d.WriteULEB128(0)
			}
			prev = idx
		}
	}
}

// assemble writes the map list, header and id sections around the data
// and seals the file with its signature and checksum.
func (w *dexWriter) assemble() []byte {
	t := w.t
	w.d.Align(4)
	mapOff := w.pos()
	ids := []mapItem{{typeHeaderItem, 1, 0}}
	off := uint32(headerSize)
	add := func(typ uint16, count, size int) uint32 {
		if count == 0 {
			return 0
		}
		start := off
		ids = append(ids, mapItem{typ, uint32(count), start})
		off += uint32(count * size)
		return start
	}
	stringIDs := add(typeStringIDItem, len(t.strings), 4)
	typeIDs := add(typeTypeIDItem, len(t.types), 4)
	protoIDs := add(typeProtoIDItem, len(t.protos), 12)
	fieldIDs := add(typeFieldIDItem, len(t.fields), 8)
	methodIDs := add(typeMethodIDItem, len(t.methods), 8)
	classDefs := add(typeClassDefItem, len(t.classes), 32)
	add(typeCallSiteIDItem, len(t.sites), 4)
	add(typeMethodHandleItem, len(t.handles), 8)

	all := append(ids, w.items...)
	all = append(all, mapItem{typeMapList, 1, mapOff})
	w.d.WriteUint32(uint32(len(all)))
	for _, it := range all {
		w.d.WriteUint16(it.typ)
		w.d.WriteUint16(0)
		w.d.WriteUint32(it.count)
		w.d.WriteUint32(it.off)
	}

	fileSize := w.pos()
	out := binio.NewWriter(int(fileSize))
	_, _ = out.Write([]byte(fmt.Sprintf("dex\n%03d\x00", w.p.Version())))
	out.WriteZeros(4 + sha1.Size)
	out.WriteUint32(fileSize)
	out.WriteUint32(headerSize)
	out.WriteUint32(endianTag)
	out.WriteUint32(0)
	out.WriteUint32(0)
	out.WriteUint32(mapOff)
	for _, s := range []struct {
		n   int
		off uint32
	}{
		{len(t.strings), stringIDs}, {len(t.types), typeIDs}, {len(t.protos), protoIDs},
		{len(t.fields), fieldIDs}, {len(t.methods), methodIDs}, {len(t.classes), classDefs},
	} {
		out.WriteUint32(uint32(s.n))
		out.WriteUint32(s.off)
	}
	out.WriteUint32(fileSize - w.dataStart)
	out.WriteUint32(w.dataStart)

	for _, o := range w.stringOff {
		out.WriteUint32(o)
	}
	for _, typ := range t.types {
		out.WriteUint32(uint32(w.p.StringIndex(typ)))
	}
	for _, pr := range t.protos {
		out.WriteUint32(uint32(w.p.StringIndex(pr.Shorty())))
		out.WriteUint32(uint32(w.p.TypeIndex(pr.Return)))
		out.WriteUint32(w.typeLists[typeListKey(pr.Params)])
	}
	for _, f := range t.fields {
		out.WriteUint16(uint16(w.p.TypeIndex(f.Class)))
		out.WriteUint16(uint16(w.p.TypeIndex(f.Type)))
		out.WriteUint32(uint32(w.p.StringIndex(f.Name)))
	}
	for _, m := range t.methods {
		out.WriteUint16(uint16(w.p.TypeIndex(m.Class)))
		out.WriteUint16(uint16(w.p.ProtoIndex(m.Proto)))
		out.WriteUint32(uint32(w.p.StringIndex(m.Name)))
	}
	for i, c := range t.classes {
		offs := w.classOffs[i]
		out.WriteUint32(uint32(w.p.TypeIndex(c.Type)))
		out.WriteUint32(c.Access)
		if c.Super == "" {
			out.WriteUint32(noIndex)
		} else {
			out.WriteUint32(uint32(w.p.TypeIndex(c.Super)))
		}
		out.WriteUint32(offs.interfaces)
		if c.SourceFile.Valid {
			out.WriteUint32(uint32(w.p.StringIndex(c.SourceFile.Value)))
		} else {
			out.WriteUint32(noIndex)
		}
		out.WriteUint32(offs.annotations)
		out.WriteUint32(offs.data)
		out.WriteUint32(offs.staticValues)
	}
	for _, o := range w.siteOff {
		out.WriteUint32(o)
	}
	for _, h := range t.handles {
		out.WriteUint16(h.Kind)
		out.WriteUint16(0)
		if h.Field != nil {
			out.WriteUint16(uint16(w.p.FieldIndex(h.Field)))
		} else {
			out.WriteUint16(uint16(w.p.MethodIndex(h.Method)))
		}
		out.WriteUint16(0)
	}
	_, _ = out.Write(w.d.Bytes())

	buf := out.Bytes()
	sum := sha1.Sum(buf[32:])
	copy(buf[12:32], sum[:])
	binary.LittleEndian.PutUint32(buf[8:12], adler32.Checksum(buf[12:]))
	return buf
}
