package dex

import (
	"bytes"
	"fmt"

	"github.com/antisplit/internal/binio"
	apperrors "github.com/antisplit/pkg/errors"
)

type section struct {
	size uint32
	off  uint32
}

type reader struct {
	data    []byte
	version int

	strings   []string
	types     []string
	protos    []*Proto
	fields    []*FieldRef
	methods   []*MethodRef
	handles   []*MethodHandle
	siteOffs  []uint32
	sites     []*CallSite
	annotSets map[uint32]AnnotationSet
}

// Read decodes a dex file. The checksum and signature are not verified.
func Read(data []byte) (*File, error) {
	f, err := parse(data)
	if err != nil {
		if apperrors.GetErrorCode(err) != apperrors.CodeUnknown {
			return nil, err
		}
		return nil, apperrors.Format("dex: %v", err)
	}
	return f, nil
}

// Version returns the format version of a dex file from its magic, or 0
// when data is not a dex file.
func Version(data []byte) int {
	if len(data) < 8 || !bytes.Equal(data[:4], []byte("dex\n")) || data[7] != 0 {
		return 0
	}
	return versions[string(data[4:7])]
}

// IsDex reports whether data starts with a supported dex magic.
func IsDex(data []byte) bool {
	return Version(data) != 0
}

func parse(data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("file of %d bytes is shorter than the header", len(data))
	}
	version := Version(data)
	if version == 0 {
		return nil, fmt.Errorf("bad magic %q", data[:8])
	}
	h := binio.NewReader(data)
	_ = h.Seek(32)
	fileSize, _ := h.ReadUint32()
	hdrSize, _ := h.ReadUint32()
	tag, _ := h.ReadUint32()
	if tag != endianTag {
		return nil, fmt.Errorf("unsupported endian tag 0x%08x", tag)
	}
	if hdrSize < headerSize || int64(fileSize) > int64(len(data)) {
		return nil, fmt.Errorf("header size %d or file size %d invalid for %d bytes", hdrSize, fileSize, len(data))
	}
	_ = h.Skip(8) // link section
	mapOff, _ := h.ReadUint32()
	var secs [7]section
	for i := range secs {
		secs[i].size, _ = h.ReadUint32()
		secs[i].off, _ = h.ReadUint32()
	}
	stringIDs, typeIDs, protoIDs, fieldIDs, methodIDs, classDefs := secs[0], secs[1], secs[2], secs[3], secs[4], secs[5]

	rd := &reader{data: data[:fileSize], version: version, annotSets: map[uint32]AnnotationSet{}}
	if err := rd.readStrings(stringIDs); err != nil {
		return nil, err
	}
	if err := rd.readTypes(typeIDs); err != nil {
		return nil, err
	}
	if err := rd.readProtos(protoIDs); err != nil {
		return nil, err
	}
	if err := rd.readFields(fieldIDs); err != nil {
		return nil, err
	}
	if err := rd.readMethods(methodIDs); err != nil {
		return nil, err
	}
	if err := rd.readMapExtras(mapOff); err != nil {
		return nil, err
	}

	f := &File{Version: version}
	r := rd.at(classDefs.off)
	for i := uint32(0); i < classDefs.size; i++ {
		if err := r.Seek(int(classDefs.off + i*32)); err != nil {
			return nil, fmt.Errorf("class_def %d: %v", i, err)
		}
		c, err := rd.readClass(r)
		if err != nil {
			return nil, fmt.Errorf("class_def %d: %v", i, err)
		}
		f.Classes = append(f.Classes, c)
	}
	return f, nil
}

func (rd *reader) at(off uint32) *binio.Reader {
	r := binio.NewReader(rd.data)
	_ = r.Seek(int(off))
	return r
}

func (rd *reader) seek(off uint32) (*binio.Reader, error) {
	r := binio.NewReader(rd.data)
	if err := r.Seek(int(off)); err != nil {
		return nil, fmt.Errorf("offset 0x%x outside file", off)
	}
	return r, nil
}

func (rd *reader) readStrings(s section) error {
	rd.strings = make([]string, s.size)
	ids, err := rd.seek(s.off)
	if err != nil {
		return err
	}
	for i := range rd.strings {
		off, err := ids.ReadUint32()
		if err != nil {
			return fmt.Errorf("string_ids truncated")
		}
		r, err := rd.seek(off)
		if err != nil {
			return fmt.Errorf("string %d: %v", i, err)
		}
		if _, err := r.ReadULEB128(); err != nil {
			return fmt.Errorf("string %d: %v", i, err)
		}
		rest := rd.data[r.Pos():]
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			return fmt.Errorf("string %d is not terminated", i)
		}
		rd.strings[i] = string(rest[:end])
	}
	return nil
}

func (rd *reader) str(idx uint32) (string, error) {
	if int64(idx) >= int64(len(rd.strings)) {
		return "", fmt.Errorf("string index %d out of range", idx)
	}
	return rd.strings[idx], nil
}

func (rd *reader) optStr(idx uint32) (OptString, error) {
	if idx == noIndex {
		return OptString{}, nil
	}
	s, err := rd.str(idx)
	return OptString{Value: s, Valid: true}, err
}

func (rd *reader) typ(idx uint32) (string, error) {
	if int64(idx) >= int64(len(rd.types)) {
		return "", fmt.Errorf("type index %d out of range", idx)
	}
	return rd.types[idx], nil
}

func (rd *reader) readTypes(s section) error {
	r, err := rd.seek(s.off)
	if err != nil {
		return err
	}
	rd.types = make([]string, s.size)
	for i := range rd.types {
		idx, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("type_ids truncated")
		}
		if rd.types[i], err = rd.str(idx); err != nil {
			return err
		}
	}
	return nil
}

func (rd *reader) typeList(off uint32) ([]string, error) {
	if off == 0 {
		return nil, nil
	}
	r, err := rd.seek(off)
	if err != nil {
		return nil, err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		idx, err := r.ReadUint16()
		if err != nil {
			return nil, fmt.Errorf("type_list truncated")
		}
		t, err := rd.typ(uint32(idx))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (rd *reader) readProtos(s section) error {
	r, err := rd.seek(s.off)
	if err != nil {
		return err
	}
	rd.protos = make([]*Proto, s.size)
	for i := range rd.protos {
		_, _ = r.ReadUint32() // shorty, recomputed on write
		ret, _ := r.ReadUint32()
		params, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("proto_ids truncated")
		}
		p := &Proto{}
		if p.Return, err = rd.typ(ret); err != nil {
			return err
		}
		if p.Params, err = rd.typeList(params); err != nil {
			return err
		}
		rd.protos[i] = p
	}
	return nil
}

func (rd *reader) readFields(s section) error {
	r, err := rd.seek(s.off)
	if err != nil {
		return err
	}
	rd.fields = make([]*FieldRef, s.size)
	for i := range rd.fields {
		class, _ := r.ReadUint16()
		typ, _ := r.ReadUint16()
		name, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("field_ids truncated")
		}
		f := &FieldRef{}
		if f.Class, err = rd.typ(uint32(class)); err != nil {
			return err
		}
		if f.Type, err = rd.typ(uint32(typ)); err != nil {
			return err
		}
		if f.Name, err = rd.str(name); err != nil {
			return err
		}
		rd.fields[i] = f
	}
	return nil
}

func (rd *reader) readMethods(s section) error {
	r, err := rd.seek(s.off)
	if err != nil {
		return err
	}
	rd.methods = make([]*MethodRef, s.size)
	for i := range rd.methods {
		class, _ := r.ReadUint16()
		proto, _ := r.ReadUint16()
		name, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("method_ids truncated")
		}
		m := &MethodRef{}
		if m.Class, err = rd.typ(uint32(class)); err != nil {
			return err
		}
		if int(proto) >= len(rd.protos) {
			return fmt.Errorf("proto index %d out of range", proto)
		}
		m.Proto = rd.protos[proto]
		if m.Name, err = rd.str(name); err != nil {
			return err
		}
		rd.methods[i] = m
	}
	return nil
}

func (rd *reader) field(idx uint32) (*FieldRef, error) {
	if int64(idx) >= int64(len(rd.fields)) {
		return nil, fmt.Errorf("field index %d out of range", idx)
	}
	return rd.fields[idx], nil
}

func (rd *reader) method(idx uint32) (*MethodRef, error) {
	if int64(idx) >= int64(len(rd.methods)) {
		return nil, fmt.Errorf("method index %d out of range", idx)
	}
	return rd.methods[idx], nil
}

// readMapExtras loads call sites and method handles, which only the map
// list locates.
func (rd *reader) readMapExtras(mapOff uint32) error {
	if mapOff == 0 {
		return nil
	}
	r, err := rd.seek(mapOff)
	if err != nil {
		return err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return err
	}
	var sites, handles section
	for i := uint32(0); i < n; i++ {
		typ, _ := r.ReadUint16()
		_, _ = r.ReadUint16()
		size, _ := r.ReadUint32()
		off, err := r.ReadUint32()
		if err != nil {
			return fmt.Errorf("map_list truncated")
		}
		switch typ {
		case typeCallSiteIDItem:
			sites = section{size, off}
		case typeMethodHandleItem:
			handles = section{size, off}
		}
	}

	if handles.size > 0 {
		hr, err := rd.seek(handles.off)
		if err != nil {
			return err
		}
		rd.handles = make([]*MethodHandle, handles.size)
		for i := range rd.handles {
			kind, _ := hr.ReadUint16()
			_, _ = hr.ReadUint16()
			target, _ := hr.ReadUint16()
			if _, err := hr.ReadUint16(); err != nil {
				return fmt.Errorf("method_handles truncated")
			}
			h := &MethodHandle{Kind: kind}
			if kind <= methodHandleLastFieldKind {
				h.Field, err = rd.field(uint32(target))
			} else {
				h.Method, err = rd.method(uint32(target))
			}
			if err != nil {
				return err
			}
			rd.handles[i] = h
		}
	}

	if sites.size > 0 {
		sr, err := rd.seek(sites.off)
		if err != nil {
			return err
		}
		rd.siteOffs = make([]uint32, sites.size)
		rd.sites = make([]*CallSite, sites.size)
		for i := range rd.siteOffs {
			if rd.siteOffs[i], err = sr.ReadUint32(); err != nil {
				return fmt.Errorf("call_site_ids truncated")
			}
		}
	}
	return nil
}

func (rd *reader) callSite(idx uint32) (*CallSite, error) {
	if int64(idx) >= int64(len(rd.sites)) {
		return nil, fmt.Errorf("call site index %d out of range", idx)
	}
	if rd.sites[idx] == nil {
		r, err := rd.seek(rd.siteOffs[idx])
		if err != nil {
			return nil, err
		}
		values, err := rd.encodedArray(r)
		if err != nil {
			return nil, fmt.Errorf("call site %d: %v", idx, err)
		}
		rd.sites[idx] = &CallSite{Values: values}
	}
	return rd.sites[idx], nil
}

func (rd *reader) handle(idx uint32) (*MethodHandle, error) {
	if int64(idx) >= int64(len(rd.handles)) {
		return nil, fmt.Errorf("method handle index %d out of range", idx)
	}
	return rd.handles[idx], nil
}

func (rd *reader) proto(idx uint32) (*Proto, error) {
	if int64(idx) >= int64(len(rd.protos)) {
		return nil, fmt.Errorf("proto index %d out of range", idx)
	}
	return rd.protos[idx], nil
}

func (rd *reader) readClass(r *binio.Reader) (*Class, error) {
	var v [8]uint32
	for i := range v {
		var err error
		if v[i], err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("truncated")
		}
	}
	c := &Class{Access: v[1]}
	var err error
	if c.Type, err = rd.typ(v[0]); err != nil {
		return nil, err
	}
	if v[2] != noIndex {
		if c.Super, err = rd.typ(v[2]); err != nil {
			return nil, err
		}
	}
	if c.Interfaces, err = rd.typeList(v[3]); err != nil {
		return nil, err
	}
	if c.SourceFile, err = rd.optStr(v[4]); err != nil {
		return nil, err
	}
	if v[5] != 0 {
		if c.Annotations, err = rd.annotationsDirectory(v[5]); err != nil {
			return nil, fmt.Errorf("%s annotations: %v", c.Type, err)
		}
	}
	if v[6] != 0 {
		if err := rd.classData(c, v[6]); err != nil {
			return nil, fmt.Errorf("%s class data: %v", c.Type, err)
		}
	}
	if v[7] != 0 {
		sr, err := rd.seek(v[7])
		if err != nil {
			return nil, err
		}
		values, err := rd.encodedArray(sr)
		if err != nil {
			return nil, fmt.Errorf("%s static values: %v", c.Type, err)
		}
		c.StaticValues = make(map[string]EncodedValue, len(values))
		for i, val := range values {
			if i < len(c.StaticFields) {
				c.StaticValues[c.StaticFields[i].Ref.Key()] = val
			}
		}
	}
	return c, nil
}

func (rd *reader) classData(c *Class, off uint32) error {
	r, err := rd.seek(off)
	if err != nil {
		return err
	}
	var counts [4]uint32
	for i := range counts {
		if counts[i], err = r.ReadULEB128(); err != nil {
			return err
		}
	}
	readFields := func(n uint32) ([]*Field, error) {
		out := make([]*Field, 0, n)
		idx := uint32(0)
		for i := uint32(0); i < n; i++ {
			diff, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			access, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			idx += diff
			ref, err := rd.field(idx)
			if err != nil {
				return nil, err
			}
			out = append(out, &Field{Ref: ref, Access: access})
		}
		return out, nil
	}
	readMethods := func(n uint32) ([]*Method, error) {
		out := make([]*Method, 0, n)
		idx := uint32(0)
		for i := uint32(0); i < n; i++ {
			diff, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			access, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			codeOff, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			idx += diff
			ref, err := rd.method(idx)
			if err != nil {
				return nil, err
			}
			m := &Method{Ref: ref, Access: access}
			if codeOff != 0 {
				if m.Code, err = rd.code(codeOff); err != nil {
					return nil, fmt.Errorf("%s: %v", ref.Key(), err)
				}
			}
			out = append(out, m)
		}
		return out, nil
	}
	if c.StaticFields, err = readFields(counts[0]); err != nil {
		return err
	}
	if c.InstanceFields, err = readFields(counts[1]); err != nil {
		return err
	}
	if c.DirectMethods, err = readMethods(counts[2]); err != nil {
		return err
	}
	c.VirtualMethods, err = readMethods(counts[3])
	return err
}

func (rd *reader) code(off uint32) (*Code, error) {
	r, err := rd.seek(off)
	if err != nil {
		return nil, err
	}
	c := &Code{}
	c.Registers, _ = r.ReadUint16()
	c.Ins, _ = r.ReadUint16()
	c.Outs, _ = r.ReadUint16()
	triesSize, _ := r.ReadUint16()
	debugOff, _ := r.ReadUint32()
	insnsSize, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("code item truncated")
	}
	if int64(insnsSize)*2 > int64(r.Len()) {
		return nil, fmt.Errorf("insns of %d units overrun file", insnsSize)
	}
	c.Insns = make([]uint16, insnsSize)
	for i := range c.Insns {
		c.Insns[i], _ = r.ReadUint16()
	}
	if err := rd.scanRefs(c); err != nil {
		return nil, err
	}

	if triesSize > 0 {
		if insnsSize%2 == 1 {
			_, _ = r.ReadUint16()
		}
		type rawTry struct {
			start uint32
			count uint16
			off   uint16
		}
		raws := make([]rawTry, triesSize)
		for i := range raws {
			raws[i].start, _ = r.ReadUint32()
			raws[i].count, _ = r.ReadUint16()
			if raws[i].off, err = r.ReadUint16(); err != nil {
				return nil, fmt.Errorf("tries truncated")
			}
		}
		listStart := r.Pos()
		n, err := r.ReadULEB128()
		if err != nil {
			return nil, err
		}
		byOff := map[int]int{}
		for i := uint32(0); i < n; i++ {
			byOff[r.Pos()-listStart] = len(c.Handlers)
			h, err := rd.catchHandler(r)
			if err != nil {
				return nil, err
			}
			c.Handlers = append(c.Handlers, h)
		}
		for _, t := range raws {
			hi, ok := byOff[int(t.off)]
			if !ok {
				return nil, fmt.Errorf("try handler offset %d does not start a handler", t.off)
			}
			c.Tries = append(c.Tries, Try{Start: t.start, Count: t.count, Handler: hi})
		}
	}

	if debugOff != 0 {
		if c.Debug, err = rd.debugInfo(debugOff); err != nil {
			return nil, fmt.Errorf("debug info: %v", err)
		}
	}
	return c, nil
}

func (rd *reader) catchHandler(r *binio.Reader) (Handler, error) {
	size, err := r.ReadSLEB128()
	if err != nil {
		return Handler{}, err
	}
	h := Handler{CatchAll: -1}
	count := size
	if count < 0 {
		count = -count
	}
	for i := int32(0); i < count; i++ {
		typeIdx, err := r.ReadULEB128()
		if err != nil {
			return h, err
		}
		addr, err := r.ReadULEB128()
		if err != nil {
			return h, err
		}
		t, err := rd.typ(typeIdx)
		if err != nil {
			return h, err
		}
		h.Catches = append(h.Catches, Catch{Type: t, Addr: addr})
	}
	if size <= 0 {
		addr, err := r.ReadULEB128()
		if err != nil {
			return h, err
		}
		h.CatchAll = int64(addr)
	}
	return h, nil
}

// scanRefs walks the instruction stream and lifts every pool operand.
func (rd *reader) scanRefs(c *Code) error {
	insns := c.Insns
	for pc := 0; pc < len(insns); {
		if n, ok := payloadUnits(insns, pc); ok {
			pc += n
			continue
		}
		info := opcodes[insns[pc]&0xFF]
		if pc+info.units > len(insns) {
			return fmt.Errorf("instruction at %d overruns code", pc)
		}
		if info.ref != RefNone {
			idx := uint32(insns[pc+1])
			if info.wide {
				idx |= uint32(insns[pc+2]) << 16
			}
			ref := InsnRef{Slot: pc + 1, Kind: info.ref, Wide: info.wide}
			if err := rd.resolveRef(&ref, idx); err != nil {
				return fmt.Errorf("instruction at %d: %v", pc, err)
			}
			c.Refs = append(c.Refs, ref)
			if info.protoAt > 0 {
				pref := InsnRef{Slot: pc + info.protoAt, Kind: RefProto}
				if err := rd.resolveRef(&pref, uint32(insns[pc+info.protoAt])); err != nil {
					return fmt.Errorf("instruction at %d: %v", pc, err)
				}
				c.Refs = append(c.Refs, pref)
			}
		}
		pc += info.units
	}
	return nil
}

func (rd *reader) resolveRef(ref *InsnRef, idx uint32) error {
	var err error
	switch ref.Kind {
	case RefString:
		ref.Str, err = rd.str(idx)
	case RefType:
		ref.Str, err = rd.typ(idx)
	case RefField:
		ref.Field, err = rd.field(idx)
	case RefMethod:
		ref.Method, err = rd.method(idx)
	case RefProto:
		ref.Proto, err = rd.proto(idx)
	case RefCallSite:
		ref.Site, err = rd.callSite(idx)
	case RefMethodHandle:
		ref.Handle, err = rd.handle(idx)
	}
	return err
}

func (rd *reader) debugInfo(off uint32) (*DebugInfo, error) {
	r, err := rd.seek(off)
	if err != nil {
		return nil, err
	}
	d := &DebugInfo{}
	if d.LineStart, err = r.ReadULEB128(); err != nil {
		return nil, err
	}
	n, err := r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	optStrP1 := func() (OptString, error) {
		v, err := r.ReadULEB128p1()
		if err != nil || v < 0 {
			return OptString{}, err
		}
		return rd.optStr(uint32(v))
	}
	optTypeP1 := func() (OptString, error) {
		v, err := r.ReadULEB128p1()
		if err != nil || v < 0 {
			return OptString{}, err
		}
		t, err := rd.typ(uint32(v))
		return OptString{Value: t, Valid: true}, err
	}
	for i := uint32(0); i < n; i++ {
		name, err := optStrP1()
		if err != nil {
			return nil, err
		}
		d.ParamNames = append(d.ParamNames, name)
	}
	for {
		op, err := r.ReadUint8()
		if err != nil {
			return nil, fmt.Errorf("unterminated debug program")
		}
		dop := DebugOp{Op: op}
		switch op {
		case dbgEndSequence:
			d.Ops = append(d.Ops, dop)
			return d, nil
		case dbgAdvancePC:
			v, err := r.ReadULEB128()
			if err != nil {
				return nil, err
			}
			dop.Num = int32(v)
		case dbgAdvanceLine:
			if dop.Num, err = r.ReadSLEB128(); err != nil {
				return nil, err
			}
		case dbgStartLocal, dbgStartLocalExtended:
			if dop.Reg, err = r.ReadULEB128(); err != nil {
				return nil, err
			}
			if dop.Name, err = optStrP1(); err != nil {
				return nil, err
			}
			if dop.Type, err = optTypeP1(); err != nil {
				return nil, err
			}
			if op == dbgStartLocalExtended {
				if dop.Sig, err = optStrP1(); err != nil {
					return nil, err
				}
			}
		case dbgEndLocal, dbgRestartLocal:
			if dop.Reg, err = r.ReadULEB128(); err != nil {
				return nil, err
			}
		case dbgSetFile:
			if dop.Name, err = optStrP1(); err != nil {
				return nil, err
			}
		}
		d.Ops = append(d.Ops, dop)
	}
}

func (rd *reader) annotationsDirectory(off uint32) (*Annotations, error) {
	r, err := rd.seek(off)
	if err != nil {
		return nil, err
	}
	classOff, _ := r.ReadUint32()
	nFields, _ := r.ReadUint32()
	nMethods, _ := r.ReadUint32()
	nParams, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("directory truncated")
	}
	a := &Annotations{}
	if classOff != 0 {
		a.HasClass = true
		if a.Class, err = rd.annotationSet(classOff); err != nil {
			return nil, err
		}
	}
	for i := uint32(0); i < nFields; i++ {
		idx, _ := r.ReadUint32()
		setOff, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("field annotations truncated")
		}
		f, err := rd.field(idx)
		if err != nil {
			return nil, err
		}
		set, err := rd.annotationSet(setOff)
		if err != nil {
			return nil, err
		}
		a.Fields = append(a.Fields, MemberAnnotations{Field: f, Set: set})
	}
	for i := uint32(0); i < nMethods; i++ {
		idx, _ := r.ReadUint32()
		setOff, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("method annotations truncated")
		}
		m, err := rd.method(idx)
		if err != nil {
			return nil, err
		}
		set, err := rd.annotationSet(setOff)
		if err != nil {
			return nil, err
		}
		a.Methods = append(a.Methods, MemberAnnotations{Method: m, Set: set})
	}
	for i := uint32(0); i < nParams; i++ {
		idx, _ := r.ReadUint32()
		listOff, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("parameter annotations truncated")
		}
		m, err := rd.method(idx)
		if err != nil {
			return nil, err
		}
		lr, err := rd.seek(listOff)
		if err != nil {
			return nil, err
		}
		n, err := lr.ReadUint32()
		if err != nil {
			return nil, err
		}
		pa := ParameterAnnotations{Method: m, Sets: make([]AnnotationSet, n)}
		for j := range pa.Sets {
			setOff, err := lr.ReadUint32()
			if err != nil {
				return nil, fmt.Errorf("annotation set ref list truncated")
			}
			if setOff != 0 {
				if pa.Sets[j], err = rd.annotationSet(setOff); err != nil {
					return nil, err
				}
			}
		}
		a.Parameters = append(a.Parameters, pa)
	}
	return a, nil
}

func (rd *reader) annotationSet(off uint32) (AnnotationSet, error) {
	if set, ok := rd.annotSets[off]; ok {
		return set, nil
	}
	r, err := rd.seek(off)
	if err != nil {
		return nil, err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	set := make(AnnotationSet, 0, n)
	for i := uint32(0); i < n; i++ {
		itemOff, err := r.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("annotation set truncated")
		}
		ir, err := rd.seek(itemOff)
		if err != nil {
			return nil, err
		}
		vis, err := ir.ReadUint8()
		if err != nil {
			return nil, err
		}
		ea, err := rd.encodedAnnotation(ir)
		if err != nil {
			return nil, err
		}
		set = append(set, &Annotation{Visibility: vis, EncodedAnnotation: *ea})
	}
	rd.annotSets[off] = set
	return set, nil
}

func (rd *reader) encodedAnnotation(r *binio.Reader) (*EncodedAnnotation, error) {
	typeIdx, err := r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	n, err := r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	a := &EncodedAnnotation{}
	if a.Type, err = rd.typ(typeIdx); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		nameIdx, err := r.ReadULEB128()
		if err != nil {
			return nil, err
		}
		name, err := rd.str(nameIdx)
		if err != nil {
			return nil, err
		}
		v, err := rd.encodedValue(r)
		if err != nil {
			return nil, err
		}
		a.Elements = append(a.Elements, AnnotationElement{Name: name, Value: v})
	}
	return a, nil
}

func (rd *reader) encodedArray(r *binio.Reader) ([]EncodedValue, error) {
	n, err := r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("encoded array of %d values overruns file", n)
	}
	out := make([]EncodedValue, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := rd.encodedValue(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (rd *reader) encodedValue(r *binio.Reader) (EncodedValue, error) {
	head, err := r.ReadUint8()
	if err != nil {
		return EncodedValue{}, err
	}
	v := EncodedValue{Type: head & 0x1F}
	arg := int(head >> 5)

	readBits := func() (uint64, error) {
		b, err := r.ReadBytes(arg + 1)
		if err != nil {
			return 0, err
		}
		var x uint64
		for i := len(b) - 1; i >= 0; i-- {
			x = x<<8 | uint64(b[i])
		}
		return x, nil
	}
	signExtend := func(x uint64) uint64 {
		shift := uint(64 - 8*(arg+1))
		return uint64(int64(x<<shift) >> shift)
	}

	switch v.Type {
	case ValueByte, ValueShort, ValueInt, ValueLong:
		x, err := readBits()
		if err != nil {
			return v, err
		}
		v.Bits = signExtend(x)
	case ValueChar:
		v.Bits, err = readBits()
	case ValueFloat:
		x, err := readBits()
		if err != nil {
			return v, err
		}
		v.Bits = x << uint(8*(3-arg))
	case ValueDouble:
		x, err := readBits()
		if err != nil {
			return v, err
		}
		v.Bits = x << uint(8*(7-arg))
	case ValueMethodType, ValueMethodHandle, ValueString, ValueType, ValueField, ValueMethod, ValueEnum:
		var x uint64
		if x, err = readBits(); err != nil {
			return v, err
		}
		idx := uint32(x)
		switch v.Type {
		case ValueMethodType:
			v.Proto, err = rd.proto(idx)
		case ValueMethodHandle:
			v.Handle, err = rd.handle(idx)
		case ValueString:
			v.Str, err = rd.str(idx)
		case ValueType:
			v.Str, err = rd.typ(idx)
		case ValueField, ValueEnum:
			v.Field, err = rd.field(idx)
		case ValueMethod:
			v.Method, err = rd.method(idx)
		}
	case ValueArray:
		v.Array, err = rd.encodedArray(r)
		if v.Array == nil && err == nil {
			v.Array = []EncodedValue{}
		}
	case ValueAnnotation:
		v.Annotation, err = rd.encodedAnnotation(r)
	case ValueNull:
	case ValueBoolean:
		v.Bits = uint64(arg)
	default:
		return v, fmt.Errorf("unknown encoded value type 0x%02x", v.Type)
	}
	return v, err
}
