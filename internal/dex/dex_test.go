package dex

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/parallel"
)

var (
	objectInit = &MethodRef{Class: "Ljava/lang/Object;", Name: "<init>", Proto: &Proto{Return: "V"}}
	voidProto  = &Proto{Return: "V"}
)

// sampleClass builds a class with a constructor, a string getter, a method
// with a try block and debug info, and two static fields.
func sampleClass(desc string, greeting string) *Class {
	count := &FieldRef{Class: desc, Name: "COUNT", Type: "I"}
	name := &FieldRef{Class: desc, Name: "name", Type: "Ljava/lang/String;"}
	return &Class{
		Type:       desc,
		Access:     0x1,
		Super:      "Ljava/lang/Object;",
		SourceFile: OptString{Value: "Sample.java", Valid: true},
		StaticFields: []*Field{
			{Ref: count, Access: 0x19},
		},
		InstanceFields: []*Field{
			{Ref: name, Access: 0x2},
		},
		StaticValues: map[string]EncodedValue{
			count.Key(): {Type: ValueInt, Bits: 7},
		},
		DirectMethods: []*Method{{
			Ref:    &MethodRef{Class: desc, Name: "<init>", Proto: voidProto},
			Access: 0x10001,
			Code: &Code{
				Registers: 1, Ins: 1, Outs: 1,
				Insns: []uint16{0x1070, 0, 0x0000, 0x000e},
				Refs:  []InsnRef{{Slot: 1, Kind: RefMethod, Method: objectInit}},
			},
		}},
		VirtualMethods: []*Method{
			{
				Ref:    &MethodRef{Class: desc, Name: "greet", Proto: &Proto{Return: "Ljava/lang/String;"}},
				Access: 0x1,
				Code: &Code{
					Registers: 2, Ins: 1,
					Insns: []uint16{0x001a, 0, 0x0011},
					Refs:  []InsnRef{{Slot: 1, Kind: RefString, Str: greeting}},
				},
			},
			{
				Ref:    &MethodRef{Class: desc, Name: "risky", Proto: voidProto},
				Access: 0x1,
				Code: &Code{
					Registers: 2, Ins: 1,
					Insns: []uint16{0x001a, 0, 0x000e},
					Refs:  []InsnRef{{Slot: 1, Kind: RefString, Str: "x"}},
					Tries: []Try{{Start: 0, Count: 2, Handler: 0}},
					Handlers: []Handler{{
						Catches:  []Catch{{Type: "Ljava/io/IOException;", Addr: 2}},
						CatchAll: -1,
					}},
					Debug: &DebugInfo{
						LineStart: 10,
						Ops: []DebugOp{
							{Op: dbgSetPrologueEnd},
							{Op: dbgStartLocal, Reg: 0, Name: OptString{Value: "msg", Valid: true}, Type: OptString{Value: "Ljava/lang/String;", Valid: true}},
							{Op: 0x0e},
							{Op: dbgEndSequence},
						},
					},
				},
			},
		},
	}
}

func writeClasses(t *testing.T, version int, classes ...*Class) []byte {
	t.Helper()
	p := NewClassPool(parallel.DefaultPoolConfig())
	require.NoError(t, p.Intern(&File{Version: version, Classes: classes}))
	data, err := Write(p)
	require.NoError(t, err)
	return data
}

func findMethod(c *Class, name string) *Method {
	for _, list := range [][]*Method{c.DirectMethods, c.VirtualMethods} {
		for _, m := range list {
			if m.Ref.Name == name {
				return m
			}
		}
	}
	return nil
}

func TestWriteRead_RoundTrip(t *testing.T) {
	data := writeClasses(t, 35, sampleClass("Lcom/example/Sample;", "hello"))
	assert.True(t, IsDex(data))
	assert.Equal(t, 35, Version(data))

	f, err := Read(data)
	require.NoError(t, err)
	require.Len(t, f.Classes, 1)
	c := f.Classes[0]

	assert.Equal(t, "Lcom/example/Sample;", c.Type)
	assert.Equal(t, "Ljava/lang/Object;", c.Super)
	assert.Equal(t, OptString{Value: "Sample.java", Valid: true}, c.SourceFile)
	require.Len(t, c.StaticFields, 1)
	require.Len(t, c.InstanceFields, 1)
	assert.Equal(t, uint32(0x19), c.StaticFields[0].Access)
	assert.Equal(t, EncodedValue{Type: ValueInt, Bits: 7}, c.StaticValues["Lcom/example/Sample;->COUNT:I"])

	greet := findMethod(c, "greet")
	require.NotNil(t, greet)
	assert.Equal(t, "hello", greet.Code.Refs[0].Str)
	assert.Equal(t, RefString, greet.Code.Refs[0].Kind)

	ctor := findMethod(c, "<init>")
	require.NotNil(t, ctor)
	assert.Equal(t, objectInit.Key(), ctor.Code.Refs[0].Method.Key())
	assert.Equal(t, uint32(0x10001), ctor.Access)

	risky := findMethod(c, "risky")
	require.NotNil(t, risky)
	want := sampleClass("Lcom/example/Sample;", "hello").VirtualMethods[1].Code
	assert.Equal(t, want.Tries, risky.Code.Tries)
	assert.Equal(t, want.Handlers, risky.Code.Handlers)
	assert.Equal(t, want.Debug, risky.Code.Debug)
	assert.Equal(t, want.Insns[2], risky.Code.Insns[2])
}

func TestWrite_Deterministic(t *testing.T) {
	a := writeClasses(t, 35, sampleClass("La;", "one"), sampleClass("Lb;", "two"))
	b := writeClasses(t, 35, sampleClass("Lb;", "two"), sampleClass("La;", "one"))
	assert.Equal(t, a, b)
}

func TestWrite_ReEncodeIsStable(t *testing.T) {
	first := writeClasses(t, 37, sampleClass("Lcom/example/Sample;", "hello"))
	f, err := Read(first)
	require.NoError(t, err)
	second := writeClasses(t, f.Version, f.Classes...)
	assert.Equal(t, first, second)
}

func TestClassPool_Dedup(t *testing.T) {
	p := NewClassPool(parallel.DefaultPoolConfig())
	require.NoError(t, p.Intern(&File{Version: 35, Classes: []*Class{sampleClass("La;", "same")}}))
	require.NoError(t, p.Intern(&File{Version: 35, Classes: []*Class{sampleClass("Lb;", "same")}}))
	require.NoError(t, p.Finalize())

	count := 0
	for _, s := range p.Strings() {
		if s == "same" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, p.StringIndex("same"), p.StringIndex("same"))
	assert.Equal(t, 2, p.Stats().Classes)
	// Object.<init> is shared by both constructors.
	assert.Equal(t, p.MethodIndex(objectInit), p.MethodIndex(&MethodRef{Class: "Ljava/lang/Object;", Name: "<init>", Proto: &Proto{Return: "V"}}))
}

func TestClassPool_SortedPools(t *testing.T) {
	p := NewClassPool(parallel.DefaultPoolConfig())
	require.NoError(t, p.Intern(&File{Version: 35, Classes: []*Class{sampleClass("Lz;", "b"), sampleClass("La;", "a")}}))
	require.NoError(t, p.Finalize())

	strs := p.Strings()
	for i := 1; i < len(strs); i++ {
		assert.Negative(t, compareMUTF8(strs[i-1], strs[i]), "%q before %q", strs[i-1], strs[i])
	}
	assert.Equal(t, "La;", p.Classes()[0].Type)
}

func TestClassPool_SuperclassFirst(t *testing.T) {
	child := sampleClass("La;", "c")
	child.Super = "Lz;"
	p := NewClassPool(parallel.DefaultPoolConfig())
	require.NoError(t, p.Intern(&File{Version: 35, Classes: []*Class{child, sampleClass("Lz;", "p")}}))
	require.NoError(t, p.Finalize())

	classes := p.Classes()
	require.Len(t, classes, 2)
	assert.Equal(t, "Lz;", classes[0].Type)
	assert.Equal(t, "La;", classes[1].Type)
}

func TestClassPool_DuplicateClass(t *testing.T) {
	p := NewClassPool(parallel.DefaultPoolConfig())
	files := []*File{
		{Version: 35, Classes: []*Class{sampleClass("La;", "x")}},
		{Version: 35, Classes: []*Class{sampleClass("La;", "y")}},
	}
	err := p.InternFiles(context.Background(), files)
	require.Error(t, err)
	assert.True(t, apperrors.IsStructuralConflict(err))
}

func TestClassPool_DuplicateMember(t *testing.T) {
	c := sampleClass("La;", "x")
	c.VirtualMethods = append(c.VirtualMethods, c.VirtualMethods[0])
	err := NewClassPool(parallel.PoolConfig{}).Intern(&File{Version: 35, Classes: []*Class{c}})
	require.Error(t, err)
	assert.True(t, apperrors.IsStructuralConflict(err))
	assert.Contains(t, err.Error(), "greet")
}

func TestClassPool_AccessorsBeforeFinalize(t *testing.T) {
	p := NewClassPool(parallel.PoolConfig{})
	require.NoError(t, p.Intern(&File{Version: 35, Classes: []*Class{sampleClass("La;", "x")}}))
	assert.False(t, p.Finalized())
	assert.Panics(t, func() { p.StringIndex("x") })
	assert.Panics(t, func() { p.Classes() })
	require.NoError(t, p.Finalize())
	assert.NotPanics(t, func() { p.StringIndex("x") })
	assert.Panics(t, func() { _ = p.Intern(&File{}) })
}

func TestClassPool_MethodCeiling(t *testing.T) {
	c := &Class{Type: "Lbig;", Super: "Ljava/lang/Object;"}
	for i := 0; i <= MaxIndex; i++ {
		c.DirectMethods = append(c.DirectMethods, &Method{
			Ref:    &MethodRef{Class: "Lbig;", Name: fmt.Sprintf("m%d", i), Proto: voidProto},
			Access: 0x9,
		})
	}
	p := NewClassPool(parallel.PoolConfig{})
	require.NoError(t, p.Intern(&File{Version: 35, Classes: []*Class{c}}))
	err := p.Finalize()
	require.Error(t, err)
	assert.True(t, apperrors.IsStructuralConflict(err))
	assert.Contains(t, err.Error(), "method")
}

func TestClassPool_VersionIsMaximum(t *testing.T) {
	p := NewClassPool(parallel.PoolConfig{})
	require.NoError(t, p.Intern(&File{Version: 35, Classes: []*Class{sampleClass("La;", "x")}}))
	require.NoError(t, p.Intern(&File{Version: 39, Classes: []*Class{sampleClass("Lb;", "x")}}))
	assert.Equal(t, 39, p.Version())
	data, err := Write(p)
	require.NoError(t, err)
	assert.Equal(t, "dex\n039\x00", string(data[:8]))
}

func TestWrite_ConstStringOverflow(t *testing.T) {
	c := sampleClass("La;", "zzzz")
	arr := &FieldRef{Class: "La;", Name: "TABLE", Type: "[Ljava/lang/String;"}
	values := make([]EncodedValue, 0, MaxIndex+10)
	for i := 0; i < MaxIndex+10; i++ {
		values = append(values, EncodedValue{Type: ValueString, Str: fmt.Sprintf("s%06d", i)})
	}
	c.StaticFields = append(c.StaticFields, &Field{Ref: arr, Access: 0x19})
	c.StaticValues[arr.Key()] = EncodedValue{Type: ValueArray, Array: values}

	p := NewClassPool(parallel.PoolConfig{})
	require.NoError(t, p.Intern(&File{Version: 35, Classes: []*Class{c}}))
	_, err := Write(p)
	require.Error(t, err)
	assert.True(t, apperrors.IsStructuralConflict(err))
}

func TestWrite_StaticValuesOrderedAndTrimmed(t *testing.T) {
	c := &Class{Type: "La;", Super: "Ljava/lang/Object;"}
	fa := &FieldRef{Class: "La;", Name: "a", Type: "I"}
	fb := &FieldRef{Class: "La;", Name: "b", Type: "J"}
	fc := &FieldRef{Class: "La;", Name: "c", Type: "Ljava/lang/String;"}
	// Declared out of order; the writer sorts by field index.
	c.StaticFields = []*Field{{Ref: fc, Access: 0x8}, {Ref: fb, Access: 0x8}, {Ref: fa, Access: 0x8}}
	c.StaticValues = map[string]EncodedValue{
		fb.Key(): {Type: ValueLong, Bits: uint64(0xFFFFFFFFFFFFFFFE)},
		fc.Key(): {Type: ValueNull},
	}

	f, err := Read(writeClasses(t, 35, c))
	require.NoError(t, err)
	got := f.Classes[0]
	require.Len(t, got.StaticFields, 3)
	assert.Equal(t, "a", got.StaticFields[0].Ref.Name)
	assert.Len(t, got.StaticValues, 2)
	assert.Equal(t, EncodedValue{Type: ValueInt}, got.StaticValues[fa.Key()])
	assert.Equal(t, EncodedValue{Type: ValueLong, Bits: uint64(0xFFFFFFFFFFFFFFFE)}, got.StaticValues[fb.Key()])
}

func TestEncodedValues_RoundTrip(t *testing.T) {
	values := []EncodedValue{
		{Type: ValueByte, Bits: uint64(0xFFFFFFFFFFFFFF80)},
		{Type: ValueShort, Bits: 0x1234},
		{Type: ValueChar, Bits: 0xFFFF},
		{Type: ValueInt, Bits: uint64(0xFFFFFFFF80000000)},
		{Type: ValueFloat, Bits: 0x3F800000},
		{Type: ValueDouble, Bits: 0x4000000000000000},
		{Type: ValueBoolean, Bits: 1},
		{Type: ValueString, Str: "text"},
		{Type: ValueType, Str: "Ljava/lang/Runnable;"},
		{Type: ValueArray, Array: []EncodedValue{{Type: ValueInt, Bits: 1}, {Type: ValueNull}}},
	}
	c := &Class{Type: "La;", Super: "Ljava/lang/Object;", StaticValues: map[string]EncodedValue{}}
	for i, v := range values {
		ref := &FieldRef{Class: "La;", Name: fmt.Sprintf("f%02d", i), Type: "Ljava/lang/Object;"}
		c.StaticFields = append(c.StaticFields, &Field{Ref: ref, Access: 0x8})
		c.StaticValues[ref.Key()] = v
	}

	f, err := Read(writeClasses(t, 35, c))
	require.NoError(t, err)
	for i, v := range values {
		key := fmt.Sprintf("La;->f%02d:Ljava/lang/Object;", i)
		assert.Equal(t, v, f.Classes[0].StaticValues[key], key)
	}
}

func TestAnnotations_RoundTrip(t *testing.T) {
	c := sampleClass("La;", "x")
	greet := c.VirtualMethods[0].Ref
	deprecated := &Annotation{Visibility: 1, EncodedAnnotation: EncodedAnnotation{Type: "Ljava/lang/Deprecated;"}}
	named := &Annotation{Visibility: 2, EncodedAnnotation: EncodedAnnotation{
		Type: "Lcom/example/Named;",
		Elements: []AnnotationElement{
			{Name: "value", Value: EncodedValue{Type: ValueString, Str: "n"}},
			{Name: "id", Value: EncodedValue{Type: ValueInt, Bits: 3}},
		},
	}}
	c.Annotations = &Annotations{
		Class:    AnnotationSet{deprecated},
		HasClass: true,
		Methods:  []MemberAnnotations{{Method: greet, Set: AnnotationSet{named, deprecated}}},
	}

	f, err := Read(writeClasses(t, 35, c))
	require.NoError(t, err)
	a := f.Classes[0].Annotations
	require.NotNil(t, a)
	require.Len(t, a.Class, 1)
	assert.Equal(t, "Ljava/lang/Deprecated;", a.Class[0].Type)
	require.Len(t, a.Methods, 1)
	assert.Equal(t, greet.Key(), a.Methods[0].Method.Key())
	require.Len(t, a.Methods[0].Set, 2)
	// Elements come back ordered by name.
	var elems []string
	for _, ann := range a.Methods[0].Set {
		if ann.Type == "Lcom/example/Named;" {
			for _, e := range ann.Elements {
				elems = append(elems, e.Name)
			}
		}
	}
	assert.Equal(t, []string{"id", "value"}, elems)
}

func TestRead_SkipsPayloads(t *testing.T) {
	c := &Class{Type: "La;", Super: "Ljava/lang/Object;"}
	c.DirectMethods = []*Method{{
		Ref:    &MethodRef{Class: "La;", Name: "sw", Proto: voidProto},
		Access: 0x9,
		Code: &Code{
			Registers: 1,
			Insns: []uint16{
				0x001a, 0, // const-string v0
				0x002b, 4, 0, // packed-switch v0, +4
				0x000e, // return-void
				0x0100, 1, 0, 0, 0x001a, 0, // payload whose target looks like const-string
			},
			Refs: []InsnRef{{Slot: 1, Kind: RefString, Str: "s"}},
		},
	}}
	f, err := Read(writeClasses(t, 35, c))
	require.NoError(t, err)
	code := f.Classes[0].DirectMethods[0].Code
	require.Len(t, code.Refs, 1)
	assert.Equal(t, "s", code.Refs[0].Str)
	assert.Equal(t, uint16(0x001a), code.Insns[10])
}

func TestRead_Errors(t *testing.T) {
	valid := writeClasses(t, 35, sampleClass("La;", "x"))
	badEndian := append([]byte(nil), valid...)
	copy(badEndian[40:44], []byte{0x12, 0x34, 0x56, 0x78})
	truncated := append([]byte(nil), valid[:len(valid)-40]...)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("dey\n035\x00"), valid[8:]...)},
		{"unknown version", append([]byte("dex\n099\x00"), valid[8:]...)},
		{"big endian", badEndian},
		{"truncated", truncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(tt.data)
			require.Error(t, err)
			assert.True(t, apperrors.IsFormatError(err))
		})
	}
}

func TestCompareMUTF8(t *testing.T) {
	assert.Equal(t, 0, compareMUTF8("abc", "abc"))
	assert.Negative(t, compareMUTF8("ab", "abc"))
	assert.Positive(t, compareMUTF8("b", "abc"))
	// U+0000 is encoded as C0 80 and sorts before U+0001.
	assert.Negative(t, compareMUTF8("a\xc0\x80", "a\x01"))
	assert.Equal(t, 2, utf16Len("a\xc0\x80"))
	assert.Equal(t, 2, utf16Len("\xed\xa0\x80\xed\xb0\x80"))
}

func TestEntryNames(t *testing.T) {
	assert.Equal(t, "classes.dex", EntryName(0))
	assert.Equal(t, "classes3.dex", EntryName(2))
	assert.True(t, IsDexEntry("classes12.dex"))
	assert.False(t, IsDexEntry("lib/classes.dex"))
	assert.False(t, IsDexEntry("classes.jar"))

	names := []string{"classes10.dex", "classes2.dex", "classes.dex"}
	SortEntries(names)
	assert.Equal(t, []string{"classes.dex", "classes2.dex", "classes10.dex"}, names)
}

func TestMerge(t *testing.T) {
	base := writeClasses(t, 35, sampleClass("Lbase/Main;", "hello"))
	feature := writeClasses(t, 35, sampleClass("Lfeature/Screen;", "hello"))

	t.Run("merges one dex per module", func(t *testing.T) {
		modules := [][]Input{
			{{Module: "base", Name: "classes.dex", Data: base}},
			nil,
			{{Module: "feature", Name: "classes.dex", Data: feature}},
		}
		require.True(t, CanMerge(modules))
		res, err := Merge(context.Background(), modules, parallel.DefaultPoolConfig(), nil)
		require.NoError(t, err)
		assert.True(t, res.Merged)
		require.Len(t, res.Outputs, 1)
		assert.Equal(t, "classes.dex", res.Outputs[0].Name)
		assert.Equal(t, 2, res.Stats.Classes)

		f, err := Read(res.Outputs[0].Data)
		require.NoError(t, err)
		assert.Len(t, f.Classes, 2)

		reversed := [][]Input{modules[2], modules[0]}
		again, err := Merge(context.Background(), reversed, parallel.DefaultPoolConfig(), nil)
		require.NoError(t, err)
		assert.Equal(t, res.Outputs[0].Data, again.Outputs[0].Data)
	})

	t.Run("passes multidex through", func(t *testing.T) {
		modules := [][]Input{
			{{Module: "base", Name: "classes.dex", Data: base}, {Module: "base", Name: "classes2.dex", Data: feature}},
			{{Module: "feature", Name: "classes.dex", Data: feature}},
		}
		require.False(t, CanMerge(modules))
		res, err := Merge(context.Background(), modules, parallel.PoolConfig{}, nil)
		require.NoError(t, err)
		assert.False(t, res.Merged)
		require.Len(t, res.Outputs, 3)
		assert.Equal(t, "classes3.dex", res.Outputs[2].Name)
		assert.Equal(t, "feature/classes.dex", res.Outputs[2].Source)
	})

	t.Run("duplicate class across modules", func(t *testing.T) {
		modules := [][]Input{
			{{Module: "base", Name: "classes.dex", Data: base}},
			{{Module: "copy", Name: "classes.dex", Data: base}},
		}
		_, err := Merge(context.Background(), modules, parallel.PoolConfig{}, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsStructuralConflict(err))
	})

	t.Run("corrupt input names module", func(t *testing.T) {
		modules := [][]Input{
			{{Module: "base", Name: "classes.dex", Data: base}},
			{{Module: "broken", Name: "classes.dex", Data: []byte("dex\n035\x00")}},
		}
		_, err := Merge(context.Background(), modules, parallel.PoolConfig{}, nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsFormatError(err))
		assert.Contains(t, err.Error(), "broken/classes.dex")
	})
}

func TestFileStats(t *testing.T) {
	f, err := Read(writeClasses(t, 35, sampleClass("La;", "x")))
	require.NoError(t, err)
	s := FileStats(f)
	assert.Equal(t, 1, s.Classes)
	assert.Equal(t, 4, s.Methods)
	assert.Equal(t, 2, s.Fields)
}
