package axml

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antisplit/internal/chunk"
	apperrors "github.com/antisplit/pkg/errors"
)

const (
	attrVersionCode uint32 = 0x0101021b
	attrIsSplitReq  uint32 = 0x01010591
	attrName        uint32 = 0x01010003
	attrValue       uint32 = 0x01010024
)

func sampleManifest() *Document {
	b := NewBuilder().Namespace("android", AndroidNS)
	b.Start("manifest",
		IntAttr(AndroidNS, "versionCode", attrVersionCode, 42),
		BoolAttr(AndroidNS, "isSplitRequired", attrIsSplitReq, true),
		StringAttr("", "package", 0, "com.example.app"),
	)
	b.Start("application")
	b.Start("meta-data",
		StringAttr(AndroidNS, "name", attrName, "com.android.vending.splits.required"),
		BoolAttr(AndroidNS, "value", attrValue, true),
	)
	b.End()
	b.Start("activity", StringAttr(AndroidNS, "name", attrName, ".Main"))
	b.End()
	return b.Build()
}

func TestDocument_RoundTrip(t *testing.T) {
	doc := sampleManifest()
	data, err := doc.Encode()
	require.NoError(t, err)
	assert.Equal(t, doc.CountBytes(), len(data))

	decoded, err := Decode(data)
	require.NoError(t, err)

	again, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	root := decoded.Root()
	require.NotNil(t, root)
	assert.Equal(t, "manifest", root.TagName())
	assert.Equal(t, "com.example.app", AttributeString(root.Attr("package")))
	assert.Equal(t, uint32(42), decoded.AttrByID(root, attrVersionCode).Value.Data)
}

func TestDocument_ResourceMapPrefix(t *testing.T) {
	doc := sampleManifest()
	require.Len(t, doc.ResourceMap, 4)
	for i, id := range doc.ResourceMap {
		name := doc.Strings.Get(i)
		require.NotNil(t, name)
		switch id {
		case attrVersionCode:
			assert.Equal(t, "versionCode", name.Value())
		case attrName:
			assert.Equal(t, "name", name.Value())
		}
	}
}

func TestDocument_LateBinding(t *testing.T) {
	doc := sampleManifest()
	root := doc.Root()
	pkg := root.Attr("package")
	before := doc.Strings.Ref(pkg.RawValue)

	// Strings inserted before the raw value shift its index; the written
	// reference must follow.
	doc.Strings.InsertAt(0, "zzz")
	doc.ResourceMap = append([]uint32{0x01010000}, doc.ResourceMap...)
	assert.Equal(t, before+1, doc.Strings.Ref(pkg.RawValue))

	data, err := doc.Encode()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", AttributeString(decoded.Root().Attr("package")))
}

func TestDocument_RenameString(t *testing.T) {
	doc := sampleManifest()
	doc.Root().Attr("package").RawValue.SetValue("org.renamed")

	data, err := doc.Encode()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "org.renamed", AttributeString(decoded.Root().Attr("package")))
}

func TestStartElement_RemoveAttributes(t *testing.T) {
	doc := sampleManifest()
	root := doc.Root()
	root.IDAttr = root.Attr("package")
	size := doc.CountBytes()

	n := root.RemoveAttributes(func(a *Attribute) bool {
		return doc.AttributeID(a) == attrIsSplitReq
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, size-attributeSize, doc.CountBytes())
	assert.Nil(t, doc.AttrByID(root, attrIsSplitReq))

	data, err := doc.Encode()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	droot := decoded.Root()
	assert.Len(t, droot.Attributes, 2)
	require.NotNil(t, droot.IDAttr)
	assert.Equal(t, "package", droot.IDAttr.Name.Value())

	t.Run("clears special slot", func(t *testing.T) {
		droot.RemoveAttributes(func(a *Attribute) bool { return a == droot.IDAttr })
		assert.Nil(t, droot.IDAttr)
	})
}

func TestDocument_Tree(t *testing.T) {
	doc := sampleManifest()
	root := doc.Root()

	apps := doc.Children(root)
	require.Len(t, apps, 1)
	assert.Equal(t, "application", apps[0].TagName())

	kids := doc.Children(apps[0])
	require.Len(t, kids, 2)
	assert.Equal(t, "meta-data", kids[0].TagName())
	assert.Equal(t, "activity", kids[1].TagName())

	metas := doc.FindElements("manifest", "application", "meta-data")
	require.Len(t, metas, 1)
	assert.Empty(t, doc.FindElements("application"))

	before := doc.Nodes.Len()
	assert.True(t, doc.RemoveElement(metas[0]))
	assert.Equal(t, before-2, doc.Nodes.Len())
	assert.False(t, doc.RemoveElement(metas[0]))
	assert.Len(t, doc.Children(apps[0]), 1)

	data, err := doc.Encode()
	require.NoError(t, err)
	_, err = Decode(data)
	require.NoError(t, err)
}

func TestDocument_WriteXML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleManifest().WriteXML(&buf))
	out := buf.String()
	assert.Contains(t, out, `<manifest xmlns:android="`+AndroidNS+`"`)
	assert.Contains(t, out, `android:versionCode="42"`)
	assert.Contains(t, out, `package="com.example.app"`)
	assert.Contains(t, out, "  <application>")
	assert.Contains(t, out, "</manifest>")
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data func() []byte
	}{
		{"empty", func() []byte { return nil }},
		{"wrong root", func() []byte {
			data, _ := sampleManifest().Encode()
			out := append([]byte(nil), data...)
			out[0] = byte(chunk.TypeTable)
			return out
		}},
		{"truncated", func() []byte {
			data, _ := sampleManifest().Encode()
			return data[:len(data)-10]
		}},
		{"mismatched end element", func() []byte {
			return closeWith(t, "application")
		}},
		{"end element in other namespace", func() []byte {
			return closeWith(t, AndroidNS)
		}},
		{"node before pool", func() []byte {
			data, _ := sampleManifest().Encode()
			out := append([]byte(nil), data...)
			// turn the string pool into an end-namespace tag
			out[8] = byte(chunk.TypeXMLEndNamespace & 0xff)
			out[9] = byte(chunk.TypeXMLEndNamespace >> 8)
			return out
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data())
			require.Error(t, err)
			assert.True(t, apperrors.IsFormatError(err), "got %v", err)
		})
	}
}

// closeWith encodes sampleManifest with the name of the last end element
// (closing <manifest>) pointed at the pool string v.
func closeWith(t *testing.T, v string) []byte {
	doc := sampleManifest()
	data, err := doc.Encode()
	require.NoError(t, err)
	ref := doc.Strings.Ref(doc.Strings.Find(v))
	require.NotEqual(t, chunk.NoIndex, ref)

	last := -1
	for off := chunk.HeaderSize; off+8 <= len(data); {
		if binary.LittleEndian.Uint16(data[off:]) == chunk.TypeXMLEndElement {
			last = off
		}
		off += int(binary.LittleEndian.Uint32(data[off+4:]))
	}
	require.GreaterOrEqual(t, last, 0)

	out := append([]byte(nil), data...)
	if v == AndroidNS {
		binary.LittleEndian.PutUint32(out[last+16:], ref)
	} else {
		binary.LittleEndian.PutUint32(out[last+20:], ref)
	}
	return out
}
