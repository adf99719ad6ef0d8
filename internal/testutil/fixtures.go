// Package testutil builds APK, bundle, manifest, resource table and dex
// fixtures in memory for tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antisplit/internal/archive"
	"github.com/antisplit/internal/arsc"
	"github.com/antisplit/internal/axml"
	"github.com/antisplit/internal/dex"
	"github.com/antisplit/pkg/compression"
	"github.com/antisplit/pkg/parallel"
)

// Framework attribute ids used by fixture manifests.
const (
	AttrName               uint32 = 0x01010003
	AttrValue              uint32 = 0x01010024
	AttrVersionCode        uint32 = 0x0101021b
	AttrIsSplitRequired    uint32 = 0x01010591
	AttrRequiredSplitTypes uint32 = 0x0101064e
	AttrSplitTypes         uint32 = 0x0101064f
)

// StringTypeID is the resource type id of string resources in fixture tables.
const StringTypeID uint8 = 1

// ManifestSpec describes a fixture AndroidManifest.xml.
type ManifestSpec struct {
	Package string
	// Split is the split name, empty for the base.
	Split              string
	VersionCode        uint32
	SplitRequired      bool
	RequiredSplitTypes string
	MetaData           []string
}

// Manifest builds a manifest document.
func Manifest(spec ManifestSpec) *axml.Document {
	b := axml.NewBuilder().Namespace("android", axml.AndroidNS)
	attrs := []axml.Attr{
		axml.IntAttr(axml.AndroidNS, "versionCode", AttrVersionCode, spec.VersionCode),
	}
	if spec.RequiredSplitTypes != "" {
		attrs = append(attrs,
			axml.StringAttr(axml.AndroidNS, "requiredSplitTypes", AttrRequiredSplitTypes, spec.RequiredSplitTypes),
			axml.StringAttr(axml.AndroidNS, "splitTypes", AttrSplitTypes, spec.RequiredSplitTypes))
	}
	attrs = append(attrs, axml.StringAttr("", "package", 0, spec.Package))
	if spec.Split != "" {
		attrs = append(attrs, axml.StringAttr("", "split", 0, spec.Split))
	}
	b.Start("manifest", attrs...)

	var appAttrs []axml.Attr
	if spec.SplitRequired {
		appAttrs = append(appAttrs, axml.BoolAttr(axml.AndroidNS, "isSplitRequired", AttrIsSplitRequired, true))
	}
	b.Start("application", appAttrs...)
	for _, name := range spec.MetaData {
		b.Start("meta-data",
			axml.StringAttr(axml.AndroidNS, "name", AttrName, name),
			axml.StringAttr(axml.AndroidNS, "value", AttrValue, "1"))
		b.End()
	}
	b.End()
	b.End()
	return b.Build()
}

// ManifestBytes encodes the manifest described by spec.
func ManifestBytes(t testing.TB, spec ManifestSpec) []byte {
	t.Helper()
	data, err := Manifest(spec).Encode()
	require.NoError(t, err)
	return data
}

// ResString is one string resource. Locale and Density qualify its
// configuration; both empty means the default configuration.
type ResString struct {
	Index   int
	Key     string
	Value   string
	Locale  string
	Density uint16
}

// ResourceTable builds a table holding the given string resources in
// package 0x7f.
func ResourceTable(pkg string, strs ...ResString) *arsc.Table {
	table := arsc.NewTable()
	p := arsc.NewPackage(0x7f, pkg)
	table.AddPackage(p)
	p.DefineType(StringTypeID, "string")
	for _, s := range strs {
		cfg := arsc.NewConfig()
		switch {
		case s.Locale != "":
			cfg = arsc.LocaleConfig(s.Locale, "")
		case s.Density != 0:
			cfg = arsc.DensityConfig(s.Density)
		}
		typ := p.ConfigType(StringTypeID, cfg)
		table.PutString(p, typ, s.Index, s.Key, s.Value)
	}
	return table
}

// ResourceBytes encodes the table built by ResourceTable.
func ResourceBytes(t testing.TB, pkg string, strs ...ResString) []byte {
	t.Helper()
	data, err := ResourceTable(pkg, strs...).Encode()
	require.NoError(t, err)
	return data
}

// DexClass returns a class extending java.lang.Object with a constructor
// and one void method per name, each returning immediately.
func DexClass(desc string, methods ...string) *dex.Class {
	void := &dex.Proto{Return: "V"}
	c := &dex.Class{
		Type:   desc,
		Access: 0x1,
		Super:  "Ljava/lang/Object;",
		DirectMethods: []*dex.Method{{
			Ref:    &dex.MethodRef{Class: desc, Name: "<init>", Proto: void},
			Access: 0x10001,
			Code: &dex.Code{
				Registers: 1, Ins: 1, Outs: 1,
				Insns: []uint16{0x1070, 0, 0x0000, 0x000e},
				Refs: []dex.InsnRef{{Slot: 1, Kind: dex.RefMethod,
					Method: &dex.MethodRef{Class: "Ljava/lang/Object;", Name: "<init>", Proto: void}}},
			},
		}},
	}
	for _, name := range methods {
		c.VirtualMethods = append(c.VirtualMethods, &dex.Method{
			Ref:    &dex.MethodRef{Class: desc, Name: name, Proto: void},
			Access: 0x1,
			Code:   &dex.Code{Registers: 1, Ins: 1, Insns: []uint16{0x000e}},
		})
	}
	return c
}

// DexBytes encodes the classes as one dex file.
func DexBytes(t testing.TB, classes ...*dex.Class) []byte {
	t.Helper()
	p := dex.NewClassPool(parallel.DefaultPoolConfig())
	require.NoError(t, p.Intern(&dex.File{Version: 35, Classes: classes}))
	data, err := dex.Write(p)
	require.NoError(t, err)
	return data
}

// APKSpec describes a fixture APK.
type APKSpec struct {
	Manifest  ManifestSpec
	Resources []ResString
	// Dex holds encoded dex files, stored as classes.dex, classes2.dex, ...
	Dex   [][]byte
	Files []File
}

// File is an extra archive entry.
type File struct {
	Name   string
	Method compression.Method
	Data   []byte
}

// APK encodes spec as an APK archive.
func APK(t testing.TB, spec APKSpec) []byte {
	t.Helper()
	files := []File{{Name: "AndroidManifest.xml", Method: compression.Deflate, Data: ManifestBytes(t, spec.Manifest)}}
	if len(spec.Resources) > 0 {
		files = append(files, File{Name: "resources.arsc", Method: compression.Store,
			Data: ResourceBytes(t, spec.Manifest.Package, spec.Resources...)})
	}
	for i, d := range spec.Dex {
		files = append(files, File{Name: dex.EntryName(i), Method: compression.Deflate, Data: d})
	}
	files = append(files, spec.Files...)
	return Zip(t, files...)
}

// Zip writes files into an archive with default alignment.
func Zip(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := archive.NewWriter(&buf, archive.DefaultWriterOptions())
	for _, f := range files {
		require.NoError(t, w.WriteEntry(f.Name, f.Method, f.Data))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// WriteAPK writes the APK for spec to dir/name and returns its path.
func WriteAPK(t testing.TB, dir, name string, spec APKSpec) string {
	t.Helper()
	return WriteBytes(t, dir, name, APK(t, spec))
}

// WriteBundle writes a bundle archive holding the given APKs and returns
// its path.
func WriteBundle(t testing.TB, dir, name string, apks map[string][]byte, order ...string) string {
	t.Helper()
	files := make([]File, 0, len(order))
	for _, n := range order {
		files = append(files, File{Name: n, Method: compression.Store, Data: apks[n]})
	}
	files = append(files, File{Name: "manifest.json", Method: compression.Deflate, Data: []byte(`{"package_name":"fixture"}`)})
	return WriteBytes(t, dir, name, Zip(t, files...))
}

// WriteBytes writes data to dir/name and returns the path.
func WriteBytes(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SplitBundle is the bundle used across merge tests: a base with two
// classes and strings, an ABI split with a native library, a density split
// and two language splits.
func SplitBundle(t testing.TB) map[string][]byte {
	t.Helper()
	const pkg = "com.example.app"
	return map[string][]byte{
		"base.apk": APK(t, APKSpec{
			Manifest: ManifestSpec{Package: pkg, VersionCode: 1, SplitRequired: true, RequiredSplitTypes: "base__abi,base__density",
				MetaData: []string{"com.android.vending.splits.required", "com.android.stamp.source", "keep.me"}},
			Resources: []ResString{
				{Index: 0, Key: "app_name", Value: "Example"},
				{Index: 1, Key: "hello", Value: "Hello"},
			},
			Dex: [][]byte{DexBytes(t, DexClass("Lcom/example/Main;", "run"))},
			Files: []File{
				{Name: "res/layout/main.xml", Method: compression.Deflate, Data: []byte("layout")},
				{Name: "META-INF/CERT.SF", Method: compression.Deflate, Data: []byte("sig")},
				{Name: "META-INF/MANIFEST.MF", Method: compression.Deflate, Data: []byte("mf")},
			},
		}),
		"split_config.arm64_v8a.apk": APK(t, APKSpec{
			Manifest: ManifestSpec{Package: pkg, Split: "config.arm64_v8a"},
			Files:    []File{{Name: "lib/arm64-v8a/libapp.so", Method: compression.Store, Data: bytes.Repeat([]byte{0x7f}, 6000)}},
		}),
		"split_config.x86.apk": APK(t, APKSpec{
			Manifest: ManifestSpec{Package: pkg, Split: "config.x86"},
			Files:    []File{{Name: "lib/x86/libapp.so", Method: compression.Store, Data: bytes.Repeat([]byte{0x86}, 3000)}},
		}),
		"split_config.xxhdpi.apk": APK(t, APKSpec{
			Manifest:  ManifestSpec{Package: pkg, Split: "config.xxhdpi"},
			Resources: []ResString{{Index: 0, Key: "app_name", Value: "Example XXH", Density: 480}},
		}),
		"split_config.fr.apk": APK(t, APKSpec{
			Manifest:  ManifestSpec{Package: pkg, Split: "config.fr"},
			Resources: []ResString{{Index: 1, Key: "hello", Value: "Bonjour", Locale: "fr"}},
		}),
		"split_feature.apk": APK(t, APKSpec{
			Manifest: ManifestSpec{Package: pkg, Split: "feature"},
			Dex:      [][]byte{DexBytes(t, DexClass("Lcom/example/feature/Feature;", "open"))},
		}),
	}
}

// SplitBundleOrder lists the SplitBundle entries in archive order.
var SplitBundleOrder = []string{
	"base.apk",
	"split_config.arm64_v8a.apk",
	"split_config.x86.apk",
	"split_config.xxhdpi.apk",
	"split_config.fr.apk",
	"split_feature.apk",
}
