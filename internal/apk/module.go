// Package apk models the APK modules of a split bundle: opening them,
// classifying and selecting splits, and cleaning up the merged manifest.
package apk

import (
	"path/filepath"
	"sync"

	"github.com/antisplit/internal/archive"
	"github.com/antisplit/internal/arsc"
	"github.com/antisplit/internal/axml"
	"github.com/antisplit/internal/dex"
	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/model"
)

const (
	ManifestEntry  = "AndroidManifest.xml"
	ResourcesEntry = "resources.arsc"
)

// Module is one opened APK of a bundle.
type Module struct {
	// Name is the split name from the manifest, "base" for the base APK.
	Name      string
	Path      string
	Kind      model.SplitKind
	Qualifier string
	Archive   *archive.Reader
	Manifest  *axml.Document

	tableOnce sync.Once
	table     *arsc.Table
	tableErr  error
}

// OpenModule opens the APK at path and decodes its manifest.
func OpenModule(path string) (*Module, error) {
	r, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := newModule(path, r)
	if err != nil {
		r.Close()
		return nil, err
	}
	return m, nil
}

// OpenModuleBytes opens an in-memory APK. name is used in error messages.
func OpenModuleBytes(name string, data []byte) (*Module, error) {
	r, err := archive.OpenBytes(data)
	if err != nil {
		return nil, err
	}
	return newModule(name, r)
}

func newModule(path string, r *archive.Reader) (*Module, error) {
	raw, err := r.ReadFile(ManifestEntry)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeFormatError, err, "%s: missing %s", filepath.Base(path), ManifestEntry)
	}
	doc, err := axml.Decode(raw)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeFormatError, err, "%s: %s", filepath.Base(path), ManifestEntry)
	}

	m := &Module{Path: path, Archive: r, Manifest: doc, Name: "base"}
	if root := doc.Root(); root != nil {
		if split := axml.AttributeString(root.Attr("split")); split != "" {
			m.Name = split
		}
	}
	m.Kind, m.Qualifier = Classify(m.Name)
	return m, nil
}

// PackageName returns the manifest package attribute.
func (m *Module) PackageName() string {
	if root := m.Manifest.Root(); root != nil {
		return axml.AttributeString(root.Attr("package"))
	}
	return ""
}

// HasResources reports whether the module carries a resource table.
func (m *Module) HasResources() bool {
	return m.Archive.Entry(ResourcesEntry) != nil
}

// Table decodes resources.arsc on first use. It returns nil, nil when the
// module has no resource table.
func (m *Module) Table() (*arsc.Table, error) {
	m.tableOnce.Do(func() {
		if !m.HasResources() {
			return
		}
		raw, err := m.Archive.ReadFile(ResourcesEntry)
		if err != nil {
			m.tableErr = err
			return
		}
		m.table, m.tableErr = arsc.Decode(raw)
		if m.tableErr != nil {
			m.tableErr = apperrors.Wrapf(apperrors.CodeFormatError, m.tableErr, "%s: %s", m.Name, ResourcesEntry)
		}
	})
	return m.table, m.tableErr
}

// DexEntries returns the module's classesN.dex entries in numeric order.
func (m *Module) DexEntries() []*archive.Entry {
	entries := m.Archive.Match(dex.IsDexEntry)
	byName := make(map[string]*archive.Entry, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
		names = append(names, e.Name)
	}
	dex.SortEntries(names)
	out := make([]*archive.Entry, len(names))
	for i, n := range names {
		out[i] = byName[n]
	}
	return out
}

// DexInputs reads every dex file of the module.
func (m *Module) DexInputs() ([]dex.Input, error) {
	var inputs []dex.Input
	for _, e := range m.DexEntries() {
		data, err := e.Read()
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, dex.Input{Module: m.Name, Name: e.Name, Data: data})
	}
	return inputs, nil
}

// Close releases the archive.
func (m *Module) Close() error {
	if m.Archive == nil {
		return nil
	}
	return m.Archive.Close()
}
