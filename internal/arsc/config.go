package arsc

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/antisplit/internal/chunk"
)

// ConfigSize is the ResTable_config size written by current build tools.
const ConfigSize = 64

const (
	configLanguageOff = 8
	configCountryOff  = 10
	configDensityOff  = 14
)

// NewConfig returns a default (all wildcard) configuration.
func NewConfig() []byte {
	cfg := make([]byte, ConfigSize)
	binary.LittleEndian.PutUint32(cfg, ConfigSize)
	return cfg
}

// DensityConfig returns a configuration qualified by screen density only.
func DensityConfig(dpi uint16) []byte {
	cfg := NewConfig()
	binary.LittleEndian.PutUint16(cfg[configDensityOff:], dpi)
	return cfg
}

// LocaleConfig returns a configuration qualified by a two-letter language
// and optional two-letter region.
func LocaleConfig(language, region string) []byte {
	cfg := NewConfig()
	copy(cfg[configLanguageOff:configLanguageOff+2], language)
	copy(cfg[configCountryOff:configCountryOff+2], region)
	return cfg
}

// DescribeConfig renders the qualifiers of a configuration that this
// package understands, "default" when none are set.
func DescribeConfig(cfg []byte) string {
	var parts []string
	if len(cfg) >= configCountryOff+2 {
		if lang := strings.TrimRight(string(cfg[configLanguageOff:configLanguageOff+2]), "\x00"); lang != "" {
			parts = append(parts, lang)
		}
		if region := strings.TrimRight(string(cfg[configCountryOff:configCountryOff+2]), "\x00"); region != "" {
			parts = append(parts, "r"+region)
		}
	}
	if len(cfg) >= configDensityOff+2 {
		if dpi := binary.LittleEndian.Uint16(cfg[configDensityOff:]); dpi != 0 {
			parts = append(parts, densityQualifier(dpi))
		}
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, "-")
}

func densityQualifier(dpi uint16) string {
	switch dpi {
	case 120:
		return "ldpi"
	case 160:
		return "mdpi"
	case 213:
		return "tvdpi"
	case 240:
		return "hdpi"
	case 320:
		return "xhdpi"
	case 480:
		return "xxhdpi"
	case 640:
		return "xxxhdpi"
	case 0xFFFE:
		return "anydpi"
	case 0xFFFF:
		return "nodpi"
	default:
		return fmt.Sprintf("%ddpi", dpi)
	}
}

// DefineType names type id and returns its spec, creating it when needed.
// Ids must be defined in increasing order from 1.
func (p *Package) DefineType(id uint8, name string) *TypeSpec {
	for p.TypeStrings.Len() < int(id)-int(p.TypeIDOffset) {
		p.TypeStrings.InsertAt(p.TypeStrings.Len(), name)
	}
	if uint32(p.TypeStrings.Len()) > p.LastPublicType {
		p.LastPublicType = uint32(p.TypeStrings.Len())
	}
	if s := p.Spec(id); s != nil {
		return s
	}
	s := &TypeSpec{ID: id}
	p.Chunks.Add(s)
	return s
}

// ConfigType returns the Type of id for cfg, appending a new one after the
// existing Types of id when absent.
func (p *Package) ConfigType(id uint8, cfg []byte) *Type {
	probe := &Type{ID: id, Config: cfg}
	at := -1
	for i, c := range p.Chunks.Items() {
		switch c := c.(type) {
		case *Type:
			if c.SameConfig(probe) {
				return c
			}
			if c.ID == id {
				at = i + 1
			}
		case *TypeSpec:
			if c.ID == id && at < 0 {
				at = i + 1
			}
		}
	}
	t := &Type{ID: id, Config: append([]byte(nil), cfg...)}
	if at < 0 {
		p.Chunks.Add(t)
	} else {
		p.Chunks.Insert(at, t)
	}
	return t
}

// Put stores a simple entry at index of typ. String values are given as
// Value.Str == nil with DataType DataString and the text in str.
func (t *Table) Put(p *Package, typ *Type, index int, key string, v chunk.Value, str string) *Entry {
	if v.DataType == chunk.DataString && v.Str == nil {
		v.Str = t.Strings.Intern(str)
	}
	e := &Entry{Key: p.KeyStrings.Intern(key), Value: v}
	typ.Grow(index + 1)
	typ.Entries[index] = e
	if spec := p.Spec(typ.ID); spec != nil {
		spec.Grow(index + 1)
	}
	return e
}

// PutString stores a string entry.
func (t *Table) PutString(p *Package, typ *Type, index int, key, value string) *Entry {
	return t.Put(p, typ, index, key, chunk.Value{DataType: chunk.DataString}, value)
}
