package model

import "strings"

// SplitKind classifies a split APK by the device dimension it targets.
type SplitKind int

const (
	SplitBase SplitKind = iota
	SplitDensity
	SplitABI
	SplitLang
	SplitOther
)

// String returns the string representation of SplitKind.
func (k SplitKind) String() string {
	switch k {
	case SplitBase:
		return "base"
	case SplitDensity:
		return "density"
	case SplitABI:
		return "abi"
	case SplitLang:
		return "lang"
	default:
		return "other"
	}
}

// DeviceSpec describes the device that split selection targets.
// ABIs are in preference order using the platform spelling ("arm64-v8a").
type DeviceSpec struct {
	ABIs    []string `json:"abis" yaml:"abis" mapstructure:"abis"`
	Density int      `json:"density" yaml:"density" mapstructure:"density"`
	Locales []string `json:"locales" yaml:"locales" mapstructure:"locales"`
}

// Languages returns the lower-cased language part of every locale,
// "en-US" and "en_US" both yielding "en".
func (d DeviceSpec) Languages() []string {
	langs := make([]string, 0, len(d.Locales))
	seen := make(map[string]bool)
	for _, l := range d.Locales {
		lang := strings.ToLower(l)
		if i := strings.IndexAny(lang, "-_"); i >= 0 {
			lang = lang[:i]
		}
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		langs = append(langs, lang)
	}
	return langs
}

// IsZero reports whether no device dimension was given.
func (d DeviceSpec) IsZero() bool {
	return len(d.ABIs) == 0 && d.Density == 0 && len(d.Locales) == 0
}
