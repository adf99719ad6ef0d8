package apk

import (
	"sort"
	"strings"

	"github.com/antisplit/pkg/model"
)

// Density is a screen density bucket.
type Density struct {
	Name string
	DPI  int
}

// Densities lists the density buckets in increasing order.
var Densities = []Density{
	{"ldpi", 120},
	{"mdpi", 160},
	{"tvdpi", 213},
	{"hdpi", 240},
	{"xhdpi", 320},
	{"xxhdpi", 480},
	{"xxxhdpi", 640},
}

var knownABIs = map[string]string{
	"armeabi":     "armeabi",
	"armeabi_v7a": "armeabi-v7a",
	"arm64_v8a":   "arm64-v8a",
	"x86":         "x86",
	"x86_64":      "x86_64",
	"mips":        "mips",
	"mips64":      "mips64",
	"riscv64":     "riscv64",
}

// NormalizeSplitName turns a split file name such as
// "split_config.arm64_v8a.apk" into its split name "config.arm64_v8a".
func NormalizeSplitName(name string) string {
	name = strings.TrimSuffix(name, ".apk")
	name = strings.TrimPrefix(name, "split_")
	return name
}

// Classify returns the kind of a split and its qualifier: the ABI in
// platform spelling, the density bucket or the language code.
func Classify(name string) (model.SplitKind, string) {
	name = NormalizeSplitName(name)
	if name == "" || name == "base" {
		return model.SplitBase, ""
	}
	i := strings.LastIndex(name, "config.")
	if i < 0 || (i > 0 && name[i-1] != '.') {
		return model.SplitOther, ""
	}
	q := name[i+len("config."):]
	if abi, ok := knownABIs[q]; ok {
		return model.SplitABI, abi
	}
	for _, d := range Densities {
		if q == d.Name {
			return model.SplitDensity, q
		}
	}
	if isLanguage(q) {
		return model.SplitLang, strings.ToLower(q)
	}
	return model.SplitOther, ""
}

// isLanguage accepts two or three letter codes, optionally followed by a
// region such as "pt_BR" or "en-rGB".
func isLanguage(q string) bool {
	lang := q
	if i := strings.IndexAny(q, "_-"); i >= 0 {
		lang = q[:i]
	}
	if len(lang) < 2 || len(lang) > 3 {
		return false
	}
	for _, c := range lang {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

func languageOf(q string) string {
	if i := strings.IndexAny(q, "_-"); i >= 0 {
		return q[:i]
	}
	return q
}

// NearestDensity returns the bucket closest to dpi, preferring the higher
// bucket on a tie.
func NearestDensity(dpi int) string {
	best := Densities[0]
	bestDist := -1
	for _, d := range Densities {
		dist := d.DPI - dpi
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist || (dist == bestDist && d.DPI > best.DPI) {
			best, bestDist = d, dist
		}
	}
	return best.Name
}

// SelectOptions overrides device-based selection.
type SelectOptions struct {
	// All keeps every split.
	All bool
	// Names, when set, keeps the base and exactly the named splits.
	Names []string
}

// Selection is the outcome of SelectSplits. Both lists keep input order.
type Selection struct {
	Kept    []*Module
	Skipped []*Module
}

// SelectSplits picks the splits to merge for device.
//
// The base and splits of kind other are always kept. For ABI splits the
// first device ABI with a split wins; without any match every ABI split is
// kept. For density the split of the bucket nearest the device density is
// kept, falling back to hdpi. Language splits are kept when their language
// is one of the device languages, or all of them when the device names no
// locale.
func SelectSplits(modules []*Module, device model.DeviceSpec, opts SelectOptions) Selection {
	keep := make(map[*Module]bool, len(modules))
	switch {
	case opts.All:
		for _, m := range modules {
			keep[m] = true
		}
	case len(opts.Names) > 0:
		names := map[string]bool{}
		for _, n := range opts.Names {
			names[NormalizeSplitName(n)] = true
		}
		for _, m := range modules {
			keep[m] = m.Kind == model.SplitBase || names[m.Name]
		}
	default:
		selectForDevice(modules, device, keep)
	}

	var sel Selection
	for _, m := range modules {
		if keep[m] {
			sel.Kept = append(sel.Kept, m)
		} else {
			sel.Skipped = append(sel.Skipped, m)
		}
	}
	return sel
}

func selectForDevice(modules []*Module, device model.DeviceSpec, keep map[*Module]bool) {
	byKind := map[model.SplitKind][]*Module{}
	for _, m := range modules {
		byKind[m.Kind] = append(byKind[m.Kind], m)
	}
	for _, m := range byKind[model.SplitBase] {
		keep[m] = true
	}
	for _, m := range byKind[model.SplitOther] {
		keep[m] = true
	}

	abis := byKind[model.SplitABI]
	matched := false
	for _, want := range device.ABIs {
		for _, m := range abis {
			if m.Qualifier == want {
				keep[m] = true
				matched = true
			}
		}
		if matched {
			break
		}
	}
	if !matched {
		for _, m := range abis {
			keep[m] = true
		}
	}

	densities := byKind[model.SplitDensity]
	if len(densities) > 0 {
		target := ""
		if device.Density > 0 {
			target = NearestDensity(device.Density)
		}
		if !hasQualifier(densities, target) {
			target = "hdpi"
		}
		for _, m := range densities {
			if m.Qualifier == target {
				keep[m] = true
			}
		}
	}

	langs := device.Languages()
	for _, m := range byKind[model.SplitLang] {
		if len(langs) == 0 {
			keep[m] = true
			continue
		}
		for _, l := range langs {
			if languageOf(m.Qualifier) == l {
				keep[m] = true
			}
		}
	}
}

func hasQualifier(modules []*Module, q string) bool {
	for _, m := range modules {
		if m.Qualifier == q {
			return true
		}
	}
	return false
}

// BaseFirst moves base modules to the front, keeping the order of the rest.
func BaseFirst(modules []*Module) {
	sort.SliceStable(modules, func(i, j int) bool {
		return modules[i].Kind == model.SplitBase && modules[j].Kind != model.SplitBase
	})
}
