package apk

import (
	"strings"

	"github.com/antisplit/internal/axml"
)

// Framework attribute ids.
const (
	AttrName               uint32 = 0x01010003
	AttrIsSplitRequired    uint32 = 0x01010591
	AttrRequiredSplitTypes uint32 = 0x0101064e
	AttrSplitTypes         uint32 = 0x0101064f
)

var splitAttrs = map[uint32]string{
	AttrIsSplitRequired:    "isSplitRequired",
	AttrRequiredSplitTypes: "requiredSplitTypes",
	AttrSplitTypes:         "splitTypes",
}

var splitMetaData = map[string]bool{
	"com.android.vending.splits.required": true,
	"com.android.vending.splits":          true,
	"com.android.vending.derived.apk.id":  true,
}

const stampMetaDataPrefix = "com.android.stamp."

// SanitizeStats counts what SanitizeManifest removed.
type SanitizeStats struct {
	Attributes int `json:"attributes" yaml:"attributes"`
	MetaData   int `json:"meta_data" yaml:"meta_data"`
}

// SanitizeManifest strips the split declarations from a base manifest so the
// merged APK installs on its own.
func SanitizeManifest(doc *axml.Document) SanitizeStats {
	var stats SanitizeStats
	root := doc.Root()
	if root == nil {
		return stats
	}

	for _, e := range doc.Elements() {
		stats.Attributes += e.RemoveAttributes(func(a *axml.Attribute) bool {
			if id := doc.AttributeID(a); id != 0 {
				_, ok := splitAttrs[id]
				return ok
			}
			return a.Name != nil && isSplitAttrName(a.Name.Value())
		})
	}
	stats.Attributes += root.RemoveAttributes(func(a *axml.Attribute) bool {
		return a.Namespace == nil && a.Name != nil && a.Name.Value() == "split"
	})

	for _, e := range doc.FindElements("manifest", "application", "meta-data") {
		name := metaDataName(doc, e)
		if splitMetaData[name] || strings.HasPrefix(name, stampMetaDataPrefix) {
			if doc.RemoveElement(e) {
				stats.MetaData++
			}
		}
	}
	return stats
}

func isSplitAttrName(name string) bool {
	for _, n := range splitAttrs {
		if n == name {
			return true
		}
	}
	return false
}

func metaDataName(doc *axml.Document, e *axml.StartElement) string {
	a := doc.AttrByID(e, AttrName)
	if a == nil {
		a = e.Attr("name")
	}
	return axml.AttributeString(a)
}
