package discovery

import (
	"strings"

	"github.com/HerbHall/tvremote/pkg/models"
)

// brandKeywords is checked in order; the first keyword found wins.
var brandKeywords = []struct {
	keyword string
	brand   models.Brand
}{
	{"samsung", models.BrandSamsung},
	{"lg", models.BrandLG},
	{"sony", models.BrandSony},
	{"hisense", models.BrandHisense},
	{"philips", models.BrandPhilips},
	{"panasonic", models.BrandPanasonic},
	{"tcl", models.BrandTCL},
	{"roku", models.BrandRoku},
}

// InferBrand guesses brand and platform from free-text fields such as the
// manufacturer, friendly name and SSDP headers.
func InferBrand(fields ...string) (models.Brand, models.Platform) {
	combined := strings.ToLower(strings.Join(fields, " "))
	for _, k := range brandKeywords {
		if strings.Contains(combined, k.keyword) {
			return k.brand, models.PlatformForBrand(k.brand)
		}
	}
	return models.BrandUnknown, models.PlatformUnknown
}

// Description is the subset of a UPnP device description we use.
type Description struct {
	FriendlyName string
	Manufacturer string
	ModelName    string
}

// ParseDescription pulls fields out of a UPnP description document.
// Descriptions are small and regular, so the first occurrence of each tag
// is taken without a full XML parse.
func ParseDescription(doc []byte) Description {
	s := string(doc)
	return Description{
		FriendlyName: extractTag(s, "friendlyName"),
		Manufacturer: extractTag(s, "manufacturer"),
		ModelName:    extractTag(s, "modelName"),
	}
}

// extractTag returns the text between the first <tag> and the </tag> after it.
func extractTag(doc, tag string) string {
	open := "<" + tag + ">"
	start := strings.Index(doc, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(doc[start:], "</"+tag+">")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(doc[start : start+end])
}
