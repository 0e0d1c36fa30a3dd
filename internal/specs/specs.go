// Package specs groups flat label/value specifications into titled categories.
package specs

import (
	"sort"
	"strings"

	"github.com/maltedev/phone-spec-scraper/internal/models"
)

// GeneralTitle collects keys that match no category.
const GeneralTitle = "General"

type Category struct {
	Title    string
	Keywords []string
}

// Categories are tried in order; a key joins the first category with a
// keyword contained in it.
var Categories = []Category{
	{Title: "Display", Keywords: []string{"Display", "Screen", "Resolution", "Size", "Type", "Protection"}},
	{Title: "Platform", Keywords: []string{"OS", "Chipset", "CPU", "GPU", "Platform"}},
	{Title: "Memory", Keywords: []string{"RAM", "Memory", "Internal", "Storage", "Card slot"}},
	{Title: "Main Camera", Keywords: []string{"Main camera", "Camera", "Video"}},
	{Title: "Selfie Camera", Keywords: []string{"Selfie camera", "Front camera"}},
	{Title: "Sound", Keywords: []string{"Loudspeaker", "3.5mm jack", "Sound"}},
	{Title: "Comms", Keywords: []string{"WLAN", "Bluetooth", "GPS", "NFC", "Radio", "USB"}},
	{Title: "Battery", Keywords: []string{"Battery", "Charging"}},
	{Title: "Misc", Keywords: []string{"Colors", "Models", "SAR", "Price"}},
}

// CategoryFor returns the title of the category key belongs to.
func CategoryFor(key string) string {
	lower := strings.ToLower(key)
	for _, c := range Categories {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return c.Title
			}
		}
	}
	return GeneralTitle
}

// Categorize turns flat specs into categories in declaration order with
// General last. Empty categories are omitted and keys are sorted within
// each category.
func Categorize(flat map[string]string) []models.SpecCategory {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	grouped := make(map[string][]models.SpecDetail)
	for _, k := range keys {
		title := CategoryFor(k)
		grouped[title] = append(grouped[title], models.SpecDetail{Property: k, Value: flat[k]})
	}

	out := make([]models.SpecCategory, 0, len(grouped))
	for _, c := range Categories {
		if details, ok := grouped[c.Title]; ok {
			out = append(out, models.SpecCategory{Title: c.Title, Details: details})
		}
	}
	if details, ok := grouped[GeneralTitle]; ok {
		out = append(out, models.SpecCategory{Title: GeneralTitle, Details: details})
	}
	return out
}

// Flatten merges categories back into label/value pairs. Later duplicates win.
func Flatten(categories []models.SpecCategory) map[string]string {
	flat := make(map[string]string)
	for _, c := range categories {
		for _, d := range c.Details {
			flat[d.Property] = d.Value
		}
	}
	return flat
}
