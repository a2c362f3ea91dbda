package reference

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// ReservedAttributePrefix is prepended by the commerce platform to global
// attribute slugs.
const ReservedAttributePrefix = "pa_"

// CategoryAttributeMapping lists the attributes a category's products use
type CategoryAttributeMapping struct {
	CategoryID int64       `json:"category_id"`
	Attributes []Attribute `json:"attributes"`
}

// AttributeTable maps a category slug to the attribute slugs it uses
type AttributeTable map[string][]string

// DefaultAttributeTable is the built-in category to attribute table
func DefaultAttributeTable() AttributeTable {
	return AttributeTable{
		"clothing":    {"color", "size", "material", "gender"},
		"shoes":       {"color", "size", "material", "gender"},
		"accessories": {"color", "material"},
		"electronics": {"brand", "model", "warranty", "color"},
		"phones":      {"brand", "model", "storage", "color", "warranty"},
		"computers":   {"brand", "model", "storage", "memory", "warranty"},
		"furniture":   {"material", "color", "dimensions"},
		"home-garden": {"material", "color", "dimensions"},
		"vehicles":    {"brand", "model", "year", "mileage", "fuel-type"},
		"real-estate": {"bedrooms", "bathrooms", "area", "furnished"},
		"books":       {"author", "language", "condition"},
		"sports":      {"brand", "size", "condition"},
		"toys":        {"age-range", "brand", "condition"},
		"beauty":      {"brand", "volume", "skin-type"},
	}
}

// LoadAttributeTable reads a YAML document of the form
//
//	clothing: [color, size]
//	phones: [brand, storage]
func LoadAttributeTable(r io.Reader) (AttributeTable, error) {
	var raw map[string][]string
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return AttributeTable{}, nil
		}
		return nil, fmt.Errorf("failed to decode attribute table: %w", err)
	}

	table := make(AttributeTable, len(raw))
	for category, attrs := range raw {
		key := strings.ToLower(strings.TrimSpace(category))
		for _, a := range attrs {
			table[key] = append(table[key], strings.ToLower(strings.TrimSpace(a)))
		}
	}
	return table, nil
}

// NormalizeAttributeSlug derives the key used to match an attribute against
// the table: the slug without the reserved prefix, else a slug derived from
// the name, else the raw slug.
func NormalizeAttributeSlug(a Attribute) string {
	if strings.HasPrefix(a.Slug, ReservedAttributePrefix) {
		if s := strings.TrimPrefix(a.Slug, ReservedAttributePrefix); s != "" {
			return s
		}
	}
	if s := Slugify(a.Name); s != "" {
		return s
	}
	return a.Slug
}

// BuildCategoryAttributeMappings intersects the table with the synced
// attributes. Categories without any matching attribute get no mapping.
func BuildCategoryAttributeMappings(categories []Category, attributes []Attribute, table AttributeTable) []CategoryAttributeMapping {
	bySlug := make(map[string]Attribute, len(attributes)*2)
	for _, a := range attributes {
		if key := NormalizeAttributeSlug(a); key != "" {
			if _, exists := bySlug[key]; !exists {
				bySlug[key] = a
			}
		}
	}
	// raw slugs only fill gaps left by normalized keys
	for _, a := range attributes {
		if a.Slug == "" {
			continue
		}
		if _, exists := bySlug[a.Slug]; !exists {
			bySlug[a.Slug] = a
		}
	}

	var mappings []CategoryAttributeMapping
	for _, c := range categories {
		attrSlugs, ok := table[strings.ToLower(c.Slug)]
		if !ok {
			attrSlugs, ok = table[Slugify(c.Name)]
		}
		if !ok {
			continue
		}

		seen := make(map[int64]struct{}, len(attrSlugs))
		var matched []Attribute
		for _, slug := range attrSlugs {
			a, found := bySlug[slug]
			if !found {
				continue
			}
			if _, dup := seen[a.ID]; dup {
				continue
			}
			seen[a.ID] = struct{}{}
			matched = append(matched, a)
		}
		if len(matched) > 0 {
			mappings = append(mappings, CategoryAttributeMapping{CategoryID: c.ID, Attributes: matched})
		}
	}
	return mappings
}

// Slugify lowercases name, strips diacritics and joins alphanumeric runs with '-'
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}
