package reference

import (
	"encoding/json"
	"fmt"
)

// Collection names a flat reference-data collection. The names double as the
// static resource names on the commerce backend.
type Collection string

const (
	CollectionCategories Collection = "categories"
	CollectionBrands     Collection = "brands"
	CollectionAttributes Collection = "attributes"
	CollectionLocations  Collection = "locations"
)

// AllCollections lists the collections in sync order
var AllCollections = []Collection{
	CollectionCategories,
	CollectionBrands,
	CollectionAttributes,
	CollectionLocations,
}

// ParseCollection validates a collection name
func ParseCollection(s string) (Collection, error) {
	for _, c := range AllCollections {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown reference collection %q", s)
}

// TreeKind names one of the derived hierarchical trees
type TreeKind string

const (
	TreeCategories TreeKind = "categories"
	TreeLocations  TreeKind = "locations"
)

// ParseTreeKind validates a tree kind
func ParseTreeKind(s string) (TreeKind, error) {
	switch TreeKind(s) {
	case TreeCategories, TreeLocations:
		return TreeKind(s), nil
	}
	return "", fmt.Errorf("unknown reference tree %q", s)
}

// Entity is a server-owned taxonomy record. ParentID 0 marks a root.
type Entity struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID int64  `json:"parent_id"`
	Count    *int   `json:"count,omitempty"`
}

// Category, Brand, Attribute and Location share the entity shape
type (
	Category  = Entity
	Brand     = Entity
	Attribute = Entity
	Location  = Entity
)

// IsRoot returns true when the entity has no parent
func (e Entity) IsRoot() bool {
	return e.ParentID == 0
}

// UnmarshalJSON accepts "parent", "parent_id" and "parentId" for the parent
// reference, since static resources are not consistent about it.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		Slug      string `json:"slug"`
		Parent    *int64 `json:"parent"`
		ParentID  *int64 `json:"parent_id"`
		ParentID2 *int64 `json:"parentId"`
		Count     *int   `json:"count"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.ID = raw.ID
	e.Name = raw.Name
	e.Slug = raw.Slug
	e.Count = raw.Count
	e.ParentID = 0
	switch {
	case raw.ParentID != nil:
		e.ParentID = *raw.ParentID
	case raw.ParentID2 != nil:
		e.ParentID = *raw.ParentID2
	case raw.Parent != nil:
		e.ParentID = *raw.Parent
	}
	return nil
}

// DecodeResource decodes a static resource body. The body is either a bare
// array of entities or an object holding the array under the resource name.
func DecodeResource(name Collection, body []byte) ([]Entity, error) {
	var items []Entity
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("resource %s: not an array or object: %w", name, err)
	}
	inner, ok := wrapped[string(name)]
	if !ok {
		return nil, fmt.Errorf("resource %s: missing %q property", name, name)
	}
	if err := json.Unmarshal(inner, &items); err != nil {
		return nil, fmt.Errorf("resource %s: invalid %q property: %w", name, name, err)
	}
	return items, nil
}
