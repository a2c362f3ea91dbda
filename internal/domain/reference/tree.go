package reference

import (
	"encoding/json"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// TreeNode is an entity with its children attached. Trees are derived data,
// rebuilt wholesale on every sync.
type TreeNode struct {
	Entity
	Children []TreeNode `json:"children"`
}

// UnmarshalJSON keeps Entity's decoder from swallowing the children
func (n *TreeNode) UnmarshalJSON(data []byte) error {
	if err := n.Entity.UnmarshalJSON(data); err != nil {
		return err
	}
	var raw struct {
		Children []TreeNode `json:"children"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.Children = raw.Children
	if n.Children == nil {
		n.Children = []TreeNode{}
	}
	return nil
}

// BuildTree groups entities by parent and sorts siblings by name at every
// level. Entities whose parent is not in the input are promoted to roots, and
// every parent cycle is broken at its lowest id, so that nothing synced
// becomes unreachable.
func BuildTree(entities []Entity) []TreeNode {
	byID := make(map[int64]Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	childrenOf := make(map[int64][]Entity)
	var roots []Entity
	for _, e := range entities {
		_, parentKnown := byID[e.ParentID]
		if e.IsRoot() || !parentKnown || e.ParentID == e.ID {
			roots = append(roots, e)
			continue
		}
		childrenOf[e.ParentID] = append(childrenOf[e.ParentID], e)
	}

	reached := make(map[int64]bool, len(entities))
	for _, r := range roots {
		markReached(r.ID, childrenOf, reached)
	}
	for _, e := range entities {
		if reached[e.ID] {
			continue
		}
		head := cycleHead(e, byID)
		childrenOf[head.ParentID] = removeEntity(childrenOf[head.ParentID], head.ID)
		roots = append(roots, head)
		markReached(head.ID, childrenOf, reached)
	}

	col := collate.New(language.Und, collate.IgnoreCase)
	return buildLevel(roots, childrenOf, col)
}

func markReached(id int64, childrenOf map[int64][]Entity, reached map[int64]bool) {
	if reached[id] {
		return
	}
	reached[id] = true
	for _, kid := range childrenOf[id] {
		markReached(kid.ID, childrenOf, reached)
	}
}

// cycleHead follows parents from an unreachable entity until an id repeats
// and returns the lowest-id member of that cycle.
func cycleHead(e Entity, byID map[int64]Entity) Entity {
	pos := make(map[int64]int)
	var path []Entity
	for {
		if i, seen := pos[e.ID]; seen {
			head := path[i]
			for _, m := range path[i+1:] {
				if m.ID < head.ID {
					head = m
				}
			}
			return head
		}
		pos[e.ID] = len(path)
		path = append(path, e)
		e = byID[e.ParentID]
	}
}

func removeEntity(entities []Entity, id int64) []Entity {
	out := entities[:0]
	for _, e := range entities {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

func buildLevel(level []Entity, childrenOf map[int64][]Entity, col *collate.Collator) []TreeNode {
	sortByName(level, col)

	nodes := make([]TreeNode, 0, len(level))
	for _, e := range level {
		node := TreeNode{Entity: e, Children: []TreeNode{}}
		if kids := childrenOf[e.ID]; len(kids) > 0 {
			node.Children = buildLevel(kids, childrenOf, col)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func sortByName(entities []Entity, col *collate.Collator) {
	sort.SliceStable(entities, func(i, j int) bool {
		if c := col.CompareString(entities[i].Name, entities[j].Name); c != 0 {
			return c < 0
		}
		return entities[i].ID < entities[j].ID
	})
}

// Flatten walks a tree depth-first and returns every node's entity
func Flatten(nodes []TreeNode) []Entity {
	var out []Entity
	var walk func([]TreeNode)
	walk = func(level []TreeNode) {
		for _, n := range level {
			out = append(out, n.Entity)
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}

// FindNode returns the node with the given id, searching depth-first
func FindNode(nodes []TreeNode, id int64) (*TreeNode, bool) {
	for i := range nodes {
		if nodes[i].ID == id {
			return &nodes[i], true
		}
		if n, ok := FindNode(nodes[i].Children, id); ok {
			return n, true
		}
	}
	return nil, false
}
