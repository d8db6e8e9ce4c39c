package domain

import "sort"

// EdgeKind names one of the four relationship sets stored on a member.
type EdgeKind string

// Relationship kinds.
const (
	EdgeParent  EdgeKind = "parent"
	EdgeChild   EdgeKind = "child"
	EdgeSpouse  EdgeKind = "spouse"
	EdgeSibling EdgeKind = "sibling"
)

// EdgeKinds lists every relationship kind in storage order.
var EdgeKinds = []EdgeKind{EdgeParent, EdgeChild, EdgeSpouse, EdgeSibling}

// EdgeType qualifies a relationship edge.
type EdgeType string

// Edge types. Which types are legal depends on the kind, see EdgeKind.Allows.
const (
	EdgeBlood    EdgeType = "blood"
	EdgeAdopted  EdgeType = "adopted"
	EdgeHalf     EdgeType = "half"
	EdgeMarried  EdgeType = "married"
	EdgeDivorced EdgeType = "divorced"
)

// Valid reports whether k is a recognised relationship kind.
func (k EdgeKind) Valid() bool {
	switch k {
	case EdgeParent, EdgeChild, EdgeSpouse, EdgeSibling:
		return true
	default:
		return false
	}
}

// Inverse returns the kind stored on the other endpoint of an edge of kind k.
func (k EdgeKind) Inverse() EdgeKind {
	switch k {
	case EdgeParent:
		return EdgeChild
	case EdgeChild:
		return EdgeParent
	default:
		return k
	}
}

// Allows reports whether t is a legal type for edges of kind k.
func (k EdgeKind) Allows(t EdgeType) bool {
	switch k {
	case EdgeParent, EdgeChild:
		return t == EdgeBlood || t == EdgeAdopted || t == EdgeHalf
	case EdgeSpouse:
		return t == EdgeMarried || t == EdgeDivorced
	case EdgeSibling:
		return t == EdgeBlood || t == EdgeHalf
	default:
		return false
	}
}

// DefaultType is used when a caller omits the edge type.
func (k EdgeKind) DefaultType() EdgeType {
	if k == EdgeSpouse {
		return EdgeMarried
	}
	return EdgeBlood
}

// Relation names how a newly created member relates to an existing target member.
// RelationParent means the new member becomes a parent of the target.
type Relation string

// Supported relations for member creation and invitations.
const (
	RelationNone    Relation = ""
	RelationParent  Relation = "parent"
	RelationChild   Relation = "child"
	RelationSpouse  Relation = "spouse"
	RelationSibling Relation = "sibling"
)

// Valid reports whether r is a recognised relation. The empty relation is valid
// and creates an unattached member.
func (r Relation) Valid() bool {
	switch r {
	case RelationNone, RelationParent, RelationChild, RelationSpouse, RelationSibling:
		return true
	default:
		return false
	}
}

// EdgeKind returns the kind of edge stored on the new member pointing at the target.
func (r Relation) EdgeKind() EdgeKind {
	switch r {
	case RelationParent:
		return EdgeChild
	case RelationChild:
		return EdgeParent
	case RelationSpouse:
		return EdgeSpouse
	case RelationSibling:
		return EdgeSibling
	default:
		return ""
	}
}

// Edge is one entry of a member's relationship set.
type Edge struct {
	MemberID string   `json:"id"`
	Type     EdgeType `json:"type"`
}

// FindEdge returns the edge pointing at id.
func FindEdge(edges []Edge, id string) (Edge, bool) {
	for _, e := range edges {
		if e.MemberID == id {
			return e, true
		}
	}
	return Edge{}, false
}

// HasEdge reports whether edges contains an edge pointing at id.
func HasEdge(edges []Edge, id string) bool {
	_, ok := FindEdge(edges, id)
	return ok
}

// UpsertEdge returns edges with the edge to e.MemberID replaced or appended.
// The input slice is not modified.
func UpsertEdge(edges []Edge, e Edge) []Edge {
	out := make([]Edge, 0, len(edges)+1)
	replaced := false
	for _, existing := range edges {
		if existing.MemberID == e.MemberID {
			out = append(out, e)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, e)
	}
	return out
}

// RemoveEdge returns edges without the edge pointing at id.
// The input slice is not modified.
func RemoveEdge(edges []Edge, id string) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.MemberID != id {
			out = append(out, e)
		}
	}
	return out
}

// EdgeIDs returns the member ids referenced by edges, in order.
func EdgeIDs(edges []Edge) []string {
	if len(edges) == 0 {
		return nil
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.MemberID)
	}
	return ids
}

// SortEdges orders edges by member id so stored sets are deterministic.
func SortEdges(edges []Edge) []Edge {
	sort.Slice(edges, func(i, j int) bool { return edges[i].MemberID < edges[j].MemberID })
	return edges
}

// EqualEdges reports whether a and b contain the same edges irrespective of order.
func EqualEdges(a, b []Edge) bool {
	if len(a) != len(b) {
		return false
	}
	index := make(map[string]EdgeType, len(a))
	for _, e := range a {
		index[e.MemberID] = e.Type
	}
	for _, e := range b {
		t, ok := index[e.MemberID]
		if !ok || t != e.Type {
			return false
		}
	}
	return true
}
