package core

import (
	"sort"

	"dynastycore/pkg/domain"
)

// DeriveSiblings recomputes sibling sets from shared parentage. The affected set
// is every changed member, its currently stored siblings, and the children of
// its current parents; the result maps each affected member that still exists
// to its sorted sibling edges. Parent and child sets in r must already reflect
// the mutation. The function is pure and idempotent.
func DeriveSiblings(r MemberReader, changed []string) map[string][]Edge {
	affected := make(map[string]struct{})
	add := func(id string) {
		if id != "" {
			affected[id] = struct{}{}
		}
	}
	for _, id := range changed {
		add(id)
		m, ok := r.FindMember(id)
		if !ok {
			continue
		}
		for _, s := range m.Siblings {
			add(s.MemberID)
		}
		for _, p := range m.Parents {
			parent, ok := r.FindMember(p.MemberID)
			if !ok {
				continue
			}
			for _, c := range parent.Children {
				add(c.MemberID)
			}
		}
	}

	out := make(map[string][]Edge, len(affected))
	for id := range affected {
		m, ok := r.FindMember(id)
		if !ok {
			continue
		}
		out[id] = siblingsOf(r, m)
	}
	return out
}

// siblingsOf derives m's sibling set: every other child of m's parents, typed
// blood when some shared parent is linked to both by blood, else half.
func siblingsOf(r MemberReader, m Member) []Edge {
	types := make(map[string]EdgeType)
	for _, p := range m.Parents {
		parent, ok := r.FindMember(p.MemberID)
		if !ok {
			continue
		}
		for _, c := range parent.Children {
			if c.MemberID == m.ID {
				continue
			}
			sibling, ok := r.FindMember(c.MemberID)
			if !ok {
				continue
			}
			theirs, ok := sibling.EdgeTo(domain.EdgeParent, parent.ID)
			if !ok {
				continue
			}
			if p.Type == domain.EdgeBlood && theirs.Type == domain.EdgeBlood {
				types[sibling.ID] = domain.EdgeBlood
			} else if _, seen := types[sibling.ID]; !seen {
				types[sibling.ID] = domain.EdgeHalf
			}
		}
	}
	if len(types) == 0 {
		return nil
	}
	edges := make([]Edge, 0, len(types))
	for id, t := range types {
		edges = append(edges, Edge{MemberID: id, Type: t})
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].MemberID < edges[j].MemberID })
	return edges
}

// applySiblings writes derived sibling sets that differ from the stored ones.
func applySiblings(tx domain.Transaction, derived map[string][]Edge) error {
	ids := make([]string, 0, len(derived))
	for id := range derived {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m, ok := tx.FindMember(id)
		if !ok || domain.EqualEdges(m.Siblings, derived[id]) {
			continue
		}
		edges := derived[id]
		if _, err := tx.UpdateMember(id, func(m *Member) error {
			m.Siblings = edges
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// rederiveSiblings recomputes and writes siblings for members whose parent set changed.
func rederiveSiblings(tx domain.Transaction, changed []string) error {
	if len(changed) == 0 {
		return nil
	}
	return applySiblings(tx, DeriveSiblings(tx, changed))
}
