package core

import "dynastycore/pkg/domain"

// applyDelta writes a validated, normalized delta symmetrically: every edge is
// added to or removed from both endpoints.
func applyDelta(tx domain.Transaction, d Delta) error {
	for _, op := range d.Remove {
		if err := unlink(tx, op.From, op.To, op.Kind); err != nil {
			return err
		}
	}
	for _, op := range d.Add {
		if err := link(tx, op.From, op.To, op.Kind, op.Type); err != nil {
			return err
		}
	}
	return nil
}

func link(tx domain.Transaction, from, to string, kind EdgeKind, t EdgeType) error {
	if _, err := tx.UpdateMember(from, func(m *Member) error {
		m.SetEdges(kind, domain.SortEdges(domain.UpsertEdge(m.Edges(kind), Edge{MemberID: to, Type: t})))
		return nil
	}); err != nil {
		return err
	}
	_, err := tx.UpdateMember(to, func(m *Member) error {
		inverse := kind.Inverse()
		m.SetEdges(inverse, domain.SortEdges(domain.UpsertEdge(m.Edges(inverse), Edge{MemberID: from, Type: t})))
		return nil
	})
	return err
}

func unlink(tx domain.Transaction, from, to string, kind EdgeKind) error {
	if _, err := tx.UpdateMember(from, func(m *Member) error {
		m.SetEdges(kind, domain.RemoveEdge(m.Edges(kind), to))
		return nil
	}); err != nil {
		return err
	}
	_, err := tx.UpdateMember(to, func(m *Member) error {
		inverse := kind.Inverse()
		m.SetEdges(inverse, domain.RemoveEdge(m.Edges(inverse), from))
		return nil
	})
	return err
}

// detach strips every edge referencing m from its neighbours and returns the
// members whose parent set changed as a result.
func detach(tx domain.Transaction, m Member) ([]string, error) {
	var parentChanged []string
	for _, kind := range domain.EdgeKinds {
		for _, e := range m.Edges(kind) {
			inverse := kind.Inverse()
			if _, err := tx.UpdateMember(e.MemberID, func(other *Member) error {
				other.SetEdges(inverse, domain.RemoveEdge(other.Edges(inverse), m.ID))
				return nil
			}); err != nil {
				return nil, err
			}
			if inverse == domain.EdgeParent {
				parentChanged = append(parentChanged, e.MemberID)
			}
		}
	}
	return parentChanged, nil
}
