package core

import (
	"context"
	"fmt"
	"sort"

	"dynastycore/pkg/domain"
)

// RelationshipUpdates batches edge changes for one member. Ids in the add lists
// take their edge type from RelationshipTypes when present; an id only present
// in RelationshipTypes retypes the existing edge to that member.
type RelationshipUpdates struct {
	AddParents        []string            `json:"addParents,omitempty"`
	RemoveParents     []string            `json:"removeParents,omitempty"`
	AddChildren       []string            `json:"addChildren,omitempty"`
	RemoveChildren    []string            `json:"removeChildren,omitempty"`
	AddSpouses        []string            `json:"addSpouses,omitempty"`
	RemoveSpouses     []string            `json:"removeSpouses,omitempty"`
	AddSiblings       []string            `json:"addSiblings,omitempty"`
	RemoveSiblings    []string            `json:"removeSiblings,omitempty"`
	RelationshipTypes map[string]EdgeType `json:"relationshipTypes,omitempty"`
}

// UpdateRelationshipsInput addresses a batch of relationship updates.
type UpdateRelationshipsInput struct {
	MemberID string              `json:"memberId" validate:"required"`
	TreeID   string              `json:"treeId" validate:"required"`
	CallerID string              `json:"-"`
	Updates  RelationshipUpdates `json:"relationships"`
}

// UpdateRelationships validates the whole batch against one snapshot, writes
// every edge on both endpoints and re-derives siblings for every member whose
// parents changed, all in one transaction.
//
// Siblings are derived, so AddSiblings gives each listed member the member's
// parents and RemoveSiblings is rejected.
func (s *Service) UpdateRelationships(ctx context.Context, in UpdateRelationshipsInput) (Member, Result, error) {
	var updated Member
	res, err := s.run(ctx, "update_relationships", scope{treeID: in.TreeID, callerID: in.CallerID}, func(tx domain.Transaction) (string, error) {
		if err := s.validator.ValidateStruct(in); err != nil {
			return in.MemberID, err
		}
		tree, err := requireAdmin(tx, in.TreeID, in.CallerID, "update relationships")
		if err != nil {
			return in.MemberID, err
		}
		member, err := memberInTree(tx, in.TreeID, in.MemberID)
		if err != nil {
			return in.MemberID, err
		}
		delta, err := relationshipDelta(tx, member, in.Updates)
		if err != nil {
			return in.MemberID, err
		}
		delta.TreeID = tree.ID
		delta.Bound = len(tree.MemberIDs)
		if !delta.Empty() {
			if delta, err = s.validator.Validate(delta, tx); err != nil {
				return in.MemberID, err
			}
			if err := applyDelta(tx, delta); err != nil {
				return in.MemberID, err
			}
			if err := rederiveSiblings(tx, delta.ParentChanges()); err != nil {
				return in.MemberID, err
			}
		}
		updated, _ = tx.FindMember(in.MemberID)
		return in.MemberID, nil
	})
	if err != nil {
		return Member{}, res, err
	}
	if fresh, ok := s.store.GetMember(in.MemberID); ok {
		updated = fresh
	}
	return updated, res, nil
}

// relationshipDelta translates client updates for m into edge operations.
func relationshipDelta(view domain.TransactionView, m Member, u RelationshipUpdates) (Delta, error) {
	if len(u.RemoveSiblings) > 0 {
		return Delta{}, rejection(RuleDerivedEdge, m.ID, "siblings are derived from shared parents and cannot be removed directly")
	}
	typeOf := func(id string) EdgeType { return u.RelationshipTypes[id] }
	var d Delta
	listed := make(map[string]struct{})
	for _, group := range []struct {
		ids    []string
		kind   EdgeKind
		remove bool
	}{
		{u.RemoveParents, domain.EdgeParent, true},
		{u.RemoveChildren, domain.EdgeChild, true},
		{u.RemoveSpouses, domain.EdgeSpouse, true},
		{u.AddParents, domain.EdgeParent, false},
		{u.AddChildren, domain.EdgeChild, false},
		{u.AddSpouses, domain.EdgeSpouse, false},
	} {
		for _, id := range group.ids {
			listed[id] = struct{}{}
			op := EdgeOp{Kind: group.kind, From: m.ID, To: id}
			if group.remove {
				d.Remove = append(d.Remove, op)
				continue
			}
			op.Type = typeOf(id)
			d.Add = append(d.Add, op)
		}
	}

	if len(u.AddSiblings) > 0 {
		parents := sharedParents(m, u)
		if len(parents) == 0 {
			return Delta{}, rejection(RuleNoParents, m.ID, fmt.Sprintf("member %s has no parents to share with a sibling", m.ID))
		}
		for _, id := range u.AddSiblings {
			listed[id] = struct{}{}
			if id == m.ID {
				return Delta{}, rejection(RuleSelfReference, m.ID, fmt.Sprintf("member %s cannot be its own sibling", m.ID))
			}
			sibling, err := memberInTree(view, m.TreeID, id)
			if err != nil {
				return Delta{}, err
			}
			for _, p := range parents {
				if domain.HasEdge(sibling.Parents, p.MemberID) {
					continue
				}
				d.Add = append(d.Add, EdgeOp{Kind: domain.EdgeParent, From: id, To: p.MemberID, Type: p.Type})
			}
		}
	}

	ids := make([]string, 0, len(u.RelationshipTypes))
	for id := range u.RelationshipTypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := listed[id]; ok {
			continue
		}
		t := u.RelationshipTypes[id]
		if t == "" {
			continue
		}
		var kind EdgeKind
		for _, k := range []EdgeKind{domain.EdgeParent, domain.EdgeChild, domain.EdgeSpouse} {
			if _, ok := m.EdgeTo(k, id); ok {
				kind = k
				break
			}
		}
		if kind == "" {
			if domain.HasEdge(m.Siblings, id) {
				return Delta{}, rejection(RuleDerivedEdge, m.ID, fmt.Sprintf("sibling type between %s and %s is derived", m.ID, id))
			}
			return Delta{}, rejection(RuleMissingEdge, m.ID, fmt.Sprintf("member %s has no relationship to %s to retype", m.ID, id))
		}
		if existing, _ := m.EdgeTo(kind, id); existing.Type == t {
			continue
		}
		d.Remove = append(d.Remove, EdgeOp{Kind: kind, From: m.ID, To: id})
		d.Add = append(d.Add, EdgeOp{Kind: kind, From: m.ID, To: id, Type: t})
	}
	return d, nil
}

// sharedParents returns m's parent edges as they will be after the batch's own
// parent removals and additions.
func sharedParents(m Member, u RelationshipUpdates) []Edge {
	parents := append([]Edge(nil), m.Parents...)
	for _, id := range u.RemoveParents {
		parents = domain.RemoveEdge(parents, id)
	}
	for _, id := range u.AddParents {
		t := u.RelationshipTypes[id]
		if t == "" {
			t = domain.EdgeParent.DefaultType()
		}
		parents = domain.UpsertEdge(parents, Edge{MemberID: id, Type: t})
	}
	return parents
}
