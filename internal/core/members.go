package core

import (
	"context"
	"fmt"

	"dynastycore/pkg/domain"
)

// CreateTreeInput describes a new tree and its root member.
type CreateTreeInput struct {
	Name string           `json:"name" validate:"required,max=200"`
	Root MemberAttributes `json:"root"`
}

// MemberOptions control secondary wiring when a member is attached to a target.
type MemberOptions struct {
	// ConnectToSpouse also makes a new child a child of the target's married spouses.
	ConnectToSpouse bool `json:"connectToSpouse,omitempty"`
	// ConnectToExistingParent also marries a new parent to the target's existing parents.
	ConnectToExistingParent bool `json:"connectToExistingParent,omitempty"`
	// ConnectToChildren also makes a new spouse a parent of the target's children.
	ConnectToChildren bool `json:"connectToChildren,omitempty"`
}

// CreateMemberInput describes a member to add and how to attach it.
type CreateMemberInput struct {
	TreeID         string           `json:"treeId" validate:"required"`
	CallerID       string           `json:"-"`
	Attributes     MemberAttributes `json:"attributes"`
	Relation       Relation         `json:"relation,omitempty" validate:"omitempty,oneof=parent child spouse sibling"`
	TargetMemberID string           `json:"targetMemberId,omitempty" validate:"required_with=Relation"`
	EdgeType       EdgeType         `json:"edgeType,omitempty"`
	Options        MemberOptions    `json:"options"`
}

// UpdateMemberInput replaces a member's descriptive attributes.
type UpdateMemberInput struct {
	MemberID   string           `json:"memberId" validate:"required"`
	TreeID     string           `json:"treeId" validate:"required"`
	CallerID   string           `json:"-"`
	Attributes MemberAttributes `json:"attributes"`
}

// CreateTree creates a tree whose root member is its creator and only admin.
func (s *Service) CreateTree(ctx context.Context, in CreateTreeInput) (FamilyTree, Result, error) {
	var created FamilyTree
	res, err := s.run(ctx, "create_tree", scope{}, func(tx domain.Transaction) (string, error) {
		if err := s.validator.ValidateStruct(in); err != nil {
			return "", err
		}
		if err := s.validator.ValidateAttributes(in.Root); err != nil {
			return "", err
		}
		tree, err := tx.CreateTree(FamilyTree{Name: in.Name})
		if err != nil {
			return "", err
		}
		root, err := tx.CreateMember(Member{TreeID: tree.ID, MemberAttributes: in.Root})
		if err != nil {
			return tree.ID, err
		}
		created, err = tx.UpdateTree(tree.ID, func(t *FamilyTree) error {
			t.CreatedBy = root.ID
			t.MemberIDs = []string{root.ID}
			t.AdminIDs = []string{root.ID}
			t.LastUpdatedBy = root.ID
			return nil
		})
		return tree.ID, err
	})
	if err != nil {
		return FamilyTree{}, res, err
	}
	if fresh, ok := s.store.GetTree(created.ID); ok {
		created = fresh
	}
	return created, res, nil
}

// CreateMember adds a member to a tree and wires it to the target member
// according to the requested relation. The caller must administer the tree.
func (s *Service) CreateMember(ctx context.Context, in CreateMemberInput) (Member, Result, error) {
	var created Member
	res, err := s.run(ctx, "create_member", scope{treeID: in.TreeID, callerID: in.CallerID}, func(tx domain.Transaction) (string, error) {
		if err := s.validator.ValidateStruct(in); err != nil {
			return "", err
		}
		if err := s.validator.ValidateAttributes(in.Attributes); err != nil {
			return "", err
		}
		tree, err := requireAdmin(tx, in.TreeID, in.CallerID, "create member")
		if err != nil {
			return "", err
		}
		created, err = s.attachNewMember(tx, tree, in.CallerID, in.Attributes, in.Relation, in.TargetMemberID, in.EdgeType, in.Options)
		return created.ID, err
	})
	if err != nil {
		return Member{}, res, err
	}
	if fresh, ok := s.store.GetMember(created.ID); ok {
		created = fresh
	}
	return created, res, nil
}

// attachNewMember creates a member in tree, wires it per relation and lists it
// in the tree. It is shared by CreateMember and invitation acceptance.
func (s *Service) attachNewMember(tx domain.Transaction, tree FamilyTree, actorID string, attrs MemberAttributes, relation Relation, targetID string, edgeType EdgeType, opts MemberOptions) (Member, error) {
	if !relation.Valid() {
		return Member{}, rejection(RuleEdgeType, targetID, fmt.Sprintf("unknown relation %q", relation))
	}
	var target Member
	if relation != domain.RelationNone {
		if targetID == "" {
			return Member{}, rejection(RuleMissingEdge, "", fmt.Sprintf("relation %s requires a target member", relation))
		}
		var err error
		if target, err = memberInTree(tx, tree.ID, targetID); err != nil {
			return Member{}, err
		}
		if relation == domain.RelationSibling && len(target.Parents) == 0 {
			return Member{}, rejection(RuleNoParents, target.ID, fmt.Sprintf("member %s has no parents to share with a sibling", target.ID))
		}
	}

	member, err := tx.CreateMember(Member{TreeID: tree.ID, MemberAttributes: attrs})
	if err != nil {
		return Member{}, err
	}
	if _, err := tx.UpdateTree(tree.ID, func(t *FamilyTree) error {
		t.MemberIDs = append(t.MemberIDs, member.ID)
		t.LastUpdatedBy = actorID
		return nil
	}); err != nil {
		return Member{}, err
	}

	delta := Delta{TreeID: tree.ID, Add: relationOps(relation, member.ID, target, edgeType, opts), Bound: len(tree.MemberIDs) + 1}
	if !delta.Empty() {
		if delta, err = s.validator.Validate(delta, tx); err != nil {
			return Member{}, err
		}
		if err := applyDelta(tx, delta); err != nil {
			return Member{}, err
		}
		if err := rederiveSiblings(tx, delta.ParentChanges()); err != nil {
			return Member{}, err
		}
	}
	member, _ = tx.FindMember(member.ID)
	return member, nil
}

// relationOps lists the edges that attach newID to target for relation.
func relationOps(relation Relation, newID string, target Member, t EdgeType, opts MemberOptions) []EdgeOp {
	var ops []EdgeOp
	switch relation {
	case domain.RelationParent:
		ops = append(ops, EdgeOp{Kind: domain.EdgeParent, From: target.ID, To: newID, Type: t})
		if opts.ConnectToExistingParent {
			for _, p := range target.Parents {
				ops = append(ops, EdgeOp{Kind: domain.EdgeSpouse, From: newID, To: p.MemberID, Type: domain.EdgeMarried})
			}
		}
	case domain.RelationChild:
		ops = append(ops, EdgeOp{Kind: domain.EdgeParent, From: newID, To: target.ID, Type: t})
		if opts.ConnectToSpouse {
			for _, sp := range target.Spouses {
				if sp.Type == domain.EdgeMarried {
					ops = append(ops, EdgeOp{Kind: domain.EdgeParent, From: newID, To: sp.MemberID, Type: t})
				}
			}
		}
	case domain.RelationSpouse:
		ops = append(ops, EdgeOp{Kind: domain.EdgeSpouse, From: newID, To: target.ID, Type: t})
		if opts.ConnectToChildren {
			for _, c := range target.Children {
				ops = append(ops, EdgeOp{Kind: domain.EdgeParent, From: c.MemberID, To: newID, Type: c.Type})
			}
		}
	case domain.RelationSibling:
		for _, p := range target.Parents {
			ops = append(ops, EdgeOp{Kind: domain.EdgeParent, From: newID, To: p.MemberID, Type: p.Type})
		}
	}
	return ops
}

// DeleteMember removes a member and every edge referencing it. Siblings are
// re-derived for members that lost the deleted member as a parent.
func (s *Service) DeleteMember(ctx context.Context, memberID, treeID, callerID string) (Result, error) {
	return s.run(ctx, "delete_member", scope{treeID: treeID, callerID: callerID}, func(tx domain.Transaction) (string, error) {
		tree, err := requireAdmin(tx, treeID, callerID, "delete member")
		if err != nil {
			return memberID, err
		}
		member, err := memberInTree(tx, treeID, memberID)
		if err != nil {
			return memberID, err
		}
		if tree.IsAdmin(memberID) && len(tree.AdminIDs) == 1 {
			return memberID, rejection(RuleLastAdmin, memberID, fmt.Sprintf("member %s is the last admin of tree %s", memberID, treeID))
		}
		changed, err := detach(tx, member)
		if err != nil {
			return memberID, err
		}
		if err := tx.DeleteMember(memberID); err != nil {
			return memberID, err
		}
		if _, err := tx.UpdateTree(treeID, func(t *FamilyTree) error {
			t.MemberIDs = removeID(t.MemberIDs, memberID)
			t.AdminIDs = removeID(t.AdminIDs, memberID)
			t.LastUpdatedBy = callerID
			return nil
		}); err != nil {
			return memberID, err
		}
		return memberID, rederiveSiblings(tx, changed)
	})
}

// UpdateMemberAttributes replaces a member's descriptive attributes. The caller
// must administer the member's tree.
func (s *Service) UpdateMemberAttributes(ctx context.Context, in UpdateMemberInput) (Member, Result, error) {
	var updated Member
	res, err := s.run(ctx, "update_member", scope{treeID: in.TreeID, callerID: in.CallerID}, func(tx domain.Transaction) (string, error) {
		if err := s.validator.ValidateStruct(in); err != nil {
			return in.MemberID, err
		}
		if err := s.validator.ValidateAttributes(in.Attributes); err != nil {
			return in.MemberID, err
		}
		if _, err := requireAdmin(tx, in.TreeID, in.CallerID, "update member"); err != nil {
			return in.MemberID, err
		}
		if _, err := memberInTree(tx, in.TreeID, in.MemberID); err != nil {
			return in.MemberID, err
		}
		var err error
		updated, err = tx.UpdateMember(in.MemberID, func(m *Member) error {
			m.MemberAttributes = in.Attributes
			return nil
		})
		return in.MemberID, err
	})
	if err != nil {
		return Member{}, res, err
	}
	if fresh, ok := s.store.GetMember(updated.ID); ok {
		updated = fresh
	}
	return updated, res, nil
}

// GetMember returns a committed member.
func (s *Service) GetMember(ctx context.Context, id string) (Member, error) {
	var member Member
	err := s.read(ctx, "get_member", func(view domain.TransactionView) error {
		m, ok := view.FindMember(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityMember, ID: id}
		}
		member = m
		return nil
	})
	return member, err
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
