package core

import (
	"context"
	"fmt"
	"time"

	"dynastycore/pkg/domain"
)

// CreateInvitationInput proposes a new member for a tree.
type CreateInvitationInput struct {
	TreeID           string           `json:"treeId" validate:"required"`
	CallerID         string           `json:"-"`
	Invitee          Invitee          `json:"invitee"`
	ProposedRelation ProposedRelation `json:"proposedRelation"`
}

// CreateInvitation records a pending invitation that expires after the
// configured TTL. The caller must administer the tree.
func (s *Service) CreateInvitation(ctx context.Context, in CreateInvitationInput) (Invitation, Result, error) {
	var created Invitation
	res, err := s.run(ctx, "create_invitation", scope{treeID: in.TreeID, callerID: in.CallerID}, func(tx domain.Transaction) (string, error) {
		if err := s.validator.ValidateStruct(in); err != nil {
			return "", err
		}
		if err := s.validator.ValidateAttributes(in.Invitee.Attributes); err != nil {
			return "", err
		}
		if _, err := requireAdmin(tx, in.TreeID, in.CallerID, "invite members"); err != nil {
			return "", err
		}
		proposal := in.ProposedRelation
		if proposal.Relation != domain.RelationNone {
			if proposal.TargetMemberID == "" {
				return "", rejection(RuleMissingEdge, "", fmt.Sprintf("relation %s requires a target member", proposal.Relation))
			}
			target, err := memberInTree(tx, in.TreeID, proposal.TargetMemberID)
			if err != nil {
				return "", err
			}
			if proposal.Relation == domain.RelationSibling && len(target.Parents) == 0 {
				return "", rejection(RuleNoParents, target.ID, fmt.Sprintf("member %s has no parents to share with a sibling", target.ID))
			}
		}
		var err error
		created, err = tx.CreateInvitation(Invitation{
			TreeID:           in.TreeID,
			InvitedBy:        in.CallerID,
			Invitee:          in.Invitee,
			ProposedRelation: proposal,
			Status:           domain.InvitationPending,
			ExpiresAt:        s.clock.Now().Add(s.invitationTTL),
		})
		return created.ID, err
	})
	if err != nil {
		return Invitation{}, res, err
	}
	if fresh, ok := s.store.GetInvitation(created.ID); ok {
		created = fresh
	}
	return created, res, nil
}

// AcceptInvitation creates the invited member, wires it as proposed and marks
// the invitation accepted. Resolved invitations are returned unchanged and
// expired pending ones are rejected.
func (s *Service) AcceptInvitation(ctx context.Context, id string) (Invitation, Result, error) {
	return s.resolveInvitation(ctx, "accept_invitation", id, func(tx domain.Transaction, inv Invitation) (Invitation, error) {
		now := s.clock.Now()
		if inv.Expired(now) {
			return Invitation{}, domain.ValidationError{Violations: []Violation{{
				Rule:     RuleExpired,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("invitation %s expired at %s", inv.ID, inv.ExpiresAt.Format(time.RFC3339)),
				Entity:   domain.EntityInvitation,
				EntityID: inv.ID,
			}}}
		}
		tree, ok := tx.FindTree(inv.TreeID)
		if !ok {
			return Invitation{}, domain.NotFoundError{Entity: domain.EntityTree, ID: inv.TreeID}
		}
		p := inv.ProposedRelation
		member, err := s.attachNewMember(tx, tree, inv.InvitedBy, inv.Invitee.Attributes, p.Relation, p.TargetMemberID, p.EdgeType, MemberOptions{})
		if err != nil {
			return Invitation{}, err
		}
		return tx.UpdateInvitation(inv.ID, func(i *Invitation) error {
			i.Status = domain.InvitationAccepted
			i.ResolvedAt = &now
			i.MemberID = member.ID
			return nil
		})
	})
}

// RejectInvitation marks a pending invitation rejected. Resolved invitations are
// returned unchanged; expired ones may still be rejected.
func (s *Service) RejectInvitation(ctx context.Context, id string) (Invitation, Result, error) {
	return s.resolveInvitation(ctx, "reject_invitation", id, func(tx domain.Transaction, inv Invitation) (Invitation, error) {
		now := s.clock.Now()
		return tx.UpdateInvitation(inv.ID, func(i *Invitation) error {
			i.Status = domain.InvitationRejected
			i.ResolvedAt = &now
			return nil
		})
	})
}

func (s *Service) resolveInvitation(ctx context.Context, op, id string, resolve func(domain.Transaction, Invitation) (Invitation, error)) (Invitation, Result, error) {
	var out Invitation
	res, err := s.run(ctx, op, scope{}, func(tx domain.Transaction) (string, error) {
		inv, ok := tx.FindInvitation(id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntityInvitation, ID: id}
		}
		if inv.Status.Terminal() {
			out = inv
			return id, nil
		}
		var err error
		out, err = resolve(tx, inv)
		return id, err
	})
	if err != nil {
		return Invitation{}, res, err
	}
	if fresh, ok := s.store.GetInvitation(id); ok {
		out = fresh
	}
	return out, res, nil
}

// PromoteToAdmin grants admin rights to a member of the tree. Promoting an
// existing admin changes nothing.
func (s *Service) PromoteToAdmin(ctx context.Context, memberID, treeID, callerID string) (FamilyTree, Result, error) {
	return s.changeRole(ctx, "promote_admin", memberID, treeID, callerID, func(tree FamilyTree) (bool, error) {
		return !tree.IsAdmin(memberID), nil
	}, func(t *FamilyTree) {
		t.AdminIDs = append(t.AdminIDs, memberID)
	})
}

// DemoteToMember revokes admin rights. Demoting a non-admin changes nothing and
// the last admin cannot be demoted.
func (s *Service) DemoteToMember(ctx context.Context, memberID, treeID, callerID string) (FamilyTree, Result, error) {
	return s.changeRole(ctx, "demote_admin", memberID, treeID, callerID, func(tree FamilyTree) (bool, error) {
		if !tree.IsAdmin(memberID) {
			return false, nil
		}
		if len(tree.AdminIDs) == 1 {
			return false, rejection(RuleLastAdmin, memberID, fmt.Sprintf("member %s is the last admin of tree %s", memberID, treeID))
		}
		return true, nil
	}, func(t *FamilyTree) {
		t.AdminIDs = removeID(t.AdminIDs, memberID)
	})
}

func (s *Service) changeRole(ctx context.Context, op, memberID, treeID, callerID string, needed func(FamilyTree) (bool, error), mutate func(*FamilyTree)) (FamilyTree, Result, error) {
	var out FamilyTree
	res, err := s.run(ctx, op, scope{treeID: treeID, callerID: callerID}, func(tx domain.Transaction) (string, error) {
		tree, err := requireAdmin(tx, treeID, callerID, "change admin roles")
		if err != nil {
			return memberID, err
		}
		if _, err := memberInTree(tx, treeID, memberID); err != nil {
			return memberID, err
		}
		change, err := needed(tree)
		if err != nil || !change {
			out = tree
			return memberID, err
		}
		out, err = tx.UpdateTree(treeID, func(t *FamilyTree) error {
			mutate(t)
			t.LastUpdatedBy = callerID
			return nil
		})
		return memberID, err
	})
	if err != nil {
		return FamilyTree{}, res, err
	}
	if fresh, ok := s.store.GetTree(treeID); ok {
		out = fresh
	}
	return out, res, nil
}

// GetTree returns a committed tree.
func (s *Service) GetTree(ctx context.Context, id string) (FamilyTree, error) {
	var tree FamilyTree
	err := s.read(ctx, "get_tree", func(view domain.TransactionView) error {
		t, ok := view.FindTree(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityTree, ID: id}
		}
		tree = t
		return nil
	})
	return tree, err
}

// GetInvitation returns a committed invitation.
func (s *Service) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	var inv Invitation
	err := s.read(ctx, "get_invitation", func(view domain.TransactionView) error {
		i, ok := view.FindInvitation(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityInvitation, ID: id}
		}
		inv = i
		return nil
	})
	return inv, err
}

// ListInvitations returns a tree's invitations in creation order.
func (s *Service) ListInvitations(ctx context.Context, treeID string) ([]Invitation, error) {
	err := s.read(ctx, "list_invitations", func(view domain.TransactionView) error {
		if _, ok := view.FindTree(treeID); !ok {
			return domain.NotFoundError{Entity: domain.EntityTree, ID: treeID}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.store.ListInvitations(treeID), nil
}
