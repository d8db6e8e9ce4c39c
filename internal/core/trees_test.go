package core_test

import (
	"context"
	"testing"
	"time"

	"dynastycore/internal/core"
	"dynastycore/pkg/domain"
)

func invite(t *testing.T, svc *core.Service, treeID, callerID, name string, rel core.ProposedRelation) core.Invitation {
	t.Helper()
	inv, _, err := svc.CreateInvitation(context.Background(), core.CreateInvitationInput{
		TreeID:           treeID,
		CallerID:         callerID,
		Invitee:          core.Invitee{Email: "guest@example.com", Attributes: person(name)},
		ProposedRelation: rel,
	})
	if err != nil {
		t.Fatalf("create invitation for %s: %v", name, err)
	}
	return inv
}

func TestInvitationAcceptIsIdempotent(t *testing.T) {
	clock := newManualClock()
	svc := core.NewInMemoryService(nil, core.WithClock(clock))
	ctx := context.Background()
	tree, root := newFamily(t, svc)

	inv := invite(t, svc, tree.ID, root.ID, "Guest", core.ProposedRelation{Relation: domain.RelationChild, TargetMemberID: root.ID})
	if inv.Status != domain.InvitationPending {
		t.Fatalf("expected pending invitation, got %s", inv.Status)
	}
	if want := clock.Now().Add(core.DefaultInvitationTTL); !inv.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, inv.ExpiresAt)
	}

	accepted, _, err := svc.AcceptInvitation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.InvitationAccepted || accepted.MemberID == "" || accepted.ResolvedAt == nil {
		t.Fatalf("unexpected accepted invitation: %+v", accepted)
	}
	member := mustMember(t, svc, accepted.MemberID)
	if member.DisplayName != "Guest" || member.TreeID != tree.ID {
		t.Fatalf("unexpected invited member: %+v", member)
	}
	expectEdges(t, "invited member parents", member.Parents, edge(root.ID, domain.EdgeBlood))

	treeBefore := mustTree(t, svc, tree.ID)
	again, _, err := svc.AcceptInvitation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if again.Version != accepted.Version || again.MemberID != accepted.MemberID {
		t.Fatalf("second accept changed invitation: %+v vs %+v", again, accepted)
	}
	if treeAfter := mustTree(t, svc, tree.ID); treeAfter.Version != treeBefore.Version {
		t.Fatalf("second accept changed the tree")
	}

	rejected, _, err := svc.RejectInvitation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("reject accepted: %v", err)
	}
	if rejected.Status != domain.InvitationAccepted {
		t.Fatalf("rejecting an accepted invitation must not change it, got %s", rejected.Status)
	}
}

func TestInvitationReject(t *testing.T) {
	svc := core.NewInMemoryService(nil)
	ctx := context.Background()
	tree, root := newFamily(t, svc)
	inv := invite(t, svc, tree.ID, root.ID, "Guest", core.ProposedRelation{})

	rejected, _, err := svc.RejectInvitation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.InvitationRejected || rejected.ResolvedAt == nil {
		t.Fatalf("unexpected rejected invitation: %+v", rejected)
	}
	accepted, _, err := svc.AcceptInvitation(ctx, inv.ID)
	if err != nil {
		t.Fatalf("accept rejected: %v", err)
	}
	if accepted.Status != domain.InvitationRejected || accepted.MemberID != "" {
		t.Fatalf("accepting a rejected invitation must not change it: %+v", accepted)
	}
	if got := len(mustTree(t, svc, tree.ID).MemberIDs); got != 1 {
		t.Fatalf("rejected invitation added a member, tree has %d", got)
	}
}

func TestInvitationExpiry(t *testing.T) {
	clock := newManualClock()
	svc := core.NewInMemoryService(nil, core.WithClock(clock), core.WithInvitationTTL(time.Hour))
	ctx := context.Background()
	tree, root := newFamily(t, svc)
	first := invite(t, svc, tree.ID, root.ID, "Late", core.ProposedRelation{})
	clock.Advance(time.Minute)
	second := invite(t, svc, tree.ID, root.ID, "Later", core.ProposedRelation{})

	clock.Advance(2 * time.Hour)
	_, _, err := svc.AcceptInvitation(ctx, first.ID)
	expectRule(t, err, core.RuleExpired)
	if got, _ := svc.GetInvitation(ctx, first.ID); got.Status != domain.InvitationPending {
		t.Fatalf("failed accept changed status to %s", got.Status)
	}

	rejected, _, err := svc.RejectInvitation(ctx, second.ID)
	if err != nil {
		t.Fatalf("reject expired: %v", err)
	}
	if rejected.Status != domain.InvitationRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}

	list, err := svc.ListInvitations(ctx, tree.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("unexpected invitation list: %+v", list)
	}
}

func TestInvitationErrors(t *testing.T) {
	svc := core.NewInMemoryService(nil)
	ctx := context.Background()
	tree, root := newFamily(t, svc)
	child := addMember(t, svc, tree.ID, root.ID, "Child", domain.RelationChild, root.ID)

	_, _, err := svc.CreateInvitation(ctx, core.CreateInvitationInput{TreeID: tree.ID, CallerID: child.ID, Invitee: core.Invitee{Attributes: person("X")}})
	expectKind(t, err, domain.KindPermission)

	_, _, err = svc.CreateInvitation(ctx, core.CreateInvitationInput{
		TreeID: tree.ID, CallerID: root.ID, Invitee: core.Invitee{Attributes: person("X")},
		ProposedRelation: core.ProposedRelation{Relation: domain.RelationSibling, TargetMemberID: root.ID},
	})
	expectRule(t, err, core.RuleNoParents)

	_, _, err = svc.CreateInvitation(ctx, core.CreateInvitationInput{
		TreeID: tree.ID, CallerID: root.ID, Invitee: core.Invitee{Attributes: person("X")},
		ProposedRelation: core.ProposedRelation{Relation: domain.RelationChild, TargetMemberID: "ghost"},
	})
	expectNotFound(t, err, domain.EntityMember)

	_, _, err = svc.CreateInvitation(ctx, core.CreateInvitationInput{
		TreeID: tree.ID, CallerID: root.ID, Invitee: core.Invitee{Email: "not-an-email", Attributes: person("X")},
	})
	expectRule(t, err, core.RuleAttributes)

	_, _, err = svc.AcceptInvitation(ctx, "ghost")
	expectNotFound(t, err, domain.EntityInvitation)
	_, err = svc.ListInvitations(ctx, "ghost")
	expectNotFound(t, err, domain.EntityTree)
}

func TestInvitationAcceptRevalidatesTarget(t *testing.T) {
	svc := core.NewInMemoryService(nil)
	ctx := context.Background()
	tree, root := newFamily(t, svc)
	child := addMember(t, svc, tree.ID, root.ID, "Child", domain.RelationChild, root.ID)
	inv := invite(t, svc, tree.ID, root.ID, "Guest", core.ProposedRelation{Relation: domain.RelationSpouse, TargetMemberID: child.ID})

	if _, err := svc.DeleteMember(ctx, child.ID, tree.ID, root.ID); err != nil {
		t.Fatalf("delete target: %v", err)
	}
	_, _, err := svc.AcceptInvitation(ctx, inv.ID)
	expectNotFound(t, err, domain.EntityMember)
	if got, _ := svc.GetInvitation(ctx, inv.ID); got.Status != domain.InvitationPending {
		t.Fatalf("failed accept must leave the invitation pending, got %s", got.Status)
	}
}

func TestAdminRoles(t *testing.T) {
	svc := core.NewInMemoryService(nil)
	ctx := context.Background()
	tree, root := newFamily(t, svc)
	child := addMember(t, svc, tree.ID, root.ID, "Child", domain.RelationChild, root.ID)

	_, _, err := svc.PromoteToAdmin(ctx, child.ID, tree.ID, child.ID)
	expectKind(t, err, domain.KindPermission)

	promoted, _, err := svc.PromoteToAdmin(ctx, child.ID, tree.ID, root.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !promoted.IsAdmin(child.ID) || len(promoted.AdminIDs) != 2 {
		t.Fatalf("unexpected admins after promote: %v", promoted.AdminIDs)
	}
	again, _, err := svc.PromoteToAdmin(ctx, child.ID, tree.ID, root.ID)
	if err != nil {
		t.Fatalf("promote again: %v", err)
	}
	if len(again.AdminIDs) != 2 || again.Version != promoted.Version {
		t.Fatalf("promoting an admin must change nothing: %+v", again)
	}

	demoted, _, err := svc.DemoteToMember(ctx, root.ID, tree.ID, child.ID)
	if err != nil {
		t.Fatalf("demote root: %v", err)
	}
	if demoted.IsAdmin(root.ID) || len(demoted.AdminIDs) != 1 {
		t.Fatalf("unexpected admins after demote: %v", demoted.AdminIDs)
	}
	if _, _, err := svc.DemoteToMember(ctx, root.ID, tree.ID, child.ID); err != nil {
		t.Fatalf("demoting a non-admin should be a no-op: %v", err)
	}

	_, _, err = svc.DemoteToMember(ctx, child.ID, tree.ID, child.ID)
	expectRule(t, err, core.RuleLastAdmin)
	if !mustTree(t, svc, tree.ID).IsAdmin(child.ID) {
		t.Fatalf("last admin was demoted")
	}

	_, _, err = svc.PromoteToAdmin(ctx, "ghost", tree.ID, child.ID)
	expectNotFound(t, err, domain.EntityMember)
}
