package memory

import (
	"time"

	"dynastycore/pkg/domain"
)

func cloneMember(m Member) Member {
	cp := m
	cp.BirthDate = cloneTime(m.BirthDate)
	cp.DeathDate = cloneTime(m.DeathDate)
	cp.Parents = cloneEdges(m.Parents)
	cp.Children = cloneEdges(m.Children)
	cp.Spouses = cloneEdges(m.Spouses)
	cp.Siblings = cloneEdges(m.Siblings)
	return cp
}

func cloneTree(t FamilyTree) FamilyTree {
	cp := t
	cp.MemberIDs = append([]string(nil), t.MemberIDs...)
	cp.AdminIDs = append([]string(nil), t.AdminIDs...)
	return cp
}

func cloneInvitation(i Invitation) Invitation {
	cp := i
	cp.ResolvedAt = cloneTime(i.ResolvedAt)
	cp.Invitee.Attributes.BirthDate = cloneTime(i.Invitee.Attributes.BirthDate)
	cp.Invitee.Attributes.DeathDate = cloneTime(i.Invitee.Attributes.DeathDate)
	return cp
}

func cloneEdges(edges []domain.Edge) []domain.Edge {
	if edges == nil {
		return nil
	}
	return append([]domain.Edge(nil), edges...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
