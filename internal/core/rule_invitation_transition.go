package core

import (
	"context"
	"fmt"

	"dynastycore/pkg/domain"
)

const invitationTransitionRuleName = "invitation_transition"

// InvitationTransitionRule blocks illegal invitation status changes: unknown
// statuses, leaving a terminal status, and acceptances that name no member.
func InvitationTransitionRule() domain.Rule {
	return invitationTransitionRule{}
}

type invitationTransitionRule struct{}

func (invitationTransitionRule) Name() string { return invitationTransitionRuleName }

func (invitationTransitionRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityInvitation {
			continue
		}
		after, ok := change.After.(domain.Invitation)
		if !ok {
			continue
		}
		if !after.Status.Valid() {
			res.Violations = append(res.Violations, invitationViolation(after.ID, fmt.Sprintf("invitation %s has invalid status %q", after.ID, after.Status)))
			continue
		}
		if after.Status == domain.InvitationAccepted {
			if _, exists := view.FindMember(after.MemberID); !exists {
				res.Violations = append(res.Violations, invitationViolation(after.ID, fmt.Sprintf("accepted invitation %s references missing member %q", after.ID, after.MemberID)))
			}
		}
		before, ok := change.Before.(domain.Invitation)
		if !ok {
			if change.Action == domain.ActionCreate && after.Status != domain.InvitationPending {
				res.Violations = append(res.Violations, invitationViolation(after.ID, fmt.Sprintf("invitation %s must be created pending", after.ID)))
			}
			continue
		}
		if before.Status.Terminal() && after.Status != before.Status {
			res.Violations = append(res.Violations, invitationViolation(after.ID, fmt.Sprintf("cannot move invitation %s from %s to %s", after.ID, before.Status, after.Status)))
		}
	}
	return res, nil
}

func invitationViolation(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     invitationTransitionRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityInvitation,
		EntityID: id,
	}
}
