package core

import "dynastycore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Member             = domain.Member
	MemberAttributes   = domain.MemberAttributes
	FamilyTree         = domain.FamilyTree
	Invitation         = domain.Invitation
	Invitee            = domain.Invitee
	ProposedRelation   = domain.ProposedRelation
	Edge               = domain.Edge
	EdgeKind           = domain.EdgeKind
	EdgeType           = domain.EdgeType
	Relation           = domain.Relation
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityMember     = domain.EntityMember
	EntityTree       = domain.EntityTree
	EntityInvitation = domain.EntityInvitation
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// MemberReader is the read access the validator and sibling deriver need.
// Transactions and committed views both satisfy it.
type MemberReader interface {
	FindMember(id string) (Member, bool)
}
