// Package domain defines the persistent family-graph entities, value types, and
// rule evaluation primitives used by dynastycore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence tables.
const (
	// EntityMember identifies a family member record.
	EntityMember EntityType = "member"
	// EntityTree identifies a family tree record.
	EntityTree EntityType = "family_tree"
	// EntityInvitation identifies a tree invitation record.
	EntityInvitation EntityType = "invitation"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Gender enumerates the member genders recognised by the projector and validators.
type Gender string

// Canonical genders.
const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Valid reports whether g is one of the canonical genders.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	default:
		return false
	}
}

// Base contains common fields for all domain records. Version is bumped by the
// store on every committed write and drives optimistic concurrency checks.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// MemberAttributes holds the descriptive, non-relational fields of a member.
type MemberAttributes struct {
	DisplayName  string     `json:"display_name" validate:"required,max=200"`
	Gender       Gender     `json:"gender" validate:"required,oneof=male female other"`
	BirthDate    *time.Time `json:"birth_date,omitempty"`
	DeathDate    *time.Time `json:"death_date,omitempty"`
	Biography    string     `json:"biography,omitempty" validate:"max=10000"`
	ProfileImage string     `json:"profile_image,omitempty" validate:"max=1024"`
}

// Member is a person node in a family tree. The relationship sets are kept
// symmetric by the service layer: every edge stored here has its inverse
// stored on the referenced member.
type Member struct {
	Base
	MemberAttributes
	TreeID   string `json:"tree_id"`
	Parents  []Edge `json:"parents"`
	Children []Edge `json:"children"`
	Spouses  []Edge `json:"spouses"`
	Siblings []Edge `json:"siblings"`
}

// Edges returns the relationship set for the given kind.
func (m Member) Edges(kind EdgeKind) []Edge {
	switch kind {
	case EdgeParent:
		return m.Parents
	case EdgeChild:
		return m.Children
	case EdgeSpouse:
		return m.Spouses
	case EdgeSibling:
		return m.Siblings
	default:
		return nil
	}
}

// SetEdges replaces the relationship set for the given kind.
func (m *Member) SetEdges(kind EdgeKind, edges []Edge) {
	switch kind {
	case EdgeParent:
		m.Parents = edges
	case EdgeChild:
		m.Children = edges
	case EdgeSpouse:
		m.Spouses = edges
	case EdgeSibling:
		m.Siblings = edges
	}
}

// EdgeTo returns the edge of the given kind pointing at id, if any.
func (m Member) EdgeTo(kind EdgeKind, id string) (Edge, bool) {
	return FindEdge(m.Edges(kind), id)
}

// ParentIDs lists the ids of the member's parents.
func (m Member) ParentIDs() []string {
	return EdgeIDs(m.Parents)
}

// FamilyTree groups members and names the members allowed to administer it.
type FamilyTree struct {
	Base
	Name          string   `json:"name"`
	CreatedBy     string   `json:"created_by"`
	MemberIDs     []string `json:"member_ids"`
	AdminIDs      []string `json:"admin_ids"`
	LastUpdatedBy string   `json:"last_updated_by,omitempty"`
}

// HasMember reports whether id belongs to the tree.
func (t FamilyTree) HasMember(id string) bool {
	return containsID(t.MemberIDs, id)
}

// IsAdmin reports whether id administers the tree.
func (t FamilyTree) IsAdmin(id string) bool {
	return containsID(t.AdminIDs, id)
}

// InvitationStatus enumerates the invitation lifecycle states.
type InvitationStatus string

// Invitation statuses. Accepted and rejected are terminal.
const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s InvitationStatus) Terminal() bool {
	return s == InvitationAccepted || s == InvitationRejected
}

// Valid reports whether s is a recognised status.
func (s InvitationStatus) Valid() bool {
	return s == InvitationPending || s.Terminal()
}

// Invitee describes the person being invited and the member record proposed for them.
type Invitee struct {
	Email      string           `json:"email" validate:"omitempty,email"`
	Attributes MemberAttributes `json:"attributes"`
}

// ProposedRelation captures how an invited member will be wired into the tree on acceptance.
type ProposedRelation struct {
	Relation       Relation `json:"relation" validate:"omitempty,oneof=parent child spouse sibling"`
	TargetMemberID string   `json:"target_member_id,omitempty"`
	EdgeType       EdgeType `json:"edge_type,omitempty"`
}

// Invitation proposes adding a new member to a tree.
type Invitation struct {
	Base
	TreeID           string           `json:"tree_id"`
	InvitedBy        string           `json:"invited_by"`
	Invitee          Invitee          `json:"invitee"`
	ProposedRelation ProposedRelation `json:"proposed_relation"`
	Status           InvitationStatus `json:"status"`
	ExpiresAt        time.Time        `json:"expires_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	MemberID         string           `json:"member_id,omitempty"`
}

// Expired reports whether the invitation is past its expiry at now.
func (i Invitation) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Change describes a mutation applied to an entity during a transaction.
// Before and After hold typed record values (Member, FamilyTree, Invitation).
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns only the blocking violations.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	blocking := e.Result.Blocking()
	if len(blocking) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + blocking[0].Message
}

func containsID(values []string, id string) bool {
	for _, v := range values {
		if v == id {
			return true
		}
	}
	return false
}
