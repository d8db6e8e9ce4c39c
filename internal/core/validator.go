package core

import (
	"errors"
	"fmt"
	"strings"

	"dynastycore/pkg/domain"

	"github.com/go-playground/validator/v10"
)

// Violation rule names raised by the relationship validator.
const (
	RuleSelfReference = "self_reference"
	RuleDuplicateEdge = "duplicate_edge"
	RuleEdgeType      = "edge_type"
	RuleCycle         = "cycle"
	RuleDerivedEdge   = "derived_edge"
	RuleAncestryBound = "ancestry_bound"
	RuleMissingEdge   = "missing_edge"
	RuleAttributes    = "attributes"
	RuleLastAdmin     = "last_admin"
	RuleExpired       = "invitation_expired"
	RuleNoParents     = "sibling_without_parents"
)

// EdgeOp is one requested edge mutation: From gains or loses an edge of Kind
// pointing at To. {EdgeParent, "a", "b"} makes b a parent of a.
type EdgeOp struct {
	Kind EdgeKind
	From string
	To   string
	Type EdgeType
}

// Delta is a batch of edge mutations validated against a single snapshot.
// Removals apply before additions.
type Delta struct {
	// TreeID scopes the batch; members outside the tree are reported missing.
	TreeID string
	Remove []EdgeOp
	Add    []EdgeOp
	// Bound caps the number of members the ancestry search may visit. Zero
	// leaves the search bounded only by the graph itself.
	Bound int
}

// Empty reports whether the delta carries no operations.
func (d Delta) Empty() bool {
	return len(d.Remove) == 0 && len(d.Add) == 0
}

// ParentChanges lists, in first-seen order, the members whose parent set the
// delta changes. The delta must be normalized.
func (d Delta) ParentChanges() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ops := range [][]EdgeOp{d.Remove, d.Add} {
		for _, op := range ops {
			if op.Kind != domain.EdgeParent {
				continue
			}
			if _, ok := seen[op.From]; ok {
				continue
			}
			seen[op.From] = struct{}{}
			out = append(out, op.From)
		}
	}
	return out
}

type opKey struct {
	kind     EdgeKind
	from, to string
}

func (op EdgeOp) key() opKey { return opKey{kind: op.Kind, from: op.From, to: op.To} }

type pairKey struct{ a, b string }

func pairOf(x, y string) pairKey {
	if y < x {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// Validator checks relationship deltas and member attributes. Edge validation is
// pure: it reads through the supplied MemberReader and never writes.
type Validator struct {
	attrs *validator.Validate
}

// NewValidator constructs a validator with struct-tag checks for member input.
func NewValidator() *Validator {
	return &Validator{attrs: validator.New()}
}

// Validate normalizes delta and checks it against the snapshot in r. It returns
// the approved delta or a ValidationError (NotFoundError for absent members).
//
// Normalization turns child ops into parent ops seen from the child, orders
// spouse pairs, fills default edge types, collapses repeated ops and drops
// removals of edges that do not exist. Checks then run in order: self
// reference, missing members, duplicate edges, type compatibility, acyclicity.
func (v *Validator) Validate(delta Delta, r MemberReader) (Delta, error) {
	var kindViolations []Violation
	for _, op := range append(append([]EdgeOp(nil), delta.Remove...), delta.Add...) {
		switch {
		case op.Kind == domain.EdgeSibling:
			kindViolations = append(kindViolations, edgeViolation(RuleDerivedEdge, op.From, fmt.Sprintf("sibling edge %s-%s cannot be set directly", op.From, op.To)))
		case !op.Kind.Valid():
			kindViolations = append(kindViolations, edgeViolation(RuleEdgeType, op.From, fmt.Sprintf("unknown relationship kind %q", op.Kind)))
		}
	}
	if len(kindViolations) > 0 {
		return Delta{}, domain.ValidationError{Violations: kindViolations}
	}

	out := Delta{TreeID: delta.TreeID, Bound: delta.Bound}
	var dupViolations []Violation
	removed := make(map[opKey]struct{})
	for _, op := range delta.Remove {
		op = normalizeOp(op)
		if _, ok := removed[op.key()]; ok {
			continue
		}
		removed[op.key()] = struct{}{}
		out.Remove = append(out.Remove, op)
	}
	added := make(map[opKey]EdgeOp)
	for _, op := range delta.Add {
		op = normalizeOp(op)
		if prev, ok := added[op.key()]; ok {
			if prev.Type != op.Type {
				dupViolations = append(dupViolations, edgeViolation(RuleDuplicateEdge, op.From, fmt.Sprintf("%s edge %s-%s requested twice with types %s and %s", op.Kind, op.From, op.To, prev.Type, op.Type)))
			}
			continue
		}
		added[op.key()] = op
		out.Add = append(out.Add, op)
	}

	var selfViolations []Violation
	for _, op := range append(append([]EdgeOp(nil), out.Remove...), out.Add...) {
		if op.From == op.To {
			selfViolations = append(selfViolations, edgeViolation(RuleSelfReference, op.From, fmt.Sprintf("member %s cannot be its own %s", op.From, op.Kind)))
		}
	}
	if len(selfViolations) > 0 {
		return Delta{}, domain.ValidationError{Violations: selfViolations}
	}

	members := make(map[string]Member)
	for _, op := range append(append([]EdgeOp(nil), out.Remove...), out.Add...) {
		for _, id := range []string{op.From, op.To} {
			if _, ok := members[id]; ok {
				continue
			}
			m, ok := r.FindMember(id)
			if !ok || (delta.TreeID != "" && m.TreeID != delta.TreeID) {
				return Delta{}, domain.NotFoundError{Entity: domain.EntityMember, ID: id}
			}
			members[id] = m
		}
	}

	kept := out.Remove[:0]
	for _, op := range out.Remove {
		if hasNormalizedEdge(members[op.From], op) {
			kept = append(kept, op)
		} else {
			delete(removed, op.key())
		}
	}
	out.Remove = kept

	pairs := make(map[pairKey]int)
	for _, op := range out.Add {
		pk := pairOf(op.From, op.To)
		pairs[pk]++
		if pairs[pk] == 2 {
			dupViolations = append(dupViolations, edgeViolation(RuleDuplicateEdge, op.From, fmt.Sprintf("members %s and %s linked twice in one request", pk.a, pk.b)))
		}
		for _, existing := range primaryEdgeKeys(members[op.From], op.To) {
			if _, ok := removed[existing]; ok {
				continue
			}
			dupViolations = append(dupViolations, edgeViolation(RuleDuplicateEdge, op.From, fmt.Sprintf("members %s and %s are already related", op.From, op.To)))
		}
	}
	if len(dupViolations) == 0 {
		dupViolations = checkSiblingPairs(out, r)
	}
	if len(dupViolations) > 0 {
		return Delta{}, domain.ValidationError{Violations: dupViolations}
	}

	var typeViolations []Violation
	for _, op := range out.Add {
		if !op.Kind.Allows(op.Type) {
			typeViolations = append(typeViolations, edgeViolation(RuleEdgeType, op.From, fmt.Sprintf("%s edge %s-%s cannot have type %q", op.Kind, op.From, op.To, op.Type)))
		}
	}
	if len(typeViolations) > 0 {
		return Delta{}, domain.ValidationError{Violations: typeViolations}
	}

	if err := checkAcyclic(out, r); err != nil {
		return Delta{}, err
	}
	return out, nil
}

func normalizeOp(op EdgeOp) EdgeOp {
	switch op.Kind {
	case domain.EdgeChild:
		op = EdgeOp{Kind: domain.EdgeParent, From: op.To, To: op.From, Type: op.Type}
	case domain.EdgeSpouse:
		if op.To < op.From {
			op.From, op.To = op.To, op.From
		}
	}
	if op.Type == "" {
		op.Type = op.Kind.DefaultType()
	}
	return op
}

func hasNormalizedEdge(from Member, op EdgeOp) bool {
	_, ok := from.EdgeTo(op.Kind, op.To)
	return ok
}

// primaryEdgeKeys returns the normalized keys of every stored primary edge
// between m and other.
func primaryEdgeKeys(m Member, other string) []opKey {
	var keys []opKey
	if _, ok := m.EdgeTo(domain.EdgeParent, other); ok {
		keys = append(keys, opKey{kind: domain.EdgeParent, from: m.ID, to: other})
	}
	if _, ok := m.EdgeTo(domain.EdgeChild, other); ok {
		keys = append(keys, opKey{kind: domain.EdgeParent, from: other, to: m.ID})
	}
	if _, ok := m.EdgeTo(domain.EdgeSpouse, other); ok {
		pk := pairOf(m.ID, other)
		keys = append(keys, opKey{kind: domain.EdgeSpouse, from: pk.a, to: pk.b})
	}
	return keys
}

// graphAfter answers queries against the graph as it will look once a
// normalized delta is applied.
type graphAfter struct {
	r        MemberReader
	removed  map[opKey]struct{}
	added    map[opKey]struct{}
	parents  map[string][]string
	children map[string][]string
}

func newGraphAfter(d Delta, r MemberReader) graphAfter {
	g := graphAfter{
		r:        r,
		removed:  make(map[opKey]struct{}, len(d.Remove)),
		added:    make(map[opKey]struct{}, len(d.Add)),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
	for _, op := range d.Remove {
		g.removed[op.key()] = struct{}{}
	}
	for _, op := range d.Add {
		g.added[op.key()] = struct{}{}
		if op.Kind == domain.EdgeParent {
			g.parents[op.From] = append(g.parents[op.From], op.To)
			g.children[op.To] = append(g.children[op.To], op.From)
		}
	}
	return g
}

func (g graphAfter) parentsOf(id string) []string {
	var out []string
	if m, ok := g.r.FindMember(id); ok {
		for _, p := range m.ParentIDs() {
			if _, gone := g.removed[opKey{kind: domain.EdgeParent, from: id, to: p}]; !gone {
				out = append(out, p)
			}
		}
	}
	return append(out, g.parents[id]...)
}

func (g graphAfter) childrenOf(id string) []string {
	var out []string
	if m, ok := g.r.FindMember(id); ok {
		for _, c := range m.Children {
			if _, gone := g.removed[opKey{kind: domain.EdgeParent, from: c.MemberID, to: id}]; !gone {
				out = append(out, c.MemberID)
			}
		}
	}
	return append(out, g.children[id]...)
}

// linked reports whether a parent, child or spouse edge joins x and y.
func (g graphAfter) linked(x, y string) bool {
	pk := pairOf(x, y)
	for _, k := range []opKey{
		{kind: domain.EdgeParent, from: x, to: y},
		{kind: domain.EdgeParent, from: y, to: x},
		{kind: domain.EdgeSpouse, from: pk.a, to: pk.b},
	} {
		if _, ok := g.added[k]; ok {
			return true
		}
		if _, gone := g.removed[k]; gone {
			continue
		}
		if m, ok := g.r.FindMember(k.from); ok && hasNormalizedEdge(m, EdgeOp{Kind: k.kind, From: k.from, To: k.to}) {
			return true
		}
	}
	return false
}

func (g graphAfter) shareParent(x, y string) bool {
	px := make(map[string]struct{})
	for _, p := range g.parentsOf(x) {
		px[p] = struct{}{}
	}
	for _, p := range g.parentsOf(y) {
		if _, ok := px[p]; ok {
			return true
		}
	}
	return false
}

// checkSiblingPairs rejects additions that would leave a pair both siblings
// and otherwise related: a new edge between members sharing a parent, or a new
// parent whose other children are already related to the child.
func checkSiblingPairs(d Delta, r MemberReader) []Violation {
	g := newGraphAfter(d, r)
	var violations []Violation
	for _, op := range d.Add {
		if g.shareParent(op.From, op.To) {
			violations = append(violations, edgeViolation(RuleDuplicateEdge, op.From, fmt.Sprintf("members %s and %s are siblings", op.From, op.To)))
		}
		if op.Kind != domain.EdgeParent {
			continue
		}
		for _, c := range g.childrenOf(op.To) {
			if c != op.From && g.linked(op.From, c) {
				violations = append(violations, edgeViolation(RuleDuplicateEdge, op.From, fmt.Sprintf("members %s and %s would be siblings and are already related", op.From, c)))
			}
		}
	}
	return violations
}

// checkAcyclic runs a breadth-first ancestor search from every new parent over
// the post-delta parent sets and rejects the batch if the child is reachable.
func checkAcyclic(d Delta, r MemberReader) error {
	parentsOf := newGraphAfter(d, r).parentsOf

	var violations []Violation
	for _, op := range d.Add {
		if op.Kind != domain.EdgeParent {
			continue
		}
		visited := map[string]struct{}{op.To: {}}
		queue := []string{op.To}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			if current == op.From {
				violations = append(violations, edgeViolation(RuleCycle, op.From, fmt.Sprintf("member %s is already an ancestor of %s", op.From, op.To)))
				break
			}
			if d.Bound > 0 && len(visited) > d.Bound {
				violations = append(violations, edgeViolation(RuleAncestryBound, op.From, fmt.Sprintf("ancestry of %s exceeds %d members", op.To, d.Bound)))
				break
			}
			for _, p := range parentsOf(current) {
				if _, ok := visited[p]; ok {
					continue
				}
				visited[p] = struct{}{}
				queue = append(queue, p)
			}
		}
	}
	if len(violations) > 0 {
		return domain.ValidationError{Violations: violations}
	}
	return nil
}

func edgeViolation(rule, memberID, message string) Violation {
	return Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityMember,
		EntityID: memberID,
	}
}

// ValidateAttributes checks member attributes against their struct tags and
// requires a death date, when present, not to precede the birth date.
func (v *Validator) ValidateAttributes(attrs MemberAttributes) error {
	if err := v.ValidateStruct(attrs); err != nil {
		return err
	}
	if attrs.BirthDate != nil && attrs.DeathDate != nil && attrs.DeathDate.Before(*attrs.BirthDate) {
		return domain.ValidationError{Violations: []Violation{{
			Rule:     RuleAttributes,
			Severity: domain.SeverityBlock,
			Message:  "death date precedes birth date",
			Entity:   domain.EntityMember,
		}}}
	}
	return nil
}

// ValidateStruct runs tag validation on an input struct and converts failures
// to a ValidationError.
func (v *Validator) ValidateStruct(input any) error {
	err := v.attrs.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.ValidationError{Message: err.Error()}
	}
	violations := make([]Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, Violation{
			Rule:     RuleAttributes,
			Severity: domain.SeverityBlock,
			Message:  fieldMessage(fe),
		})
	}
	return domain.ValidationError{Violations: violations}
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
