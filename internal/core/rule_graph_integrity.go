package core

import (
	"context"
	"fmt"

	"dynastycore/pkg/domain"
)

const graphIntegrityRuleName = "graph_integrity"

// GraphIntegrityRule re-checks the relationship graph around every member and
// tree written by a transaction: edge symmetry, self references, one primary
// edge per pair, acyclic parentage, derived sibling closure, single tree
// membership and admin containment.
func GraphIntegrityRule() domain.Rule {
	return graphIntegrityRule{}
}

type graphIntegrityRule struct{}

func (graphIntegrityRule) Name() string { return graphIntegrityRuleName }

func (graphIntegrityRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			return domain.Result{}, err
		}
		switch change.Entity {
		case domain.EntityMember:
			if change.After == nil {
				if before, ok := change.Before.(domain.Member); ok {
					checkDeletedMember(&res, view, before)
				}
				continue
			}
			member, ok := change.After.(domain.Member)
			if !ok {
				continue
			}
			// later changes in the same transaction may have superseded this one
			current, ok := view.FindMember(member.ID)
			if !ok {
				continue
			}
			checkMember(&res, view, current)
		case domain.EntityTree:
			tree, ok := change.After.(domain.FamilyTree)
			if !ok {
				continue
			}
			current, ok := view.FindTree(tree.ID)
			if !ok {
				continue
			}
			var before domain.FamilyTree
			if b, ok := change.Before.(domain.FamilyTree); ok {
				before = b
			}
			checkTree(&res, view, before, current)
		}
	}
	res.Violations = dedupeViolations(res.Violations)
	return res, nil
}

func checkMember(res *domain.Result, view domain.RuleView, m domain.Member) {
	primary := make(map[string]domain.EdgeKind)
	for _, kind := range domain.EdgeKinds {
		seen := make(map[string]struct{})
		for _, e := range m.Edges(kind) {
			if e.MemberID == m.ID {
				res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s lists itself as %s", m.ID, kind)))
				continue
			}
			if _, dup := seen[e.MemberID]; dup {
				res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s lists %s %s more than once", m.ID, kind, e.MemberID)))
				continue
			}
			seen[e.MemberID] = struct{}{}
			if !kind.Allows(e.Type) {
				res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s has %s edge to %s with type %q", m.ID, kind, e.MemberID, e.Type)))
			}
			if kind != domain.EdgeSibling {
				if prev, ok := primary[e.MemberID]; ok {
					res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s is both %s and %s of %s", e.MemberID, prev, kind, m.ID)))
				}
				primary[e.MemberID] = kind
			}
			other, ok := view.FindMember(e.MemberID)
			if !ok {
				res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s references missing member %s", m.ID, e.MemberID)))
				continue
			}
			if other.TreeID != m.TreeID {
				res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s is linked to %s outside its tree", m.ID, e.MemberID)))
			}
			inverse, ok := other.EdgeTo(kind.Inverse(), m.ID)
			if !ok || inverse.Type != e.Type {
				res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("%s edge %s->%s has no matching %s edge", kind, m.ID, e.MemberID, kind.Inverse())))
			}
		}
	}

	for _, e := range m.Siblings {
		if kind, ok := primary[e.MemberID]; ok {
			res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s is both sibling and %s of %s", e.MemberID, kind, m.ID)))
		}
	}

	if !domain.EqualEdges(m.Siblings, siblingsOf(view, m)) {
		res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s siblings do not match shared parentage", m.ID)))
	}

	if hasAncestor(view, m.ID, m.ID) {
		res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s is its own ancestor", m.ID)))
	}

	tree, ok := view.FindTree(m.TreeID)
	if !ok || !tree.HasMember(m.ID) {
		res.Violations = append(res.Violations, memberViolation(m.ID, fmt.Sprintf("member %s is not listed by tree %q", m.ID, m.TreeID)))
	}
}

func checkDeletedMember(res *domain.Result, view domain.RuleView, before domain.Member) {
	for _, kind := range domain.EdgeKinds {
		for _, e := range before.Edges(kind) {
			other, ok := view.FindMember(e.MemberID)
			if !ok {
				continue
			}
			if _, dangling := other.EdgeTo(kind.Inverse(), before.ID); dangling {
				res.Violations = append(res.Violations, memberViolation(other.ID, fmt.Sprintf("member %s still references deleted member %s", other.ID, before.ID)))
			}
		}
	}
	if tree, ok := view.FindTree(before.TreeID); ok && (tree.HasMember(before.ID) || tree.IsAdmin(before.ID)) {
		res.Violations = append(res.Violations, treeViolation(tree.ID, fmt.Sprintf("tree %s still lists deleted member %s", tree.ID, before.ID)))
	}
}

func checkTree(res *domain.Result, view domain.RuleView, before, tree domain.FamilyTree) {
	if len(tree.AdminIDs) == 0 {
		res.Violations = append(res.Violations, treeViolation(tree.ID, fmt.Sprintf("tree %s has no admin", tree.ID)))
	}
	for _, id := range tree.AdminIDs {
		if !tree.HasMember(id) {
			res.Violations = append(res.Violations, treeViolation(tree.ID, fmt.Sprintf("admin %s is not a member of tree %s", id, tree.ID)))
		}
	}
	seen := make(map[string]struct{}, len(tree.MemberIDs))
	for _, id := range tree.MemberIDs {
		if _, dup := seen[id]; dup {
			res.Violations = append(res.Violations, treeViolation(tree.ID, fmt.Sprintf("tree %s lists member %s twice", tree.ID, id)))
			continue
		}
		seen[id] = struct{}{}
		if before.HasMember(id) {
			continue
		}
		m, ok := view.FindMember(id)
		if !ok {
			res.Violations = append(res.Violations, treeViolation(tree.ID, fmt.Sprintf("tree %s lists missing member %s", tree.ID, id)))
			continue
		}
		if m.TreeID != tree.ID {
			res.Violations = append(res.Violations, treeViolation(tree.ID, fmt.Sprintf("member %s belongs to tree %s, not %s", id, m.TreeID, tree.ID)))
		}
	}
}

// hasAncestor reports whether target is reachable from id by following parent edges.
func hasAncestor(view domain.TransactionView, id, target string) bool {
	start, ok := view.FindMember(id)
	if !ok {
		return false
	}
	visited := make(map[string]struct{})
	queue := start.ParentIDs()
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == target {
			return true
		}
		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}
		if m, ok := view.FindMember(current); ok {
			queue = append(queue, m.ParentIDs()...)
		}
	}
	return false
}

func memberViolation(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     graphIntegrityRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityMember,
		EntityID: id,
	}
}

func treeViolation(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     graphIntegrityRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityTree,
		EntityID: id,
	}
}

func dedupeViolations(in []domain.Violation) []domain.Violation {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		key := string(v.Entity) + "\x00" + v.EntityID + "\x00" + v.Message
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
