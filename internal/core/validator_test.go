package core_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"dynastycore/internal/core"
	"dynastycore/pkg/domain"
)

// graph is a MemberReader over hand-built member records.
type graph map[string]core.Member

func (g graph) FindMember(id string) (core.Member, bool) {
	m, ok := g[id]
	return m, ok
}

func newGraph(treeID string, ids ...string) graph {
	g := make(graph, len(ids))
	for _, id := range ids {
		g[id] = core.Member{Base: domain.Base{ID: id}, TreeID: treeID}
	}
	return g
}

// parent records p as a parent of c on both endpoints.
func (g graph) parent(c, p string, t core.EdgeType) {
	child, par := g[c], g[p]
	child.Parents = append(child.Parents, core.Edge{MemberID: p, Type: t})
	par.Children = append(par.Children, core.Edge{MemberID: c, Type: t})
	g[c], g[p] = child, par
}

func (g graph) spouse(a, b string, t core.EdgeType) {
	ma, mb := g[a], g[b]
	ma.Spouses = append(ma.Spouses, core.Edge{MemberID: b, Type: t})
	mb.Spouses = append(mb.Spouses, core.Edge{MemberID: a, Type: t})
	g[a], g[b] = ma, mb
}

func expectRule(t *testing.T, err error, rule string) {
	t.Helper()
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error with rule %s, got %v", rule, err)
	}
	if !verr.HasRule(rule) {
		t.Fatalf("expected rule %s, got %+v", rule, verr.Violations)
	}
}

func TestValidateRejectsDirectSiblingEdges(t *testing.T) {
	g := newGraph("t1", "a", "b")
	_, err := core.NewValidator().Validate(core.Delta{
		Add: []core.EdgeOp{{Kind: domain.EdgeSibling, From: "a", To: "b"}},
	}, g)
	expectRule(t, err, core.RuleDerivedEdge)
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	g := newGraph("t1", "a", "b")
	_, err := core.NewValidator().Validate(core.Delta{
		Add: []core.EdgeOp{{Kind: "cousin", From: "a", To: "b"}},
	}, g)
	expectRule(t, err, core.RuleEdgeType)
}

func TestValidateNormalizesOperations(t *testing.T) {
	g := newGraph("t1", "a", "b", "p")
	out, err := core.NewValidator().Validate(core.Delta{
		Add: []core.EdgeOp{
			{Kind: domain.EdgeChild, From: "p", To: "a"},
			{Kind: domain.EdgeSpouse, From: "b", To: "a"},
			{Kind: domain.EdgeChild, From: "p", To: "a"},
		},
	}, g)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(out.Add) != 2 {
		t.Fatalf("expected repeated op to collapse, got %+v", out.Add)
	}
	if want := (core.EdgeOp{Kind: domain.EdgeParent, From: "a", To: "p", Type: domain.EdgeBlood}); out.Add[0] != want {
		t.Fatalf("expected child op seen from child %+v, got %+v", want, out.Add[0])
	}
	if want := (core.EdgeOp{Kind: domain.EdgeSpouse, From: "a", To: "b", Type: domain.EdgeMarried}); out.Add[1] != want {
		t.Fatalf("expected ordered spouse pair %+v, got %+v", want, out.Add[1])
	}
	if got := out.ParentChanges(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected parent change on a, got %v", got)
	}
}

func TestValidateSelfReference(t *testing.T) {
	g := newGraph("t1", "a")
	_, err := core.NewValidator().Validate(core.Delta{
		Add: []core.EdgeOp{{Kind: domain.EdgeSpouse, From: "a", To: "a"}},
	}, g)
	expectRule(t, err, core.RuleSelfReference)
}

func TestValidateMissingMembers(t *testing.T) {
	g := newGraph("t1", "a")
	g["stranger"] = core.Member{Base: domain.Base{ID: "stranger"}, TreeID: "t2"}

	_, err := core.NewValidator().Validate(core.Delta{
		Add: []core.EdgeOp{{Kind: domain.EdgeParent, From: "a", To: "ghost"}},
	}, g)
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "ghost" {
		t.Fatalf("expected not found for ghost, got %v", err)
	}

	_, err = core.NewValidator().Validate(core.Delta{
		TreeID: "t1",
		Add:    []core.EdgeOp{{Kind: domain.EdgeSpouse, From: "a", To: "stranger"}},
	}, g)
	if !errors.As(err, &nf) || nf.ID != "stranger" {
		t.Fatalf("expected member of another tree to be reported missing, got %v", err)
	}
}

func TestValidateDropsRemovalOfAbsentEdge(t *testing.T) {
	g := newGraph("t1", "a", "p")
	out, err := core.NewValidator().Validate(core.Delta{
		Remove: []core.EdgeOp{{Kind: domain.EdgeParent, From: "a", To: "p"}},
	}, g)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !out.Empty() {
		t.Fatalf("expected removal of absent edge to be dropped, got %+v", out)
	}
}

func TestValidateDuplicateEdges(t *testing.T) {
	g := newGraph("t1", "a", "p", "q")
	g.parent("a", "p", domain.EdgeBlood)
	v := core.NewValidator()

	cases := map[string]core.Delta{
		"existing parent": {Add: []core.EdgeOp{{Kind: domain.EdgeParent, From: "a", To: "p"}}},
		"spouse of parent": {Add: []core.EdgeOp{{Kind: domain.EdgeSpouse, From: "p", To: "a"}}},
		"conflicting types": {Add: []core.EdgeOp{
			{Kind: domain.EdgeParent, From: "a", To: "q", Type: domain.EdgeBlood},
			{Kind: domain.EdgeParent, From: "a", To: "q", Type: domain.EdgeAdopted},
		}},
		"pair linked twice": {Add: []core.EdgeOp{
			{Kind: domain.EdgeParent, From: "a", To: "q"},
			{Kind: domain.EdgeSpouse, From: "a", To: "q"},
		}},
	}
	for name, delta := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(delta, g)
			expectRule(t, err, core.RuleDuplicateEdge)
		})
	}
}

func TestValidateRejectsEdgesBetweenSiblings(t *testing.T) {
	g := newGraph("t1", "a", "b", "c", "r", "s")
	g.parent("a", "r", domain.EdgeBlood)
	g.parent("b", "r", domain.EdgeBlood)
	g.spouse("c", "s", domain.EdgeMarried)
	v := core.NewValidator()

	cases := map[string]core.Delta{
		"marry siblings": {Add: []core.EdgeOp{{Kind: domain.EdgeSpouse, From: "a", To: "b"}}},
		"sibling as parent": {Add: []core.EdgeOp{{Kind: domain.EdgeParent, From: "b", To: "a"}}},
		"sibling as child": {Add: []core.EdgeOp{{Kind: domain.EdgeChild, From: "a", To: "b"}}},
		"new parent of spouses": {Add: []core.EdgeOp{{Kind: domain.EdgeParent, From: "c", To: "r"}, {Kind: domain.EdgeParent, From: "s", To: "r"}}},
		"shared parent with spouse": {Add: []core.EdgeOp{{Kind: domain.EdgeParent, From: "c", To: "a"}, {Kind: domain.EdgeParent, From: "s", To: "a"}}},
	}
	for name, delta := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(delta, g)
			expectRule(t, err, core.RuleDuplicateEdge)
		})
	}

	if _, err := v.Validate(core.Delta{
		Remove: []core.EdgeOp{{Kind: domain.EdgeParent, From: "b", To: "r"}},
		Add:    []core.EdgeOp{{Kind: domain.EdgeSpouse, From: "a", To: "b"}},
	}, g); err != nil {
		t.Fatalf("spouse edge after leaving the shared parent should pass: %v", err)
	}
}

func TestValidateAllowsRetypeInOneBatch(t *testing.T) {
	g := newGraph("t1", "a", "p")
	g.parent("a", "p", domain.EdgeBlood)
	out, err := core.NewValidator().Validate(core.Delta{
		Remove: []core.EdgeOp{{Kind: domain.EdgeParent, From: "a", To: "p"}},
		Add:    []core.EdgeOp{{Kind: domain.EdgeParent, From: "a", To: "p", Type: domain.EdgeAdopted}},
	}, g)
	if err != nil {
		t.Fatalf("validate retype: %v", err)
	}
	if len(out.Remove) != 1 || len(out.Add) != 1 {
		t.Fatalf("expected one removal and one addition, got %+v", out)
	}
}

func TestValidateEdgeTypeCompatibility(t *testing.T) {
	g := newGraph("t1", "a", "b")
	v := core.NewValidator()
	_, err := v.Validate(core.Delta{
		Add: []core.EdgeOp{{Kind: domain.EdgeParent, From: "a", To: "b", Type: domain.EdgeMarried}},
	}, g)
	expectRule(t, err, core.RuleEdgeType)

	_, err = v.Validate(core.Delta{
		Add: []core.EdgeOp{{Kind: domain.EdgeSpouse, From: "a", To: "b", Type: domain.EdgeAdopted}},
	}, g)
	expectRule(t, err, core.RuleEdgeType)

	if _, err := v.Validate(core.Delta{
		Add: []core.EdgeOp{{Kind: domain.EdgeSpouse, From: "a", To: "b", Type: domain.EdgeDivorced}},
	}, g); err != nil {
		t.Fatalf("divorced spouse should be accepted: %v", err)
	}
}

func TestValidateRejectsCycles(t *testing.T) {
	g := newGraph("t1", "c", "p", "g")
	g.parent("c", "p", domain.EdgeBlood)
	g.parent("p", "g", domain.EdgeBlood)
	v := core.NewValidator()

	_, err := v.Validate(core.Delta{
		Add: []core.EdgeOp{{Kind: domain.EdgeParent, From: "g", To: "c"}},
	}, g)
	expectRule(t, err, core.RuleCycle)

	h := newGraph("t1", "x", "y", "z")
	_, err = v.Validate(core.Delta{
		Add: []core.EdgeOp{
			{Kind: domain.EdgeParent, From: "x", To: "y"},
			{Kind: domain.EdgeParent, From: "y", To: "z"},
			{Kind: domain.EdgeParent, From: "z", To: "x"},
		},
	}, h)
	expectRule(t, err, core.RuleCycle)
}

func TestValidateReversingAnEdgeInOneBatch(t *testing.T) {
	g := newGraph("t1", "c", "p", "g")
	g.parent("c", "p", domain.EdgeBlood)
	g.parent("p", "g", domain.EdgeBlood)
	_, err := core.NewValidator().Validate(core.Delta{
		Remove: []core.EdgeOp{{Kind: domain.EdgeParent, From: "c", To: "p"}},
		Add:    []core.EdgeOp{{Kind: domain.EdgeParent, From: "p", To: "c"}},
	}, g)
	if err != nil {
		t.Fatalf("expected reversal with removal in the same batch to pass, got %v", err)
	}
}

func TestValidateAncestryBound(t *testing.T) {
	g := newGraph("t1", "n", "c", "p1", "p2", "p3")
	g.parent("c", "p1", domain.EdgeBlood)
	g.parent("p1", "p2", domain.EdgeBlood)
	g.parent("p2", "p3", domain.EdgeBlood)
	v := core.NewValidator()
	delta := core.Delta{Add: []core.EdgeOp{{Kind: domain.EdgeParent, From: "n", To: "c"}}}

	if _, err := v.Validate(delta, g); err != nil {
		t.Fatalf("unbounded search should pass: %v", err)
	}
	delta.Bound = 2
	_, err := v.Validate(delta, g)
	expectRule(t, err, core.RuleAncestryBound)
}

func TestValidateAttributes(t *testing.T) {
	v := core.NewValidator()
	born := time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)
	died := born.AddDate(-1, 0, 0)

	err := v.ValidateAttributes(core.MemberAttributes{DisplayName: "Ada", Gender: domain.GenderFemale, BirthDate: &born, DeathDate: &died})
	expectRule(t, err, core.RuleAttributes)

	err = v.ValidateAttributes(core.MemberAttributes{Gender: "robot"})
	expectRule(t, err, core.RuleAttributes)
	if msg := err.Error(); !strings.Contains(msg, "DisplayName failed required") || !strings.Contains(msg, "Gender failed oneof") {
		t.Fatalf("expected field messages, got %q", msg)
	}

	if err := v.ValidateAttributes(core.MemberAttributes{DisplayName: "Ada", Gender: domain.GenderFemale, BirthDate: &born}); err != nil {
		t.Fatalf("valid attributes rejected: %v", err)
	}
}

func TestValidateStructRequiresTargetWithRelation(t *testing.T) {
	err := core.NewValidator().ValidateStruct(core.CreateMemberInput{
		TreeID:     "t1",
		Attributes: core.MemberAttributes{DisplayName: "Ada", Gender: domain.GenderFemale},
		Relation:   domain.RelationChild,
	})
	expectRule(t, err, core.RuleAttributes)
	if !strings.Contains(err.Error(), "TargetMemberID failed required_with") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
