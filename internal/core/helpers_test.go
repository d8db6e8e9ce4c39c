package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dynastycore/internal/core"
	"dynastycore/pkg/domain"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func person(name string) core.MemberAttributes {
	return core.MemberAttributes{DisplayName: name, Gender: domain.GenderOther}
}

// newFamily creates a tree and returns it with its root member.
func newFamily(t *testing.T, svc *core.Service) (core.FamilyTree, core.Member) {
	t.Helper()
	tree, _, err := svc.CreateTree(context.Background(), core.CreateTreeInput{Name: "Lovelace", Root: person("M1")})
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}
	if len(tree.AdminIDs) != 1 {
		t.Fatalf("expected a single admin, got %v", tree.AdminIDs)
	}
	return tree, mustMember(t, svc, tree.AdminIDs[0])
}

func addMember(t *testing.T, svc *core.Service, treeID, callerID, name string, rel core.Relation, targetID string) core.Member {
	t.Helper()
	m, _, err := svc.CreateMember(context.Background(), core.CreateMemberInput{
		TreeID:         treeID,
		CallerID:       callerID,
		Attributes:     person(name),
		Relation:       rel,
		TargetMemberID: targetID,
	})
	if err != nil {
		t.Fatalf("create member %s: %v", name, err)
	}
	return m
}

func mustMember(t *testing.T, svc *core.Service, id string) core.Member {
	t.Helper()
	m, err := svc.GetMember(context.Background(), id)
	if err != nil {
		t.Fatalf("get member %s: %v", id, err)
	}
	return m
}

func mustTree(t *testing.T, svc *core.Service, id string) core.FamilyTree {
	t.Helper()
	tree, err := svc.GetTree(context.Background(), id)
	if err != nil {
		t.Fatalf("get tree %s: %v", id, err)
	}
	return tree
}

func expectEdges(t *testing.T, label string, got []core.Edge, want ...core.Edge) {
	t.Helper()
	if !domain.EqualEdges(got, want) {
		t.Fatalf("%s: want %+v, got %+v", label, want, got)
	}
}

func edge(id string, typ core.EdgeType) core.Edge {
	return core.Edge{MemberID: id, Type: typ}
}

func expectKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func expectNotFound(t *testing.T, err error, entity domain.EntityType) {
	t.Helper()
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if nf.Entity != entity {
		t.Fatalf("expected missing %s, got %s", entity, nf.Entity)
	}
}
