package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dynastycore/internal/infra/persistence/memory"
	"dynastycore/pkg/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

// interferingStore commits a competing write after the first transaction body
// runs, so that transaction fails validation at commit.
type interferingStore struct {
	*memory.Store
	once      sync.Once
	interfere func()
}

func (s *interferingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.Store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := fn(tx); err != nil {
			return err
		}
		s.once.Do(s.interfere)
		return nil
	})
}

// conflictingStore reports a conflict for the first n transactions.
type conflictingStore struct {
	*memory.Store
	mu sync.Mutex
	n  int
}

func (s *conflictingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	if s.n > 0 {
		s.n--
		s.mu.Unlock()
		return domain.Result{}, domain.ConflictError{Entity: domain.EntityMember, ID: "contended"}
	}
	s.mu.Unlock()
	return s.Store.RunInTransaction(ctx, fn)
}

// midReadStore commits a competing write once, right after a transaction
// first reads the trigger member, so later lazy reads see newer state.
type midReadStore struct {
	*memory.Store
	trigger   string
	once      sync.Once
	interfere func()
}

func (s *midReadStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	return s.Store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return fn(midReadTx{Transaction: tx, store: s})
	})
}

type midReadTx struct {
	domain.Transaction
	store *midReadStore
}

func (tx midReadTx) FindMember(id string) (Member, bool) {
	m, ok := tx.Transaction.FindMember(id)
	if id == tx.store.trigger {
		tx.store.once.Do(tx.store.interfere)
	}
	return m, ok
}

func seedTree(t *testing.T, svc *Service) (FamilyTree, Member) {
	t.Helper()
	tree, _, err := svc.CreateTree(context.Background(), CreateTreeInput{Name: "Byron", Root: rootAttrs("Ada")})
	if err != nil {
		t.Fatalf("create tree: %v", err)
	}
	root, ok := svc.Store().GetMember(tree.AdminIDs[0])
	if !ok {
		t.Fatalf("root member missing")
	}
	return tree, root
}

func TestConcurrentWriteIsRetriedAgainstFreshSnapshot(t *testing.T) {
	inner := memory.NewStore(NewDefaultRulesEngine())
	store := &interferingStore{Store: inner}
	audit := &captureAuditRecorder{}
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetricsRecorder(reg)
	setup := NewService(inner)
	tree, root := seedTree(t, setup)
	other, _, err := setup.CreateMember(context.Background(), CreateMemberInput{TreeID: tree.ID, CallerID: root.ID, Attributes: rootAttrs("Other")})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}

	store.interfere = func() {
		attrs := rootAttrs("Ada King")
		if _, _, err := setup.UpdateMemberAttributes(context.Background(), UpdateMemberInput{MemberID: root.ID, TreeID: tree.ID, CallerID: root.ID, Attributes: attrs}); err != nil {
			t.Errorf("interfering update: %v", err)
		}
	}
	svc := NewService(store, WithRetryPolicy(fastRetry), WithAuditRecorder(audit), WithMetricsRecorder(metrics))

	updated, _, err := svc.UpdateRelationships(context.Background(), UpdateRelationshipsInput{
		MemberID: root.ID, TreeID: tree.ID, CallerID: root.ID,
		Updates: RelationshipUpdates{AddSpouses: []string{other.ID}},
	})
	if err != nil {
		t.Fatalf("update relationships: %v", err)
	}
	if updated.DisplayName != "Ada King" {
		t.Fatalf("retry did not observe the competing write: %+v", updated.MemberAttributes)
	}
	if !domain.HasEdge(updated.Spouses, other.ID) {
		t.Fatalf("spouse edge missing after retry: %+v", updated.Spouses)
	}
	entry, ok := audit.find("update_relationships", AuditStatusSuccess)
	if !ok || entry.Attempts != 2 {
		t.Fatalf("expected success after two attempts, got %+v", entry)
	}
	if got := testutil.ToFloat64(metrics.retries.WithLabelValues("update_relationships")); got != 1 {
		t.Fatalf("retry counter = %v", got)
	}
}

func TestRejectionOnMixedSnapshotIsRetried(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewStore(NewDefaultRulesEngine())
	setup := NewService(inner)
	tree, root := seedTree(t, setup)
	create := func(name string, rel Relation, target string) Member {
		t.Helper()
		m, _, err := setup.CreateMember(ctx, CreateMemberInput{TreeID: tree.ID, CallerID: root.ID, Attributes: rootAttrs(name), Relation: rel, TargetMemberID: target})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return m
	}
	q := create("Q", domain.RelationChild, root.ID)
	p := create("P", domain.RelationChild, q.ID)
	c := create("C", domain.RelationNone, "")

	// Q gives up P and becomes C's child. Neither state before nor after this
	// write makes C an ancestor of P.
	store := &midReadStore{Store: inner, trigger: p.ID, interfere: func() {
		if _, _, err := setup.UpdateRelationships(ctx, UpdateRelationshipsInput{
			MemberID: q.ID, TreeID: tree.ID, CallerID: root.ID,
			Updates: RelationshipUpdates{RemoveChildren: []string{p.ID}, AddParents: []string{c.ID}},
		}); err != nil {
			t.Errorf("interfering update: %v", err)
		}
	}}
	audit := &captureAuditRecorder{}
	svc := NewService(store, WithRetryPolicy(fastRetry), WithAuditRecorder(audit))

	updated, _, err := svc.UpdateRelationships(ctx, UpdateRelationshipsInput{
		MemberID: c.ID, TreeID: tree.ID, CallerID: root.ID,
		Updates: RelationshipUpdates{AddParents: []string{p.ID}},
	})
	if err != nil {
		t.Fatalf("update relationships: %v", err)
	}
	if !domain.HasEdge(updated.Parents, p.ID) {
		t.Fatalf("parent edge missing after retry: %+v", updated.Parents)
	}
	entry, ok := audit.find("update_relationships", AuditStatusSuccess)
	if !ok || entry.Attempts != 2 {
		t.Fatalf("expected success on the second attempt, got %+v", entry)
	}
}

func TestConflictSurfacesAfterMaxAttempts(t *testing.T) {
	inner := memory.NewStore(NewDefaultRulesEngine())
	tree, root := seedTree(t, NewService(inner))
	store := &conflictingStore{Store: inner, n: 10}
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	svc := NewService(store, WithRetryPolicy(fastRetry), WithAuditRecorder(audit), WithMetricsRecorder(metrics))

	_, _, err := svc.PromoteToAdmin(context.Background(), root.ID, tree.ID, root.ID)
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	entry, ok := audit.find("promote_admin", AuditStatusError)
	if !ok || entry.Attempts != fastRetry.MaxAttempts {
		t.Fatalf("expected %d attempts, got %+v", fastRetry.MaxAttempts, entry)
	}
	if metrics.retries["promote_admin"] != fastRetry.MaxAttempts-1 {
		t.Fatalf("expected %d retries, got %v", fastRetry.MaxAttempts-1, metrics.retries)
	}
}

func TestValidationErrorsAreNotRetried(t *testing.T) {
	inner := memory.NewStore(NewDefaultRulesEngine())
	tree, root := seedTree(t, NewService(inner))
	audit := &captureAuditRecorder{}
	svc := NewService(inner, WithRetryPolicy(fastRetry), WithAuditRecorder(audit))

	_, _, err := svc.DemoteToMember(context.Background(), root.ID, tree.ID, root.ID)
	var verr domain.ValidationError
	if !errors.As(err, &verr) || !verr.HasRule(RuleLastAdmin) {
		t.Fatalf("expected last admin rejection, got %v", err)
	}
	entry, _ := audit.find("demote_admin", AuditStatusError)
	if entry.Attempts != 1 {
		t.Fatalf("validation failure retried: %+v", entry)
	}
}

func TestCancelledContextIsNotRetried(t *testing.T) {
	svc := NewInMemoryService(nil, WithRetryPolicy(fastRetry))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := svc.CreateTree(ctx, CreateTreeInput{Name: "Byron", Root: rootAttrs("Ada")})
	if err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if domain.KindOf(err) != domain.KindStorage {
		t.Fatalf("expected storage error, got %s (%v)", domain.KindOf(err), err)
	}
}

func TestClassifyError(t *testing.T) {
	rule := domain.RuleViolationError{Result: domain.Result{Violations: []Violation{
		{Rule: "graph_integrity", Severity: domain.SeverityBlock, Message: "broken"},
		{Rule: "note", Severity: domain.SeverityWarn, Message: "fyi"},
	}}}
	err := classifyError("op", rule)
	var verr domain.ValidationError
	if !errors.As(err, &verr) || len(verr.Violations) != 1 || verr.Violations[0].Rule != "graph_integrity" {
		t.Fatalf("rule violation not mapped to validation: %v", err)
	}

	err = classifyError("op", errors.New("disk full"))
	var serr domain.StorageError
	if !errors.As(err, &serr) || serr.Op != "op" {
		t.Fatalf("unknown error not wrapped as storage: %v", err)
	}
	nf := domain.NotFoundError{Entity: domain.EntityTree, ID: "x"}
	if got := classifyError("op", nf); got != error(nf) {
		t.Fatalf("not found changed: %v", got)
	}
	if got := classifyError("op", backoff.Permanent(nf)); got != error(nf) {
		t.Fatalf("permanent wrapper not stripped: %v", got)
	}
	if classifyError("op", nil) != nil {
		t.Fatalf("nil error mapped to non-nil")
	}
}
