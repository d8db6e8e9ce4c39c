package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dynastycore/pkg/domain"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(nil, WithClock(func() time.Time { return fixed }), WithIDGenerator(sequentialIDs("m")))
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindMember("missing"); ok {
			t.Fatalf("expected missing member lookup")
		}
		created, err := tx.CreateMember(domain.Member{MemberAttributes: domain.MemberAttributes{DisplayName: "Ada", Gender: domain.GenderFemale}})
		if err != nil {
			return err
		}
		if created.ID != "m1" {
			t.Fatalf("expected generated ID m1, got %q", created.ID)
		}
		if _, ok := tx.Snapshot().FindMember(created.ID); !ok {
			t.Fatalf("expected transaction snapshot to observe pending member")
		}
		if _, ok := store.GetMember(created.ID); ok {
			t.Fatalf("pending member must not be visible outside the transaction")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	got, ok := store.GetMember("m1")
	if !ok {
		t.Fatalf("expected committed member")
	}
	if got.Version != 1 || !got.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected committed metadata: %+v", got.Base)
	}

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListMembers()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListMembers()) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil || store.NowFunc() == nil {
		t.Fatalf("expected engine and clock")
	}
}

func TestStoreRuleViolationDiscardsWrites(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateMember(domain.Member{TreeID: "t1"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ListMembers()) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock, Message: "blocked"}}}, nil
}

// blockBiography blocks any transaction leaving m1 with the given biography.
type blockBiography string

func (blockBiography) Name() string { return "block_biography" }

func (b blockBiography) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	if m, ok := view.FindMember("m1"); ok && m.Biography == string(b) {
		return domain.Result{Violations: []domain.Violation{{Rule: "block_biography", Severity: domain.SeverityBlock, Message: "blocked"}}}, nil
	}
	return domain.Result{}, nil
}

func TestStoreCallbackErrorAborts(t *testing.T) {
	store := NewStore(nil)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateTree(domain.FamilyTree{Name: "Doomed"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if len(store.ListTrees()) != 0 {
		t.Fatalf("expected no trees after abort")
	}
}

func TestStoreUpdateAndDeleteMissing(t *testing.T) {
	store := NewStore(nil)
	_, _ = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var nf domain.NotFoundError
		if _, err := tx.UpdateMember("missing", func(*domain.Member) error { return nil }); !errors.As(err, &nf) {
			t.Fatalf("expected not found on update, got %v", err)
		}
		if err := tx.DeleteMember("missing"); !errors.As(err, &nf) {
			t.Fatalf("expected not found on delete, got %v", err)
		}
		if _, err := tx.UpdateTree("missing", func(*domain.FamilyTree) error { return nil }); !errors.As(err, &nf) {
			t.Fatalf("expected not found on tree update, got %v", err)
		}
		if _, err := tx.UpdateInvitation("missing", func(*domain.Invitation) error { return nil }); !errors.As(err, &nf) {
			t.Fatalf("expected not found on invitation update, got %v", err)
		}
		return nil
	})
}

func TestStoreDetectsConflictingCommit(t *testing.T) {
	store := NewStore(nil, WithIDGenerator(sequentialIDs("m")))
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMember(domain.Member{MemberAttributes: domain.MemberAttributes{DisplayName: "A"}})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindMember("m1"); !ok {
			t.Fatalf("expected seeded member")
		}
		// a competing transaction commits while this one is still open
		if _, err := store.RunInTransaction(ctx, func(inner domain.Transaction) error {
			_, err := inner.UpdateMember("m1", func(m *domain.Member) error {
				m.Biography = "inner"
				return nil
			})
			return err
		}); err != nil {
			t.Fatalf("inner commit: %v", err)
		}
		_, err := tx.UpdateMember("m1", func(m *domain.Member) error {
			m.Biography = "outer"
			return nil
		})
		return err
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := store.GetMember("m1")
	if got.Biography != "inner" || got.Version != 2 {
		t.Fatalf("expected inner write to win, got %+v", got)
	}
}

func TestStoreAbortAfterStaleReadReportsConflict(t *testing.T) {
	store := NewStore(nil, WithIDGenerator(sequentialIDs("m")))
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateMember(domain.Member{MemberAttributes: domain.MemberAttributes{DisplayName: "A"}})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	bumpBiography := func(bio string) {
		if _, err := store.RunInTransaction(ctx, func(inner domain.Transaction) error {
			_, err := inner.UpdateMember("m1", func(m *domain.Member) error {
				m.Biography = bio
				return nil
			})
			return err
		}); err != nil {
			t.Fatalf("inner commit: %v", err)
		}
	}

	rejected := domain.ValidationError{Message: "decided on a stale read"}
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		tx.FindMember("m1")
		bumpBiography("inner")
		return rejected
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict after stale read, got %v", err)
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		tx.FindMember("m1")
		return rejected
	})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected body error when reads are current, got %v", err)
	}

	store.RulesEngine().Register(blockBiography("outer"))
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.UpdateMember("m1", func(m *domain.Member) error {
			m.Biography = "outer"
			return nil
		}); err != nil {
			return err
		}
		bumpBiography("again")
		return nil
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict instead of rule violation after stale read, got %v", err)
	}
}

func TestStoreDisjointTransactionsInterleave(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateMember(domain.Member{Base: domain.Base{ID: "a"}}); err != nil {
			return err
		}
		if _, err := store.RunInTransaction(ctx, func(inner domain.Transaction) error {
			_, err := inner.CreateMember(domain.Member{Base: domain.Base{ID: "b"}})
			return err
		}); err != nil {
			t.Fatalf("inner commit: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected disjoint commit to succeed, got %v", err)
	}
	if len(store.ListMembers()) != 2 {
		t.Fatalf("expected both members committed")
	}
}

func TestStoreCommitHookFailureLeavesStateUntouched(t *testing.T) {
	hookErr := errors.New("disk full")
	var seen []Write
	store := NewStore(nil, WithCommitHook(func(_ context.Context, writes []Write) error {
		seen = append(seen, writes...)
		return hookErr
	}))
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateTree(domain.FamilyTree{Base: domain.Base{ID: "t1"}, Name: "Tree"})
		return err
	})
	if !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if len(seen) != 1 || seen[0].PrevVersion != 0 || seen[0].Deleted() {
		t.Fatalf("unexpected writes passed to hook: %+v", seen)
	}
	if tree, ok := seen[0].Record.(domain.FamilyTree); !ok || tree.Version != 1 {
		t.Fatalf("expected bumped tree version in hook, got %+v", seen[0].Record)
	}
	if _, ok := store.GetTree("t1"); ok {
		t.Fatalf("expected tree to be absent after failed hook")
	}
}

func TestStoreDeleteAndInvitationListing(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store := NewStore(nil, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	ctx := context.Background()
	for _, id := range []string{"i2", "i1"} {
		if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreateInvitation(domain.Invitation{Base: domain.Base{ID: id}, TreeID: "t1", Status: domain.InvitationPending})
			return err
		}); err != nil {
			t.Fatalf("create invitation %s: %v", id, err)
		}
	}
	list := store.ListInvitations("t1")
	if len(list) != 2 || list[0].ID != "i2" || list[1].ID != "i1" {
		t.Fatalf("expected creation order, got %+v", list)
	}
	if len(store.ListInvitations("other")) != 0 {
		t.Fatalf("expected no invitations for other tree")
	}

	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateMember(domain.Member{Base: domain.Base{ID: "x"}}); err != nil {
			return err
		}
		return tx.DeleteMember("x")
	}); err != nil {
		t.Fatalf("create+delete: %v", err)
	}
	if _, ok := store.GetMember("x"); ok {
		t.Fatalf("expected member created and deleted in one transaction to be absent")
	}
	if err := store.View(ctx, func(v domain.TransactionView) error {
		if _, ok := v.FindInvitation("i1"); !ok {
			t.Fatalf("expected invitation in view")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestStoreCancelledContext(t *testing.T) {
	store := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := store.RunInTransaction(ctx, func(domain.Transaction) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancellation before running fn, got %v (called=%v)", err, called)
	}
}

func TestCloneMemberIsDeep(t *testing.T) {
	born := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	m := Member{MemberAttributes: domain.MemberAttributes{BirthDate: &born}, Parents: []domain.Edge{{MemberID: "p", Type: domain.EdgeBlood}}}
	cp := cloneMember(m)
	cp.Parents[0].Type = domain.EdgeAdopted
	*cp.BirthDate = born.AddDate(1, 0, 0)
	if m.Parents[0].Type != domain.EdgeBlood || !m.BirthDate.Equal(born) {
		t.Fatalf("clone shares memory with original")
	}
}
