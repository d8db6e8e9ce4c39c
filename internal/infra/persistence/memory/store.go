// Package memory provides the in-memory implementation of the core persistence
// store. It is authoritative for the durable stores, which hydrate it on start
// and persist its commits through a CommitHook.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dynastycore/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Member aliases domain.Member for in-memory persistence operations.
	Member = domain.Member
	// FamilyTree aliases domain.FamilyTree.
	FamilyTree = domain.FamilyTree
	// Invitation aliases domain.Invitation.
	Invitation = domain.Invitation
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	members     map[string]Member
	trees       map[string]FamilyTree
	invitations map[string]Invitation
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Members     map[string]Member     `json:"members"`
	Trees       map[string]FamilyTree `json:"trees"`
	Invitations map[string]Invitation `json:"invitations"`
}

func newMemoryState() memoryState {
	return memoryState{
		members:     make(map[string]Member),
		trees:       make(map[string]FamilyTree),
		invitations: make(map[string]Invitation),
	}
}

// Write is one record a transaction is about to commit. Record is nil for a
// delete. PrevVersion is the version the transaction observed (0 when the record
// did not exist) and Record carries the bumped version.
type Write struct {
	Entity      domain.EntityType
	ID          string
	PrevVersion int64
	Record      any
}

// Deleted reports whether the write removes the record.
func (w Write) Deleted() bool { return w.Record == nil }

// CommitHook runs under the store's write lock after version checks pass and
// before state is applied. Returning an error aborts the commit.
type CommitHook func(ctx context.Context, writes []Write) error

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithCommitHook installs a hook invoked for every commit.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// Store provides an in-memory transactional store for the family graph.
//
// Transactions read committed records lazily and remember the version they
// observed. Commit takes the write lock, re-checks every observed version and
// fails with domain.ConflictError on mismatch, so transactions touching
// disjoint records interleave while overlapping ones serialize.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	newID  func() string
	hook   CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		newID:  newUUID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Members:     make(map[string]Member, len(s.state.members)),
		Trees:       make(map[string]FamilyTree, len(s.state.trees)),
		Invitations: make(map[string]Invitation, len(s.state.invitations)),
	}
	for k, v := range s.state.members {
		snap.Members[k] = cloneMember(v)
	}
	for k, v := range s.state.trees {
		snap.Trees[k] = cloneTree(v)
	}
	for k, v := range s.state.invitations {
		snap.Invitations[k] = cloneInvitation(v)
	}
	return snap
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	state := newMemoryState()
	for k, v := range snapshot.Members {
		state.members[k] = cloneMember(v)
	}
	for k, v := range snapshot.Trees {
		state.trees[k] = cloneTree(v)
	}
	for k, v := range snapshot.Invitations {
		state.invitations[k] = cloneInvitation(v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	return s.nowFn
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

type recordKey struct {
	entity domain.EntityType
	id     string
}

// transaction buffers writes over lazily read committed state.
type transaction struct {
	store       *Store
	now         time.Time
	reads       map[recordKey]int64
	members     map[string]*Member
	trees       map[string]*FamilyTree
	invitations map[string]*Invitation
	order       []recordKey
	changes     []Change
}

func newTransaction(s *Store) *transaction {
	return &transaction{
		store:       s,
		now:         s.nowFn(),
		reads:       make(map[recordKey]int64),
		members:     make(map[string]*Member),
		trees:       make(map[string]*FamilyTree),
		invitations: make(map[string]*Invitation),
	}
}

// RunInTransaction executes fn against a transactional overlay of the store
// state, evaluates the rules engine on the result, and commits atomically.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	tx := newTransaction(s)
	if err := fn(tx); err != nil {
		return Result{}, s.staleOr(ctx, tx, err)
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx, tx.changes)
		if err != nil {
			return Result{}, s.staleOr(ctx, tx, err)
		}
		result = res
		if res.HasBlocking() {
			if conflict := s.staleReads(tx); conflict != nil {
				return Result{}, conflict
			}
			return res, domain.RuleViolationError{Result: res}
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateReads(tx); err != nil {
		return Result{}, err
	}
	writes := tx.pendingWrites()
	if len(writes) == 0 {
		return result, nil
	}
	if s.hook != nil {
		if err := s.hook(ctx, writes); err != nil {
			return Result{}, err
		}
	}
	s.apply(writes)
	return result, nil
}

// View executes fn against the committed state under a read lock.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(committedView{state: &s.state})
}

// staleOr returns a conflict instead of err when a record the aborted
// transaction read has changed since, as err may come from a mixed snapshot.
func (s *Store) staleOr(ctx context.Context, tx *transaction, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if conflict := s.staleReads(tx); conflict != nil {
		return conflict
	}
	return err
}

func (s *Store) staleReads(tx *transaction) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateReads(tx)
}

func (s *Store) validateReads(tx *transaction) error {
	for key, observed := range tx.reads {
		if s.versionOf(key) != observed {
			return domain.ConflictError{Entity: key.entity, ID: key.id}
		}
	}
	return nil
}

func (s *Store) versionOf(key recordKey) int64 {
	switch key.entity {
	case domain.EntityMember:
		return s.state.members[key.id].Version
	case domain.EntityTree:
		return s.state.trees[key.id].Version
	case domain.EntityInvitation:
		return s.state.invitations[key.id].Version
	default:
		return 0
	}
}

func (s *Store) apply(writes []Write) {
	for _, w := range writes {
		switch w.Entity {
		case domain.EntityMember:
			if w.Deleted() {
				delete(s.state.members, w.ID)
			} else {
				s.state.members[w.ID] = cloneMember(w.Record.(Member))
			}
		case domain.EntityTree:
			if w.Deleted() {
				delete(s.state.trees, w.ID)
			} else {
				s.state.trees[w.ID] = cloneTree(w.Record.(FamilyTree))
			}
		case domain.EntityInvitation:
			if w.Deleted() {
				delete(s.state.invitations, w.ID)
			} else {
				s.state.invitations[w.ID] = cloneInvitation(w.Record.(Invitation))
			}
		}
	}
}

// pendingWrites lists dirty records in first-touched order with bumped versions.
func (tx *transaction) pendingWrites() []Write {
	writes := make([]Write, 0, len(tx.order))
	for _, key := range tx.order {
		prev := tx.reads[key]
		w := Write{Entity: key.entity, ID: key.id, PrevVersion: prev}
		switch key.entity {
		case domain.EntityMember:
			if m := tx.members[key.id]; m != nil {
				rec := cloneMember(*m)
				rec.Version = prev + 1
				w.Record = rec
			}
		case domain.EntityTree:
			if t := tx.trees[key.id]; t != nil {
				rec := cloneTree(*t)
				rec.Version = prev + 1
				w.Record = rec
			}
		case domain.EntityInvitation:
			if i := tx.invitations[key.id]; i != nil {
				rec := cloneInvitation(*i)
				rec.Version = prev + 1
				w.Record = rec
			}
		}
		if w.Deleted() && prev == 0 {
			// created and deleted inside the same transaction
			continue
		}
		writes = append(writes, w)
	}
	return writes
}

func (tx *transaction) observe(key recordKey, version int64) {
	if _, ok := tx.reads[key]; !ok {
		tx.reads[key] = version
	}
}

func (tx *transaction) touch(key recordKey) {
	for _, existing := range tx.order {
		if existing == key {
			return
		}
	}
	tx.order = append(tx.order, key)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return tx
}

func (tx *transaction) loadMember(id string) (*Member, bool) {
	if m, ok := tx.members[id]; ok {
		return m, m != nil
	}
	tx.store.mu.RLock()
	committed, ok := tx.store.state.members[id]
	tx.store.mu.RUnlock()
	tx.observe(recordKey{domain.EntityMember, id}, committed.Version)
	if !ok {
		return nil, false
	}
	cp := cloneMember(committed)
	tx.members[id] = &cp
	return &cp, true
}

func (tx *transaction) loadTree(id string) (*FamilyTree, bool) {
	if t, ok := tx.trees[id]; ok {
		return t, t != nil
	}
	tx.store.mu.RLock()
	committed, ok := tx.store.state.trees[id]
	tx.store.mu.RUnlock()
	tx.observe(recordKey{domain.EntityTree, id}, committed.Version)
	if !ok {
		return nil, false
	}
	cp := cloneTree(committed)
	tx.trees[id] = &cp
	return &cp, true
}

func (tx *transaction) loadInvitation(id string) (*Invitation, bool) {
	if i, ok := tx.invitations[id]; ok {
		return i, i != nil
	}
	tx.store.mu.RLock()
	committed, ok := tx.store.state.invitations[id]
	tx.store.mu.RUnlock()
	tx.observe(recordKey{domain.EntityInvitation, id}, committed.Version)
	if !ok {
		return nil, false
	}
	cp := cloneInvitation(committed)
	tx.invitations[id] = &cp
	return &cp, true
}

// FindMember returns the member as seen by the transaction.
func (tx *transaction) FindMember(id string) (Member, bool) {
	m, ok := tx.loadMember(id)
	if !ok {
		return Member{}, false
	}
	return cloneMember(*m), true
}

// FindTree returns the tree as seen by the transaction.
func (tx *transaction) FindTree(id string) (FamilyTree, bool) {
	t, ok := tx.loadTree(id)
	if !ok {
		return FamilyTree{}, false
	}
	return cloneTree(*t), true
}

// FindInvitation returns the invitation as seen by the transaction.
func (tx *transaction) FindInvitation(id string) (Invitation, bool) {
	i, ok := tx.loadInvitation(id)
	if !ok {
		return Invitation{}, false
	}
	return cloneInvitation(*i), true
}

// CreateMember stores a new member within the transaction.
func (tx *transaction) CreateMember(m Member) (Member, error) {
	if m.ID == "" {
		m.ID = tx.store.newID()
	}
	if _, exists := tx.loadMember(m.ID); exists {
		return Member{}, fmt.Errorf("member %q already exists", m.ID)
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	m.Version = 0
	cp := cloneMember(m)
	tx.members[m.ID] = &cp
	tx.touch(recordKey{domain.EntityMember, m.ID})
	tx.recordChange(Change{Entity: domain.EntityMember, Action: domain.ActionCreate, After: cloneMember(m)})
	return cloneMember(m), nil
}

// UpdateMember mutates a member using the provided mutator function.
func (tx *transaction) UpdateMember(id string, mutator func(*Member) error) (Member, error) {
	current, ok := tx.loadMember(id)
	if !ok {
		return Member{}, domain.NotFoundError{Entity: domain.EntityMember, ID: id}
	}
	before := cloneMember(*current)
	next := cloneMember(*current)
	if err := mutator(&next); err != nil {
		return Member{}, err
	}
	next.ID = id
	next.CreatedAt = before.CreatedAt
	next.Version = before.Version
	next.UpdatedAt = tx.now
	*current = next
	tx.touch(recordKey{domain.EntityMember, id})
	tx.recordChange(Change{Entity: domain.EntityMember, Action: domain.ActionUpdate, Before: before, After: cloneMember(next)})
	return cloneMember(next), nil
}

// DeleteMember removes a member from the transaction state.
func (tx *transaction) DeleteMember(id string) error {
	current, ok := tx.loadMember(id)
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityMember, ID: id}
	}
	before := cloneMember(*current)
	tx.members[id] = nil
	tx.touch(recordKey{domain.EntityMember, id})
	tx.recordChange(Change{Entity: domain.EntityMember, Action: domain.ActionDelete, Before: before})
	return nil
}

// CreateTree stores a new family tree.
func (tx *transaction) CreateTree(t FamilyTree) (FamilyTree, error) {
	if t.ID == "" {
		t.ID = tx.store.newID()
	}
	if _, exists := tx.loadTree(t.ID); exists {
		return FamilyTree{}, fmt.Errorf("family tree %q already exists", t.ID)
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	t.Version = 0
	cp := cloneTree(t)
	tx.trees[t.ID] = &cp
	tx.touch(recordKey{domain.EntityTree, t.ID})
	tx.recordChange(Change{Entity: domain.EntityTree, Action: domain.ActionCreate, After: cloneTree(t)})
	return cloneTree(t), nil
}

// UpdateTree mutates a family tree.
func (tx *transaction) UpdateTree(id string, mutator func(*FamilyTree) error) (FamilyTree, error) {
	current, ok := tx.loadTree(id)
	if !ok {
		return FamilyTree{}, domain.NotFoundError{Entity: domain.EntityTree, ID: id}
	}
	before := cloneTree(*current)
	next := cloneTree(*current)
	if err := mutator(&next); err != nil {
		return FamilyTree{}, err
	}
	next.ID = id
	next.CreatedAt = before.CreatedAt
	next.Version = before.Version
	next.UpdatedAt = tx.now
	*current = next
	tx.touch(recordKey{domain.EntityTree, id})
	tx.recordChange(Change{Entity: domain.EntityTree, Action: domain.ActionUpdate, Before: before, After: cloneTree(next)})
	return cloneTree(next), nil
}

// CreateInvitation stores a new invitation.
func (tx *transaction) CreateInvitation(i Invitation) (Invitation, error) {
	if i.ID == "" {
		i.ID = tx.store.newID()
	}
	if _, exists := tx.loadInvitation(i.ID); exists {
		return Invitation{}, fmt.Errorf("invitation %q already exists", i.ID)
	}
	i.CreatedAt = tx.now
	i.UpdatedAt = tx.now
	i.Version = 0
	cp := cloneInvitation(i)
	tx.invitations[i.ID] = &cp
	tx.touch(recordKey{domain.EntityInvitation, i.ID})
	tx.recordChange(Change{Entity: domain.EntityInvitation, Action: domain.ActionCreate, After: cloneInvitation(i)})
	return cloneInvitation(i), nil
}

// UpdateInvitation mutates an invitation.
func (tx *transaction) UpdateInvitation(id string, mutator func(*Invitation) error) (Invitation, error) {
	current, ok := tx.loadInvitation(id)
	if !ok {
		return Invitation{}, domain.NotFoundError{Entity: domain.EntityInvitation, ID: id}
	}
	before := cloneInvitation(*current)
	next := cloneInvitation(*current)
	if err := mutator(&next); err != nil {
		return Invitation{}, err
	}
	next.ID = id
	next.CreatedAt = before.CreatedAt
	next.Version = before.Version
	next.UpdatedAt = tx.now
	*current = next
	tx.touch(recordKey{domain.EntityInvitation, id})
	tx.recordChange(Change{Entity: domain.EntityInvitation, Action: domain.ActionUpdate, Before: before, After: cloneInvitation(next)})
	return cloneInvitation(next), nil
}

// committedView reads committed state; callers hold the store's read lock.
type committedView struct {
	state *memoryState
}

func (v committedView) FindMember(id string) (Member, bool) {
	m, ok := v.state.members[id]
	if !ok {
		return Member{}, false
	}
	return cloneMember(m), true
}

func (v committedView) FindTree(id string) (FamilyTree, bool) {
	t, ok := v.state.trees[id]
	if !ok {
		return FamilyTree{}, false
	}
	return cloneTree(t), true
}

func (v committedView) FindInvitation(id string) (Invitation, bool) {
	i, ok := v.state.invitations[id]
	if !ok {
		return Invitation{}, false
	}
	return cloneInvitation(i), true
}

// GetMember returns a committed member by id.
func (s *Store) GetMember(id string) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return committedView{state: &s.state}.FindMember(id)
}

// GetTree returns a committed tree by id.
func (s *Store) GetTree(id string) (FamilyTree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return committedView{state: &s.state}.FindTree(id)
}

// GetInvitation returns a committed invitation by id.
func (s *Store) GetInvitation(id string) (Invitation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return committedView{state: &s.state}.FindInvitation(id)
}

// ListInvitations returns the invitations of a tree ordered by creation time.
func (s *Store) ListInvitations(treeID string) []Invitation {
	s.mu.RLock()
	out := make([]Invitation, 0)
	for _, inv := range s.state.invitations {
		if inv.TreeID == treeID {
			out = append(out, cloneInvitation(inv))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListMembers returns every committed member ordered by id.
func (s *Store) ListMembers() []Member {
	s.mu.RLock()
	out := make([]Member, 0, len(s.state.members))
	for _, m := range s.state.members {
		out = append(out, cloneMember(m))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListTrees returns every committed tree ordered by id.
func (s *Store) ListTrees() []FamilyTree {
	s.mu.RLock()
	out := make([]FamilyTree, 0, len(s.state.trees))
	for _, t := range s.state.trees {
		out = append(out, cloneTree(t))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsConflict reports whether err is a commit-time version conflict.
func IsConflict(err error) bool {
	var conflict domain.ConflictError
	return errors.As(err, &conflict)
}
