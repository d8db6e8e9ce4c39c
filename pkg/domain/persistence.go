package domain

import "context"

// TransactionView provides read-only access to member, tree and invitation records.
type TransactionView interface {
	FindMember(id string) (Member, bool)
	FindTree(id string) (FamilyTree, bool)
	FindInvitation(id string) (Invitation, bool)
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Reads observe the transaction's own
// pending writes; nothing is visible to other transactions until commit.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	CreateMember(Member) (Member, error)
	UpdateMember(id string, mutator func(*Member) error) (Member, error)
	DeleteMember(id string) error
	CreateTree(FamilyTree) (FamilyTree, error)
	UpdateTree(id string, mutator func(*FamilyTree) error) (FamilyTree, error)
	CreateInvitation(Invitation) (Invitation, error)
	UpdateInvitation(id string, mutator func(*Invitation) error) (Invitation, error)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
//
// RunInTransaction commits every write made by fn atomically or none of them.
// When another transaction committed a record that fn read, the commit fails
// with ConflictError and the caller may retry from a fresh snapshot.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetMember(id string) (Member, bool)
	GetTree(id string) (FamilyTree, bool)
	GetInvitation(id string) (Invitation, bool)
	ListInvitations(treeID string) []Invitation
	Close() error
}
