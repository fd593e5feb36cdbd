package repl

import (
	"fmt"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

// OplogStore is the local durable side of the pipeline. Every method
// runs under its own serializable transaction; the core never holds
// two of them open at once.
type OplogStore interface {
	// ReplicateTransactionToOplog durably writes a fetched entry to
	// the local oplog. It commits before the entry is enqueued for
	// the applier.
	ReplicateTransactionToOplog(e oplog.Entry) error

	// ApplyTransactionFromOplog applies the entry's payload to local
	// state.
	ApplyTransactionFromOplog(e oplog.Entry) error

	// RollbackTransactionFromOplog undoes the entry's payload and
	// removes the entry from the local oplog.
	RollbackTransactionFromOplog(e oplog.Entry) error

	// LastEntry returns the newest local oplog entry.
	LastEntry() (oplog.Entry, bool, error)

	// FindByGTID looks up a local entry by its GTID.
	FindByGTID(g gtid.GTID) (oplog.Entry, bool, error)
}

// StoreBackedOplog wires the file-backed oplog.Store together with the
// storage engine's apply and undo hooks into an OplogStore.
type StoreBackedOplog struct {
	store    *oplog.Store
	apply    func(oplog.Entry) error
	undo     func(oplog.Entry) error
}

// NewStoreBackedOplog creates an OplogStore over store. apply and undo
// run inside the engine's own transactions; either may be nil for
// oplog-only nodes (the entry is still recorded or removed).
func NewStoreBackedOplog(store *oplog.Store, apply, undo func(oplog.Entry) error) *StoreBackedOplog {
	return &StoreBackedOplog{store: store, apply: apply, undo: undo}
}

func (s *StoreBackedOplog) ReplicateTransactionToOplog(e oplog.Entry) error {
	return s.store.Append(e)
}

func (s *StoreBackedOplog) ApplyTransactionFromOplog(e oplog.Entry) error {
	if s.apply == nil {
		return nil
	}
	return s.apply(e)
}

func (s *StoreBackedOplog) RollbackTransactionFromOplog(e oplog.Entry) error {
	if s.undo != nil {
		if err := s.undo(e); err != nil {
			return fmt.Errorf("undo of %s failed: %w", e.ID, err)
		}
	}
	return s.store.RemoveLast()
}

func (s *StoreBackedOplog) LastEntry() (oplog.Entry, bool, error) {
	return s.store.Last()
}

func (s *StoreBackedOplog) FindByGTID(g gtid.GTID) (oplog.Entry, bool, error) {
	return s.store.FindByGTID(g)
}
