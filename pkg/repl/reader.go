package repl

import (
	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

// OplogReader streams a remote member's oplog. A reader is bound to
// one upstream; it is discarded and rebuilt on target switch, stale
// detection, or disconnect.
type OplogReader interface {
	// Connect establishes the connection and performs the handshake.
	Connect(host string) error

	// ResetConnection tears the connection down; the reader can be
	// connected again afterwards.
	ResetConnection()

	// Host returns the connected host, or "" when disconnected.
	Host() string

	// TailingQueryGTE opens a tailable cursor over ns at entries with
	// GTID >= g.
	TailingQueryGTE(ns string, g gtid.GTID) error

	// HaveCursor reports whether the tailing cursor is still alive.
	// The upstream may drop it at any point, for example when it
	// steps down between connect and query.
	HaveCursor() bool

	// FindOneOldest returns the oldest entry in ns, for the staleness
	// probe. ok is false when the remote oplog is empty.
	FindOneOldest(ns string) (oplog.Entry, bool, error)

	// MoreInCurrentBatch reports whether fetched entries remain
	// buffered locally.
	MoreInCurrentBatch() bool

	// More fetches the next batch if the buffer is empty. It returns
	// false when the cursor has no entry to deliver right now.
	More() bool

	// NextSafe returns an owned copy of the next entry.
	NextSafe() (oplog.Entry, error)

	// TailCheck reopens the cursor if it was lost at the tail.
	TailCheck()

	// RollbackCursor iterates the upstream oplog backwards starting
	// at the entry with GTID <= from.
	RollbackCursor(from gtid.GTID) (RollbackCursor, error)
}

// RollbackCursor is a reverse iterator over a remote oplog.
type RollbackCursor interface {
	More() bool
	Next() (oplog.Entry, error)
	Close() error
}

// ReaderFactory builds a fresh OplogReader for each produce pass.
type ReaderFactory func() OplogReader
