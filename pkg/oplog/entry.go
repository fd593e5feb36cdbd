package oplog

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
)

// Namespace is the name of the local oplog collection.
const Namespace = "local.oplog.rs"

// Entry is one committed transaction in the oplog. Entries are ordered
// by GTID; for entries emitted by the same primary, GTID order implies
// Ts order. Hash chains over all prior entries, so two oplogs that
// agree on (GTID, Ts, Hash) at a position agree on all history up to
// that position.
type Entry struct {
	ID      gtid.GTID `json:"_id"`
	Ts      int64     `json:"ts"` // millisecond epoch
	Hash    uint64    `json:"h"`
	Payload []byte    `json:"o"` // opaque transaction description
}

// ChainHash computes the hash-chain value for an entry that follows an
// entry with hash prev. Both sides of a replication link must compute
// the identical value or divergence detection breaks.
func ChainHash(prev uint64, id gtid.GTID, ts int64, payload []byte) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], prev)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], id.Epoch)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], id.Seq)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(ts))
	h.Write(buf[:])
	h.Write(payload)
	return h.Sum64()
}

// Clone returns an owned copy of the entry, detached from any buffer
// the payload may alias.
func (e Entry) Clone() Entry {
	c := e
	if e.Payload != nil {
		c.Payload = make([]byte, len(e.Payload))
		copy(c.Payload, e.Payload)
	}
	return c
}
