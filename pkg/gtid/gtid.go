package gtid

import (
	"encoding/binary"
	"fmt"
)

// GTID is a globally totally ordered transaction identifier.
// Epoch counts primary terms, Seq counts transactions within a term.
// The zero value is the initial sentinel and compares less than any
// GTID a primary can produce.
type GTID struct {
	Epoch uint64 `json:"epoch"`
	Seq   uint64 `json:"seq"`
}

// Initial returns the sentinel GTID.
func Initial() GTID {
	return GTID{}
}

// New creates a GTID from an epoch and a sequence number.
func New(epoch, seq uint64) GTID {
	return GTID{Epoch: epoch, Seq: seq}
}

// Compare orders two GTIDs lexicographically on (epoch, seq).
// It returns a negative value if a < b, zero if equal, positive if a > b.
// All ordering decisions in the replication core go through Compare.
func Compare(a, b GTID) int {
	if a.Epoch != b.Epoch {
		if a.Epoch < b.Epoch {
			return -1
		}
		return 1
	}
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return 0
}

// IsInitial reports whether g is the sentinel GTID.
func (g GTID) IsInitial() bool {
	return g.Epoch == 0 && g.Seq == 0
}

// Next returns the GTID that follows g within the same epoch.
func (g GTID) Next() GTID {
	return GTID{Epoch: g.Epoch, Seq: g.Seq + 1}
}

// String formats the GTID for logs and status output.
func (g GTID) String() string {
	return fmt.Sprintf("%d:%d", g.Epoch, g.Seq)
}

// MarshalBinary encodes the GTID as 16 big-endian bytes.
func (g GTID) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], g.Epoch)
	binary.BigEndian.PutUint64(buf[8:16], g.Seq)
	return buf, nil
}

// UnmarshalBinary decodes a GTID produced by MarshalBinary.
func (g *GTID) UnmarshalBinary(data []byte) error {
	if len(data) != 16 {
		return fmt.Errorf("gtid: expected 16 bytes, got %d", len(data))
	}
	g.Epoch = binary.BigEndian.Uint64(data[0:8])
	g.Seq = binary.BigEndian.Uint64(data[8:16])
	return nil
}
