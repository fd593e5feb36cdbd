package oplog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
)

// Record format of the on-disk oplog store (the feed carries JSON):
//
//	[epoch:8][seq:8][ts:8][hash:8][payloadLen:4][snappy payload:N][crc:4]
//
// The CRC covers the compressed payload only; the fixed header is
// validated structurally.

const recordHeaderSize = 8 + 8 + 8 + 8 + 4

// EncodeEntry serializes an entry into the record format.
func EncodeEntry(e Entry) []byte {
	compressed := snappy.Encode(nil, e.Payload)

	buf := make([]byte, recordHeaderSize+len(compressed)+4)
	binary.BigEndian.PutUint64(buf[0:8], e.ID.Epoch)
	binary.BigEndian.PutUint64(buf[8:16], e.ID.Seq)
	binary.BigEndian.PutUint64(buf[16:24], uint64(e.Ts))
	binary.BigEndian.PutUint64(buf[24:32], e.Hash)
	binary.BigEndian.PutUint32(buf[32:36], uint32(len(compressed)))
	copy(buf[recordHeaderSize:], compressed)
	crc := crc32.ChecksumIEEE(compressed)
	binary.BigEndian.PutUint32(buf[recordHeaderSize+len(compressed):], crc)
	return buf
}

// DecodeEntry parses a record produced by EncodeEntry.
func DecodeEntry(data []byte) (Entry, error) {
	if len(data) < recordHeaderSize+4 {
		return Entry{}, fmt.Errorf("oplog: record too short (%d bytes)", len(data))
	}

	payloadLen := binary.BigEndian.Uint32(data[32:36])
	if len(data) != recordHeaderSize+int(payloadLen)+4 {
		return Entry{}, fmt.Errorf("oplog: record length mismatch: header says %d payload bytes, have %d total",
			payloadLen, len(data))
	}

	compressed := data[recordHeaderSize : recordHeaderSize+payloadLen]
	crc := binary.BigEndian.Uint32(data[recordHeaderSize+payloadLen:])
	if actual := crc32.ChecksumIEEE(compressed); actual != crc {
		return Entry{}, fmt.Errorf("oplog: checksum mismatch: stored %08x, computed %08x", crc, actual)
	}

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Entry{}, fmt.Errorf("oplog: payload decompression failed: %w", err)
	}

	return Entry{
		ID:      gtid.GTID{Epoch: binary.BigEndian.Uint64(data[0:8]), Seq: binary.BigEndian.Uint64(data[8:16])},
		Ts:      int64(binary.BigEndian.Uint64(data[16:24])),
		Hash:    binary.BigEndian.Uint64(data[24:32]),
		Payload: payload,
	}, nil
}

// WriteRecord writes a length-prefixed record to w.
func WriteRecord(w io.Writer, e Entry) error {
	record := EncodeEntry(e)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(record)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("oplog: failed to write record length: %w", err)
	}
	if _, err := w.Write(record); err != nil {
		return fmt.Errorf("oplog: failed to write record: %w", err)
	}
	return nil
}

// ReadRecord reads one length-prefixed record from r. It returns
// io.EOF cleanly at end of stream.
func ReadRecord(r io.Reader) (Entry, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("oplog: failed to read record length: %w", err)
	}

	recordLen := binary.BigEndian.Uint32(lenBuf[:])
	record := make([]byte, recordLen)
	if _, err := io.ReadFull(r, record); err != nil {
		return Entry{}, fmt.Errorf("oplog: truncated record: %w", err)
	}
	return DecodeEntry(record)
}
