package oplog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
)

// ErrOutOfOrder is returned when an append would break GTID order.
var ErrOutOfOrder = errors.New("oplog: append out of GTID order")

// Store is the durable local oplog: an append-only file of
// length-prefixed records plus an in-memory (offset, GTID) index built
// at open time. One mutex serializes every operation, which gives the
// serializable isolation the replication core expects from the oplog
// collection.
type Store struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	offsets []int64
	ids     []gtid.GTID
	end     int64

	// NoSync skips fsync on append. A secondary replays from its
	// upstream after a crash, so durability is bounded by the
	// primary's ack policy rather than by this file.
	noSync bool
}

// StoreConfig configures a Store.
type StoreConfig struct {
	DataDir string
	NoSync  bool
}

// OpenStore opens or creates the oplog file and rebuilds the index.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create oplog directory: %w", err)
	}

	path := filepath.Join(cfg.DataDir, "oplog.rs")
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open oplog file: %w", err)
	}

	s := &Store{file: file, path: path, noSync: cfg.NoSync}
	if err := s.recover(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// recover scans the file sequentially and rebuilds the index. A
// truncated trailing record (crash mid-write) is dropped by truncating
// the file back to the last complete record.
func (s *Store) recover() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek oplog: %w", err)
	}

	reader := bufio.NewReader(s.file)
	var offset int64
	for {
		entry, err := ReadRecord(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			// partial trailing record: cut it off and keep going
			if truncErr := s.file.Truncate(offset); truncErr != nil {
				return fmt.Errorf("failed to truncate damaged oplog tail: %w", truncErr)
			}
			break
		}
		s.offsets = append(s.offsets, offset)
		s.ids = append(s.ids, entry.ID)
		offset += int64(4 + len(EncodeEntry(entry)))
	}
	s.end = offset
	return nil
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Append writes an entry after the current last entry. Appends must
// arrive in strictly increasing GTID order.
func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.ids); n > 0 && gtid.Compare(e.ID, s.ids[n-1]) <= 0 {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, e.ID, s.ids[n-1])
	}

	record := EncodeEntry(e)
	buf := make([]byte, 4+len(record))
	buf[0] = byte(len(record) >> 24)
	buf[1] = byte(len(record) >> 16)
	buf[2] = byte(len(record) >> 8)
	buf[3] = byte(len(record))
	copy(buf[4:], record)

	if _, err := s.file.WriteAt(buf, s.end); err != nil {
		return fmt.Errorf("failed to append oplog entry: %w", err)
	}
	if !s.noSync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync oplog: %w", err)
		}
	}

	s.offsets = append(s.offsets, s.end)
	s.ids = append(s.ids, e.ID)
	s.end += int64(len(buf))
	return nil
}

// Last returns the newest entry, or ok=false if the oplog is empty.
func (s *Store) Last() (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ids) == 0 {
		return Entry{}, false, nil
	}
	e, err := s.readAt(len(s.ids) - 1)
	return e, err == nil, err
}

// First returns the oldest entry, or ok=false if the oplog is empty.
func (s *Store) First() (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ids) == 0 {
		return Entry{}, false, nil
	}
	e, err := s.readAt(0)
	return e, err == nil, err
}

// FindByGTID returns the entry with exactly the given GTID.
func (s *Store) FindByGTID(g gtid.GTID) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.ids), func(i int) bool {
		return gtid.Compare(s.ids[i], g) >= 0
	})
	if i == len(s.ids) || gtid.Compare(s.ids[i], g) != 0 {
		return Entry{}, false, nil
	}
	e, err := s.readAt(i)
	return e, err == nil, err
}

// ScanFrom returns up to max entries with GTID >= g in ascending order.
func (s *Store) ScanFrom(g gtid.GTID, max int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.ids), func(i int) bool {
		return gtid.Compare(s.ids[i], g) >= 0
	})

	var out []Entry
	for ; i < len(s.ids) && len(out) < max; i++ {
		e, err := s.readAt(i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ReverseScanFrom returns up to max entries with GTID <= g in
// descending order. Used for rollback ancestor scans.
func (s *Store) ReverseScanFrom(g gtid.GTID, max int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.ids), func(i int) bool {
		return gtid.Compare(s.ids[i], g) > 0
	})

	var out []Entry
	for i--; i >= 0 && len(out) < max; i-- {
		e, err := s.readAt(i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// RemoveLast deletes the newest entry by truncating the file.
func (s *Store) RemoveLast() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.ids)
	if n == 0 {
		return errors.New("oplog: remove from empty oplog")
	}

	newEnd := s.offsets[n-1]
	if err := s.file.Truncate(newEnd); err != nil {
		return fmt.Errorf("failed to truncate oplog: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync oplog after truncate: %w", err)
	}

	s.offsets = s.offsets[:n-1]
	s.ids = s.ids[:n-1]
	s.end = newEnd
	return nil
}

// readAt reads the record at index i. Caller holds s.mu.
func (s *Store) readAt(i int) (Entry, error) {
	start := s.offsets[i]
	var end int64
	if i+1 < len(s.offsets) {
		end = s.offsets[i+1]
	} else {
		end = s.end
	}

	buf := make([]byte, end-start)
	if _, err := s.file.ReadAt(buf, start); err != nil {
		return Entry{}, fmt.Errorf("failed to read oplog record: %w", err)
	}
	if len(buf) < 4 {
		return Entry{}, fmt.Errorf("oplog: corrupt record at offset %d", start)
	}
	return DecodeEntry(buf[4:])
}

// Sync flushes the file.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
