package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

func readArchiveFile(t *testing.T, path string) []oplog.Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive failed: %v", err)
	}
	defer f.Close()

	var entries []oplog.Entry
	sc := bufio.NewScanner(snappy.NewReader(f))
	for sc.Scan() {
		var e oplog.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal archived entry failed: %v", err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan archive failed: %v", err)
	}
	return entries
}

func TestArchiveSaveAndReadBack(t *testing.T) {
	dir := t.TempDir()
	a, err := NewRollbackArchive(dir)
	if err != nil {
		t.Fatalf("NewRollbackArchive failed: %v", err)
	}

	want := []oplog.Entry{
		{ID: gtid.New(1, 3), Ts: 3000, Hash: 7, Payload: []byte("third")},
		{ID: gtid.New(1, 2), Ts: 2000, Hash: 5, Payload: []byte("second")},
	}
	for _, e := range want {
		if err := a.Save(1, e); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := readArchiveFile(t, filepath.Join(dir, "rollback_000001.jsonl.snappy"))
	if len(got) != 2 {
		t.Fatalf("archive holds %d entries, want 2", len(got))
	}
	for i := range want {
		if gtid.Compare(got[i].ID, want[i].ID) != 0 || got[i].Hash != want[i].Hash {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestArchiveRotatesPerRollback(t *testing.T) {
	dir := t.TempDir()
	a, err := NewRollbackArchive(dir)
	if err != nil {
		t.Fatalf("NewRollbackArchive failed: %v", err)
	}

	if err := a.Save(1, oplog.Entry{ID: gtid.New(1, 1), Ts: 1000}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := a.Save(2, oplog.Entry{ID: gtid.New(1, 2), Ts: 2000}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, name := range []string{"rollback_000001.jsonl.snappy", "rollback_000002.jsonl.snappy"} {
		entries := readArchiveFile(t, filepath.Join(dir, name))
		if len(entries) != 1 {
			t.Errorf("%s holds %d entries, want 1", name, len(entries))
		}
	}
}

func TestArchiveCloseIdempotent(t *testing.T) {
	a, err := NewRollbackArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewRollbackArchive failed: %v", err)
	}
	if err := a.Save(1, oplog.Entry{ID: gtid.New(1, 1)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

type captureUploader struct {
	keys  []string
	sizes []int
}

func (u *captureUploader) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	u.keys = append(u.keys, key)
	u.sizes = append(u.sizes, len(data))
	return nil
}

func TestArchiveUploadsFinishedFiles(t *testing.T) {
	up := &captureUploader{}
	a, err := NewRollbackArchive(t.TempDir(), WithArchiveUploader(up))
	if err != nil {
		t.Fatalf("NewRollbackArchive failed: %v", err)
	}

	if err := a.Save(3, oplog.Entry{ID: gtid.New(1, 1), Payload: []byte("x")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(up.keys) != 1 || up.keys[0] != "rollback_000003.jsonl.snappy" {
		t.Fatalf("uploaded keys = %v, want [rollback_000003.jsonl.snappy]", up.keys)
	}
	if up.sizes[0] == 0 {
		t.Error("uploaded archive is empty")
	}
}
