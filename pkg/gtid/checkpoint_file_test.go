package gtid

import (
	"context"
	"testing"
)

func TestFileCheckpointStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileCheckpointStore(dir)
	if err != nil {
		t.Fatalf("NewFileCheckpointStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	// empty store reports not found
	_, found, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load on empty store failed: %v", err)
	}
	if found {
		t.Error("Load on empty store should report not found")
	}

	want := Checkpoint{LastGTID: New(3, 14), LastTs: 1592653, LastHash: 589793}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, found, err := store.Load(ctx)
	if err != nil || !found {
		t.Fatalf("Load after save: found=%v err=%v", found, err)
	}
	if Compare(got.LastGTID, want.LastGTID) != 0 || got.LastTs != want.LastTs || got.LastHash != want.LastHash {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

// TestFileCheckpointStoreSurvivesReopen tests that the checkpoint is
// durable across store instances, as it must be across process restarts.
func TestFileCheckpointStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileCheckpointStore(dir)
	if err != nil {
		t.Fatalf("NewFileCheckpointStore failed: %v", err)
	}
	want := Checkpoint{LastGTID: New(7, 7), LastTs: 777, LastHash: 7777}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	store.Close()

	reopened, err := NewFileCheckpointStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, found, err := reopened.Load(ctx)
	if err != nil || !found {
		t.Fatalf("Load after reopen: found=%v err=%v", found, err)
	}
	if Compare(got.LastGTID, want.LastGTID) != 0 {
		t.Errorf("Load after reopen = %+v, want %+v", got, want)
	}
}
