package repl

import (
	"strings"
	"testing"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/auth"
	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

const testFeedSecret = "0123456789abcdef0123456789abcdef"

func newTestFeed(t *testing.T, n int) (*FeedServer, *auth.FeedTokenManager, []oplog.Entry) {
	t.Helper()

	store, err := oplog.OpenStore(oplog.StoreConfig{DataDir: t.TempDir(), NoSync: true})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var entries []oplog.Entry
	for i := 1; i <= n; i++ {
		id := gtid.New(1, uint64(i))
		e := oplog.Entry{ID: id, Ts: int64(i * 1000), Hash: uint64(i), Payload: []byte{byte(i)}}
		if err := store.Append(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		entries = append(entries, e)
	}

	tokens, err := auth.NewFeedTokenManager(testFeedSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewFeedTokenManager failed: %v", err)
	}
	return NewFeedServer("tcp://127.0.0.1:9201", store, tokens), tokens, entries
}

func feedToken(t *testing.T, tokens *auth.FeedTokenManager) string {
	t.Helper()
	tok, err := tokens.GenerateToken("replica-1")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return tok
}

func roundTripHandle(t *testing.T, f *FeedServer, req feedRequest) feedResponse {
	t.Helper()
	msg, err := encodeFeedRequest(req)
	if err != nil {
		t.Fatalf("encodeFeedRequest failed: %v", err)
	}
	return f.handle(msg)
}

func TestFeedRejectsBadToken(t *testing.T) {
	f, _, _ := newTestFeed(t, 1)

	resp := roundTripHandle(t, f, feedRequest{Op: feedOpHandshake, Token: "garbage"})
	if resp.OK {
		t.Fatal("request with a bad token must be rejected")
	}
	if !strings.Contains(resp.Error, "unauthorized") {
		t.Errorf("error = %q, want unauthorized", resp.Error)
	}
}

func TestFeedRejectsTokenFromOtherSecret(t *testing.T) {
	f, _, _ := newTestFeed(t, 1)

	other, err := auth.NewFeedTokenManager("ffffffffffffffffffffffffffffffff", time.Hour)
	if err != nil {
		t.Fatalf("NewFeedTokenManager failed: %v", err)
	}
	tok, err := other.GenerateToken("intruder")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	resp := roundTripHandle(t, f, feedRequest{Op: feedOpHandshake, Token: tok})
	if resp.OK {
		t.Fatal("token signed with another secret must be rejected")
	}
}

func TestFeedHandshake(t *testing.T) {
	f, tokens, _ := newTestFeed(t, 0)

	resp := roundTripHandle(t, f, feedRequest{Op: feedOpHandshake, Token: feedToken(t, tokens)})
	if !resp.OK {
		t.Fatalf("handshake failed: %s", resp.Error)
	}
	if resp.NodeID != "replica-1" {
		t.Errorf("NodeID = %q, want replica-1", resp.NodeID)
	}
}

func TestFeedUnknownOp(t *testing.T) {
	f, tokens, _ := newTestFeed(t, 0)

	resp := roundTripHandle(t, f, feedRequest{Op: "drop-tables", Token: feedToken(t, tokens)})
	if resp.OK {
		t.Fatal("unknown op must be rejected")
	}
}

func TestFeedTail(t *testing.T) {
	f, tokens, entries := newTestFeed(t, 5)
	tok := feedToken(t, tokens)

	// inclusive: GTE from
	resp := roundTripHandle(t, f, feedRequest{
		Op: feedOpTail, Token: tok, NS: oplog.Namespace,
		From: entries[2].ID, Max: 10,
	})
	if !resp.OK {
		t.Fatalf("tail failed: %s", resp.Error)
	}
	if len(resp.Entries) != 3 {
		t.Fatalf("tail returned %d entries, want 3", len(resp.Entries))
	}
	if gtid.Compare(resp.Entries[0].ID, entries[2].ID) != 0 {
		t.Errorf("first entry = %s, want %s", resp.Entries[0].ID, entries[2].ID)
	}

	// exclusive: strictly greater than from
	resp = roundTripHandle(t, f, feedRequest{
		Op: feedOpTail, Token: tok, NS: oplog.Namespace,
		From: entries[2].ID, Exclusive: true, Max: 10,
	})
	if !resp.OK {
		t.Fatalf("exclusive tail failed: %s", resp.Error)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("exclusive tail returned %d entries, want 2", len(resp.Entries))
	}
	if gtid.Compare(resp.Entries[0].ID, entries[3].ID) != 0 {
		t.Errorf("first entry = %s, want %s", resp.Entries[0].ID, entries[3].ID)
	}
}

func TestFeedTailMaxBatch(t *testing.T) {
	f, tokens, _ := newTestFeed(t, 5)

	resp := roundTripHandle(t, f, feedRequest{
		Op: feedOpTail, Token: feedToken(t, tokens), NS: oplog.Namespace,
		From: gtid.Initial(), Max: 2,
	})
	if !resp.OK {
		t.Fatalf("tail failed: %s", resp.Error)
	}
	if len(resp.Entries) != 2 {
		t.Errorf("tail returned %d entries, want max 2", len(resp.Entries))
	}
}

func TestFeedTailUnknownNamespace(t *testing.T) {
	f, tokens, _ := newTestFeed(t, 1)

	resp := roundTripHandle(t, f, feedRequest{
		Op: feedOpTail, Token: feedToken(t, tokens), NS: "app.users",
	})
	if resp.OK {
		t.Fatal("tail over a non-oplog namespace must be rejected")
	}
}

func TestFeedOldest(t *testing.T) {
	f, tokens, entries := newTestFeed(t, 3)
	tok := feedToken(t, tokens)

	resp := roundTripHandle(t, f, feedRequest{Op: feedOpOldest, Token: tok, NS: oplog.Namespace})
	if !resp.OK {
		t.Fatalf("oldest failed: %s", resp.Error)
	}
	if resp.Entry == nil || gtid.Compare(resp.Entry.ID, entries[0].ID) != 0 {
		t.Errorf("oldest = %v, want %s", resp.Entry, entries[0].ID)
	}
}

func TestFeedOldestEmpty(t *testing.T) {
	f, tokens, _ := newTestFeed(t, 0)

	resp := roundTripHandle(t, f, feedRequest{Op: feedOpOldest, Token: feedToken(t, tokens), NS: oplog.Namespace})
	if !resp.OK {
		t.Fatalf("oldest failed: %s", resp.Error)
	}
	if resp.Entry != nil {
		t.Errorf("oldest on empty oplog = %v, want nil", resp.Entry)
	}
}

func TestFeedReverse(t *testing.T) {
	f, tokens, entries := newTestFeed(t, 5)
	tok := feedToken(t, tokens)

	// inclusive: LTE from, descending
	resp := roundTripHandle(t, f, feedRequest{
		Op: feedOpReverse, Token: tok, From: entries[3].ID, Max: 10,
	})
	if !resp.OK {
		t.Fatalf("reverse failed: %s", resp.Error)
	}
	if len(resp.Entries) != 4 {
		t.Fatalf("reverse returned %d entries, want 4", len(resp.Entries))
	}
	if gtid.Compare(resp.Entries[0].ID, entries[3].ID) != 0 {
		t.Errorf("first entry = %s, want %s", resp.Entries[0].ID, entries[3].ID)
	}
	if gtid.Compare(resp.Entries[3].ID, entries[0].ID) != 0 {
		t.Errorf("last entry = %s, want %s", resp.Entries[3].ID, entries[0].ID)
	}

	// exclusive drops the boundary entry
	resp = roundTripHandle(t, f, feedRequest{
		Op: feedOpReverse, Token: tok, From: entries[3].ID, Exclusive: true, Max: 10,
	})
	if !resp.OK {
		t.Fatalf("exclusive reverse failed: %s", resp.Error)
	}
	if len(resp.Entries) != 3 {
		t.Fatalf("exclusive reverse returned %d entries, want 3", len(resp.Entries))
	}
	if gtid.Compare(resp.Entries[0].ID, entries[2].ID) != 0 {
		t.Errorf("first entry = %s, want %s", resp.Entries[0].ID, entries[2].ID)
	}
}

func TestFeedBadRequestPayload(t *testing.T) {
	f, _, _ := newTestFeed(t, 0)

	resp := f.handle([]byte("{not json"))
	if resp.OK {
		t.Fatal("malformed request must be rejected")
	}
}

func TestFeedResponseRoundTrip(t *testing.T) {
	e := oplog.Entry{ID: gtid.New(2, 3), Ts: 5000, Hash: 9, Payload: []byte("doc")}
	data, err := encodeFeedResponse(feedResponse{OK: true, Entries: []oplog.Entry{e}})
	if err != nil {
		t.Fatalf("encodeFeedResponse failed: %v", err)
	}
	resp, err := decodeFeedResponse(data)
	if err != nil {
		t.Fatalf("decodeFeedResponse failed: %v", err)
	}
	if !resp.OK || len(resp.Entries) != 1 || gtid.Compare(resp.Entries[0].ID, e.ID) != 0 {
		t.Errorf("round trip mangled response: %+v", resp)
	}
}

func TestClampBatchSize(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, feedDefaultBatchSize},
		{-5, feedDefaultBatchSize},
		{10, 10},
		{feedMaxBatchSize + 1, feedMaxBatchSize},
	}
	for _, tt := range tests {
		if got := clampBatchSize(tt.in); got != tt.want {
			t.Errorf("clampBatchSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
