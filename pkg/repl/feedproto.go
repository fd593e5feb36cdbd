package repl

import (
	"encoding/json"
	"fmt"

	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

// Feed protocol operations. The feed is a REQ/REP exchange: every
// request is one JSON message and yields exactly one JSON response.
// The feed keeps no per-client cursor state; clients page by GTID.
const (
	feedOpHandshake = "handshake"
	feedOpTail      = "tail"
	feedOpOldest    = "oldest"
	feedOpReverse   = "reverse"
)

type feedRequest struct {
	Op    string `json:"op"`
	Token string `json:"token"`

	// tail, oldest
	NS string `json:"ns,omitempty"`

	// tail: entries with GTID >= From (or > From when Exclusive).
	// reverse: entries with GTID <= From (or < From), descending.
	From      gtid.GTID `json:"from,omitempty"`
	Exclusive bool      `json:"exclusive,omitempty"`
	Max       int       `json:"max,omitempty"`
}

type feedResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	// handshake
	NodeID string `json:"node_id,omitempty"`

	// tail, reverse
	Entries []oplog.Entry `json:"entries,omitempty"`

	// oldest
	Entry *oplog.Entry `json:"entry,omitempty"`
}

func encodeFeedRequest(req feedRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed request: %w", err)
	}
	return data, nil
}

func decodeFeedRequest(data []byte) (feedRequest, error) {
	var req feedRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return feedRequest{}, fmt.Errorf("failed to unmarshal feed request: %w", err)
	}
	return req, nil
}

func encodeFeedResponse(resp feedResponse) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed response: %w", err)
	}
	return data, nil
}

func decodeFeedResponse(data []byte) (feedResponse, error) {
	var resp feedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return feedResponse{}, fmt.Errorf("failed to unmarshal feed response: %w", err)
	}
	return resp, nil
}

func feedErrorResponse(format string, args ...interface{}) feedResponse {
	return feedResponse{OK: false, Error: fmt.Sprintf(format, args...)}
}
