package repl

import (
	"fmt"
	"strings"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/req"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-docstore/pkg/auth"
	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

// RemoteReader is the OplogReader over a member's feed: a REQ socket
// paging through the remote oplog by GTID. "Cursor" here is a client
// position, not remote state; losing the connection loses nothing but
// the buffered batch.
type RemoteReader struct {
	nodeID string
	tokens *auth.FeedTokenManager
	cfg    SyncConfig
	logger *logging.JSONLogger

	sock  mangos.Socket
	host  string
	token string

	ns         string
	buf        []oplog.Entry
	nextFrom   gtid.GTID
	exclusive  bool
	haveCursor bool
}

// NewRemoteReaderFactory returns a ReaderFactory producing RemoteReaders
// that authenticate as nodeID.
func NewRemoteReaderFactory(nodeID string, tokens *auth.FeedTokenManager, cfg SyncConfig, logger *logging.JSONLogger) ReaderFactory {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return func() OplogReader {
		return &RemoteReader{nodeID: nodeID, tokens: tokens, cfg: cfg, logger: logger}
	}
}

// Connect dials the member's feed and performs the handshake.
func (r *RemoteReader) Connect(host string) error {
	r.ResetConnection()

	sock, err := req.NewSocket()
	if err != nil {
		return fmt.Errorf("failed to create REQ socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, r.cfg.SocketTimeout); err != nil {
		sock.Close()
		return fmt.Errorf("failed to set recv deadline: %w", err)
	}
	if err := sock.SetOption(mangos.OptionSendDeadline, r.cfg.SocketTimeout); err != nil {
		sock.Close()
		return fmt.Errorf("failed to set send deadline: %w", err)
	}
	if err := sock.Dial(feedAddr(host)); err != nil {
		sock.Close()
		return fmt.Errorf("failed to dial %s: %w", host, err)
	}

	token, err := r.tokens.GenerateToken(r.nodeID)
	if err != nil {
		sock.Close()
		return fmt.Errorf("failed to generate feed token: %w", err)
	}

	r.sock = sock
	r.host = host
	r.token = token

	if _, err := r.roundTrip(feedRequest{Op: feedOpHandshake}); err != nil {
		r.ResetConnection()
		return fmt.Errorf("handshake with %s failed: %w", host, err)
	}
	return nil
}

// ResetConnection tears the connection down.
func (r *RemoteReader) ResetConnection() {
	if r.sock != nil {
		r.sock.Close()
		r.sock = nil
	}
	r.host = ""
	r.token = ""
	r.buf = nil
	r.haveCursor = false
}

// Host returns the connected host, or "" when disconnected.
func (r *RemoteReader) Host() string {
	return r.host
}

// TailingQueryGTE positions the reader at entries with GTID >= g and
// fetches the first batch.
func (r *RemoteReader) TailingQueryGTE(ns string, g gtid.GTID) error {
	r.ns = ns
	r.nextFrom = g
	r.exclusive = false
	r.buf = nil
	r.haveCursor = false

	if err := r.fetch(); err != nil {
		return err
	}
	r.haveCursor = true
	return nil
}

// HaveCursor reports whether the position is still valid.
func (r *RemoteReader) HaveCursor() bool {
	return r.haveCursor
}

// FindOneOldest returns the oldest entry in the remote oplog.
func (r *RemoteReader) FindOneOldest(ns string) (oplog.Entry, bool, error) {
	resp, err := r.roundTrip(feedRequest{Op: feedOpOldest, NS: ns})
	if err != nil {
		return oplog.Entry{}, false, err
	}
	if resp.Entry == nil {
		return oplog.Entry{}, false, nil
	}
	return *resp.Entry, true, nil
}

// MoreInCurrentBatch reports whether fetched entries remain buffered.
func (r *RemoteReader) MoreInCurrentBatch() bool {
	return len(r.buf) > 0
}

// More fetches the next batch if the buffer is empty.
func (r *RemoteReader) More() bool {
	if len(r.buf) > 0 {
		return true
	}
	if !r.haveCursor {
		return false
	}
	if err := r.fetch(); err != nil {
		r.logger.Debug("feed fetch failed", logging.Host(r.host), logging.Error(err))
		r.haveCursor = false
		return false
	}
	return len(r.buf) > 0
}

// NextSafe returns an owned copy of the next entry.
func (r *RemoteReader) NextSafe() (oplog.Entry, error) {
	if len(r.buf) == 0 {
		return oplog.Entry{}, fmt.Errorf("no buffered entry")
	}
	e := r.buf[0]
	r.buf = r.buf[1:]
	r.nextFrom = e.ID
	r.exclusive = true
	return e.Clone(), nil
}

// TailCheck probes the position once more; a transport failure drops
// the cursor so the producer rebuilds the reader.
func (r *RemoteReader) TailCheck() {
	if !r.haveCursor || len(r.buf) > 0 {
		return
	}
	if err := r.fetch(); err != nil {
		r.logger.Debug("tail check failed", logging.Host(r.host), logging.Error(err))
		r.haveCursor = false
	}
}

// RollbackCursor iterates the remote oplog backwards from the entry
// with GTID <= from. It shares the reader's connection.
func (r *RemoteReader) RollbackCursor(from gtid.GTID) (RollbackCursor, error) {
	if r.sock == nil {
		return nil, fmt.Errorf("not connected")
	}
	return &remoteRollbackCursor{reader: r, from: from}, nil
}

// fetch appends the next forward batch to the buffer.
func (r *RemoteReader) fetch() error {
	resp, err := r.roundTrip(feedRequest{
		Op:        feedOpTail,
		NS:        r.ns,
		From:      r.nextFrom,
		Exclusive: r.exclusive,
		Max:       r.cfg.FetchBatchSize,
	})
	if err != nil {
		return err
	}
	r.buf = append(r.buf, resp.Entries...)
	return nil
}

// roundTrip sends one request and decodes its response.
func (r *RemoteReader) roundTrip(request feedRequest) (feedResponse, error) {
	if r.sock == nil {
		return feedResponse{}, fmt.Errorf("not connected")
	}
	request.Token = r.token

	data, err := encodeFeedRequest(request)
	if err != nil {
		return feedResponse{}, err
	}
	if err := r.sock.Send(data); err != nil {
		return feedResponse{}, fmt.Errorf("feed send failed: %w", err)
	}
	raw, err := r.sock.Recv()
	if err != nil {
		return feedResponse{}, fmt.Errorf("feed recv failed: %w", err)
	}
	resp, err := decodeFeedResponse(raw)
	if err != nil {
		return feedResponse{}, err
	}
	if !resp.OK {
		return feedResponse{}, fmt.Errorf("feed rejected %s: %s", request.Op, resp.Error)
	}
	return resp, nil
}

// remoteRollbackCursor pages backwards through the remote oplog.
type remoteRollbackCursor struct {
	reader    *RemoteReader
	from      gtid.GTID
	exclusive bool
	buf       []oplog.Entry
	done      bool
	err       error
}

func (c *remoteRollbackCursor) More() bool {
	if len(c.buf) > 0 {
		return true
	}
	if c.done || c.err != nil {
		return false
	}
	resp, err := c.reader.roundTrip(feedRequest{
		Op:        feedOpReverse,
		From:      c.from,
		Exclusive: c.exclusive,
		Max:       c.reader.cfg.FetchBatchSize,
	})
	if err != nil {
		c.err = err
		return false
	}
	if len(resp.Entries) == 0 {
		c.done = true
		return false
	}
	c.buf = resp.Entries
	return true
}

func (c *remoteRollbackCursor) Next() (oplog.Entry, error) {
	if c.err != nil {
		return oplog.Entry{}, c.err
	}
	if len(c.buf) == 0 {
		return oplog.Entry{}, fmt.Errorf("no buffered entry")
	}
	e := c.buf[0]
	c.buf = c.buf[1:]
	c.from = e.ID
	c.exclusive = true
	return e.Clone(), nil
}

func (c *remoteRollbackCursor) Close() error {
	c.buf = nil
	c.done = true
	return nil
}

// feedAddr normalizes a member host into a mangos dial address.
func feedAddr(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	return "tcp://" + host
}
