package repl

import (
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-docstore/pkg/auth"
	"github.com/dd0wney/cluso-docstore/pkg/gtid"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/metrics"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

const (
	feedRecvTimeout      = 1 * time.Second
	feedDefaultBatchSize = 256
	feedMaxBatchSize     = 4096
)

// FeedServer serves the local oplog to downstream members over a REP
// socket. Every member runs one so any member can be chosen as a sync
// target. Requests are stateless; clients page by GTID, so a restarted
// feed loses nothing.
type FeedServer struct {
	addr   string
	store  *oplog.Store
	tokens *auth.FeedTokenManager

	sock mangos.Socket

	logger  *logging.JSONLogger
	metrics *metrics.Registry

	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// FeedOption configures a FeedServer.
type FeedOption func(*FeedServer)

// WithFeedLogger sets the logger.
func WithFeedLogger(logger *logging.JSONLogger) FeedOption {
	return func(f *FeedServer) { f.logger = logger }
}

// WithFeedMetrics sets the metrics registry.
func WithFeedMetrics(reg *metrics.Registry) FeedOption {
	return func(f *FeedServer) { f.metrics = reg }
}

// NewFeedServer creates a feed over store, listening on addr
// (e.g. "tcp://0.0.0.0:27200"). tokens authenticates every request.
func NewFeedServer(addr string, store *oplog.Store, tokens *auth.FeedTokenManager, opts ...FeedOption) *FeedServer {
	f := &FeedServer{
		addr:   addr,
		store:  store,
		tokens: tokens,
		stopCh: make(chan struct{}),
		logger: logging.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start binds the socket and launches the serve loop.
func (f *FeedServer) Start() error {
	f.runningMu.Lock()
	defer f.runningMu.Unlock()

	if f.running {
		return fmt.Errorf("feed server already running")
	}

	sock, err := rep.NewSocket()
	if err != nil {
		return fmt.Errorf("failed to create REP socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, feedRecvTimeout); err != nil {
		sock.Close()
		return fmt.Errorf("failed to set recv deadline: %w", err)
	}
	if err := sock.Listen(f.addr); err != nil {
		sock.Close()
		return fmt.Errorf("failed to bind feed socket: %w", err)
	}
	f.sock = sock
	f.running = true

	f.wg.Add(1)
	go f.serve()

	f.logger.Info("oplog feed listening", logging.String("addr", f.addr))
	return nil
}

// Stop shuts the serve loop down and closes the socket.
func (f *FeedServer) Stop() error {
	f.runningMu.Lock()
	defer f.runningMu.Unlock()

	if !f.running {
		return nil
	}
	close(f.stopCh)
	f.wg.Wait()
	f.running = false

	if err := f.sock.Close(); err != nil {
		return fmt.Errorf("failed to close feed socket: %w", err)
	}
	return nil
}

func (f *FeedServer) serve() {
	defer f.wg.Done()

	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		msg, err := f.sock.Recv()
		if err != nil {
			if err == mangos.ErrRecvTimeout {
				continue
			}
			select {
			case <-f.stopCh:
				return
			default:
			}
			f.logger.Warn("feed recv failed", logging.Error(err))
			continue
		}

		resp := f.handle(msg)
		data, err := encodeFeedResponse(resp)
		if err != nil {
			f.logger.Error("feed response encode failed", logging.Error(err))
			continue
		}
		if err := f.sock.Send(data); err != nil {
			f.logger.Warn("feed send failed", logging.Error(err))
		}
	}
}

func (f *FeedServer) handle(msg []byte) feedResponse {
	req, err := decodeFeedRequest(msg)
	if err != nil {
		return feedErrorResponse("bad request: %v", err)
	}

	nodeID, err := f.tokens.ValidateToken(req.Token)
	if err != nil {
		f.logger.Warn("feed auth failed", logging.Error(err))
		if f.metrics != nil {
			f.metrics.IncFeedAuthFailures()
		}
		return feedErrorResponse("unauthorized: %v", err)
	}

	if f.metrics != nil {
		f.metrics.IncFeedRequests(req.Op)
	}

	switch req.Op {
	case feedOpHandshake:
		return feedResponse{OK: true, NodeID: nodeID}
	case feedOpTail:
		return f.handleTail(req)
	case feedOpOldest:
		return f.handleOldest(req)
	case feedOpReverse:
		return f.handleReverse(req)
	default:
		return feedErrorResponse("unknown op %q", req.Op)
	}
}

func (f *FeedServer) handleTail(req feedRequest) feedResponse {
	if req.NS != oplog.Namespace {
		return feedErrorResponse("unknown namespace %q", req.NS)
	}
	max := clampBatchSize(req.Max)

	from := req.From
	if req.Exclusive {
		from = from.Next()
	}
	entries, err := f.store.ScanFrom(from, max)
	if err != nil {
		return feedErrorResponse("scan failed: %v", err)
	}
	return feedResponse{OK: true, Entries: entries}
}

func (f *FeedServer) handleOldest(req feedRequest) feedResponse {
	if req.NS != oplog.Namespace {
		return feedErrorResponse("unknown namespace %q", req.NS)
	}
	e, ok, err := f.store.First()
	if err != nil {
		return feedErrorResponse("oldest lookup failed: %v", err)
	}
	if !ok {
		return feedResponse{OK: true}
	}
	return feedResponse{OK: true, Entry: &e}
}

func (f *FeedServer) handleReverse(req feedRequest) feedResponse {
	max := clampBatchSize(req.Max)

	entries, err := f.store.ReverseScanFrom(req.From, max)
	if err != nil {
		return feedErrorResponse("reverse scan failed: %v", err)
	}
	if req.Exclusive && len(entries) > 0 && gtid.Compare(entries[0].ID, req.From) == 0 {
		entries = entries[1:]
	}
	return feedResponse{OK: true, Entries: entries}
}

func clampBatchSize(max int) int {
	if max <= 0 {
		return feedDefaultBatchSize
	}
	if max > feedMaxBatchSize {
		return feedMaxBatchSize
	}
	return max
}
