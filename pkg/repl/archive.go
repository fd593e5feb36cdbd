package repl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

// ArchiveUploader ships a finished archive file to off-node storage.
type ArchiveUploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// RollbackArchive saves rolled-back entries before they are undone, one
// snappy-compressed JSONL file per rollback generation. The data is
// gone from the oplog once the undo runs; the archive is the only place
// an operator can still inspect it.
type RollbackArchive struct {
	mu sync.Mutex

	dir      string
	uploader ArchiveUploader
	logger   *logging.JSONLogger

	rbid uint64
	path string
	f    *os.File
	w    *snappy.Writer
}

// ArchiveOption configures a RollbackArchive.
type ArchiveOption func(*RollbackArchive)

// WithArchiveUploader uploads each finished archive file.
func WithArchiveUploader(u ArchiveUploader) ArchiveOption {
	return func(a *RollbackArchive) { a.uploader = u }
}

// WithArchiveLogger sets the logger.
func WithArchiveLogger(logger *logging.JSONLogger) ArchiveOption {
	return func(a *RollbackArchive) { a.logger = logger }
}

// NewRollbackArchive creates an archive rooted at dir.
func NewRollbackArchive(dir string, opts ...ArchiveOption) (*RollbackArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	a := &RollbackArchive{dir: dir, logger: logging.NewDefaultLogger()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Save appends one rolled-back entry to the archive file for rbid. A
// new rbid rotates to a fresh file and finishes the previous one.
func (a *RollbackArchive) Save(rbid uint64, e oplog.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.f == nil || rbid != a.rbid {
		if err := a.rotateLocked(rbid); err != nil {
			return err
		}
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal archived entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := a.w.Write(line); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

// Close finishes the current archive file.
func (a *RollbackArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finishLocked()
}

func (a *RollbackArchive) rotateLocked(rbid uint64) error {
	if err := a.finishLocked(); err != nil {
		return err
	}

	path := filepath.Join(a.dir, fmt.Sprintf("rollback_%06d.jsonl.snappy", rbid))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	a.rbid = rbid
	a.path = path
	a.f = f
	a.w = snappy.NewBufferedWriter(f)
	return nil
}

func (a *RollbackArchive) finishLocked() error {
	if a.f == nil {
		return nil
	}
	if err := a.w.Close(); err != nil {
		a.f.Close()
		return fmt.Errorf("failed to flush archive: %w", err)
	}
	if err := a.f.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	path := a.path
	a.f = nil
	a.w = nil
	a.path = ""

	if a.uploader != nil {
		a.uploadFinished(path)
	}
	return nil
}

// uploadFinished ships a closed archive file. Upload failures only log;
// the local copy stays on disk either way.
func (a *RollbackArchive) uploadFinished(path string) {
	f, err := os.Open(path)
	if err != nil {
		a.logger.Warn("could not reopen archive for upload",
			logging.String("path", path), logging.Error(err))
		return
	}
	defer f.Close()

	key := filepath.Base(path)
	if err := a.uploader.Upload(context.Background(), key, f); err != nil {
		a.logger.Warn("archive upload failed",
			logging.String("path", path), logging.Error(err))
		return
	}
	a.logger.Info("archive uploaded", logging.String("key", key))
}
