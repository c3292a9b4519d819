package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultConcurrency is the number of simultaneous transfers when the
// configuration does not say otherwise.
const DefaultConcurrency = 2

const copyChunkSize = 32 * 1024

// Progress reports how far one transfer has come.
type Progress struct {
	LocalPath  string
	RemotePath string
	Sent       int64
	Total      int64
}

// ProgressFunc receives progress updates. It is called from transfer
// goroutines and must be safe for concurrent use.
type ProgressFunc func(Progress)

// Manager runs uploads against one remote filesystem.
type Manager struct {
	remote      Remote
	logger      *slog.Logger
	concurrency int
	progress    ProgressFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithConcurrency sets how many transfers run at once during glob uploads.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(m *Manager) {
		m.progress = fn
	}
}

// NewManager creates an upload manager over the given remote.
func NewManager(remote Remote, opts ...Option) *Manager {
	m := &Manager{
		remote:      remote,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UploadFile streams one local file to remotePath. Cancelling the context
// aborts the transfer between chunks; the partially written remote file is
// left behind.
func (m *Manager) UploadFile(ctx context.Context, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}
	total := info.Size()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := m.remote.MkdirAll(dir); err != nil {
			return fmt.Errorf("create remote dir: %w", err)
		}
	}

	dst, err := m.remote.Create(remotePath)
	if err != nil {
		return err
	}
	defer dst.Close()

	var sent int64
	buf := make([]byte, copyChunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write remote file: %w", werr)
			}
			sent += int64(n)
			if m.progress != nil {
				m.progress(Progress{
					LocalPath:  localPath,
					RemotePath: remotePath,
					Sent:       sent,
					Total:      total,
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read local file: %w", rerr)
		}
	}

	m.logger.Info("upload complete",
		slog.String("local", localPath),
		slog.String("remote", remotePath),
		slog.Int64("bytes", sent),
	)
	return nil
}

// UploadGlob expands a doublestar pattern against the local filesystem and
// uploads every matching regular file into remoteDir, flattened by base
// name. Transfers run concurrently; the first context cancellation stops
// the remaining queue. It returns the remote paths that were written.
func (m *Manager) UploadGlob(ctx context.Context, pattern, remoteDir string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("expand pattern: %w", err)
	}

	var files []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, match)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match %q", pattern)
	}

	workers := m.concurrency
	if workers > len(files) {
		workers = len(files)
	}

	queue := make(chan string)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		uploaded []string
		errs     []error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for local := range queue {
				remote := path.Join(remoteDir, filepath.Base(local))
				err := m.UploadFile(ctx, local, remote)

				mu.Lock()
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", local, err))
				} else {
					uploaded = append(uploaded, remote)
				}
				mu.Unlock()
			}
		}()
	}

	for _, local := range files {
		select {
		case <-ctx.Done():
			mu.Lock()
			errs = append(errs, ctx.Err())
			mu.Unlock()
		case queue <- local:
			continue
		}
		break
	}
	close(queue)
	wg.Wait()

	sort.Strings(uploaded)
	return uploaded, errors.Join(errs...)
}
