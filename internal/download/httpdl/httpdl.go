// Package httpdl is a plain-HTTP implementation of the download transport.
// Transfers run in the background with bounded parallelism and land in a
// spool directory; the owner is told about each completion through a
// callback and fetches the payload with OpenPayload.
package httpdl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/dictpack/internal/download"
	"github.com/italolelis/dictpack/internal/download/progress"
	"github.com/italolelis/dictpack/internal/logctx"
	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"
)

const (
	dirPerm          = 0o755
	progressInterval = int64(4 * 1024 * 1024) // 4MB

	// Error codes surfaced through CompletedInfo.
	ErrCodeNone        = 0
	ErrCodeHTTP        = 1
	ErrCodeIO          = 2
	ErrCodePolicy      = 3
	ErrCodeCancelled   = 4
	ErrCodeUnreachable = 5
)

// CompletionFunc is invoked once per finished transfer, successful or not,
// from the transfer's own goroutine.
type CompletionFunc func(handle string)

// MeteredProbe reports whether the current network connection is metered.
type MeteredProbe func() bool

type job struct {
	handle string
	uri    string
	path   string
	cancel context.CancelFunc

	done    bool
	success bool
	errCode int
}

// Transport downloads payloads over HTTP.
type Transport struct {
	client      *http.Client
	spoolDir    string
	sem         *semaphore.Weighted
	metered     MeteredProbe
	onComplete  CompletionFunc
	completions sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job
}

// Option configures the transport.
type Option func(*Transport)

// WithHTTPClient replaces the HTTP client used for transfers.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithToken authenticates every transfer with a static bearer token.
func WithToken(ctx context.Context, token string) Option {
	return func(t *Transport) {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		t.client = oauth2.NewClient(ctx, src)
	}
}

// WithMeteredProbe installs the network policy probe. Without one the
// connection is assumed unmetered.
func WithMeteredProbe(probe MeteredProbe) Option {
	return func(t *Transport) { t.metered = probe }
}

func NewTransport(spoolDir string, maxParallel int, opts ...Option) (*Transport, error) {
	if err := os.MkdirAll(spoolDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	if maxParallel < 1 {
		maxParallel = 1
	}

	t := &Transport{
		client:   http.DefaultClient,
		spoolDir: spoolDir,
		sem:      semaphore.NewWeighted(int64(maxParallel)),
		jobs:     make(map[string]*job),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// SetCompletionFunc installs the completion callback. Must be called before
// the first Enqueue; it is separate from construction because the consumer
// of completions usually depends on the transport itself.
func (t *Transport) SetCompletionFunc(fn CompletionFunc) {
	t.onComplete = fn
}

// Enqueue registers a transfer and starts it in the background. The
// returned handle is opaque and unique per request.
func (t *Transport) Enqueue(ctx context.Context, req download.Request) (string, error) {
	handle := uuid.NewString()

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		handle: handle,
		uri:    req.URI,
		path:   filepath.Join(t.spoolDir, handle),
		cancel: cancel,
	}

	t.mu.Lock()
	t.jobs[handle] = j
	t.mu.Unlock()

	t.completions.Add(1)

	go t.run(jobCtx, j, req)

	return handle, nil
}

func (t *Transport) run(ctx context.Context, j *job, req download.Request) {
	defer t.completions.Done()

	logger := logctx.LoggerFromContext(ctx).With("handle", j.handle, "uri", j.uri)

	if err := t.sem.Acquire(ctx, 1); err != nil {
		t.finish(ctx, j, false, ErrCodeCancelled)

		return
	}
	defer t.sem.Release(1)

	if !req.AllowMetered && t.metered != nil && t.metered() {
		logger.Info("skipping download on metered connection")
		t.finish(ctx, j, false, ErrCodePolicy)

		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URI, nil)
	if err != nil {
		t.finish(ctx, j, false, ErrCodeUnreachable)

		return
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		logger.Error("transfer failed", "err", err)
		t.finish(ctx, j, false, ErrCodeUnreachable)

		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("transfer rejected", "status", resp.StatusCode)
		t.finish(ctx, j, false, ErrCodeHTTP)

		return
	}

	if err := t.spool(ctx, j, resp); err != nil {
		logger.Error("failed to spool payload", "err", err)
		_ = os.Remove(j.path)
		t.finish(ctx, j, false, ErrCodeIO)

		return
	}

	logger.Info("transfer finished", "size", humanize.Bytes(uint64(max(resp.ContentLength, 0))))
	t.finish(ctx, j, true, ErrCodeNone)
}

func (t *Transport) spool(ctx context.Context, j *job, resp *http.Response) error {
	logger := logctx.LoggerFromContext(ctx)

	out, err := os.Create(j.path)
	if err != nil {
		return fmt.Errorf("failed to create spool file: %w", err)
	}
	defer out.Close()

	pr := progress.NewReader(resp.Body, resp.ContentLength, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"uri", j.uri,
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)))
		} else {
			logger.Debug("download progress", "uri", j.uri, "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	if _, err := io.Copy(out, pr); err != nil {
		return fmt.Errorf("failed to copy payload: %w", err)
	}

	return nil
}

func (t *Transport) finish(ctx context.Context, j *job, success bool, errCode int) {
	t.mu.Lock()
	if _, known := t.jobs[j.handle]; !known {
		// Cancelled while running; nobody wants the completion.
		t.mu.Unlock()

		return
	}

	j.done = true
	j.success = success
	j.errCode = errCode
	t.mu.Unlock()

	if t.onComplete != nil {
		t.onComplete(j.handle)
	}
}

// QueryStatus reports on a finished transfer. Unknown handles report a
// plain failure, mirroring how an external download manager answers
// queries for ids it no longer tracks.
func (t *Transport) QueryStatus(_ context.Context, handle string) (*download.CompletedInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[handle]
	if !ok || !j.done {
		return &download.CompletedInfo{Handle: handle, Successful: false, ErrorCode: ErrCodeUnreachable}, nil
	}

	return &download.CompletedInfo{
		Handle:     handle,
		URI:        j.uri,
		Successful: j.success,
		ErrorCode:  j.errCode,
	}, nil
}

// OpenPayload opens the spooled payload of a successfully finished
// transfer.
func (t *Transport) OpenPayload(_ context.Context, handle string) (io.ReadCloser, error) {
	t.mu.Lock()
	j, ok := t.jobs[handle]
	t.mu.Unlock()

	if !ok || !j.done || !j.success {
		return nil, fmt.Errorf("no payload available for handle %s", handle)
	}

	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spooled payload: %w", err)
	}

	return f, nil
}

// Cancel stops an in-flight transfer or removes a finished one along with
// its spool file. Unknown handles are a no-op.
func (t *Transport) Cancel(_ context.Context, handle string) error {
	t.mu.Lock()
	j, ok := t.jobs[handle]
	if ok {
		delete(t.jobs, handle)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}

	j.cancel()

	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spool file: %w", err)
	}

	return nil
}

// Wait blocks until every in-flight transfer has delivered its completion.
// Used on shutdown.
func (t *Transport) Wait() {
	t.completions.Wait()
}
