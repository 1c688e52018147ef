package download

import (
	"context"
	"sync"
	"time"

	"github.com/italolelis/dictpack/internal/logctx"
	"github.com/italolelis/dictpack/internal/wordlist"
)

// Coordinator is the single serialization point for the download handle
// ledger. Enqueueing a transfer and durably recording its handle, and
// resolving a completion back to the records waiting on it, both happen
// under one mutex, so a completion can never observe a half-written handle
// and a handle can never be resolved twice.
type Coordinator struct {
	mu        sync.Mutex
	transport Transport
	store     wordlist.Store
	now       func() time.Time
}

func NewCoordinator(transport Transport, store wordlist.Store) *Coordinator {
	return &Coordinator{
		transport: transport,
		store:     store,
		now:       time.Now,
	}
}

// RegisterMetadataDownload enqueues a metadata feed fetch and records its
// handle against the feed URI, overwriting any previous handle. If an older
// download for the same URI is still outstanding it has been stuck for a
// while; the new request supersedes it, and if the old one completes later
// its handle is no longer recognized and the completion is ignored.
func (c *Coordinator) RegisterMetadataDownload(ctx context.Context, metadataURI string, req Request) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	handle, err := c.transport.Enqueue(ctx, req)
	if err != nil {
		return "", &wordlist.TransportError{Operation: "enqueue metadata", Err: err}
	}

	if err := c.store.SetMetadataHandle(ctx, metadataURI, handle); err != nil {
		return "", err
	}

	logger.Info("metadata download requested", "metadata_uri", metadataURI, "handle", handle)

	return handle, nil
}

// RegisterWordListDownload enqueues a word list transfer and atomically
// marks the record as downloading with the returned handle. Without the
// lock the transfer could complete before the handle hits the store and
// the completion would find nobody waiting.
func (c *Coordinator) RegisterWordListDownload(ctx context.Context, clientID string, wl wordlist.WordList, allowMetered bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle, err := c.transport.Enqueue(ctx, Request{
		URI:          wl.RemoteURL,
		Title:        wl.Description,
		AllowMetered: allowMetered,
	})
	if err != nil {
		return "", &wordlist.TransportError{Operation: "enqueue word list", Err: err}
	}

	if err := c.store.MarkDownloading(ctx, clientID, wl.ID, wl.Version, handle); err != nil {
		return "", err
	}

	return handle, nil
}

// CancelWordListDownload drops the transfer behind the handle. Unknown or
// already-finished handles are a no-op.
func (c *Coordinator) CancelWordListDownload(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.transport.Cancel(ctx, handle)
}

// ResolveCompletion looks up every record waiting on the handle. If the
// metadata waiter is among them the stored metadata handle is cleared and
// the last successful fetch time stamped, all under the ledger lock. An
// empty result means the handle is not ours (superseded or foreign) and
// the caller must ignore the completion.
func (c *Coordinator) ResolveCompletion(ctx context.Context, handle string) ([]wordlist.DownloadWaiter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiters, err := c.store.FindByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}

	for _, w := range waiters {
		if !w.IsMetadata() {
			continue
		}

		if err := c.store.SetMetadataHandle(ctx, w.MetadataURI, ""); err != nil {
			return nil, err
		}

		if err := c.store.SaveLastUpdateTime(ctx, w.MetadataURI, c.now()); err != nil {
			return nil, err
		}

		break
	}

	return waiters, nil
}

// CancelMetadataDownload removes the stored handle for the feed URI and
// cancels the underlying transfer. It reports whether a download was
// actually outstanding so the caller can treat the cancellation as a
// failed completion; canceling an absent key is a silent no-op.
func (c *Coordinator) CancelMetadataDownload(ctx context.Context, metadataURI string) (bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	handle, err := c.store.MetadataHandleForURI(ctx, metadataURI)
	if err != nil {
		return false, err
	}

	if handle == "" {
		return false, nil
	}

	if err := c.store.SetMetadataHandle(ctx, metadataURI, ""); err != nil {
		return false, err
	}

	if err := c.transport.Cancel(ctx, handle); err != nil {
		logger.Error("failed to cancel metadata download", "handle", handle, "err", err)
	}

	return true, nil
}

// Exclusive runs fn under the ledger lock. Post-download record mutations
// (install, downloading-entry removal) use this so they cannot interleave
// with a re-register for the same key.
func (c *Coordinator) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return fn(ctx)
}
