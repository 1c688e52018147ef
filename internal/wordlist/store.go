package wordlist

import (
	"context"
	"time"
)

// DownloadWaiter joins a download handle to whatever is waiting on it.
// Exactly one of the two shapes applies: the metadata waiter (Record is nil,
// MetadataURI set) represents the whole-feed fetch; a word list waiter
// carries the record that was marked downloading.
type DownloadWaiter struct {
	ClientID    string
	MetadataURI string
	Record      *Record
}

// IsMetadata reports whether this waiter is the metadata-feed fetch.
func (w DownloadWaiter) IsMetadata() bool {
	return w.Record == nil
}

// Store is the persistent ledger of clients and word list records. All
// methods return ErrNotFound (possibly wrapped) when the addressed row does
// not exist, except the List/Find methods which return empty slices.
type Store interface {
	// Client ledger.
	RegisterClient(ctx context.Context, clientID, metadataURI string) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	ListClients(ctx context.Context) ([]Client, error)
	// SetMetadataHandle overwrites the stored metadata download handle for
	// every client registered against metadataURI. An empty handle clears it.
	SetMetadataHandle(ctx context.Context, metadataURI, handle string) error
	MetadataHandleForURI(ctx context.Context, metadataURI string) (string, error)
	SaveLastUpdateTime(ctx context.Context, metadataURI string, t time.Time) error
	SetDownloadOverMetered(ctx context.Context, clientID string, setting MeteredSetting) error

	// Word list records.
	Get(ctx context.Context, clientID, wordListID string, version int) (*Record, error)
	// Latest returns the highest-version record for the id, any status.
	Latest(ctx context.Context, clientID, wordListID string) (*Record, error)
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, clientID, wordListID string, version int) error
	ListByClient(ctx context.Context, clientID string) ([]Record, error)

	// Download bookkeeping.
	FindByHandle(ctx context.Context, handle string) ([]DownloadWaiter, error)
	// MarkDownloading records the handle and flips the record to
	// StatusDownloading in one statement.
	MarkDownloading(ctx context.Context, clientID, wordListID string, version int, handle string) error
	// DeleteDownloadingEntry removes the record still flagged as downloading
	// under the given handle, used when its download failed.
	DeleteDownloadingEntry(ctx context.Context, handle string) error
}

// Downloader issues and cancels word list downloads. It is implemented by
// the download lifecycle coordinator; actions only see this narrow surface.
type Downloader interface {
	// RegisterWordListDownload enqueues a download for the word list and
	// atomically records the returned handle on its record.
	RegisterWordListDownload(ctx context.Context, clientID string, wl WordList, allowMetered bool) (string, error)
	// CancelWordListDownload asks the transport to drop the transfer behind
	// the handle. Unknown handles are a no-op.
	CancelWordListDownload(ctx context.Context, handle string) error
}
