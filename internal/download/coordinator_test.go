package download

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/italolelis/dictpack/internal/wordlist"
	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-memory ledger for coordinator tests.
type memStore struct {
	clients map[string]*wordlist.Client
	records map[string]*wordlist.Record
}

func newMemStore() *memStore {
	return &memStore{
		clients: make(map[string]*wordlist.Client),
		records: make(map[string]*wordlist.Record),
	}
}

func key(clientID, wordListID string, version int) string {
	return fmt.Sprintf("%s|%s|%d", clientID, wordListID, version)
}

func (s *memStore) RegisterClient(_ context.Context, clientID, metadataURI string) error {
	s.clients[clientID] = &wordlist.Client{ID: clientID, MetadataURI: metadataURI}

	return nil
}

func (s *memStore) GetClient(_ context.Context, clientID string) (*wordlist.Client, error) {
	c, ok := s.clients[clientID]
	if !ok {
		return nil, wordlist.ErrNotFound
	}

	return c, nil
}

func (s *memStore) ListClients(_ context.Context) ([]wordlist.Client, error) {
	var out []wordlist.Client
	for _, c := range s.clients {
		out = append(out, *c)
	}

	return out, nil
}

func (s *memStore) SetMetadataHandle(_ context.Context, metadataURI, handle string) error {
	for _, c := range s.clients {
		if c.MetadataURI == metadataURI {
			c.MetadataHandle = handle
		}
	}

	return nil
}

func (s *memStore) MetadataHandleForURI(_ context.Context, metadataURI string) (string, error) {
	for _, c := range s.clients {
		if c.MetadataURI == metadataURI {
			return c.MetadataHandle, nil
		}
	}

	return "", nil
}

func (s *memStore) SaveLastUpdateTime(_ context.Context, metadataURI string, t time.Time) error {
	for _, c := range s.clients {
		if c.MetadataURI == metadataURI {
			c.LastMetadataUpdate = t
		}
	}

	return nil
}

func (s *memStore) SetDownloadOverMetered(_ context.Context, clientID string, setting wordlist.MeteredSetting) error {
	c, ok := s.clients[clientID]
	if !ok {
		return wordlist.ErrNotFound
	}

	c.DownloadOverMetered = setting

	return nil
}

func (s *memStore) Get(_ context.Context, clientID, wordListID string, version int) (*wordlist.Record, error) {
	rec, ok := s.records[key(clientID, wordListID, version)]
	if !ok {
		return nil, wordlist.ErrNotFound
	}

	cp := *rec

	return &cp, nil
}

func (s *memStore) Latest(_ context.Context, clientID, wordListID string) (*wordlist.Record, error) {
	var best *wordlist.Record

	for _, rec := range s.records {
		if rec.ClientID == clientID && rec.WordListID == wordListID {
			if best == nil || rec.Version > best.Version {
				best = rec
			}
		}
	}

	if best == nil {
		return nil, wordlist.ErrNotFound
	}

	cp := *best

	return &cp, nil
}

func (s *memStore) Upsert(_ context.Context, rec wordlist.Record) error {
	s.records[key(rec.ClientID, rec.WordListID, rec.Version)] = &rec

	return nil
}

func (s *memStore) Delete(_ context.Context, clientID, wordListID string, version int) error {
	delete(s.records, key(clientID, wordListID, version))

	return nil
}

func (s *memStore) ListByClient(_ context.Context, clientID string) ([]wordlist.Record, error) {
	var out []wordlist.Record

	for _, rec := range s.records {
		if rec.ClientID == clientID {
			out = append(out, *rec)
		}
	}

	return out, nil
}

func (s *memStore) FindByHandle(_ context.Context, handle string) ([]wordlist.DownloadWaiter, error) {
	if handle == "" {
		return nil, nil
	}

	var out []wordlist.DownloadWaiter

	for _, c := range s.clients {
		if c.MetadataHandle == handle {
			out = append(out, wordlist.DownloadWaiter{ClientID: c.ID, MetadataURI: c.MetadataURI})
		}
	}

	for _, rec := range s.records {
		if rec.DownloadHandle == handle {
			cp := *rec
			out = append(out, wordlist.DownloadWaiter{ClientID: rec.ClientID, Record: &cp})
		}
	}

	return out, nil
}

func (s *memStore) MarkDownloading(_ context.Context, clientID, wordListID string, version int, handle string) error {
	rec, ok := s.records[key(clientID, wordListID, version)]
	if !ok {
		return wordlist.ErrNotFound
	}

	rec.Status = wordlist.StatusDownloading
	rec.DownloadHandle = handle

	return nil
}

func (s *memStore) DeleteDownloadingEntry(_ context.Context, handle string) error {
	for k, rec := range s.records {
		if rec.DownloadHandle == handle && rec.Status == wordlist.StatusDownloading {
			delete(s.records, k)
		}
	}

	return nil
}

// stubTransport hands out sequential handles and records cancellations.
type stubTransport struct {
	next      int
	enqueued  []Request
	cancelled []string
}

func (t *stubTransport) Enqueue(_ context.Context, req Request) (string, error) {
	t.next++
	t.enqueued = append(t.enqueued, req)

	return fmt.Sprintf("h%d", t.next), nil
}

func (t *stubTransport) QueryStatus(_ context.Context, handle string) (*CompletedInfo, error) {
	return &CompletedInfo{Handle: handle, Successful: true}, nil
}

func (t *stubTransport) OpenPayload(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("no payload in stub")
}

func (t *stubTransport) Cancel(_ context.Context, handle string) error {
	t.cancelled = append(t.cancelled, handle)

	return nil
}

func TestRegisterMetadataDownloadRecordsHandle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.RegisterClient(ctx, "kb", "http://feed/metadata.json"))

	coord := NewCoordinator(&stubTransport{}, store)

	handle, err := coord.RegisterMetadataDownload(ctx, "http://feed/metadata.json", Request{URI: "http://feed/metadata.json"})
	require.NoError(t, err)
	require.Equal(t, "h1", handle)

	stored, err := store.MetadataHandleForURI(ctx, "http://feed/metadata.json")
	require.NoError(t, err)
	require.Equal(t, handle, stored)
}

func TestReregisterSupersedesOldHandle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.RegisterClient(ctx, "kb", "http://feed/metadata.json"))

	coord := NewCoordinator(&stubTransport{}, store)

	oldHandle, err := coord.RegisterMetadataDownload(ctx, "http://feed/metadata.json", Request{})
	require.NoError(t, err)

	newHandle, err := coord.RegisterMetadataDownload(ctx, "http://feed/metadata.json", Request{})
	require.NoError(t, err)
	require.NotEqual(t, oldHandle, newHandle)

	// The superseded handle resolves to nobody; its completion must be dropped.
	waiters, err := coord.ResolveCompletion(ctx, oldHandle)
	require.NoError(t, err)
	require.Empty(t, waiters)

	// The live handle still resolves.
	waiters, err = coord.ResolveCompletion(ctx, newHandle)
	require.NoError(t, err)
	require.Len(t, waiters, 1)
	require.True(t, waiters[0].IsMetadata())
}

func TestResolveCompletionClearsMetadataHandle(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.RegisterClient(ctx, "kb", "http://feed/metadata.json"))

	coord := NewCoordinator(&stubTransport{}, store)

	handle, err := coord.RegisterMetadataDownload(ctx, "http://feed/metadata.json", Request{})
	require.NoError(t, err)

	waiters, err := coord.ResolveCompletion(ctx, handle)
	require.NoError(t, err)
	require.Len(t, waiters, 1)

	stored, err := store.MetadataHandleForURI(ctx, "http://feed/metadata.json")
	require.NoError(t, err)
	require.Empty(t, stored)

	client, err := store.GetClient(ctx, "kb")
	require.NoError(t, err)
	require.False(t, client.LastMetadataUpdate.IsZero())

	// Resolving again finds nobody: at most one resolution per handle.
	waiters, err = coord.ResolveCompletion(ctx, handle)
	require.NoError(t, err)
	require.Empty(t, waiters)
}

func TestCancelMetadataDownload(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.RegisterClient(ctx, "kb", "http://feed/metadata.json"))

	transport := &stubTransport{}
	coord := NewCoordinator(transport, store)

	// Nothing outstanding: silent no-op.
	had, err := coord.CancelMetadataDownload(ctx, "http://feed/metadata.json")
	require.NoError(t, err)
	require.False(t, had)
	require.Empty(t, transport.cancelled)

	handle, err := coord.RegisterMetadataDownload(ctx, "http://feed/metadata.json", Request{})
	require.NoError(t, err)

	had, err = coord.CancelMetadataDownload(ctx, "http://feed/metadata.json")
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, []string{handle}, transport.cancelled)

	stored, err := store.MetadataHandleForURI(ctx, "http://feed/metadata.json")
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestRegisterWordListDownloadMarksRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.Upsert(ctx, wordlist.Record{
		ClientID: "kb", WordListID: "en", Version: 1, Status: wordlist.StatusAvailable,
		RemoteURL: "http://feed/en.dict",
	}))

	transport := &stubTransport{}
	coord := NewCoordinator(transport, store)

	handle, err := coord.RegisterWordListDownload(ctx, "kb", wordlist.WordList{
		ID: "en", Version: 1, RemoteURL: "http://feed/en.dict",
	}, true)
	require.NoError(t, err)

	rec, err := store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusDownloading, rec.Status)
	require.Equal(t, handle, rec.DownloadHandle)

	require.Len(t, transport.enqueued, 1)
	require.Equal(t, "http://feed/en.dict", transport.enqueued[0].URI)
	require.True(t, transport.enqueued[0].AllowMetered)
}

func TestCancelWordListDownloadIgnoresEmptyHandle(t *testing.T) {
	transport := &stubTransport{}
	coord := NewCoordinator(transport, newMemStore())

	require.NoError(t, coord.CancelWordListDownload(context.Background(), ""))
	require.Empty(t, transport.cancelled)
}
