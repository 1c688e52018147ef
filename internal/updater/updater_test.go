package updater

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/italolelis/dictpack/internal/download"
	"github.com/italolelis/dictpack/internal/storage/sqlite"
	"github.com/italolelis/dictpack/internal/wordlist"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a manually-driven transport: tests decide when and how
// a transfer completes.
type fakeTransport struct {
	mu   sync.Mutex
	next int
	jobs map[string]*fakeJob
}

type fakeJob struct {
	req     download.Request
	done    bool
	success bool
	payload []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{jobs: make(map[string]*fakeJob)}
}

func (t *fakeTransport) Enqueue(_ context.Context, req download.Request) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	handle := fmt.Sprintf("h%d", t.next)
	t.jobs[handle] = &fakeJob{req: req}

	return handle, nil
}

func (t *fakeTransport) complete(handle string, success bool, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A completion racing a cancellation still arrives; recreate the job
	// the way a download manager would still answer status queries.
	j, ok := t.jobs[handle]
	if !ok {
		j = &fakeJob{}
		t.jobs[handle] = j
	}

	j.done = true
	j.success = success
	j.payload = payload
}

func (t *fakeTransport) QueryStatus(_ context.Context, handle string) (*download.CompletedInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[handle]
	if !ok || !j.done {
		return &download.CompletedInfo{Handle: handle, Successful: false}, nil
	}

	return &download.CompletedInfo{Handle: handle, URI: j.req.URI, Successful: j.success}, nil
}

func (t *fakeTransport) OpenPayload(_ context.Context, handle string) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[handle]
	if !ok || !j.done || !j.success {
		return nil, fmt.Errorf("no payload for handle %s", handle)
	}

	return io.NopCloser(bytes.NewReader(j.payload)), nil
}

func (t *fakeTransport) Cancel(_ context.Context, handle string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.jobs, handle)

	return nil
}

// recordingListener keeps every event in arrival order.
type recordingListener struct {
	metadata  []bool
	wordLists []string
	cycles    int
}

func (l *recordingListener) MetadataDownloaded(succeeded bool) {
	l.metadata = append(l.metadata, succeeded)
}

func (l *recordingListener) WordListDownloadFinished(wordListID string, succeeded bool) {
	l.wordLists = append(l.wordLists, fmt.Sprintf("%s=%t", wordListID, succeeded))
}

func (l *recordingListener) UpdateCycleCompleted() {
	l.cycles++
}

const feedURI = "http://feed/metadata.json"

type fixture struct {
	store     *sqlite.WordListRepository
	transport *fakeTransport
	coord     *download.Coordinator
	upd       *Updater
	listener  *recordingListener
	dictDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	store := sqlite.NewWordListRepository(db)
	require.NoError(t, store.RegisterClient(context.Background(), "kb", feedURI))

	transport := newFakeTransport()
	coord := download.NewCoordinator(transport, store)
	dictDir := t.TempDir()

	upd := New(store, transport, coord, Config{DictDir: dictDir})
	listener := &recordingListener{}
	upd.RegisterListener(listener)

	return &fixture{
		store:     store,
		transport: transport,
		coord:     coord,
		upd:       upd,
		listener:  listener,
		dictDir:   dictDir,
	}
}

func (f *fixture) metadataHandle(t *testing.T) string {
	t.Helper()

	handle, err := f.store.MetadataHandleForURI(context.Background(), feedURI)
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	return handle
}

func TestMetadataUpdateFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.upd.Update(ctx, false))

	handle := f.metadataHandle(t)

	feed := `[
		{"id": "en", "version": 1, "format": 1, "locale": "en_US",
		 "url": "http://feed/en.dict", "checksum": "abc", "filesize": 10}
	]`
	f.transport.complete(handle, true, []byte(feed))

	require.NoError(t, f.upd.DownloadFinished(ctx, handle))

	rec, err := f.store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusAvailable, rec.Status)
	require.Equal(t, "http://feed/en.dict", rec.RemoteURL)

	require.Equal(t, []bool{true}, f.listener.metadata)
	require.Equal(t, 1, f.listener.cycles)

	// The handle was consumed and the fetch time stamped.
	stored, err := f.store.MetadataHandleForURI(ctx, feedURI)
	require.NoError(t, err)
	require.Empty(t, stored)

	client, err := f.store.GetClient(ctx, "kb")
	require.NoError(t, err)
	require.False(t, client.LastMetadataUpdate.IsZero())
}

func TestMetadataUpdateWithBadFeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.upd.Update(ctx, false))

	handle := f.metadataHandle(t)
	f.transport.complete(handle, true, []byte("not a feed"))

	require.NoError(t, f.upd.DownloadFinished(ctx, handle))

	require.Equal(t, []bool{false}, f.listener.metadata)

	records, err := f.store.ListByClient(ctx, "kb")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestWordListDownloadAndInstall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload := []byte("dictionary payload bytes")
	sum := md5.Sum(payload)

	require.NoError(t, f.store.Upsert(ctx, wordlist.Record{
		ClientID: "kb", WordListID: "en", Version: 1, Status: wordlist.StatusAvailable,
		Locale: "en_US", Checksum: hex.EncodeToString(sum[:]), RemoteURL: "http://feed/en.dict",
	}))

	require.NoError(t, f.upd.MarkAsUsed(ctx, "kb", "en", 1, true))

	rec, err := f.store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusDownloading, rec.Status)
	require.NotEmpty(t, rec.DownloadHandle)

	f.transport.complete(rec.DownloadHandle, true, payload)
	require.NoError(t, f.upd.DownloadFinished(ctx, rec.DownloadHandle))

	rec, err = f.store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusInstalled, rec.Status)
	require.NotEmpty(t, rec.LocalFilename)
	require.Empty(t, rec.DownloadHandle)

	installed, err := os.ReadFile(filepath.Join(f.dictDir, rec.LocalFilename))
	require.NoError(t, err)
	require.Equal(t, payload, installed)

	require.Equal(t, []string{"en=true"}, f.listener.wordLists)
}

func TestWordListDownloadChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.Upsert(ctx, wordlist.Record{
		ClientID: "kb", WordListID: "en", Version: 1, Status: wordlist.StatusAvailable,
		Locale: "en_US", Checksum: "deadbeef", RemoteURL: "http://feed/en.dict",
	}))

	require.NoError(t, f.upd.MarkAsUsed(ctx, "kb", "en", 1, true))

	rec, err := f.store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)

	f.transport.complete(rec.DownloadHandle, true, []byte("corrupted payload"))
	require.NoError(t, f.upd.DownloadFinished(ctx, rec.DownloadHandle))

	// A payload that fails verification never installs; the downloading
	// entry is dropped so the next fetch can offer the list again.
	_, err = f.store.Get(ctx, "kb", "en", 1)
	require.ErrorIs(t, err, wordlist.ErrNotFound)

	require.Equal(t, []string{"en=false"}, f.listener.wordLists)

	// Nothing was left behind in the dictionary directory.
	entries, err := os.ReadDir(f.dictDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFailedWordListDownloadDropsEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.Upsert(ctx, wordlist.Record{
		ClientID: "kb", WordListID: "en", Version: 1, Status: wordlist.StatusAvailable,
		RemoteURL: "http://feed/en.dict",
	}))

	require.NoError(t, f.upd.MarkAsUsed(ctx, "kb", "en", 1, true))

	rec, err := f.store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)

	f.transport.complete(rec.DownloadHandle, false, nil)
	require.NoError(t, f.upd.DownloadFinished(ctx, rec.DownloadHandle))

	_, err = f.store.Get(ctx, "kb", "en", 1)
	require.ErrorIs(t, err, wordlist.ErrNotFound)

	require.Equal(t, []string{"en=false"}, f.listener.wordLists)
}

func TestStaleHandleIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.upd.DownloadFinished(ctx, "never-issued"))

	require.Empty(t, f.listener.metadata)
	require.Empty(t, f.listener.wordLists)
	require.Zero(t, f.listener.cycles)
}

func TestSupersededMetadataCompletionIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.upd.Update(ctx, false))
	oldHandle := f.metadataHandle(t)

	// A second cycle supersedes the stuck fetch; the cancellation is
	// reported as a failed fetch.
	require.NoError(t, f.upd.Update(ctx, false))
	require.Equal(t, []bool{false}, f.listener.metadata)

	newHandle := f.metadataHandle(t)
	require.NotEqual(t, oldHandle, newHandle)

	// The old fetch completing later has no effect.
	f.transport.complete(oldHandle, true, []byte(`[{"id": "en", "version": 1}]`))
	require.NoError(t, f.upd.DownloadFinished(ctx, oldHandle))

	records, err := f.store.ListByClient(ctx, "kb")
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, []bool{false}, f.listener.metadata)
}

func TestCancelUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Nothing outstanding: silent no-op, no listener noise.
	require.NoError(t, f.upd.CancelUpdate(ctx, "kb"))
	require.Empty(t, f.listener.metadata)

	require.NoError(t, f.upd.Update(ctx, false))
	require.NoError(t, f.upd.CancelUpdate(ctx, "kb"))
	require.Equal(t, []bool{false}, f.listener.metadata)

	stored, err := f.store.MetadataHandleForURI(ctx, feedURI)
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestMarkLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.Upsert(ctx, wordlist.Record{
		ClientID: "kb", WordListID: "en", Version: 1, Status: wordlist.StatusInstalled,
		RemoteURL: "http://feed/en.dict", LocalFilename: "en___1.dict",
	}))

	require.NoError(t, f.upd.MarkAsUnused(ctx, "kb", "en", 1))

	rec, err := f.store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusDisabled, rec.Status)

	// Using it again re-enables in place; no download happens.
	require.NoError(t, f.upd.MarkAsUsed(ctx, "kb", "en", 1, false))

	rec, err = f.store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusInstalled, rec.Status)
	require.Equal(t, "en___1.dict", rec.LocalFilename)

	require.NoError(t, f.upd.MarkAsDeleting(ctx, "kb", "en", 1))

	rec, err = f.store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusDeleting, rec.Status)

	// Still offered upstream, so the confirmed delete reverts to available.
	require.NoError(t, f.upd.MarkAsDeleted(ctx, "kb", "en", 1))

	rec, err = f.store.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusAvailable, rec.Status)
	require.Empty(t, rec.LocalFilename)

	require.NoError(t, f.upd.MarkAsBroken(ctx, "kb", "en", 1))

	_, err = f.store.Get(ctx, "kb", "en", 1)
	require.ErrorIs(t, err, wordlist.ErrNotFound)
}

func TestMarkAsUsedUnknownRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.upd.MarkAsUsed(ctx, "kb", "ghost", 1, false)
	require.ErrorIs(t, err, wordlist.ErrNotFound)
}

func TestSetDownloadOverMetered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.upd.SetDownloadOverMetered(ctx, "kb", true))

	client, err := f.store.GetClient(ctx, "kb")
	require.NoError(t, err)
	require.Equal(t, wordlist.MeteredAllowed, client.DownloadOverMetered)

	require.NoError(t, f.upd.SetDownloadOverMetered(ctx, "kb", false))

	client, err = f.store.GetClient(ctx, "kb")
	require.NoError(t, err)
	require.Equal(t, wordlist.MeteredDisallowed, client.DownloadOverMetered)
}

func TestListenerUnregister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	second := &recordingListener{}
	token := f.upd.RegisterListener(second)
	f.upd.UnregisterListener(token)

	require.NoError(t, f.upd.Update(ctx, false))
	require.NoError(t, f.upd.CancelUpdate(ctx, "kb"))

	require.Equal(t, []bool{false}, f.listener.metadata)
	require.Empty(t, second.metadata)
}
