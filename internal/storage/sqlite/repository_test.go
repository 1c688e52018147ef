package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/dictpack/internal/wordlist"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *WordListRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewWordListRepository(db)
}

func TestClientLedger(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.RegisterClient(ctx, "kb", "http://feed/metadata.json"))

	client, err := repo.GetClient(ctx, "kb")
	require.NoError(t, err)
	require.Equal(t, "http://feed/metadata.json", client.MetadataURI)
	require.Empty(t, client.MetadataHandle)
	require.True(t, client.LastMetadataUpdate.IsZero())
	require.Equal(t, wordlist.MeteredUnknown, client.DownloadOverMetered)

	// Re-registering updates the feed URI, not a second row.
	require.NoError(t, repo.RegisterClient(ctx, "kb", "http://feed/v2/metadata.json"))

	clients, err := repo.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	require.Equal(t, "http://feed/v2/metadata.json", clients[0].MetadataURI)

	_, err = repo.GetClient(ctx, "ghost")
	require.ErrorIs(t, err, wordlist.ErrNotFound)
}

func TestMetadataHandleRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.RegisterClient(ctx, "kb", "http://feed/metadata.json"))

	// Unknown URI answers empty, not an error.
	handle, err := repo.MetadataHandleForURI(ctx, "http://other/feed.json")
	require.NoError(t, err)
	require.Empty(t, handle)

	require.NoError(t, repo.SetMetadataHandle(ctx, "http://feed/metadata.json", "h1"))

	handle, err = repo.MetadataHandleForURI(ctx, "http://feed/metadata.json")
	require.NoError(t, err)
	require.Equal(t, "h1", handle)

	// Clearing stores NULL and reads back empty.
	require.NoError(t, repo.SetMetadataHandle(ctx, "http://feed/metadata.json", ""))

	handle, err = repo.MetadataHandleForURI(ctx, "http://feed/metadata.json")
	require.NoError(t, err)
	require.Empty(t, handle)
}

func TestSaveLastUpdateTime(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.RegisterClient(ctx, "kb", "http://feed/metadata.json"))

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveLastUpdateTime(ctx, "http://feed/metadata.json", now))

	client, err := repo.GetClient(ctx, "kb")
	require.NoError(t, err)
	require.True(t, now.Equal(client.LastMetadataUpdate), "got %s", client.LastMetadataUpdate)
}

func TestSetDownloadOverMetered(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.RegisterClient(ctx, "kb", "http://feed/metadata.json"))
	require.NoError(t, repo.SetDownloadOverMetered(ctx, "kb", wordlist.MeteredAllowed))

	client, err := repo.GetClient(ctx, "kb")
	require.NoError(t, err)
	require.Equal(t, wordlist.MeteredAllowed, client.DownloadOverMetered)

	err = repo.SetDownloadOverMetered(ctx, "ghost", wordlist.MeteredDisallowed)
	require.ErrorIs(t, err, wordlist.ErrNotFound)
}

func TestWordListRecords(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	rec := wordlist.Record{
		ClientID:      "kb",
		WordListID:    "en",
		Version:       1,
		FormatVersion: 2,
		Status:        wordlist.StatusAvailable,
		Locale:        "en_US",
		Description:   "English (US)",
		Checksum:      "abc123",
		RemoteURL:     "http://feed/en.dict",
		FileSize:      1024,
		LastUpdate:    1700000000,
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, rec, *got)

	_, err = repo.Get(ctx, "kb", "en", 2)
	require.ErrorIs(t, err, wordlist.ErrNotFound)

	// Upsert with the same key overwrites in place.
	rec.Status = wordlist.StatusInstalled
	rec.LocalFilename = "en___1.dict"
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err = repo.Get(ctx, "kb", "en", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusInstalled, got.Status)
	require.Equal(t, "en___1.dict", got.LocalFilename)

	// A second version coexists; Latest picks it.
	rec2 := rec
	rec2.Version = 2
	rec2.Status = wordlist.StatusAvailable
	rec2.LocalFilename = ""
	require.NoError(t, repo.Upsert(ctx, rec2))

	latest, err := repo.Latest(ctx, "kb", "en")
	require.NoError(t, err)
	require.Equal(t, 2, latest.Version)

	records, err := repo.ListByClient(ctx, "kb")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 1, records[0].Version)
	require.Equal(t, 2, records[1].Version)

	require.NoError(t, repo.Delete(ctx, "kb", "en", 1))

	_, err = repo.Get(ctx, "kb", "en", 1)
	require.ErrorIs(t, err, wordlist.ErrNotFound)
}

func TestMarkDownloadingAndFindByHandle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.RegisterClient(ctx, "kb", "http://feed/metadata.json"))
	require.NoError(t, repo.SetMetadataHandle(ctx, "http://feed/metadata.json", "meta-h"))

	require.NoError(t, repo.Upsert(ctx, wordlist.Record{
		ClientID: "kb", WordListID: "en", Version: 1, Status: wordlist.StatusAvailable,
	}))

	require.NoError(t, repo.MarkDownloading(ctx, "kb", "en", 1, "dl-h"))

	err := repo.MarkDownloading(ctx, "kb", "ghost", 1, "dl-h")
	require.ErrorIs(t, err, wordlist.ErrNotFound)

	// The metadata waiter comes back without a record.
	waiters, err := repo.FindByHandle(ctx, "meta-h")
	require.NoError(t, err)
	require.Len(t, waiters, 1)
	require.True(t, waiters[0].IsMetadata())
	require.Equal(t, "http://feed/metadata.json", waiters[0].MetadataURI)

	// The word list waiter carries its record.
	waiters, err = repo.FindByHandle(ctx, "dl-h")
	require.NoError(t, err)
	require.Len(t, waiters, 1)
	require.False(t, waiters[0].IsMetadata())
	require.Equal(t, wordlist.StatusDownloading, waiters[0].Record.Status)

	// Unknown and empty handles find nobody.
	waiters, err = repo.FindByHandle(ctx, "ghost-h")
	require.NoError(t, err)
	require.Empty(t, waiters)

	waiters, err = repo.FindByHandle(ctx, "")
	require.NoError(t, err)
	require.Empty(t, waiters)
}

func TestDeleteDownloadingEntry(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.Upsert(ctx, wordlist.Record{
		ClientID: "kb", WordListID: "en", Version: 1, Status: wordlist.StatusAvailable,
	}))
	require.NoError(t, repo.MarkDownloading(ctx, "kb", "en", 1, "dl-h"))

	// Installed records with a stale handle are not touched.
	require.NoError(t, repo.Upsert(ctx, wordlist.Record{
		ClientID: "kb", WordListID: "fr", Version: 1, Status: wordlist.StatusInstalled,
		DownloadHandle: "dl-h",
	}))

	require.NoError(t, repo.DeleteDownloadingEntry(ctx, "dl-h"))

	_, err := repo.Get(ctx, "kb", "en", 1)
	require.ErrorIs(t, err, wordlist.ErrNotFound)

	rec, err := repo.Get(ctx, "kb", "fr", 1)
	require.NoError(t, err)
	require.Equal(t, wordlist.StatusInstalled, rec.Status)
}
