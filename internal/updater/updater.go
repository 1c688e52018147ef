package updater

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/dictpack/internal/download"
	"github.com/italolelis/dictpack/internal/logctx"
	"github.com/italolelis/dictpack/internal/telemetry"
	"github.com/italolelis/dictpack/internal/wordlist"
)

// Config carries the updater policy knobs.
type Config struct {
	// DictDir is where verified word list payloads are installed.
	DictDir string
	// AllowOverMetered and AllowOverRoaming apply to scheduled metadata
	// fetches; a user-initiated update always allows metered transfers.
	AllowOverMetered bool
	AllowOverRoaming bool
}

// Updater drives the update lifecycle: it kicks off metadata fetches,
// reconciles finished downloads against the ledger, and applies the
// consumer-facing status transitions.
type Updater struct {
	store     wordlist.Store
	transport download.Transport
	coord     *download.Coordinator
	cfg       Config
	listeners *listenerRegistry
	tel       *telemetry.Telemetry
}

func New(store wordlist.Store, transport download.Transport, coord *download.Coordinator, cfg Config) *Updater {
	return &Updater{
		store:     store,
		transport: transport,
		coord:     coord,
		cfg:       cfg,
		listeners: newListenerRegistry(),
	}
}

// WithTelemetry attaches domain metrics. Safe to skip; all recording is
// nil-tolerant.
func (u *Updater) WithTelemetry(tel *telemetry.Telemetry) *Updater {
	u.tel = tel

	return u
}

// RegisterListener subscribes l to lifecycle events and returns a token
// for UnregisterListener.
func (u *Updater) RegisterListener(l Listener) ListenerToken {
	return u.listeners.register(l)
}

func (u *Updater) UnregisterListener(token ListenerToken) {
	u.listeners.unregister(token)
}

// Update starts a metadata fetch for every distinct feed URI registered by
// the known clients. updateNow marks a user-initiated refresh, which lifts
// the metered restriction for this cycle.
func (u *Updater) Update(ctx context.Context, updateNow bool) error {
	clients, err := u.store.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("listing clients: %w", err)
	}

	seen := make(map[string]struct{})

	var uris []string

	for _, c := range clients {
		if c.MetadataURI == "" {
			continue
		}

		if _, ok := seen[c.MetadataURI]; ok {
			continue
		}

		seen[c.MetadataURI] = struct{}{}
		uris = append(uris, c.MetadataURI)
	}

	sort.Strings(uris)

	for _, uri := range uris {
		if err := u.updateMetadataURI(ctx, uri, updateNow); err != nil {
			logctx.LoggerFromContext(ctx).Error("metadata update failed", "metadata_uri", uri, "err", err)
		}
	}

	return nil
}

func (u *Updater) updateMetadataURI(ctx context.Context, uri string, updateNow bool) error {
	// A fetch still outstanding for this URI has been stuck long enough to
	// span two cycles; supersede it and report it as failed.
	had, err := u.coord.CancelMetadataDownload(ctx, uri)
	if err != nil {
		return err
	}

	if had {
		u.notifyMetadataDownloaded(false)
	}

	_, err = u.coord.RegisterMetadataDownload(ctx, uri, download.Request{
		URI:          uri,
		Title:        "dictionary metadata",
		AllowMetered: updateNow || u.cfg.AllowOverMetered,
		AllowRoaming: u.cfg.AllowOverRoaming,
	})

	return err
}

// CancelUpdate drops any outstanding metadata fetch for the client's feed.
// Cancellation counts as a failed fetch for listeners; if nothing was
// outstanding it is a silent no-op.
func (u *Updater) CancelUpdate(ctx context.Context, clientID string) error {
	client, err := u.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	had, err := u.coord.CancelMetadataDownload(ctx, client.MetadataURI)
	if err != nil {
		return err
	}

	if had {
		u.notifyMetadataDownloaded(false)
	}

	return nil
}

// DownloadFinished is the transport completion callback. It resolves the
// handle against the ledger; a handle nobody is waiting on belongs to a
// superseded request and is dropped without side effects.
func (u *Updater) DownloadFinished(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}

	logger := logctx.LoggerFromContext(ctx).With("handle", handle)

	info, err := u.transport.QueryStatus(ctx, handle)
	if err != nil || info == nil {
		logger.Error("download status unavailable, treating as failed", "err", err)

		info = &download.CompletedInfo{Handle: handle}
	}

	waiters, err := u.coord.ResolveCompletion(ctx, handle)
	if err != nil {
		return fmt.Errorf("resolving completion: %w", err)
	}

	if len(waiters) == 0 {
		logger.Debug("completion for unknown handle ignored")

		return nil
	}

	for _, w := range waiters {
		if w.IsMetadata() {
			u.finishMetadataDownload(ctx, w, handle, info.Successful)
		} else {
			u.finishWordListDownload(ctx, w, handle, info.Successful)
		}
	}

	// The transport keeps the spooled payload until told otherwise.
	if err := u.transport.Cancel(ctx, handle); err != nil {
		logger.Error("failed to release finished download", "err", err)
	}

	return nil
}

func (u *Updater) finishMetadataDownload(ctx context.Context, w wordlist.DownloadWaiter, handle string, downloaded bool) {
	logger := logctx.LoggerFromContext(ctx).With("client_id", w.ClientID, "metadata_uri", w.MetadataURI)

	success := false

	if downloaded {
		if err := u.applyMetadata(ctx, w.ClientID, handle); err != nil {
			logger.Error("failed to apply metadata", "err", err)
		} else {
			success = true
		}
	}

	u.tel.RecordMetadataFetch(ctx, success)
	logger.Info("metadata fetch finished", "success", success)

	u.notifyMetadataDownloaded(success)
	u.notifyUpdateCycleCompleted()
}

// applyMetadata parses the fetched feed and reconciles it against the
// client's current records.
func (u *Updater) applyMetadata(ctx context.Context, clientID, handle string) error {
	stream, err := u.transport.OpenPayload(ctx, handle)
	if err != nil {
		return &wordlist.TransportError{Operation: "open metadata payload", Err: err}
	}
	defer stream.Close()

	fresh, err := wordlist.ReadMetadata(stream)
	if err != nil {
		return err
	}

	records, err := u.store.ListByClient(ctx, clientID)
	if err != nil {
		return err
	}

	current := make([]wordlist.WordList, 0, len(records))
	for _, rec := range records {
		current = append(current, rec.WordList())
	}

	batch := wordlist.DiffForClient(ctx, clientID, current, fresh)
	u.tel.RecordReconcileBatch(ctx, batch.Len())
	batch.Execute(ctx, u.store, u.coord, wordlist.LogProblemReporter{})

	return nil
}

func (u *Updater) finishWordListDownload(ctx context.Context, w wordlist.DownloadWaiter, handle string, downloaded bool) {
	rec := w.Record
	logger := logctx.LoggerFromContext(ctx).With(
		"client_id", w.ClientID, "wordlist_id", rec.WordListID, "version", rec.Version)

	success := false

	if downloaded && rec.Status == wordlist.StatusDownloading {
		if err := u.spoolWordList(ctx, rec, handle); err != nil {
			logger.Error("failed to install downloaded word list", "err", err)
		} else {
			success = true
		}
	}

	// Install and removal of the downloading entry run under the ledger
	// lock so they cannot interleave with a re-register for the same list.
	err := u.coord.Exclusive(ctx, func(ctx context.Context) error {
		if success {
			batch := wordlist.NewActionBatch()
			batch.Add(wordlist.InstallAfterDownloadAction{ClientID: w.ClientID, Record: *rec})
			batch.Execute(ctx, u.store, u.coord, wordlist.LogProblemReporter{})

			return nil
		}

		return u.store.DeleteDownloadingEntry(ctx, handle)
	})
	if err != nil {
		logger.Error("failed to clean up failed download", "err", err)
	}

	u.tel.RecordWordListDownload(ctx, success)
	logger.Info("word list download finished", "success", success)

	u.notifyWordListDownloadFinished(rec.WordListID, success)
	u.notifyUpdateCycleCompleted()
}

// spoolWordList copies the downloaded payload into the dictionary
// directory, verifying the MD5 checksum on the way. On mismatch the file is
// removed and nothing is installed. On success the record's LocalFilename
// is set to the installed file's name.
func (u *Updater) spoolWordList(ctx context.Context, rec *wordlist.Record, handle string) error {
	stream, err := u.transport.OpenPayload(ctx, handle)
	if err != nil {
		return &wordlist.TransportError{Operation: "open word list payload", Err: err}
	}
	defer stream.Close()

	prefix := strings.ReplaceAll(rec.Locale, string(os.PathSeparator), "_")

	f, err := os.CreateTemp(u.cfg.DictDir, prefix+"___*.dict")
	if err != nil {
		return fmt.Errorf("creating dictionary file: %w", err)
	}

	hash := md5.New()

	written, err := io.Copy(io.MultiWriter(f, hash), stream)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		os.Remove(f.Name())

		return fmt.Errorf("writing dictionary file: %w", err)
	}

	if rec.Checksum != "" {
		sum := hex.EncodeToString(hash.Sum(nil))
		if sum != rec.Checksum {
			os.Remove(f.Name())

			return &wordlist.BadFormatError{
				Reason: fmt.Sprintf("checksum mismatch: got %s, want %s", sum, rec.Checksum),
			}
		}
	}

	rec.LocalFilename = filepath.Base(f.Name())

	logctx.LoggerFromContext(ctx).Info("word list payload spooled",
		"file", rec.LocalFilename, "size", humanize.Bytes(uint64(written)))

	return nil
}

// MarkAsUsed is the consumer's request to start using a word list. A
// disabled or deleting copy is re-enabled in place; an available one starts
// downloading.
func (u *Updater) MarkAsUsed(ctx context.Context, clientID, wordListID string, version int, allowMetered bool) error {
	rec, err := u.store.Get(ctx, clientID, wordListID, version)
	if err != nil {
		return err
	}

	batch := wordlist.NewActionBatch()

	switch rec.Status {
	case wordlist.StatusDisabled, wordlist.StatusDeleting:
		batch.Add(wordlist.EnableAction{ClientID: clientID, WordList: rec.WordList()})
	case wordlist.StatusAvailable:
		batch.Add(wordlist.StartDownloadAction{ClientID: clientID, WordList: rec.WordList(), AllowMetered: allowMetered})
	default:
		logctx.LoggerFromContext(ctx).Error("mark as used from unexpected status",
			"wordlist_id", wordListID, "version", version, "status", rec.Status.String())

		return nil
	}

	u.runBatch(ctx, batch)

	return nil
}

// MarkAsUnused disables an installed word list without removing its file.
func (u *Updater) MarkAsUnused(ctx context.Context, clientID, wordListID string, version int) error {
	rec, err := u.store.Get(ctx, clientID, wordListID, version)
	if err != nil {
		return err
	}

	batch := wordlist.NewActionBatch()
	batch.Add(wordlist.DisableAction{ClientID: clientID, WordList: rec.WordList()})
	u.runBatch(ctx, batch)

	return nil
}

// MarkAsDeleting flags a word list for deletion. The consumer removes the
// file and confirms with MarkAsDeleted.
func (u *Updater) MarkAsDeleting(ctx context.Context, clientID, wordListID string, version int) error {
	rec, err := u.store.Get(ctx, clientID, wordListID, version)
	if err != nil {
		return err
	}

	batch := wordlist.NewActionBatch()
	batch.Add(wordlist.DisableAction{ClientID: clientID, WordList: rec.WordList()})
	batch.Add(wordlist.StartDeleteAction{ClientID: clientID, WordList: rec.WordList()})
	u.runBatch(ctx, batch)

	return nil
}

// MarkAsDeleted confirms the consumer removed the file. The record either
// disappears or reverts to available, depending on whether the feed still
// offers the list.
func (u *Updater) MarkAsDeleted(ctx context.Context, clientID, wordListID string, version int) error {
	rec, err := u.store.Get(ctx, clientID, wordListID, version)
	if err != nil {
		return err
	}

	batch := wordlist.NewActionBatch()
	batch.Add(wordlist.FinishDeleteAction{ClientID: clientID, WordList: rec.WordList()})
	u.runBatch(ctx, batch)

	return nil
}

// MarkAsBroken drops a word list record whose payload turned out to be
// unusable. The next metadata fetch will offer it again from scratch.
func (u *Updater) MarkAsBroken(ctx context.Context, clientID, wordListID string, version int) error {
	logctx.LoggerFromContext(ctx).Warn("word list reported broken",
		"client_id", clientID, "wordlist_id", wordListID, "version", version)

	return u.store.Delete(ctx, clientID, wordListID, version)
}

// SetDownloadOverMetered persists the client's metered-download choice.
func (u *Updater) SetDownloadOverMetered(ctx context.Context, clientID string, allowed bool) error {
	setting := wordlist.MeteredDisallowed
	if allowed {
		setting = wordlist.MeteredAllowed
	}

	return u.store.SetDownloadOverMetered(ctx, clientID, setting)
}

func (u *Updater) runBatch(ctx context.Context, batch *wordlist.ActionBatch) {
	batch.Execute(ctx, u.store, u.coord, wordlist.LogProblemReporter{})
	u.notifyUpdateCycleCompleted()
}

func (u *Updater) notifyMetadataDownloaded(succeeded bool) {
	for _, l := range u.listeners.snapshot() {
		l.MetadataDownloaded(succeeded)
	}
}

func (u *Updater) notifyWordListDownloadFinished(wordListID string, succeeded bool) {
	for _, l := range u.listeners.snapshot() {
		l.WordListDownloadFinished(wordListID, succeeded)
	}
}

func (u *Updater) notifyUpdateCycleCompleted() {
	for _, l := range u.listeners.snapshot() {
		l.UpdateCycleCompleted()
	}
}
