package wordlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/dictpack/internal/logctx"
)

// ProblemReporter receives a description of each action that failed during
// batch execution. This is the only propagation channel for per-action
// errors; the batch itself never aborts.
type ProblemReporter interface {
	Report(ctx context.Context, err error)
}

// LogProblemReporter reports problems to the context logger.
type LogProblemReporter struct{}

func (LogProblemReporter) Report(ctx context.Context, err error) {
	logctx.LoggerFromContext(ctx).Error("action failed", "err", err)
}

// ActionBatch is an ordered sequence of actions. Execute runs them strictly
// in insertion order, each as its own unit against the store: later actions
// may depend on earlier ones for the same id (make-available before
// start-download), but a failed action must not block unrelated ones.
type ActionBatch struct {
	actions []Action
}

func NewActionBatch() *ActionBatch {
	return &ActionBatch{}
}

func (b *ActionBatch) Add(a Action) {
	b.actions = append(b.actions, a)
}

// Actions exposes the ordered action list, chiefly for tests and logging.
func (b *ActionBatch) Actions() []Action {
	return b.actions
}

func (b *ActionBatch) Len() int {
	return len(b.actions)
}

// Execute applies every action in order. Failures go to the reporter and
// execution continues with the next action.
func (b *ActionBatch) Execute(ctx context.Context, store Store, dl Downloader, reporter ProblemReporter) {
	for _, a := range b.actions {
		if err := executeAction(ctx, store, dl, a); err != nil {
			reporter.Report(ctx, fmt.Errorf("%T: %w", a, err))
		}
	}
}

func executeAction(ctx context.Context, store Store, dl Downloader, action Action) error {
	switch a := action.(type) {
	case MakeAvailableAction:
		return execMakeAvailable(ctx, store, a)
	case UpdateDataAction:
		return execUpdateData(ctx, store, a)
	case ForgetAction:
		return execForget(ctx, store, a)
	case StartDownloadAction:
		return execStartDownload(ctx, store, dl, a)
	case InstallAfterDownloadAction:
		return execInstallAfterDownload(ctx, store, a)
	case StartDeleteAction:
		return execStartDelete(ctx, store, a)
	case FinishDeleteAction:
		return execFinishDelete(ctx, store, a)
	case EnableAction:
		return execEnable(ctx, store, a)
	case DisableAction:
		return execDisable(ctx, store, dl, a)
	default:
		return fmt.Errorf("unknown action %T", action)
	}
}

func execMakeAvailable(ctx context.Context, store Store, a MakeAvailableAction) error {
	logger := logctx.LoggerFromContext(ctx).With("wordlist_id", a.WordList.ID, "version", a.WordList.Version)

	cur, err := store.Get(ctx, a.ClientID, a.WordList.ID, a.WordList.Version)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if cur != nil {
		switch cur.Status {
		case StatusDownloading, StatusInstalled:
			// Replay of an already-applied batch; the record is in use.
			logger.Debug("make available skipped", "status", cur.Status.String())

			return nil
		case StatusDisabled, StatusDeleting:
			// Keep the consumer-facing state, only refresh the feed fields.
			rec := NewRecord(a.ClientID, a.WordList, cur.Status)
			rec.LocalFilename = cur.LocalFilename

			return store.Upsert(ctx, rec)
		}
	}

	logger.Debug("making word list available")

	return store.Upsert(ctx, NewRecord(a.ClientID, a.WordList, StatusAvailable))
}

func execUpdateData(ctx context.Context, store Store, a UpdateDataAction) error {
	rec, err := store.Get(ctx, a.ClientID, a.WordList.ID, a.WordList.Version)
	if err != nil {
		return fmt.Errorf("update data for %s:%d: %w", a.WordList.ID, a.WordList.Version, err)
	}

	rec.FormatVersion = a.WordList.FormatVersion
	rec.Locale = a.WordList.Locale
	rec.Description = a.WordList.Description
	rec.Checksum = a.WordList.Checksum
	rec.RemoteURL = a.WordList.RemoteURL
	rec.FileSize = a.WordList.FileSize
	rec.LastUpdate = a.WordList.LastUpdate

	return store.Upsert(ctx, *rec)
}

func execForget(ctx context.Context, store Store, a ForgetAction) error {
	logger := logctx.LoggerFromContext(ctx).With("wordlist_id", a.WordList.ID, "version", a.WordList.Version)

	rec, err := store.Get(ctx, a.ClientID, a.WordList.ID, a.WordList.Version)
	if err != nil {
		return fmt.Errorf("forget %s:%d: %w", a.WordList.ID, a.WordList.Version, err)
	}

	if a.CheckInstalledOnly && rec.Status != StatusAvailable {
		// The consumer is using or deleting this list; leave it alone.
		logger.Debug("forget skipped", "status", rec.Status.String())

		return nil
	}

	logger.Debug("forgetting word list", "status", rec.Status.String())

	rec.RemoteURL = ""

	return store.Upsert(ctx, *rec)
}

func execStartDownload(ctx context.Context, store Store, dl Downloader, a StartDownloadAction) error {
	logger := logctx.LoggerFromContext(ctx).With("wordlist_id", a.WordList.ID, "version", a.WordList.Version)

	rec, err := store.Get(ctx, a.ClientID, a.WordList.ID, a.WordList.Version)
	if err != nil {
		return fmt.Errorf("start download for %s:%d: %w", a.WordList.ID, a.WordList.Version, err)
	}

	if rec.Status == StatusDownloading {
		logger.Info("download already in progress")

		return nil
	}

	if rec.Status != StatusAvailable {
		logger.Error("unexpected status for download start", "status", rec.Status.String())

		return nil
	}

	handle, err := dl.RegisterWordListDownload(ctx, a.ClientID, a.WordList, a.AllowMetered)
	if err != nil {
		return fmt.Errorf("start download for %s:%d: %w", a.WordList.ID, a.WordList.Version, err)
	}

	logger.Info("download requested", "handle", handle)

	return nil
}

func execInstallAfterDownload(ctx context.Context, store Store, a InstallAfterDownloadAction) error {
	logger := logctx.LoggerFromContext(ctx).With("wordlist_id", a.Record.WordListID, "version", a.Record.Version)

	cur, err := store.Get(ctx, a.ClientID, a.Record.WordListID, a.Record.Version)
	if err != nil {
		return fmt.Errorf("install %s:%d: %w", a.Record.WordListID, a.Record.Version, err)
	}

	if cur.Status != StatusDownloading {
		// A cancelled or superseded download that still completed.
		logger.Warn("spurious install skipped", "status", cur.Status.String())

		return nil
	}

	cur.Status = StatusInstalled
	cur.LocalFilename = a.Record.LocalFilename
	cur.DownloadHandle = ""

	logger.Info("word list installed", "file", cur.LocalFilename)

	return store.Upsert(ctx, *cur)
}

func execStartDelete(ctx context.Context, store Store, a StartDeleteAction) error {
	logger := logctx.LoggerFromContext(ctx).With("wordlist_id", a.WordList.ID, "version", a.WordList.Version)

	rec, err := store.Get(ctx, a.ClientID, a.WordList.ID, a.WordList.Version)
	if err != nil {
		return fmt.Errorf("start delete for %s:%d: %w", a.WordList.ID, a.WordList.Version, err)
	}

	if rec.Status == StatusDeleting {
		return nil
	}

	if rec.Status != StatusDisabled {
		logger.Warn("delete started from unexpected status", "status", rec.Status.String())
	}

	rec.Status = StatusDeleting
	rec.DownloadHandle = ""

	return store.Upsert(ctx, *rec)
}

func execFinishDelete(ctx context.Context, store Store, a FinishDeleteAction) error {
	logger := logctx.LoggerFromContext(ctx).With("wordlist_id", a.WordList.ID, "version", a.WordList.Version)

	rec, err := store.Get(ctx, a.ClientID, a.WordList.ID, a.WordList.Version)
	if err != nil {
		return fmt.Errorf("finish delete for %s:%d: %w", a.WordList.ID, a.WordList.Version, err)
	}

	if rec.Status != StatusDeleting {
		return fmt.Errorf("finish delete for %s:%d: unexpected status %s", a.WordList.ID, a.WordList.Version, rec.Status)
	}

	if rec.RemoteURL == "" {
		// The feed no longer offers this list; drop the row for good.
		logger.Info("word list deleted")

		return store.Delete(ctx, a.ClientID, a.WordList.ID, a.WordList.Version)
	}

	// Still offered upstream: revert to available so it can come back.
	rec.Status = StatusAvailable
	rec.LocalFilename = ""
	rec.DownloadHandle = ""

	logger.Info("word list deleted, reverting to available")

	return store.Upsert(ctx, *rec)
}

func execEnable(ctx context.Context, store Store, a EnableAction) error {
	rec, err := store.Get(ctx, a.ClientID, a.WordList.ID, a.WordList.Version)
	if err != nil {
		return fmt.Errorf("enable %s:%d: %w", a.WordList.ID, a.WordList.Version, err)
	}

	if rec.Status != StatusDisabled && rec.Status != StatusDeleting {
		return fmt.Errorf("enable %s:%d: unexpected status %s", a.WordList.ID, a.WordList.Version, rec.Status)
	}

	rec.Status = StatusInstalled

	return store.Upsert(ctx, *rec)
}

func execDisable(ctx context.Context, store Store, dl Downloader, a DisableAction) error {
	logger := logctx.LoggerFromContext(ctx).With("wordlist_id", a.WordList.ID, "version", a.WordList.Version)

	rec, err := store.Get(ctx, a.ClientID, a.WordList.ID, a.WordList.Version)
	if err != nil {
		return fmt.Errorf("disable %s:%d: %w", a.WordList.ID, a.WordList.Version, err)
	}

	switch rec.Status {
	case StatusInstalled:
		rec.Status = StatusDisabled

		return store.Upsert(ctx, *rec)
	case StatusDownloading:
		// Drop the transfer and pretend it was never requested.
		if err := dl.CancelWordListDownload(ctx, rec.DownloadHandle); err != nil {
			logger.Error("failed to cancel download", "handle", rec.DownloadHandle, "err", err)
		}

		rec.Status = StatusAvailable
		rec.DownloadHandle = ""

		return store.Upsert(ctx, *rec)
	default:
		return fmt.Errorf("disable %s:%d: unexpected status %s", a.WordList.ID, a.WordList.Version, rec.Status)
	}
}
