package wordlist

import (
	"context"
	"sort"

	"github.com/italolelis/dictpack/internal/logctx"
)

// Diff compares the locally known word lists (from, statuses filled in)
// against a freshly fetched feed (to) and produces the batch of actions
// that converges local state to the feed. It is deterministic: ids are
// visited in lexicographic order. Nil on either side means empty. The diff
// never touches the store itself.
func Diff(ctx context.Context, from, to []WordList) *ActionBatch {
	logger := logctx.LoggerFromContext(ctx)
	batch := NewActionBatch()

	ids := make(map[string]struct{}, len(from)+len(to))
	for _, wl := range from {
		ids[wl.ID] = struct{}{}
	}

	for _, wl := range to {
		ids[wl.ID] = struct{}{}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}

	sort.Strings(sorted)

	for _, id := range sorted {
		currentInfo := findByIDRaw(from, id)
		newInfo := FindByID(to, id)

		switch {
		case currentInfo == nil && newInfo == nil:
			if raw := findByIDRaw(to, id); raw != nil {
				logger.Info("skipping word list with unsupported format",
					"wordlist_id", id, "format_version", raw.FormatVersion, "max_supported", MaxSupportedFormatVersion)
			} else {
				// An id that is in the union but in neither collection
				// means a bookkeeping bug; log it rather than crash.
				logger.Error("word list id is neither in current nor in new metadata", "wordlist_id", id)
			}
		case currentInfo == nil:
			// New list appeared on the server.
			batch.Add(MakeAvailableAction{WordList: *newInfo})
		case newInfo == nil:
			// The server no longer offers this list. Forget it even if it
			// is installed: the URL must go, but a record mid-delete stays
			// until the consumer confirms.
			batch.Add(ForgetAction{WordList: *currentInfo, CheckInstalledOnly: false})
		case newInfo.Version == currentInfo.Version:
			batch.Add(UpdateDataAction{WordList: *newInfo})
		case newInfo.Version > currentInfo.Version:
			batch.Add(MakeAvailableAction{WordList: *newInfo})

			if currentInfo.Status == StatusInstalled || currentInfo.Status == StatusDisabled {
				batch.Add(StartDownloadAction{WordList: *newInfo, AllowMetered: false})
			} else {
				// Update to a list the consumer never installed: purge the
				// old version's URL, but only if nothing else is going on.
				batch.Add(ForgetAction{WordList: *currentInfo, CheckInstalledOnly: true})
			}
		default:
			// Stale feed: our version is newer than the server's.
			logger.Debug("not updating word list, current version is newer",
				"wordlist_id", id, "current_version", currentInfo.Version, "new_version", newInfo.Version)
		}
	}

	return batch
}

// DiffForClient stamps every action in a diff with the client it belongs
// to. Diff itself is client-agnostic so it stays a pure descriptor
// comparison.
func DiffForClient(ctx context.Context, clientID string, from, to []WordList) *ActionBatch {
	batch := Diff(ctx, from, to)
	for i, a := range batch.actions {
		batch.actions[i] = withClientID(a, clientID)
	}

	return batch
}

func withClientID(a Action, clientID string) Action {
	switch a := a.(type) {
	case MakeAvailableAction:
		a.ClientID = clientID
		return a
	case UpdateDataAction:
		a.ClientID = clientID
		return a
	case ForgetAction:
		a.ClientID = clientID
		return a
	case StartDownloadAction:
		a.ClientID = clientID
		return a
	case InstallAfterDownloadAction:
		a.ClientID = clientID
		return a
	case StartDeleteAction:
		a.ClientID = clientID
		return a
	case FinishDeleteAction:
		a.ClientID = clientID
		return a
	case EnableAction:
		a.ClientID = clientID
		return a
	case DisableAction:
		a.ClientID = clientID
		return a
	default:
		return a
	}
}
