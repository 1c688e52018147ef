package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/dictpack/internal/logctx"
	"github.com/italolelis/dictpack/internal/wordlist"
)

// PruneOrphanFiles removes dictionary files in dir that no record of any
// client references. Files younger than minAge are kept: a download may
// have spooled its payload but not yet committed the record.
func PruneOrphanFiles(ctx context.Context, store wordlist.Store, dir string, minAge time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	referenced := make(map[string]struct{})

	clients, err := store.ListClients(ctx)
	if err != nil {
		return err
	}

	for _, c := range clients {
		records, err := store.ListByClient(ctx, c.ID)
		if err != nil {
			return err
		}

		for _, rec := range records {
			if rec.LocalFilename != "" {
				referenced[rec.LocalFilename] = struct{}{}
			}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	now := time.Now()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".dict") {
			continue
		}

		if _, ok := referenced[entry.Name()]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat file", "file", entry.Name(), "err", err)

			return err
		}

		if now.Sub(info.ModTime()) < minAge {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete orphan file", "file", path, "err", err)

			return err
		}

		logger.Info("deleted orphan dictionary file", "file", path)
	}

	return nil
}
