package notifier

import (
	"context"
	"fmt"

	"github.com/italolelis/dictpack/internal/logctx"
)

// UpdateListener forwards update lifecycle events to a Notifier. Failed
// notifications are logged and dropped; the update cycle never waits on or
// fails because of a webhook.
type UpdateListener struct {
	notifier Notifier
	logCtx   context.Context
}

func NewUpdateListener(ctx context.Context, n Notifier) *UpdateListener {
	return &UpdateListener{notifier: n, logCtx: ctx}
}

func (l *UpdateListener) MetadataDownloaded(succeeded bool) {
	if !succeeded {
		l.notify("dictionary metadata fetch failed")

		return
	}

	l.notify("dictionary metadata updated")
}

func (l *UpdateListener) WordListDownloadFinished(wordListID string, succeeded bool) {
	if succeeded {
		l.notify(fmt.Sprintf("word list %s installed", wordListID))
	} else {
		l.notify(fmt.Sprintf("word list %s download failed", wordListID))
	}
}

func (l *UpdateListener) UpdateCycleCompleted() {}

func (l *UpdateListener) notify(content string) {
	if err := l.notifier.Notify(content); err != nil {
		logctx.LoggerFromContext(l.logCtx).Error("failed to send notification", "err", err)
	}
}
