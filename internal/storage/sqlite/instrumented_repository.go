package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/dictpack/internal/telemetry"
	"github.com/italolelis/dictpack/internal/wordlist"
)

// InstrumentedWordListRepository wraps WordListRepository with telemetry.
type InstrumentedWordListRepository struct {
	repo      *WordListRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedWordListRepository creates a new instrumented repository.
func NewInstrumentedWordListRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedWordListRepository {
	return &InstrumentedWordListRepository{
		repo:      NewWordListRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedWordListRepository) RegisterClient(ctx context.Context, clientID, metadataURI string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "register_client", func(ctx context.Context) error {
		return r.repo.RegisterClient(ctx, clientID, metadataURI)
	})
}

func (r *InstrumentedWordListRepository) GetClient(ctx context.Context, clientID string) (*wordlist.Client, error) {
	var result *wordlist.Client

	err := r.telemetry.InstrumentDBOperation(ctx, "get_client", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetClient(ctx, clientID)

		return err
	})

	return result, err
}

func (r *InstrumentedWordListRepository) ListClients(ctx context.Context) ([]wordlist.Client, error) {
	var result []wordlist.Client

	err := r.telemetry.InstrumentDBOperation(ctx, "list_clients", func(ctx context.Context) error {
		var err error
		result, err = r.repo.ListClients(ctx)

		return err
	})

	return result, err
}

func (r *InstrumentedWordListRepository) SetMetadataHandle(ctx context.Context, metadataURI, handle string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_metadata_handle", func(ctx context.Context) error {
		return r.repo.SetMetadataHandle(ctx, metadataURI, handle)
	})
}

func (r *InstrumentedWordListRepository) MetadataHandleForURI(ctx context.Context, metadataURI string) (string, error) {
	var result string

	err := r.telemetry.InstrumentDBOperation(ctx, "metadata_handle_for_uri", func(ctx context.Context) error {
		var err error
		result, err = r.repo.MetadataHandleForURI(ctx, metadataURI)

		return err
	})

	return result, err
}

func (r *InstrumentedWordListRepository) SaveLastUpdateTime(ctx context.Context, metadataURI string, t time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_last_update_time", func(ctx context.Context) error {
		return r.repo.SaveLastUpdateTime(ctx, metadataURI, t)
	})
}

func (r *InstrumentedWordListRepository) SetDownloadOverMetered(ctx context.Context, clientID string, setting wordlist.MeteredSetting) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_download_over_metered", func(ctx context.Context) error {
		return r.repo.SetDownloadOverMetered(ctx, clientID, setting)
	})
}

func (r *InstrumentedWordListRepository) Get(ctx context.Context, clientID, wordListID string, version int) (*wordlist.Record, error) {
	var result *wordlist.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "get_wordlist", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Get(ctx, clientID, wordListID, version)

		return err
	})

	return result, err
}

func (r *InstrumentedWordListRepository) Latest(ctx context.Context, clientID, wordListID string) (*wordlist.Record, error) {
	var result *wordlist.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "latest_wordlist", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Latest(ctx, clientID, wordListID)

		return err
	})

	return result, err
}

func (r *InstrumentedWordListRepository) Upsert(ctx context.Context, rec wordlist.Record) error {
	return r.telemetry.InstrumentDBOperation(ctx, "upsert_wordlist", func(ctx context.Context) error {
		return r.repo.Upsert(ctx, rec)
	})
}

func (r *InstrumentedWordListRepository) Delete(ctx context.Context, clientID, wordListID string, version int) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_wordlist", func(ctx context.Context) error {
		return r.repo.Delete(ctx, clientID, wordListID, version)
	})
}

func (r *InstrumentedWordListRepository) ListByClient(ctx context.Context, clientID string) ([]wordlist.Record, error) {
	var result []wordlist.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "list_wordlists", func(ctx context.Context) error {
		var err error
		result, err = r.repo.ListByClient(ctx, clientID)

		return err
	})

	return result, err
}

func (r *InstrumentedWordListRepository) FindByHandle(ctx context.Context, handle string) ([]wordlist.DownloadWaiter, error) {
	var result []wordlist.DownloadWaiter

	err := r.telemetry.InstrumentDBOperation(ctx, "find_by_handle", func(ctx context.Context) error {
		var err error
		result, err = r.repo.FindByHandle(ctx, handle)

		return err
	})

	return result, err
}

func (r *InstrumentedWordListRepository) MarkDownloading(ctx context.Context, clientID, wordListID string, version int, handle string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_downloading", func(ctx context.Context) error {
		return r.repo.MarkDownloading(ctx, clientID, wordListID, version, handle)
	})
}

func (r *InstrumentedWordListRepository) DeleteDownloadingEntry(ctx context.Context, handle string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_downloading_entry", func(ctx context.Context) error {
		return r.repo.DeleteDownloadingEntry(ctx, handle)
	})
}
