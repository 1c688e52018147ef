package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/italolelis/dictpack/internal/wordlist"
)

// WordListRepository stores word list records and the client ledger in
// SQLite. It implements wordlist.Store.
type WordListRepository struct {
	db *sql.DB
}

func NewWordListRepository(dbConn *sql.DB) *WordListRepository {
	return &WordListRepository{db: dbConn}
}

const recordColumns = `client_id, wordlist_id, version, format_version, status, locale, description,
	checksum, remote_url, local_filename, download_handle, file_size, last_update`

func scanRecord(row interface{ Scan(...any) error }) (*wordlist.Record, error) {
	var rec wordlist.Record

	var locale, description, checksum, remoteURL, localFilename, handle sql.NullString

	err := row.Scan(
		&rec.ClientID, &rec.WordListID, &rec.Version, &rec.FormatVersion, &rec.Status,
		&locale, &description, &checksum, &remoteURL, &localFilename, &handle,
		&rec.FileSize, &rec.LastUpdate,
	)
	if err != nil {
		return nil, err
	}

	rec.Locale = locale.String
	rec.Description = description.String
	rec.Checksum = checksum.String
	rec.RemoteURL = remoteURL.String
	rec.LocalFilename = localFilename.String
	rec.DownloadHandle = handle.String

	return &rec, nil
}

func (r *WordListRepository) Get(ctx context.Context, clientID, wordListID string, version int) (*wordlist.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM wordlists
		WHERE client_id = ? AND wordlist_id = ? AND version = ?`, clientID, wordListID, version)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s:%d: %w", wordListID, version, wordlist.ErrNotFound)
	}

	return rec, err
}

func (r *WordListRepository) Latest(ctx context.Context, clientID, wordListID string) (*wordlist.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM wordlists
		WHERE client_id = ? AND wordlist_id = ?
		ORDER BY version DESC LIMIT 1`, clientID, wordListID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", wordListID, wordlist.ErrNotFound)
	}

	return rec, err
}

func (r *WordListRepository) Upsert(ctx context.Context, rec wordlist.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wordlists (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, wordlist_id, version) DO UPDATE SET
			format_version = excluded.format_version,
			status = excluded.status,
			locale = excluded.locale,
			description = excluded.description,
			checksum = excluded.checksum,
			remote_url = excluded.remote_url,
			local_filename = excluded.local_filename,
			download_handle = excluded.download_handle,
			file_size = excluded.file_size,
			last_update = excluded.last_update
	`, rec.ClientID, rec.WordListID, rec.Version, rec.FormatVersion, rec.Status,
		rec.Locale, rec.Description, rec.Checksum, rec.RemoteURL,
		rec.LocalFilename, rec.DownloadHandle, rec.FileSize, rec.LastUpdate)

	return err
}

func (r *WordListRepository) Delete(ctx context.Context, clientID, wordListID string, version int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM wordlists
		WHERE client_id = ? AND wordlist_id = ? AND version = ?`, clientID, wordListID, version)

	return err
}

func (r *WordListRepository) ListByClient(ctx context.Context, clientID string) ([]wordlist.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM wordlists
		WHERE client_id = ? ORDER BY wordlist_id, version`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []wordlist.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, *rec)
	}

	return records, rows.Err()
}

// FindByHandle joins the handle against both the client ledger (the
// metadata waiter) and the word list table (word list waiters).
func (r *WordListRepository) FindByHandle(ctx context.Context, handle string) ([]wordlist.DownloadWaiter, error) {
	if handle == "" {
		return nil, nil
	}

	var waiters []wordlist.DownloadWaiter

	clientRows, err := r.db.QueryContext(ctx, `SELECT client_id, metadata_uri FROM clients
		WHERE metadata_handle = ?`, handle)
	if err != nil {
		return nil, err
	}
	defer clientRows.Close()

	for clientRows.Next() {
		var w wordlist.DownloadWaiter
		if err := clientRows.Scan(&w.ClientID, &w.MetadataURI); err != nil {
			return nil, err
		}

		waiters = append(waiters, w)
	}

	if err := clientRows.Err(); err != nil {
		return nil, err
	}

	recRows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM wordlists
		WHERE download_handle = ?`, handle)
	if err != nil {
		return nil, err
	}
	defer recRows.Close()

	for recRows.Next() {
		rec, err := scanRecord(recRows)
		if err != nil {
			return nil, err
		}

		waiters = append(waiters, wordlist.DownloadWaiter{ClientID: rec.ClientID, Record: rec})
	}

	return waiters, recRows.Err()
}

func (r *WordListRepository) MarkDownloading(ctx context.Context, clientID, wordListID string, version int, handle string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE wordlists
		SET status = ?, download_handle = ?
		WHERE client_id = ? AND wordlist_id = ? AND version = ?`,
		wordlist.StatusDownloading, handle, clientID, wordListID, version)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("%s:%d: %w", wordListID, version, wordlist.ErrNotFound)
	}

	return nil
}

func (r *WordListRepository) DeleteDownloadingEntry(ctx context.Context, handle string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM wordlists
		WHERE download_handle = ? AND status = ?`, handle, wordlist.StatusDownloading)

	return err
}
