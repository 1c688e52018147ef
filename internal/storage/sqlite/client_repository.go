package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/dictpack/internal/wordlist"
)

// Client ledger operations, on the same repository as the word list table.

func (r *WordListRepository) RegisterClient(ctx context.Context, clientID, metadataURI string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (client_id, metadata_uri)
		VALUES (?, ?)
		ON CONFLICT(client_id) DO UPDATE SET metadata_uri = excluded.metadata_uri
	`, clientID, metadataURI)

	return err
}

func (r *WordListRepository) GetClient(ctx context.Context, clientID string) (*wordlist.Client, error) {
	row := r.db.QueryRowContext(ctx, `SELECT client_id, metadata_uri, metadata_handle,
		last_metadata_update, download_over_metered
		FROM clients WHERE client_id = ?`, clientID)

	client, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", clientID, wordlist.ErrNotFound)
	}

	return client, err
}

func (r *WordListRepository) ListClients(ctx context.Context) ([]wordlist.Client, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT client_id, metadata_uri, metadata_handle,
		last_metadata_update, download_over_metered
		FROM clients ORDER BY client_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []wordlist.Client

	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}

		clients = append(clients, *client)
	}

	return clients, rows.Err()
}

func scanClient(row interface{ Scan(...any) error }) (*wordlist.Client, error) {
	var client wordlist.Client

	var handle sql.NullString

	var lastUpdate sql.NullTime

	if err := row.Scan(&client.ID, &client.MetadataURI, &handle, &lastUpdate, &client.DownloadOverMetered); err != nil {
		return nil, err
	}

	client.MetadataHandle = handle.String
	if lastUpdate.Valid {
		client.LastMetadataUpdate = lastUpdate.Time
	}

	return &client, nil
}

func (r *WordListRepository) SetMetadataHandle(ctx context.Context, metadataURI, handle string) error {
	var value any
	if handle != "" {
		value = handle
	}

	_, err := r.db.ExecContext(ctx, `UPDATE clients SET metadata_handle = ?
		WHERE metadata_uri = ?`, value, metadataURI)

	return err
}

func (r *WordListRepository) MetadataHandleForURI(ctx context.Context, metadataURI string) (string, error) {
	var handle sql.NullString

	err := r.db.QueryRowContext(ctx, `SELECT metadata_handle FROM clients
		WHERE metadata_uri = ? LIMIT 1`, metadataURI).Scan(&handle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return handle.String, nil
}

func (r *WordListRepository) SaveLastUpdateTime(ctx context.Context, metadataURI string, t time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE clients SET last_metadata_update = ?
		WHERE metadata_uri = ?`, t.UTC().Format("2006-01-02 15:04:05"), metadataURI)

	return err
}

func (r *WordListRepository) SetDownloadOverMetered(ctx context.Context, clientID string, setting wordlist.MeteredSetting) error {
	res, err := r.db.ExecContext(ctx, `UPDATE clients SET download_over_metered = ?
		WHERE client_id = ?`, setting, clientID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("client %s: %w", clientID, wordlist.ErrNotFound)
	}

	return nil
}
