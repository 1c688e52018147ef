package wordlist

import (
	"encoding/json"
	"fmt"
	"io"
)

// feedEntry is the wire shape of one descriptor in the metadata feed.
type feedEntry struct {
	ID          string `json:"id"`
	Version     int    `json:"version"`
	Format      int    `json:"format"`
	Locale      string `json:"locale"`
	Description string `json:"description"`
	Checksum    string `json:"checksum"`
	URL         string `json:"url"`
	FileSize    int64  `json:"filesize"`
	Update      int64  `json:"update"`
}

// ReadMetadata parses a metadata feed: an ordered JSON array of word list
// descriptors. Order is preserved. Entries are not filtered here; the diff
// engine decides what it can handle.
func ReadMetadata(r io.Reader) ([]WordList, error) {
	var entries []feedEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, &BadFormatError{Reason: "metadata feed is not a descriptor array", Err: err}
	}

	lists := make([]WordList, 0, len(entries))

	for i, e := range entries {
		if e.ID == "" {
			return nil, &BadFormatError{Reason: fmt.Sprintf("descriptor %d has no id", i)}
		}

		lists = append(lists, WordList{
			ID:            e.ID,
			Version:       e.Version,
			FormatVersion: e.Format,
			Locale:        e.Locale,
			Description:   e.Description,
			Checksum:      e.Checksum,
			RemoteURL:     e.URL,
			FileSize:      e.FileSize,
			LastUpdate:    e.Update,
		})
	}

	return lists, nil
}

// FindByID returns the word list with the given id, or nil if it is absent
// or its format version is beyond what this build supports.
func FindByID(lists []WordList, id string) *WordList {
	for i := range lists {
		if lists[i].ID == id && lists[i].FormatVersion <= MaxSupportedFormatVersion {
			return &lists[i]
		}
	}

	return nil
}

// findByIDRaw is FindByID without the format version filter, used to tell
// "unsupported" apart from "absent".
func findByIDRaw(lists []WordList, id string) *WordList {
	for i := range lists {
		if lists[i].ID == id {
			return &lists[i]
		}
	}

	return nil
}
