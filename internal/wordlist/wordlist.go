package wordlist

import "time"

// MaxSupportedFormatVersion is the highest word list format this build can
// install. Feed entries above it are treated as if they did not exist.
const MaxSupportedFormatVersion = 2

// Status is the lifecycle state of a word list record.
type Status int

const (
	StatusUnknown Status = iota
	StatusAvailable
	StatusDownloading
	StatusInstalled
	StatusDisabled
	StatusDeleting
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusDownloading:
		return "downloading"
	case StatusInstalled:
		return "installed"
	case StatusDisabled:
		return "disabled"
	case StatusDeleting:
		return "deleting"
	default:
		return "unknown"
	}
}

// WordList describes one word list as the metadata feed sees it. When it is
// built from local state (the "from" side of a diff) Status carries the
// current record status; feed entries leave it at StatusUnknown.
type WordList struct {
	ID            string
	Version       int
	FormatVersion int
	Locale        string
	Description   string
	Checksum      string
	RemoteURL     string
	FileSize      int64
	LastUpdate    int64
	Status        Status
}

// Record is the persisted form of a word list for one client. The primary
// key is (ClientID, WordListID, Version).
type Record struct {
	ClientID       string
	WordListID     string
	Version        int
	FormatVersion  int
	Status         Status
	Locale         string
	Description    string
	Checksum       string
	RemoteURL      string
	LocalFilename  string
	DownloadHandle string
	FileSize       int64
	LastUpdate     int64
}

// WordList converts a record back into descriptor form, carrying the status
// so it can feed the diff engine as local state.
func (r *Record) WordList() WordList {
	return WordList{
		ID:            r.WordListID,
		Version:       r.Version,
		FormatVersion: r.FormatVersion,
		Locale:        r.Locale,
		Description:   r.Description,
		Checksum:      r.Checksum,
		RemoteURL:     r.RemoteURL,
		FileSize:      r.FileSize,
		LastUpdate:    r.LastUpdate,
		Status:        r.Status,
	}
}

// NewRecord builds a fresh record from a feed descriptor.
func NewRecord(clientID string, wl WordList, status Status) Record {
	return Record{
		ClientID:      clientID,
		WordListID:    wl.ID,
		Version:       wl.Version,
		FormatVersion: wl.FormatVersion,
		Status:        status,
		Locale:        wl.Locale,
		Description:   wl.Description,
		Checksum:      wl.Checksum,
		RemoteURL:     wl.RemoteURL,
		FileSize:      wl.FileSize,
		LastUpdate:    wl.LastUpdate,
	}
}

// Client is one registered consumer of the dictionary pack, pointing at the
// metadata feed that describes its word lists.
type Client struct {
	ID                 string
	MetadataURI        string
	MetadataHandle     string
	LastMetadataUpdate time.Time
	DownloadOverMetered MeteredSetting
}

// MeteredSetting is the tri-state user decision about downloading over a
// metered connection.
type MeteredSetting int

const (
	MeteredUnknown MeteredSetting = iota
	MeteredAllowed
	MeteredDisallowed
)
