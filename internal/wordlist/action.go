package wordlist

// Action is one state-transition command over a single word list record.
// The variant set is closed: every action is one of the structs below, and
// the batch executor applies them by type switch. Keeping the variants as
// plain data makes a computed batch comparable and serializable in tests.
type Action interface {
	isAction()
}

// MakeAvailableAction upserts a record with status available from feed
// data. It must not overwrite a record that is currently downloading or
// installed for the same version, so replaying a batch is harmless.
type MakeAvailableAction struct {
	ClientID string
	WordList WordList
}

// UpdateDataAction refreshes the non-status fields of the matching record.
type UpdateDataAction struct {
	ClientID string
	WordList WordList
}

// ForgetAction clears the remote URL of a record the feed no longer offers.
// With CheckInstalledOnly set it only touches records still in the
// available state, leaving anything the consumer is using or deleting
// alone. It never removes the row: a pending delete must still complete.
type ForgetAction struct {
	ClientID           string
	WordList           WordList
	CheckInstalledOnly bool
}

// StartDownloadAction issues a download request and records its handle.
// AllowMetered forces the download regardless of network policy.
type StartDownloadAction struct {
	ClientID     string
	WordList     WordList
	AllowMetered bool
}

// InstallAfterDownloadAction promotes a verified downloaded record to
// installed. Record carries the local filename the payload was spooled to.
type InstallAfterDownloadAction struct {
	ClientID string
	Record   Record
}

// StartDeleteAction flags the record as deleting; the consumer is expected
// to pick up the empty replacement and report back with FinishDelete.
type StartDeleteAction struct {
	ClientID string
	WordList WordList
}

// FinishDeleteAction completes a delete: the row is removed, or reverted to
// available when the feed still offers the list (non-empty remote URL).
type FinishDeleteAction struct {
	ClientID string
	WordList WordList
}

// EnableAction flips a disabled or deleting record back to installed.
type EnableAction struct {
	ClientID string
	WordList WordList
}

// DisableAction flips an installed record to disabled. A record still
// downloading has its download cancelled and reverts to available.
type DisableAction struct {
	ClientID string
	WordList WordList
}

func (MakeAvailableAction) isAction()        {}
func (UpdateDataAction) isAction()           {}
func (ForgetAction) isAction()               {}
func (StartDownloadAction) isAction()        {}
func (InstallAfterDownloadAction) isAction() {}
func (StartDeleteAction) isAction()          {}
func (FinishDeleteAction) isAction()         {}
func (EnableAction) isAction()               {}
func (DisableAction) isAction()              {}
