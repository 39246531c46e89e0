package file

// TransferRequested is emitted when a transfer is registered: after
// SendFile for outgoing files, and for every offer a friend makes.
type TransferRequested struct {
	Transfer Snapshot
}

// TransferStatusChanged is emitted for every status change and for every
// inbound control. A terminal status is reported exactly once, after the
// transfer has been removed. Err is set when a local file operation
// failed.
type TransferStatusChanged struct {
	Transfer Snapshot
	Err      error
}

// TransferProgress is emitted at most once per tick per transfer when
// bytes moved.
type TransferProgress struct {
	Transfer Snapshot
}

func (TransferRequested) EventName() string     { return "transfer_requested" }
func (TransferStatusChanged) EventName() string { return "transfer_status_changed" }
func (TransferProgress) EventName() string      { return "transfer_progress" }
