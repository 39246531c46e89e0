// Package file implements the file transfer module.
//
// A transfer is keyed by ID{Friend, Direction, File} and moves between
// Paused, PausedBySender, PausedByReceiver and Transit until it ends as
// Finished or Canceled. Inbound control opcodes are interpreted by the
// local direction:
//
//	opcode    local sending      local receiving
//	Accept    Transit            Transit
//	Pause     PausedByReceiver   PausedBySender
//	Kill      Canceled           Canceled
//	Finished  (ignored)          Finished, destination flushed
//
// # Send pump
//
// Update offers up to Options.ChunksPerTick chunks per sending transfer.
// Each step reads FileDataSize bytes at offset TotalSize-remaining, where
// remaining comes from the engine. A chunk the engine refuses is un-read,
// so Transmitted never counts bytes the engine did not take, and the same
// bytes are offered again next tick. A refused chunk is back-pressure and
// never cancels the transfer. When the engine reports nothing remaining the
// transfer becomes Finished and the peer is sent Finished.
//
// # Lifecycle
//
// A transfer reaching Finished or Canceled is removed inside the same
// locked section, before its single terminal TransferStatusChanged is
// delivered. Handlers must not expect to look it up.
//
//	id, err := files.SendFile(friendID, "/tmp/report.pdf")
//	...
//	err = files.AcceptFile(incomingID, "/home/alice/Downloads")
//
// Incoming names are reduced to their base name before being joined to the
// destination directory.
package file
