package reliable

import "fmt"

// Sentinel errors for the reliable channel, mirroring the teacher's
// package-level error values (rudp.ErrClosed, ErrPktTooBig,
// ErrChNoTooBig, ErrOutOfPeerIDs).
var (
	// ErrQueueOverflow is returned by SendMessage when the send window
	// has no slot for the next message id. Per spec §7, callers should
	// check CanSendMessage before SendMessage; this only fires if they
	// don't.
	ErrQueueOverflow = fmt.Errorf("reliable: send queue overflow")

	// ErrEarlyMessage is returned by ProcessData when any message in the
	// payload carries an id beyond the receive window. Per spec §7 this
	// signals sender/receiver divergence; the host is expected to tear
	// down and restart the connection.
	ErrEarlyMessage = fmt.Errorf("reliable: early message beyond receive window")

	// ErrBlockTooLarge is the sticky error set on a DataBlockReceiver
	// when a fragment declares a block_size exceeding max_block_size.
	ErrBlockTooLarge = fmt.Errorf("reliable: block exceeds max block size")

	// ErrMessageTooLarge is returned by SendMessage/SendBlock when a
	// message's measured size exceeds the channel's configured limits.
	ErrMessageTooLarge = fmt.Errorf("reliable: message exceeds max size")
)

// ChannelError wraps a sentinel error with the operation and id involved,
// mirroring the teacher's PktError{Type, Data, Err} with Unwrap.
type ChannelError struct {
	Op  string
	ID  SequenceNumber
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("reliable: %s(id=%d): %v", e.Op, e.ID, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
