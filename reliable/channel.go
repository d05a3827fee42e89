package reliable

import (
	"fmt"
	"math"
)

// Config holds the tunables listed in spec §4.2. Like the teacher's
// per-channel constants (rudp.ChannelCount, ConnTimeout, PingTimeout),
// these are plain fields rather than a flags/config-file layer — nothing
// in the retrieved pack wires a config library into a protocol engine at
// this level.
type Config struct {
	// ResendRate is the minimum delay, in seconds, before an unacked
	// message is eligible to be re-included in an outgoing packet.
	ResendRate float64

	// SendQueueSize, ReceiveQueueSize and SentPacketsSize are the
	// sliding-window capacities for the three windows the channel owns.
	SendQueueSize    int
	ReceiveQueueSize int
	SentPacketsSize  int

	// MaxMessagesPerPacket hard-caps how many messages GetData may pack
	// into one outgoing packet.
	MaxMessagesPerPacket int

	// MaxMessageSize and MaxSmallBlockSize bound serialized message size
	// and block-message payload size, in bytes.
	MaxMessageSize    int
	MaxSmallBlockSize int

	// PacketBudgetBytes is the default per-call packing budget used by
	// callers that don't compute their own remaining-bits figure (see
	// spec §9: the recommended shape is a per-call parameter; this field
	// just supplies a sensible default for simple hosts).
	PacketBudgetBytes int

	// GiveUpBits is the early-exit threshold: once the remaining budget
	// for a GetData call drops below this, scanning stops.
	GiveUpBits int

	// Factory constructs Messages by type id when deserializing incoming
	// ChannelData.
	Factory Factory
}

// DefaultConfig returns a Config with the capacities spec §4.1 lists as
// defaults (send 1024, sent-packets 256, receive 256) and otherwise
// reasonable values for a small real-time message channel.
func DefaultConfig(factory Factory) Config {
	return Config{
		ResendRate:           0.1,
		SendQueueSize:        1024,
		ReceiveQueueSize:     256,
		SentPacketsSize:      256,
		MaxMessagesPerPacket: 32,
		MaxMessageSize:       1024,
		MaxSmallBlockSize:    1024,
		PacketBudgetBytes:    1024,
		GiveUpBits:           64,
		Factory:              factory,
	}
}

// Validate checks that cfg describes a usable channel.
func (cfg Config) Validate() error {
	switch {
	case cfg.Factory == nil:
		return fmt.Errorf("reliable: Config.Factory is required")
	case cfg.SendQueueSize <= 0 || cfg.SendQueueSize > 0x8000:
		return fmt.Errorf("reliable: Config.SendQueueSize out of range")
	case cfg.ReceiveQueueSize <= 0 || cfg.ReceiveQueueSize > 0x8000:
		return fmt.Errorf("reliable: Config.ReceiveQueueSize out of range")
	case cfg.SentPacketsSize <= 0 || cfg.SentPacketsSize > 0x8000:
		return fmt.Errorf("reliable: Config.SentPacketsSize out of range")
	case cfg.MaxMessagesPerPacket <= 0:
		return fmt.Errorf("reliable: Config.MaxMessagesPerPacket must be positive")
	case cfg.ResendRate < 0:
		return fmt.Errorf("reliable: Config.ResendRate must be non-negative")
	}
	return nil
}

// sendQueueEntry is spec §3's SendQueueEntry.
type sendQueueEntry struct {
	message      Message
	id           SequenceNumber
	measuredBits int
	timeLastSent float64
}

// sentPacketEntry is spec §3's SentPacketEntry.
type sentPacketEntry struct {
	packetSeq  SequenceNumber
	acked      bool
	timeSent   float64
	messageIDs []SequenceNumber
}

// receiveQueueEntry is spec §3's ReceiveQueueEntry.
type receiveQueueEntry struct {
	message      Message
	id           SequenceNumber
	timeReceived float64
}

// Stats is the set of monotonic counters spec §4.2 names, plus the
// additive counters described in SPEC_FULL.md §4 (channel statistics
// surfacing).
type Stats struct {
	MessagesSent           uint64
	MessagesWritten        uint64
	MessagesRead           uint64
	MessagesReceived       uint64
	MessagesDiscardedLate  uint64
	MessagesDiscardedEarly uint64

	// BitsPacked is the sum of the measured bits (type tag, id and
	// payload) of the messages the most recent successful GetData call
	// packed; it does not include the num_messages prefix.
	BitsPacked int
}

// ReliableMessageChannel is spec §4.2's core component: send queue,
// receive queue, sent-packet tracker, packing, and ack handling, all
// single-thread-owned (spec §5). It generalizes the teacher's per-channel
// pktChan (one reliable resend slot per seqnum, acked via ackChans) from
// "one message per packet" to "many messages packed per packet under a
// byte budget."
type ReliableMessageChannel struct {
	cfg Config

	sendQueue    *SlidingWindow[sendQueueEntry]
	receiveQueue *SlidingWindow[receiveQueueEntry]
	sentPackets  *SlidingWindow[sentPacketEntry]

	nextSendID    SequenceNumber
	nextReceiveID SequenceNumber

	now float64

	stats Stats
}

// NewReliableMessageChannel constructs a channel from cfg.
func NewReliableMessageChannel(cfg Config) (*ReliableMessageChannel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ReliableMessageChannel{
		cfg:          cfg,
		sendQueue:    NewSlidingWindow[sendQueueEntry](cfg.SendQueueSize),
		receiveQueue: NewSlidingWindow[receiveQueueEntry](cfg.ReceiveQueueSize),
		sentPackets:  NewSlidingWindow[sentPacketEntry](cfg.SentPacketsSize),
	}, nil
}

// Update stores the latest TimeBase for use by GetData's resend-spacing
// check (spec §4.2).
func (ch *ReliableMessageChannel) Update(tb TimeBase) {
	ch.now = tb.Time
}

// Stats returns a snapshot of the channel's counters.
func (ch *ReliableMessageChannel) Stats() Stats { return ch.stats }

// Reset clears all three windows, sequence counters and statistics,
// returning the channel to its initial state for reuse across a
// connection teardown/restart (SPEC_FULL.md §4, "explicit Close/Reset
// lifecycle").
func (ch *ReliableMessageChannel) Reset() {
	ch.sendQueue.Reset()
	ch.receiveQueue.Reset()
	ch.sentPackets.Reset()
	ch.nextSendID = 0
	ch.nextReceiveID = 0
	ch.now = 0
	ch.stats = Stats{}
}

// CanSendMessage reports whether the send window has a free slot for the
// next message id. The send queue's slot for next_send_id is only free
// once the message that previously held it has been explicitly released
// (by ProcessAck), not merely once next_send_id has drifted far enough
// away — an unacked message must block new sends, not be silently
// evicted, so this checks occupancy rather than distance.
func (ch *ReliableMessageChannel) CanSendMessage() bool {
	return !ch.sendQueue.Occupied(ch.nextSendID)
}

// measuredBitsOf runs the same serialize code GetData's Write pass uses,
// in Measure mode, so the captured size can never diverge from the size
// actually written (spec §4.3).
func (ch *ReliableMessageChannel) measuredBitsOf(m Message) (int, error) {
	ms := NewMeasureStream()
	if err := serializeOneMessage(ms, m, ch.cfg.Factory.MaxType()); err != nil {
		return 0, err
	}
	return ms.GetBits(), nil
}

// SendMessage assigns m the next send id and enqueues it. Preconditions:
// CanSendMessage(). Returns ErrQueueOverflow if violated.
func (ch *ReliableMessageChannel) SendMessage(m Message) error {
	id := ch.nextSendID
	if !ch.CanSendMessage() {
		return &ChannelError{Op: "SendMessage", ID: id, Err: ErrQueueOverflow}
	}

	m.SetID(id)

	bits, err := ch.measuredBitsOf(m)
	if err != nil {
		return &ChannelError{Op: "SendMessage", ID: id, Err: err}
	}
	if ch.cfg.MaxMessageSize > 0 && bits > ch.cfg.MaxMessageSize*8 {
		return &ChannelError{Op: "SendMessage", ID: id, Err: ErrMessageTooLarge}
	}

	entry := sendQueueEntry{
		message:      m,
		id:           id,
		measuredBits: bits,
		timeLastSent: math.Inf(-1),
	}
	if !ch.sendQueue.Insert(id, entry) {
		return &ChannelError{Op: "SendMessage", ID: id, Err: ErrQueueOverflow}
	}

	ch.nextSendID++
	ch.stats.MessagesSent++
	return nil
}

// SendBlock wraps data in a block message (spec §4.2's SendBlock) and
// enqueues it via SendMessage. typeID is the wire type to tag the block
// message with; it must be one the caller's Factory can reconstruct.
func (ch *ReliableMessageChannel) SendBlock(typeID int, data []byte) error {
	if len(data) > ch.cfg.MaxSmallBlockSize {
		return &ChannelError{Op: "SendBlock", ID: ch.nextSendID, Err: ErrMessageTooLarge}
	}
	return ch.SendMessage(NewBlockMessage(typeID, data))
}

// ReceiveMessage dequeues and returns the next message in strictly
// increasing id order, or (nil, false) if next_receive_id has not
// arrived yet.
func (ch *ReliableMessageChannel) ReceiveMessage() (Message, bool) {
	entry, ok := ch.receiveQueue.Find(ch.nextReceiveID)
	if !ok {
		return nil, false
	}
	m := entry.message
	ch.receiveQueue.Remove(ch.nextReceiveID)
	ch.nextReceiveID++
	ch.stats.MessagesReceived++
	return m, true
}

// findOldestSendID scans the send_queue_size candidate ids starting at
// next_send_id - send_queue_size for the oldest (smallest, under
// wraparound) id currently queued. Spec §9 ("stale send-queue scan
// start"): if no id in that range is queued (the queue has drained), this
// returns false, which is the correct "nothing to pack" outcome, not an
// error.
func (ch *ReliableMessageChannel) findOldestSendID() (SequenceNumber, bool) {
	start := ch.nextSendID - SequenceNumber(ch.cfg.SendQueueSize)
	for i := 0; i < ch.cfg.SendQueueSize; i++ {
		id := start + SequenceNumber(i)
		if _, ok := ch.sendQueue.Find(id); ok {
			return id, true
		}
	}
	return 0, false
}

// OldestUnackedAge returns now minus the timeLastSent of the oldest
// message still sitting in the send queue, or 0 if the queue is empty.
// A message that has never been sent counts as last sent at time 0, so
// its age is now itself.
// Hosts can use this to decide when a channel has stalled badly enough to
// warrant tearing down the connection (SPEC_FULL.md §4).
func (ch *ReliableMessageChannel) OldestUnackedAge(now float64) float64 {
	id, ok := ch.findOldestSendID()
	if !ok {
		return 0
	}
	entry, ok := ch.sendQueue.Find(id)
	if !ok {
		return 0
	}
	if math.IsInf(entry.timeLastSent, -1) {
		return now
	}
	return now - entry.timeLastSent
}

// GetData selects queued messages to include in the outgoing packet
// identified by packetSeq, under budgetBits total. It implements spec
// §4.2's GetData algorithm exactly, with packet_budget taken as a
// per-call parameter per spec §9's recommended redesign rather than a
// channel-held field.
func (ch *ReliableMessageChannel) GetData(packetSeq SequenceNumber, budgetBits int) (*ChannelData, error) {
	oldestID, ok := ch.findOldestSendID()
	if !ok {
		return nil, nil
	}

	availableBits := budgetBits
	selected := make([]SequenceNumber, 0, ch.cfg.MaxMessagesPerPacket)

	for i := 0; i < ch.cfg.ReceiveQueueSize; i++ {
		if availableBits < ch.cfg.GiveUpBits {
			break
		}

		id := oldestID + SequenceNumber(i)
		entry, ok := ch.sendQueue.Find(id)
		if ok &&
			entry.timeLastSent+ch.cfg.ResendRate <= ch.now &&
			entry.measuredBits <= availableBits {

			selected = append(selected, id)
			entry.timeLastSent = ch.now
			availableBits -= entry.measuredBits
		}

		if len(selected) == ch.cfg.MaxMessagesPerPacket {
			break
		}
	}

	if len(selected) == 0 {
		return nil, nil
	}

	sentEntry := ch.sentPackets.InsertFast(packetSeq)
	*sentEntry = sentPacketEntry{
		packetSeq:  packetSeq,
		acked:      false,
		timeSent:   ch.now,
		messageIDs: selected,
	}

	cd := &ChannelData{Messages: make([]Message, 0, len(selected))}
	bitsPacked := 0
	for _, id := range selected {
		entry, _ := ch.sendQueue.Find(id)
		cd.Messages = append(cd.Messages, entry.message)
		bitsPacked += entry.measuredBits
	}

	ch.stats.MessagesWritten += uint64(len(selected))
	ch.stats.BitsPacked = bitsPacked
	return cd, nil
}

// GetDataDefault calls GetData using cfg.PacketBudgetBytes*8 as the
// budget, for hosts that don't compute a per-call remaining-bits figure.
func (ch *ReliableMessageChannel) GetDataDefault(packetSeq SequenceNumber) (*ChannelData, error) {
	return ch.GetData(packetSeq, ch.cfg.PacketBudgetBytes*8)
}

// ProcessData accepts an incoming ChannelData associated with packetSeq
// (packetSeq itself is not used here; it matters only to ack handling).
// Per spec §4.2, messages outside the receive window are discarded and
// counted; if any were early, ErrEarlyMessage is returned after the
// whole batch has been processed.
func (ch *ReliableMessageChannel) ProcessData(packetSeq SequenceNumber, data *ChannelData) error {
	_ = packetSeq

	min := ch.nextReceiveID
	max := min + SequenceNumber(ch.cfg.ReceiveQueueSize) - 1

	early := false
	var firstEarlyID SequenceNumber
	for _, m := range data.Messages {
		id := m.ID()

		switch {
		case lessThan(id, min):
			ch.stats.MessagesDiscardedLate++
		case greaterThan(id, max):
			if !early {
				firstEarlyID = id
			}
			early = true
			ch.stats.MessagesDiscardedEarly++
		default:
			entry := ch.receiveQueue.InsertFast(id)
			*entry = receiveQueueEntry{message: m, id: id, timeReceived: ch.now}
		}
		ch.stats.MessagesRead++
	}

	if early {
		return &ChannelError{Op: "ProcessData", ID: firstEarlyID, Err: ErrEarlyMessage}
	}
	return nil
}

// ProcessAck marks the sent packet identified by packetSeq as acked and
// releases every send-queue slot it carried that hasn't already been
// released by an earlier ack of the same message (spec §4.2). It is a
// no-op if packetSeq is unknown or already acked.
func (ch *ReliableMessageChannel) ProcessAck(packetSeq SequenceNumber) {
	entry, ok := ch.sentPackets.Find(packetSeq)
	if !ok || entry.acked {
		return
	}

	for _, id := range entry.messageIDs {
		if _, ok := ch.sendQueue.Find(id); ok {
			ch.sendQueue.Remove(id)
		}
	}
	entry.acked = true
}
