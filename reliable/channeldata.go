package reliable

import "fmt"

// ChannelData is the serializable batch of messages packed into one
// outgoing packet by GetData, and the payload ProcessData receives back.
// It is spec §3's "ChannelData (wire payload)" and the direct analogue of
// the teacher's netPkt/rawPkt framing, generalized from a single-message
// frame to a batch.
type ChannelData struct {
	Messages []Message
}

// CreateData returns an empty ChannelData, for hosts that want to
// pre-allocate a payload to deserialize into (spec §6).
func CreateData() *ChannelData {
	return &ChannelData{}
}

// ErrTypeMismatch is returned when a deserialized message's own TypeID
// does not match the wire type tag used to construct it — the parser
// assertion spec §6 requires ("the parser asserts that the constructed
// message's type_id matches the wire value").
var ErrTypeMismatch = fmt.Errorf("reliable: message type_id mismatch")

// Serialize writes cd to s (Write or Measure mode) using at most
// maxMessagesPerPacket message slots and factory.MaxType() for the type
// tag width. See spec §6 for the exact bit layout.
func (cd *ChannelData) Serialize(s *Stream, factory Factory, maxMessagesPerPacket int) error {
	return cd.codec(s, factory, maxMessagesPerPacket)
}

// Deserialize populates cd from s (Read mode), constructing each message
// via factory.
func (cd *ChannelData) Deserialize(s *Stream, factory Factory, maxMessagesPerPacket int) error {
	return cd.codec(s, factory, maxMessagesPerPacket)
}

// codec is the single read/write/measure code path required by spec §4.3:
// the bits a Measure pass counts must be exactly the bits a Write pass
// produces, so both directions run through the same logic.
func (cd *ChannelData) codec(s *Stream, factory Factory, maxMessagesPerPacket int) error {
	maxType := factory.MaxType()

	numMessages := len(cd.Messages)
	n, err := s.SerializeInt(numMessages, 0, maxMessagesPerPacket)
	if err != nil {
		return err
	}
	numMessages = n

	if s.Mode() != StreamRead {
		for _, m := range cd.Messages {
			if err := serializeOneMessage(s, m, maxType); err != nil {
				return err
			}
		}
		return nil
	}

	cd.Messages = make([]Message, 0, numMessages)
	for i := 0; i < numMessages; i++ {
		m, err := deserializeOneMessage(s, factory, maxType)
		if err != nil {
			return err
		}
		cd.Messages = append(cd.Messages, m)
	}
	return nil
}

func serializeOneMessage(s *Stream, m Message, maxType int) error {
	if _, err := s.SerializeInt(m.TypeID(), 0, maxType); err != nil {
		return err
	}
	if _, err := s.SerializeSequence(m.ID()); err != nil {
		return err
	}
	return m.SerializePayload(s)
}

func deserializeOneMessage(s *Stream, factory Factory, maxType int) (Message, error) {
	typeID, err := s.SerializeInt(0, 0, maxType)
	if err != nil {
		return nil, err
	}
	m, err := factory.Create(typeID)
	if err != nil {
		return nil, err
	}
	id, err := s.SerializeSequence(0)
	if err != nil {
		return nil, err
	}
	m.SetID(id)
	if err := m.SerializePayload(s); err != nil {
		return nil, err
	}
	if m.TypeID() != typeID {
		return nil, ErrTypeMismatch
	}
	return m, nil
}
