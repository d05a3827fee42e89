/*
Relaydemo runs two loopback UDP peers exchanging chat messages over a
reliable.ReliableMessageChannel, to exercise the channel end to end
against real sockets instead of an in-memory transfer.

Usage:

	relaydemo
*/
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/riftproto/rudpchan/reliable"
)

const chatMessageType = 0

func newFactory() reliable.Factory {
	f := reliable.NewMapFactory(chatMessageType)
	f.Register(chatMessageType, func() reliable.Message { return &reliable.BytesMessage{} })
	return f
}

// packet kinds tag the first two bits of every UDP datagram this demo
// sends, ahead of the reliable.Stream-encoded body.
const (
	packetData = 0
	packetAck  = 1
)

func encodeData(packetSeq reliable.SequenceNumber, cd *reliable.ChannelData, factory reliable.Factory, maxMessages int) ([]byte, error) {
	s := reliable.NewWriteStream(256)
	if _, err := s.SerializeBits(packetData, 2); err != nil {
		return nil, err
	}
	if _, err := s.SerializeSequence(packetSeq); err != nil {
		return nil, err
	}
	if err := cd.Serialize(s, factory, maxMessages); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

func encodeAck(ackSeq reliable.SequenceNumber) []byte {
	s := reliable.NewWriteStream(4)
	_, _ = s.SerializeBits(packetAck, 2)
	_, _ = s.SerializeSequence(ackSeq)
	return s.Bytes()
}

type decoded struct {
	kind int
	seq  reliable.SequenceNumber
	data *reliable.ChannelData
}

func decode(buf []byte, factory reliable.Factory, maxMessages int) (decoded, error) {
	s := reliable.NewReadStream(buf)
	kind, err := s.SerializeBits(0, 2)
	if err != nil {
		return decoded{}, err
	}
	seq, err := s.SerializeSequence(0)
	if err != nil {
		return decoded{}, err
	}
	d := decoded{kind: int(kind), seq: seq}
	if d.kind == packetData {
		cd := reliable.CreateData()
		if err := cd.Deserialize(s, factory, maxMessages); err != nil {
			return decoded{}, err
		}
		d.data = cd
	}
	return d, nil
}

// peer drives one side of the demo: a channel, a socket, and the next
// packet_seq it will assign to an outgoing packet.
//
// ch is owned exclusively by the pump goroutine (the one the host loop
// drives). runReceiver only ever touches the socket and the decoder; it
// hands decoded packets to pump across incoming instead of calling ch
// itself, since reliable.ReliableMessageChannel is single-thread-owned
// and provides no locking of its own.
type peer struct {
	name    string
	conn    net.PacketConn
	dest    net.Addr
	ch      *reliable.ReliableMessageChannel
	factory reliable.Factory
	maxMsgs int
	nextSeq reliable.SequenceNumber

	incoming chan decoded
}

func newPeer(name string, conn net.PacketConn, dest net.Addr, factory reliable.Factory) (*peer, error) {
	cfg := reliable.DefaultConfig(factory)
	cfg.ResendRate = 0.2
	ch, err := reliable.NewReliableMessageChannel(cfg)
	if err != nil {
		return nil, err
	}
	return &peer{
		name:     name,
		conn:     conn,
		dest:     dest,
		ch:       ch,
		factory:  factory,
		maxMsgs:  cfg.MaxMessagesPerPacket,
		incoming: make(chan decoded, 64),
	}, nil
}

func (p *peer) say(text string) error {
	return p.ch.SendMessage(reliable.NewBytesMessage(chatMessageType, []byte(text)))
}

// pump is the only function that touches p.ch. It drains whatever
// runReceiver has decoded since the last call, then advances the
// channel's clock to now and, if it has anything ready to send, packs
// and writes one packet.
func (p *peer) pump(now float64) {
	p.drainIncoming()

	p.ch.Update(reliable.TimeBase{Time: now})

	cd, err := p.ch.GetDataDefault(p.nextSeq)
	if err != nil {
		log.Printf("%s: GetData: %v", p.name, err)
		return
	}
	if cd == nil {
		return
	}

	buf, err := encodeData(p.nextSeq, cd, p.factory, p.maxMsgs)
	if err != nil {
		log.Printf("%s: encode: %v", p.name, err)
		return
	}
	if _, err := p.conn.WriteTo(buf, p.dest); err != nil {
		log.Printf("%s: write: %v", p.name, err)
		return
	}
	p.nextSeq++
}

// drainIncoming applies every packet runReceiver has queued so far,
// without blocking once the channel is empty.
func (p *peer) drainIncoming() {
	for {
		select {
		case d := <-p.incoming:
			p.handle(d)
		default:
			return
		}
	}
}

func (p *peer) handle(d decoded) {
	switch d.kind {
	case packetAck:
		p.ch.ProcessAck(d.seq)
	case packetData:
		if err := p.ch.ProcessData(d.seq, d.data); err != nil {
			log.Printf("%s: ProcessData: %v", p.name, err)
		}
		if _, err := p.conn.WriteTo(encodeAck(d.seq), p.dest); err != nil {
			log.Printf("%s: ack write: %v", p.name, err)
		}
		for {
			m, ok := p.ch.ReceiveMessage()
			if !ok {
				break
			}
			log.Printf("%s received: %s", p.name, string(m.(*reliable.BytesMessage).Data))
		}
	}
}

// runReceiver only reads the socket and decodes; it never calls into
// p.ch directly, so it carries no data race against pump's ownership of
// the channel.
func (p *peer) runReceiver(done <-chan struct{}) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-done:
			return
		default:
		}

		p.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			continue
		}

		d, err := decode(buf[:n], p.factory, p.maxMsgs)
		if err != nil {
			log.Printf("%s: decode: %v", p.name, err)
			continue
		}

		select {
		case p.incoming <- d:
		case <-done:
			return
		}
	}
}

func main() {
	factory := newFactory()

	aConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	defer aConn.Close()

	bConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	defer bConn.Close()

	a, err := newPeer("alice", aConn, bConn.LocalAddr(), factory)
	if err != nil {
		log.Fatal(err)
	}
	b, err := newPeer("bob", bConn, aConn.LocalAddr(), factory)
	if err != nil {
		log.Fatal(err)
	}

	if err := a.say("hello from alice"); err != nil {
		log.Fatal(err)
	}
	if err := b.say("hello from bob"); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go a.runReceiver(done)
	go b.runReceiver(done)

	start := time.Now()
	for i := 0; i < 20; i++ {
		now := time.Since(start).Seconds()
		a.pump(now)
		b.pump(now)
		time.Sleep(50 * time.Millisecond)
	}
	close(done)

	fmt.Fprintln(os.Stderr, "done")
}
