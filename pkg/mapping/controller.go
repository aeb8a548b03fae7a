package mapping

import (
	"sync"

	"github.com/backkem/beep/pkg/frame"
	"github.com/backkem/beep/pkg/message"
	"github.com/pion/logging"
)

// minFrameSize is the smallest fragment emitted when splitting at the
// window boundary.
const minFrameSize = 1

// Controller implements the TCP mapping of one channel: outbound sequence
// numbers, fragmentation against the peer's receive window and the local
// receive window with SEQ advertisements.
//
// A Controller has its own lock and may be used concurrently with other
// controllers of the same session.
type Controller struct {
	mu sync.Mutex

	channel    uint32
	transport  Transport
	windowSize uint32

	// seqno is the sequence number of the next outbound payload octet.
	seqno uint32

	// send tracks the peer's receive window as last advertised.
	send *Window

	// recv is our receive window as advertised to the peer.
	recv *Window

	queue []*frame.Frame

	log logging.LeveledLogger
}

func newController(channel uint32, t Transport, windowSize uint32, log logging.LeveledLogger) *Controller {
	return &Controller{
		channel:    channel,
		transport:  t,
		windowSize: windowSize,
		send:       NewWindow(0, DefaultWindowSize),
		recv:       NewWindow(0, DefaultWindowSize),
		log:        log,
	}
}

// Channel returns the channel number.
func (c *Controller) Channel() uint32 {
	return c.channel
}

// SendMSG queues a request.
func (c *Controller) SendMSG(msgno uint32, m *message.Message) error {
	return c.enqueue(frame.TypeMSG, msgno, 0, m.Bytes())
}

// SendRPY queues a positive reply.
func (c *Controller) SendRPY(msgno uint32, m *message.Message) error {
	return c.enqueue(frame.TypeRPY, msgno, 0, m.Bytes())
}

// SendERR queues a negative reply.
func (c *Controller) SendERR(msgno uint32, m *message.Message) error {
	return c.enqueue(frame.TypeERR, msgno, 0, m.Bytes())
}

// SendANS queues one answer of a one-to-many reply.
func (c *Controller) SendANS(msgno, ansno uint32, m *message.Message) error {
	return c.enqueue(frame.TypeANS, msgno, ansno, m.Bytes())
}

// SendNUL queues the terminator of a one-to-many reply.
func (c *Controller) SendNUL(msgno uint32) error {
	return c.enqueue(frame.TypeNUL, msgno, 0, nil)
}

func (c *Controller) enqueue(typ frame.MessageType, msgno, ansno uint32, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := &frame.Frame{
		Type:          typ,
		Channel:       c.channel,
		MessageNumber: msgno,
		AnswerNumber:  ansno,
		Seqno:         c.seqno,
		Payload:       payload,
	}
	c.seqno += uint32(len(payload))
	c.queue = append(c.queue, f)

	n, err := c.drain()
	if c.log != nil {
		c.log.Tracef("channel %d: %s queued, %d frames sent, %d queued", c.channel, f, n, len(c.queue))
	}
	return err
}

// drain sends queued frames while the peer's window has room. A frame that
// does not fit is split at the window edge; its remainder stays at the head
// of the queue. Must be called with c.mu held.
func (c *Controller) drain() (int, error) {
	count := 0
	for len(c.queue) > 0 {
		f := c.queue[0]
		remaining := c.send.Remaining()

		if uint32(f.Size()) <= remaining {
			c.queue[0] = nil
			c.queue = c.queue[1:]
		} else if remaining >= minFrameSize {
			var rest *frame.Frame
			f, rest = f.Split(int(remaining))
			c.queue[0] = rest
		} else {
			break
		}

		if err := c.send.MoveBy(uint32(f.Size())); err != nil {
			return count, err
		}
		if err := c.transport.SendBytes(f.Encode()); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CheckFrame validates an inbound frame against the receive window before
// it is processed.
func (c *Controller) CheckFrame(seqno uint32, size int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seqno != c.recv.Position() {
		return frame.Violation(ErrSequenceMismatch, "channel %d: got %d, want %d",
			c.channel, seqno, c.recv.Position())
	}
	if int64(size) > int64(c.recv.Remaining()) {
		return frame.Violation(ErrWindowExceeded, "channel %d: size %d, remaining %d",
			c.channel, size, c.recv.Remaining())
	}
	return nil
}

// FrameReceived advances the receive window past a processed frame. When
// half or less of the window is left, the window is slid to the current
// position and a SEQ frame is sent to the peer.
func (c *Controller) FrameReceived(seqno uint32, size int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seqno != c.recv.Position() {
		return frame.Violation(ErrSequenceMismatch, "channel %d: got %d, want %d",
			c.channel, seqno, c.recv.Position())
	}
	if err := c.recv.MoveBy(uint32(size)); err != nil {
		return frame.Violation(err, "channel %d", c.channel)
	}

	if c.recv.Remaining() > c.windowSize/2 {
		return nil
	}

	ackno := c.recv.Position()
	if err := c.recv.Slide(ackno, c.windowSize); err != nil {
		return err
	}
	if c.log != nil {
		c.log.Tracef("channel %d: advertising ackno=%d window=%d", c.channel, ackno, c.windowSize)
	}
	seq := frame.SEQ{Channel: c.channel, Ackno: ackno, Window: c.windowSize}
	return c.transport.SendBytes(seq.Encode())
}

// UpdateSendWindow applies a SEQ frame received from the peer and sends
// whatever the new window allows.
func (c *Controller) UpdateSendWindow(ackno, size uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.send.Slide(ackno, size); err != nil {
		return frame.Violation(err, "channel %d SEQ ackno=%d window=%d", c.channel, ackno, size)
	}
	n, err := c.drain()
	if c.log != nil && n > 0 {
		c.log.Tracef("channel %d: send window %s released %d frames", c.channel, c.send, n)
	}
	return err
}

// SendWindow returns a copy of the peer's receive window.
func (c *Controller) SendWindow() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.send
}

// ReceiveWindow returns a copy of the local receive window.
func (c *Controller) ReceiveWindow() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.recv
}

// Queued returns the number of frames waiting for window space.
func (c *Controller) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
