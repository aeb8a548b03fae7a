package session

import (
	"fmt"

	"github.com/backkem/beep/pkg/frame"
	"github.com/backkem/beep/pkg/management"
	"github.com/backkem/beep/pkg/message"
)

// Channel is one channel of a session.
//
// Replies to sent messages must arrive in the order the messages were
// sent; the channel keeps their reply handlers in a FIFO queue. A channel
// can only be closed when no replies are outstanding in either direction.
type Channel struct {
	session *Session
	number  uint32
	profile string
	handler ChannelHandler

	// Guarded by session.mu.
	state     ChannelState
	nextMsgno uint32
	incoming  int // received messages without terminal reply
	outgoing  int // sent messages without terminal reply
	replies   []*pendingReply

	// Numbers of received messages without terminal reply.
	received map[uint32]struct{}

	closeCallback CloseCallback
	closeReply    *Reply
	closeAccepted bool
}

// pendingReply is the handler of one sent message. Replies to messages
// sent on channel 0 are handled internally under the session lock.
type pendingReply struct {
	msgno    uint32
	handler  ReplyHandler
	internal *internalReply
}

func newChannel(s *Session, number uint32, profile string, h ChannelHandler) *Channel {
	return &Channel{
		session:   s,
		number:    number,
		profile:   profile,
		handler:   h,
		state:     ChannelAlive,
		nextMsgno: 1,
		received:  make(map[uint32]struct{}),
	}
}

// Number returns the channel number.
func (c *Channel) Number() uint32 { return c.number }

// Profile returns the profile URI the channel was started with.
func (c *Channel) Profile() string { return c.profile }

// Session returns the owning session.
func (c *Channel) Session() *Session { return c.session }

// State returns the current channel state.
func (c *Channel) State() ChannelState {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	return c.state
}

// SendMessage sends m as MSG. Replies are delivered to h in order.
func (c *Channel) SendMessage(m *message.Message, h ReplyHandler) error {
	s := c.session
	s.mu.Lock()
	defer s.unlock()

	if h == nil {
		return ErrNoHandler
	}
	if c.number == 0 {
		return c.illegal("SendMessage on channel 0")
	}
	if c.state != ChannelAlive {
		return c.illegal("SendMessage")
	}
	return c.sendMessageLocked(m, &pendingReply{handler: h})
}

// Close requests to close the channel. The request is sent to the peer
// once no replies are outstanding. cb may be nil.
func (c *Channel) Close(cb CloseCallback) error {
	s := c.session
	s.mu.Lock()
	defer s.unlock()

	if c.number == 0 {
		return c.illegal("Close on channel 0")
	}
	if c.state != ChannelAlive {
		return c.illegal("Close")
	}

	c.state = ChannelCloseInitiated
	c.closeCallback = cb
	return c.checkCondition()
}

// sendMessageLocked assigns the next message number, registers the reply
// handler and sends m.
func (c *Channel) sendMessageLocked(m *message.Message, pr *pendingReply) error {
	msgno := c.nextMsgno
	if c.nextMsgno == frame.MaxNumber {
		c.nextMsgno = 0
	} else {
		c.nextMsgno++
	}

	pr.msgno = msgno
	c.replies = append(c.replies, pr)
	c.outgoing++
	return c.session.stream.SendMSG(c.number, msgno, m)
}

// expect registers an internal reply handler for a message the peer
// answers without a MSG on the wire (the greeting).
func (c *Channel) expect(msgno uint32, r *internalReply) {
	c.replies = append(c.replies, &pendingReply{msgno: msgno, internal: r})
	c.outgoing++
}

// expectReplyTo checks that a reply frame answers the oldest message
// awaiting a reply.
func (c *Channel) expectReplyTo(msgno uint32) error {
	if len(c.replies) == 0 {
		return frame.Violation(ErrUnexpectedReply, "channel %d: reply to %d, no message outstanding", c.number, msgno)
	}
	if head := c.replies[0].msgno; head != msgno {
		return frame.Violation(ErrUnexpectedReply, "channel %d: reply to %d, expected %d", c.number, msgno, head)
	}
	return nil
}

// receive dispatches a complete inbound message. For NUL, m is nil.
func (c *Channel) receive(f *frame.Frame, m *message.Message) error {
	s := c.session

	switch f.Type {
	case frame.TypeMSG:
		if c.state == ChannelCloseRequested {
			return frame.Violation(ErrMessageAfterClose, "channel %d message %d", c.number, f.MessageNumber)
		}
		if _, ok := c.received[f.MessageNumber]; ok {
			return frame.Violation(ErrDuplicateMessage, "channel %d message %d", c.number, f.MessageNumber)
		}
		c.received[f.MessageNumber] = struct{}{}
		c.incoming++
		r := newReply(c, f.MessageNumber)
		if c.number == 0 {
			return s.managementRequest(m, r)
		}
		h := c.handler
		s.notify(func() { h.MessageReceived(m, r) })
		return nil

	case frame.TypeANS:
		return c.deliver(c.replies[0], f.Type, m)

	case frame.TypeRPY, frame.TypeERR, frame.TypeNUL:
		pr := c.replies[0]
		c.replies[0] = nil
		c.replies = c.replies[1:]
		c.outgoing--
		if err := c.deliver(pr, f.Type, m); err != nil {
			return err
		}
		return c.checkCondition()

	default:
		return frame.Violation(frame.ErrInvalidFrameType, "%s", f)
	}
}

func (c *Channel) deliver(pr *pendingReply, typ frame.MessageType, m *message.Message) error {
	if pr.internal != nil {
		switch typ {
		case frame.TypeRPY:
			return pr.internal.rpy(m)
		case frame.TypeERR:
			return pr.internal.err(m)
		default:
			return frame.Violation(ErrManagement, "%s reply on channel 0", typ)
		}
	}

	h := pr.handler
	switch typ {
	case frame.TypeRPY:
		c.session.notify(func() { h.ReceivedRPY(m) })
	case frame.TypeERR:
		c.session.notify(func() { h.ReceivedERR(m) })
	case frame.TypeANS:
		c.session.notify(func() { h.ReceivedANS(m) })
	case frame.TypeNUL:
		c.session.notify(h.ReceivedNUL)
	}
	return nil
}

// readyToShutdown reports whether no replies are outstanding in either direction.
func (c *Channel) readyToShutdown() bool {
	return c.incoming == 0 && c.outgoing == 0
}

// checkCondition advances a pending close once the channel drained.
func (c *Channel) checkCondition() error {
	if !c.readyToShutdown() {
		return nil
	}
	s := c.session

	switch c.state {
	case ChannelCloseInitiated:
		c.state = ChannelCloseInitiatedSent
		return s.sendCloseRequest(c)

	case ChannelCloseRequested:
		// The <ok/> goes out on channel 0 and must not overtake replies
		// still waiting for window space here. Session.WindowOpened
		// retries once the peer's SEQ drains the queue.
		if !c.closeAccepted || s.stream.Queued(c.number) > 0 {
			return nil
		}
		r := c.closeReply
		c.closeReply = nil
		err := r.sendLocked(frame.TypeRPY, (&management.OK{}).Message())
		s.removeChannel(c)
		h := c.handler
		s.notify(func() { h.ChannelClosed(c) })
		return err
	}
	return nil
}

// closeDecided applies the handler's decision on the peer's close request.
func (c *Channel) closeDecided(accept bool) {
	s := c.session
	s.mu.Lock()
	defer s.unlock()

	if c.state != ChannelCloseRequested || c.closeAccepted {
		return
	}

	var err error
	if accept {
		c.closeAccepted = true
		err = c.checkCondition()
	} else {
		c.state = ChannelAlive
		r := c.closeReply
		c.closeReply = nil
		err = r.sendErrorLocked(management.CodeRequestedNotTaken, "close declined")
	}
	if err != nil && s.log != nil {
		s.log.Warnf("session %s: channel %d close decision: %v", s.id, c.number, err)
	}
}

func (c *Channel) illegal(op string) error {
	return fmt.Errorf("%w: %s in channel %d state %s", ErrIllegalState, op, c.number, c.state)
}
