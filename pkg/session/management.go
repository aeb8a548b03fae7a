package session

import (
	"github.com/backkem/beep/pkg/frame"
	"github.com/backkem/beep/pkg/management"
	"github.com/backkem/beep/pkg/message"
)

// Channel 0 runs the channel management profile. Everything in this file
// is called with s.mu held; handler calls go through notify or callUnlocked.

// internalReply receives replies to messages sent on channel 0.
type internalReply struct {
	rpy func(m *message.Message) error
	err func(m *message.Message) error
}

func managementViolation(err error) error {
	return frame.Violation(ErrManagement, "%v", err)
}

func (s *Session) greetingReceived(m *message.Message) error {
	g, err := management.ParseGreeting(m)
	if err != nil {
		return managementViolation(err)
	}
	s.greeting = g
	s.debugf("received greeting with profiles %v", g.ProfileURIs())
	s.maybeOpen()
	return nil
}

func (s *Session) greetingDeclined(m *message.Message) error {
	e, err := management.ParseError(m)
	if err != nil {
		return managementViolation(err)
	}
	s.debugf("peer declined session: %d %s", e.Code, e.Text)
	s.die()
	s.notify(func() { s.handler.SessionStartDeclined(e.Code, e.Text) })
	return s.stream.CloseTransport()
}

// managementRequest handles a MSG received on channel 0.
func (s *Session) managementRequest(m *message.Message, r *Reply) error {
	req, err := management.ParseRequest(m)
	if err != nil {
		s.debugf("malformed management request: %v", err)
		return r.sendErrorLocked(management.CodeSyntaxError, err.Error())
	}

	switch req := req.(type) {
	case *management.Start:
		return s.channelStartRequested(req, r)
	case *management.Close:
		if req.Number == 0 {
			return s.sessionCloseRequested(r)
		}
		return s.channelCloseRequested(req, r)
	default:
		return r.sendErrorLocked(management.CodeSyntaxError, "unsupported request")
	}
}

// channelStartRequested handles a <start> from the peer.
func (s *Session) channelStartRequested(req *management.Start, r *Reply) error {
	if s.state == StateCloseInitiated {
		return r.sendErrorLocked(management.CodeRequestedNotTaken, "session release in progress")
	}
	if req.Number == 0 || req.Number > frame.MaxNumber || !s.isPeerChannel(req.Number) {
		return r.sendErrorLocked(management.CodeParameterSyntaxError, "invalid channel number")
	}
	if _, ok := s.channels[req.Number]; ok {
		return frame.Violation(ErrDuplicateChannel, "channel %d", req.Number)
	}

	sreq := &startChannelRequest{start: req}
	s.callUnlocked(func() { s.handler.ChannelStartRequested(sreq) })

	switch s.state {
	case StateDead:
		return nil
	case StateCloseInitiated:
		return r.sendErrorLocked(management.CodeRequestedNotTaken, "session release in progress")
	}

	if sreq.cancelled || sreq.selected == nil || sreq.handler == nil {
		code, msg := sreq.code, sreq.msg
		if !code.IsValid() {
			code = management.CodeRequestedNotTaken
		}
		if msg == "" {
			msg = "no acceptable profile"
		}
		s.debugf("declining channel %d: %d %s", req.Number, code, msg)
		return r.sendErrorLocked(code, msg)
	}
	if !sreq.HasProfile(sreq.selected.URI) {
		return r.sendErrorLocked(management.CodeRequestedNotTaken, "profile not offered")
	}

	if err := s.stream.ChannelStarted(req.Number); err != nil {
		return err
	}
	ch := newChannel(s, req.Number, sreq.selected.URI, sreq.handler)
	s.channels[req.Number] = ch
	s.debugf("channel %d started by peer with %s", ch.number, ch.profile)

	if err := r.sendLocked(frame.TypeRPY, sreq.selected.Message()); err != nil {
		return err
	}
	s.notify(func() { ch.handler.ChannelOpened(ch) })
	return nil
}

// channelStartAccepted handles the <profile> reply to our <start>.
func (s *Session) channelStartAccepted(number uint32, m *message.Message, factory ChannelHandlerFactory) error {
	p, err := management.ParseProfile(m)
	if err != nil {
		return managementViolation(err)
	}
	if s.state == StateDead {
		return nil
	}
	if _, ok := s.channels[number]; ok {
		return frame.Violation(ErrDuplicateChannel, "channel %d", number)
	}

	if err := s.stream.ChannelStarted(number); err != nil {
		return err
	}
	ch := newChannel(s, number, p.URI, nil)
	s.channels[number] = ch

	var h ChannelHandler
	s.callUnlocked(func() { h = factory.CreateChannelHandler(*p) })

	if ch.state == ChannelDead {
		return nil
	}
	if h == nil {
		if s.log != nil {
			s.log.Warnf("session %s: no handler for channel %d, closing it", s.id, number)
		}
		ch.handler = nopChannelHandler{}
		ch.state = ChannelCloseInitiated
		return ch.checkCondition()
	}

	ch.handler = h
	s.debugf("channel %d started with %s", number, p.URI)
	s.notify(func() { h.ChannelOpened(ch) })
	return nil
}

func (s *Session) channelStartDeclined(number uint32, m *message.Message, factory ChannelHandlerFactory) error {
	e, err := management.ParseError(m)
	if err != nil {
		return managementViolation(err)
	}
	s.debugf("peer declined channel %d: %d %s", number, e.Code, e.Text)
	s.notify(func() { factory.ChannelStartFailed(e.Code, e.Text) })
	return nil
}

// channelCloseRequested handles a <close> for a channel from the peer.
func (s *Session) channelCloseRequested(req *management.Close, r *Reply) error {
	ch, ok := s.channels[req.Number]
	if !ok {
		return r.sendErrorLocked(management.CodeRequestedNotTaken, "unknown channel")
	}

	switch ch.state {
	case ChannelAlive:
		ch.state = ChannelCloseRequested
		ch.closeReply = r
		ch.closeAccepted = false
		creq := &closeChannelRequest{ch: ch}
		h := ch.handler
		s.notify(func() { h.ChannelCloseRequested(creq) })
		return nil

	case ChannelCloseInitiated, ChannelCloseInitiatedSent:
		// A pending local close wins: accept without asking the handler.
		cb := ch.closeCallback
		s.removeChannel(ch)
		if cb != nil {
			s.notify(cb.CloseAccepted)
		}
		h := ch.handler
		s.notify(func() { h.ChannelClosed(ch) })
		return r.sendLocked(frame.TypeRPY, (&management.OK{}).Message())

	default:
		return r.sendErrorLocked(management.CodeRequestedNotTaken, "close already requested")
	}
}

// sendCloseRequest sends <close> for ch once its replies drained.
func (s *Session) sendCloseRequest(ch *Channel) error {
	s.debugf("requesting close of channel %d", ch.number)
	req := &management.Close{Number: ch.number, Code: management.CodeSuccess}
	return s.channels[0].sendMessageLocked(req.Message(), &pendingReply{internal: &internalReply{
		rpy: func(m *message.Message) error { return s.channelCloseAccepted(ch, m) },
		err: func(m *message.Message) error { return s.channelCloseDeclined(ch, m) },
	}})
}

func (s *Session) channelCloseAccepted(ch *Channel, m *message.Message) error {
	if err := management.ParseOK(m); err != nil {
		return managementViolation(err)
	}
	if ch.state != ChannelCloseInitiatedSent {
		// Already closed by a crossing close request from the peer.
		return nil
	}
	cb := ch.closeCallback
	s.removeChannel(ch)
	if cb != nil {
		s.notify(cb.CloseAccepted)
	}
	h := ch.handler
	s.notify(func() { h.ChannelClosed(ch) })
	return nil
}

func (s *Session) channelCloseDeclined(ch *Channel, m *message.Message) error {
	e, err := management.ParseError(m)
	if err != nil {
		return managementViolation(err)
	}
	if ch.state != ChannelCloseInitiatedSent {
		return nil
	}
	s.debugf("peer declined close of channel %d: %d %s", ch.number, e.Code, e.Text)
	ch.state = ChannelAlive
	cb := ch.closeCallback
	ch.closeCallback = nil
	if cb != nil {
		s.notify(func() { cb.CloseDeclined(e.Code, e.Text) })
	}
	return nil
}

// sessionCloseRequested handles a <close number='0'> from the peer.
func (s *Session) sessionCloseRequested(r *Reply) error {
	if s.state == StateAlive && len(s.channels) > 1 {
		return r.sendErrorLocked(management.CodeRequestedNotTaken, "still working")
	}

	s.debugf("peer released session")
	err := r.sendLocked(frame.TypeRPY, (&management.OK{}).Message())
	cb := s.closeCB
	s.die()
	if cb != nil {
		s.notify(cb.CloseAccepted)
	}
	s.notify(s.handler.SessionClosed)
	if cerr := s.stream.CloseTransport(); err == nil {
		err = cerr
	}
	return err
}

func (s *Session) sessionCloseAccepted(m *message.Message) error {
	if err := management.ParseOK(m); err != nil {
		return managementViolation(err)
	}
	if s.state != StateCloseInitiated {
		return nil
	}
	cb := s.closeCB
	s.die()
	if cb != nil {
		s.notify(cb.CloseAccepted)
	}
	s.notify(s.handler.SessionClosed)
	return s.stream.CloseTransport()
}

func (s *Session) sessionCloseDeclined(m *message.Message) error {
	e, err := management.ParseError(m)
	if err != nil {
		return managementViolation(err)
	}
	if s.state != StateCloseInitiated {
		return nil
	}
	s.debugf("peer declined session release: %d %s", e.Code, e.Text)
	s.state = StateAlive
	cb := s.closeCB
	s.closeCB = nil
	if cb != nil {
		s.notify(func() { cb.CloseDeclined(e.Code, e.Text) })
	}
	return nil
}

// nopChannelHandler stands in for a missing handler while the channel is
// being closed.
type nopChannelHandler struct{}

func (nopChannelHandler) ChannelOpened(*Channel) {}

func (nopChannelHandler) MessageReceived(_ *message.Message, r *Reply) {
	_ = r.SendERR(message.New("", []byte("channel closing")))
}

func (nopChannelHandler) ChannelCloseRequested(req CloseChannelRequest) { req.Accept() }

func (nopChannelHandler) ChannelClosed(*Channel) {}
