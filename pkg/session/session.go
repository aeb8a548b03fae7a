package session

import (
	"fmt"
	"sync"

	"github.com/backkem/beep/pkg/frame"
	"github.com/backkem/beep/pkg/management"
	"github.com/backkem/beep/pkg/message"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Stream is the outbound side of a session, normally a *mapping.Mapping.
// Implementations must not block on network I/O: they are called with the
// session lock held.
type Stream interface {
	ChannelStarted(channel uint32) error
	ChannelClosed(channel uint32)
	SendMSG(channel, msgno uint32, m *message.Message) error
	SendRPY(channel, msgno uint32, m *message.Message) error
	SendERR(channel, msgno uint32, m *message.Message) error
	SendANS(channel, msgno, ansno uint32, m *message.Message) error
	SendNUL(channel, msgno uint32) error
	// Queued returns the number of frames of channel not yet written
	// for lack of window space.
	Queued(channel uint32) int
	CloseTransport() error
}

// Config configures a Session.
type Config struct {
	// Initiator is true on the side that opened the connection. The
	// initiator allocates odd channel numbers, the listener even ones.
	Initiator bool

	// Handler receives session events. Required.
	Handler Handler

	// Stream carries outbound frames. Required.
	Stream Stream

	// MaxMessageSize bounds the size of inbound messages.
	// Default: frame.MaxSize
	MaxMessageSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Session is one BEEP session.
type Session struct {
	id        uuid.UUID
	initiator bool
	handler   Handler
	stream    Stream
	log       logging.LeveledLogger

	mu          sync.Mutex
	state       State
	channels    map[uint32]*Channel
	nextChannel uint32
	greeting    *management.Greeting
	accepted    bool
	closeCB     CloseCallback
	validator   *frame.Validator
	assembler   *message.Assembler

	// pending holds handler calls queued under the lock. They run in order
	// once the lock is released.
	pending []func()
}

// New creates a session in StateInitial with channel 0 registered on the
// stream. Call ConnectionEstablished to send the greeting.
func New(config Config) (*Session, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	if config.Stream == nil {
		return nil, ErrNoStream
	}

	s := &Session{
		id:        uuid.New(),
		initiator: config.Initiator,
		handler:   config.Handler,
		stream:    config.Stream,
		state:     StateInitial,
		channels:  make(map[uint32]*Channel),
		validator: frame.NewValidator(config.MaxMessageSize),
		assembler: message.NewAssembler(),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("beep-session")
	}

	if s.initiator {
		s.nextChannel = 1
	} else {
		s.nextChannel = 2
	}

	if err := s.stream.ChannelStarted(0); err != nil {
		return nil, err
	}
	ch0 := newChannel(s, 0, "", nil)
	s.channels[0] = ch0

	// The peer's greeting is the reply to an implicit message 0.
	ch0.expect(0, &internalReply{
		rpy: s.greetingReceived,
		err: s.greetingDeclined,
	})

	return s, nil
}

// ID returns the identifier used in log output.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Initiator reports whether this side opened the connection.
func (s *Session) Initiator() bool {
	return s.initiator
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Greeting returns the peer's greeting, or nil before it was received.
func (s *Session) Greeting() *management.Greeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greeting
}

// PeerProfiles returns the profile URIs advertised by the peer.
func (s *Session) PeerProfiles() []string {
	g := s.Greeting()
	if g == nil {
		return nil
	}
	return g.ProfileURIs()
}

// Channel returns the open channel with number n, or nil. Channel 0 is not
// returned.
func (s *Session) Channel(n uint32) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == 0 {
		return nil
	}
	return s.channels[n]
}

// ChannelCount returns the number of open channels besides channel 0.
func (s *Session) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels) - 1
}

// ConnectionEstablished asks the handler whether to accept the session and
// sends the greeting, or declines the session with an error greeting.
func (s *Session) ConnectionEstablished() error {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateInitial || s.accepted {
		return s.illegal("ConnectionEstablished")
	}

	req := &startSessionRequest{}
	s.callUnlocked(func() { s.handler.ConnectionEstablished(req) })

	if s.state != StateInitial {
		return nil
	}

	if req.cancelled {
		code := req.code
		if !code.IsValid() {
			code = management.CodeRequestedNotTaken
		}
		s.debugf("declining session: %d %s", code, req.msg)
		err := s.stream.SendERR(0, 0, (&management.Error{Code: code, Text: req.msg}).Message())
		s.die()
		if cerr := s.stream.CloseTransport(); err == nil {
			err = cerr
		}
		return err
	}

	s.accepted = true
	s.debugf("sending greeting with profiles %v", req.profiles)
	if err := s.stream.SendRPY(0, 0, management.NewGreeting(req.profiles...).Message()); err != nil {
		return err
	}
	s.maybeOpen()
	return nil
}

// ConnectionClosed is called when the transport was closed underneath the
// session. It is a no-op on a dead session.
func (s *Session) ConnectionClosed() {
	s.mu.Lock()
	defer s.unlock()

	if s.state == StateDead {
		return
	}
	s.debugf("connection closed in state %s", s.state)
	s.die()
	s.notify(s.handler.SessionClosed)
	_ = s.stream.CloseTransport()
}

// WindowOpened is called after a SEQ from the peer let queued frames of
// channel go out. An accepted close held back by those frames completes.
func (s *Session) WindowOpened(channel uint32) error {
	s.mu.Lock()
	defer s.unlock()

	c, ok := s.channels[channel]
	if !ok || c.state != ChannelCloseRequested {
		return nil
	}
	return c.checkCondition()
}

// ExceptionCaught handles an error raised outside the session while
// processing inbound data, such as a framing or flow-control violation.
// The session is closed.
func (s *Session) ExceptionCaught(err error) {
	s.mu.Lock()
	defer s.unlock()
	s.fatal(err)
}

// HandleFrame processes one inbound data frame. A protocol violation is
// fatal: the handler is told that the session closed and the transport is
// closed. The violation is returned to the caller.
func (s *Session) HandleFrame(f *frame.Frame) error {
	s.mu.Lock()
	defer s.unlock()

	err := s.handleFrame(f)
	if err != nil && frame.IsProtocolViolation(err) {
		s.fatal(err)
	}
	return err
}

func (s *Session) handleFrame(f *frame.Frame) error {
	switch s.state {
	case StateDead:
		return s.illegal("HandleFrame")
	case StateInitial:
		if f.Channel != 0 || f.MessageNumber != 0 || (f.Type != frame.TypeRPY && f.Type != frame.TypeERR) {
			return frame.Violation(ErrUnexpectedGreeting, "got %s", f)
		}
	}

	if err := s.validator.Validate(f); err != nil {
		return err
	}

	ch, ok := s.channels[f.Channel]
	if !ok {
		return frame.Violation(ErrUnknownChannel, "%s", f)
	}
	if f.Type.IsReply() {
		if err := ch.expectReplyTo(f.MessageNumber); err != nil {
			return err
		}
	}

	m, complete, err := s.assembler.Add(f)
	if err != nil {
		return frame.Violation(err, "%s", f)
	}
	if !complete {
		return nil
	}
	return ch.receive(f, m)
}

// StartChannel asks the peer to start a channel with one of profiles and
// returns the allocated channel number. The outcome is reported to factory.
func (s *Session) StartChannel(profiles []management.Profile, factory ChannelHandlerFactory) (uint32, error) {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateAlive {
		return 0, s.illegal("StartChannel")
	}
	if len(profiles) == 0 {
		return 0, ErrNoProfiles
	}
	if factory == nil {
		return 0, ErrNoHandler
	}
	if s.nextChannel > frame.MaxNumber {
		return 0, ErrChannelNumbersExhausted
	}

	number := s.nextChannel
	s.nextChannel += 2

	start := &management.Start{Number: number, Profiles: profiles}
	s.debugf("requesting channel %d", number)
	err := s.channels[0].sendMessageLocked(start.Message(), &pendingReply{internal: &internalReply{
		rpy: func(m *message.Message) error { return s.channelStartAccepted(number, m, factory) },
		err: func(m *message.Message) error { return s.channelStartDeclined(number, m, factory) },
	}})
	return number, err
}

// Close asks the peer to release the session. It fails with ErrChannelsOpen
// while channels other than channel 0 are open. cb may be nil.
func (s *Session) Close(cb CloseCallback) error {
	s.mu.Lock()
	defer s.unlock()

	if s.state != StateAlive {
		return s.illegal("Close")
	}
	if len(s.channels) > 1 {
		return ErrChannelsOpen
	}

	s.state = StateCloseInitiated
	s.closeCB = cb
	s.debugf("requesting session release")
	req := &management.Close{Number: 0, Code: management.CodeSuccess}
	return s.channels[0].sendMessageLocked(req.Message(), &pendingReply{internal: &internalReply{
		rpy: s.sessionCloseAccepted,
		err: s.sessionCloseDeclined,
	}})
}

// maybeOpen moves to StateAlive once the local side accepted and the peer's
// greeting arrived.
func (s *Session) maybeOpen() {
	if s.state != StateInitial || !s.accepted || s.greeting == nil {
		return
	}
	s.state = StateAlive
	s.debugf("session open, peer profiles %v", s.greeting.ProfileURIs())
	s.notify(func() { s.handler.SessionOpened(s) })
}

// fatal runs the protocol violation sequence. Must be called with s.mu held.
func (s *Session) fatal(err error) {
	if s.state == StateDead {
		return
	}
	if s.log != nil {
		s.log.Warnf("session %s: closing after error: %v", s.id, err)
	}
	s.die()
	s.notify(s.handler.SessionClosed)
	_ = s.stream.CloseTransport()
}

// die moves the session and every channel to the dead state.
func (s *Session) die() {
	s.state = StateDead
	for _, ch := range s.channels {
		ch.state = ChannelDead
	}
}

// removeChannel unregisters a closed channel.
func (s *Session) removeChannel(ch *Channel) {
	ch.state = ChannelDead
	delete(s.channels, ch.number)
	s.stream.ChannelClosed(ch.number)
	s.validator.Reset(ch.number)
	s.assembler.Reset(ch.number)
	s.debugf("channel %d closed", ch.number)
}

// isPeerChannel reports whether n has the parity of channels started by the peer.
func (s *Session) isPeerChannel(n uint32) bool {
	peerInitiator := !s.initiator
	return (n%2 == 1) == peerInitiator
}

// notify queues fn to run after the lock is released.
func (s *Session) notify(fn func()) {
	s.pending = append(s.pending, fn)
}

// unlock releases the lock and runs the queued handler calls.
func (s *Session) unlock() {
	calls := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
}

// callUnlocked runs queued handler calls and then fn without the lock, and
// reacquires it. State may have changed when it returns.
func (s *Session) callUnlocked(fn func()) {
	s.unlock()
	fn()
	s.mu.Lock()
}

func (s *Session) illegal(op string) error {
	return fmt.Errorf("%w: %s in session state %s", ErrIllegalState, op, s.state)
}

func (s *Session) debugf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Debugf("session %s: "+format, append([]interface{}{s.id}, args...)...)
	}
}
