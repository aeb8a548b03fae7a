package session

import (
	"github.com/backkem/beep/pkg/management"
	"github.com/backkem/beep/pkg/message"
)

// Handler receives session-level events. Calls are made without the session
// lock held and never concurrently for one session.
type Handler interface {
	// ConnectionEstablished asks whether to accept the session and which
	// profiles to advertise. The decision must be made before returning.
	ConnectionEstablished(req StartSessionRequest)

	// SessionOpened is called once both greetings were exchanged.
	SessionOpened(s *Session)

	// SessionStartDeclined is called when the peer declined the session.
	SessionStartDeclined(code management.ReplyCode, msg string)

	// ChannelStartRequested asks to accept a channel started by the peer.
	// The decision must be made before returning.
	ChannelStartRequested(req StartChannelRequest)

	// SessionClosed is called when the session is dead.
	SessionClosed()
}

// StartSessionRequest collects the decision on a new session.
type StartSessionRequest interface {
	// RegisterProfile adds a profile URI to the greeting.
	RegisterProfile(uri string)

	// Cancel declines the session.
	Cancel(code management.ReplyCode, msg string)
}

// StartChannelRequest collects the decision on a channel started by the peer.
type StartChannelRequest interface {
	// ChannelNumber returns the requested channel number.
	ChannelNumber() uint32

	// Profiles returns the offered profiles in order of preference.
	Profiles() []management.Profile

	// HasProfile reports whether uri is among the offered profiles.
	HasProfile(uri string) bool

	// SelectProfile accepts the channel with one of the offered profiles.
	SelectProfile(p management.Profile, h ChannelHandler)

	// Cancel declines the channel.
	Cancel(code management.ReplyCode, msg string)
}

// ChannelHandler receives the events of one channel.
type ChannelHandler interface {
	// ChannelOpened is called once the channel may be used.
	ChannelOpened(c *Channel)

	// MessageReceived delivers a request. Exactly one terminal reply must be
	// sent through reply.
	MessageReceived(m *message.Message, reply *Reply)

	// ChannelCloseRequested asks to accept the peer's close request.
	ChannelCloseRequested(req CloseChannelRequest)

	// ChannelClosed is called when the channel is dead.
	ChannelClosed(c *Channel)
}

// CloseChannelRequest collects the decision on the peer's close request.
// Accept and Reject may be called after ChannelCloseRequested returned.
type CloseChannelRequest interface {
	Accept()
	Reject()
}

// ChannelHandlerFactory creates the handler of a channel started locally.
type ChannelHandlerFactory interface {
	// CreateChannelHandler is called when the peer accepted the channel
	// with profile.
	CreateChannelHandler(profile management.Profile) ChannelHandler

	// ChannelStartFailed is called when the peer declined the channel.
	ChannelStartFailed(code management.ReplyCode, msg string)
}

// ReplyHandler receives the replies to one sent message.
type ReplyHandler interface {
	ReceivedRPY(m *message.Message)
	ReceivedERR(m *message.Message)
	ReceivedANS(m *message.Message)
	ReceivedNUL()
}

// CloseCallback receives the outcome of a local close request.
type CloseCallback interface {
	CloseAccepted()
	CloseDeclined(code management.ReplyCode, msg string)
}

// ReplyFuncs adapts functions to ReplyHandler. Nil functions are ignored.
type ReplyFuncs struct {
	RPY func(m *message.Message)
	ERR func(m *message.Message)
	ANS func(m *message.Message)
	NUL func()
}

func (f ReplyFuncs) ReceivedRPY(m *message.Message) {
	if f.RPY != nil {
		f.RPY(m)
	}
}

func (f ReplyFuncs) ReceivedERR(m *message.Message) {
	if f.ERR != nil {
		f.ERR(m)
	}
}

func (f ReplyFuncs) ReceivedANS(m *message.Message) {
	if f.ANS != nil {
		f.ANS(m)
	}
}

func (f ReplyFuncs) ReceivedNUL() {
	if f.NUL != nil {
		f.NUL()
	}
}

// CloseFuncs adapts functions to CloseCallback. Nil functions are ignored.
type CloseFuncs struct {
	Accepted func()
	Declined func(code management.ReplyCode, msg string)
}

func (f CloseFuncs) CloseAccepted() {
	if f.Accepted != nil {
		f.Accepted()
	}
}

func (f CloseFuncs) CloseDeclined(code management.ReplyCode, msg string) {
	if f.Declined != nil {
		f.Declined(code, msg)
	}
}

// startSessionRequest is the StartSessionRequest handed to ConnectionEstablished.
type startSessionRequest struct {
	profiles  []string
	cancelled bool
	code      management.ReplyCode
	msg       string
}

func (r *startSessionRequest) RegisterProfile(uri string) {
	r.profiles = append(r.profiles, uri)
}

func (r *startSessionRequest) Cancel(code management.ReplyCode, msg string) {
	r.cancelled = true
	r.code = code
	r.msg = msg
}

// startChannelRequest is the StartChannelRequest handed to ChannelStartRequested.
type startChannelRequest struct {
	start *management.Start

	selected  *management.Profile
	handler   ChannelHandler
	cancelled bool
	code      management.ReplyCode
	msg       string
}

func (r *startChannelRequest) ChannelNumber() uint32 {
	return r.start.Number
}

func (r *startChannelRequest) Profiles() []management.Profile {
	return r.start.Profiles
}

func (r *startChannelRequest) HasProfile(uri string) bool {
	for _, p := range r.start.Profiles {
		if p.URI == uri {
			return true
		}
	}
	return false
}

func (r *startChannelRequest) SelectProfile(p management.Profile, h ChannelHandler) {
	r.selected = &p
	r.handler = h
	r.cancelled = false
}

func (r *startChannelRequest) Cancel(code management.ReplyCode, msg string) {
	r.cancelled = true
	r.code = code
	r.msg = msg
	r.selected = nil
	r.handler = nil
}

// closeChannelRequest is the CloseChannelRequest handed to ChannelCloseRequested.
type closeChannelRequest struct {
	ch *Channel
}

func (r *closeChannelRequest) Accept() {
	r.ch.closeDecided(true)
}

func (r *closeChannelRequest) Reject() {
	r.ch.closeDecided(false)
}
