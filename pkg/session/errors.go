package session

import "errors"

// Illegal local usage. These never affect the session by themselves.
var (
	// ErrIllegalState is returned when an operation is not allowed in the
	// current session, channel or reply state.
	ErrIllegalState = errors.New("session: illegal state")

	// ErrChannelsOpen is returned when closing a session that still has
	// channels other than channel 0.
	ErrChannelsOpen = errors.New("session: channels still open")

	// ErrNoHandler is returned when no session handler is configured.
	ErrNoHandler = errors.New("session: no handler configured")

	// ErrNoStream is returned when no outbound stream is configured.
	ErrNoStream = errors.New("session: no stream configured")

	// ErrNoProfiles is returned when starting a channel without profiles.
	ErrNoProfiles = errors.New("session: no profiles offered")

	// ErrChannelNumbersExhausted is returned when no channel number is left.
	ErrChannelNumbersExhausted = errors.New("session: channel numbers exhausted")
)

// Protocol violations detected by the session. They are wrapped in a
// *frame.ProtocolError and are fatal.
var (
	// ErrUnexpectedGreeting is returned when the first frame is not the
	// peer's greeting.
	ErrUnexpectedGreeting = errors.New("session: first message must be RPY or ERR on channel 0")

	// ErrUnknownChannel is returned for frames on a channel that is not open.
	ErrUnknownChannel = errors.New("session: unknown channel")

	// ErrUnexpectedReply is returned when a reply does not match the oldest
	// message awaiting a reply on its channel.
	ErrUnexpectedReply = errors.New("session: reply out of order")

	// ErrMessageAfterClose is returned when the peer sends a message on a
	// channel it asked to close.
	ErrMessageAfterClose = errors.New("session: message on channel being closed")

	// ErrDuplicateMessage is returned when the peer reuses the number of a
	// message that is still awaiting our reply.
	ErrDuplicateMessage = errors.New("session: message number already awaiting reply")

	// ErrDuplicateChannel is returned when the peer starts a channel that is
	// already open.
	ErrDuplicateChannel = errors.New("session: channel already open")

	// ErrManagement is returned for management replies that cannot be decoded.
	ErrManagement = errors.New("session: invalid management message")
)
