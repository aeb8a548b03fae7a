// Package session implements the BEEP session and channel state machines
// (RFC 3080 Section 2.3 and 2.4).
//
// A Session owns the channel registry of one connection. Channel 0 runs the
// channel management profile: it carries the greeting exchange and the
// start and close negotiations. Inbound frames enter through HandleFrame;
// outbound traffic leaves through the Stream collaborator, normally a
// mapping.Mapping.
//
// All state of a session and its channels is guarded by one lock. Handler
// callbacks are always invoked with that lock released, so handlers may call
// back into the session.
//
// RFC References:
//   - RFC 3080 Section 2.3.1: Channel Management (greeting, start, close)
//   - RFC 3080 Section 2.4: Session Establishment and Release
//   - RFC 3080 Section 2.6: Asynchrony
package session

// State is the lifecycle state of a session.
type State int

const (
	// StateInitial waits for the greeting exchange to complete.
	StateInitial State = iota

	// StateAlive is the operational state.
	StateAlive

	// StateCloseInitiated means a local session close was requested and is
	// being negotiated on channel 0.
	StateCloseInitiated

	// StateDead is terminal.
	StateDead
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateAlive:
		return "Alive"
	case StateCloseInitiated:
		return "CloseInitiated"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// ChannelState is the lifecycle state of a channel.
type ChannelState int

const (
	// ChannelAlive is the initial state; both directions are active.
	ChannelAlive ChannelState = iota

	// ChannelCloseInitiated means the local side asked to close the channel
	// and waits for outstanding replies to drain.
	ChannelCloseInitiated

	// ChannelCloseInitiatedSent means the close request was sent to the peer.
	ChannelCloseInitiatedSent

	// ChannelCloseRequested means the peer asked to close the channel.
	ChannelCloseRequested

	// ChannelDead is terminal.
	ChannelDead
)

// String returns a human-readable name for the channel state.
func (s ChannelState) String() string {
	switch s {
	case ChannelAlive:
		return "Alive"
	case ChannelCloseInitiated:
		return "CloseInitiated"
	case ChannelCloseInitiatedSent:
		return "CloseInitiatedSent"
	case ChannelCloseRequested:
		return "CloseRequested"
	case ChannelDead:
		return "Dead"
	default:
		return "Unknown"
	}
}
