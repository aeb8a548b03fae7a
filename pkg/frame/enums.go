// Package frame implements BEEP frames: the data model, the wire codec and
// the inbound sequencing validator.
//
// A frame carries one fragment (or the whole) of a BEEP message. Frames of a
// message share the channel and message number; all but the last carry the
// continuation indicator ("*"). ANS frames additionally carry an answer
// number so that several one-to-many replies can be interleaved.
//
// RFC References:
//   - RFC 3080 Section 2.2: Message Framing
//   - RFC 3080 Section 2.2.1.1: Frame Syntax and Sequencing
//   - RFC 3081 Section 3.1: SEQ frames
package frame

// MessageType is the keyword that starts a frame header.
// See RFC 3080 Section 2.2.1.1.
type MessageType int

const (
	// TypeUnknown is an uninitialized or unrecognized keyword.
	TypeUnknown MessageType = iota

	// TypeMSG is a request.
	TypeMSG

	// TypeRPY is a positive, one-to-one reply.
	TypeRPY

	// TypeERR is a negative, one-to-one reply.
	TypeERR

	// TypeANS is one of a series of one-to-many replies.
	TypeANS

	// TypeNUL terminates a series of ANS replies.
	TypeNUL

	// TypeSEQ is a TCP mapping window advertisement (RFC 3081).
	// SEQ frames are not part of the message layer.
	TypeSEQ
)

// String returns the wire keyword of the type.
func (t MessageType) String() string {
	switch t {
	case TypeMSG:
		return "MSG"
	case TypeRPY:
		return "RPY"
	case TypeERR:
		return "ERR"
	case TypeANS:
		return "ANS"
	case TypeNUL:
		return "NUL"
	case TypeSEQ:
		return "SEQ"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the type is a defined value.
func (t MessageType) IsValid() bool {
	return t >= TypeMSG && t <= TypeSEQ
}

// IsReply returns true for RPY, ERR, ANS and NUL.
func (t MessageType) IsReply() bool {
	return t == TypeRPY || t == TypeERR || t == TypeANS || t == TypeNUL
}

// IsData returns true for types carried by the message layer (all but SEQ).
func (t MessageType) IsData() bool {
	return t >= TypeMSG && t <= TypeNUL
}

// ParseMessageType maps a wire keyword to its MessageType.
// Returns TypeUnknown for anything else.
func ParseMessageType(keyword string) MessageType {
	switch keyword {
	case "MSG":
		return TypeMSG
	case "RPY":
		return TypeRPY
	case "ERR":
		return TypeERR
	case "ANS":
		return TypeANS
	case "NUL":
		return TypeNUL
	case "SEQ":
		return TypeSEQ
	default:
		return TypeUnknown
	}
}
