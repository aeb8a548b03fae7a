package frame

import (
	"strconv"
)

// Protocol limits from RFC 3080 Section 2.2.1.1.
const (
	// MaxNumber is the largest channel, message or answer number.
	MaxNumber = 2147483647

	// MaxSize is the largest payload size of a frame and of a message.
	MaxSize = 2147483647

	// MaxSeqno is the largest sequence number; sequence numbers wrap modulo 2^32.
	MaxSeqno = 4294967295

	// MaxHeaderLength bounds the header line of a frame including CRLF.
	// The longest ANS header with maximal values fits well below this.
	MaxHeaderLength = 128
)

// Trailer terminates every data frame.
const Trailer = "END\r\n"

// Frame is one wire-level unit of a BEEP message.
type Frame struct {
	// Type is the frame keyword (never TypeSEQ; see SEQ).
	Type MessageType

	// Channel is the channel number.
	Channel uint32

	// MessageNumber is the number of the message this frame belongs to.
	MessageNumber uint32

	// AnswerNumber is only meaningful for ANS frames.
	AnswerNumber uint32

	// Intermediate is true if more frames of this message follow ("*").
	Intermediate bool

	// Seqno is the TCP mapping sequence number of the first payload octet.
	Seqno uint32

	// Payload holds the raw octets of this fragment.
	Payload []byte
}

// Size returns the payload size.
func (f *Frame) Size() int {
	return len(f.Payload)
}

// Split divides the frame at offset n of its payload. The first part is
// always intermediate; the second keeps the continuation flag of f and
// starts at sequence number Seqno+n. n must lie in (0, Size()).
func (f *Frame) Split(n int) (*Frame, *Frame) {
	first := *f
	first.Payload = f.Payload[:n]
	first.Intermediate = true

	second := *f
	second.Payload = f.Payload[n:]
	second.Seqno = f.Seqno + uint32(n)

	return &first, &second
}

// HeaderString returns the header line without CRLF.
func (f *Frame) HeaderString() string {
	buf := make([]byte, 0, 64)
	buf = f.appendHeader(buf)
	return string(buf)
}

func (f *Frame) appendHeader(buf []byte) []byte {
	buf = append(buf, f.Type.String()...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(f.Channel), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(f.MessageNumber), 10)
	if f.Intermediate {
		buf = append(buf, " *"...)
	} else {
		buf = append(buf, " ."...)
	}
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(f.Seqno), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(len(f.Payload)), 10)
	if f.Type == TypeANS {
		buf = append(buf, ' ')
		buf = strconv.AppendUint(buf, uint64(f.AnswerNumber), 10)
	}
	return buf
}

// Encode returns the wire encoding: header, CRLF, payload and trailer.
func (f *Frame) Encode() []byte {
	buf := make([]byte, 0, 48+len(f.Payload)+len(Trailer))
	buf = f.appendHeader(buf)
	buf = append(buf, '\r', '\n')
	buf = append(buf, f.Payload...)
	buf = append(buf, Trailer...)
	return buf
}

// String returns a compact description for logging.
func (f *Frame) String() string {
	return f.HeaderString()
}

// SEQ is a TCP mapping window advertisement (RFC 3081 Section 3.1).
type SEQ struct {
	// Channel is the channel whose receive window is advertised.
	Channel uint32

	// Ackno is the sequence number of the next octet the receiver expects.
	Ackno uint32

	// Window is the number of octets the receiver is willing to accept.
	Window uint32
}

// Encode returns "SEQ" SP channel SP ackno SP window CRLF in ASCII.
func (s SEQ) Encode() []byte {
	buf := make([]byte, 0, 40)
	buf = append(buf, "SEQ "...)
	buf = strconv.AppendUint(buf, uint64(s.Channel), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(s.Ackno), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(s.Window), 10)
	buf = append(buf, '\r', '\n')
	return buf
}
