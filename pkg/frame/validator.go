package frame

// Validator checks inbound frame sequencing per RFC 3080 Section 2.2.1.1.
//
// State is kept per channel and per direction: the peer's MSG stream and
// the peer's reply stream (RPY, ERR, ANS, NUL) are validated independently,
// so fragments of a request and of a reply may interleave on one channel.
//
// A Validator is not safe for concurrent use; the session serializes access.
type Validator struct {
	maxSize int64
	streams map[streamKey]*streamState
}

type streamKey struct {
	channel uint32
	reply   bool
}

type streamMode int

const (
	// modeSingle validates MSG, RPY and ERR fragments of one message.
	modeSingle streamMode = iota

	// modeAnswers validates a series of ANS replies terminated by NUL.
	modeAnswers
)

type streamState struct {
	mode streamMode

	// Single-stream state.
	typ   MessageType
	last  *Frame
	total int64

	// Answer-stream state. answers holds the cumulative size of every
	// answer number whose final frame has not been seen yet.
	msgno   uint32
	answers map[uint32]int64
}

// NewValidator creates a Validator. maxMessageSize bounds the cumulative
// payload size of one message; zero or values above MaxSize mean MaxSize.
func NewValidator(maxMessageSize int) *Validator {
	limit := int64(maxMessageSize)
	if limit <= 0 || limit > MaxSize {
		limit = MaxSize
	}
	return &Validator{
		maxSize: limit,
		streams: make(map[streamKey]*streamState),
	}
}

// Validate checks f against the frames previously seen on its stream.
// Violations are returned as *ProtocolError.
func (v *Validator) Validate(f *Frame) error {
	if !f.Type.IsData() {
		return Violation(ErrInvalidFrameType, "%s frame on channel %d", f.Type, f.Channel)
	}

	key := streamKey{channel: f.Channel, reply: f.Type.IsReply()}
	st, ok := v.streams[key]
	if !ok {
		st = newStreamState(f)
		v.streams[key] = st
	}

	var done bool
	var err error
	if st.mode == modeAnswers {
		done, err = v.appendAnswer(st, f)
	} else {
		done, err = v.appendSingle(st, f)
	}
	if err != nil {
		return err
	}
	if done {
		delete(v.streams, key)
	}
	return nil
}

// Reset drops all state of channel. Called when the channel is closed.
func (v *Validator) Reset(channel uint32) {
	delete(v.streams, streamKey{channel: channel})
	delete(v.streams, streamKey{channel: channel, reply: true})
}

func newStreamState(f *Frame) *streamState {
	if f.Type == TypeANS || f.Type == TypeNUL {
		return &streamState{
			mode:    modeAnswers,
			msgno:   f.MessageNumber,
			answers: make(map[uint32]int64),
		}
	}
	return &streamState{
		mode: modeSingle,
		typ:  f.Type,
	}
}

func (v *Validator) appendSingle(st *streamState, f *Frame) (bool, error) {
	if st.last != nil {
		if st.last.MessageNumber != f.MessageNumber {
			return false, Violation(ErrMessageNumberMismatch,
				"was %d, should be %d on channel %d", f.MessageNumber, st.last.MessageNumber, f.Channel)
		}
		// ANS and NUL are exempt from keyword matching.
		if (f.Type == TypeMSG || f.Type == TypeRPY || f.Type == TypeERR) && f.Type != st.typ {
			return false, Violation(ErrFragmentTypeMismatch,
				"expected %s but was %s on channel %d", st.typ, f.Type, f.Channel)
		}
	}

	st.total += int64(f.Size())
	if st.total > v.maxSize {
		return false, Violation(ErrMessageTooLarge,
			"message %d on channel %d exceeds %d octets", f.MessageNumber, f.Channel, v.maxSize)
	}

	if f.Intermediate {
		st.last = f
		return false, nil
	}
	return true, nil
}

func (v *Validator) appendAnswer(st *streamState, f *Frame) (bool, error) {
	if st.msgno != f.MessageNumber {
		return false, Violation(ErrMessageNumberMismatch,
			"was %d, should be %d on channel %d", f.MessageNumber, st.msgno, f.Channel)
	}

	switch f.Type {
	case TypeANS:
		total := st.answers[f.AnswerNumber] + int64(f.Size())
		if total > v.maxSize {
			return false, Violation(ErrMessageTooLarge,
				"answer %d to message %d on channel %d exceeds %d octets",
				f.AnswerNumber, f.MessageNumber, f.Channel, v.maxSize)
		}
		if f.Intermediate {
			st.answers[f.AnswerNumber] = total
		} else {
			delete(st.answers, f.AnswerNumber)
		}
		return false, nil

	case TypeNUL:
		if len(st.answers) > 0 {
			return false, Violation(ErrUnfinishedANS,
				"%d open answers to message %d on channel %d", len(st.answers), f.MessageNumber, f.Channel)
		}
		if f.Intermediate {
			return false, Violation(ErrIntermediateNUL, "message %d on channel %d", f.MessageNumber, f.Channel)
		}
		if f.Size() != 0 {
			return false, Violation(ErrNULPayload, "size %d", f.Size())
		}
		return true, nil

	default:
		return false, Violation(ErrUnexpectedType, "expected ANS or NUL, was %s", f.Type)
	}
}
