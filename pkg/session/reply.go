package session

import (
	"fmt"

	"github.com/backkem/beep/pkg/frame"
	"github.com/backkem/beep/pkg/management"
	"github.com/backkem/beep/pkg/message"
)

// Reply answers one received message: any number of ANS replies followed
// by NUL, or a single RPY or ERR. The reply is complete after the terminal
// send; further sends fail with ErrIllegalState.
type Reply struct {
	ch    *Channel
	msgno uint32

	// Guarded by the session lock.
	nextAnswer uint32
	answered   bool
	done       bool
}

func newReply(ch *Channel, msgno uint32) *Reply {
	return &Reply{ch: ch, msgno: msgno}
}

// MessageNumber returns the number of the message being answered.
func (r *Reply) MessageNumber() uint32 {
	return r.msgno
}

// Channel returns the channel the message was received on.
func (r *Reply) Channel() *Channel {
	return r.ch
}

// SendANS sends one answer. Answer numbers start at 0 and increase.
func (r *Reply) SendANS(m *message.Message) error {
	return r.send(frame.TypeANS, m)
}

// SendNUL terminates a series of answers.
func (r *Reply) SendNUL() error {
	return r.send(frame.TypeNUL, nil)
}

// SendRPY sends a positive reply.
func (r *Reply) SendRPY(m *message.Message) error {
	return r.send(frame.TypeRPY, m)
}

// SendERR sends a negative reply.
func (r *Reply) SendERR(m *message.Message) error {
	return r.send(frame.TypeERR, m)
}

func (r *Reply) send(typ frame.MessageType, m *message.Message) error {
	s := r.ch.session
	s.mu.Lock()
	defer s.unlock()
	return r.sendLocked(typ, m)
}

func (r *Reply) sendLocked(typ frame.MessageType, m *message.Message) error {
	if r.done {
		return fmt.Errorf("%w: reply to message %d already completed", ErrIllegalState, r.msgno)
	}
	if r.ch.state == ChannelDead {
		return r.ch.illegal("reply")
	}

	stream := r.ch.session.stream
	number := r.ch.number

	switch typ {
	case frame.TypeANS:
		ansno := r.nextAnswer
		r.nextAnswer++
		r.answered = true
		return stream.SendANS(number, r.msgno, ansno, m)

	case frame.TypeRPY, frame.TypeERR:
		if r.answered {
			return fmt.Errorf("%w: %s after ANS, use NUL", ErrIllegalState, typ)
		}
	}

	var err error
	switch typ {
	case frame.TypeRPY:
		err = stream.SendRPY(number, r.msgno, m)
	case frame.TypeERR:
		err = stream.SendERR(number, r.msgno, m)
	case frame.TypeNUL:
		err = stream.SendNUL(number, r.msgno)
	default:
		return fmt.Errorf("%w: cannot reply with %s", ErrIllegalState, typ)
	}

	r.done = true
	delete(r.ch.received, r.msgno)
	r.ch.incoming--
	if cerr := r.ch.checkCondition(); err == nil {
		err = cerr
	}
	return err
}

func (r *Reply) sendErrorLocked(code management.ReplyCode, text string) error {
	return r.sendLocked(frame.TypeERR, (&management.Error{Code: code, Text: text}).Message())
}
