package message

import (
	"github.com/backkem/beep/pkg/frame"
)

// Assembler accumulates frames into complete messages.
//
// MSG frames and RPY/ERR frames each have one pending assembly per channel.
// ANS frames have one pending assembly per (channel, answer number), so that
// answers to the same message may interleave freely. A reply frame of one
// class drops pending reply fragments of the other class on its channel.
// Frames are expected to have passed a frame.Validator.
//
// An Assembler is not safe for concurrent use.
type Assembler struct {
	single  map[singleKey][]*frame.Frame
	answers map[answerKey][]*frame.Frame
}

type singleKey struct {
	channel uint32
	reply   bool
}

type answerKey struct {
	channel uint32
	answer  uint32
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		single:  make(map[singleKey][]*frame.Frame),
		answers: make(map[answerKey][]*frame.Frame),
	}
}

// Add appends f to its pending assembly. When f completes a message the
// message is returned with complete set. NUL frames complete immediately
// and carry no message.
func (a *Assembler) Add(f *frame.Frame) (*Message, bool, error) {
	switch f.Type {
	case frame.TypeNUL:
		delete(a.single, singleKey{channel: f.Channel, reply: true})
		return nil, true, nil

	case frame.TypeANS:
		// A reply is either one RPY/ERR or a series of ANS. Fragments of
		// the other class are stale.
		delete(a.single, singleKey{channel: f.Channel, reply: true})
		key := answerKey{channel: f.Channel, answer: f.AnswerNumber}
		frames := append(a.answers[key], f)
		if f.Intermediate {
			a.answers[key] = frames
			return nil, false, nil
		}
		delete(a.answers, key)
		m, err := Assemble(frames)
		return m, err == nil, err

	case frame.TypeMSG, frame.TypeRPY, frame.TypeERR:
		key := singleKey{channel: f.Channel, reply: f.Type.IsReply()}
		if key.reply {
			a.dropAnswers(f.Channel)
		}
		frames := append(a.single[key], f)
		if f.Intermediate {
			a.single[key] = frames
			return nil, false, nil
		}
		delete(a.single, key)
		m, err := Assemble(frames)
		return m, err == nil, err

	default:
		return nil, false, ErrNotDataFrame
	}
}

// Pending returns the number of incomplete assemblies.
func (a *Assembler) Pending() int {
	return len(a.single) + len(a.answers)
}

// Reset drops all pending assemblies of channel.
func (a *Assembler) Reset(channel uint32) {
	delete(a.single, singleKey{channel: channel})
	delete(a.single, singleKey{channel: channel, reply: true})
	a.dropAnswers(channel)
}

func (a *Assembler) dropAnswers(channel uint32) {
	for key := range a.answers {
		if key.channel == channel {
			delete(a.answers, key)
		}
	}
}

// Assemble concatenates the payloads of frames in order and parses the
// result as a message.
func Assemble(frames []*frame.Frame) (*Message, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	if len(frames) == 1 {
		return Parse(frames[0].Payload)
	}

	size := 0
	for _, f := range frames {
		size += f.Size()
	}
	buf := make([]byte, 0, size)
	for _, f := range frames {
		buf = append(buf, f.Payload...)
	}
	return Parse(buf)
}
