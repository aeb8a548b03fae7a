package mapping

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/backkem/beep/pkg/frame"
	"github.com/backkem/beep/pkg/message"
)

// recorder is a Transport that keeps everything written to it.
type recorder struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (r *recorder) SendBytes(b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(b)
	return nil
}

func (r *recorder) CloseTransport() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// items decodes everything written so far.
func (r *recorder) items(t *testing.T) ([]*frame.Frame, []*frame.SEQ) {
	t.Helper()
	r.mu.Lock()
	data := append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()
	r.mu.Unlock()

	var frames []*frame.Frame
	var seqs []*frame.SEQ
	rd := frame.NewReader(bytes.NewReader(data))
	for {
		f, seq, err := rd.Next()
		if err != nil {
			break
		}
		if f != nil {
			frames = append(frames, f)
		} else {
			seqs = append(seqs, seq)
		}
	}
	return frames, seqs
}

func newTestMapping(t *testing.T, window uint32) (*Mapping, *recorder) {
	t.Helper()
	rec := &recorder{}
	m, err := New(Config{Transport: rec, WindowSize: window})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.ChannelStarted(0); err != nil {
		t.Fatalf("ChannelStarted(0) error = %v", err)
	}
	return m, rec
}

func TestNew_NoTransport(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoTransport) {
		t.Errorf("New() error = %v, want %v", err, ErrNoTransport)
	}
}

func TestNew_WindowSize(t *testing.T) {
	tests := []struct {
		config uint32
		want   uint32
	}{
		{0, DefaultWindowSize},
		{100, DefaultWindowSize},
		{65536, 65536},
		{4294967295, frame.MaxSize},
	}

	for _, tt := range tests {
		m, err := New(Config{Transport: &recorder{}, WindowSize: tt.config})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if got := m.WindowSize(); got != tt.want {
			t.Errorf("WindowSize(%d) = %d, want %d", tt.config, got, tt.want)
		}
	}
}

func TestMapping_ChannelRegistry(t *testing.T) {
	m, _ := newTestMapping(t, 0)

	if err := m.ChannelStarted(0); !errors.Is(err, ErrChannelExists) {
		t.Errorf("ChannelStarted(0) again error = %v, want %v", err, ErrChannelExists)
	}

	_, err := m.Controller(5)
	if !errors.Is(err, ErrUnknownChannel) || !frame.IsProtocolViolation(err) {
		t.Errorf("Controller(5) error = %v, want protocol violation %v", err, ErrUnknownChannel)
	}

	if err := m.ChannelStarted(5); err != nil {
		t.Fatalf("ChannelStarted(5) error = %v", err)
	}
	m.ChannelClosed(5)

	if err := m.SendMSG(5, 1, message.New("", nil)); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("SendMSG(closed channel) error = %v, want %v", err, ErrUnknownChannel)
	}

	// Frames for a channel closed meanwhile are ignored.
	if err := m.FrameReceived(&frame.Frame{Type: frame.TypeRPY, Channel: 5}); err != nil {
		t.Errorf("FrameReceived(closed channel) error = %v", err)
	}
}

func TestMapping_SequenceNumbers(t *testing.T) {
	m, rec := newTestMapping(t, 0)

	m.SendMSG(0, 1, message.New("", []byte("abc")))
	m.SendANS(0, 2, 0, message.New("", []byte("de")))
	m.SendNUL(0, 2)
	m.SendRPY(0, 3, message.New("", []byte("f")))

	frames, _ := rec.items(t)
	want := []struct {
		typ   frame.MessageType
		seqno uint32
	}{
		{frame.TypeMSG, 0},
		{frame.TypeANS, 5},
		{frame.TypeNUL, 9},
		{frame.TypeRPY, 9},
	}
	if len(frames) != len(want) {
		t.Fatalf("sent %d frames, want %d", len(frames), len(want))
	}
	for i, w := range want {
		if frames[i].Type != w.typ || frames[i].Seqno != w.seqno {
			t.Errorf("frame %d = %s, want %s seqno %d", i, frames[i], w.typ, w.seqno)
		}
	}
}

func TestMapping_WindowFragmentation(t *testing.T) {
	m, rec := newTestMapping(t, 0)
	c, _ := m.Controller(0)

	body := bytes.Repeat([]byte("0123456789"), 1000)
	msg := message.New("", body)
	payload := msg.Bytes()

	if err := m.SendMSG(0, 1, msg); err != nil {
		t.Fatalf("SendMSG() error = %v", err)
	}

	frames, _ := rec.items(t)
	if len(frames) != 1 {
		t.Fatalf("sent %d frames before SEQ, want 1", len(frames))
	}
	if !frames[0].Intermediate || frames[0].Size() != int(DefaultWindowSize) {
		t.Errorf("first frame = %s, want intermediate of size %d", frames[0], DefaultWindowSize)
	}
	if c.Queued() != 1 {
		t.Errorf("Queued() = %d, want 1", c.Queued())
	}

	// Peer acknowledges everything and keeps the window size.
	sent := uint32(DefaultWindowSize)
	for c.Queued() > 0 {
		if err := m.ProcessSEQ(&frame.SEQ{Channel: 0, Ackno: sent, Window: DefaultWindowSize}); err != nil {
			t.Fatalf("ProcessSEQ() error = %v", err)
		}
		more, _ := rec.items(t)
		for _, f := range more {
			sent += uint32(f.Size())
		}
		frames = append(frames, more...)
	}

	var got []byte
	for i, f := range frames {
		if f.Seqno != uint32(len(got)) {
			t.Errorf("frame %d seqno = %d, want %d", i, f.Seqno, len(got))
		}
		if last := i == len(frames)-1; f.Intermediate == last {
			t.Errorf("frame %d intermediate = %v", i, f.Intermediate)
		}
		got = append(got, f.Payload...)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reassembled %d octets, want %d", len(got), len(payload))
	}

	w := c.SendWindow()
	if w.Position() != uint32(len(payload)) {
		t.Errorf("send window position = %d, want %d", w.Position(), len(payload))
	}
}

func TestMapping_ZeroWindowQueuesNUL(t *testing.T) {
	m, rec := newTestMapping(t, 0)
	c, _ := m.Controller(0)

	m.SendRPY(0, 1, message.New("", make([]byte, DefaultWindowSize-2)))
	m.SendANS(0, 2, 0, message.New("", []byte("x")))

	// The window is full, the ANS waits; NUL must queue behind it.
	m.SendNUL(0, 2)
	frames, _ := rec.items(t)
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	if c.Queued() != 2 {
		t.Errorf("Queued() = %d, want 2", c.Queued())
	}
	if m.Queued(0) != 2 || m.Queued(7) != 0 {
		t.Errorf("Queued(0), Queued(7) = %d, %d, want 2, 0", m.Queued(0), m.Queued(7))
	}

	if err := m.ProcessSEQ(&frame.SEQ{Channel: 0, Ackno: DefaultWindowSize, Window: DefaultWindowSize}); err != nil {
		t.Fatalf("ProcessSEQ() error = %v", err)
	}
	frames, _ = rec.items(t)
	if len(frames) != 2 || frames[0].Type != frame.TypeANS || frames[1].Type != frame.TypeNUL {
		t.Errorf("released frames = %v, want ANS then NUL", frames)
	}
	if m.Queued(0) != 0 {
		t.Errorf("Queued(0) after SEQ = %d, want 0", m.Queued(0))
	}
}

func TestMapping_ReceiveWindowAdvertisement(t *testing.T) {
	m, rec := newTestMapping(t, 0)

	half := int(DefaultWindowSize / 2)
	f := &frame.Frame{Type: frame.TypeMSG, Channel: 0, MessageNumber: 1, Seqno: 0, Payload: make([]byte, half-1)}
	if err := m.CheckFrame(f); err != nil {
		t.Fatalf("CheckFrame() error = %v", err)
	}
	if err := m.FrameReceived(f); err != nil {
		t.Fatalf("FrameReceived() error = %v", err)
	}
	if _, seqs := rec.items(t); len(seqs) != 0 {
		t.Fatalf("SEQ sent early: %v", seqs)
	}

	f2 := &frame.Frame{Type: frame.TypeMSG, Channel: 0, MessageNumber: 2, Seqno: uint32(half - 1), Payload: make([]byte, 1)}
	if err := m.FrameReceived(f2); err != nil {
		t.Fatalf("FrameReceived() error = %v", err)
	}
	_, seqs := rec.items(t)
	if len(seqs) != 1 {
		t.Fatalf("sent %d SEQ frames, want 1", len(seqs))
	}
	want := frame.SEQ{Channel: 0, Ackno: uint32(half), Window: DefaultWindowSize}
	if *seqs[0] != want {
		t.Errorf("SEQ = %+v, want %+v", *seqs[0], want)
	}
}

func TestMapping_LargerWindowAdvertised(t *testing.T) {
	m, rec := newTestMapping(t, 65536)

	f := &frame.Frame{Type: frame.TypeMSG, Channel: 0, MessageNumber: 1, Payload: []byte("a")}
	if err := m.FrameReceived(f); err != nil {
		t.Fatalf("FrameReceived() error = %v", err)
	}
	_, seqs := rec.items(t)
	if len(seqs) != 1 || seqs[0].Window != 65536 || seqs[0].Ackno != 1 {
		t.Errorf("SEQ = %v, want ackno 1 window 65536", seqs)
	}
}

func TestMapping_CheckFrame(t *testing.T) {
	m, _ := newTestMapping(t, 0)

	tests := []struct {
		name  string
		frame *frame.Frame
		want  error
	}{
		{"duplicate seqno", &frame.Frame{Channel: 0, Seqno: 7}, ErrSequenceMismatch},
		{"too large", &frame.Frame{Channel: 0, Payload: make([]byte, DefaultWindowSize+1)}, ErrWindowExceeded},
		{"unknown channel", &frame.Frame{Channel: 9}, ErrUnknownChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CheckFrame(tt.frame)
			if !errors.Is(err, tt.want) || !frame.IsProtocolViolation(err) {
				t.Errorf("CheckFrame() error = %v, want protocol violation %v", err, tt.want)
			}
		})
	}
}

func TestMapping_ProcessSEQViolations(t *testing.T) {
	m, _ := newTestMapping(t, 0)

	if err := m.ProcessSEQ(&frame.SEQ{Channel: 3, Ackno: 0, Window: 4096}); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("ProcessSEQ(unknown channel) error = %v, want %v", err, ErrUnknownChannel)
	}

	// Nothing was sent, so nothing can be acknowledged.
	err := m.ProcessSEQ(&frame.SEQ{Channel: 0, Ackno: 10, Window: 4096})
	if !errors.Is(err, ErrWindowViolation) || !frame.IsProtocolViolation(err) {
		t.Errorf("ProcessSEQ(ackno ahead) error = %v, want protocol violation %v", err, ErrWindowViolation)
	}
}

func TestMapping_CloseTransport(t *testing.T) {
	m, rec := newTestMapping(t, 0)

	if err := m.CloseTransport(); err != nil {
		t.Fatalf("CloseTransport() error = %v", err)
	}
	if !rec.closed || !m.Closed() {
		t.Error("transport not closed")
	}
	if err := m.SendNUL(0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("SendNUL() after close error = %v, want %v", err, ErrClosed)
	}
	if err := m.CloseTransport(); err != nil {
		t.Errorf("CloseTransport() again error = %v", err)
	}
}
