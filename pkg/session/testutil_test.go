package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/backkem/beep/pkg/frame"
	"github.com/backkem/beep/pkg/management"
	"github.com/backkem/beep/pkg/message"
)

// sentItem is one message handed to the stream.
type sentItem struct {
	typ     frame.MessageType
	channel uint32
	msgno   uint32
	ansno   uint32
	msg     *message.Message
}

// fakeStream records everything the session sends.
type fakeStream struct {
	mu       sync.Mutex
	sent     []sentItem
	started  []uint32
	stopped  []uint32
	closed   bool
	closeErr error

	// queued is reported by Queued, per channel.
	queued map[uint32]int
}

func (f *fakeStream) record(it sentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, it)
	return nil
}

func (f *fakeStream) ChannelStarted(ch uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, ch)
	return nil
}

func (f *fakeStream) ChannelClosed(ch uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, ch)
}

func (f *fakeStream) SendMSG(ch, msgno uint32, m *message.Message) error {
	return f.record(sentItem{typ: frame.TypeMSG, channel: ch, msgno: msgno, msg: m})
}

func (f *fakeStream) SendRPY(ch, msgno uint32, m *message.Message) error {
	return f.record(sentItem{typ: frame.TypeRPY, channel: ch, msgno: msgno, msg: m})
}

func (f *fakeStream) SendERR(ch, msgno uint32, m *message.Message) error {
	return f.record(sentItem{typ: frame.TypeERR, channel: ch, msgno: msgno, msg: m})
}

func (f *fakeStream) SendANS(ch, msgno, ansno uint32, m *message.Message) error {
	return f.record(sentItem{typ: frame.TypeANS, channel: ch, msgno: msgno, ansno: ansno, msg: m})
}

func (f *fakeStream) SendNUL(ch, msgno uint32) error {
	return f.record(sentItem{typ: frame.TypeNUL, channel: ch, msgno: msgno})
}

func (f *fakeStream) Queued(ch uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queued[ch]
}

func (f *fakeStream) setQueued(ch uint32, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queued == nil {
		f.queued = make(map[uint32]int)
	}
	f.queued[ch] = n
}

func (f *fakeStream) CloseTransport() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

// take returns and clears the recorded sends.
func (f *fakeStream) take() []sentItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// testHandler records session events and lets tests decide requests.
type testHandler struct {
	mu     sync.Mutex
	events []string

	profiles      []string
	declineWith   management.ReplyCode
	onStartReq    func(req StartChannelRequest)
	opened        *Session
	declineReason string
}

func (h *testHandler) add(format string, args ...interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, fmt.Sprintf(format, args...))
}

func (h *testHandler) ConnectionEstablished(req StartSessionRequest) {
	h.add("connection established")
	if h.declineWith != 0 {
		req.Cancel(h.declineWith, h.declineReason)
		return
	}
	for _, p := range h.profiles {
		req.RegisterProfile(p)
	}
}

func (h *testHandler) SessionOpened(s *Session) {
	h.add("session opened")
	h.opened = s
}

func (h *testHandler) SessionStartDeclined(code management.ReplyCode, msg string) {
	h.add("session declined %d %s", int(code), msg)
}

func (h *testHandler) ChannelStartRequested(req StartChannelRequest) {
	h.add("start requested %d", req.ChannelNumber())
	if h.onStartReq != nil {
		h.onStartReq(req)
		return
	}
	req.Cancel(management.CodeRequestedNotTaken, "no")
}

func (h *testHandler) SessionClosed() {
	h.add("session closed")
}

func (h *testHandler) take() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.events
	h.events = nil
	return out
}

// testChannelHandler records channel events.
type testChannelHandler struct {
	mu       sync.Mutex
	events   []string
	channel  *Channel
	replies  []*Reply
	messages []*message.Message
	closeReq CloseChannelRequest

	// autoAccept accepts close requests immediately.
	autoAccept bool
}

func (h *testChannelHandler) add(format string, args ...interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, fmt.Sprintf(format, args...))
}

func (h *testChannelHandler) ChannelOpened(c *Channel) {
	h.channel = c
	h.add("opened %d", c.Number())
}

func (h *testChannelHandler) MessageReceived(m *message.Message, r *Reply) {
	h.mu.Lock()
	h.replies = append(h.replies, r)
	h.messages = append(h.messages, m)
	h.mu.Unlock()
	h.add("message %d %s", r.MessageNumber(), m.Body)
}

func (h *testChannelHandler) ChannelCloseRequested(req CloseChannelRequest) {
	h.add("close requested")
	if h.autoAccept {
		req.Accept()
		return
	}
	h.closeReq = req
}

func (h *testChannelHandler) ChannelClosed(c *Channel) {
	h.add("closed %d", c.Number())
}

func (h *testChannelHandler) take() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.events
	h.events = nil
	return out
}

// testFactory creates testChannelHandlers for locally started channels.
type testFactory struct {
	handler *testChannelHandler
	failed  []string
}

func (f *testFactory) CreateChannelHandler(p management.Profile) ChannelHandler {
	if f.handler == nil {
		return nil
	}
	f.handler.add("created %s", p.URI)
	return f.handler
}

func (f *testFactory) ChannelStartFailed(code management.ReplyCode, msg string) {
	f.failed = append(f.failed, fmt.Sprintf("%d %s", int(code), msg))
}

// replyRecorder records replies in arrival order.
type replyRecorder struct {
	name   string
	events *[]string
}

func (r replyRecorder) ReceivedRPY(m *message.Message) {
	*r.events = append(*r.events, r.name+" RPY "+string(m.Body))
}

func (r replyRecorder) ReceivedERR(m *message.Message) {
	*r.events = append(*r.events, r.name+" ERR "+string(m.Body))
}

func (r replyRecorder) ReceivedANS(m *message.Message) {
	*r.events = append(*r.events, r.name+" ANS "+string(m.Body))
}

func (r replyRecorder) ReceivedNUL() {
	*r.events = append(*r.events, r.name+" NUL")
}

// feed delivers a complete message from the peer as one frame.
func feed(t *testing.T, s *Session, typ frame.MessageType, ch, msgno uint32, m *message.Message) error {
	t.Helper()
	f := &frame.Frame{Type: typ, Channel: ch, MessageNumber: msgno}
	if m != nil {
		f.Payload = m.Bytes()
	}
	return s.HandleFrame(f)
}

// mustFeed is feed failing the test on error.
func mustFeed(t *testing.T, s *Session, typ frame.MessageType, ch, msgno uint32, m *message.Message) {
	t.Helper()
	if err := feed(t, s, typ, ch, msgno, m); err != nil {
		t.Fatalf("HandleFrame(%s %d %d) error = %v", typ, ch, msgno, err)
	}
}

// newTestSession creates a session and completes the greeting exchange.
func newTestSession(t *testing.T, initiator bool) (*Session, *fakeStream, *testHandler) {
	t.Helper()
	stream := &fakeStream{}
	h := &testHandler{profiles: []string{"urn:test"}}

	s, err := New(Config{Initiator: initiator, Handler: h, Stream: stream})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.ConnectionEstablished(); err != nil {
		t.Fatalf("ConnectionEstablished() error = %v", err)
	}
	mustFeed(t, s, frame.TypeRPY, 0, 0, management.NewGreeting("urn:test").Message())
	if s.State() != StateAlive {
		t.Fatalf("State() = %v, want Alive", s.State())
	}
	stream.take()
	h.take()
	return s, stream, h
}

// openPeerChannel lets the peer start channel n and returns its handler.
func openPeerChannel(t *testing.T, s *Session, stream *fakeStream, h *testHandler, n, msgno uint32) *testChannelHandler {
	t.Helper()
	ch := &testChannelHandler{}
	h.onStartReq = func(req StartChannelRequest) {
		req.SelectProfile(req.Profiles()[0], ch)
	}
	mustFeed(t, s, frame.TypeMSG, 0, msgno, management.NewStart(n, "urn:test").Message())
	sent := stream.take()
	if len(sent) != 1 || sent[0].typ != frame.TypeRPY {
		t.Fatalf("start reply = %+v, want one RPY", sent)
	}
	h.take()
	ch.take()
	return ch
}

func body(s string) *message.Message {
	return message.New("", []byte(s))
}
