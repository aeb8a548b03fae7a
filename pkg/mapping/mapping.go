// Package mapping implements the BEEP TCP mapping (RFC 3081): per-channel
// sequence numbers and sliding-window flow control with SEQ frames.
//
// The Mapping owns one Controller per open channel. Outbound messages are
// turned into frames, fragmented to fit the peer's advertised receive window
// and handed to the Transport. Inbound frames are checked against the local
// receive window before processing and acknowledged after.
package mapping

import (
	"sync"

	"github.com/backkem/beep/pkg/frame"
	"github.com/backkem/beep/pkg/message"
	"github.com/pion/logging"
)

// DefaultWindowSize is the initial window of every channel (RFC 3081 Section 3.1.1).
const DefaultWindowSize uint32 = 4096

// Transport is the byte sink under the mapping.
type Transport interface {
	// SendBytes writes b to the peer. It must not block on network I/O.
	SendBytes(b []byte) error

	// CloseTransport closes the underlying connection.
	CloseTransport() error
}

// Config configures a Mapping.
type Config struct {
	// Transport receives encoded frames. Required.
	Transport Transport

	// WindowSize is the receive window advertised for every channel.
	// Values below DefaultWindowSize are raised to DefaultWindowSize, since a
	// window can never shrink below the initial one.
	// Default: DefaultWindowSize
	WindowSize uint32

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Mapping is the channel registry of the TCP mapping.
type Mapping struct {
	transport  Transport
	windowSize uint32
	log        logging.LeveledLogger

	mu          sync.Mutex
	controllers map[uint32]*Controller
	closed      bool
}

// New creates a Mapping.
func New(config Config) (*Mapping, error) {
	if config.Transport == nil {
		return nil, ErrNoTransport
	}

	windowSize := config.WindowSize
	if windowSize < DefaultWindowSize {
		windowSize = DefaultWindowSize
	}
	if windowSize > frame.MaxSize {
		windowSize = frame.MaxSize
	}

	m := &Mapping{
		transport:   config.Transport,
		windowSize:  windowSize,
		controllers: make(map[uint32]*Controller),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("beep-mapping")
	}
	return m, nil
}

// WindowSize returns the configured receive window size.
func (m *Mapping) WindowSize() uint32 {
	return m.windowSize
}

// ChannelStarted creates the controller of a newly opened channel.
func (m *Mapping) ChannelStarted(channel uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.controllers[channel]; ok {
		return ErrChannelExists
	}
	m.controllers[channel] = newController(channel, m.transport, m.windowSize, m.log)
	if m.log != nil {
		m.log.Debugf("channel %d started", channel)
	}
	return nil
}

// ChannelClosed drops the controller of a closed channel.
func (m *Mapping) ChannelClosed(channel uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.controllers, channel)
	if m.log != nil {
		m.log.Debugf("channel %d closed", channel)
	}
}

// Controller returns the controller of channel. An unknown channel is a
// protocol violation.
func (m *Mapping) Controller(channel uint32) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.controllers[channel]
	if !ok {
		return nil, frame.Violation(ErrUnknownChannel, "channel %d", channel)
	}
	return c, nil
}

// CheckFrame validates an inbound frame against its channel's receive window.
func (m *Mapping) CheckFrame(f *frame.Frame) error {
	c, err := m.Controller(f.Channel)
	if err != nil {
		return err
	}
	return c.CheckFrame(f.Seqno, f.Size())
}

// FrameReceived acknowledges a processed inbound frame. Frames of a channel
// closed while the frame was processed are ignored.
func (m *Mapping) FrameReceived(f *frame.Frame) error {
	m.mu.Lock()
	c, ok := m.controllers[f.Channel]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return c.FrameReceived(f.Seqno, f.Size())
}

// Queued returns the number of outbound frames of channel waiting for
// window space. An unknown channel has none.
func (m *Mapping) Queued(channel uint32) int {
	m.mu.Lock()
	c, ok := m.controllers[channel]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Queued()
}

// ProcessSEQ applies a window advertisement from the peer.
func (m *Mapping) ProcessSEQ(seq *frame.SEQ) error {
	c, err := m.Controller(seq.Channel)
	if err != nil {
		return err
	}
	return c.UpdateSendWindow(seq.Ackno, seq.Window)
}

// SendMSG sends a request on channel.
func (m *Mapping) SendMSG(channel, msgno uint32, msg *message.Message) error {
	c, err := m.sender(channel)
	if err != nil {
		return err
	}
	return c.SendMSG(msgno, msg)
}

// SendRPY sends a positive reply on channel.
func (m *Mapping) SendRPY(channel, msgno uint32, msg *message.Message) error {
	c, err := m.sender(channel)
	if err != nil {
		return err
	}
	return c.SendRPY(msgno, msg)
}

// SendERR sends a negative reply on channel.
func (m *Mapping) SendERR(channel, msgno uint32, msg *message.Message) error {
	c, err := m.sender(channel)
	if err != nil {
		return err
	}
	return c.SendERR(msgno, msg)
}

// SendANS sends one answer on channel.
func (m *Mapping) SendANS(channel, msgno, ansno uint32, msg *message.Message) error {
	c, err := m.sender(channel)
	if err != nil {
		return err
	}
	return c.SendANS(msgno, ansno, msg)
}

// SendNUL terminates a series of answers on channel.
func (m *Mapping) SendNUL(channel, msgno uint32) error {
	c, err := m.sender(channel)
	if err != nil {
		return err
	}
	return c.SendNUL(msgno)
}

// CloseTransport closes the transport. Later sends fail with ErrClosed.
func (m *Mapping) CloseTransport() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.log != nil {
		m.log.Debug("closing transport")
	}
	return m.transport.CloseTransport()
}

// Closed returns true once CloseTransport was called.
func (m *Mapping) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mapping) sender(channel uint32) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	c, ok := m.controllers[channel]
	if !ok {
		return nil, ErrUnknownChannel
	}
	return c, nil
}
