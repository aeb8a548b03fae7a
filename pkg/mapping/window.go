package mapping

import (
	"fmt"
)

// Window is a sliding window over the 32-bit sequence number space
// (RFC 3081 Section 3.1). Position lies in [Start, Start+Size] modulo 2^32.
//
// All comparisons are made on offsets relative to Start, so a window that
// straddles the wraparound point behaves like any other.
type Window struct {
	start    uint32
	position uint32
	size     uint32
}

// NewWindow creates a window at start with the cursor at start.
func NewWindow(start, size uint32) *Window {
	return &Window{
		start:    start,
		position: start,
		size:     size,
	}
}

// Start returns the lower window edge.
func (w *Window) Start() uint32 { return w.start }

// Position returns the cursor.
func (w *Window) Position() uint32 { return w.position }

// Size returns the window size.
func (w *Window) Size() uint32 { return w.size }

// End returns the right window edge, Start+Size modulo 2^32.
func (w *Window) End() uint32 { return w.start + w.size }

// Remaining returns the number of octets between the cursor and the right edge.
func (w *Window) Remaining() uint32 {
	return w.size - w.offset()
}

// Slide rebases the window to newStart with newSize. The new start must lie
// between the current start and the cursor, and the right edge must not move
// to the left.
func (w *Window) Slide(newStart, newSize uint32) error {
	startOff := newStart - w.start
	if startOff > w.offset() {
		return fmt.Errorf("%w: new start %d not between start %d and position %d",
			ErrWindowViolation, newStart, w.start, w.position)
	}
	if uint64(startOff)+uint64(newSize) < uint64(w.size) {
		return fmt.Errorf("%w: right edge %d would move left of %d",
			ErrWindowViolation, newStart+newSize, w.End())
	}

	w.start = newStart
	w.size = newSize
	return nil
}

// MoveBy advances the cursor by n octets. It fails if the cursor would pass
// the right edge.
func (w *Window) MoveBy(n uint32) error {
	if uint64(w.offset())+uint64(n) > uint64(w.size) {
		return fmt.Errorf("%w: cannot move position %d by %d beyond end %d",
			ErrWindowViolation, w.position, n, w.End())
	}
	w.position += n
	return nil
}

// String implements fmt.Stringer.
func (w *Window) String() string {
	return fmt.Sprintf("[start=%d,position=%d,size=%d]", w.start, w.position, w.size)
}

// offset is the distance of the cursor from the start, modulo 2^32.
func (w *Window) offset() uint32 {
	return w.position - w.start
}
