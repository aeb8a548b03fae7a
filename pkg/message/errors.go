package message

import "errors"

// Message layer errors.
var (
	// ErrMalformedMessage is returned when a payload is not a MIME entity.
	ErrMalformedMessage = errors.New("message: malformed MIME entity")

	// ErrNoFrames is returned when assembling a message from zero frames.
	ErrNoFrames = errors.New("message: no frames to assemble")

	// ErrNotDataFrame is returned when a SEQ or unknown frame is added.
	ErrNotDataFrame = errors.New("message: not a data frame")
)
