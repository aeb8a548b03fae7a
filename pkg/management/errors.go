package management

import "errors"

// Management codec errors.
var (
	// ErrContentType is returned for management messages that are not
	// application/beep+xml.
	ErrContentType = errors.New("management: unexpected content type")

	// ErrMalformed is returned when a management message is not well-formed XML.
	ErrMalformed = errors.New("management: malformed message")

	// ErrUnexpectedElement is returned when the root element does not match
	// the expected message.
	ErrUnexpectedElement = errors.New("management: unexpected element")

	// ErrNoProfiles is returned for a start request without profiles.
	ErrNoProfiles = errors.New("management: start request without profiles")
)
