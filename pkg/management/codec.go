// Package management implements the XML messages of the BEEP channel
// management profile, which runs on channel 0 (RFC 3080 Section 2.3).
//
// Requests are <start> and <close>; replies are <greeting>, <profile>,
// <ok> and <error>. All are carried as application/beep+xml.
package management

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"mime"
	"strings"

	"github.com/backkem/beep/pkg/message"
)

// Profile names a profile by URI, optionally with piggybacked content.
type Profile struct {
	XMLName  xml.Name `xml:"profile"`
	URI      string   `xml:"uri,attr"`
	Encoding string   `xml:"encoding,attr,omitempty"`
	Content  string   `xml:",chardata"`
}

// Greeting is the first reply on channel 0, listing the profiles the sender
// is willing to start.
type Greeting struct {
	XMLName  xml.Name  `xml:"greeting"`
	Features string    `xml:"features,attr,omitempty"`
	Localize string    `xml:"localize,attr,omitempty"`
	Profiles []Profile `xml:"profile"`
}

// ProfileURIs returns the URIs advertised by the greeting.
func (g *Greeting) ProfileURIs() []string {
	uris := make([]string, 0, len(g.Profiles))
	for _, p := range g.Profiles {
		uris = append(uris, p.URI)
	}
	return uris
}

// Start requests a new channel with one of the listed profiles.
type Start struct {
	XMLName    xml.Name  `xml:"start"`
	Number     uint32    `xml:"number,attr"`
	ServerName string    `xml:"serverName,attr,omitempty"`
	Profiles   []Profile `xml:"profile"`
}

// Close requests to close a channel, or the session when Number is 0.
type Close struct {
	XMLName xml.Name  `xml:"close"`
	Number  uint32    `xml:"number,attr"`
	Code    ReplyCode `xml:"code,attr"`
	Text    string    `xml:",chardata"`
}

// OK is the positive reply to a close request.
type OK struct {
	XMLName xml.Name `xml:"ok"`
}

// Error is a negative reply.
type Error struct {
	XMLName xml.Name  `xml:"error"`
	Code    ReplyCode `xml:"code,attr"`
	Text    string    `xml:",chardata"`
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("beep error %d: %s", int(e.Code), e.Text)
}

// Request is a message received as MSG on channel 0.
type Request interface {
	isRequest()
}

func (*Start) isRequest() {}
func (*Close) isRequest() {}

// NewGreeting creates a greeting advertising uris.
func NewGreeting(uris ...string) *Greeting {
	g := &Greeting{}
	for _, uri := range uris {
		g.Profiles = append(g.Profiles, Profile{URI: uri})
	}
	return g
}

// NewStart creates a start request for channel offering uris.
func NewStart(channel uint32, uris ...string) *Start {
	s := &Start{Number: channel}
	for _, uri := range uris {
		s.Profiles = append(s.Profiles, Profile{URI: uri})
	}
	return s
}

// Message encodes the greeting.
func (g *Greeting) Message() *message.Message { return encode(g) }

// Message encodes the profile reply.
func (p *Profile) Message() *message.Message { return encode(p) }

// Message encodes the start request.
func (s *Start) Message() *message.Message { return encode(s) }

// Message encodes the close request.
func (c *Close) Message() *message.Message { return encode(c) }

// Message encodes the ok reply.
func (o *OK) Message() *message.Message { return encode(o) }

// Message encodes the error reply.
func (e *Error) Message() *message.Message { return encode(e) }

// encode marshals v. The element types of this package always marshal.
func encode(v interface{}) *message.Message {
	b, err := xml.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("management: marshal %T: %v", v, err))
	}
	return message.New(message.ContentTypeXML, b)
}

// ParseRequest decodes a <start> or <close> request.
func ParseRequest(m *message.Message) (Request, error) {
	name, err := rootElement(m)
	if err != nil {
		return nil, err
	}

	switch name {
	case "start":
		s := &Start{}
		if err := decode(m, s); err != nil {
			return nil, err
		}
		if len(s.Profiles) == 0 {
			return nil, ErrNoProfiles
		}
		return s, nil
	case "close":
		c := &Close{}
		if err := decode(m, c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: <%s> is not a request", ErrUnexpectedElement, name)
	}
}

// ParseGreeting decodes a <greeting>.
func ParseGreeting(m *message.Message) (*Greeting, error) {
	g := &Greeting{}
	if err := expect(m, "greeting", g); err != nil {
		return nil, err
	}
	return g, nil
}

// ParseError decodes an <error>.
func ParseError(m *message.Message) (*Error, error) {
	e := &Error{}
	if err := expect(m, "error", e); err != nil {
		return nil, err
	}
	return e, nil
}

// ParseProfile decodes a <profile> reply to a start request.
func ParseProfile(m *message.Message) (*Profile, error) {
	p := &Profile{}
	if err := expect(m, "profile", p); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseOK decodes an <ok> reply to a close request.
func ParseOK(m *message.Message) error {
	return expect(m, "ok", &OK{})
}

func expect(m *message.Message, want string, v interface{}) error {
	name, err := rootElement(m)
	if err != nil {
		return err
	}
	if name != want {
		return fmt.Errorf("%w: got <%s>, want <%s>", ErrUnexpectedElement, name, want)
	}
	return decode(m, v)
}

func decode(m *message.Message, v interface{}) error {
	if err := xml.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// rootElement checks the content type and returns the local name of the
// document element.
func rootElement(m *message.Message) (string, error) {
	mediaType, _, err := mime.ParseMediaType(m.ContentType())
	if err != nil || !strings.EqualFold(mediaType, message.ContentTypeXML) {
		return "", fmt.Errorf("%w: %q", ErrContentType, m.ContentType())
	}

	d := xml.NewDecoder(bytes.NewReader(m.Body))
	for {
		tok, err := d.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}
