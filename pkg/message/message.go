// Package message implements BEEP messages and their reassembly from frames.
//
// A message payload is a MIME entity: zero or more header lines, an empty
// line and the body (RFC 3080 Section 2.2.2). When no Content-Type header is
// present the entity defaults to application/octet-stream with binary
// transfer encoding.
package message

import (
	"bufio"
	"bytes"
	"net/textproto"
	"sort"
)

// Default entity header values (RFC 3080 Section 2.2.2).
const (
	DefaultContentType      = "application/octet-stream"
	DefaultTransferEncoding = "binary"

	// ContentTypeXML is the content type of channel management messages.
	ContentTypeXML = "application/beep+xml"
)

// Header names with special meaning.
const (
	HeaderContentType      = "Content-Type"
	HeaderTransferEncoding = "Content-Transfer-Encoding"
)

var crlf = []byte("\r\n")

// Message is a complete BEEP message: MIME entity headers plus body.
type Message struct {
	Header textproto.MIMEHeader
	Body   []byte
}

// New creates a message with the given content type and body.
// An empty content type leaves the header empty (the default type applies).
func New(contentType string, body []byte) *Message {
	m := &Message{
		Header: make(textproto.MIMEHeader),
		Body:   body,
	}
	if contentType != "" && contentType != DefaultContentType {
		m.Header.Set(HeaderContentType, contentType)
	}
	return m
}

// ContentType returns the Content-Type header or the default.
func (m *Message) ContentType() string {
	if ct := m.Header.Get(HeaderContentType); ct != "" {
		return ct
	}
	return DefaultContentType
}

// TransferEncoding returns the Content-Transfer-Encoding header or the default.
func (m *Message) TransferEncoding() string {
	if te := m.Header.Get(HeaderTransferEncoding); te != "" {
		return te
	}
	return DefaultTransferEncoding
}

// Bytes encodes the message as a MIME entity. Header keys are written in
// sorted order so that the encoding is deterministic.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer

	keys := make([]string, 0, len(m.Header))
	for k := range m.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range m.Header[k] {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.Write(crlf)
		}
	}
	buf.Write(crlf)
	buf.Write(m.Body)
	return buf.Bytes()
}

// Size returns the encoded size of the message.
func (m *Message) Size() int {
	return len(m.Bytes())
}

// Parse decodes a MIME entity.
func Parse(b []byte) (*Message, error) {
	if bytes.HasPrefix(b, crlf) {
		return &Message{
			Header: make(textproto.MIMEHeader),
			Body:   b[len(crlf):],
		}, nil
	}

	end := bytes.Index(b, []byte("\r\n\r\n"))
	if end < 0 {
		return nil, ErrMalformedMessage
	}
	block := b[:end+4]

	tr := textproto.NewReader(bufio.NewReader(bytes.NewReader(block)))
	header, err := tr.ReadMIMEHeader()
	if err != nil {
		return nil, ErrMalformedMessage
	}

	return &Message{
		Header: header,
		Body:   b[end+4:],
	}, nil
}
