package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// DefaultReadBufferSize is the bufio buffer size of a Reader.
const DefaultReadBufferSize = 4096

// Reader decodes frames and SEQ advertisements from a byte stream.
// It is not safe for concurrent use.
type Reader struct {
	br *bufio.Reader

	// MaxPayload bounds the payload size accepted in a single frame.
	// Zero means MaxSize.
	MaxPayload int
}

// NewReader creates a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		br: bufio.NewReaderSize(r, DefaultReadBufferSize),
	}
}

// Next reads the next item from the stream. On success exactly one of the
// returned frame and SEQ is non-nil.
//
// io.EOF is returned only at an item boundary; a stream that ends within an
// item yields io.ErrUnexpectedEOF. Malformed input yields a *ProtocolError.
func (r *Reader) Next() (*Frame, *SEQ, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, nil, err
	}

	fields := bytes.Split(line, []byte{' '})
	typ := ParseMessageType(string(fields[0]))
	switch typ {
	case TypeUnknown:
		return nil, nil, Violation(ErrUnknownKeyword, "%q", truncate(fields[0]))
	case TypeSEQ:
		seq, err := parseSEQ(fields)
		if err != nil {
			return nil, nil, err
		}
		return nil, seq, nil
	}

	f, size, err := parseHeader(typ, fields)
	if err != nil {
		return nil, nil, err
	}

	limit := r.MaxPayload
	if limit <= 0 {
		limit = MaxSize
	}
	if size > limit {
		return nil, nil, Violation(ErrValueOutOfRange, "frame size %d exceeds %d", size, limit)
	}

	f.Payload = make([]byte, size)
	if _, err := io.ReadFull(r.br, f.Payload); err != nil {
		return nil, nil, unexpected(err)
	}

	var trailer [len(Trailer)]byte
	if _, err := io.ReadFull(r.br, trailer[:]); err != nil {
		return nil, nil, unexpected(err)
	}
	if string(trailer[:]) != Trailer {
		return nil, nil, Violation(ErrMissingTrailer, "%s", f.HeaderString())
	}

	return f, nil, nil
}

// readLine returns the next CRLF-terminated line without the CRLF.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, Violation(ErrHeaderTooLong, "more than %d octets", MaxHeaderLength)
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if len(line) > MaxHeaderLength {
		return nil, Violation(ErrHeaderTooLong, "%d octets", len(line))
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, Violation(ErrMalformedHeader, "header not terminated by CRLF")
	}
	return line[:len(line)-2], nil
}

func parseHeader(typ MessageType, fields [][]byte) (*Frame, int, error) {
	want := 6
	if typ == TypeANS {
		want = 7
	}
	if len(fields) != want {
		return nil, 0, Violation(ErrMalformedHeader, "%s header has %d fields, want %d", typ, len(fields), want)
	}

	f := &Frame{Type: typ}
	var err error

	if f.Channel, err = parseNumber(fields[1], MaxNumber); err != nil {
		return nil, 0, err
	}
	if f.MessageNumber, err = parseNumber(fields[2], MaxNumber); err != nil {
		return nil, 0, err
	}

	switch string(fields[3]) {
	case ".":
		f.Intermediate = false
	case "*":
		f.Intermediate = true
	default:
		return nil, 0, Violation(ErrMalformedHeader, "continuation indicator %q", truncate(fields[3]))
	}

	if f.Seqno, err = parseNumber(fields[4], MaxSeqno); err != nil {
		return nil, 0, err
	}
	size, err := parseNumber(fields[5], MaxSize)
	if err != nil {
		return nil, 0, err
	}
	if typ == TypeANS {
		if f.AnswerNumber, err = parseNumber(fields[6], MaxNumber); err != nil {
			return nil, 0, err
		}
	}

	return f, int(size), nil
}

func parseSEQ(fields [][]byte) (*SEQ, error) {
	if len(fields) != 4 {
		return nil, Violation(ErrMalformedHeader, "SEQ header has %d fields, want 4", len(fields))
	}

	seq := &SEQ{}
	var err error
	if seq.Channel, err = parseNumber(fields[1], MaxNumber); err != nil {
		return nil, err
	}
	if seq.Ackno, err = parseNumber(fields[2], MaxSeqno); err != nil {
		return nil, err
	}
	if seq.Window, err = parseNumber(fields[3], MaxSize); err != nil {
		return nil, err
	}
	return seq, nil
}

// parseNumber parses an unsigned decimal header value bounded by limit.
func parseNumber(b []byte, limit uint64) (uint32, error) {
	if len(b) == 0 {
		return 0, Violation(ErrMalformedHeader, "empty header field")
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, Violation(ErrMalformedHeader, "non-numeric header field %q", truncate(b))
		}
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil || v > limit {
		return 0, Violation(ErrValueOutOfRange, "%q exceeds %d", truncate(b), limit)
	}
	return uint32(v), nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func truncate(b []byte) string {
	if len(b) > 16 {
		return string(b[:16]) + "..."
	}
	return string(b)
}
