// Package stream decodes the chunked plain-text reply body of the chat
// streaming endpoints.
package stream

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// ErrorPrefix marks an in-band server error. Any chunk starting with it
	// ends the stream.
	ErrorPrefix = "ERROR:"

	defaultErrorMessage = "Streaming error occurred"
	readBufferSize      = 4096
)

// Error is an in-band error reported by the server inside the stream body.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Decoder turns a byte stream into text chunks. A multi-byte UTF-8 sequence
// split across reads is held back until it is complete, so chunks never
// contain a broken character. Each underlying read produces at most one chunk.
type Decoder struct {
	r   io.Reader
	buf []byte
	acc strings.Builder
	err error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   transform.NewReader(r, unicode.UTF8.NewDecoder()),
		buf: make([]byte, readBufferSize),
	}
}

// Next returns the next non-empty chunk. It returns io.EOF at the end of the
// body, *Error for an in-band error chunk, and the read error otherwise. Once
// an error has been returned every later call returns it again.
func (d *Decoder) Next() (string, error) {
	if d.err != nil {
		return "", d.err
	}
	for {
		n, err := d.r.Read(d.buf)
		if n > 0 {
			chunk := string(d.buf[:n])
			if strings.HasPrefix(chunk, ErrorPrefix) {
				msg := strings.TrimSpace(strings.TrimPrefix(chunk, ErrorPrefix))
				if msg == "" {
					msg = defaultErrorMessage
				}
				d.err = &Error{Message: msg}
				return "", d.err
			}
			d.acc.WriteString(chunk)
			if err != nil {
				d.err = err
			}
			return chunk, nil
		}
		if err != nil {
			d.err = err
			return "", err
		}
	}
}

// Accumulated is the concatenation of every chunk returned so far.
func (d *Decoder) Accumulated() string { return d.acc.String() }

// Consume drains the decoder, calling onChunk for every chunk with the
// accumulated text including that chunk. It returns the accumulated text and
// nil at end of stream, or the text received so far and the error.
func (d *Decoder) Consume(onChunk func(chunk, accumulated string)) (string, error) {
	for {
		chunk, err := d.Next()
		if errors.Is(err, io.EOF) {
			return d.Accumulated(), nil
		}
		if err != nil {
			return d.Accumulated(), err
		}
		if onChunk != nil {
			onChunk(chunk, d.Accumulated())
		}
	}
}
