package stream

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns one element per Read call.
type chunkReader struct {
	parts [][]byte
	err   error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.parts) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.parts[0])
	r.parts = r.parts[1:]
	return n, nil
}

func chunks(parts ...string) *chunkReader {
	r := &chunkReader{}
	for _, p := range parts {
		r.parts = append(r.parts, []byte(p))
	}
	return r
}

func TestConsumeAccumulatesChunks(t *testing.T) {
	var seen []string
	var accs []string
	acc, err := NewDecoder(chunks("Hel", "lo", " world")).Consume(func(chunk, accumulated string) {
		seen = append(seen, chunk)
		accs = append(accs, accumulated)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", acc)
	assert.Equal(t, []string{"Hel", "lo", " world"}, seen)
	assert.Equal(t, []string{"Hel", "Hello", "Hello world"}, accs)
}

func TestSplitMultiByteCharacter(t *testing.T) {
	// "é" is 0xC3 0xA9; split it across two reads.
	r := &chunkReader{parts: [][]byte{[]byte("caf\xc3"), []byte("\xa9!")}}

	var seen []string
	acc, err := NewDecoder(r).Consume(func(chunk, _ string) {
		seen = append(seen, chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, "café!", acc)
	assert.Equal(t, []string{"caf", "é!"}, seen)
}

func TestInBandError(t *testing.T) {
	dec := NewDecoder(chunks("partial ", "ERROR: model overloaded  "))

	acc, err := dec.Consume(nil)
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "model overloaded", serr.Message)
	assert.Equal(t, "partial ", acc)

	_, again := dec.Next()
	assert.Same(t, err, again)
}

func TestInBandErrorWithoutMessage(t *testing.T) {
	_, err := NewDecoder(chunks("ERROR:   ")).Consume(nil)
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "Streaming error occurred", serr.Message)
}

func TestErrorPrefixOnlyAtChunkStart(t *testing.T) {
	acc, err := NewDecoder(chunks("the word ERROR: appears mid chunk")).Consume(nil)
	require.NoError(t, err)
	assert.Equal(t, "the word ERROR: appears mid chunk", acc)
}

func TestEmptyBody(t *testing.T) {
	acc, err := NewDecoder(chunks()).Consume(nil)
	require.NoError(t, err)
	assert.Equal(t, "", acc)
}

func TestReadErrorKeepsPartialContent(t *testing.T) {
	boom := errors.New("connection reset")
	r := &chunkReader{parts: [][]byte{[]byte("abc")}, err: boom}

	acc, err := NewDecoder(r).Consume(nil)
	assert.Equal(t, "abc", acc)
	assert.ErrorIs(t, err, boom)
}

func TestOneByteReads(t *testing.T) {
	dec := NewDecoder(iotest.OneByteReader(strings.NewReader("日本語")))
	acc, err := dec.Consume(nil)
	require.NoError(t, err)
	assert.Equal(t, "日本語", acc)
}
