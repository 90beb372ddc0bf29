package supervisor

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jsonrpc-itest/auth-contract-tests/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	buf  bytes.Buffer
	lock sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestDrainCopiesLinesUntilEOF(t *testing.T) {
	pr, pw := io.Pipe()
	sink := &lockedBuffer{}
	d := NewOutputDrain("stdout", pr, sink, nil, nil)
	d.Start()

	_, _ = pw.Write([]byte("first\nsecond\r\nthi"))
	select {
	case <-d.Done():
		require.Fail(t, "drain finished before end of stream")
	case <-time.After(time.Millisecond * 50):
	}

	_, _ = pw.Write([]byte("rd"))
	require.NoError(t, pw.Close())
	require.NoError(t, d.Wait(time.Second*5))

	assert.Equal(t, "first\nsecond\nthird\n", sink.String())
	assert.Equal(t, 3, d.Lines())
	assert.NoError(t, d.Err())
}

func TestDrainKeepsReadingWhenSinkFails(t *testing.T) {
	var input strings.Builder
	for i := 0; i < 1000; i++ {
		input.WriteString("some output line\n")
	}
	capture := logging.CapturingLogger{}
	d := NewOutputDrain("stderr", strings.NewReader(input.String()), failingWriter{}, nil, &capture)
	d.Start()
	require.NoError(t, d.Wait(time.Second*5))

	assert.Equal(t, 1000, d.Lines())
	assert.Len(t, capture.Output(), 1)
}

func TestDrainWaitTimesOut(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	d := NewOutputDrain("stdout", pr, io.Discard, nil, nil)
	d.Start()
	assert.ErrorIs(t, d.Wait(time.Millisecond*20), ErrDrainTimeout)
}

func TestDrainReportsReadError(t *testing.T) {
	pr, pw := io.Pipe()
	d := NewOutputDrain("stdout", pr, io.Discard, nil, nil)
	d.Start()
	_ = pw.CloseWithError(errors.New("broken"))
	require.NoError(t, d.Wait(time.Second*5))
	assert.EqualError(t, d.Err(), "broken")
}

func TestLineDecoders(t *testing.T) {
	utf8Decoder, err := NewLineDecoder("")
	require.NoError(t, err)
	assert.Equal(t, "héllo", utf8Decoder([]byte("héllo")))
	assert.Equal(t, "a�b", utf8Decoder([]byte{'a', 0xff, 'b'}))

	cp866, err := NewLineDecoder("CP866")
	require.NoError(t, err)
	// "Привет" in code page 866
	assert.Equal(t, "Привет", cp866([]byte{0x8f, 0xe0, 0xa8, 0xa2, 0xa5, 0xe2}))

	cp1251, err := NewLineDecoder("windows-1251")
	require.NoError(t, err)
	assert.Equal(t, "Привет", cp1251([]byte{0xcf, 0xf0, 0xe8, 0xe2, 0xe5, 0xf2}))

	_, err = NewLineDecoder("ebcdic")
	assert.Error(t, err)
}
