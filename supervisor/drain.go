package supervisor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jsonrpc-itest/auth-contract-tests/logging"
)

// ErrDrainTimeout is returned by OutputDrain.Wait when the stream has not ended in time.
var ErrDrainTimeout = errors.New("output drain did not finish")

// OutputDrain consumes one output stream of a child process until end of stream, writing each
// decoded line followed by "\n" to a sink in a single write.
//
// A drain never stops early: sink write failures are logged once and the stream keeps being
// read, so that the writer on the other end of the pipe is never blocked by us.
type OutputDrain struct {
	name      string
	source    io.Reader
	sink      io.Writer
	decode    LineDecoder
	logger    logging.Logger
	lines     int64
	startOnce sync.Once
	done      chan struct{}
	err       error
}

// NewOutputDrain creates a drain; it does nothing until Start is called.
func NewOutputDrain(name string, source io.Reader, sink io.Writer, decode LineDecoder, logger logging.Logger) *OutputDrain {
	if decode == nil {
		decode = decodeUTF8
	}
	if logger == nil {
		logger = logging.NullLogger()
	}
	return &OutputDrain{
		name:   name,
		source: source,
		sink:   sink,
		decode: decode,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins draining on a new goroutine. Calling it again has no effect.
func (d *OutputDrain) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Done returns a channel that is closed when the stream has reached its end.
func (d *OutputDrain) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the stream has reached its end, or the timeout elapses.
func (d *OutputDrain) Wait(timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-d.done:
		return nil
	case <-deadline.C:
		return fmt.Errorf("%w: %s", ErrDrainTimeout, d.name)
	}
}

// Lines returns the number of lines consumed so far.
func (d *OutputDrain) Lines() int {
	return int(atomic.LoadInt64(&d.lines))
}

// Err returns the read error that ended the stream, if it was anything other than a normal
// end of stream. It is only meaningful after Done is closed.
func (d *OutputDrain) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

func (d *OutputDrain) run() {
	defer close(d.done)
	reader := bufio.NewReader(d.source)
	sinkFailed := false
	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) > 0 {
			raw = bytes.TrimRight(raw, "\r\n")
			line := append([]byte(d.decode(raw)), '\n')
			if _, werr := d.sink.Write(line); werr != nil && !sinkFailed {
				sinkFailed = true
				d.logger.Printf("Cannot write %s output: %s", d.name, werr)
			}
			atomic.AddInt64(&d.lines, 1)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				d.err = err
				d.logger.Printf("Reading %s output failed: %s", d.name, err)
			}
			return
		}
	}
}
