package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const writeTimeout = time.Second * 10

// ErrMalformed is returned by ReadMessage for a frame that is not valid JSON-RPC. The stream
// itself is still usable.
var ErrMalformed = errors.New("malformed message")

// Conn frames JSON-RPC messages as one JSON document per line over a stream connection. It is
// used by both ends: Client wraps one, and the mock service in this module serves them.
//
// ReadMessage must only be called from one goroutine; WriteMessage may be called concurrently.
type Conn struct {
	raw       net.Conn
	reader    *bufio.Reader
	writeLock sync.Mutex
}

func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw, reader: bufio.NewReader(raw)}
}

func (c *Conn) ReadMessage() (Message, error) {
	for {
		line, err := c.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return Message{}, err
			}
			continue
		}
		var m Message
		if jsonErr := json.Unmarshal(line, &m); jsonErr != nil {
			return Message{}, fmt.Errorf("%w: %s", ErrMalformed, jsonErr)
		}
		return m, nil
	}
}

func (c *Conn) WriteMessage(m Message) error {
	if m.Version == "" {
		m.Version = protocolVersion
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	_ = c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = c.raw.Write(data)
	return err
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *Conn) Close() error {
	return c.raw.Close()
}
