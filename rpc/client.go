package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/jsonrpc-itest/auth-contract-tests/logging"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"
)

const notificationQueueSize = 1000

var (
	// ErrConnect wraps every failure to establish a connection, including a rejected handshake.
	ErrConnect = errors.New("could not connect to service")

	// ErrClosed is returned by calls made on, or interrupted by, a closed connection.
	ErrClosed = errors.New("connection closed")
)

// NotificationHandler receives a notification's method name and its undecoded params.
type NotificationHandler func(method string, params json.RawMessage)

// Option configures a Client created by Dial.
type Option func(*Client)

// WithLogger makes the client log every frame it sends or receives.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is one JSON-RPC channel to the service.
//
// Each Client has a reader goroutine and a notification dispatch goroutine. Notifications are
// passed to handlers on the dispatch goroutine, one at a time and in arrival order, so a
// handler that blocks delays later notifications on the same Client but nothing else.
type Client struct {
	conn          *Conn
	addr          string
	logger        logging.Logger
	nextID        uint64
	pending       map[uint64]chan Message
	handlers      map[string]NotificationHandler
	lock          sync.Mutex
	notifications chan Message
	closed        chan struct{}
	closeOnce     sync.Once
	closeErr      error
	dispatchDone  chan struct{}
}

// Dial connects to addr and performs the handshake. If the handshake is rejected, the
// connection is closed and the returned error wraps both ErrConnect and the remote error.
func Dial(ctx context.Context, addr string, handshake servicedef.HandshakeParams, options ...Option) (*Client, error) {
	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %w", ErrConnect, addr, err)
	}
	c := newClient(NewConn(raw), addr, options...)
	if _, err := c.Call(ctx, servicedef.MethodHandshake, handshake); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w at %s: handshake failed: %w", ErrConnect, addr, err)
	}
	return c, nil
}

func newClient(conn *Conn, addr string, options ...Option) *Client {
	c := &Client{
		conn:          conn,
		addr:          addr,
		logger:        logging.NullLogger(),
		pending:       make(map[uint64]chan Message),
		handlers:      make(map[string]NotificationHandler),
		notifications: make(chan Message, notificationQueueSize),
		closed:        make(chan struct{}),
		dispatchDone:  make(chan struct{}),
	}
	for _, o := range options {
		o(c)
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c
}

// Addr returns the address this client is connected to.
func (c *Client) Addr() string {
	return c.addr
}

// Call invokes a method with positional arguments and returns the raw result. If the service
// rejects the call, the error is a *CallError carrying the service's code unchanged.
func (c *Client) Call(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	params, err := marshalParams(args)
	if err != nil {
		return nil, fmt.Errorf("cannot encode parameters for %s: %w", method, err)
	}

	id := atomic.AddUint64(&c.nextID, 1)
	ch := make(chan Message, 1)
	c.lock.Lock()
	select {
	case <-c.closed:
		c.lock.Unlock()
		return nil, c.closedError()
	default:
	}
	c.pending[id] = ch
	c.lock.Unlock()
	defer func() {
		c.lock.Lock()
		delete(c.pending, id)
		c.lock.Unlock()
	}()

	c.logger.Printf(">> [%d] %s %s", id, method, string(params))
	if err := c.conn.WriteMessage(Message{ID: &id, Method: method, Params: params}); err != nil {
		c.shutdown(err)
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	}

	select {
	case resp := <-ch:
		return c.result(resp)
	case <-c.closed:
		select {
		case resp := <-ch:
			return c.result(resp)
		default:
			return nil, c.closedError()
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// CallFor is like Call, but decodes the result into out.
func (c *Client) CallFor(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	raw, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unexpected result from %s: %s", method, string(raw))
	}
	return nil
}

func (c *Client) result(resp Message) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// HandleNotification sets the handler for one notification method, replacing any previous
// handler for it. A nil handler removes it. Notifications with no handler are logged and
// discarded.
func (c *Client) HandleNotification(method string, handler NotificationHandler) {
	c.lock.Lock()
	if handler == nil {
		delete(c.handlers, method)
	} else {
		c.handlers[method] = handler
	}
	c.lock.Unlock()
}

// Close closes the connection. Calls in progress fail with ErrClosed. It is safe to call more
// than once.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

// Done returns a channel that is closed when the connection has been closed by either side.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Err returns the reason the connection was closed, or nil if it is still open.
func (c *Client) Err() error {
	select {
	case <-c.closed:
		return c.closedError()
	default:
		return nil
	}
}

func (c *Client) closedError() error {
	c.lock.Lock()
	reason := c.closeErr
	c.lock.Unlock()
	if reason == nil || errors.Is(reason, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, reason)
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.lock.Lock()
		c.closeErr = reason
		close(c.closed)
		c.lock.Unlock()
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	for {
		m, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				c.logger.Printf("Ignoring %s", err)
				continue
			}
			c.shutdown(err)
			return
		}
		switch {
		case m.IsResponse():
			c.lock.Lock()
			ch := c.pending[*m.ID]
			c.lock.Unlock()
			if ch == nil {
				c.logger.Printf("Received response to unknown request %d", *m.ID)
				continue
			}
			if m.Error != nil {
				c.logger.Printf("<< [%d] error %d: %s", *m.ID, m.Error.Code, m.Error.Message)
			} else {
				c.logger.Printf("<< [%d] %s", *m.ID, string(m.Result))
			}
			ch <- m
		case m.IsNotification():
			c.logger.Printf("<< notification %s %s", m.Method, string(m.Params))
			select {
			case c.notifications <- m:
			case <-c.closed:
				return
			}
		default:
			c.logger.Printf("Ignoring unexpected message with method %q", m.Method)
		}
	}
}

func (c *Client) dispatchLoop() {
	defer close(c.dispatchDone)
	for {
		select {
		case m := <-c.notifications:
			c.dispatch(m)
		case <-c.closed:
			// deliver whatever had already arrived before the connection went away
			for {
				select {
				case m := <-c.notifications:
					c.dispatch(m)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) dispatch(m Message) {
	c.lock.Lock()
	handler := c.handlers[m.Method]
	c.lock.Unlock()
	if handler == nil {
		c.logger.Printf("No handler for notification %s", m.Method)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("Notification handler for %s panicked: %v", m.Method, r)
		}
	}()
	handler(m.Method, m.Params)
}
