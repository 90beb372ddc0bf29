package authtests

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/jsonrpc-itest/auth-contract-tests/logging"
	"github.com/jsonrpc-itest/auth-contract-tests/rpc"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

const (
	defaultServiceHost = "127.0.0.1"
	handshakeHost      = "localhost"
	handshakeUserAgent = "internal"
)

// ConnectionOption configures a Connection created by NewConnection.
type ConnectionOption func(*Connection)

// WithHost sets the host the service listens on. The default is 127.0.0.1.
func WithHost(host string) ConnectionOption {
	return func(c *Connection) {
		if host != "" {
			c.host = host
		}
	}
}

// WithConnectionLogger logs the connection's traffic, prefixed with its session number.
func WithConnectionLogger(logger logging.Logger) ConnectionOption {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logging.WithPrefix(logger, fmt.Sprintf("[%d] ", c.session))
		}
	}
}

// Connection is one authenticated-or-not JSON-RPC channel to the service, identified to the
// service by its session number.
//
// A Connection is created unstarted. Start opens the channel, performs the handshake, and adds
// the Connection to its Registry; Stop closes it and removes it. After Login or Restore the
// Connection remembers the user name and session token it authenticated with.
type Connection struct {
	registry *Registry
	session  int
	host     string
	logger   logging.Logger
	client   *rpc.Client
	name     ldvalue.OptionalString
	token    ldvalue.OptionalString
	stopped  bool
	lock     sync.Mutex
}

// NewConnection creates an unstarted Connection with the given session number.
func NewConnection(registry *Registry, session int, options ...ConnectionOption) *Connection {
	c := &Connection{
		registry: registry,
		session:  session,
		host:     defaultServiceHost,
		logger:   logging.NullLogger(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Session returns the session number sent in the handshake.
func (c *Connection) Session() int {
	return c.session
}

// Name returns the user name the connection authenticated as, if any.
func (c *Connection) Name() ldvalue.OptionalString {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.name
}

// Token returns the session token the connection authenticated with, if any.
func (c *Connection) Token() ldvalue.OptionalString {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.token
}

// Start connects to the service on the given port and performs the handshake. On success the
// Connection is added to its Registry.
func (c *Connection) Start(ctx context.Context, port int) error {
	c.lock.Lock()
	if c.client != nil || c.stopped {
		c.lock.Unlock()
		return fmt.Errorf("connection %d was already started", c.session)
	}
	c.lock.Unlock()

	addr := net.JoinHostPort(c.host, strconv.Itoa(port))
	hs := servicedef.HandshakeParams{ClientID: c.session, Host: handshakeHost, UserAgent: handshakeUserAgent}
	client, err := rpc.Dial(ctx, addr, hs, rpc.WithLogger(c.logger))
	if err != nil {
		return err
	}

	c.lock.Lock()
	c.client = client
	c.lock.Unlock()
	if c.registry != nil {
		c.registry.add(c)
	}
	return nil
}

// Stop closes the channel and removes the Connection from its Registry. It is safe to call more
// than once, and on a Connection that was never started.
func (c *Connection) Stop() error {
	if c.registry != nil {
		c.registry.remove(c)
	}
	return c.close()
}

func (c *Connection) close() error {
	c.lock.Lock()
	client := c.client
	alreadyStopped := c.stopped
	c.stopped = true
	c.lock.Unlock()
	if client == nil || alreadyStopped {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("closing connection %d: %w", c.session, err)
	}
	return nil
}

func (c *Connection) rpcClient() (*rpc.Client, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.client == nil {
		return nil, fmt.Errorf("connection %d: %w", c.session, ErrNotStarted)
	}
	return c.client, nil
}

// Invoke calls a method and returns its raw result. A remote error is returned as an
// *rpc.CallError whose code CodeOf can extract.
func (c *Connection) Invoke(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	client, err := c.rpcClient()
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, method, args...)
}

// InvokeFor calls a method and decodes its result into out.
func (c *Connection) InvokeFor(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	client, err := c.rpcClient()
	if err != nil {
		return err
	}
	return client.CallFor(ctx, out, method, args...)
}

// Login authenticates as the given user, starting a new session group, and returns the session
// token.
func (c *Connection) Login(ctx context.Context, name, password string) (string, error) {
	var token string
	if err := c.InvokeFor(ctx, &token, servicedef.MethodLogin, name, password); err != nil {
		return "", fmt.Errorf("login as %q: %w", name, err)
	}
	c.lock.Lock()
	c.name = ldvalue.NewOptionalString(name)
	c.token = ldvalue.NewOptionalString(token)
	c.lock.Unlock()
	return token, nil
}

// Restore joins the session identified by token, then asks the service who the connection is
// now authenticated as. It returns the token the service reported for the restored session.
func (c *Connection) Restore(ctx context.Context, token string) (string, error) {
	var restored string
	if err := c.InvokeFor(ctx, &restored, servicedef.MethodRestore, token); err != nil {
		return "", fmt.Errorf("restore session: %w", err)
	}
	name, err := c.WhoAmI(ctx)
	if err != nil {
		return "", err
	}
	c.lock.Lock()
	c.name = ldvalue.NewOptionalString(name)
	c.token = ldvalue.NewOptionalString(restored)
	c.lock.Unlock()
	return restored, nil
}

// Logout ends the connection's session, and with it the authentication of every connection in
// its group.
func (c *Connection) Logout(ctx context.Context) (bool, error) {
	var ok bool
	if err := c.InvokeFor(ctx, &ok, servicedef.MethodLogout); err != nil {
		return false, err
	}
	c.lock.Lock()
	c.token = ldvalue.OptionalString{}
	c.lock.Unlock()
	return ok, nil
}

// WhoAmI returns the name of the user the connection is authenticated as.
func (c *Connection) WhoAmI(ctx context.Context) (string, error) {
	var name string
	err := c.InvokeFor(ctx, &name, servicedef.MethodWhoAmI)
	return name, err
}

// List returns the connections visible to this one.
func (c *Connection) List(ctx context.Context) ([]servicedef.ConnectionInfo, error) {
	var ret []servicedef.ConnectionInfo
	err := c.InvokeFor(ctx, &ret, servicedef.MethodConnectionsList)
	return ret, err
}

// Self returns this connection's own entry in the connection list.
func (c *Connection) Self(ctx context.Context) (servicedef.ConnectionInfo, error) {
	list, err := c.List(ctx)
	if err != nil {
		return servicedef.ConnectionInfo{}, err
	}
	for _, info := range list {
		if info.Self {
			return info, nil
		}
	}
	return servicedef.ConnectionInfo{}, fmt.Errorf("connection %d is not in its own connection list", c.session)
}

// Watch turns connection notifications for this connection on or off.
func (c *Connection) Watch(ctx context.Context, on bool) (bool, error) {
	var ok bool
	err := c.InvokeFor(ctx, &ok, servicedef.MethodConnectionsWatch, on)
	return ok, err
}

// RegisterNotificationTrap routes notifications of the given kinds to handler. Each kind has at
// most one trap per connection; registering another replaces it.
//
// Notifications that cannot be decoded are logged and dropped.
func (c *Connection) RegisterNotificationTrap(handler NotificationHandler, kinds ...Kind) error {
	client, err := c.rpcClient()
	if err != nil {
		return err
	}
	for _, kind := range kinds {
		if _, ok := decoders[kind]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNotification, kind)
		}
	}
	for _, kind := range kinds {
		kind := kind
		client.HandleNotification(string(kind), func(method string, params json.RawMessage) {
			n, err := DecodeNotification(kind, params)
			if err != nil {
				c.logger.Printf("%s", err)
				return
			}
			handler(n)
		})
	}
	return nil
}

func (c *Connection) String() string {
	if name := c.Name(); name.IsDefined() {
		return fmt.Sprintf("connection %d (%s)", c.session, name.StringValue())
	}
	return fmt.Sprintf("connection %d", c.session)
}
