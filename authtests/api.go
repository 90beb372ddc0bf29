package authtests

import (
	"context"
	"sync"
	"time"

	"github.com/jsonrpc-itest/auth-contract-tests/config"
	"github.com/jsonrpc-itest/auth-contract-tests/framework"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminSession             = 3000
	firstUserSession         = 3001
	callTimeout              = time.Second * 10
	awaitNotificationTimeout = time.Second * 3
	defaultQuietPeriod       = time.Second * 2
)

// ServiceInfo is what the suite knows about the deployed service beyond the run configuration.
type ServiceInfo struct {
	// TrustedSessions are the session numbers the service accepts as trusted service
	// connections. Tests that need one are skipped if this is empty.
	TrustedSessions []int

	// DefaultRole is the role the service gives to users created without one. Tests that check
	// it are skipped if this is empty.
	DefaultRole string
}

type environment struct {
	config      *config.Config
	host        string
	port        int
	service     ServiceInfo
	quietPeriod time.Duration
	registry    *Registry
	nextSession int
	lock        sync.Mutex
}

func (e *environment) allocateSessions(count int) int {
	e.lock.Lock()
	defer e.lock.Unlock()
	base := e.nextSession
	e.nextSession += count
	return base
}

func (e *environment) resetSessions() {
	e.lock.Lock()
	e.nextSession = firstUserSession
	e.lock.Unlock()
}

// T represents a test or subtest in the authorization service suite.
//
// It implements the same basic functionality as Go's testing.T, on top of our lower-level
// framework package, so the assert and require packages can be used with it directly.
//
// It also creates the connections a test uses. Every connection created through a T is
// registered in the run's Registry, and is stopped when the test that created it ends, whether
// it passed or not. Session numbers are handed out from 3001 upward and start over with each
// test; 3000 is reserved for the administrator's connection.
//
// Most of the connection helpers fail the test immediately if the service returns an error, to
// keep the tests themselves free of error handling. Tests that expect a remote error use
// RequireCallError.
type T struct {
	context    *framework.Context
	env        *environment
	registered bool
}

func newTestScope(context *framework.Context, env *environment) *T {
	return &T{context: context, env: env}
}

// Errorf is called by assertions to log a test failure. It does not cause an immediate exit.
func (t *T) Errorf(format string, args ...interface{}) {
	t.context.Errorf(format, args...)
}

// FailNow is called by assertions when a test should fail and immediately exit. The methods in
// the require package call FailNow.
func (t *T) FailNow() {
	t.context.FailNow()
}

// Run runs a subtest. This is equivalent to the Run method of testing.T.
func (t *T) Run(name string, action func(*T)) {
	t.context.Run(name, func(c *framework.Context) {
		action(newTestScope(c, t.env))
	})
}

// Debug logs some debug output for the test. The output will be passed to the test logger at
// the end of the test.
func (t *T) Debug(format string, args ...interface{}) {
	t.context.Debug(format, args...)
}

// Skip ends the test without failing it.
func (t *T) Skip(reason string) {
	t.context.SkipWithReason(reason)
}

// Config returns the run configuration.
func (t *T) Config() *config.Config {
	return t.env.config
}

// Users returns the configured users other than the default user.
func (t *T) Users() []config.User {
	return t.env.config.Data.Users
}

// Service returns what is known about the deployed service.
func (t *T) Service() ServiceInfo {
	return t.env.service
}

// QuietPeriod is how long a test waits to conclude that a notification is not coming.
func (t *T) QuietPeriod() time.Duration {
	return t.env.quietPeriod
}

func (t *T) registerTeardown() {
	if t.registered {
		return
	}
	t.registered = true
	t.context.Defer(func() {
		if err := t.env.registry.StopAll(); err != nil {
			t.Debug("error stopping connections: %s", err)
		}
		t.env.resetSessions()
	})
}

func (t *T) connectionOptions() []ConnectionOption {
	return []ConnectionOption{WithHost(t.env.host), WithConnectionLogger(t.context.DebugLogger())}
}

// NextSession reserves a session number for a connection the test will create itself.
func (t *T) NextSession() int {
	return t.env.allocateSessions(1)
}

// NewConnection creates an unstarted connection with the given session number.
func (t *T) NewConnection(session int) *Connection {
	t.registerTeardown()
	return NewConnection(t.env.registry, session, t.connectionOptions()...)
}

// StartConnection creates and starts an unauthenticated connection with the next session number.
func (t *T) StartConnection() *Connection {
	return t.StartConnectionWithSession(t.NextSession())
}

// StartConnectionWithSession creates and starts an unauthenticated connection.
func (t *T) StartConnectionWithSession(session int) *Connection {
	c := t.NewConnection(session)
	ctx, cancel := t.callContext()
	defer cancel()
	require.NoError(t, c.Start(ctx, t.env.port), "starting connection %d", session)
	return c
}

// LoginAs starts a connection with the next session number and logs in as the given user.
func (t *T) LoginAs(user config.User) *Connection {
	return t.LoginWithSession(t.NextSession(), user)
}

// LoginWithSession starts a connection with the given session number and logs in as user.
func (t *T) LoginWithSession(session int, user config.User) *Connection {
	c := t.StartConnectionWithSession(session)
	ctx, cancel := t.callContext()
	defer cancel()
	token, err := c.Login(ctx, user.Name, user.Password)
	require.NoError(t, err)
	require.NotEmpty(t, token, "session token of %q", user.Name)
	return c
}

// AdminConnection starts the administrator's connection and logs in as the default user.
func (t *T) AdminConnection() *Connection {
	return t.LoginWithSession(adminSession, t.env.config.Data.DefaultUser)
}

// NewGroup creates a session group of count connections for the given user.
func (t *T) NewGroup(user config.User, count int) *SessionGroup {
	t.registerTeardown()
	g := NewSessionGroup(t.env.registry, user, t.env.port, t.connectionOptions()...)
	base := t.env.allocateSessions(count)
	ctx, cancel := t.callContext()
	defer cancel()
	require.NoError(t, g.Create(ctx, count, base), "creating group of %d for %q", count, user.Name)
	return g
}

// StopConnection stops a connection, failing the test if that fails.
func (t *T) StopConnection(c *Connection) {
	require.NoError(t, c.Stop())
}

func (t *T) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// TryCall is like Call, but an error is only logged. It returns true if the call succeeded.
func (t *T) TryCall(c *Connection, out interface{}, method string, args ...interface{}) bool {
	ctx, cancel := t.callContext()
	defer cancel()
	if err := c.InvokeFor(ctx, out, method, args...); err != nil {
		t.Debug("%s on %s failed: %s", method, c, err)
		return false
	}
	return true
}

// Call invokes a method and decodes its result into out, failing the test on any error. out may
// be nil if the result is not needed.
func (t *T) Call(c *Connection, out interface{}, method string, args ...interface{}) {
	ctx, cancel := t.callContext()
	defer cancel()
	var err error
	if out == nil {
		_, err = c.Invoke(ctx, method, args...)
	} else {
		err = c.InvokeFor(ctx, out, method, args...)
	}
	require.NoError(t, err, "%s on %s", method, c)
}

// CallBool invokes a method that returns a boolean.
func (t *T) CallBool(c *Connection, method string, args ...interface{}) bool {
	var ret bool
	t.Call(c, &ret, method, args...)
	return ret
}

// CallInt invokes a method that returns a number.
func (t *T) CallInt(c *Connection, method string, args ...interface{}) int {
	var ret int
	t.Call(c, &ret, method, args...)
	return ret
}

// RequireCallError invokes a method that is expected to fail with the given service error code.
func (t *T) RequireCallError(c *Connection, code servicedef.ErrorCode, method string, args ...interface{}) {
	ctx, cancel := t.callContext()
	defer cancel()
	result, err := c.Invoke(ctx, method, args...)
	if err == nil {
		require.Fail(t, "expected an error", "%s on %s returned %s, expected %s", method, c, string(result), code)
	}
	actual, ok := CodeOf(err)
	require.True(t, ok, "%s on %s failed without a service error code: %s", method, c, err)
	require.Equal(t, code, actual, "%s on %s: %s", method, c, err)
}

// List returns the connections visible to c.
func (t *T) List(c *Connection) []servicedef.ConnectionInfo {
	ctx, cancel := t.callContext()
	defer cancel()
	list, err := c.List(ctx)
	require.NoError(t, err)
	return list
}

// Self returns c's own entry in the connection list.
func (t *T) Self(c *Connection) servicedef.ConnectionInfo {
	ctx, cancel := t.callContext()
	defer cancel()
	info, err := c.Self(ctx)
	require.NoError(t, err)
	return info
}

// RequireWhoAmI checks the user c is authenticated as.
func (t *T) RequireWhoAmI(c *Connection, name string) {
	var actual string
	t.Call(c, &actual, servicedef.MethodWhoAmI)
	assert.Equal(t, name, actual, "whoami on %s", c)
}

// DiscoverGroupID sets the group's identifier from the connection list seen by via.
func (t *T) DiscoverGroupID(g *SessionGroup, via *Connection) int {
	ctx, cancel := t.callContext()
	defer cancel()
	id, err := g.DiscoverID(ctx, via)
	require.NoError(t, err)
	return id
}

// Watch turns on connection notifications for c.
func (t *T) Watch(c *Connection, on bool) {
	ctx, cancel := t.callContext()
	defer cancel()
	ok, err := c.Watch(ctx, on)
	require.NoError(t, err)
	require.True(t, ok, "watch(%t) on %s", on, c)
}

// TrapConnectionUp collects the connection-up notifications that c receives.
func (t *T) TrapConnectionUp(c *Connection) *Correlator[ConnectionUp] {
	corr := NewCorrelator[ConnectionUp]()
	require.NoError(t, c.RegisterNotificationTrap(Collect(corr), KindConnectionUp))
	return corr
}

// TrapConnectionDown collects the connection-down notifications that c receives.
func (t *T) TrapConnectionDown(c *Connection) *Correlator[ConnectionDown] {
	corr := NewCorrelator[ConnectionDown]()
	require.NoError(t, c.RegisterNotificationTrap(Collect(corr), KindConnectionDown))
	return corr
}

// RequireRecords waits for corr to fire and returns the records. The test fails and immediately
// exits on timeout. corr must already be armed.
func RequireRecords[R any](t *T, corr *Correlator[R], timeout time.Duration) []R {
	records, err := corr.Wait(timeout)
	require.NoError(t, err)
	return records
}

// RequireQuiet waits for the quiet period and then checks that corr received nothing.
func RequireQuiet[R any](t *T, corr *Correlator[R], description string) {
	time.Sleep(t.env.quietPeriod)
	assert.Equal(t, 0, corr.Len(), "%s should not have received notifications, got %v", description, corr.Records())
}

// RequireSettled waits for the quiet period and then checks that corr holds exactly count
// records, so that notifications arriving after the expected ones are caught.
func RequireSettled[R any](t *T, corr *Correlator[R], count int, description string) {
	time.Sleep(t.env.quietPeriod)
	assert.Equal(t, count, corr.Len(), "%s should have received exactly %d notifications, got %v",
		description, count, corr.Records())
}
