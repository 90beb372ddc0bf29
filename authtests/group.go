package authtests

import (
	"context"
	"errors"
	"fmt"

	"github.com/jsonrpc-itest/auth-contract-tests/config"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

// Credentials is what a SessionGroup shares among its connections: the user the first
// connection logged in as, and the token the others restore.
type Credentials struct {
	Primary config.User
	Token   string
}

// SessionGroup is a set of connections that share one authenticated session of one user. The
// first connection logs in; every other connection restores the first one's token, which puts
// all of them in the same group on the service side.
//
// The service's identifier for the group is not known when the group is created. Tests learn it
// from a connection listing, with DiscoverID or SetID.
type SessionGroup struct {
	registry    *Registry
	user        config.User
	port        int
	options     []ConnectionOption
	connections []*Connection
	credentials Credentials
	id          ldvalue.OptionalInt
	created     bool
}

// NewSessionGroup creates an empty group for the given user. Connections are created with the
// given options and registered in registry.
func NewSessionGroup(registry *Registry, user config.User, port int, options ...ConnectionOption) *SessionGroup {
	return &SessionGroup{
		registry: registry,
		user:     user,
		port:     port,
		options:  options,
	}
}

// Create starts count connections with session numbers baseSession, baseSession+1, and so on,
// and authenticates them as the group's user. It can only be called once per group.
//
// If any step fails, Create returns the error; connections started so far stay in the Registry
// and are released with it.
func (g *SessionGroup) Create(ctx context.Context, count int, baseSession int) error {
	if g.created {
		return errors.New("session group was already created")
	}
	if count < 1 {
		return fmt.Errorf("session group needs at least one connection, not %d", count)
	}
	g.created = true

	for i := 0; i < count; i++ {
		c := NewConnection(g.registry, baseSession+i, g.options...)
		if err := c.Start(ctx, g.port); err != nil {
			return err
		}
		if i == 0 {
			token, err := c.Login(ctx, g.user.Name, g.user.Password)
			if err != nil {
				return err
			}
			g.credentials = Credentials{Primary: g.user, Token: token}
		} else {
			restored, err := c.Restore(ctx, g.credentials.Token)
			if err != nil {
				return fmt.Errorf("connection %d of group for %q: %w", i, g.user.Name, err)
			}
			if restored != g.credentials.Token {
				return fmt.Errorf("connection %d of group for %q: %w", i, g.user.Name, ErrTokenMismatch)
			}
		}
		g.connections = append(g.connections, c)
	}
	return nil
}

// User returns the user the group authenticates as.
func (g *SessionGroup) User() config.User {
	return g.user
}

// Credentials returns the credentials shared by the group. It is empty before Create.
func (g *SessionGroup) Credentials() Credentials {
	return g.credentials
}

// Connections returns the group's connections in creation order.
func (g *SessionGroup) Connections() []*Connection {
	return append([]*Connection(nil), g.connections...)
}

// Connection returns the i-th connection of the group.
func (g *SessionGroup) Connection(i int) *Connection {
	return g.connections[i]
}

// Len returns the number of connections in the group.
func (g *SessionGroup) Len() int {
	return len(g.connections)
}

// ID returns the service's identifier for the group, if it has been set.
func (g *SessionGroup) ID() ldvalue.OptionalInt {
	return g.id
}

// SetID records the service's identifier for the group.
func (g *SessionGroup) SetID(id int) {
	g.id = ldvalue.NewOptionalInt(id)
}

// DiscoverID sets the group identifier from the connection list seen by via: the first listed
// connection that belongs to the group's user.
func (g *SessionGroup) DiscoverID(ctx context.Context, via *Connection) (int, error) {
	list, err := via.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, info := range list {
		if info.User.Name == g.user.Name {
			g.SetID(info.GroupID)
			return info.GroupID, nil
		}
	}
	return 0, fmt.Errorf("%w: user %q", ErrGroupNotFound, g.user.Name)
}
