package authtests

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"
)

// Kind identifies a notification by the method name the service pushes it with.
type Kind string

const (
	KindConnectionUp   Kind = servicedef.NotifyConnectionUp
	KindConnectionDown Kind = servicedef.NotifyConnectionDown
	KindSessionUp      Kind = servicedef.NotifySessionUp
	KindSessionDown    Kind = servicedef.NotifySessionDown
)

// Notification is a decoded push from the service. The set of implementations is closed:
// ConnectionUp, ConnectionDown, SessionUp and SessionDown.
type Notification interface {
	Kind() Kind
	sealed()
}

// ConnectionUp reports that a connection visible to the receiver has authenticated.
type ConnectionUp struct {
	servicedef.ConnectionInfo
}

// ConnectionDown reports that connections visible to the receiver have lost their
// authentication, whether by disconnect, logout, or drop.
type ConnectionDown struct {
	UIDs []int
}

// SessionUp reports a new session to a trusted subscriber.
type SessionUp struct {
	servicedef.SessionUpInfo
}

// SessionDown reports the end of a session to a trusted subscriber.
type SessionDown struct {
	servicedef.SessionDownInfo
}

func (ConnectionUp) Kind() Kind   { return KindConnectionUp }
func (ConnectionDown) Kind() Kind { return KindConnectionDown }
func (SessionUp) Kind() Kind      { return KindSessionUp }
func (SessionDown) Kind() Kind    { return KindSessionDown }

func (ConnectionUp) sealed()   {}
func (ConnectionDown) sealed() {}
func (SessionUp) sealed()      {}
func (SessionDown) sealed()    {}

type decoder func(params json.RawMessage) (Notification, error)

var decoders = map[Kind]decoder{
	KindConnectionUp: func(params json.RawMessage) (Notification, error) {
		var n ConnectionUp
		err := decodeObject(params, &n.ConnectionInfo)
		return n, err
	},
	KindConnectionDown: func(params json.RawMessage) (Notification, error) {
		var n ConnectionDown
		if err := json.Unmarshal(params, &n.UIDs); err != nil {
			var uid int
			if json.Unmarshal(params, &uid) != nil {
				return nil, err
			}
			n.UIDs = []int{uid}
		}
		return n, nil
	},
	KindSessionUp: func(params json.RawMessage) (Notification, error) {
		var n SessionUp
		err := decodeObject(params, &n.SessionUpInfo)
		return n, err
	},
	KindSessionDown: func(params json.RawMessage) (Notification, error) {
		var n SessionDown
		err := decodeObject(params, &n.SessionDownInfo)
		return n, err
	},
}

// decodeObject accepts either the object itself or a one-element array holding it, since
// positional and named notification params are both valid JSON-RPC.
func decodeObject(params json.RawMessage, out interface{}) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var wrapped []json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return err
		}
		if len(wrapped) != 1 {
			return fmt.Errorf("expected one parameter, got %d", len(wrapped))
		}
		trimmed = wrapped[0]
	}
	return json.Unmarshal(trimmed, out)
}

// DecodeNotification decodes the params of a pushed notification of the given kind.
func DecodeNotification(kind Kind, params json.RawMessage) (Notification, error) {
	d, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNotification, kind)
	}
	n, err := d(params)
	if err != nil {
		return nil, fmt.Errorf("malformed %s notification %s: %w", kind, string(params), err)
	}
	return n, nil
}

// NotificationHandler receives decoded notifications. It is called on the dispatch goroutine
// of the connection the notification arrived on.
type NotificationHandler func(Notification)
