package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = time.Second * 5

// scriptedService answers handshake with true, "echo" with its params, "fail" with an
// error, and "notify" by sending the requested number of notifications before replying.
type scriptedService struct {
	rejectHandshake bool
	lock            sync.Mutex
	handshakes      []servicedef.HandshakeParams
}

func (s *scriptedService) serve(conn *Conn) {
	for {
		m, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				continue
			}
			return
		}
		if !m.IsRequest() {
			continue
		}
		var reply Message
		switch m.Method {
		case servicedef.MethodHandshake:
			var params []servicedef.HandshakeParams
			_ = json.Unmarshal(m.Params, &params)
			s.lock.Lock()
			s.handshakes = append(s.handshakes, params...)
			s.lock.Unlock()
			if s.rejectHandshake {
				reply = NewErrorResponse(*m.ID, int(servicedef.AccessDenied), "go away")
			} else {
				reply, _ = NewResponse(*m.ID, true)
			}
		case "echo":
			reply = Message{ID: m.ID, Result: m.Params}
		case "fail":
			reply = NewErrorResponse(*m.ID, int(servicedef.ItemNotFound), "no such thing")
		case "notify":
			var args []int
			_ = json.Unmarshal(m.Params, &args)
			for i := 0; i < args[0]; i++ {
				n, _ := NewNotification("tick", []int{i})
				_ = conn.WriteMessage(n)
			}
			reply, _ = NewResponse(*m.ID, args[0])
		case "garbage":
			_, _ = conn.raw.Write([]byte("{not json\n"))
			reply, _ = NewResponse(*m.ID, "ok")
		case "hangup":
			return
		default:
			reply = NewErrorResponse(*m.ID, int(servicedef.MethodNotFound), "unknown method")
		}
		if err := conn.WriteMessage(reply); err != nil {
			return
		}
	}
}

func startScriptedService(t *testing.T, s *scriptedService) *Server {
	server, err := Listen("127.0.0.1:0", s.serve)
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	return server
}

func dialTest(t *testing.T, addr string) *Client {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	c, err := Dial(ctx, addr, servicedef.HandshakeParams{ClientID: 3001, Host: "localhost", UserAgent: "internal"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDialSendsHandshake(t *testing.T) {
	s := &scriptedService{}
	server := startScriptedService(t, s)

	dialTest(t, server.Addr())

	s.lock.Lock()
	defer s.lock.Unlock()
	require.Len(t, s.handshakes, 1)
	assert.Equal(t, servicedef.HandshakeParams{ClientID: 3001, Host: "localhost", UserAgent: "internal"}, s.handshakes[0])
}

func TestDialToClosedPortFails(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	_, err = Dial(context.Background(), addr, servicedef.HandshakeParams{})
	assert.ErrorIs(t, err, ErrConnect)
}

func TestRejectedHandshakeFailsWithRemoteCode(t *testing.T) {
	server := startScriptedService(t, &scriptedService{rejectHandshake: true})

	_, err := Dial(context.Background(), server.Addr(), servicedef.HandshakeParams{})
	require.ErrorIs(t, err, ErrConnect)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, int(servicedef.AccessDenied), callErr.Code)
}

func TestCallReturnsResult(t *testing.T) {
	server := startScriptedService(t, &scriptedService{})
	c := dialTest(t, server.Addr())

	var out []interface{}
	require.NoError(t, c.CallFor(context.Background(), &out, "echo", "a", 2))
	assert.Equal(t, []interface{}{"a", float64(2)}, out)

	raw, err := c.Call(context.Background(), "echo")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestCallPropagatesRemoteCodeUnchanged(t *testing.T) {
	server := startScriptedService(t, &scriptedService{})
	c := dialTest(t, server.Addr())

	_, err := c.Call(context.Background(), "fail")
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, int(servicedef.ItemNotFound), callErr.Code)
	assert.Equal(t, "no such thing", callErr.Message)
}

func TestNotificationsAreDeliveredInOrder(t *testing.T) {
	server := startScriptedService(t, &scriptedService{})
	c := dialTest(t, server.Addr())

	const count = 50
	received := make(chan int, count)
	c.HandleNotification("tick", func(method string, params json.RawMessage) {
		var args []int
		_ = json.Unmarshal(params, &args)
		received <- args[0]
	})

	_, err := c.Call(context.Background(), "notify", count)
	require.NoError(t, err)

	for i := 0; i < count; i++ {
		select {
		case n := <-received:
			assert.Equal(t, i, n)
		case <-time.After(testTimeout):
			require.Fail(t, "timed out waiting for notification")
		}
	}
}

func TestPanickingHandlerDoesNotStopDispatch(t *testing.T) {
	server := startScriptedService(t, &scriptedService{})
	c := dialTest(t, server.Addr())

	received := make(chan int, 2)
	c.HandleNotification("tick", func(method string, params json.RawMessage) {
		var args []int
		_ = json.Unmarshal(params, &args)
		received <- args[0]
		if args[0] == 0 {
			panic("handler failure")
		}
	})

	_, err := c.Call(context.Background(), "notify", 2)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		select {
		case n := <-received:
			assert.Equal(t, i, n)
		case <-time.After(testTimeout):
			require.Fail(t, "timed out waiting for notification")
		}
	}
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	server := startScriptedService(t, &scriptedService{})
	c := dialTest(t, server.Addr())

	var out string
	require.NoError(t, c.CallFor(context.Background(), &out, "garbage"))
	assert.Equal(t, "ok", out)
	assert.NoError(t, c.Err())
}

func TestRemoteHangupFailsPendingCall(t *testing.T) {
	server := startScriptedService(t, &scriptedService{})
	c := dialTest(t, server.Addr())

	_, err := c.Call(context.Background(), "hangup")
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-c.Done():
	case <-time.After(testTimeout):
		require.Fail(t, "client was not closed")
	}
	assert.ErrorIs(t, c.Err(), ErrClosed)
}

func TestCallAfterCloseFails(t *testing.T) {
	server := startScriptedService(t, &scriptedService{})
	c := dialTest(t, server.Addr())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Call(context.Background(), "echo")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCallHonorsContext(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		// accept and never answer
		conn, err := listener.Accept()
		if err == nil {
			time.Sleep(testTimeout)
			_ = conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
	defer cancel()
	_, err = Dial(ctx, listener.Addr().String(), servicedef.HandshakeParams{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
