package rpc

import (
	"errors"
	"net"
	"sync"
)

// ConnHandler serves one accepted connection. It is called on its own goroutine and the
// connection is closed when it returns.
type ConnHandler func(conn *Conn)

// Server accepts connections on a TCP listener and hands each to a ConnHandler. It is the
// server-side counterpart of Client, used for in-process service doubles.
type Server struct {
	listener net.Listener
	handler  ConnHandler
	conns    map[*Conn]struct{}
	lock     sync.Mutex
	closed   bool
	wg       sync.WaitGroup
}

// Listen starts a Server on addr. Use "127.0.0.1:0" to pick a free port.
func Listen(addr string, handler ConnHandler) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: listener,
		handler:  handler,
		conns:    make(map[*Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the host:port the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting, closes every open connection, and waits for all handlers to return.
func (s *Server) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.lock.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		conn := NewConn(raw)
		s.lock.Lock()
		if s.closed {
			s.lock.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.lock.Unlock()
		go func() {
			defer s.wg.Done()
			defer func() {
				_ = conn.Close()
				s.lock.Lock()
				delete(s.conns, conn)
				s.lock.Unlock()
			}()
			s.handler(conn)
		}()
	}
}
