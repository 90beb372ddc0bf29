// Package mockauth is an in-process stand-in for the authorization service. It speaks the same
// JSON-RPC protocol and implements the subset of behavior the contract tests exercise, so that
// the harness itself can be tested, and the suite can be tried out, without the real service.
package mockauth

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/jsonrpc-itest/auth-contract-tests/logging"
	"github.com/jsonrpc-itest/auth-contract-tests/rpc"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"
)

const (
	defaultAdminName     = "admin"
	defaultAdminPassword = "admin"
	defaultRole          = servicedef.RoleOperator
	minCredentialLength  = 5
	maxCredentialLength  = 30
)

var availableRoles = []string{servicedef.RoleAdmin, servicedef.RoleOperator}

// Option configures a Service created by Start.
type Option func(*Service)

// WithAdmin sets the credentials of the built-in administrator. The default is admin/admin.
func WithAdmin(name, password string) Option {
	return func(s *Service) {
		s.adminName, s.adminPassword = name, password
	}
}

// WithTrustedSessions sets the client identifiers that are accepted as trusted service
// connections, which may subscribe to session notifications.
func WithTrustedSessions(ids ...int) Option {
	return func(s *Service) {
		s.trusted = append([]int(nil), ids...)
	}
}

// WithDefaultRole sets the role of users created without one.
func WithDefaultRole(role string) Option {
	return func(s *Service) {
		s.defaultRole = role
	}
}

// WithErrorAfter makes the service carry out method as usual and then report code instead of
// the result, the way some service builds answer dropByUser with error code 0.
func WithErrorAfter(method string, code servicedef.ErrorCode) Option {
	return func(s *Service) {
		s.errorAfter[method] = code
	}
}

// WithLogger logs every request the service handles.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type user struct {
	id       int
	name     string
	password string
	role     string
}

type session struct {
	token   string
	groupID int
	user    *user
	authBy  int
	members map[*client]struct{}
}

type client struct {
	conn       *rpc.Conn
	uid        int
	clientID   int
	host       string
	userAgent  string
	handshaken bool
	trusted    bool
	watching   bool
	subscribed bool
	session    *session
}

type outgoing struct {
	to *client
	m  rpc.Message
}

// Service is a running mock authorization service.
type Service struct {
	server        *rpc.Server
	logger        logging.Logger
	adminName     string
	adminPassword string
	defaultRole   string
	trusted       []int
	errorAfter    map[string]servicedef.ErrorCode
	users         map[string]*user
	sessions      map[string]*session
	clients       map[int]*client
	lastUID       int
	lastGroupID   int
	lastUserID    int
	lock          sync.Mutex
}

// Start creates a Service listening on a free port on the loopback interface.
func Start(options ...Option) (*Service, error) {
	s := &Service{
		logger:        logging.NullLogger(),
		adminName:     defaultAdminName,
		adminPassword: defaultAdminPassword,
		defaultRole:   defaultRole,
		users:         make(map[string]*user),
		sessions:      make(map[string]*session),
		clients:       make(map[int]*client),
		errorAfter:    make(map[string]servicedef.ErrorCode),
	}
	for _, o := range options {
		o(s)
	}
	s.addUser(s.adminName, s.adminPassword, servicedef.RoleAdmin)

	server, err := rpc.Listen("127.0.0.1:0", s.serve)
	if err != nil {
		return nil, err
	}
	s.server = server
	return s, nil
}

func (s *Service) Addr() string { return s.server.Addr() }

func (s *Service) Port() int { return s.server.Port() }

// TrustedSessions returns the client identifiers configured with WithTrustedSessions.
func (s *Service) TrustedSessions() []int { return append([]int(nil), s.trusted...) }

// DefaultRole returns the role given to users created without one.
func (s *Service) DefaultRole() string { return s.defaultRole }

// Close disconnects every client and stops listening.
func (s *Service) Close() error {
	return s.server.Close()
}

// ConnectionCount returns the number of open client connections, authenticated or not.
func (s *Service) ConnectionCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.clients)
}

func (s *Service) addUser(name, password, role string) *user {
	s.lastUserID++
	u := &user{id: s.lastUserID, name: name, password: password, role: role}
	s.users[name] = u
	return u
}

func (s *Service) serve(conn *rpc.Conn) {
	s.lock.Lock()
	s.lastUID++
	c := &client{conn: conn, uid: s.lastUID}
	s.clients[c.uid] = c
	s.lock.Unlock()

	defer s.disconnect(c)

	for {
		m, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, rpc.ErrMalformed) {
				continue
			}
			return
		}
		if !m.IsRequest() {
			continue
		}
		s.logger.Printf("[uid %d] %s %s", c.uid, m.Method, string(m.Params))
		result, callErr, notifications := s.handle(c, m.Method, m.Params)
		for _, n := range notifications {
			_ = n.to.conn.WriteMessage(n.m)
		}
		var reply rpc.Message
		if callErr != nil {
			reply = rpc.NewErrorResponse(*m.ID, callErr.Code, callErr.Message)
		} else if reply, err = rpc.NewResponse(*m.ID, result); err != nil {
			reply = rpc.NewErrorResponse(*m.ID, int(servicedef.InvalidRequest), err.Error())
		}
		if err := conn.WriteMessage(reply); err != nil {
			return
		}
	}
}

func (s *Service) disconnect(c *client) {
	s.lock.Lock()
	delete(s.clients, c.uid)
	var out []outgoing
	if c.session != nil {
		out = s.deauthenticate([]*client{c}, nil, servicedef.DownReasonDisconnect)
	}
	s.lock.Unlock()
	for _, n := range out {
		_ = n.to.conn.WriteMessage(n.m)
	}
}

func (c *client) isAdmin() bool {
	return c.session != nil && c.session.user.role == servicedef.RoleAdmin
}

// canSee reports whether c is allowed to know about connections of the given user.
func (c *client) canSee(u *user) bool {
	return c.session != nil && (c.isAdmin() || c.session.user == u)
}

func (s *Service) info(c *client, viewer *client) servicedef.ConnectionInfo {
	return servicedef.ConnectionInfo{
		UID:       c.uid,
		GroupID:   c.session.groupID,
		Host:      c.host,
		UserAgent: c.userAgent,
		Self:      c == viewer,
		AuthFrom:  c.session.authBy,
		User:      servicedef.ConnectionUser{Name: c.session.user.name, Role: c.session.user.role},
	}
}

// authenticated returns every authenticated client, ordered by uid.
func (s *Service) authenticated() []*client {
	var ret []*client
	for _, c := range s.clients {
		if c.session != nil {
			ret = append(ret, c)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].uid < ret[j].uid })
	return ret
}

func notification(to *client, method string, params interface{}) outgoing {
	m, _ := rpc.NewNotification(method, params)
	return outgoing{to: to, m: m}
}

func (s *Service) attach(c *client, sess *session) []outgoing {
	var out []outgoing
	if c.session != nil {
		out = s.deauthenticate([]*client{c}, c, servicedef.DownReasonLogout)
	}
	c.session = sess
	sess.members[c] = struct{}{}
	for _, w := range s.authenticated() {
		if w != c && w.watching && w.canSee(sess.user) {
			out = append(out, notification(w, servicedef.NotifyConnectionUp, s.info(c, w)))
		}
	}
	return out
}

// deauthenticate removes the targets from their sessions and builds the resulting
// notifications. No Down is reported about initiator, which learns the outcome from its
// own call. Sessions left without members end.
func (s *Service) deauthenticate(targets []*client, initiator *client, reason int) []outgoing {
	type ended struct {
		sess     *session
		sessions []int
	}
	var out []outgoing
	var endedSessions []ended
	dropped := make(map[*client]bool)
	for _, t := range targets {
		dropped[t] = true
	}
	for _, t := range targets {
		sess := t.session
		if sess == nil {
			continue
		}
		if t != initiator {
			for _, w := range s.authenticated() {
				if !dropped[w] && w.watching && w.canSee(sess.user) {
					out = append(out, notification(w, servicedef.NotifyConnectionDown, []int{t.uid}))
				}
			}
		}
		delete(sess.members, t)
		t.session = nil
		t.watching = false
		if len(sess.members) == 0 {
			delete(s.sessions, sess.token)
			endedSessions = append(endedSessions, ended{sess: sess, sessions: []int{t.clientID}})
		}
	}
	for _, e := range endedSessions {
		info := servicedef.SessionDownInfo{
			Reason:   reason,
			Sessions: e.sessions,
			User:     servicedef.SessionUser{ID: e.sess.user.id, Name: e.sess.user.name},
		}
		for _, sub := range s.subscribers() {
			out = append(out, notification(sub, servicedef.NotifySessionDown, info))
		}
	}
	return out
}

func (s *Service) subscribers() []*client {
	var ret []*client
	for _, c := range s.clients {
		if c.subscribed {
			ret = append(ret, c)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].uid < ret[j].uid })
	return ret
}

func decodeParams(raw json.RawMessage, targets ...interface{}) *rpc.CallError {
	var args []json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return invalidArgument("parameters must be an array")
		}
	}
	if len(args) < len(targets) {
		return invalidArgument("missing parameters")
	}
	for i, t := range targets {
		if err := json.Unmarshal(args[i], t); err != nil {
			return invalidArgument("invalid parameter")
		}
	}
	return nil
}

func callError(code servicedef.ErrorCode, message string) *rpc.CallError {
	return &rpc.CallError{Code: int(code), Message: message}
}

func invalidArgument(message string) *rpc.CallError {
	return callError(servicedef.InvalidArgument, message)
}
