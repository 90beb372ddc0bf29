package mockauth

import (
	"encoding/json"
	"sort"

	"github.com/jsonrpc-itest/auth-contract-tests/rpc"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"

	"github.com/google/uuid"
)

type methodFunc func(s *Service, c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing)

type method struct {
	fn           methodFunc
	auth         bool
	adminOnly    bool
	preHandshake bool
}

var methods map[string]method

func init() {
	methods = map[string]method{
		servicedef.MethodHandshake:              {fn: (*Service).handshake, preHandshake: true},
		servicedef.MethodLogin:                  {fn: (*Service).login},
		servicedef.MethodRestore:                {fn: (*Service).restore},
		servicedef.MethodLogout:                 {fn: (*Service).logout, auth: true},
		servicedef.MethodWhoAmI:                 {fn: (*Service).whoami, auth: true},
		servicedef.MethodUserAdd:                {fn: (*Service).userAdd, auth: true, adminOnly: true},
		servicedef.MethodUserCreate:             {fn: (*Service).userCreate, auth: true, adminOnly: true},
		servicedef.MethodUserNameList:           {fn: (*Service).userNameList, auth: true},
		servicedef.MethodUserRoleSet:            {fn: (*Service).userRoleSet, auth: true, adminOnly: true},
		servicedef.MethodUserRoleAvailableList:  {fn: (*Service).roleAvailableList, auth: true},
		servicedef.MethodUserRoleGetDefault:     {fn: (*Service).roleGetDefault, auth: true},
		servicedef.MethodUserPasswordChange:     {fn: (*Service).passwordChange, auth: true},
		servicedef.MethodConnectionsList:        {fn: (*Service).connectionsList, auth: true},
		servicedef.MethodConnectionsWatch:       {fn: (*Service).connectionsWatch, auth: true},
		servicedef.MethodConnectionsDropByID:    {fn: (*Service).dropByID, auth: true},
		servicedef.MethodConnectionsDropByGroup: {fn: (*Service).dropByGroup, auth: true},
		servicedef.MethodConnectionsDropByUser:  {fn: (*Service).dropByUser, auth: true},
		servicedef.MethodSessionSubscribe:       {fn: (*Service).sessionSubscribe},
	}
}

func (s *Service) handle(c *client, name string, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	m, ok := methods[name]
	if !ok {
		return nil, callError(servicedef.MethodNotFound, "method not found"), nil
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	switch {
	case !c.handshaken && !m.preHandshake:
		return nil, callError(servicedef.InvalidRequest, "handshake required"), nil
	case m.auth && c.session == nil:
		return nil, callError(servicedef.AccessDenied, "access denied"), nil
	case m.adminOnly && !c.isAdmin():
		return nil, callError(servicedef.AccessDenied, "access denied"), nil
	}
	result, callErr, out := m.fn(s, c, params)
	if code, ok := s.errorAfter[name]; ok && callErr == nil {
		return nil, callError(code, "completed with error"), out
	}
	return result, callErr, out
}

func (s *Service) handshake(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var hs servicedef.HandshakeParams
	if err := decodeParams(params, &hs); err != nil {
		return nil, err, nil
	}
	if c.handshaken {
		return nil, callError(servicedef.BadState, "handshake already done"), nil
	}
	c.handshaken = true
	c.clientID, c.host, c.userAgent = hs.ClientID, hs.Host, hs.UserAgent
	for _, id := range s.trusted {
		if id == hs.ClientID {
			c.trusted = true
		}
	}
	return true, nil, nil
}

func (s *Service) login(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var name, password string
	if err := decodeParams(params, &name, &password); err != nil {
		return nil, err, nil
	}
	u := s.users[name]
	if u == nil || u.password != password {
		return nil, callError(servicedef.AccessDenied, "invalid user name or password"), nil
	}
	s.lastGroupID++
	sess := &session{
		token:   uuid.NewString(),
		groupID: s.lastGroupID,
		user:    u,
		authBy:  c.uid,
		members: make(map[*client]struct{}),
	}
	s.sessions[sess.token] = sess
	out := s.attach(c, sess)
	up := servicedef.SessionUpInfo{
		Status:    "login",
		User:      servicedef.SessionUser{ID: u.id, Name: u.name},
		Role:      u.role,
		Host:      c.host,
		UserAgent: c.userAgent,
		Session:   c.clientID,
	}
	for _, sub := range s.subscribers() {
		out = append(out, notification(sub, servicedef.NotifySessionUp, up))
	}
	return sess.token, nil, out
}

func (s *Service) restore(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var token string
	if err := decodeParams(params, &token); err != nil {
		return nil, err, nil
	}
	sess := s.sessions[token]
	if token == "" || sess == nil {
		return nil, invalidArgument("invalid token"), nil
	}
	if c.session == sess {
		return token, nil, nil
	}
	return token, nil, s.attach(c, sess)
}

func (s *Service) logout(c *client, _ json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var members []*client
	for m := range c.session.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].uid < members[j].uid })
	return true, nil, s.deauthenticate(members, c, servicedef.DownReasonLogout)
}

func (s *Service) whoami(c *client, _ json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	return c.session.user.name, nil, nil
}

func (s *Service) userAdd(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var name, password string
	if err := decodeParams(params, &name, &password); err != nil {
		return nil, err, nil
	}
	if name == "" || password == "" {
		return nil, invalidArgument("name and password are required"), nil
	}
	if s.users[name] != nil {
		return false, nil, nil
	}
	s.addUser(name, password, s.defaultRole)
	return true, nil, nil
}

func validCredential(value string) bool {
	return len(value) >= minCredentialLength && len(value) <= maxCredentialLength
}

func validRole(role string) bool {
	for _, r := range availableRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (s *Service) userCreate(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var name, password, role string
	if err := decodeParams(params, &name, &password, &role); err != nil {
		return nil, err, nil
	}
	if !validCredential(name) || !validCredential(password) {
		return nil, invalidArgument("name and password must be 5 to 30 characters"), nil
	}
	if role == "" {
		role = s.defaultRole
	} else if !validRole(role) {
		return nil, invalidArgument("unknown role"), nil
	}
	if s.users[name] != nil {
		return false, nil, nil
	}
	s.addUser(name, password, role)
	return true, nil, nil
}

func (s *Service) userNameList(c *client, _ json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil, nil
}

func (s *Service) userRoleSet(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var name, role string
	if err := decodeParams(params, &name, &role); err != nil {
		return nil, err, nil
	}
	u := s.users[name]
	if u == nil {
		return nil, callError(servicedef.ItemNotFound, "no such user"), nil
	}
	if !validRole(role) {
		return nil, invalidArgument("unknown role"), nil
	}
	u.role = role
	return true, nil, nil
}

func (s *Service) roleAvailableList(c *client, _ json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	return availableRoles, nil, nil
}

func (s *Service) roleGetDefault(c *client, _ json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	return s.defaultRole, nil, nil
}

// passwordChange ends every session of the user, including the caller's.
func (s *Service) passwordChange(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var oldPassword, newPassword string
	if err := decodeParams(params, &oldPassword, &newPassword); err != nil {
		return nil, err, nil
	}
	u := c.session.user
	if u.password != oldPassword {
		return nil, callError(servicedef.AccessDenied, "wrong password"), nil
	}
	if !validCredential(newPassword) {
		return nil, invalidArgument("password must be 5 to 30 characters"), nil
	}
	u.password = newPassword
	var targets []*client
	for _, other := range s.authenticated() {
		if other.session.user == u {
			targets = append(targets, other)
		}
	}
	return "", nil, s.deauthenticate(targets, c, servicedef.DownReasonLogout)
}

func (s *Service) connectionsList(c *client, _ json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	ret := []servicedef.ConnectionInfo{}
	for _, other := range s.authenticated() {
		if c.canSee(other.session.user) {
			ret = append(ret, s.info(other, c))
		}
	}
	return ret, nil, nil
}

func (s *Service) connectionsWatch(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var on bool
	if err := decodeParams(params, &on); err != nil {
		return nil, err, nil
	}
	c.watching = on
	return true, nil, nil
}

func (s *Service) dropByID(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var uid int
	if err := decodeParams(params, &uid); err != nil {
		return nil, err, nil
	}
	target := s.clients[uid]
	if target == nil || target.session == nil || !c.canSee(target.session.user) {
		return nil, callError(servicedef.ItemNotFound, "no such connection"), nil
	}
	if target == c {
		return false, nil, nil
	}
	return true, nil, s.deauthenticate([]*client{target}, c, servicedef.DownReasonDropped)
}

func (s *Service) dropByGroup(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var groupID int
	if err := decodeParams(params, &groupID); err != nil {
		return nil, err, nil
	}
	var targets []*client
	found := false
	for _, other := range s.authenticated() {
		if other.session.groupID != groupID || !c.canSee(other.session.user) {
			continue
		}
		found = true
		if other != c {
			targets = append(targets, other)
		}
	}
	if !found {
		return nil, callError(servicedef.ItemNotFound, "no such group"), nil
	}
	return len(targets), nil, s.deauthenticate(targets, c, servicedef.DownReasonDropped)
}

func (s *Service) dropByUser(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var name string
	if err := decodeParams(params, &name); err != nil {
		return nil, err, nil
	}
	u := s.users[name]
	if u == nil || !c.canSee(u) {
		return nil, callError(servicedef.ItemNotFound, "no such user"), nil
	}
	var targets []*client
	for _, other := range s.authenticated() {
		if other.session.user == u && other != c {
			targets = append(targets, other)
		}
	}
	return len(targets), nil, s.deauthenticate(targets, c, servicedef.DownReasonDropped)
}

func (s *Service) sessionSubscribe(c *client, params json.RawMessage) (interface{}, *rpc.CallError, []outgoing) {
	var on bool
	if err := decodeParams(params, &on); err != nil {
		return nil, err, nil
	}
	if !c.trusted {
		return nil, callError(servicedef.AccessDenied, "not a trusted connection"), nil
	}
	c.subscribed = on
	return true, nil, nil
}
