// Package servicedef describes the parts of the authorization service's JSON-RPC interface
// that the harness relies on: method names, notification payloads, and error codes.
package servicedef

const (
	MethodHandshake = "handshake"

	MethodLogin   = "Auth.Session.login"
	MethodRestore = "Auth.Session.restore"
	MethodLogout  = "Auth.Session.logout"

	MethodWhoAmI                = "Auth.User.whoami"
	MethodUserAdd               = "Auth.User.add"
	MethodUserCreate            = "Auth.User.create"
	MethodUserNameList          = "Auth.User.nameList"
	MethodUserPasswordChange    = "Auth.User.Password.change"
	MethodUserRoleSet           = "Auth.User.Role.set"
	MethodUserRoleAvailableList = "Auth.User.Role.availableList"
	MethodUserRoleGetDefault    = "Auth.User.Role.getDefault"

	MethodConnectionsList        = "Auth.Connections.list"
	MethodConnectionsWatch       = "Auth.Connections.watch"
	MethodConnectionsDropByID    = "Auth.Connections.dropById"
	MethodConnectionsDropByGroup = "Auth.Connections.dropByGroup"
	MethodConnectionsDropByUser  = "Auth.Connections.dropByUser"

	MethodSessionSubscribe = "Session.subscribe"
)

const (
	NotifyConnectionUp   = "Auth.Connections.Event.Up"
	NotifyConnectionDown = "Auth.Connections.Event.Down"
	NotifySessionUp      = "Auth.Session.Up"
	NotifySessionDown    = "Auth.Session.Down"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// HandshakeParams is sent as the first request on every connection.
type HandshakeParams struct {
	ClientID  int    `json:"clientId"`
	Host      string `json:"host"`
	UserAgent string `json:"userAgent"`
}

// ConnectionUser identifies the user a connection is authenticated as.
type ConnectionUser struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// ConnectionInfo is one element of the Auth.Connections.list result, and also the payload of
// an Auth.Connections.Event.Up notification.
type ConnectionInfo struct {
	UID       int            `json:"uid"`
	GroupID   int            `json:"groupId"`
	Host      string         `json:"host"`
	UserAgent string         `json:"userAgent"`
	Self      bool           `json:"self"`
	AuthFrom  int            `json:"authFrom"`
	User      ConnectionUser `json:"user"`
}

// SessionUser is the user reference carried by session notifications.
type SessionUser struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// SessionUpInfo is the payload of an Auth.Session.Up notification.
type SessionUpInfo struct {
	Status    string      `json:"status"`
	User      SessionUser `json:"user"`
	Role      string      `json:"role"`
	Host      string      `json:"host"`
	UserAgent string      `json:"userAgent"`
	Session   int         `json:"session"`
}

// SessionDownInfo is the payload of an Auth.Session.Down notification.
type SessionDownInfo struct {
	Reason   int         `json:"reason"`
	Sessions []int       `json:"sessions"`
	User     SessionUser `json:"user"`
}

// Reason codes carried by SessionDownInfo.
const (
	DownReasonDisconnect = 0
	DownReasonLogout     = 1
	DownReasonDropped    = 2
)
