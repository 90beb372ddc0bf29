package authtests

import (
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sessionNotificationTimeout = awaitNotificationTimeout * 3

func DoSessionTests(t *T) {
	t.Run("login with wrong password", doWrongPasswordTest)
	t.Run("calls before login are denied", doUnauthenticatedCallsTest)
	t.Run("restore with empty token", doRestoreEmptyTokenTest)
	t.Run("restore joins the group", doRestoreJoinsGroupTest)
	t.Run("logout deauthenticates the group", doLogoutTest)
	t.Run("notifications to trusted connection", doTrustedSessionNotificationsTest)
}

func doWrongPasswordTest(t *T) {
	user := t.Users()[0]
	c := t.StartConnection()
	t.RequireCallError(c, servicedef.AccessDenied, servicedef.MethodLogin, user.Name, user.Password+"-wrong")
	t.RequireCallError(c, servicedef.AccessDenied, servicedef.MethodWhoAmI)
}

func doUnauthenticatedCallsTest(t *T) {
	c := t.StartConnection()
	t.RequireCallError(c, servicedef.AccessDenied, servicedef.MethodWhoAmI)
	t.RequireCallError(c, servicedef.AccessDenied, servicedef.MethodConnectionsList)
}

func doRestoreEmptyTokenTest(t *T) {
	c := t.StartConnection()
	t.RequireCallError(c, servicedef.InvalidArgument, servicedef.MethodRestore, "")
}

func doRestoreJoinsGroupTest(t *T) {
	user := t.Users()[0]
	g := t.NewGroup(user, 3)

	token := g.Credentials().Token
	require.NotEmpty(t, token)
	assert.Equal(t, user, g.Credentials().Primary)

	groupID := t.Self(g.Connection(0)).GroupID
	for i, c := range g.Connections() {
		t.RequireWhoAmI(c, user.Name)
		assert.Equal(t, token, c.Token().StringValue(), "token of connection %d", i)
		assert.Equal(t, groupID, t.Self(c).GroupID, "group of connection %d", i)
	}
}

func doLogoutTest(t *T) {
	g := t.NewGroup(t.Users()[0], 3)
	assert.True(t, t.CallBool(g.Connection(0), servicedef.MethodLogout))
	for _, c := range g.Connections() {
		t.RequireCallError(c, servicedef.AccessDenied, servicedef.MethodWhoAmI)
	}
}

func doTrustedSessionNotificationsTest(t *T) {
	trusted := t.Service().TrustedSessions
	if len(trusted) == 0 {
		t.Skip("no trusted session is configured for the service")
	}
	users := t.Users()

	service := t.StartConnectionWithSession(trusted[0])
	ups := NewCorrelator[SessionUp]()
	downs := NewCorrelator[SessionDown]()
	require.NoError(t, service.RegisterNotificationTrap(Collect(ups), KindSessionUp))
	require.NoError(t, service.RegisterNotificationTrap(Collect(downs), KindSessionDown))
	assert.True(t, t.CallBool(service, servicedef.MethodSessionSubscribe, true))

	ups.SetCount(1)
	first := t.LoginAs(users[0])
	up := RequireRecords(t, ups, sessionNotificationTimeout)
	assert.Equal(t, users[0].Name, up[0].User.Name)

	ups.Clear()
	ups.SetCount(1)
	second := t.LoginAs(users[1])
	up = RequireRecords(t, ups, sessionNotificationTimeout)
	assert.Equal(t, users[1].Name, up[0].User.Name)

	downs.SetCount(1)
	t.StopConnection(first)
	down := RequireRecords(t, downs, sessionNotificationTimeout)
	assert.Equal(t, users[0].Name, down[0].User.Name)

	downs.Clear()
	downs.SetCount(1)
	assert.True(t, t.CallBool(second, servicedef.MethodLogout))
	t.RequireCallError(second, servicedef.AccessDenied, servicedef.MethodWhoAmI)
	down = RequireRecords(t, downs, sessionNotificationTimeout)
	assert.Equal(t, users[1].Name, down[0].User.Name)
}
