package authtests

import (
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func DoNotificationTests(t *T) {
	t.Run("up", doConnectionUpTest)
	t.Run("down", func(t *T) {
		t.Run("drop by user", doDownByUserTest)
		t.Run("drop by group", doDownByGroupTest)
		t.Run("logout", doDownByLogoutTest)
		t.Run("stop", doDownByStopTest)
		t.Run("drop by id", doDownByIDTest)
	})
}

func doConnectionUpTest(t *T) {
	admin := t.AdminConnection()
	users := operators(t, 2)

	adminUps := t.TrapConnectionUp(admin)
	t.Watch(admin, true)

	adminUps.SetCount(5)
	group := t.NewGroup(users[0], 5)
	ups := RequireRecords(t, adminUps, awaitNotificationTimeout)
	require.Len(t, ups, 5)
	assert.Equal(t, users[0].Name, ups[4].User.Name)
	RequireSettled(t, adminUps, 5, "administrator")

	adminUps.Clear()
	adminUps.SetCount(2)
	operatorUps := t.TrapConnectionUp(group.Connection(0))
	operatorUps.SetCount(1)
	t.Watch(group.Connection(0), true)

	t.LoginAs(users[0])
	t.LoginAs(users[1])

	ups = RequireRecords(t, operatorUps, awaitNotificationTimeout)
	require.Len(t, ups, 1)
	assert.Equal(t, users[0].Name, ups[0].User.Name)
	ups = RequireRecords(t, adminUps, awaitNotificationTimeout)
	require.Len(t, ups, 2)
	assert.Equal(t, users[0].Name, ups[0].User.Name)
	assert.Equal(t, users[1].Name, ups[1].User.Name)
	RequireSettled(t, adminUps, 2, "administrator")
	assert.Equal(t, 1, operatorUps.Len(), "first operator should see only its own user's connection")

	operatorUps.Clear()
	operatorUps.SetCount(1)
	adminUps.Clear()
	adminUps.SetCount(0)
	t.Watch(admin, false)

	t.LoginAs(users[0])

	ups = RequireRecords(t, operatorUps, awaitNotificationTimeout)
	assert.Len(t, ups, 1)
	RequireQuiet(t, adminUps, "administrator after turning off watch")
	assert.Equal(t, 1, operatorUps.Len(), "first operator should have been notified once")
}

// downFixture is the starting point of the connection-down tests: a group of five connections
// of the first operator, one connection of the second operator, and the administrator, all
// watching for connection-down notifications.
type downFixture struct {
	admin          *Connection
	group          *SessionGroup
	operator2      *Connection
	operator1Downs *Correlator[ConnectionDown]
	adminDowns     *Correlator[ConnectionDown]
	operator2Downs *Correlator[ConnectionDown]
}

func newDownFixture(t *T) downFixture {
	users := operators(t, 2)
	f := downFixture{admin: t.AdminConnection()}
	f.group = t.NewGroup(users[0], 5)
	f.operator2 = t.LoginAs(users[1])

	f.operator1Downs = t.TrapConnectionDown(f.group.Connection(0))
	f.operator1Downs.SetCount(4)
	f.adminDowns = t.TrapConnectionDown(f.admin)
	f.adminDowns.SetCount(4)
	f.operator2Downs = t.TrapConnectionDown(f.operator2)

	t.Watch(f.group.Connection(0), true)
	t.Watch(f.admin, true)
	t.Watch(f.operator2, true)
	return f
}

func (f downFixture) requireDowns(t *T, operator1, admin int) {
	if operator1 > 0 {
		assert.Len(t, RequireRecords(t, f.operator1Downs, awaitNotificationTimeout), operator1,
			"notifications received by the first operator")
	}
	assert.Len(t, RequireRecords(t, f.adminDowns, awaitNotificationTimeout), admin,
		"notifications received by the administrator")
	RequireQuiet(t, f.operator2Downs, "second operator")
	assert.Equal(t, operator1, f.operator1Downs.Len(), "first operator should have been notified exactly %d times", operator1)
	assert.Equal(t, admin, f.adminDowns.Len(), "administrator should have been notified exactly %d times", admin)
}

func doDownByUserTest(t *T) {
	f := newDownFixture(t)
	t.TryCall(f.group.Connection(0), nil, servicedef.MethodConnectionsDropByUser, f.group.User().Name)
	f.requireDowns(t, 4, 4)
}

func doDownByGroupTest(t *T) {
	f := newDownFixture(t)
	groupID := t.Self(f.group.Connection(3)).GroupID
	t.StopConnection(f.group.Connection(4))
	t.Call(f.group.Connection(0), nil, servicedef.MethodConnectionsDropByGroup, groupID)
	f.requireDowns(t, 4, 4)
}

func doDownByLogoutTest(t *T) {
	f := newDownFixture(t)
	f.operator1Downs.SetCount(0)
	assert.True(t, t.CallBool(f.group.Connection(1), servicedef.MethodLogout))
	f.requireDowns(t, 0, 4)
}

func doDownByStopTest(t *T) {
	f := newDownFixture(t)
	for i := 4; i > 0; i-- {
		t.StopConnection(f.group.Connection(i))
	}
	f.requireDowns(t, 4, 4)
}

func doDownByIDTest(t *T) {
	f := newDownFixture(t)
	f.operator1Downs.SetCount(3)
	member := f.group.Connection(0)

	admin2 := t.LoginAs(t.Config().Data.DefaultUser)
	assert.True(t, t.CallBool(f.admin, servicedef.MethodConnectionsDropByID, t.Self(admin2).UID))

	t.RequireCallError(member, servicedef.ItemNotFound, servicedef.MethodConnectionsDropByID, t.Self(f.admin).UID)

	for _, i := range []int{4, 3} {
		assert.True(t, t.CallBool(f.admin, servicedef.MethodConnectionsDropByID, t.Self(f.group.Connection(i)).UID))
	}

	missing := lowestUID(t.List(f.admin)) - 1
	t.RequireCallError(member, servicedef.ItemNotFound, servicedef.MethodConnectionsDropByID, missing)
	t.RequireCallError(f.admin, servicedef.ItemNotFound, servicedef.MethodConnectionsDropByID, missing)

	operator2Second := t.LoginAs(operators(t, 2)[1])
	t.RequireCallError(member, servicedef.ItemNotFound, servicedef.MethodConnectionsDropByID, t.Self(operator2Second).UID)

	assert.True(t, t.CallBool(member, servicedef.MethodConnectionsDropByID, t.Self(f.group.Connection(1)).UID))

	f.requireDowns(t, 3, 4)

	assert.False(t, t.CallBool(member, servicedef.MethodConnectionsDropByID, t.Self(member).UID),
		"a connection cannot drop itself")
}

func lowestUID(list []servicedef.ConnectionInfo) int {
	lowest := 0
	for i, info := range list {
		if i == 0 || info.UID < lowest {
			lowest = info.UID
		}
	}
	return lowest
}
