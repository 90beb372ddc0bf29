package authtests

import (
	"fmt"

	"github.com/jsonrpc-itest/auth-contract-tests/config"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func DoConnectionTests(t *T) {
	t.Run("list", doConnectionListTest)
	t.Run("drop by id", doDropByIDTest)
	t.Run("drop by group", doDropByGroupTest)
	t.Run("drop by user", doDropByUserTest)
}

// operators returns the first count configured users that are not administrators, skipping the
// test if there are not enough of them.
func operators(t *T, count int) []config.User {
	var ret []config.User
	for _, u := range t.Users() {
		if u.Role != servicedef.RoleAdmin {
			ret = append(ret, u)
		}
	}
	if len(ret) < count {
		t.Skip(fmt.Sprintf("needs %d non-administrator users, configuration has %d", count, len(ret)))
	}
	return ret[:count]
}

func countByName(list []servicedef.ConnectionInfo, name string) int {
	n := 0
	for _, info := range list {
		if info.User.Name == name {
			n++
		}
	}
	return n
}

func doConnectionListTest(t *T) {
	admin := t.AdminConnection()

	var users []*Connection
	for _, u := range t.Users() {
		c := t.LoginAs(u)
		t.RequireWhoAmI(c, u.Name)
		users = append(users, c)
	}

	all := t.List(admin)
	for _, u := range t.Users() {
		assert.Equal(t, 1, countByName(all, u.Name), "connections of %q in administrator's list", u.Name)
	}

	for i, u := range t.Users() {
		if u.Role == servicedef.RoleAdmin {
			continue
		}
		own := t.List(users[i])
		require.Len(t, own, 1, "an operator should only see its own connection")
		assert.True(t, own[0].Self)
		assert.Equal(t, u.Name, own[0].User.Name)
	}

	first := operators(t, 1)[0]
	t.LoginAs(first)
	var another *Connection
	for i, u := range t.Users() {
		if u.Name == first.Name {
			another = users[i]
		}
	}
	two := t.List(another)
	require.Len(t, two, 2)
	selfCount := 0
	for _, info := range two {
		assert.Equal(t, first.Name, info.User.Name)
		if info.Self {
			selfCount++
		}
	}
	assert.Equal(t, 1, selfCount, "exactly one listed connection should be marked as self")
}

func doDropByIDTest(t *T) {
	admin := t.AdminConnection()
	users := operators(t, 2)
	conns := []*Connection{t.LoginAs(users[0]), t.LoginAs(users[1])}

	adminUID := t.Self(admin).UID
	ownUID := t.Self(conns[0]).UID

	assert.False(t, t.CallBool(conns[0], servicedef.MethodConnectionsDropByID, ownUID),
		"a connection cannot drop itself")
	t.RequireWhoAmI(conns[0], users[0].Name)

	assert.True(t, t.CallBool(admin, servicedef.MethodConnectionsDropByID, ownUID))
	t.RequireCallError(conns[0], servicedef.AccessDenied, servicedef.MethodWhoAmI)

	t.RequireCallError(conns[1], servicedef.ItemNotFound, servicedef.MethodConnectionsDropByID, adminUID)
}

func doDropByGroupTest(t *T) {
	admin := t.AdminConnection()
	users := operators(t, 2)
	groups := []*SessionGroup{t.NewGroup(users[0], 5), t.NewGroup(users[1], 3)}

	all := t.List(admin)
	assert.Equal(t, 5, countByName(all, users[0].Name))
	assert.Equal(t, 3, countByName(all, users[1].Name))
	for _, g := range groups {
		t.DiscoverGroupID(g, admin)
	}

	t.RequireCallError(groups[0].Connection(0), servicedef.ItemNotFound,
		servicedef.MethodConnectionsDropByGroup, groups[1].ID().IntValue())

	assert.Equal(t, 3, t.CallInt(admin, servicedef.MethodConnectionsDropByGroup, groups[1].ID().IntValue()))

	all = t.List(admin)
	assert.Len(t, all, 6)
	assert.Equal(t, 1, countByName(all, t.Config().Data.DefaultUser.Name))
	assert.Equal(t, 5, countByName(all, users[0].Name))
}

func doDropByUserTest(t *T) {
	admin := t.AdminConnection()
	users := operators(t, 2)
	groups := []*SessionGroup{t.NewGroup(users[0], 5), t.NewGroup(users[1], 3)}
	separate := t.LoginAs(users[0])

	assert.Len(t, t.List(admin), 10)

	member := groups[0].Connection(0)
	t.RequireCallError(member, servicedef.ItemNotFound,
		servicedef.MethodConnectionsDropByUser, t.Config().Data.DefaultUser.Name)
	t.RequireCallError(member, servicedef.ItemNotFound,
		servicedef.MethodConnectionsDropByUser, users[1].Name)

	// some service builds report error code 0 here; the connection counts decide
	var dropped int
	if t.TryCall(separate, &dropped, servicedef.MethodConnectionsDropByUser, users[0].Name) {
		assert.Equal(t, 5, dropped, "dropping by user should end every other connection of the user")
	}
	assert.Len(t, t.List(admin), 5)

	if t.TryCall(admin, &dropped, servicedef.MethodConnectionsDropByUser, users[0].Name) {
		assert.Equal(t, 1, dropped)
	}

	all := t.List(admin)
	adminSeen := false
	for _, info := range all {
		if info.User.Name == t.Config().Data.DefaultUser.Name {
			adminSeen = true
			assert.True(t, info.Self)
		}
	}
	assert.True(t, adminSeen, "administrator's connection should remain")
	assert.Equal(t, 3, countByName(all, users[1].Name))
	assert.Len(t, all, 4)
}
