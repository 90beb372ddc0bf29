package authtests

import (
	"strings"

	"github.com/jsonrpc-itest/auth-contract-tests/config"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func DoUserTests(t *T) {
	t.Run("configured users exist", doUserListTest)
	t.Run("create", doUserCreateTest)
	t.Run("create validation", doUserCreateValidationTest)
	t.Run("default role", doDefaultRoleTest)
	t.Run("password change", doPasswordChangeTest)
}

// uniqueUser returns credentials for a user that does not exist yet, so that tests can run
// repeatedly against a service that keeps its database between runs.
func uniqueUser(prefix string) config.User {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return config.User{Name: prefix + suffix, Password: "pw" + suffix}
}

func doUserListTest(t *T) {
	admin := t.AdminConnection()
	var names []string
	t.Call(admin, &names, servicedef.MethodUserNameList)
	for _, u := range t.Users() {
		assert.Contains(t, names, u.Name)
	}
	for _, u := range t.Users() {
		c := t.LoginAs(u)
		t.RequireWhoAmI(c, u.Name)
	}
}

func doUserCreateTest(t *T) {
	admin := t.AdminConnection()
	user := uniqueUser("created")

	assert.True(t, t.CallBool(admin, servicedef.MethodUserCreate, user.Name, user.Password, ""))
	assert.False(t, t.CallBool(admin, servicedef.MethodUserCreate, user.Name, user.Password, ""),
		"creating an existing user should report that nothing was created")

	c := t.LoginAs(user)
	t.RequireWhoAmI(c, user.Name)

	var roles []string
	t.Call(admin, &roles, servicedef.MethodUserRoleAvailableList)
	require.NotEmpty(t, roles)
	withRole := uniqueUser("role")
	assert.True(t, t.CallBool(admin, servicedef.MethodUserCreate, withRole.Name, withRole.Password, roles[len(roles)-1]))

	for _, special := range []string{"@", "-", "_", "."} {
		name := strings.Repeat(special, 6) + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		assert.True(t, t.CallBool(admin, servicedef.MethodUserCreate, name, user.Password, ""),
			"user name containing %q", special)
	}
}

func doUserCreateValidationTest(t *T) {
	admin := t.AdminConnection()
	valid := uniqueUser("valid")

	cases := []struct {
		description    string
		name, password string
		role           string
	}{
		{"short name", "nnnn", valid.Password, ""},
		{"short password", valid.Name, "pppp", ""},
		{"long password", valid.Name, strings.Repeat("p", 31), ""},
		{"empty name", "", valid.Password, ""},
		{"empty password", valid.Name, "", ""},
		{"unknown role", valid.Name, valid.Password, "super_role_" + valid.Name},
	}
	for _, c := range cases {
		t.Run(c.description, func(t *T) {
			t.RequireCallError(admin, servicedef.InvalidArgument, servicedef.MethodUserCreate, c.name, c.password, c.role)
		})
	}
}

func doDefaultRoleTest(t *T) {
	expected := t.Service().DefaultRole
	if expected == "" {
		t.Skip("the service's default role is not known")
	}
	admin := t.AdminConnection()
	var role string
	t.Call(admin, &role, servicedef.MethodUserRoleGetDefault)
	assert.Equal(t, expected, role)
}

func doPasswordChangeTest(t *T) {
	admin := t.AdminConnection()
	user := uniqueUser("pwchange")
	assert.True(t, t.CallBool(admin, servicedef.MethodUserAdd, user.Name, user.Password))

	c := t.LoginAs(user)
	unauthenticated := t.StartConnection()

	newPassword := user.Password + "x"
	var result string
	t.Call(c, &result, servicedef.MethodUserPasswordChange, user.Password, newPassword)
	assert.Equal(t, "", result)

	t.RequireCallError(c, servicedef.AccessDenied, servicedef.MethodWhoAmI)
	t.RequireCallError(unauthenticated, servicedef.AccessDenied, servicedef.MethodWhoAmI)
	t.RequireCallError(unauthenticated, servicedef.InvalidArgument, servicedef.MethodRestore, "")

	ctx, cancel := t.callContext()
	defer cancel()
	_, err := t.StartConnection().Login(ctx, user.Name, user.Password)
	code, _ := CodeOf(err)
	assert.Equal(t, servicedef.AccessDenied, code, "old password should be rejected")
	t.LoginAs(config.User{Name: user.Name, Password: newPassword})
}
