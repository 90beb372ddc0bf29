package authtests

import (
	"context"
	"fmt"
	"time"

	"github.com/jsonrpc-itest/auth-contract-tests/config"
	"github.com/jsonrpc-itest/auth-contract-tests/framework"
	"github.com/jsonrpc-itest/auth-contract-tests/logging"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"
)

// SuiteParams describes the service under test.
type SuiteParams struct {
	Config  *config.Config
	Host    string
	Port    int
	Service ServiceInfo

	// QuietPeriod is how long tests wait before concluding that a notification will not
	// arrive. The default is two seconds.
	QuietPeriod time.Duration

	// Logger receives run-level messages, such as user provisioning.
	Logger logging.Logger
}

// RunTestSuite makes sure the configured users exist, then runs every test that filter accepts.
//
// Provisioning failures are returned as an error without running any tests, since every test
// depends on the configured users being able to log in.
func RunTestSuite(
	params SuiteParams,
	filter framework.Filter,
	testLogger framework.TestLogger,
) (framework.Results, error) {
	env := &environment{
		config:      params.Config,
		host:        params.Host,
		port:        params.Port,
		service:     params.Service,
		quietPeriod: params.QuietPeriod,
		registry:    NewRegistry(),
		nextSession: firstUserSession,
	}
	if env.quietPeriod <= 0 {
		env.quietPeriod = defaultQuietPeriod
	}
	logger := params.Logger
	if logger == nil {
		logger = logging.NullLogger()
	}

	if err := ProvisionUsers(context.Background(), env.registry, params, logger); err != nil {
		return framework.Results{}, err
	}

	results := framework.Run(filter, testLogger, func(c *framework.Context) {
		t := newTestScope(c, env)
		t.Run("users", DoUserTests)
		t.Run("connections", DoConnectionTests)
		t.Run("notifications", DoNotificationTests)
		t.Run("sessions", DoSessionTests)
	})
	if err := env.registry.StopAll(); err != nil {
		logger.Printf("error stopping connections: %s", err)
	}
	return results, nil
}

// ProvisionUsers logs in as the default user and adds each configured user that does not exist
// yet, then sets its role. Users that already exist keep their password.
func ProvisionUsers(ctx context.Context, registry *Registry, params SuiteParams, logger logging.Logger) error {
	if logger == nil {
		logger = logging.NullLogger()
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	admin := NewConnection(registry, adminSession, WithHost(params.Host), WithConnectionLogger(logger))
	defer admin.Stop() //nolint:errcheck
	if err := admin.Start(ctx, params.Port); err != nil {
		return err
	}
	defaultUser := params.Config.Data.DefaultUser
	if _, err := admin.Login(ctx, defaultUser.Name, defaultUser.Password); err != nil {
		return err
	}
	for _, u := range params.Config.Data.Users {
		var added bool
		if err := admin.InvokeFor(ctx, &added, servicedef.MethodUserAdd, u.Name, u.Password); err != nil {
			return fmt.Errorf("adding user %q: %w", u.Name, err)
		}
		if !added {
			logger.Printf("User %q already exists", u.Name)
		}
		if u.Role == "" {
			continue
		}
		var ok bool
		if err := admin.InvokeFor(ctx, &ok, servicedef.MethodUserRoleSet, u.Name, u.Role); err != nil {
			return fmt.Errorf("setting role of user %q: %w", u.Name, err)
		}
	}
	return nil
}
