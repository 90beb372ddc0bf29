package config

import (
	"os"
	"testing"
	"time"

	helpers "github.com/launchdarkly/go-test-helpers/v2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// the format the service team has always used
const jsonConfig = `{
	"service": {
		"execute": "bin/auth_service",
		"db": "data/auth.db",
		"config": "data/auth_service.json",
		"port": 4444,
		"paramKey": "-c"
	},
	"workDir": "work",
	"data": {
		"defaultUser": {"name": "admin", "password": "admin"},
		"users": [
			{"name": "operator1", "password": "secret1", "role": "operator"},
			{"name": "operator2", "password": "secret2", "role": "operator"}
		]
	}
}`

const yamlConfig = `
service:
  port: 5555
  host: localhost
  outputEncoding: cp866
  gracePeriod: 3s
data:
  defaultUser: {name: admin, password: admin}
  users:
    - {name: a, password: b, role: operator}
    - {name: c, password: d, role: admin}
`

func TestParseJSONConfig(t *testing.T) {
	cfg, err := Parse([]byte(jsonConfig))
	require.NoError(t, err)

	assert.Equal(t, "bin/auth_service", cfg.Service.Execute)
	assert.Equal(t, "-c", cfg.Service.ParamKey)
	assert.Equal(t, "127.0.0.1:4444", cfg.Service.Addr())
	assert.Equal(t, "work", cfg.WorkDir)
	assert.Equal(t, User{Name: "admin", Password: "admin"}, cfg.Data.DefaultUser)
	require.Len(t, cfg.Data.Users, 2)
	assert.Equal(t, User{Name: "operator2", Password: "secret2", Role: "operator"}, cfg.Data.Users[1])

	assert.Equal(t, defaultStartupTimeout, cfg.Service.StartupTimeout)
	assert.Equal(t, defaultSettleDelay, cfg.Service.SettleDelay)
	assert.Equal(t, defaultGracePeriod, cfg.Service.GracePeriod)
	assert.NoError(t, cfg.ValidateLaunch())
}

func TestParseYAMLConfig(t *testing.T) {
	cfg, err := Parse([]byte(yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "localhost:5555", cfg.Service.Addr())
	assert.Equal(t, "cp866", cfg.Service.OutputEncoding)
	assert.Equal(t, time.Second*3, cfg.Service.GracePeriod)
	assert.Error(t, cfg.ValidateLaunch())
}

func TestValidateReportsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`{"service": {}, "data": {"users": [{"name": "x"}, {"name": "x"}]}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service.port")
	assert.Contains(t, err.Error(), "defaultUser.name")
	assert.Contains(t, err.Error(), "duplicate user name")
}

func TestLoad(t *testing.T) {
	withTempFileData(t, []byte(jsonConfig), func(path string) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 4444, cfg.Service.Port)
	})

	_, err := Load("/definitely/not/here.json")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvVar, "")
	_, err := LoadFromEnv()
	assert.ErrorIs(t, err, ErrNoConfig)

	withTempFileData(t, []byte(yamlConfig), func(path string) {
		t.Setenv(EnvVar, path)
		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		assert.Equal(t, 5555, cfg.Service.Port)
	})
}

func withTempFileData(t *testing.T, data []byte, action func(path string)) {
	helpers.WithTempFile(func(path string) {
		require.NoError(t, os.WriteFile(path, data, 0o600))
		action(path)
	})
}
