package supervisor

import (
	"encoding/json"
	"os"
	"testing"

	helpers "github.com/launchdarkly/go-test-helpers/v2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleServiceConfig = `{
	// the service accepts comments in its config
	"log": {
		"dir": "/var/log/auth",
		"systems": {
			"core": {"file": false, "level": "info"},
			"rpc": {"level": "error"},
		}
	},
	"core": {
		"db_path": "/srv/auth.db",
		"trasted": [17, 18],
		"role": {"default": "operator"}
	},
	"rpc": {"port": "9000"}
}`

func TestPatchServiceConfig(t *testing.T) {
	out, err := patchServiceConfig([]byte(sampleServiceConfig), "/work/auth.db", 12345)
	require.NoError(t, err)

	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &cfg))

	logSection := cfg["log"].(map[string]interface{})
	assert.Equal(t, "log", logSection["dir"])
	trace := map[string]interface{}{"file": true, "level": "trace"}
	assert.Equal(t, map[string]interface{}{"core": trace, "rpc": trace}, logSection["systems"])

	core := cfg["core"].(map[string]interface{})
	assert.Equal(t, "/work/auth.db", core["db_path"])
	assert.Equal(t, []interface{}{float64(17), float64(18)}, core["trasted"])

	assert.Equal(t, "12345", cfg["rpc"].(map[string]interface{})["port"])
}

func TestPatchServiceConfigSortsKeysAndIndents(t *testing.T) {
	out, err := patchServiceConfig([]byte(`{"rpc": {}, "core": {}, "log": {}}`), "db", 1)
	require.NoError(t, err)
	assert.Equal(t, `{
    "core": {
        "db_path": "db"
    },
    "log": {
        "dir": "log"
    },
    "rpc": {
        "port": "1"
    }
}
`, string(out))
}

func TestPatchServiceConfigRejectsNonObject(t *testing.T) {
	_, err := patchServiceConfig([]byte(`[1, 2]`), "db", 1)
	assert.Error(t, err)
	_, err = patchServiceConfig([]byte(`null`), "db", 1)
	assert.Error(t, err)
}

func TestReadServiceConfig(t *testing.T) {
	withTempFileData(t, []byte(sampleServiceConfig), func(path string) {
		cfg, err := ReadServiceConfig(path)
		require.NoError(t, err)
		assert.Equal(t, []int{17, 18}, cfg.TrustedSessions)
		assert.Equal(t, "operator", cfg.DefaultRole)
		assert.Equal(t, 9000, cfg.Port)
	})
}

func TestReadServiceConfigNumericPort(t *testing.T) {
	withTempFileData(t, []byte(`{"rpc": {"port": 8080}}`), func(path string) {
		cfg, err := ReadServiceConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Empty(t, cfg.TrustedSessions)
	})
}

func withTempFileData(t *testing.T, data []byte, action func(path string)) {
	helpers.WithTempFile(func(path string) {
		require.NoError(t, os.WriteFile(path, data, 0o600))
		action(path)
	})
}
