package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/tidwall/jsonc"
)

// ServiceConfig holds the settings of the service's own config file that the harness needs to
// know about.
type ServiceConfig struct {
	// TrustedSessions are the session identifiers the service treats as trusted service
	// connections (core.trasted, spelled as the service spells it).
	TrustedSessions []int
	// DefaultRole is the role given to users created without one (core.role.default).
	DefaultRole string
	// Port is the RPC port the service will listen on, or 0 if it is not set.
	Port int
}

type serviceConfigFile struct {
	Core struct {
		Trusted []int `json:"trasted"`
		Role    struct {
			Default string `json:"default"`
		} `json:"role"`
	} `json:"core"`
	RPC struct {
		Port json.RawMessage `json:"port"`
	} `json:"rpc"`
}

// ReadServiceConfig reads a service config file. Comments and trailing commas are allowed.
func ReadServiceConfig(path string) (ServiceConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the run configuration
	if err != nil {
		return ServiceConfig{}, err
	}
	var f serviceConfigFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return ServiceConfig{}, fmt.Errorf("malformed service config %s: %w", path, err)
	}
	ret := ServiceConfig{TrustedSessions: f.Core.Trusted, DefaultRole: f.Core.Role.Default}
	if len(f.RPC.Port) > 0 {
		// the service writes the port as a string, but accepts a number too
		var s string
		if json.Unmarshal(f.RPC.Port, &s) != nil {
			s = string(f.RPC.Port)
		}
		ret.Port, _ = strconv.Atoi(s)
	}
	return ret, nil
}

// patchServiceConfig points logging and storage into the working directory and binds the
// RPC port. The result is indented with sorted keys.
func patchServiceConfig(data []byte, dbPath string, port int) ([]byte, error) {
	var cfg map[string]interface{}
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("malformed service config: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("malformed service config: not an object")
	}

	logSection := section(cfg, "log")
	logSection["dir"] = "log"
	if systems, ok := logSection["systems"].(map[string]interface{}); ok {
		for name := range systems {
			systems[name] = map[string]interface{}{"file": true, "level": "trace"}
		}
	}
	section(cfg, "core")["db_path"] = dbPath
	section(cfg, "rpc")["port"] = strconv.Itoa(port)

	out, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func section(cfg map[string]interface{}, name string) map[string]interface{} {
	if s, ok := cfg[name].(map[string]interface{}); ok {
		return s
	}
	s := make(map[string]interface{})
	cfg[name] = s
	return s
}
