// Package config loads the run configuration: where the service artifacts are, how to
// launch the service, and which users the tests log in as.
//
// The file is YAML; since YAML is a superset of JSON, JSON configuration files work as is.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path when none is given on
// the command line.
const EnvVar = "JSONRPC_ITEST_CONFIG"

const (
	defaultHost           = "127.0.0.1"
	defaultStartupTimeout = time.Second * 10
	defaultSettleDelay    = time.Second
	defaultGracePeriod    = time.Second
)

// ErrNoConfig is returned by LoadFromEnv when the environment variable is not set.
var ErrNoConfig = errors.New("no configuration file given (set " + EnvVar + " or use --config)")

type Config struct {
	Service Service `yaml:"service"`
	WorkDir string  `yaml:"workDir"`
	Data    Data    `yaml:"data"`
}

// Service describes the service artifacts and how to run them.
type Service struct {
	Execute        string        `yaml:"execute"`
	DB             string        `yaml:"db"`
	Config         string        `yaml:"config"`
	Port           int           `yaml:"port"`
	ParamKey       string        `yaml:"paramKey"`
	Host           string        `yaml:"host"`
	OutputEncoding string        `yaml:"outputEncoding"`
	StartupTimeout time.Duration `yaml:"startupTimeout"`
	SettleDelay    time.Duration `yaml:"settleDelay"`
	GracePeriod    time.Duration `yaml:"gracePeriod"`
	Env            []string      `yaml:"env"`
}

// User is a set of credentials. Role is empty for the default (administrator) user, which
// already exists in the service's database.
type User struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

type Data struct {
	DefaultUser User   `yaml:"defaultUser"`
	Users       []User `yaml:"users"`
}

// Addr returns the host:port the service listens on.
func (s Service) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- the path is supplied by the user
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv is like Load, with the path taken from the JSONRPC_ITEST_CONFIG variable.
func LoadFromEnv() (*Config, error) {
	path := strings.TrimSpace(os.Getenv(EnvVar))
	if path == "" {
		return nil, ErrNoConfig
	}
	return Load(path)
}

// Parse decodes and validates configuration data, filling in defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Service: Service{
			Host:           defaultHost,
			StartupTimeout: defaultStartupTimeout,
			SettleDelay:    defaultSettleDelay,
			GracePeriod:    defaultGracePeriod,
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration that every run needs: the service port and
// the users. Launch-only settings are checked by ValidateLaunch.
func (c *Config) Validate() error {
	var errs []error
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		errs = append(errs, fmt.Errorf("service.port must be between 1 and 65535, got %d", c.Service.Port))
	}
	if c.Data.DefaultUser.Name == "" {
		errs = append(errs, errors.New("data.defaultUser.name is required"))
	}
	if len(c.Data.Users) < 2 {
		errs = append(errs, fmt.Errorf("data.users needs at least 2 users, got %d", len(c.Data.Users)))
	}
	seen := make(map[string]bool)
	for i, u := range c.Data.Users {
		switch {
		case u.Name == "":
			errs = append(errs, fmt.Errorf("data.users[%d].name is required", i))
		case seen[u.Name] || u.Name == c.Data.DefaultUser.Name:
			errs = append(errs, fmt.Errorf("data.users[%d]: duplicate user name %q", i, u.Name))
		}
		seen[u.Name] = true
	}
	return errors.Join(errs...)
}

// ValidateLaunch checks the settings needed to deploy and launch the service.
func (c *Config) ValidateLaunch() error {
	var errs []error
	required := []struct{ key, value string }{
		{"service.execute", c.Service.Execute},
		{"service.db", c.Service.DB},
		{"service.config", c.Service.Config},
		{"service.paramKey", c.Service.ParamKey},
		{"workDir", c.WorkDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required to launch the service", r.key))
		}
	}
	return errors.Join(errs...)
}
