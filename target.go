package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/jsonrpc-itest/auth-contract-tests/authtests"
	"github.com/jsonrpc-itest/auth-contract-tests/config"
	"github.com/jsonrpc-itest/auth-contract-tests/logging"
	"github.com/jsonrpc-itest/auth-contract-tests/mockauth"
	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"
	"github.com/jsonrpc-itest/auth-contract-tests/supervisor"
)

const mockTrustedSession = 4000

// serviceTarget is the service the suite runs against, however it was obtained.
type serviceTarget struct {
	host    string
	port    int
	service authtests.ServiceInfo
	stop    func()
}

func (t *serviceTarget) suiteParams(cfg *config.Config, logger logging.Logger) authtests.SuiteParams {
	return authtests.SuiteParams{
		Config:  cfg,
		Host:    t.host,
		Port:    t.port,
		Service: t.service,
		Logger:  logger,
	}
}

func defaultMockConfig() *config.Config {
	return &config.Config{
		Data: config.Data{
			DefaultUser: config.User{Name: "admin", Password: "admin"},
			Users: []config.User{
				{Name: "operator1", Password: "operator1", Role: servicedef.RoleOperator},
				{Name: "operator2", Password: "operator2", Role: servicedef.RoleOperator},
			},
		},
	}
}

func startMockService(cfg *config.Config, logger *logging.RunLogger) (*serviceTarget, error) {
	admin := cfg.Data.DefaultUser
	s, err := mockauth.Start(
		mockauth.WithAdmin(admin.Name, admin.Password),
		mockauth.WithTrustedSessions(mockTrustedSession),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("Started mock service", "addr", s.Addr())
	return &serviceTarget{
		host:    "127.0.0.1",
		port:    s.Port(),
		service: authtests.ServiceInfo{TrustedSessions: s.TrustedSessions(), DefaultRole: s.DefaultRole()},
		stop: func() {
			if err := s.Close(); err != nil {
				logger.Warn("Error stopping mock service", "err", err)
			}
		},
	}, nil
}

// attachToService uses a service that someone else started. Its config is read from the
// working directory if it has been deployed there.
func attachToService(cfg *config.Config, logger *logging.RunLogger) (*serviceTarget, error) {
	target := &serviceTarget{host: cfg.Service.Host, port: cfg.Service.Port, stop: func() {}}
	if cfg.WorkDir == "" || cfg.Service.Config == "" {
		return target, nil
	}
	path := filepath.Join(cfg.WorkDir, filepath.Base(cfg.Service.Config))
	if _, err := os.Stat(path); err != nil {
		logger.Warn("Service config not found, tests that need it will be skipped", "path", path)
		return target, nil
	}
	serviceConfig, err := supervisor.ReadServiceConfig(path)
	if err != nil {
		return nil, err
	}
	target.service = authtests.ServiceInfo{
		TrustedSessions: serviceConfig.TrustedSessions,
		DefaultRole:     serviceConfig.DefaultRole,
	}
	return target, nil
}

func launchService(cfg *config.Config, logger *logging.RunLogger) (*serviceTarget, error) {
	if err := cfg.ValidateLaunch(); err != nil {
		return nil, err
	}
	sup, err := supervisor.New(supervisor.Params{
		Executable:     cfg.Service.Execute,
		DataFile:       cfg.Service.DB,
		ConfigTemplate: cfg.Service.Config,
		WorkDir:        cfg.WorkDir,
		ParamKey:       cfg.Service.ParamKey,
		Port:           cfg.Service.Port,
		SettleDelay:    cfg.Service.SettleDelay,
		OutputEncoding: cfg.Service.OutputEncoding,
		Env:            cfg.Service.Env,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	if err := sup.Deploy(); err != nil {
		return nil, err
	}
	if err := sup.PatchConfig(); err != nil {
		return nil, err
	}
	serviceConfig, err := sup.ServiceConfig()
	if err != nil {
		return nil, err
	}
	if err := sup.Start(); err != nil {
		return nil, err
	}

	stop := func() {
		if usage, err := sup.ResourceUsage(); err == nil {
			logger.Info("Service resource usage", "usage", usage.String())
		} else if !errors.Is(err, supervisor.ErrNotRunning) {
			logger.Debug("Cannot read service resource usage", "err", err)
		}
		if err := sup.Stop(cfg.Service.GracePeriod); err != nil {
			logger.Error("Error stopping service", "err", err)
		}
		p := sup.Process()
		if p.ExitCode.IsDefined() {
			logger.Info("Service stopped", "exit_code", p.ExitCode.IntValue())
		}
		stdout, stderr := sup.LogPaths()
		logger.Info("Service output", "stdout", stdout, "stderr", stderr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Service.StartupTimeout)
	defer cancel()
	if err := sup.AwaitReady(ctx, cfg.Service.Addr()); err != nil {
		stop()
		return nil, err
	}
	logger.Info("Service is ready", "addr", cfg.Service.Addr(), "pid", sup.Process().PID)

	return &serviceTarget{
		host: cfg.Service.Host,
		port: cfg.Service.Port,
		service: authtests.ServiceInfo{
			TrustedSessions: serviceConfig.TrustedSessions,
			DefaultRole:     serviceConfig.DefaultRole,
		},
		stop: stop,
	}, nil
}
