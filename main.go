package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jsonrpc-itest/auth-contract-tests/authtests"
	"github.com/jsonrpc-itest/auth-contract-tests/config"
	"github.com/jsonrpc-itest/auth-contract-tests/framework"
	"github.com/jsonrpc-itest/auth-contract-tests/logging"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const (
	exitOK          = 0
	exitTestsFailed = 1
	exitSetupFailed = 2
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var params commandParams
	if err := params.Read(args, stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Invalid parameters: %s\n", err)
		return exitSetupFailed
	}

	runID := uuid.NewString()
	logger, err := logging.NewRunLogger(stderr,
		logging.WithRunID(runID),
		logging.WithDebug(params.debugAll),
		logging.WithFile(params.logFile),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Cannot create logger: %s\n", err)
		return exitSetupFailed
	}
	defer logger.Close() //nolint:errcheck

	cfg, err := loadConfig(params)
	if err != nil {
		logger.Error("Cannot load configuration", "err", err)
		return exitSetupFailed
	}

	var target *serviceTarget
	switch {
	case params.mock:
		target, err = startMockService(cfg, logger)
	case params.noLaunch:
		target, err = attachToService(cfg, logger)
	default:
		target, err = launchService(cfg, logger)
	}
	if err != nil {
		logger.Error("Cannot start the service under test", "err", err)
		return exitSetupFailed
	}

	fmt.Fprintln(stdout)
	framework.PrintFilterDescription(stdout, params.filters)
	fmt.Fprintln(stdout, "Running test suite")

	testLogger := &ConsoleTestLogger{
		Out:                  stdout,
		DebugOutputOnFailure: params.debug || params.debugAll,
		DebugOutputOnSuccess: params.debugAll,
	}
	results, err := authtests.RunTestSuite(target.suiteParams(cfg, logger), params.filters.AsFilter, testLogger)
	target.stop()
	if err != nil {
		logger.Error("Cannot prepare the test suite", "err", err)
		return exitSetupFailed
	}

	fmt.Fprintln(stdout)
	printResults(stdout, results)
	if !results.OK() {
		return exitTestsFailed
	}
	return exitOK
}

func loadConfig(params commandParams) (*config.Config, error) {
	switch {
	case params.configPath != "":
		return config.Load(params.configPath)
	case params.mock:
		cfg, err := config.LoadFromEnv()
		if errors.Is(err, config.ErrNoConfig) {
			return defaultMockConfig(), nil
		}
		return cfg, err
	default:
		return config.LoadFromEnv()
	}
}
