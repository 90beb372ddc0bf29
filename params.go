package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jsonrpc-itest/auth-contract-tests/framework"

	"github.com/spf13/pflag"
)

type commandParams struct {
	configPath string
	filters    framework.RegexFilters
	mock       bool
	noLaunch   bool
	logFile    string
	debug      bool
	debugAll   bool
}

// Read parses the command line. It returns pflag.ErrHelp if help was requested.
func (c *commandParams) Read(args []string, errOut io.Writer) error {
	fs := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVarP(&c.configPath, "config", "c", "", "run configuration file (default: $JSONRPC_ITEST_CONFIG)")
	fs.Var(&c.filters.MustMatch, "run", "regex pattern(s) to select tests to run")
	fs.Var(&c.filters.MustNotMatch, "skip", "regex pattern(s) to select tests not to run")
	fs.BoolVar(&c.mock, "mock", false, "run against the built-in mock service instead of the real one")
	fs.BoolVar(&c.noLaunch, "no-launch", false, "test a service that is already running at the configured port")
	fs.StringVar(&c.logFile, "log-file", "", "write run-level log records as JSON to this file")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging for failed tests")
	fs.BoolVar(&c.debugAll, "debug-all", false, "enable debug logging for all tests")

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if c.mock && c.noLaunch {
		return errors.New("--mock and --no-launch cannot be used together")
	}
	return nil
}
