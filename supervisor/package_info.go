// Package supervisor deploys, launches and stops the service under test.
//
// A Supervisor owns exactly one service process. While the process runs, its standard output
// and standard error are consumed by two OutputDrains that copy every line into log files
// under the working directory, so the process can never stall on a full pipe. Stop escalates
// from a termination signal to a forced kill and always leaves the process not running.
package supervisor
