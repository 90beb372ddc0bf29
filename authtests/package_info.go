// Package authtests contains the authorization service contract tests and the API they are
// written against: connections to the service, session groups sharing one login, and
// correlators that wait for pushed notifications.
//
// Test harness infrastructure that is not specific to the service, such as test contexts and
// result reporting, is in the lower-level framework package. The JSON-RPC transport is in the
// rpc package.
package authtests
