// Package framework contains the low-level test infrastructure that is independent of the
// service being tested.
//
// There is a general notion of a test context which is similar to Go's *testing.T, allowing
// pieces of test logic to be associated with a test identifier, to accumulate
// success/failure results, and to register cleanup actions. Unlike *testing.T it works
// outside of the Go test runner, so that a compiled harness can be pointed at any build of
// the service.
//
// The domain-specific code that knows what is being tested is responsible for providing a
// domain-specific test API on top of the test context.
package framework
