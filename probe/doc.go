// Package probe implements the diagnostic entry points a canister exposes to
// check its filesystem polyfill: greet, test_access and test_stat, plus file
// utilities used by integration checks.
//
// Handlers receive an explicit Env holding the call's Host and the
// filesystem; there is no package-level filesystem state. Registry.Dispatch
// guarantees that every invocation commits exactly one response.
package probe
