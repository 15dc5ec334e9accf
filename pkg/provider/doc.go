// Package provider defines the uniform contract over one external
// execution backend, plus the closed registry that resolves providers
// by name at startup.
//
// The registry never inspects adapter types at dispatch time: callers
// consult Capabilities() before invoking optional operations and fail
// fast on unsupported calls.
package provider
