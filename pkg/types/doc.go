// Package types defines the request, response and status values shared by the
// health monitor, capability matcher, response cache and degradation controller.
package types
