// Package metrics exposes the action bridge's Prometheus collectors.
//
// Collectors live on a private registry rather than the global default so
// tests can create independent instances.
package metrics
