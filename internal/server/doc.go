// Package server provides the local HTTP monitoring surface: health,
// session state, supported languages, sanitized configuration, and the
// Prometheus metrics endpoint.
package server
