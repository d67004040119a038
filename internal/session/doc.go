// Package session implements the recording session controller: a state
// machine orchestrating microphone capture, the backend channel lifecycle,
// bounded reconnection, and dispatch of partial/final results, status, and
// errors to the embedding application.
package session
