// Package transport maintains the persistent bidirectional WebSocket channel
// to the transcription backend. It serializes outbound JSON envelopes through
// a single writer, surfaces raw inbound messages to the session layer, and
// distinguishes normal closure from abnormal loss of the connection.
package transport
