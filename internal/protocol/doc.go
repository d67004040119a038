// Package protocol defines the JSON message envelopes exchanged with the
// transcription backend over the bidirectional channel, plus the audio payload
// contract (mono 16 kHz PCM-16LE, size-bounded chunks).
package protocol
