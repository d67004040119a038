// Package audio implements the capture-side audio pipeline: linear resampling
// to the backend's fixed rate, PCM-16 encoding, fixed-duration framing with
// transport-size splitting, and WAV encoding for session recordings.
package audio
