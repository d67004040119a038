package capture

import "fmt"

// Frame is one buffer of raw samples as delivered by the capture device.
// Frames are ephemeral: produced per capture callback and consumed
// immediately by the handler.
type Frame struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Handler receives captured frames. It runs on the capture goroutine and must
// not block; expensive work belongs downstream.
type Handler func(Frame)

// Source is a startable audio input. Stop releases the underlying device and
// is safe to call more than once.
type Source interface {
	Start() error
	Stop() error
}

// Factory creates a fresh Source bound to a handler. The session controller
// re-acquires the microphone through this on every (re)connect; tests inject
// fake sources here.
type Factory func(handler Handler) (Source, error)

// Config contains capture device configuration.
type Config struct {
	SampleRate      int // Device sample rate (commonly 44100 or 48000 Hz)
	Channels        int // 1 for mono capture
	FramesPerBuffer int // Samples delivered per callback
}

// Validate checks capture configuration.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", c.Channels)
	}
	if c.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames_per_buffer must be positive, got %d", c.FramesPerBuffer)
	}
	return nil
}
