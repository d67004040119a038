package audio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Recorder accumulates the PCM bytes a session sends to the backend and can
// write them out as a WAV file once the session ends. Used as a debugging aid
// to verify what audio actually went over the wire.
type Recorder struct {
	sampleRate int
	buf        bytes.Buffer
	mu         sync.Mutex
}

// NewRecorder creates a recorder for PCM-16 data at the given sample rate.
func NewRecorder(sampleRate int) *Recorder {
	return &Recorder{sampleRate: sampleRate}
}

// Append adds outbound PCM bytes to the recording.
func (r *Recorder) Append(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(pcm)
}

// Len returns the number of PCM bytes recorded so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// WriteFile encodes the recording as WAV and writes it into dir using the
// session identifier as the file name. Recording nothing is not an error; the
// call is a no-op then.
func (r *Recorder) WriteFile(dir, sessionID string) (string, error) {
	r.mu.Lock()
	data := r.buf.Bytes()
	r.mu.Unlock()

	if len(data) == 0 {
		return "", nil
	}

	wav, err := EncodeWAV(PCM16ToSamples(data), r.sampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode session recording: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("session_%s.wav", sessionID))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("failed to write session recording: %w", err)
	}

	return path, nil
}
