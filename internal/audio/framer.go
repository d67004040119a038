package audio

import (
	"fmt"
	"sync"
)

// FramerConfig contains configuration for the framing process.
type FramerConfig struct {
	SampleRate    int     // Target sample rate of incoming samples (16000 Hz)
	ChunkDuration float64 // Frame duration in seconds (e.g. 0.05 for 50 ms)
	MaxChunkBytes int     // Transport payload limit for a single chunk
}

// Framer accumulates resampled audio samples and slices them into
// fixed-duration frames. Frames whose PCM encoding exceeds the transport
// payload limit are split into ordered sub-chunks. Samples left over after a
// frame boundary are retained for the next call, so no sample is ever dropped
// or duplicated across calls.
type Framer struct {
	config    FramerConfig
	frameSize int // samples per frame

	pending []float32

	// Statistics
	framesEmitted uint64
	chunksSplit   uint64

	mu sync.Mutex
}

// FramerStats represents framer statistics for monitoring.
type FramerStats struct {
	FramesEmitted  uint64 `json:"frames_emitted"`
	ChunksSplit    uint64 `json:"chunks_split"`
	PendingSamples int    `json:"pending_samples"`
}

// NewFramer creates a new framer. ChunkDuration and SampleRate determine the
// frame size in samples; MaxChunkBytes bounds each emitted chunk.
func NewFramer(config FramerConfig) (*Framer, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.ChunkDuration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %f", config.ChunkDuration)
	}
	if config.MaxChunkBytes <= 0 {
		return nil, fmt.Errorf("max chunk bytes must be positive, got %d", config.MaxChunkBytes)
	}

	frameSize := int(float64(config.SampleRate) * config.ChunkDuration)
	if frameSize == 0 {
		return nil, fmt.Errorf("frame size is zero for rate %d and duration %f",
			config.SampleRate, config.ChunkDuration)
	}

	return &Framer{
		config:    config,
		frameSize: frameSize,
		pending:   make([]float32, 0, frameSize*2),
	}, nil
}

// Push adds resampled samples to the accumulator and returns zero or more
// PCM-encoded chunks, each no larger than MaxChunkBytes. Sub-chunks of an
// oversized frame appear consecutively in order and are never interleaved
// with a later frame's bytes.
func (f *Framer) Push(samples []float32) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, samples...)

	var chunks [][]byte
	for len(f.pending) >= f.frameSize {
		frame := f.pending[:f.frameSize]
		pcm := EncodePCM16(frame)

		// Shift the remainder down instead of reslicing so the backing
		// array does not grow without bound.
		n := copy(f.pending, f.pending[f.frameSize:])
		f.pending = f.pending[:n]

		f.framesEmitted++

		sub := SplitChunk(pcm, f.config.MaxChunkBytes)
		if len(sub) > 1 {
			f.chunksSplit += uint64(len(sub) - 1)
		}
		chunks = append(chunks, sub...)
	}

	return chunks
}

// Flush encodes and returns any samples accumulated since the last full frame
// boundary, split against the payload limit. It returns nil when nothing is
// pending. Used when a session ends so the tail of the utterance is not lost.
func (f *Framer) Flush() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return nil
	}

	pcm := EncodePCM16(f.pending)
	f.pending = f.pending[:0]
	f.framesEmitted++

	return SplitChunk(pcm, f.config.MaxChunkBytes)
}

// Reset discards all accumulated samples. Called when a session is torn down
// without a flush, for example before a reconnect.
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = f.pending[:0]
}

// FrameSize returns the number of samples per emitted frame.
func (f *Framer) FrameSize() int {
	return f.frameSize
}

// PendingSamples returns the number of samples retained since the last frame
// boundary.
func (f *Framer) PendingSamples() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// GetStats returns current framer statistics.
func (f *Framer) GetStats() FramerStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return FramerStats{
		FramesEmitted:  f.framesEmitted,
		ChunksSplit:    f.chunksSplit,
		PendingSamples: len(f.pending),
	}
}

// SplitChunk splits a PCM buffer into ceil(len/limit) ordered sub-chunks of at
// most limit bytes each. A buffer within the limit is returned as a single
// chunk. The concatenation of the sub-chunks reconstructs the input exactly.
func SplitChunk(pcm []byte, limit int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if len(pcm) <= limit {
		return [][]byte{pcm}
	}

	n := (len(pcm) + limit - 1) / limit
	chunks := make([][]byte, 0, n)
	for start := 0; start < len(pcm); start += limit {
		end := start + limit
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, pcm[start:end])
	}

	return chunks
}
