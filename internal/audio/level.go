package audio

import (
	"math"
	"sync"
)

// Level describes the loudness of one captured frame.
type Level struct {
	RMS  float32 // Root-mean-square energy in [0, 1]
	Peak float32 // Largest absolute sample in [0, 1]
}

// LevelMeter computes smoothed frame energy on the capture path so the
// embedding UI can drive an input-level indicator. Processing is O(frame)
// with no allocation.
type LevelMeter struct {
	smoothing float32 // Exponential smoothing factor for the RMS value
	smoothed  float32

	// Statistics
	framesProcessed uint64
	maxPeak         float32

	mu sync.Mutex
}

// NewLevelMeter creates a level meter. Smoothing must be in [0, 1); higher
// values react slower.
func NewLevelMeter(smoothing float32) *LevelMeter {
	if smoothing < 0 || smoothing >= 1 {
		smoothing = 0.7
	}
	return &LevelMeter{smoothing: smoothing}
}

// Process computes the level of one frame and folds it into the smoothed
// running value.
func (m *LevelMeter) Process(samples []float32) Level {
	if len(samples) == 0 {
		return Level{}
	}

	var sum float64
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
		sum += float64(s) * float64(s)
	}
	rms := float32(math.Sqrt(sum / float64(len(samples))))

	m.mu.Lock()
	m.smoothed = m.smoothing*m.smoothed + (1-m.smoothing)*rms
	m.framesProcessed++
	if peak > m.maxPeak {
		m.maxPeak = peak
	}
	smoothed := m.smoothed
	m.mu.Unlock()

	return Level{RMS: smoothed, Peak: peak}
}

// Reset clears the smoothed value between sessions.
func (m *LevelMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.smoothed = 0
	m.maxPeak = 0
}

// FramesProcessed returns how many frames the meter has seen.
func (m *LevelMeter) FramesProcessed() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framesProcessed
}

// MaxPeak returns the largest peak observed since the last reset.
func (m *LevelMeter) MaxPeak() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxPeak
}
