package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Microphone captures audio from the default input device via PortAudio.
type Microphone struct {
	config  Config
	handler Handler

	stream *portaudio.Stream
	buffer []float32

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewMicrophone creates a microphone source. The device is not touched until
// Start.
func NewMicrophone(config Config, handler Handler) (*Microphone, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	return &Microphone{
		config:  config,
		handler: handler,
		buffer:  make([]float32, config.FramesPerBuffer),
		stopCh:  make(chan struct{}),
	}, nil
}

// MicrophoneFactory returns a Factory producing microphones with the given
// configuration.
func MicrophoneFactory(config Config) Factory {
	return func(handler Handler) (Source, error) {
		return NewMicrophone(config, handler)
	}
}

// Start opens the default input device and begins delivering frames to the
// handler on a dedicated goroutine. Device failures are fatal; the caller
// does not retry them.
func (m *Microphone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("microphone already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("microphone unavailable: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(
		m.config.Channels, 0, float64(m.config.SampleRate), m.config.FramesPerBuffer, m.buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open input device: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	m.stream = stream
	m.started = true

	m.wg.Add(1)
	go m.captureLoop()

	return nil
}

// captureLoop reads device buffers and hands copies to the handler. The copy
// is required because PortAudio reuses the underlying buffer.
func (m *Microphone) captureLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			// Read fails once the stream is stopped; treat anything
			// after a stop request as shutdown.
			select {
			case <-m.stopCh:
			default:
			}
			return
		}

		samples := make([]float32, len(m.buffer))
		copy(samples, m.buffer)

		m.handler(Frame{
			Samples:    samples,
			SampleRate: m.config.SampleRate,
			Channels:   m.config.Channels,
		})
	}
}

// Stop halts capture and releases the device. Safe to call from any state and
// more than once.
func (m *Microphone) Stop() error {
	var err error
	m.stopped.Do(func() {
		close(m.stopCh)

		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.started {
			return
		}

		if stopErr := m.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop input stream: %w", stopErr)
		}
		m.wg.Wait()

		if closeErr := m.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close input stream: %w", closeErr)
		}
		if termErr := portaudio.Terminate(); termErr != nil && err == nil {
			err = fmt.Errorf("failed to terminate portaudio: %w", termErr)
		}
		m.started = false
	})
	return err
}
