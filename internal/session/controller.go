package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haichaukhuu/finchat-speech-client/internal/audio"
	"github.com/haichaukhuu/finchat-speech-client/internal/capture"
	"github.com/haichaukhuu/finchat-speech-client/internal/metrics"
	"github.com/haichaukhuu/finchat-speech-client/internal/protocol"
	"github.com/haichaukhuu/finchat-speech-client/internal/transport"
)

const (
	defaultStartTimeout   = 10 * time.Second
	defaultGracePeriod    = 3 * time.Second
	defaultRetryBudget    = 1
	defaultRetryBackoff   = 2 * time.Second
	defaultChunkDuration  = 0.05
	defaultFrameQueueSize = 32
)

// Result is one transcription hypothesis delivered to the application.
// Partial results are superseded by later partials or by the final result.
type Result struct {
	Text         string
	IsPartial    bool
	Confidence   *float64
	StartTime    *float64
	EndTime      *float64
	Alternatives []string
}

// Callbacks are the observer hooks the embedding application registers.
// All callbacks are invoked from the controller's event loop, never from the
// audio capture path.
type Callbacks struct {
	OnPartial func(Result)
	OnFinal   func(Result)
	OnStatus  func(State)
	OnError   func(error)
}

// Config contains session parameters. Fields left zero fall back to defaults.
type Config struct {
	LanguageCode         string
	EnablePartialResults bool

	ChunkDuration   float64       // Seconds of audio per outbound frame
	MaxChunkBytes   int           // Transport payload limit per chunk
	InterChunkDelay time.Duration // Pacing between sub-chunks of a split frame

	GracePeriod  time.Duration // Wait for session_ended after end_session
	RetryBudget  int           // Reconnect attempts after abnormal loss
	RetryBackoff time.Duration // Delay before each reconnect attempt
	StartTimeout time.Duration // Bound on dial + session_started handshake

	RecordingDir   string // Non-empty enables the outbound-audio WAV dump
	FrameQueueSize int    // Capture-to-loop queue depth
}

// Deps are the controller's injectable collaborators.
type Deps struct {
	Dial      transport.DialFunc
	NewSource capture.Factory
	Metrics   *metrics.Metrics // May be nil
}

// Controller drives exactly one recording session at a time through the
// idle → connecting → recording → stopping → stopped lifecycle. A new Start
// while a previous session is active or mid-teardown first waits for that
// session's full teardown.
type Controller struct {
	logger    *slog.Logger
	config    Config
	callbacks Callbacks
	deps      Deps

	mu          sync.Mutex
	state       State
	sessionID   string
	lastPartial string
	retryCount  int

	// Per-run plumbing, rebuilt by Start.
	stopOnce *sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	frames   chan []float32

	framer   *audio.Framer
	levels   *audio.LevelMeter
	recorder *audio.Recorder
	source   capture.Source
	conn     transport.Conn

	startTime time.Time

	// Final-result dedup: an utterance is open from its first partial until
	// its final; a repeated final for a closed utterance is dropped.
	utteranceOpen bool
	lastFinalKey  string
}

// NewController creates a session controller.
func NewController(logger *slog.Logger, config Config, callbacks Callbacks, deps Deps) (*Controller, error) {
	if deps.Dial == nil {
		return nil, fmt.Errorf("dial function cannot be nil")
	}
	if deps.NewSource == nil {
		return nil, fmt.Errorf("capture factory cannot be nil")
	}
	if config.LanguageCode == "" {
		return nil, fmt.Errorf("language code cannot be empty")
	}

	if config.ChunkDuration <= 0 {
		config.ChunkDuration = defaultChunkDuration
	}
	if config.MaxChunkBytes <= 0 {
		config.MaxChunkBytes = protocol.MaxChunkBytes
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = defaultGracePeriod
	}
	if config.RetryBudget < 0 {
		config.RetryBudget = defaultRetryBudget
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaultRetryBackoff
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = defaultStartTimeout
	}
	if config.FrameQueueSize <= 0 {
		config.FrameQueueSize = defaultFrameQueueSize
	}

	return &Controller{
		logger:    logger,
		config:    config,
		callbacks: callbacks,
		deps:      deps,
		state:     StateIdle,
	}, nil
}

// Start begins a new recording session: it tears down any previous session,
// opens the channel, performs the configuration handshake, acquires the
// microphone, and transitions to recording. Device and handshake failures are
// returned and also surfaced through the error callback; transient connect
// failures are retried within the retry budget first.
func (c *Controller) Start(ctx context.Context) error {
	c.waitPreviousTeardown()

	c.mu.Lock()
	c.state = StateConnecting
	c.sessionID = ""
	c.lastPartial = ""
	c.retryCount = 0
	c.stopOnce = &sync.Once{}
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.frames = make(chan []float32, c.config.FrameQueueSize)
	c.utteranceOpen = true
	c.lastFinalKey = ""
	c.mu.Unlock()

	framer, err := audio.NewFramer(audio.FramerConfig{
		SampleRate:    protocol.TargetSampleRate,
		ChunkDuration: c.config.ChunkDuration,
		MaxChunkBytes: c.config.MaxChunkBytes,
	})
	if err != nil {
		return c.failStart(fmt.Errorf("failed to create framer: %w", err))
	}
	c.framer = framer
	c.levels = audio.NewLevelMeter(0.7)
	if c.config.RecordingDir != "" {
		c.recorder = audio.NewRecorder(protocol.TargetSampleRate)
	} else {
		c.recorder = nil
	}

	for {
		err = c.connect(ctx)
		if err == nil {
			break
		}
		if !retryable(err) || !c.consumeRetry() {
			return c.failStart(err)
		}
		c.logger.Warn("Connect failed, retrying",
			slog.Int("attempt", c.RetryCount()),
			slog.String("error", err.Error()),
		)
		if !c.sleepBackoff(ctx) {
			return c.failStart(errSessionStopped)
		}
	}

	c.mu.Lock()
	c.state = StateRecording
	c.startTime = time.Now()
	c.mu.Unlock()
	c.emitStatus(StateRecording)
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordSessionStarted()
	}

	c.logger.Info("Recording session started",
		slog.String("session_id", c.SessionID()),
		slog.String("language", c.config.LanguageCode),
	)

	go c.run(ctx)

	return nil
}

// Stop requests teardown. Safe to invoke from any state and more than once;
// it disables further capture immediately while chunks already handed to the
// transport finish delivery. The controller reaches stopped within the grace
// period even if the backend never acknowledges.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle || c.state.terminal() || c.stopOnce == nil {
		return
	}
	stopCh := c.stopCh
	c.stopOnce.Do(func() { close(stopCh) })
}

// Done returns a channel closed once the current session reaches stopped.
// Returns a closed channel when no session was ever started.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the backend-assigned session identifier, empty until the
// backend acknowledges session start.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastPartial returns the most recent partial transcript. Each new partial
// replaces the previous one.
func (c *Controller) LastPartial() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPartial
}

// RetryCount returns how many reconnect attempts the current session has
// consumed. Part of the state machine's transition data so retry semantics
// are independently testable.
func (c *Controller) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// waitPreviousTeardown forces teardown of an active session and blocks until
// it completes, preserving the at-most-one-active-session invariant.
func (c *Controller) waitPreviousTeardown() {
	c.mu.Lock()
	if c.done == nil || c.state == StateIdle || c.state.terminal() {
		c.mu.Unlock()
		return
	}
	prevDone := c.done
	c.mu.Unlock()

	c.logger.Info("Waiting for previous session teardown")
	c.Stop()
	<-prevDone
}

// connect performs one full connection attempt: dial, send the session
// configuration, wait for the backend acknowledgement, then acquire the
// microphone. No audio is sent before session_started arrives.
func (c *Controller) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.StartTimeout)
	defer cancel()

	conn, err := c.deps.Dial(dialCtx)
	if err != nil {
		return transportError{err: err}
	}

	cfg := protocol.SessionConfig{
		LanguageCode:         c.config.LanguageCode,
		SampleRate:           protocol.TargetSampleRate,
		EnablePartialResults: c.config.EnablePartialResults,
	}
	if err := cfg.Validate(); err != nil {
		conn.CloseNormal()
		return fmt.Errorf("invalid session config: %w", err)
	}
	if err := conn.Send(cfg); err != nil {
		conn.CloseNormal()
		return transportError{err: fmt.Errorf("failed to send session config: %w", err)}
	}

	sessionID, err := c.awaitSessionStarted(ctx, conn)
	if err != nil {
		conn.CloseNormal()
		return err
	}

	source, err := c.deps.NewSource(c.onFrame)
	if err != nil {
		conn.CloseNormal()
		return deviceError{err: err}
	}
	if err := source.Start(); err != nil {
		conn.CloseNormal()
		return deviceError{err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.source = source
	c.sessionID = sessionID
	c.utteranceOpen = true
	c.mu.Unlock()

	return nil
}

// awaitSessionStarted reads inbound messages until the backend acknowledges
// the session, rejects it, or the handshake times out.
func (c *Controller) awaitSessionStarted(ctx context.Context, conn transport.Conn) (string, error) {
	timeout := time.NewTimer(c.config.StartTimeout)
	defer timeout.Stop()

	for {
		select {
		case raw, ok := <-conn.Messages():
			if !ok {
				return "", transportError{err: fmt.Errorf("channel closed during handshake")}
			}
			msg, err := protocol.ParseServerMessage(raw)
			if err != nil {
				c.logger.Warn("Ignoring malformed handshake message", slog.String("error", err.Error()))
				continue
			}
			switch msg.Type {
			case protocol.TypeSessionStarted:
				return msg.SessionID, nil
			case protocol.TypeError:
				return "", protocolError{message: msg.ErrorMessage}
			default:
				c.logger.Warn("Unexpected message during handshake", slog.String("type", msg.Type))
			}
		case <-conn.Done():
			err := conn.Err()
			if err == nil {
				err = fmt.Errorf("channel closed during handshake")
			}
			return "", transportError{err: err}
		case <-timeout.C:
			return "", transportError{err: fmt.Errorf("timed out waiting for session_started")}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// onFrame runs on the capture goroutine: resample, meter, enqueue. It never
// blocks; when the loop is behind, the frame is dropped and counted.
func (c *Controller) onFrame(f capture.Frame) {
	samples := audio.Resample(f.Samples, f.SampleRate, protocol.TargetSampleRate)
	level := c.levels.Process(samples)
	if c.deps.Metrics != nil {
		c.deps.Metrics.SetInputLevel(float64(level.RMS))
	}

	select {
	case c.frames <- samples:
	default:
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordFrameDropped()
		}
	}
}

// run is the controller's event loop. Capture, outbound send, inbound message
// handling, the grace timer, and reconnection all execute here, confined to a
// single goroutine.
func (c *Controller) run(ctx context.Context) {
	conn := c.currentConn()
	msgs := conn.Messages()

	// Both fire once and then stay ready, so their cases disarm themselves
	// after the first trigger.
	stopC := c.stopCh
	ctxDone := ctx.Done()

	var graceTimer *time.Timer
	var graceC <-chan time.Time
	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	stopping := func() {
		if c.State() != StateRecording {
			return
		}
		c.beginStopping(conn)
		graceTimer = time.NewTimer(c.config.GracePeriod)
		graceC = graceTimer.C
	}

	for {
		select {
		case samples := <-c.frames:
			if c.State() == StateRecording {
				c.sendChunks(conn, c.framer.Push(samples))
			}

		case raw, ok := <-msgs:
			if !ok {
				// Channel drained; closure is handled via Done.
				msgs = nil
				continue
			}
			if c.handleMessage(raw) {
				c.finishTeardown(conn, nil)
				return
			}

		case <-conn.Done():
			err := conn.Err()
			if c.State() == StateStopping || err == nil {
				// Intentional or clean closure: finish teardown. A clean
				// close while recording means the backend ended the
				// session; there is nothing to reconnect to.
				c.finishTeardown(conn, nil)
				return
			}

			next, rerr := c.reconnect(ctx, err)
			if rerr != nil {
				if errors.Is(rerr, errSessionStopped) {
					rerr = nil
				}
				c.finishTeardown(conn, rerr)
				return
			}
			conn = next
			msgs = conn.Messages()

		case <-graceC:
			c.logger.Warn("Grace period expired without session_ended",
				slog.String("session_id", c.SessionID()),
			)
			c.finishTeardown(conn, nil)
			return

		case <-stopC:
			stopC = nil
			stopping()

		case <-ctxDone:
			ctxDone = nil
			stopping()
		}
	}
}

// beginStopping transitions recording → stopping: capture stops immediately,
// the framer tail is flushed, and the end-of-session message is sent. The
// caller arms the grace timer.
func (c *Controller) beginStopping(conn transport.Conn) {
	c.mu.Lock()
	c.state = StateStopping
	source := c.source
	c.mu.Unlock()
	c.emitStatus(StateStopping)

	if source != nil {
		if err := source.Stop(); err != nil {
			c.logger.Warn("Error releasing microphone", slog.String("error", err.Error()))
		}
	}

	// Pick up frames the capture path handed off before the stop was
	// observed, then flush the partial frame so the tail of the utterance
	// reaches the backend before end_session.
drain:
	for {
		select {
		case samples := <-c.frames:
			c.sendChunks(conn, c.framer.Push(samples))
		default:
			break drain
		}
	}
	c.sendChunks(conn, c.framer.Flush())

	if err := conn.Send(protocol.NewEndSession()); err != nil {
		c.logger.Warn("Failed to send end_session", slog.String("error", err.Error()))
	}

	c.logger.Info("Session stopping",
		slog.String("session_id", c.SessionID()),
		slog.Duration("grace_period", c.config.GracePeriod),
	)
}

// reconnect tears down the dead connection's capture side and retries the
// full connect sequence within the retry budget. It returns the new
// connection, or an error once the budget is exhausted.
func (c *Controller) reconnect(ctx context.Context, cause error) (transport.Conn, error) {
	c.releaseCapture()
	c.framer.Reset()
	c.levels.Reset()

	for {
		if !c.consumeRetry() {
			return nil, fmt.Errorf("connection lost and retry budget exhausted: %w", cause)
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordReconnect()
		}
		c.logger.Warn("Channel lost, reconnecting",
			slog.Int("attempt", c.RetryCount()),
			slog.String("cause", cause.Error()),
		)

		if !c.sleepBackoff(ctx) {
			return nil, errSessionStopped
		}

		err := c.connect(ctx)
		if err == nil {
			conn := c.currentConn()
			c.logger.Info("Reconnected",
				slog.String("session_id", c.SessionID()),
				slog.Int("retries", c.RetryCount()),
			)
			return conn, nil
		}
		if !retryable(err) {
			return nil, err
		}
		cause = err
	}
}

// consumeRetry claims one unit of the retry budget. Returns false when the
// budget is exhausted.
func (c *Controller) consumeRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryCount >= c.config.RetryBudget {
		return false
	}
	c.retryCount++
	return true
}

// sleepBackoff waits the configured backoff, returning false if the session
// was stopped or the context cancelled meanwhile.
func (c *Controller) sleepBackoff(ctx context.Context) bool {
	timer := time.NewTimer(c.config.RetryBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// sendChunks hands encoded chunks to the transport in order, pacing
// consecutive sends so a split frame does not saturate the channel.
func (c *Controller) sendChunks(conn transport.Conn, chunks [][]byte) {
	for i, pcm := range chunks {
		if i > 0 && c.config.InterChunkDelay > 0 {
			time.Sleep(c.config.InterChunkDelay)
		}
		if c.recorder != nil {
			c.recorder.Append(pcm)
		}
		if err := conn.Send(protocol.NewAudioChunk(pcm)); err != nil {
			c.logger.Warn("Failed to send audio chunk", slog.String("error", err.Error()))
			return
		}
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordChunkSent(len(pcm))
			if len(chunks) > 1 {
				c.deps.Metrics.RecordChunkSplits(1)
			}
		}
	}
}

// handleMessage interprets one inbound message. It returns true when the
// session should finish teardown.
func (c *Controller) handleMessage(raw []byte) bool {
	msg, err := protocol.ParseServerMessage(raw)
	if err != nil {
		c.logger.Warn("Ignoring malformed server message", slog.String("error", err.Error()))
		return false
	}

	switch msg.Type {
	case protocol.TypeSessionStarted:
		// Late acknowledgement, e.g. duplicated by the backend.
		c.mu.Lock()
		c.sessionID = msg.SessionID
		c.mu.Unlock()
		return false

	case protocol.TypeTranscriptionResult:
		// Results arriving after stop() but before stopped are still
		// delivered; the backend flushes during the grace period.
		c.dispatchResult(msg.Result)
		return false

	case protocol.TypeSessionEnded:
		c.logger.Info("Backend ended session", slog.String("session_id", msg.SessionID))
		return true

	case protocol.TypeError:
		c.emitError(protocolError{message: msg.ErrorMessage})
		return true

	default:
		return false
	}
}

// dispatchResult routes one transcription result, enforcing at most one final
// per utterance.
func (c *Controller) dispatchResult(r *protocol.TranscriptionResult) {
	result := Result{
		Text:         r.Transcript,
		IsPartial:    r.IsPartial,
		Confidence:   r.Confidence,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		Alternatives: r.Alternatives,
	}

	if r.IsPartial {
		c.mu.Lock()
		c.lastPartial = r.Transcript
		c.utteranceOpen = true
		c.mu.Unlock()

		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordPartialResult()
		}
		if c.callbacks.OnPartial != nil {
			c.callbacks.OnPartial(result)
		}
		return
	}

	key := finalKey(r)
	c.mu.Lock()
	if !c.utteranceOpen && key == c.lastFinalKey {
		c.mu.Unlock()
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordDuplicateFinal()
		}
		c.logger.Debug("Ignoring retransmitted final result")
		return
	}
	c.utteranceOpen = false
	c.lastFinalKey = key
	c.lastPartial = ""
	c.mu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordFinalResult()
	}
	if c.callbacks.OnFinal != nil {
		c.callbacks.OnFinal(result)
	}
}

// finalKey identifies an utterance's final result for retransmission
// detection.
func finalKey(r *protocol.TranscriptionResult) string {
	end := float64(-1)
	if r.EndTime != nil {
		end = *r.EndTime
	}
	return fmt.Sprintf("%s|%f", r.Transcript, end)
}

// releaseCapture stops the microphone if one is held.
func (c *Controller) releaseCapture() {
	c.mu.Lock()
	source := c.source
	c.source = nil
	c.mu.Unlock()

	if source != nil {
		if err := source.Stop(); err != nil {
			c.logger.Warn("Error releasing microphone", slog.String("error", err.Error()))
		}
	}
}

// finishTeardown releases all resources, writes the optional recording, and
// transitions to stopped, emitting the error callback when cause is fatal.
func (c *Controller) finishTeardown(conn transport.Conn, cause error) {
	c.releaseCapture()

	if conn != nil {
		conn.CloseNormal()
	}

	if c.recorder != nil && c.recorder.Len() > 0 {
		path, err := c.recorder.WriteFile(c.config.RecordingDir, c.recordingName())
		if err != nil {
			c.logger.Warn("Failed to write session recording", slog.String("error", err.Error()))
		} else if path != "" {
			c.logger.Info("Session recording written", slog.String("path", path))
		}
	}

	c.mu.Lock()
	c.state = StateStopped
	startTime := c.startTime
	done := c.done
	c.mu.Unlock()

	if cause != nil {
		c.emitError(cause)
	}

	if c.deps.Metrics != nil && !startTime.IsZero() {
		c.deps.Metrics.RecordSessionEnded(time.Since(startTime).Seconds())
	}

	c.emitStatus(StateStopped)
	c.logger.Info("Session stopped", slog.String("session_id", c.SessionID()))

	close(done)
}

// failStart funnels a fatal start failure through the error callback and
// leaves the controller stopped.
func (c *Controller) failStart(err error) error {
	c.mu.Lock()
	c.state = StateStopped
	done := c.done
	c.mu.Unlock()

	c.emitError(err)
	c.emitStatus(StateStopped)
	close(done)

	return err
}

// recordingName picks a stable name for the session WAV file.
func (c *Controller) recordingName() string {
	if id := c.SessionID(); id != "" {
		return id
	}
	return fmt.Sprintf("%d", time.Now().Unix())
}

// currentConn returns the connection owned by the running session.
func (c *Controller) currentConn() transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// emitStatus invokes the status callback.
func (c *Controller) emitStatus(s State) {
	if c.callbacks.OnStatus != nil {
		c.callbacks.OnStatus(s)
	}
}

// emitError funnels a fatal condition through the single error callback.
func (c *Controller) emitError(err error) {
	c.logger.Error("Session error", slog.String("error", err.Error()))
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordSessionError()
	}
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}
