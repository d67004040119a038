package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/haichaukhuu/finchat-speech-client/internal/capture"
	"github.com/haichaukhuu/finchat-speech-client/internal/protocol"
	"github.com/haichaukhuu/finchat-speech-client/internal/transport"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeConn implements transport.Conn in-process. It acknowledges the session
// configuration automatically and records everything the controller sends.
type fakeConn struct {
	sessionID    string
	rejectConfig string // Non-empty: answer the config with a backend error

	mu       sync.Mutex
	config   *protocol.SessionConfig
	chunks   [][]byte
	ended    bool
	normal   bool
	closeErr error

	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once

	chunkCh chan []byte
	endedCh chan struct{}
}

func newFakeConn(sessionID string) *fakeConn {
	return &fakeConn{
		sessionID: sessionID,
		inbound:   make(chan []byte, 32),
		done:      make(chan struct{}),
		chunkCh:   make(chan []byte, 64),
		endedCh:   make(chan struct{}, 1),
	}
}

func (f *fakeConn) Send(v interface{}) error {
	select {
	case <-f.done:
		return fmt.Errorf("connection closed")
	default:
	}

	switch m := v.(type) {
	case protocol.SessionConfig:
		f.mu.Lock()
		f.config = &m
		f.mu.Unlock()
		if f.rejectConfig != "" {
			f.serverSend(fmt.Sprintf(`{"type":"error","error_message":%q}`, f.rejectConfig))
		} else {
			f.serverSend(fmt.Sprintf(`{"type":"session_started","session_id":%q}`, f.sessionID))
		}
	case protocol.AudioChunk:
		pcm, err := m.DecodeAudioData()
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.chunks = append(f.chunks, pcm)
		f.mu.Unlock()
		select {
		case f.chunkCh <- pcm:
		default:
		}
	case protocol.EndSession:
		f.mu.Lock()
		f.ended = true
		f.mu.Unlock()
		select {
		case f.endedCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *fakeConn) Messages() <-chan []byte { return f.inbound }
func (f *fakeConn) Done() <-chan struct{}  { return f.done }

func (f *fakeConn) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeErr
}

func (f *fakeConn) CloseNormal() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.normal = true
		f.mu.Unlock()
		close(f.done)
	})
}

// failAbnormal simulates the connection dropping without a close frame.
func (f *fakeConn) failAbnormal(err error) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeErr = err
		f.mu.Unlock()
		close(f.done)
	})
}

// serverSend injects one raw backend message.
func (f *fakeConn) serverSend(raw string) {
	f.inbound <- []byte(raw)
}

func (f *fakeConn) sentConfig() *protocol.SessionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

func (f *fakeConn) sentEndSession() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}

func (f *fakeConn) sentChunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

// fakeDialer hands out a queued sequence of connections.
type fakeDialer struct {
	mu    sync.Mutex
	queue []*fakeConn
	errs  []error
	calls int
}

func (d *fakeDialer) dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++

	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(d.queue) == 0 {
		return nil, fmt.Errorf("no more connections queued")
	}
	conn := d.queue[0]
	d.queue = d.queue[1:]
	return conn, nil
}

func (d *fakeDialer) dialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeSource is an inert capture source; the rig injects frames directly
// through the registered handler.
type fakeSource struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (s *fakeSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeSource) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeCaptureRig struct {
	mu      sync.Mutex
	handler capture.Handler
	sources []*fakeSource
	failErr error
}

func (r *fakeCaptureRig) factory(h capture.Handler) (capture.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.handler = h
	s := &fakeSource{}
	r.sources = append(r.sources, s)
	return s, nil
}

// emit pushes one captured frame through the controller's handler.
func (r *fakeCaptureRig) emit(samples []float32) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	h(capture.Frame{Samples: samples, SampleRate: 16000, Channels: 1})
}

func (r *fakeCaptureRig) source(i int) *fakeSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[i]
}

type callbackRecorder struct {
	partials chan Result
	finals   chan Result
	statuses chan State
	errors   chan error
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{
		partials: make(chan Result, 32),
		finals:   make(chan Result, 32),
		statuses: make(chan State, 32),
		errors:   make(chan error, 32),
	}
}

func (r *callbackRecorder) callbacks() Callbacks {
	return Callbacks{
		OnPartial: func(res Result) { r.partials <- res },
		OnFinal:   func(res Result) { r.finals <- res },
		OnStatus:  func(s State) { r.statuses <- s },
		OnError:   func(err error) { r.errors <- err },
	}
}

func testControllerConfig() Config {
	return Config{
		LanguageCode:         "vi-VN",
		EnablePartialResults: true,
		ChunkDuration:        0.05,
		GracePeriod:          500 * time.Millisecond,
		RetryBudget:          1,
		RetryBackoff:         10 * time.Millisecond,
		StartTimeout:         2 * time.Second,
	}
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for session teardown")
	}
}

func waitStatus(t *testing.T, rec *callbackRecorder, want State) {
	t.Helper()
	select {
	case got := <-rec.statuses:
		if got != want {
			t.Fatalf("Expected status %s, got %s", want, got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Timed out waiting for status %s", want)
	}
}

func TestSessionLifecycle(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	if ctrl.SessionID() != "sess-1" {
		t.Errorf("Expected session ID sess-1, got %s", ctrl.SessionID())
	}
	cfg := conn.sentConfig()
	if cfg == nil {
		t.Fatal("Session config was never sent")
	}
	if cfg.LanguageCode != "vi-VN" || cfg.SampleRate != 16000 || !cfg.EnablePartialResults {
		t.Errorf("Unexpected session config: %+v", cfg)
	}

	// One 800-sample frame at 16 kHz fills exactly one 50ms chunk.
	samples := make([]float32, 800)
	for i := range samples {
		samples[i] = 0.25
	}
	rig.emit(samples)

	select {
	case pcm := <-conn.chunkCh:
		if len(pcm) != 1600 {
			t.Errorf("Expected 1600 PCM bytes per chunk, got %d", len(pcm))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for audio chunk")
	}

	conn.serverSend(`{"type":"transcription_result","result":{"transcript":"xin","is_partial":true}}`)
	select {
	case partial := <-rec.partials:
		if partial.Text != "xin" || !partial.IsPartial {
			t.Errorf("Unexpected partial: %+v", partial)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for partial result")
	}

	conn.serverSend(`{"type":"transcription_result","result":{"transcript":"xin chào","is_partial":false,"confidence":0.95,"end_time":1.4}}`)
	select {
	case final := <-rec.finals:
		if final.Text != "xin chào" || final.IsPartial {
			t.Errorf("Unexpected final: %+v", final)
		}
		if final.Confidence == nil || *final.Confidence != 0.95 {
			t.Errorf("Expected confidence 0.95, got %v", final.Confidence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for final result")
	}

	ctrl.Stop()
	waitStatus(t, rec, StateStopping)

	select {
	case <-conn.endedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for end_session")
	}

	conn.serverSend(`{"type":"session_ended","session_id":"sess-1"}`)
	waitStatus(t, rec, StateStopped)
	waitDone(t, ctrl)

	if ctrl.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", ctrl.State())
	}
	if !rig.source(0).isStopped() {
		t.Error("Microphone was not released")
	}
	if len(rec.errors) != 0 {
		t.Errorf("Unexpected error callback: %v", <-rec.errors)
	}
}

func TestFramerTailFlushedOnStop(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	// One full frame plus a 300-sample tail.
	rig.emit(make([]float32, 800))
	select {
	case <-conn.chunkCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for first chunk")
	}
	rig.emit(make([]float32, 300))

	// The tail is below the frame boundary, so it only goes out on stop.
	ctrl.Stop()
	select {
	case pcm := <-conn.chunkCh:
		if len(pcm) != 600 {
			t.Errorf("Expected 600-byte tail chunk, got %d bytes", len(pcm))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for flushed tail")
	}

	conn.serverSend(`{"type":"session_ended","session_id":"sess-1"}`)
	waitDone(t, ctrl)
}

func TestDuplicateFinalIgnored(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	final := `{"type":"transcription_result","result":{"transcript":"hello","is_partial":false,"end_time":2.0}}`
	conn.serverSend(final)
	conn.serverSend(final)

	// A different utterance's final must still come through.
	conn.serverSend(`{"type":"transcription_result","result":{"transcript":"world","is_partial":false,"end_time":4.0}}`)

	ctrl.Stop()
	conn.serverSend(`{"type":"session_ended","session_id":"sess-1"}`)
	waitDone(t, ctrl)

	if len(rec.finals) != 2 {
		t.Fatalf("Expected 2 delivered finals, got %d", len(rec.finals))
	}
	first := <-rec.finals
	second := <-rec.finals
	if first.Text != "hello" || second.Text != "world" {
		t.Errorf("Unexpected finals: %q, %q", first.Text, second.Text)
	}
}

func TestStopWithoutAcknowledgement(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	cfg := testControllerConfig()
	cfg.GracePeriod = 100 * time.Millisecond

	ctrl, err := NewController(testLogger, cfg, rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	// The backend never answers end_session; the grace period must bound
	// the teardown.
	start := time.Now()
	ctrl.Stop()
	waitDone(t, ctrl)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Teardown took %v, expected grace-period bound", elapsed)
	}
	if ctrl.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", ctrl.State())
	}
	if !conn.sentEndSession() {
		t.Error("end_session was never sent")
	}
}

func TestReconnectAfterAbnormalClose(t *testing.T) {
	conn1 := newFakeConn("sess-1")
	conn2 := newFakeConn("sess-2")
	dialer := &fakeDialer{queue: []*fakeConn{conn1, conn2}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	conn1.failAbnormal(errors.New("connection reset"))

	// The controller reconnects within the budget and repeats the full
	// handshake on the new connection.
	deadline := time.Now().Add(3 * time.Second)
	for conn2.sentConfig() == nil {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for reconnect handshake")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if dialer.dialCalls() != 2 {
		t.Errorf("Expected 2 dial calls, got %d", dialer.dialCalls())
	}
	if ctrl.RetryCount() != 1 {
		t.Errorf("Expected retry count 1, got %d", ctrl.RetryCount())
	}
	if ctrl.SessionID() != "sess-2" {
		t.Errorf("Expected new session ID sess-2, got %s", ctrl.SessionID())
	}
	if !rig.source(0).isStopped() {
		t.Error("First microphone source was not released before reconnect")
	}

	ctrl.Stop()
	conn2.serverSend(`{"type":"session_ended","session_id":"sess-2"}`)
	waitDone(t, ctrl)

	if len(rec.errors) != 0 {
		t.Errorf("Reconnect within budget should not surface an error, got %v", <-rec.errors)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	cfg := testControllerConfig()
	cfg.RetryBudget = 0

	ctrl, err := NewController(testLogger, cfg, rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	conn.failAbnormal(errors.New("connection reset"))
	waitDone(t, ctrl)

	select {
	case err := <-rec.errors:
		if err == nil {
			t.Error("Expected non-nil session error")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected error callback after budget exhaustion")
	}

	if ctrl.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", ctrl.State())
	}
	if !rig.source(0).isStopped() {
		t.Error("Microphone was not released")
	}
	if dialer.dialCalls() != 1 {
		t.Errorf("Expected no reconnect attempt, got %d dial calls", dialer.dialCalls())
	}
}

func TestDeviceErrorIsFatal(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{failErr: errors.New("no input device")}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	if err := ctrl.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail on device error")
	}

	// Device errors never consume the retry budget.
	if dialer.dialCalls() != 1 {
		t.Errorf("Expected 1 dial call, got %d", dialer.dialCalls())
	}
	if ctrl.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", ctrl.State())
	}
	waitDone(t, ctrl)
}

func TestBackendRejectsSession(t *testing.T) {
	conn := newFakeConn("sess-1")
	conn.rejectConfig = "unsupported language"
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	err = ctrl.Start(context.Background())
	if err == nil {
		t.Fatal("Expected Start to fail on backend rejection")
	}

	var perr protocolError
	if !errors.As(err, &perr) {
		t.Errorf("Expected a backend protocol error, got %v", err)
	}
	if dialer.dialCalls() != 1 {
		t.Errorf("Backend rejection must not be retried, got %d dial calls", dialer.dialCalls())
	}
}

func TestTransientDialFailureRetried(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{
		queue: []*fakeConn{conn},
		errs:  []error{errors.New("connection refused"), nil},
	}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start should succeed after a transient dial failure: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	if dialer.dialCalls() != 2 {
		t.Errorf("Expected 2 dial calls, got %d", dialer.dialCalls())
	}
	if ctrl.RetryCount() != 1 {
		t.Errorf("Expected retry count 1, got %d", ctrl.RetryCount())
	}

	ctrl.Stop()
	conn.serverSend(`{"type":"session_ended","session_id":"sess-1"}`)
	waitDone(t, ctrl)
}

func TestRestartWaitsForPreviousTeardown(t *testing.T) {
	conn1 := newFakeConn("sess-1")
	conn2 := newFakeConn("sess-2")
	dialer := &fakeDialer{queue: []*fakeConn{conn1, conn2}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	cfg := testControllerConfig()
	cfg.GracePeriod = 100 * time.Millisecond

	ctrl, err := NewController(testLogger, cfg, rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("First Start failed: %v", err)
	}
	firstDone := ctrl.Done()

	// The second Start must force the first session down before opening
	// the new connection.
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	select {
	case <-firstDone:
	default:
		t.Error("Second Start returned before the first session finished teardown")
	}

	if ctrl.SessionID() != "sess-2" {
		t.Errorf("Expected session ID sess-2, got %s", ctrl.SessionID())
	}
	if !conn1.sentEndSession() {
		t.Error("First session was not ended cleanly")
	}

	ctrl.Stop()
	conn2.serverSend(`{"type":"session_ended","session_id":"sess-2"}`)
	waitDone(t, ctrl)
}

func TestMalformedMessagesIgnored(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	conn.serverSend(`not json at all`)
	conn.serverSend(`{"type":"bogus_type"}`)

	// The session survives garbage and still processes real results.
	conn.serverSend(`{"type":"transcription_result","result":{"transcript":"ok","is_partial":false}}`)
	select {
	case final := <-rec.finals:
		if final.Text != "ok" {
			t.Errorf("Expected final 'ok', got %q", final.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for final after malformed messages")
	}

	ctrl.Stop()
	conn.serverSend(`{"type":"session_ended","session_id":"sess-1"}`)
	waitDone(t, ctrl)

	if len(rec.errors) != 0 {
		t.Errorf("Malformed messages must not surface errors, got %v", <-rec.errors)
	}
}

func TestBackendErrorDuringSession(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	conn.serverSend(`{"type":"error","error_message":"internal transcription failure"}`)
	waitDone(t, ctrl)

	select {
	case err := <-rec.errors:
		var perr protocolError
		if !errors.As(err, &perr) {
			t.Errorf("Expected a backend protocol error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected error callback for backend error")
	}

	if ctrl.State() != StateStopped {
		t.Errorf("Expected stopped state, got %s", ctrl.State())
	}
	if !rig.source(0).isStopped() {
		t.Error("Microphone was not released")
	}
}

func TestLastPartialTracksLatest(t *testing.T) {
	conn := newFakeConn("sess-1")
	dialer := &fakeDialer{queue: []*fakeConn{conn}}
	rig := &fakeCaptureRig{}
	rec := newCallbackRecorder()

	ctrl, err := NewController(testLogger, testControllerConfig(), rec.callbacks(),
		Deps{Dial: dialer.dial, NewSource: rig.factory})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitStatus(t, rec, StateRecording)

	conn.serverSend(`{"type":"transcription_result","result":{"transcript":"the","is_partial":true}}`)
	<-rec.partials
	conn.serverSend(`{"type":"transcription_result","result":{"transcript":"the quick","is_partial":true}}`)
	<-rec.partials

	if ctrl.LastPartial() != "the quick" {
		t.Errorf("Expected last partial 'the quick', got %q", ctrl.LastPartial())
	}

	// A final clears the pending partial.
	conn.serverSend(`{"type":"transcription_result","result":{"transcript":"the quick fox","is_partial":false}}`)
	<-rec.finals

	if ctrl.LastPartial() != "" {
		t.Errorf("Final should clear the pending partial, got %q", ctrl.LastPartial())
	}

	ctrl.Stop()
	conn.serverSend(`{"type":"session_ended","session_id":"sess-1"}`)
	waitDone(t, ctrl)
}

func TestStateStrings(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateRecording, "recording"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String(): expected %q, got %q", tt.state, tt.want, got)
		}
	}
}

func TestNewControllerValidation(t *testing.T) {
	rig := &fakeCaptureRig{}
	dialer := &fakeDialer{}

	if _, err := NewController(testLogger, testControllerConfig(), Callbacks{},
		Deps{NewSource: rig.factory}); err == nil {
		t.Error("Expected error for missing dial function")
	}

	if _, err := NewController(testLogger, testControllerConfig(), Callbacks{},
		Deps{Dial: dialer.dial}); err == nil {
		t.Error("Expected error for missing capture factory")
	}

	cfg := testControllerConfig()
	cfg.LanguageCode = ""
	if _, err := NewController(testLogger, cfg, Callbacks{},
		Deps{Dial: dialer.dial, NewSource: rig.factory}); err == nil {
		t.Error("Expected error for empty language code")
	}
}
