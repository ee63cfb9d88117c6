// Package voicesession implements the realtime voice-widget engine: it
// captures microphone audio, streams it to a remote voice agent over an
// ordered duplex channel, schedules gapless playback of synthesized speech,
// assembles transcripts, and enforces the session duration limit. One
// Session serves one widget instance; create more instances for more
// widgets, there is no shared global state.
package voicesession

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kettlevoice/widget-core/core/audio"
	"github.com/kettlevoice/widget-core/core/protocol"
	"github.com/kettlevoice/widget-core/core/transport"
)

const defaultMaxDuration = 5 * time.Minute

type Session struct {
	id string

	mu             sync.Mutex
	state          State
	startedAt      time.Time
	muted          bool
	speakerEnabled bool
	released       bool

	// configuration, fixed after NewSession
	socketURL      string
	channelKind    transport.Kind
	channelFactory ChannelFactory
	maxDuration    time.Duration
	audioInput     AudioInput
	audioOutput    AudioOutput
	clock          Clock
	captureOptions CaptureOptions
	bootstrap      *BootstrapClient
	agentID        string

	// per-call wiring, rebuilt by each Start
	capture         *captureEngine
	scheduler       *playbackScheduler
	transcript      *transcriptAggregator
	guard           *durationGuard
	channel         transport.Channel
	events          chan sessionEvent
	quit            chan struct{}
	playbackEndStop *time.Timer
	opts            startOptions

	// streaming gates capture frames until the handshake went out.
	streaming atomic.Bool
}

func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		id:             uuid.NewString(),
		state:          StateIdle,
		channelKind:    transport.KindVoice,
		maxDuration:    defaultMaxDuration,
		captureOptions: defaultCaptureOptions(),
		speakerEnabled: true,
		released:       true,
		transcript:     newTranscriptAggregator(),
	}
	s.channelFactory = s.defaultChannelFactory

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Transcript returns a copy of the finalized turns of the current session.
func (s *Session) Transcript() []TranscriptTurn {
	return s.transcript.History()
}

// SetMuted disables the microphone without tearing the capture graph down,
// so unmute resumes instantly.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	capture := s.capture
	s.mu.Unlock()

	if capture != nil {
		capture.setMuted(muted)
	}
}

func (s *Session) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetSpeakerEnabled gates delivery of scheduled audio to the output device.
// Scheduling state is unaffected, only audibility changes.
func (s *Session) SetSpeakerEnabled(enabled bool) {
	s.mu.Lock()
	s.speakerEnabled = enabled
	scheduler := s.scheduler
	s.mu.Unlock()

	if scheduler != nil {
		scheduler.SetSpeakerEnabled(enabled)
	}
}

func (s *Session) IsSpeakerEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerEnabled
}

// PendingPlayback reports the scheduled items that have not finished playing.
func (s *Session) PendingPlayback() []PlaybackItem {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()

	if scheduler == nil {
		return nil
	}
	return scheduler.Pending()
}

// Start brings the session up: acquires the microphone, opens the transport,
// sends the handshake, and arms the duration guard. It rejects overlapping
// calls with ErrSessionActive; the session reaches Connected once the
// backend's ready event arrives. A Stop arriving while Start is still in
// flight aborts it with ErrSessionStopped, releasing whatever was acquired.
func (s *Session) Start(ctx context.Context, opts ...StartOption) error {
	ctx, span := tracer.Start(ctx, "start voice session")
	defer span.End()

	options := startOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	s.mu.Lock()
	if s.state.active() {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.state = StateConnecting
	s.released = false
	s.opts = options
	s.events = make(chan sessionEvent, 64)
	s.quit = make(chan struct{})
	s.mu.Unlock()

	s.emitState(StateConnecting)
	s.emitStatus("Connecting")

	maxDuration := s.maxDuration
	if s.bootstrap != nil {
		settings, err := s.bootstrap.ResolveSettings(ctx, s.agentID)
		if err != nil {
			return s.abortStart(span, ReasonTransportFailure, fmt.Errorf("failed to resolve session settings: %w", err))
		}
		if settings.SocketURL != "" {
			s.socketURL = settings.SocketURL
		}
		if settings.MaxDurationSeconds > 0 {
			maxDuration = time.Duration(settings.MaxDurationSeconds) * time.Second
		}
	}

	s.transcript.reset()

	scheduler := newPlaybackScheduler(s.clock, s.audioOutput, audio.GetDefaultEncodingInfo())
	capture := newCaptureEngine(s.audioInput, s.sendFrame)
	capture.options = s.captureOptions

	s.mu.Lock()
	if s.startAbortedLocked() {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	s.scheduler = scheduler
	s.capture = capture
	scheduler.SetSpeakerEnabled(s.speakerEnabled)
	capture.setMuted(s.muted)
	s.mu.Unlock()

	// Microphone first: a denied device is an immediate, user-visible
	// failure and nothing else should have been acquired yet.
	if err := capture.start(ctx); err != nil {
		return s.abortStart(span, ReasonPermissionDenied, err)
	}
	if s.startAborted() {
		// Stop won the race before the engine was running; release the
		// device ourselves.
		_ = capture.stop()
		return ErrSessionStopped
	}

	channel, err := s.channelFactory(transport.Callbacks{
		OnMessage:       func(msg protocol.Message) { s.postEvent(messageEvent{msg: msg}) },
		OnProtocolError: func(err error) { s.postEvent(protocolErrorEvent{err: err}) },
		OnClosed:        func(err error) { s.postEvent(transportClosedEvent{err: err}) },
	})
	if err != nil {
		return s.abortStart(span, ReasonTransportFailure, err)
	}

	s.mu.Lock()
	if s.startAbortedLocked() {
		s.mu.Unlock()
		_ = channel.Close()
		_ = capture.stop()
		return ErrSessionStopped
	}
	s.channel = channel
	s.mu.Unlock()

	if err := channel.Connect(ctx); err != nil {
		return s.abortStart(span, ReasonTransportFailure, err)
	}
	if err := channel.Send(protocol.NewStartMessage()); err != nil {
		return s.abortStart(span, ReasonTransportFailure, err)
	}
	s.streaming.Store(true)

	startedAt := time.Now()
	guard := newDurationGuard(maxDuration, func() { s.postEvent(guardExpiredEvent{}) })

	s.mu.Lock()
	if s.startAbortedLocked() {
		s.mu.Unlock()
		s.streaming.Store(false)
		_ = channel.Close()
		_ = capture.stop()
		return ErrSessionStopped
	}
	s.startedAt = startedAt
	s.guard = guard
	events, quit := s.events, s.quit
	s.mu.Unlock()

	guard.Start(startedAt)
	go s.dispatchLoop(events, quit)

	logger.InfoContext(ctx, "voice session started", "session_id", s.id, "kind", string(s.channelKind))
	return nil
}

// Stop tears the session down and returns it to Idle. Idempotent: calling it
// repeatedly, from any state or callback, releases each resource exactly
// once.
func (s *Session) Stop() {
	s.mu.Lock()
	wasActive := s.state.active()
	alreadyIdle := s.state == StateIdle && s.released
	s.mu.Unlock()

	if alreadyIdle {
		return
	}

	if wasActive {
		s.setState(StateDisconnecting)
		s.emitState(StateDisconnecting)
		s.emitStatus("Disconnecting")
	}

	s.release()

	s.setState(StateIdle)
	s.emitState(StateIdle)
	s.emitStatus("Stopped")
}

// fail surfaces an abnormal end: Error state, "Error: <reason>" status, full
// resource release, then automatic recovery to Idle.
func (s *Session) fail(reason FailureReason, cause error) error {
	err := newSessionError(reason, cause)
	logger.Warn("voice session failed", "session_id", s.id, "error", err)

	s.emitStatus("Error: " + string(reason))
	s.setState(StateError)
	s.emitState(StateError)
	s.release()
	s.setState(StateIdle)
	s.emitState(StateIdle)
	return err
}

func (s *Session) abortStart(span trace.Span, reason FailureReason, cause error) error {
	err := s.fail(reason, cause)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// startAbortedLocked reports whether a concurrent Stop (or failure path) tore
// the in-flight Start down while s.mu was dropped around a blocking step.
// Anything Start acquired after that point is its own to release.
func (s *Session) startAbortedLocked() bool {
	return s.released || s.state != StateConnecting
}

func (s *Session) startAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAbortedLocked()
}

// release performs the ordered resource teardown: cancel capture, close the
// transport, discard pending playback and reset the scheduling baseline,
// cancel the duration guard, stop the dispatch loop. Runs at most once per
// Start.
func (s *Session) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	capture := s.capture
	channel := s.channel
	scheduler := s.scheduler
	guard := s.guard
	quit := s.quit
	playbackEndStop := s.playbackEndStop
	s.capture = nil
	s.channel = nil
	s.guard = nil
	s.playbackEndStop = nil
	s.mu.Unlock()

	s.streaming.Store(false)

	if capture != nil {
		if err := capture.stop(); err != nil {
			logger.Warn("failed to release audio capture", "session_id", s.id, "error", err)
		}
	}
	if channel != nil {
		if err := channel.Close(); err != nil {
			logger.Warn("failed to close transport channel", "session_id", s.id, "error", err)
		}
	}
	if scheduler != nil {
		scheduler.Clear()
	}
	if guard != nil {
		guard.Stop()
	}
	if playbackEndStop != nil {
		playbackEndStop.Stop()
	}
	if quit != nil {
		close(quit)
	}
}

// sendFrame forwards one encoded capture frame to the transport, in capture
// order. Runs on the capture pipeline's callback.
func (s *Session) sendFrame(pcm []byte) {
	if !s.streaming.Load() {
		return
	}

	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == nil {
		return
	}

	if err := channel.Send(protocol.NewAudioMessage(pcm)); err != nil {
		// The read loop will surface the disconnect; dropping the frame here
		// keeps the capture callback non-blocking.
		logger.Warn("failed to send capture frame", "session_id", s.id, "error", err)
	}
}

// setState swaps the state and returns the new value, without emitting.
func (s *Session) setState(state State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return state
}

func (s *Session) emitState(state State) {
	if s.opts.onStateChanged != nil {
		s.opts.onStateChanged(state)
	}
}

func (s *Session) emitStatus(status string) {
	if s.opts.onStatus != nil {
		s.opts.onStatus(status)
	}
}
