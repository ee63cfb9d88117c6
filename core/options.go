package voicesession

import (
	"context"
	"time"

	"github.com/kettlevoice/widget-core/core/audio"
	"github.com/kettlevoice/widget-core/core/protocol"
	"github.com/kettlevoice/widget-core/core/transport"
	"github.com/kettlevoice/widget-core/core/transport/ws"
)

type SessionOption func(*Session)

// AudioInput is the device-facing capture client contract. StartCapture must
// return only after the device is acquired and streaming; onAudio receives
// PCM16 at the client's EncodingInfo rate, in capture order.
type AudioInput interface {
	StartCapture(ctx context.Context, onAudio func(pcm []byte)) error
	StopCapture() error
	Close() error
	EncodingInfo() audio.EncodingInfo
}

// AudioOutput is the device sink consuming scheduled playback audio.
// ClearBuffer drops everything not yet played.
type AudioOutput interface {
	SendAudio(pcm []byte) error
	ClearBuffer()
}

// ChannelFactory builds the transport for one Start call, wiring the
// session's callbacks into it. The session owns the returned channel.
type ChannelFactory func(callbacks transport.Callbacks) (transport.Channel, error)

func WithAudioInput(client AudioInput) SessionOption {
	return func(s *Session) { s.audioInput = client }
}

func WithAudioOutput(sink AudioOutput) SessionOption {
	return func(s *Session) { s.audioOutput = sink }
}

// WithSocketURL points the default websocket factory at the agent endpoint.
func WithSocketURL(url string) SessionOption {
	return func(s *Session) { s.socketURL = url }
}

// WithChannelKind selects the transport reconnect policy. Defaults to voice.
func WithChannelKind(kind transport.Kind) SessionOption {
	return func(s *Session) { s.channelKind = kind }
}

// WithChannelFactory replaces the default websocket transport entirely.
func WithChannelFactory(factory ChannelFactory) SessionOption {
	return func(s *Session) { s.channelFactory = factory }
}

// WithMaxDuration caps the session length; the guard force-stops within one
// second of the limit. Defaults to five minutes.
func WithMaxDuration(maxDuration time.Duration) SessionOption {
	return func(s *Session) { s.maxDuration = maxDuration }
}

// WithBootstrap resolves the socket URL and limits from the hosting API at
// Start instead of static configuration.
func WithBootstrap(client *BootstrapClient, agentID string) SessionOption {
	return func(s *Session) {
		s.bootstrap = client
		s.agentID = agentID
	}
}

// WithClock overrides the output audio clock; tests use this to make
// scheduling deterministic.
func WithClock(clock Clock) SessionOption {
	return func(s *Session) { s.clock = clock }
}

func WithCaptureOptions(options CaptureOptions) SessionOption {
	return func(s *Session) { s.captureOptions = options }
}

type StartOption func(*startOptions)

type startOptions struct {
	onStateChanged      func(state State)
	onStatus            func(status string)
	onTranscript        func(turn TranscriptTurn)
	onInterimTranscript func(role protocol.Role, text string)
	onToolExecuted      func(tool string, success bool)
	onPlaybackEnded     func()
}

func OnStateChanged(callback func(state State)) StartOption {
	return func(o *startOptions) { o.onStateChanged = callback }
}

// OnStatus receives short user-visible status strings ("Connected",
// "Error: ...").
func OnStatus(callback func(status string)) StartOption {
	return func(o *startOptions) { o.onStatus = callback }
}

// OnTranscript fires once per finalized turn, in finalize arrival order.
func OnTranscript(callback func(turn TranscriptTurn)) StartOption {
	return func(o *startOptions) { o.onTranscript = callback }
}

// OnInterimTranscript receives the accumulated in-progress text of a role
// after each delta; an empty string means the accumulator was cleared.
func OnInterimTranscript(callback func(role protocol.Role, text string)) StartOption {
	return func(o *startOptions) { o.onInterimTranscript = callback }
}

func OnToolExecuted(callback func(tool string, success bool)) StartOption {
	return func(o *startOptions) { o.onToolExecuted = callback }
}

// OnPlaybackEnded fires when the assistant turn is complete and the playback
// schedule has drained.
func OnPlaybackEnded(callback func()) StartOption {
	return func(o *startOptions) { o.onPlaybackEnded = callback }
}

func (s *Session) defaultChannelFactory(callbacks transport.Callbacks) (transport.Channel, error) {
	return ws.NewChannel(s.socketURL,
		ws.WithKind(s.channelKind),
		ws.WithCallbacks(callbacks),
	), nil
}
