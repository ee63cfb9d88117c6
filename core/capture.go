package voicesession

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kettlevoice/widget-core/core/audio"
)

// CaptureOptions carry the device DSP hints the widget requests. Not every
// device backend can honor them; clients that cannot simply ignore them.
type CaptureOptions struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func defaultCaptureOptions() CaptureOptions {
	return CaptureOptions{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}

// captureEngine owns the microphone pipeline: it collects device PCM16 into
// fixed-size blocks, resamples them to the negotiated transport rate, and
// re-encodes them for the channel. Mute drops frames here without touching
// the device graph, so unmute resumes instantly.
type captureEngine struct {
	client  AudioInput
	options CaptureOptions

	blockSize  int
	targetRate int

	muted     atomic.Bool
	capturing atomic.Bool

	mu      sync.Mutex
	backlog []float32

	onFrame func(pcm []byte)
}

func newCaptureEngine(client AudioInput, onFrame func(pcm []byte)) *captureEngine {
	if onFrame == nil {
		onFrame = func([]byte) {}
	}

	return &captureEngine{
		client:     client,
		options:    defaultCaptureOptions(),
		blockSize:  audio.DefaultBlockSize,
		targetRate: audio.DefaultSampleRate,
		onFrame:    onFrame,
	}
}

// start acquires the device and begins streaming. An acquisition failure is
// the Go-side equivalent of a denied microphone permission and is reported
// as such by the session.
func (e *captureEngine) start(ctx context.Context) error {
	if e.client == nil {
		return fmt.Errorf("no audio input configured")
	}
	if !e.capturing.CompareAndSwap(false, true) {
		return nil
	}

	if err := e.client.StartCapture(ctx, e.handleAudio); err != nil {
		e.capturing.Store(false)
		return fmt.Errorf("failed to start audio capture: %w", err)
	}
	return nil
}

// stop cancels the capture callback and releases the device. Idempotent;
// the session may call it from any state.
func (e *captureEngine) stop() error {
	if !e.capturing.CompareAndSwap(true, false) {
		return nil
	}

	e.mu.Lock()
	e.backlog = nil
	e.mu.Unlock()

	if err := e.client.StopCapture(); err != nil {
		return fmt.Errorf("failed to stop audio capture: %w", err)
	}
	return nil
}

func (e *captureEngine) setMuted(muted bool) { e.muted.Store(muted) }
func (e *captureEngine) isMuted() bool       { return e.muted.Load() }

// handleAudio runs on the device callback. It slices the incoming stream
// into blocks of blockSize device samples and emits one encoded frame per
// block, preserving capture order.
func (e *captureEngine) handleAudio(devicePCM []byte) {
	if !e.capturing.Load() || e.muted.Load() {
		return
	}

	deviceRate := e.client.EncodingInfo().SampleRate

	var blocks [][]float32
	e.mu.Lock()
	e.backlog = append(e.backlog, audio.DecodePCM16(devicePCM)...)
	for len(e.backlog) >= e.blockSize {
		block := make([]float32, e.blockSize)
		copy(block, e.backlog[:e.blockSize])
		e.backlog = e.backlog[e.blockSize:]
		blocks = append(blocks, block)
	}
	e.mu.Unlock()

	for _, block := range blocks {
		resampled := audio.Resample(block, deviceRate, e.targetRate)
		e.onFrame(audio.EncodePCM16(resampled))
	}
}
