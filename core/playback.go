package voicesession

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kettlevoice/widget-core/core/audio"
)

// Clock is the output audio clock playback is scheduled against. It is
// monotonic and independent of frame arrival time, which is what makes the
// schedule jitter-proof.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	epoch time.Time
}

func newMonotonicClock() *monotonicClock { return &monotonicClock{epoch: time.Now()} }

func (c *monotonicClock) Now() time.Duration { return time.Since(c.epoch) }

// PlaybackItem is one decoded inbound buffer with its computed slot on the
// output clock.
type PlaybackItem struct {
	ID             string
	PCM            []byte
	ScheduledStart time.Duration
	Duration       time.Duration
}

func (i PlaybackItem) end() time.Duration { return i.ScheduledStart + i.Duration }

// playbackScheduler assigns gapless, non-overlapping start times to inbound
// audio and feeds the bytes to the output device. For consecutive items the
// schedule satisfies start[i+1] >= start[i]+duration[i] with no required gap.
type playbackScheduler struct {
	mu sync.Mutex

	clock    Clock
	sink     AudioOutput
	encoding audio.EncodingInfo

	// nextPlayTime is the earliest slot for the next item. Zero means the
	// baseline is unset and the next item starts at the current clock time.
	nextPlayTime time.Duration
	pending      []PlaybackItem

	speakerEnabled bool
}

func newPlaybackScheduler(clock Clock, sink AudioOutput, encoding audio.EncodingInfo) *playbackScheduler {
	if clock == nil {
		clock = newMonotonicClock()
	}
	return &playbackScheduler{
		clock:          clock,
		sink:           sink,
		encoding:       encoding,
		speakerEnabled: true,
	}
}

// Schedule computes the item's slot and hands its bytes to the sink. The
// start time is max(now, nextPlayTime): arrival jitter never causes overlap,
// and a late frame never schedules into the past.
func (s *playbackScheduler) Schedule(pcm []byte) PlaybackItem {
	s.mu.Lock()

	now := s.clock.Now()
	s.prunePlayedLocked(now)

	start := now
	if s.nextPlayTime > start {
		start = s.nextPlayTime
	}

	item := PlaybackItem{
		ID:             uuid.NewString(),
		PCM:            pcm,
		ScheduledStart: start,
		Duration:       audio.PCM16Duration(pcm, s.encoding.SampleRate),
	}
	s.nextPlayTime = item.end()
	s.pending = append(s.pending, item)

	sink := s.sink
	deliver := s.speakerEnabled
	s.mu.Unlock()

	if deliver && sink != nil {
		_ = sink.SendAudio(pcm)
	}
	return item
}

// Clear drops every item that has not finished playing and resets the
// scheduling baseline. This is the barge-in path: the device buffer is
// flushed so silence is immediate.
func (s *playbackScheduler) Clear() {
	s.mu.Lock()
	s.pending = nil
	s.nextPlayTime = 0
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink.ClearBuffer()
	}
}

// ResetBaseline unsets nextPlayTime so the next assistant turn schedules
// from the current clock instead of inheriting the prior turn's drift.
func (s *playbackScheduler) ResetBaseline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPlayTime = 0
}

// Pending returns the items that have not finished playing yet.
func (s *playbackScheduler) Pending() []PlaybackItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prunePlayedLocked(s.clock.Now())
	return append([]PlaybackItem(nil), s.pending...)
}

// Remaining reports how long until the schedule drains, zero when nothing is
// queued ahead of the clock.
func (s *playbackScheduler) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.nextPlayTime - s.clock.Now()
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *playbackScheduler) SetSpeakerEnabled(enabled bool) {
	s.mu.Lock()
	s.speakerEnabled = enabled
	sink := s.sink
	s.mu.Unlock()

	// Muting the speaker silences immediately instead of draining the device
	// buffer; scheduling state is untouched.
	if !enabled && sink != nil {
		sink.ClearBuffer()
	}
}

func (s *playbackScheduler) SpeakerEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerEnabled
}

func (s *playbackScheduler) prunePlayedLocked(now time.Duration) {
	kept := s.pending[:0]
	for _, item := range s.pending {
		if item.end() > now {
			kept = append(kept, item)
		}
	}
	s.pending = kept
}
