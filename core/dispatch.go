package voicesession

import (
	"errors"
	"time"

	"github.com/kettlevoice/widget-core/core/protocol"
)

// sessionEvent is one entry on the session's inbound queue. Transport,
// capture, and guard callbacks only post events; all state transitions
// happen on the dispatch loop, which consumes the queue in order.
type sessionEvent interface {
	isSessionEvent()
}

type messageEvent struct {
	msg protocol.Message
}

type protocolErrorEvent struct {
	err error
}

type transportClosedEvent struct {
	err error
}

type guardExpiredEvent struct{}

func (messageEvent) isSessionEvent()         {}
func (protocolErrorEvent) isSessionEvent()   {}
func (transportClosedEvent) isSessionEvent() {}
func (guardExpiredEvent) isSessionEvent()    {}

func (s *Session) postEvent(event sessionEvent) {
	s.mu.Lock()
	events := s.events
	released := s.released
	s.mu.Unlock()

	if released || events == nil {
		return
	}

	select {
	case events <- event:
	default:
		// Only reachable while tearing down, when the loop no longer drains.
		logger.Warn("dropping session event, queue full", "session_id", s.id)
	}
}

func (s *Session) dispatchLoop(events chan sessionEvent, quit chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case event := <-events:
			s.handleEvent(event)
		}
	}
}

// handleEvent is the session's transition function.
func (s *Session) handleEvent(event sessionEvent) {
	switch typedEvent := event.(type) {
	case messageEvent:
		s.handleMessage(typedEvent.msg)
	case protocolErrorEvent:
		_ = s.fail(ReasonProtocolError, typedEvent.err)
	case transportClosedEvent:
		s.handleTransportClosed(typedEvent.err)
	case guardExpiredEvent:
		_ = s.fail(ReasonDurationExceeded, nil)
	}
}

func (s *Session) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeReady:
		s.mu.Lock()
		connecting := s.state == StateConnecting
		if connecting {
			s.state = StateConnected
		}
		s.mu.Unlock()
		if connecting {
			s.emitState(StateConnected)
			s.emitStatus("Connected")
		}

	case protocol.TypeAudio:
		pcm, err := msg.PCM()
		if err != nil {
			_ = s.fail(ReasonProtocolError, err)
			return
		}
		s.withScheduler(func(scheduler *playbackScheduler) {
			scheduler.Schedule(pcm)
		})

	case protocol.TypeInterrupt:
		// Barge-in: the user started talking over the assistant. Pending
		// playback goes immediately, and so does the half-finished
		// assistant text.
		s.withScheduler(func(scheduler *playbackScheduler) {
			scheduler.Clear()
		})
		s.transcript.clearPartial(protocol.RoleAssistant)
		s.emitInterimTranscript(protocol.RoleAssistant, "")

	case protocol.TypeTranscript:
		text := s.transcript.appendDelta(msg.Role, msg.Text)
		s.emitInterimTranscript(msg.Role, text)

	case protocol.TypeTranscriptDone:
		turn := s.transcript.finalize(msg.Role, msg.Text)
		s.emitInterimTranscript(msg.Role, "")
		if s.opts.onTranscript != nil {
			s.opts.onTranscript(turn)
		}

	case protocol.TypeToolExecuted:
		if s.opts.onToolExecuted != nil {
			s.opts.onToolExecuted(msg.Tool, msg.Success != nil && *msg.Success)
		}

	case protocol.TypeResponseDone:
		s.handleResponseDone()

	case protocol.TypeError:
		_ = s.fail(ReasonRemoteError, errors.New(msg.Error))

	default:
		// Client-bound types echoing back are tolerated and ignored.
		logger.Warn("ignoring unexpected inbound message", "session_id", s.id, "type", string(msg.Type))
	}
}

// handleResponseDone resets the scheduling baseline so the next assistant
// turn schedules independently of this turn's drift, and arms the
// playback-ended notification for when the schedule drains.
func (s *Session) handleResponseDone() {
	var remaining time.Duration
	s.withScheduler(func(scheduler *playbackScheduler) {
		remaining = scheduler.Remaining()
		scheduler.ResetBaseline()
	})

	if s.opts.onPlaybackEnded == nil {
		return
	}

	// A repeated response_done supersedes the previous one; its timer must
	// not outlive the replacement.
	s.mu.Lock()
	if s.playbackEndStop != nil {
		s.playbackEndStop.Stop()
		s.playbackEndStop = nil
	}
	s.mu.Unlock()

	if remaining <= 0 {
		s.opts.onPlaybackEnded()
		return
	}

	timer := time.AfterFunc(remaining, s.opts.onPlaybackEnded)
	s.mu.Lock()
	if s.released {
		timer.Stop()
	} else {
		s.playbackEndStop = timer
	}
	s.mu.Unlock()
}

// handleTransportClosed handles the channel going away underneath a live
// call. Not fatal to the host: the session winds down to Idle and surfaces a
// status message. Voice transports never auto-reconnect, so a drop always
// ends the call.
func (s *Session) handleTransportClosed(cause error) {
	if cause == nil {
		// Local close, already part of an orderly Stop.
		return
	}

	s.mu.Lock()
	active := s.state.active()
	s.mu.Unlock()
	if !active {
		return
	}

	logger.Warn("transport closed mid-session", "session_id", s.id, "error", cause)

	s.setState(StateDisconnecting)
	s.emitState(StateDisconnecting)
	s.release()
	s.setState(StateIdle)
	s.emitState(StateIdle)
	s.emitStatus("Disconnected")
}

func (s *Session) withScheduler(fn func(scheduler *playbackScheduler)) {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()

	if scheduler != nil {
		fn(scheduler)
	}
}

func (s *Session) emitInterimTranscript(role protocol.Role, text string) {
	if s.opts.onInterimTranscript != nil {
		s.opts.onInterimTranscript(role, text)
	}
}
