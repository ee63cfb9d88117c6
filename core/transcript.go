package voicesession

import (
	"sync"
	"time"

	"github.com/jinzhu/copier"

	"github.com/kettlevoice/widget-core/core/protocol"
)

// TranscriptTurn is one finalized utterance. Text never changes after the
// turn is created.
type TranscriptTurn struct {
	Role      protocol.Role
	Text      string
	Timestamp time.Time
}

// transcriptAggregator assembles per-role text deltas into finalized turns.
// The two roles accumulate independently so an assistant turn that is still
// finalizing tolerates the user already starting a new utterance. History
// order is the arrival order of finalize events.
type transcriptAggregator struct {
	mu sync.Mutex

	partial map[protocol.Role]string
	history []TranscriptTurn
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{partial: map[protocol.Role]string{}}
}

func (a *transcriptAggregator) appendDelta(role protocol.Role, delta string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.partial[role] += delta
	return a.partial[role]
}

// finalize creates an immutable turn from the finalize event's full text,
// appends it to the history, and clears that role's accumulator.
func (a *transcriptAggregator) finalize(role protocol.Role, fullText string) TranscriptTurn {
	a.mu.Lock()
	defer a.mu.Unlock()

	turn := TranscriptTurn{Role: role, Text: fullText, Timestamp: time.Now()}
	a.history = append(a.history, turn)
	delete(a.partial, role)
	return turn
}

// clearPartial drops a role's in-progress text without creating a turn. Used
// on barge-in to discard assistant speech that will never finish.
func (a *transcriptAggregator) clearPartial(role protocol.Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.partial, role)
}

func (a *transcriptAggregator) partialFor(role protocol.Role) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial[role]
}

// History returns a point-in-time copy of the finalized turns.
func (a *transcriptAggregator) History() []TranscriptTurn {
	a.mu.Lock()
	defer a.mu.Unlock()

	history := []TranscriptTurn{}
	_ = copier.Copy(&history, a.history)
	return history
}

// reset clears everything; called when a new session starts.
func (a *transcriptAggregator) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.partial = map[protocol.Role]string{}
	a.history = nil
}
