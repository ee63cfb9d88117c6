package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	TypeStart          MessageType = "start"
	TypeReady          MessageType = "ready"
	TypeAudio          MessageType = "audio"
	TypeInterrupt      MessageType = "interrupt"
	TypeTranscript     MessageType = "transcript"
	TypeTranscriptDone MessageType = "transcript_done"
	TypeToolExecuted   MessageType = "tool_executed"
	TypeResponseDone   MessageType = "response_done"
	TypeError          MessageType = "error"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one JSON frame on the wire. Only the fields relevant to its Type
// are populated; the rest stay at their zero value and are omitted.
type Message struct {
	Type    MessageType `json:"type"`
	Audio   string      `json:"audio,omitempty"`
	Role    Role        `json:"role,omitempty"`
	Text    string      `json:"text,omitempty"`
	Tool    string      `json:"tool,omitempty"`
	Success *bool       `json:"success,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewStartMessage() Message {
	return Message{Type: TypeStart}
}

// NewAudioMessage wraps one encoded PCM16 frame for transport.
func NewAudioMessage(pcm []byte) Message {
	return Message{Type: TypeAudio, Audio: base64.StdEncoding.EncodeToString(pcm)}
}

// PCM decodes the base64 audio payload of an audio message.
func (m Message) PCM() ([]byte, error) {
	if m.Type != TypeAudio {
		return nil, fmt.Errorf("message type %q carries no audio payload", m.Type)
	}

	pcm, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("undecodable audio payload: %v", err)}
	}
	return pcm, nil
}

func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses one inbound frame, rejecting frames that are not valid JSON
// or whose type is not part of the contract.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, &Error{Reason: fmt.Sprintf("malformed frame: %v", err)}
	}

	switch msg.Type {
	case TypeStart, TypeReady, TypeAudio, TypeInterrupt, TypeTranscript,
		TypeTranscriptDone, TypeToolExecuted, TypeResponseDone, TypeError:
	default:
		return Message{}, &Error{Reason: fmt.Sprintf("unexpected message type %q", msg.Type)}
	}

	if msg.Type == TypeTranscript || msg.Type == TypeTranscriptDone {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			return Message{}, &Error{Reason: fmt.Sprintf("unexpected transcript role %q", msg.Role)}
		}
	}

	return msg, nil
}

// Error reports a frame that does not conform to the wire contract.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "protocol error: " + e.Reason
}
