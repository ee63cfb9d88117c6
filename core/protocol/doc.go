// Package protocol defines the JSON message contract spoken over the duplex
// channel between a widget session and the remote voice agent backend.
//
// Client to server:
//
//   - start: handshake sent once the channel is open.
//   - audio: one base64-encoded PCM16 capture frame.
//
// Server to client:
//
//   - ready: backend accepted the handshake, the session is live.
//   - audio: one base64-encoded PCM16 frame of synthesized speech.
//   - interrupt: user barge-in detected, drop all pending playback.
//   - transcript: incremental text delta for one role.
//   - transcript_done: finalized full text for one role's turn.
//   - tool_executed: the agent ran a tool on the user's behalf.
//   - response_done: the assistant turn is complete.
//   - error: backend-reported failure, terminal for the session.
//
// Field names are bit-exact with the backend; do not rename the JSON tags.
package protocol
