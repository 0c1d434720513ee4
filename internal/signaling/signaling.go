// Package signaling defines the JSON packets mirrored to meeting clients
// over the room's reliable data channel and the helper that publishes
// them.
//
// Each packet is one small wrapper struct marshaled with encoding/json —
// no separate codec library, matching how this codebase's HTTP handlers
// shape their own JSON responses.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	lksdk "github.com/livekit/server-sdk-go/v2"
)

// PacketType is the `type` discriminator of the data-channel envelope.
type PacketType int

const (
	PacketTranscript PacketType = 0
	PacketState      PacketType = 1
	PacketError      PacketType = 2
)

// AgentState mirrors the bot's lifecycle state to clients.
type AgentState int

const (
	StateIdle AgentState = iota
	StateLoading
	StateSpeaking
	StateActive
)

// Envelope is the wire format: { "type": <0|1|2>, "data": <object> }.
type Envelope struct {
	Type PacketType  `json:"type"`
	Data interface{} `json:"data"`
}

// TranscriptData is the payload of a PacketTranscript envelope.
type TranscriptData struct {
	SID     string `json:"sid"`
	Name    string `json:"name"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// StateData is the payload of a PacketState envelope.
type StateData struct {
	State AgentState `json:"state"`
}

// ErrorData is the payload of a PacketError envelope.
type ErrorData struct {
	Message string `json:"message"`
}

// Publisher sends envelopes over a room's local participant data channel.
type Publisher struct {
	lp *lksdk.LocalParticipant
}

// NewPublisher wraps the room's local participant.
func NewPublisher(lp *lksdk.LocalParticipant) *Publisher {
	return &Publisher{lp: lp}
}

func (p *Publisher) publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("signaling: marshal envelope: %w", err)
	}
	return p.lp.PublishDataPacket(&lksdk.UserDataPacket{Payload: payload}, lksdk.WithDataPublishReliable(true))
}

// Transcript mirrors one interim or final recognizer result.
func (p *Publisher) Transcript(ctx context.Context, sid, name, text string, isFinal bool) error {
	return p.publish(ctx, Envelope{
		Type: PacketTranscript,
		Data: TranscriptData{SID: sid, Name: name, Text: text, IsFinal: isFinal},
	})
}

// State mirrors a lifecycle transition.
func (p *Publisher) State(ctx context.Context, s AgentState) error {
	return p.publish(ctx, Envelope{Type: PacketState, Data: StateData{State: s}})
}

// Error surfaces a user-visible diagnostic.
func (p *Publisher) Error(ctx context.Context, message string) error {
	return p.publish(ctx, Envelope{Type: PacketError, Data: ErrorData{Message: message}})
}
