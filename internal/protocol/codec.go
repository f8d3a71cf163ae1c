// Package protocol implements the wire envelope spoken over the voice socket:
// a JSON object {"type": ..., "payload": {...}} carrying control and media
// frames in both directions. Audio payloads are base64 PCM with a monotonic
// sequence number.
package protocol

import (
	"encoding/json"
	"fmt"

	"voicewire/internal/domain"
)

// Frame type identifiers shared with the server.
const (
	TypeHandshake         = "handshake"
	TypeAudio             = "audio"
	TypeText              = "text"
	TypePartialTranscript = "partial_transcript"
	TypeFinalTranscript   = "final_transcript"
	TypeError             = "error"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientFrame is an outbound frame.
type ClientFrame interface {
	frameKind() string
}

// Handshake announces the negotiated session parameters. It is sent once
// after the link opens and again when voice or language change live.
type Handshake struct {
	Voice      string `json:"voice,omitempty"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// AudioChunk carries one captured PCM frame. Payload marshals as base64.
type AudioChunk struct {
	Sequence int64  `json:"sequence"`
	Payload  []byte `json:"payload"`
}

// TextMessage carries typed user input.
type TextMessage struct {
	Text string `json:"text"`
}

func (Handshake) frameKind() string   { return TypeHandshake }
func (AudioChunk) frameKind() string  { return TypeAudio }
func (TextMessage) frameKind() string { return TypeText }

// FrameKind names an outbound frame for telemetry and metrics.
func FrameKind(f ClientFrame) string { return f.frameKind() }

// Encode wraps a client frame in the wire envelope.
func Encode(f ClientFrame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("protocol: nil client frame")
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", f.frameKind(), err)
	}
	return json.Marshal(envelope{Type: f.frameKind(), Payload: payload})
}

// ServerEvent is a decoded inbound frame.
type ServerEvent interface {
	eventKind() string
}

// PartialTranscript updates the in-flight text for one turn. It never
// produces a message log entry on its own.
type PartialTranscript struct {
	MessageID string
	Text      string
}

// FinalTranscript seals one turn.
type FinalTranscript struct {
	MessageID string
	Text      string
	Role      domain.Role
}

// ServerAudio carries one playback frame. Encoding is empty or "pcm" for raw
// samples and "opus" for packets that need decoding first.
type ServerAudio struct {
	Sequence int64
	Payload  []byte
	Encoding string
}

// ServerFault is an error frame reported by the server.
type ServerFault struct {
	Code   string
	Detail string
}

func (PartialTranscript) eventKind() string { return TypePartialTranscript }
func (FinalTranscript) eventKind() string   { return TypeFinalTranscript }
func (ServerAudio) eventKind() string       { return TypeAudio }
func (ServerFault) eventKind() string       { return TypeError }

// EventKind names an inbound event for telemetry and metrics.
func EventKind(e ServerEvent) string { return e.eventKind() }

// Decode parses one inbound frame. Errors mean the frame must be dropped;
// the session survives.
func Decode(data []byte) (ServerEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	switch env.Type {
	case TypePartialTranscript:
		var p struct {
			MessageID string `json:"message_id"`
			Text      string `json:"text"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("protocol: decode partial_transcript: %w", err)
		}
		return PartialTranscript{MessageID: p.MessageID, Text: p.Text}, nil
	case TypeFinalTranscript:
		var p struct {
			MessageID string `json:"message_id"`
			Text      string `json:"text"`
			Role      string `json:"role"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("protocol: decode final_transcript: %w", err)
		}
		role, ok := domain.ParseRole(p.Role)
		if !ok {
			return nil, fmt.Errorf("protocol: final_transcript: unknown role %q", p.Role)
		}
		return FinalTranscript{MessageID: p.MessageID, Text: p.Text, Role: role}, nil
	case TypeAudio:
		var p struct {
			Sequence int64  `json:"sequence"`
			Payload  []byte `json:"payload"`
			Encoding string `json:"encoding"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("protocol: decode audio: %w", err)
		}
		if p.Sequence < 0 {
			return nil, fmt.Errorf("protocol: audio: negative sequence %d", p.Sequence)
		}
		return ServerAudio{Sequence: p.Sequence, Payload: p.Payload, Encoding: p.Encoding}, nil
	case TypeError:
		var p struct {
			Code   string `json:"code"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("protocol: decode error frame: %w", err)
		}
		return ServerFault{Code: p.Code, Detail: p.Detail}, nil
	case "":
		return nil, fmt.Errorf("protocol: missing frame type")
	case TypeHandshake, TypeText:
		return nil, fmt.Errorf("protocol: unexpected inbound frame type %q", env.Type)
	default:
		return nil, fmt.Errorf("protocol: unknown frame type %q", env.Type)
	}
}
