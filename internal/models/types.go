// Package models defines the wire formats exchanged with the generation
// service and with the preview frame.
package models

import (
	"encoding/json"

	"game-sandbox/internal/workspace"
)

// FrameState discriminates inbound frames from the generation service.
type FrameState string

const (
	StateFilesShared  FrameState = "files_shared"
	StateThinking     FrameState = "thinking"
	StateAIAssistance FrameState = "ai_assistance_message"
)

// Tagged is implemented by outbound payloads that carry the sender identity.
type Tagged interface {
	SetUserID(id string)
}

// CreateRequest is a user turn sent on the create channel.
type CreateRequest struct {
	UserID             string        `json:"user_id"`
	Role               string        `json:"role"`
	Message            string        `json:"message"`
	IsNotRelatedToGame bool          `json:"is_not_related_to_game"`
	Payload            CreatePayload `json:"payload"`
}

type CreatePayload struct {
	IsNotRelatedToGame bool `json:"is_not_related_to_game"`
}

// NewCreateRequest builds a create-channel turn for message. The turn is
// always flagged as game related.
func NewCreateRequest(message string) *CreateRequest {
	return &CreateRequest{
		Role:    "user",
		Message: message,
	}
}

func (r *CreateRequest) SetUserID(id string) { r.UserID = id }

// EditRequest is a turn sent on the edit channel with the full workspace.
type EditRequest struct {
	Prompt             string          `json:"prompt"`
	Files              workspace.Files `json:"files"`
	UserID             string          `json:"user_id"`
	IsNotRelatedToGame *bool           `json:"is_not_related_to_game,omitempty"`
}

func (r *EditRequest) SetUserID(id string) { r.UserID = id }

// InboundFrame is one message received on either channel. The routing hint
// may arrive at the top level, inside Payload, or inside AIAssistanceMessage,
// so those stay raw until the assembler inspects them.
type InboundFrame struct {
	State               FrameState      `json:"state"`
	Payload             json.RawMessage `json:"payload"`
	IsNotRelatedToGame  json.RawMessage `json:"is_not_related_to_game,omitempty"`
	AIAssistanceMessage json.RawMessage `json:"ai_assistance_message,omitempty"`
}

// MessagePayload is the payload of thinking and ai_assistance_message frames.
type MessagePayload struct {
	Message string `json:"message"`
}

// ConsoleMessage is posted by the preview shim to the embedding page.
type ConsoleMessage struct {
	Type        string `json:"type"`
	ConsoleType string `json:"consoleType"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
}
