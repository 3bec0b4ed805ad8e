package conversation

import (
	"game-sandbox/internal/channel"
	"game-sandbox/internal/models"
	"game-sandbox/internal/workspace"
)

// Route is an outbound user message bound to a channel.
type Route struct {
	Role    channel.Role
	Payload models.Tagged
}

// Router picks the channel for each user message. The first message creates
// the game; once the conversation is confirmed as game related, later
// messages edit it. Routing never moves back from edit to create.
type Router struct {
	sent      int
	confirmed bool
}

// Confirm marks the conversation as game related.
func (r *Router) Confirm() { r.confirmed = true }

// Confirmed reports whether messages now go to the edit channel.
func (r *Router) Confirmed() bool { return r.confirmed }

// Route builds the payload for message. files is the current workspace and
// is only sent on the edit channel.
func (r *Router) Route(message string, files workspace.Files) Route {
	r.sent++
	if r.sent == 1 {
		r.confirmed = true
		return Route{Role: channel.RoleCreate, Payload: models.NewCreateRequest(message)}
	}
	if r.confirmed {
		return Route{Role: channel.RoleEdit, Payload: &models.EditRequest{Prompt: message, Files: files.Clone()}}
	}
	return Route{Role: channel.RoleCreate, Payload: models.NewCreateRequest(message)}
}

// Unsend rolls back the last Route call after its send failed, so the next
// message is routed as if this one had never been submitted.
func (r *Router) Unsend() {
	if r.sent == 0 {
		return
	}
	r.sent--
	if r.sent == 0 {
		r.confirmed = false
	}
}
