package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"game-sandbox/internal/channel"
	"game-sandbox/internal/models"
	"game-sandbox/internal/workspace"
)

const (
	FilesUpdatedText = "I've updated the game files with the implementation."
	EditModeText     = "From now on, you can edit the existing game. You can reload the page to start fresh and create a new game."
)

// ErrMalformedFrame is returned for frames that cannot be applied.
var ErrMalformedFrame = errors.New("malformed frame")

// Result describes what applying one frame changed.
type Result struct {
	State models.FrameState
	// LogChanged is set when entries were appended or updated.
	LogChanged bool
	// FilesChanged is set when the workspace was replaced.
	FilesChanged bool
	// Done is set when the frame ends the current generation.
	Done bool
	Hint Hint
}

// Assembler applies inbound frames to the log and the workspace.
type Assembler struct {
	log       *Log
	workspace *workspace.Workspace
	router    *Router
	logger    *zap.Logger
}

// NewAssembler binds an assembler to the studio's state. router may be nil.
func NewAssembler(log *Log, ws *workspace.Workspace, router *Router, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{log: log, workspace: ws, router: router, logger: logger}
}

// Apply decodes one frame received on role and applies it. Malformed frames
// leave all state untouched.
func (a *Assembler) Apply(role channel.Role, data []byte) (Result, error) {
	var frame models.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.State == "" {
		return Result{}, fmt.Errorf("%w: missing state", ErrMalformedFrame)
	}
	hint := ResolveHint(frame)
	res := Result{State: frame.State, Hint: hint}

	switch frame.State {
	case models.StateFilesShared:
		files, err := decodeFiles(frame.Payload)
		if err != nil {
			return Result{}, err
		}
		if err := a.workspace.ReplaceAll(files); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		a.log.CloseThoughts()
		a.log.Append(Entry{
			Speaker: SpeakerAssistant,
			Text:    FilesUpdatedText,
			Phase:   PhaseFileDelta,
			Files:   files,
			Hint:    hint,
		})
		if role == channel.RoleCreate {
			a.log.Append(Entry{
				Speaker:     SpeakerAssistant,
				Text:        EditModeText,
				Phase:       PhaseAdvisory,
				Accumulated: EditModeText,
				Hint:        hint,
			})
		}
		res.LogChanged = true
		res.FilesChanged = true
		res.Done = true
		a.logger.Info("Apply: workspace replaced",
			zap.Stringer("role", role),
			zap.Int("files", len(files)),
			zap.Uint64("revision", a.workspace.Revision()))

	case models.StateThinking:
		msg, err := decodeMessage(frame.Payload)
		if err != nil {
			return Result{}, err
		}
		if !a.log.ExtendThought(msg) {
			a.log.Append(Entry{
				Speaker:     SpeakerAssistant,
				Phase:       PhaseStreamingThought,
				Streaming:   true,
				Accumulated: msg,
				Hint:        hint,
			})
		}
		if role == channel.RoleCreate && hint == HintRelated && a.router != nil {
			a.router.Confirm()
		}
		res.LogChanged = true

	case models.StateAIAssistance:
		msg, err := decodeMessage(frame.Payload)
		if err != nil {
			return Result{}, err
		}
		a.log.CloseThoughts()
		a.log.Append(Entry{
			Speaker:     SpeakerAssistant,
			Text:        msg,
			Phase:       PhaseAdvisory,
			Accumulated: msg,
			Hint:        hint,
		})
		res.LogChanged = true
		res.Done = true

	default:
		a.logger.Warn("Apply: ignoring frame with unknown state",
			zap.Stringer("role", role),
			zap.String("state", string(frame.State)))
	}
	return res, nil
}

func decodeFiles(raw json.RawMessage) (workspace.Files, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: files_shared payload is not an object", ErrMalformedFrame)
	}
	var files workspace.Files
	if err := json.Unmarshal(trimmed, &files); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if _, ok := files.Get(workspace.IndexFile); !ok {
		return nil, fmt.Errorf("%w: files_shared payload lacks %s", ErrMalformedFrame, workspace.IndexFile)
	}
	return files, nil
}

func decodeMessage(raw json.RawMessage) (string, error) {
	var p models.MessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("%w: payload: %v", ErrMalformedFrame, err)
	}
	return p.Message, nil
}

// ResolveHint looks for is_not_related_to_game at the top level, then in the
// payload, then in an ai_assistance_message object. The first present value
// decides.
func ResolveHint(frame models.InboundFrame) Hint {
	if raw, ok := present(frame.IsNotRelatedToGame); ok {
		return parseHint(raw)
	}
	for _, container := range []json.RawMessage{frame.Payload, frame.AIAssistanceMessage} {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(container, &obj); err != nil {
			continue
		}
		if raw, ok := present(obj["is_not_related_to_game"]); ok {
			return parseHint(raw)
		}
	}
	return HintUnknown
}

func present(raw json.RawMessage) (json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

func parseHint(raw json.RawMessage) Hint {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return HintUnrelated
		}
		return HintRelated
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.TrimSpace(s) {
		case "false", "False":
			return HintRelated
		case "true", "True":
			return HintUnrelated
		}
	}
	return HintUnknown
}
