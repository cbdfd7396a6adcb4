// Package hookio is the wire contract with the agent runtime: one JSON event
// document in on stdin, one JSON decision document out on stdout.
package hookio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sahilm/fuzzy"
)

// MaxEventBytes caps how much of stdin is read. Tool payloads for Write can be
// large, but nothing legitimate approaches this.
const MaxEventBytes = 16 << 20

// EventKind names a runtime lifecycle point.
type EventKind string

const (
	SessionStart     EventKind = "SessionStart"
	PreToolUse       EventKind = "PreToolUse"
	PostToolUse      EventKind = "PostToolUse"
	UserPromptSubmit EventKind = "UserPromptSubmit"
	SubagentStop     EventKind = "SubagentStop"
	Stop             EventKind = "Stop"
)

// Kinds lists every event kind in the order hooks are installed.
var Kinds = []EventKind{SessionStart, UserPromptSubmit, PreToolUse, PostToolUse, SubagentStop, Stop}

// IsStop reports whether the kind ends a turn (Stop or SubagentStop).
func (k EventKind) IsStop() bool {
	return k == Stop || k == SubagentStop
}

// ParseKind resolves s to an EventKind, ignoring case. Unknown names return
// an error wrapping ErrUnknownEvent that suggests the closest known kind.
func ParseKind(s string) (EventKind, error) {
	s = strings.TrimSpace(s)
	for _, k := range Kinds {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}

	names := make([]string, len(Kinds))
	for i, k := range Kinds {
		names[i] = string(k)
	}
	if matches := fuzzy.Find(s, names); len(matches) > 0 && s != "" {
		return "", fmt.Errorf("%w %q (did you mean %s?)", ErrUnknownEvent, s, matches[0].Str)
	}
	return "", fmt.Errorf("%w %q", ErrUnknownEvent, s)
}

// Event is one parsed hook invocation. Treat it as read-only after ReadEvent.
type Event struct {
	Kind           EventKind
	SessionID      string
	Cwd            string
	TranscriptPath string
	ToolName       string
	ToolInput      map[string]any
	ToolResponse   json.RawMessage
	Prompt         string
	StopHookActive bool
}

type wireEvent struct {
	HookEventName  string          `json:"hook_event_name"`
	EventType      string          `json:"event_type"`
	SessionID      string          `json:"session_id"`
	Cwd            string          `json:"cwd"`
	TranscriptPath string          `json:"transcript_path"`
	ToolName       string          `json:"tool_name"`
	ToolInput      map[string]any  `json:"tool_input"`
	ToolResponse   json.RawMessage `json:"tool_response"`
	Prompt         string          `json:"prompt"`
	StopHookActive bool            `json:"stop_hook_active"`
}

// ReadEvent parses one event document from r.
//
// hint is the event kind named on the command line; it wins over the
// document's own hook_event_name when both are present. The returned
// mismatch is non-empty when they disagreed so the caller can log it.
//
// An unknown kind returns ErrUnknownEvent together with the parsed event,
// its Kind set to the name as given.
func ReadEvent(r io.Reader, hint string) (ev *Event, mismatch string, err error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxEventBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read event: %w", err)
	}
	if len(data) > MaxEventBytes {
		return nil, "", fmt.Errorf("%w: input exceeds %d bytes", ErrMalformedEvent, MaxEventBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", ErrEmptyInput
	}

	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	docKind := w.HookEventName
	if docKind == "" {
		docKind = w.EventType
	}

	name := hint
	if name == "" {
		name = docKind
	} else if docKind != "" && !strings.EqualFold(docKind, hint) {
		mismatch = docKind
	}
	if name == "" {
		return nil, "", fmt.Errorf("%w: no hook_event_name in input and none given", ErrMalformedEvent)
	}

	kind, kindErr := ParseKind(name)
	if kindErr != nil {
		kind = EventKind(strings.TrimSpace(name))
	}

	return &Event{
		Kind:           kind,
		SessionID:      w.SessionID,
		Cwd:            w.Cwd,
		TranscriptPath: w.TranscriptPath,
		ToolName:       w.ToolName,
		ToolInput:      w.ToolInput,
		ToolResponse:   w.ToolResponse,
		Prompt:         w.Prompt,
		StopHookActive: w.StopHookActive,
	}, mismatch, kindErr
}

// InputString returns tool_input[key] when it is a string.
func (e *Event) InputString(key string) string {
	if e.ToolInput == nil {
		return ""
	}
	s, _ := e.ToolInput[key].(string)
	return s
}

// TargetPath returns the file a tool call operates on, if any.
func (e *Event) TargetPath() string {
	for _, key := range []string{"file_path", "notebook_path", "path"} {
		if p := e.InputString(key); p != "" {
			return p
		}
	}
	return ""
}
