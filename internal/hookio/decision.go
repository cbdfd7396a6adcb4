package hookio

import (
	"encoding/json"
	"fmt"
	"io"
)

// Decision is a handler's verdict on one event. The zero value is not
// meaningful; build one with Allow, Block or Warn.
type Decision struct {
	Allow bool
	// Warn marks an allowed event that deserves the agent's attention.
	Warn bool
	// Reason explains a block or a warning. Ignored for plain allows.
	Reason            string
	AdditionalContext string
	SystemMessage     string
}

// Allow lets the event proceed.
func Allow() Decision { return Decision{Allow: true} }

// Block stops the event. reason is shown to the agent.
func Block(reason string) Decision { return Decision{Allow: false, Reason: reason} }

// Warn lets the event proceed and surfaces reason.
func Warn(reason string) Decision { return Decision{Allow: true, Warn: true, Reason: reason} }

// WithContext returns d carrying extra context for the agent.
func (d Decision) WithContext(ctx string) Decision {
	d.AdditionalContext = ctx
	return d
}

// WithSystemMessage returns d carrying a message for the operator.
func (d Decision) WithSystemMessage(msg string) Decision {
	d.SystemMessage = msg
	return d
}

func (d Decision) String() string {
	switch {
	case !d.Allow:
		return "block"
	case d.Warn:
		return "warn"
	default:
		return "allow"
	}
}

// Output is the JSON document the runtime reads from stdout.
type Output struct {
	Continue           *bool           `json:"continue,omitempty"`
	SuppressOutput     bool            `json:"suppressOutput,omitempty"`
	SystemMessage      string          `json:"systemMessage,omitempty"`
	Decision           string          `json:"decision,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	HookSpecificOutput *SpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// SpecificOutput is the per-event section of Output.
type SpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
	AdditionalContext        string `json:"additionalContext,omitempty"`
}

// Render maps a Decision onto the runtime's schema for kind.
func Render(kind EventKind, d Decision) Output {
	out := Output{SystemMessage: d.SystemMessage}

	switch kind {
	case PreToolUse:
		spec := &SpecificOutput{
			HookEventName:      string(kind),
			PermissionDecision: "allow",
			AdditionalContext:  d.AdditionalContext,
		}
		if !d.Allow {
			spec.PermissionDecision = "deny"
			spec.PermissionDecisionReason = d.Reason
		} else if d.Warn {
			spec.PermissionDecisionReason = d.Reason
			if out.SystemMessage == "" {
				out.SystemMessage = "aops: " + d.Reason
			}
		}
		out.HookSpecificOutput = spec

	case Stop, SubagentStop:
		if !d.Allow {
			out.Decision = "block"
			out.Reason = d.Reason
		} else if d.Warn && out.SystemMessage == "" {
			out.SystemMessage = "aops: " + d.Reason
		}

	case PostToolUse, UserPromptSubmit:
		if !d.Allow {
			out.Decision = "block"
			out.Reason = d.Reason
		}
		if d.AdditionalContext != "" {
			out.HookSpecificOutput = &SpecificOutput{HookEventName: string(kind), AdditionalContext: d.AdditionalContext}
		}

	case SessionStart:
		// SessionStart cannot be blocked; surface the reason to the operator instead.
		if !d.Allow && out.SystemMessage == "" {
			out.SystemMessage = "aops: " + d.Reason
		}
		if d.AdditionalContext != "" {
			out.HookSpecificOutput = &SpecificOutput{HookEventName: string(kind), AdditionalContext: d.AdditionalContext}
		}

	default:
		if !d.Allow && out.SystemMessage == "" {
			out.SystemMessage = "aops: " + d.Reason
		}
	}
	return out
}

// Encode writes exactly one decision document for kind to w.
func Encode(w io.Writer, kind EventKind, d Decision) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Render(kind, d)); err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	return nil
}

// DecodeOutput parses a decision document written by Encode (or by any other
// hook command), used when probing installed hooks.
func DecodeOutput(data []byte) (*Output, error) {
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	return &out, nil
}

// Blocked reports whether the document denies or blocks the event.
func (o *Output) Blocked() bool {
	if o.Decision == "block" {
		return true
	}
	return o.HookSpecificOutput != nil && o.HookSpecificOutput.PermissionDecision == "deny"
}
