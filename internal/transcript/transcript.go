// Package transcript reads the runtime's JSONL session transcript and
// summarizes what the agent did since the operator's last prompt.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Message types in transcript entries.
const (
	msgTypeUser       = "user"
	msgTypeAssistant  = "assistant"
	msgTypeToolUse    = "tool_use"
	msgTypeToolResult = "tool_result"
)

// maxLineBytes bounds a single transcript line. Tool results holding whole
// files can be large.
const maxLineBytes = 16 << 20

// MutatingTools change files on disk.
var MutatingTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

type rawMessage struct {
	Type    string `json:"type"`
	Message *struct {
		Role    string `json:"role"`
		Content any    `json:"content"` // string or block array
	} `json:"message,omitempty"`
	IsMeta bool `json:"isMeta,omitempty"`
}

// Activity summarizes the current turn: everything after the most recent
// operator prompt.
type Activity struct {
	// Prompts is the number of operator prompts in the whole transcript.
	Prompts   int
	ToolCalls int
	Mutations int
	ToolErrs  int
	Tools     map[string]int
	// LastTool is the most recent tool the agent invoked this turn.
	LastTool   string
	TotalLines int
	Malformed  int
}

func newActivity() *Activity {
	return &Activity{Tools: make(map[string]int)}
}

func (a *Activity) resetTurn() {
	a.ToolCalls = 0
	a.Mutations = 0
	a.ToolErrs = 0
	a.LastTool = ""
	a.Tools = make(map[string]int)
}

// Summarize streams a transcript and returns the activity of its last turn.
// Malformed lines are counted and skipped.
func Summarize(ctx context.Context, r io.Reader) (*Activity, error) {
	a := newActivity()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		a.TotalLines++
		if a.TotalLines%256 == 0 {
			if err := ctx.Err(); err != nil {
				return a, err
			}
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			a.Malformed++
			continue
		}
		a.apply(&raw)
	}
	if err := scanner.Err(); err != nil {
		return a, fmt.Errorf("scan transcript: %w", err)
	}
	return a, nil
}

// SummarizeFile summarizes the transcript at path.
func SummarizeFile(ctx context.Context, path string) (a *Activity, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return Summarize(ctx, f)
}

func (a *Activity) apply(raw *rawMessage) {
	if raw.Message == nil {
		return
	}
	switch raw.Type {
	case msgTypeUser:
		if raw.IsMeta {
			return
		}
		if isOperatorPrompt(raw.Message.Content) {
			a.Prompts++
			a.resetTurn()
			return
		}
		a.countToolErrors(raw.Message.Content)
	case msgTypeAssistant:
		blocks, ok := raw.Message.Content.([]any)
		if !ok {
			return
		}
		for _, b := range blocks {
			if name := toolUseName(b); name != "" {
				a.ToolCalls++
				a.Tools[name]++
				a.LastTool = name
				if MutatingTools[name] {
					a.Mutations++
				}
			}
		}
	}
}

// isOperatorPrompt distinguishes a typed prompt from a user-role message that
// only carries tool results back to the agent.
func isOperatorPrompt(content any) bool {
	switch c := content.(type) {
	case string:
		return strings.TrimSpace(c) != ""
	case []any:
		hasText := false
		for _, b := range c {
			m, ok := b.(map[string]any)
			if !ok {
				continue
			}
			switch m["type"] {
			case msgTypeToolResult:
				return false
			case "text":
				hasText = true
			}
		}
		return hasText
	}
	return false
}

func (a *Activity) countToolErrors(content any) {
	blocks, ok := content.([]any)
	if !ok {
		return
	}
	for _, b := range blocks {
		m, ok := b.(map[string]any)
		if !ok || m["type"] != msgTypeToolResult {
			continue
		}
		if isErr, _ := m["is_error"].(bool); isErr {
			a.ToolErrs++
		}
	}
}

func toolUseName(block any) string {
	m, ok := block.(map[string]any)
	if !ok || m["type"] != msgTypeToolUse {
		return ""
	}
	name, _ := m["name"].(string)
	return name
}

// Thresholds decide when a turn counts as substantial work.
type Thresholds struct {
	MinToolCalls int
	MinMutations int
	// QuestionTools end a turn by asking the operator something; a stop right
	// after one is never treated as finished work.
	QuestionTools []string
}

// Assessment is the verdict on a turn.
type Assessment struct {
	Substantial bool
	Reason      string
}

// Assess applies th to the activity.
func (a *Activity) Assess(th Thresholds) Assessment {
	for _, q := range th.QuestionTools {
		if a.LastTool == q {
			return Assessment{Reason: "turn ended with " + q}
		}
	}
	if th.MinMutations > 0 && a.Mutations >= th.MinMutations {
		return Assessment{Substantial: true, Reason: fmt.Sprintf("%d file changes", a.Mutations)}
	}
	if th.MinToolCalls > 0 && a.ToolCalls >= th.MinToolCalls {
		return Assessment{Substantial: true, Reason: fmt.Sprintf("%d tool calls", a.ToolCalls)}
	}
	return Assessment{Reason: fmt.Sprintf("%d tool calls, %d file changes", a.ToolCalls, a.Mutations)}
}
