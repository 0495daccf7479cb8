package api

import (
	"encoding/json"
	"strings"
)

// ChatEnvelope is the part of an OpenAI or Anthropic style chat body the router
// looks at. Everything else is forwarded untouched.
type ChatEnvelope struct {
	Model     string            `json:"model"`
	Messages  []ChatMessage     `json:"messages"`
	System    Content           `json:"system"`
	Stream    *bool             `json:"stream,omitempty"`
	Tools     []json.RawMessage `json:"tools,omitempty"`
	Functions []json.RawMessage `json:"functions,omitempty"`
}

// HasTools reports whether the caller offered tools or legacy functions.
func (e *ChatEnvelope) HasTools() bool {
	return len(e.Tools) > 0 || len(e.Functions) > 0
}

// LastUserMessage returns the text of the last user turn, or "" when there is none.
func (e *ChatEnvelope) LastUserMessage() string {
	for i := len(e.Messages) - 1; i >= 0; i-- {
		if e.Messages[i].Role == RoleUser {
			return e.Messages[i].Content.String()
		}
	}
	return ""
}

// PriorTurns returns the text of every message before the last user turn.
func (e *ChatEnvelope) PriorTurns() []string {
	last := -1
	for i := len(e.Messages) - 1; i >= 0; i-- {
		if e.Messages[i].Role == RoleUser {
			last = i
			break
		}
	}
	if last <= 0 {
		return nil
	}

	turns := make([]string, 0, last)
	for _, m := range e.Messages[:last] {
		if text := m.Content.String(); text != "" {
			turns = append(turns, text)
		}
	}
	return turns
}

type ChatMessage struct {
	Role       string          `json:"role"`
	Content    Content         `json:"content"` // string or []ContentPart
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
}

// Content handles the union type: string | []ContentPart
type Content struct {
	Text  string
	Parts []ContentPart
}

func (c *Content) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &c.Parts)
	}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// String flattens the text parts of the content.
func (c Content) String() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)
