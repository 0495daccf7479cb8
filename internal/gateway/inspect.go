package gateway

import (
	"github.com/goccy/go-json"
	"github.com/nulzo/bot-router/pkg/api"
)

// inspection is what the router reads out of a chat style request body.
type inspection struct {
	message  string
	context  []string
	hasTools bool
	// stream is nil when the body does not say
	stream *bool
	model  string
}

// inspectBody reads an OpenAI or Anthropic style chat body. Bodies that are
// not JSON objects yield an empty inspection.
func inspectBody(body []byte) inspection {
	if len(body) == 0 {
		return inspection{}
	}
	var env api.ChatEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return inspection{}
	}
	return inspection{
		message:  env.LastUserMessage(),
		context:  env.PriorTurns(),
		hasTools: env.HasTools(),
		stream:   env.Stream,
		model:    env.Model,
	}
}

// rewriteModel replaces the top level "model" field and leaves every other
// field byte for byte as it was. Non-object bodies are returned unchanged.
func rewriteModel(body []byte, modelID string) []byte {
	if len(body) == 0 || modelID == "" {
		return body
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return body
	}
	encoded, err := json.Marshal(modelID)
	if err != nil {
		return body
	}
	fields["model"] = encoded
	out, err := json.Marshal(fields)
	if err != nil {
		return body
	}
	return out
}
