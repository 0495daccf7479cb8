// Package modeldata is the built-in catalogue of well known models and their
// capability scores (0-100) used by complexity based routing.
package modeldata

type Model struct {
	Name          string
	ContextLength int
	Score         int
}

var KnownModels = map[string]Model{
	// OpenAI
	"o1":            {Name: "o1", ContextLength: 200000, Score: 96},
	"o3-mini":       {Name: "o3-mini", ContextLength: 200000, Score: 90},
	"gpt-4o":        {Name: "GPT-4o", ContextLength: 128000, Score: 85},
	"gpt-4o-mini":   {Name: "GPT-4o mini", ContextLength: 128000, Score: 62},
	"gpt-4-turbo":   {Name: "GPT-4 Turbo", ContextLength: 128000, Score: 80},
	"gpt-4":         {Name: "GPT-4", ContextLength: 8192, Score: 75},
	"gpt-3.5-turbo": {Name: "GPT-3.5 Turbo", ContextLength: 16385, Score: 45},

	// Anthropic
	"claude-3-5-sonnet": {Name: "Claude 3.5 Sonnet", ContextLength: 200000, Score: 88},
	"claude-3-opus":     {Name: "Claude 3 Opus", ContextLength: 200000, Score: 86},
	"claude-3-sonnet":   {Name: "Claude 3 Sonnet", ContextLength: 200000, Score: 70},
	"claude-3-5-haiku":  {Name: "Claude 3.5 Haiku", ContextLength: 200000, Score: 60},
	"claude-3-haiku":    {Name: "Claude 3 Haiku", ContextLength: 200000, Score: 50},

	// Google
	"gemini-1.5-pro":   {Name: "Gemini 1.5 Pro", ContextLength: 2000000, Score: 82},
	"gemini-1.5-flash": {Name: "Gemini 1.5 Flash", ContextLength: 1000000, Score: 58},
	"gemini-2.0-flash": {Name: "Gemini 2.0 Flash", ContextLength: 1000000, Score: 70},

	// Others
	"deepseek-reasoner": {Name: "DeepSeek Reasoner", ContextLength: 64000, Score: 90},
	"deepseek-chat":     {Name: "DeepSeek Chat", ContextLength: 64000, Score: 72},
	"deepseek-coder":    {Name: "DeepSeek Coder", ContextLength: 128000, Score: 70},
	"qwen-max":          {Name: "Qwen Max", ContextLength: 32000, Score: 78},
	"qwen-plus":         {Name: "Qwen Plus", ContextLength: 131072, Score: 65},
	"qwen-turbo":        {Name: "Qwen Turbo", ContextLength: 1000000, Score: 45},
	"moonshot-v1":       {Name: "Moonshot v1", ContextLength: 128000, Score: 60},
	"glm-4":             {Name: "GLM-4", ContextLength: 128000, Score: 68},
	"mistral-large":     {Name: "Mistral Large", ContextLength: 128000, Score: 78},
	"mistral-small":     {Name: "Mistral Small", ContextLength: 32000, Score: 50},
}

// Scores flattens KnownModels into a model id -> score map.
func Scores() map[string]int {
	out := make(map[string]int, len(KnownModels))
	for id, m := range KnownModels {
		out[id] = m.Score
	}
	return out
}
