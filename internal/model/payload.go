package model

// Payload is a typed event body. Each implementation maps to exactly one
// EventType, keeping the taxonomy closed.
type Payload interface {
	Kind() EventType
	Data() map[string]any
}

// merge copies extra into data without overwriting the typed fields.
func merge(data, extra map[string]any) map[string]any {
	for k, v := range extra {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}
	return data
}

// LLMRequest is a prompt sent to a model.
type LLMRequest struct {
	Model    string
	Messages []any
	Extra    map[string]any
}

func (p LLMRequest) Kind() EventType { return EventLLMRequest }

func (p LLMRequest) Data() map[string]any {
	messages := p.Messages
	if messages == nil {
		messages = []any{}
	}
	return merge(map[string]any{"model": p.Model, "messages": messages}, p.Extra)
}

// LLMResponse is a model completion. Tokens is omitted when zero.
type LLMResponse struct {
	Model   string
	Content string
	Tokens  int
	Extra   map[string]any
}

func (p LLMResponse) Kind() EventType { return EventLLMResponse }

func (p LLMResponse) Data() map[string]any {
	data := map[string]any{"content": p.Content}
	if p.Model != "" {
		data["model"] = p.Model
	}
	if p.Tokens != 0 {
		data["tokens"] = p.Tokens
	}
	return merge(data, p.Extra)
}

// ToolCall is a tool invocation.
type ToolCall struct {
	Name      string
	Arguments map[string]any
	Extra     map[string]any
}

func (p ToolCall) Kind() EventType { return EventToolCall }

func (p ToolCall) Data() map[string]any {
	args := p.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return merge(map[string]any{"name": p.Name, "arguments": args}, p.Extra)
}

// ToolResult is what a tool returned.
type ToolResult struct {
	Name   string
	Result any
	Extra  map[string]any
}

func (p ToolResult) Kind() EventType { return EventToolResult }

func (p ToolResult) Data() map[string]any {
	return merge(map[string]any{"name": p.Name, "result": p.Result}, p.Extra)
}

// Decision records a branch the agent took.
type Decision struct {
	Description  string
	Choice       string
	Alternatives []string
	Extra        map[string]any
}

func (p Decision) Kind() EventType { return EventDecision }

func (p Decision) Data() map[string]any {
	data := map[string]any{"description": p.Description, "choice": p.Choice}
	if len(p.Alternatives) > 0 {
		alts := make([]any, len(p.Alternatives))
		for i, a := range p.Alternatives {
			alts[i] = a
		}
		data["alternatives"] = alts
	}
	return merge(data, p.Extra)
}

// StateChange records a mutation of agent state.
type StateChange struct {
	Key   string
	Old   any
	New   any
	Extra map[string]any
}

func (p StateChange) Kind() EventType { return EventStateChange }

func (p StateChange) Data() map[string]any {
	return merge(map[string]any{"key": p.Key, "old": p.Old, "new": p.New}, p.Extra)
}

// Error records a failure observed by the agent.
type Error struct {
	Message   string
	Exception string
	Extra     map[string]any
}

func (p Error) Kind() EventType { return EventError }

func (p Error) Data() map[string]any {
	data := map[string]any{"message": p.Message}
	if p.Exception != "" {
		data["exception"] = p.Exception
	}
	return merge(data, p.Extra)
}

// Log is a free-form message.
type Log struct {
	Message string
	Level   string
	Extra   map[string]any
}

func (p Log) Kind() EventType { return EventLog }

func (p Log) Data() map[string]any {
	level := p.Level
	if level == "" {
		level = "info"
	}
	return merge(map[string]any{"message": p.Message, "level": level}, p.Extra)
}
