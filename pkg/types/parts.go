package types

import "encoding/json"

// Part represents a component of an assistant or user message.
// All parts carry sessionID and messageID so they can be addressed
// independently of their parent message.
type Part interface {
	PartType() string
	PartID() string
	PartSessionID() string
	PartMessageID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part.
type TextPart struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID"`
	Type      string         `json:"type"` // always "text"
	Text      string         `json:"text"`
	Time      PartTime       `json:"time,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (p *TextPart) PartType() string      { return "text" }
func (p *TextPart) PartID() string        { return p.ID }
func (p *TextPart) PartSessionID() string { return p.SessionID }
func (p *TextPart) PartMessageID() string { return p.MessageID }

// ReasoningPart represents extended thinking/reasoning content.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "reasoning"
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() string      { return "reasoning" }
func (p *ReasoningPart) PartID() string        { return p.ID }
func (p *ReasoningPart) PartSessionID() string { return p.SessionID }
func (p *ReasoningPart) PartMessageID() string { return p.MessageID }

// Tool part states. A ToolPart moves PENDING -> RUNNING -> COMPLETED|ERROR
// and never transitions once it reaches a terminal state.
const (
	ToolStatePending   = "pending"
	ToolStateRunning   = "running"
	ToolStateCompleted = "completed"
	ToolStateError     = "error"
)

// ToolPart represents a tool call and its eventual result.
type ToolPart struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	MessageID  string         `json:"messageID"`
	Type       string         `json:"type"` // always "tool"
	ToolCallID string         `json:"toolCallID"`
	ToolName   string         `json:"toolName"`
	Input      map[string]any `json:"input"`
	State      string         `json:"state"` // pending|running|completed|error
	Output     *string        `json:"output,omitempty"`
	Error      *string        `json:"error,omitempty"`
	Title      *string        `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Time       PartTime       `json:"time,omitempty"`
}

func (p *ToolPart) PartType() string      { return "tool" }
func (p *ToolPart) PartID() string        { return p.ID }
func (p *ToolPart) PartSessionID() string { return p.SessionID }
func (p *ToolPart) PartMessageID() string { return p.MessageID }

// GoalPart states the objective the agent is currently pursuing. Emitted
// once at the start of a turn, and again whenever the agent reframes its
// goal mid-turn (e.g. after discovering the original goal is unreachable).
type GoalPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "goal"
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *GoalPart) PartType() string      { return "goal" }
func (p *GoalPart) PartID() string        { return p.ID }
func (p *GoalPart) PartSessionID() string { return p.SessionID }
func (p *GoalPart) PartMessageID() string { return p.MessageID }

// ProgressPart reports incremental status during a long-running step
// (e.g. "3/12 files analyzed"). Purely informational — never replayed
// into the LLM context.
type ProgressPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "progress"
	Text      string   `json:"text"`
	Current   int      `json:"current,omitempty"`
	Total     int      `json:"total,omitempty"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ProgressPart) PartType() string      { return "progress" }
func (p *ProgressPart) PartID() string        { return p.ID }
func (p *ProgressPart) PartSessionID() string { return p.SessionID }
func (p *ProgressPart) PartMessageID() string { return p.MessageID }

// TodoItem is a single entry in a TodoPart's checklist.
type TodoItem struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"`             // pending|in_progress|completed
	Priority string `json:"priority,omitempty"` // high|medium|low
}

// TodoPart carries the agent's current task checklist.
type TodoPart struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionID"`
	MessageID string     `json:"messageID"`
	Type      string     `json:"type"` // always "todo"
	Items     []TodoItem `json:"items"`
	Time      PartTime   `json:"time,omitempty"`
}

func (p *TodoPart) PartType() string      { return "todo" }
func (p *TodoPart) PartID() string        { return p.ID }
func (p *TodoPart) PartSessionID() string { return p.SessionID }
func (p *TodoPart) PartMessageID() string { return p.MessageID }

// CompactionPart marks a user message as an explicit (or auto-triggered)
// request to summarize and compact the conversation so far, rather than a
// normal turn to answer.
type CompactionPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "compaction"
	Auto      bool     `json:"auto"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *CompactionPart) PartType() string      { return "compaction" }
func (p *CompactionPart) PartID() string        { return p.ID }
func (p *CompactionPart) PartSessionID() string { return p.SessionID }
func (p *CompactionPart) PartMessageID() string { return p.MessageID }

// UserPart carries a raw user-authored utterance, distinct from TextPart
// which is reserved for assistant-authored text. Keeping the two separate
// lets the session store and the compactor treat user turns and assistant
// narration differently without inspecting the parent message's role.
type UserPart struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID"`
	Type      string         `json:"type"` // always "user"
	Text      string         `json:"text"`
	Time      PartTime       `json:"time,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (p *UserPart) PartType() string      { return "user" }
func (p *UserPart) PartID() string        { return p.ID }
func (p *UserPart) PartSessionID() string { return p.SessionID }
func (p *UserPart) PartMessageID() string { return p.MessageID }

// FilePart describes a file attachment produced by a tool result. It is not
// one of the streamed Part variants — it only ever appears nested inside a
// ToolPart's metadata.
type FilePart struct {
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

// RawPart is used only to sniff the "type" discriminator before dispatch.
type RawPart struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// UnmarshalPart unmarshals a JSON part into its concrete type based on the
// "type" discriminator field.
func UnmarshalPart(data []byte) (Part, error) {
	var raw RawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool":
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "goal":
		var p GoalPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "progress":
		var p ProgressPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "todo":
		var p TodoPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "user":
		var p UserPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "compaction":
		var p CompactionPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}
