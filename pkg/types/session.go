// Package types provides the core data types shared across the agent core.
package types

// SessionStatus is the coarse lifecycle state of a Session. Transitions are
// IDLE -> BUSY -> IDLE; RETRY is a transient label for observation only
// during the agent loop's backoff window and always resolves back to BUSY
// or IDLE.
type SessionStatus string

const (
	SessionIdle  SessionStatus = "IDLE"
	SessionBusy  SessionStatus = "BUSY"
	SessionRetry SessionStatus = "RETRY"
)

// Session is identified by id and bound to one host repository root via
// ProjectKey (the directory field doubles as the project's filesystem
// root, following the teacher's per-directory session scoping). Messages
// are append-only: once appended, a message's ID, Role, and CreatedAt
// never change; status transitions IDLE<->BUSY with RETRY a transient
// observation-only label.
type Session struct {
	ID         string        `json:"id"`
	ProjectKey string        `json:"projectKey"`
	Directory  string        `json:"directory"`
	ParentID   *string       `json:"parentID,omitempty"`
	Title      string        `json:"title"`
	Version    string        `json:"version"`
	Status     SessionStatus `json:"status"`
	Summary    SessionSummary `json:"summary"`
	Share      *SessionShare `json:"share,omitempty"`
	Time       SessionTime   `json:"time"`
	Revert     *SessionRevert `json:"revert,omitempty"`
	UserIP     string        `json:"userIp,omitempty"`
	UserName   string        `json:"userName,omitempty"`
	LastCommitTime *int64    `json:"lastCommitTime,omitempty"`
	CustomPrompt *CustomPrompt `json:"customPrompt,omitempty"`
}

// SessionSummary contains statistics about code changes made by tools
// during a session, surfaced for transcript/sharing display.
type SessionSummary struct {
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Files     int        `json:"files"`
	Diffs     []FileDiff `json:"diffs,omitempty"`
}

// FileDiff represents a diff for a single file.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Compacting *int64 `json:"compacting,omitempty"`
}

// SessionShare contains sharing information for a session.
type SessionShare struct {
	URL string `json:"url"`
}

// SessionRevert contains information about session revert state.
type SessionRevert struct {
	MessageID string  `json:"messageID"`
	PartID    *string `json:"partID,omitempty"`
	Snapshot  *string `json:"snapshot,omitempty"`
	Diff      *string `json:"diff,omitempty"`
}

// CustomPrompt represents a custom system prompt configuration.
type CustomPrompt struct {
	Type      string            `json:"type"` // "file" | "inline"
	Value     string            `json:"value"`
	LoadedAt  *int64            `json:"loadedAt,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}
