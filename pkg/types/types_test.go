package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_JSON(t *testing.T) {
	session := Session{
		ID:         "session-123",
		ProjectKey: "project-456",
		Directory:  "/home/user/project",
		Title:      "Test Session",
		Version:    "1.0.0",
		Status:     SessionIdle,
		Summary: SessionSummary{
			Additions: 100,
			Deletions: 50,
			Files:     5,
		},
		Time: SessionTime{
			Created: 1700000000000,
			Updated: 1700000001000,
		},
	}

	data, err := json.Marshal(session)
	require.NoError(t, err)

	var decoded Session
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, session.ID, decoded.ID)
	assert.Equal(t, session.ProjectKey, decoded.ProjectKey)
	assert.Equal(t, session.Summary.Additions, decoded.Summary.Additions)
	assert.Equal(t, SessionIdle, decoded.Status)
}

func TestSession_OptionalParentID(t *testing.T) {
	parentID := "parent-123"
	session := Session{ID: "session-123", ParentID: &parentID}

	data, err := json.Marshal(session)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "parentID")

	session2 := Session{ID: "session-456"}
	data2, _ := json.Marshal(session2)
	var raw2 map[string]any
	json.Unmarshal(data2, &raw2)
	assert.NotContains(t, raw2, "parentID")
}

func TestMessage_JSON(t *testing.T) {
	msg := Message{
		ID:         "msg-123",
		SessionID:  "session-456",
		Role:       RoleAssistant,
		ModelID:    "claude-3-opus",
		ProviderID: "anthropic",
		Cost:       0.05,
		Tokens: &TokenUsage{
			Input:  1000,
			Output: 500,
			Cache:  CacheUsage{Read: 100, Write: 50},
		},
		Time: MessageTime{Created: 1700000000000},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, RoleAssistant, decoded.Role)
	assert.Equal(t, 1000, decoded.Tokens.Input)
}

func TestMessage_UserFields(t *testing.T) {
	system := "You are a helpful assistant"
	msg := Message{
		ID:        "msg-user-1",
		SessionID: "session-1",
		Role:      RoleUser,
		Agent:     "main",
		Model:     &ModelRef{ProviderID: "anthropic", ModelID: "claude-3-opus"},
		System:    &system,
		Tools:     map[string]bool{"read_file": true, "apply_change": false},
		Time:      MessageTime{Created: 1700000000000},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "main", decoded.Agent)
	assert.Equal(t, "anthropic", decoded.Model.ProviderID)
	assert.True(t, decoded.Tools["read_file"])
	assert.False(t, decoded.Tools["apply_change"])
}

func TestFileDiff_JSON(t *testing.T) {
	diff := FileDiff{Path: "/src/main.go", Additions: 10, Deletions: 5, Before: "func old() {}", After: "func new() {}"}

	data, err := json.Marshal(diff)
	require.NoError(t, err)

	var decoded FileDiff
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, diff.Path, decoded.Path)
}

func TestSessionSummary_EmptyDiffsOmitted(t *testing.T) {
	summary := SessionSummary{}
	data, _ := json.Marshal(summary)
	var raw map[string]any
	json.Unmarshal(data, &raw)
	assert.NotContains(t, raw, "diffs")
}

func TestCustomPrompt_JSON(t *testing.T) {
	loadedAt := int64(1700000000000)
	prompt := CustomPrompt{
		Type:      "file",
		Value:     "/path/to/prompt.md",
		LoadedAt:  &loadedAt,
		Variables: map[string]string{"project": "myapp"},
	}

	data, err := json.Marshal(prompt)
	require.NoError(t, err)

	var decoded CustomPrompt
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "file", decoded.Type)
	assert.Equal(t, "myapp", decoded.Variables["project"])
}

func TestMessageError_JSON(t *testing.T) {
	msgErr := MessageError{Type: "api", Message: "rate limit exceeded"}

	data, err := json.Marshal(msgErr)
	require.NoError(t, err)

	var decoded MessageError
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "api", decoded.Type)
}

func TestLearningRecord_ConfidenceInvariant(t *testing.T) {
	rec := LearningRecord{
		ID:         "rec-1",
		ProjectKey: "proj-1",
		Question:   "what does main do",
		Answer:     "it starts the server",
		Confidence: 0.6,
		ExplorationPath: []ExplorationStep{
			{ToolName: "read_file", Status: "OK"},
			{ToolName: "grep_file", Status: "ERROR", Summary: "not found"},
		},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded LearningRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.LessOrEqual(t, decoded.Confidence, 0.7)
}

func TestParseQuestionType_FallsBackToBusinessLogic(t *testing.T) {
	assert.Equal(t, QuestionCodeStructure, ParseQuestionType("CODE_STRUCTURE"))
	assert.Equal(t, QuestionBusinessLogic, ParseQuestionType("not_a_real_type"))
}
