package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/codescout-dev/codescout/internal/event"
	"github.com/codescout-dev/codescout/internal/logging"
	"github.com/codescout-dev/codescout/internal/provider"
	"github.com/codescout-dev/codescout/pkg/types"
)

// processStream processes events from the LLM stream, building up TEXT,
// REASONING and TOOL parts as chunks arrive.
func (p *Processor) processStream(
	ctx context.Context,
	stream *provider.CompletionStream,
	state *sessionState,
	callback ProcessCallback,
) (string, error) {
	var currentTextPart *types.TextPart
	var currentReasoningPart *types.ReasoningPart
	var finishReason string
	var accumulatedContent string
	currentToolParts := make(map[string]*types.ToolPart)
	accumulatedToolInputs := make(map[string]string)
	var lastEventTime time.Time

	chunkCount := 0
	for {
		select {
		case <-ctx.Done():
			return "error", ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			logging.Debug().Err(err).Msg("stream recv error")
			return "error", err
		}
		chunkCount++

		finishReason = p.processMessageChunk(ctx, msg, state, callback,
			&currentTextPart, &currentReasoningPart, currentToolParts,
			&accumulatedContent, accumulatedToolInputs, &lastEventTime)

		if finishReason != "" {
			break
		}
	}

	now := time.Now().UnixMilli()
	if currentTextPart != nil {
		currentTextPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentTextPart)
	}
	if currentReasoningPart != nil {
		currentReasoningPart.Time.End = &now
		p.savePart(ctx, state.message.ID, currentReasoningPart)
	}

	for key, toolPart := range currentToolParts {
		if accInput, ok := accumulatedToolInputs[key]; ok && toolPart.Input == nil {
			var input map[string]any
			if err := json.Unmarshal([]byte(accInput), &input); err == nil {
				toolPart.Input = input
			}
		}
		toolPart.State = types.ToolStatePending
		p.savePart(ctx, state.message.ID, toolPart)
	}

	if finishReason == "" {
		if len(currentToolParts) > 0 {
			finishReason = "tool_calls"
		} else {
			finishReason = "stop"
		}
	}
	if finishReason == "tool_use" {
		finishReason = "tool_calls"
	}

	logging.Debug().
		Int("chunks", chunkCount).
		Str("finishReason", finishReason).
		Int("parts", len(state.parts)).
		Msg("stream finished")

	return finishReason, nil
}

// truncate truncates a string to the specified length.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// MinEventInterval is the minimum time between streaming events published
// over the external channel, so downstream clients don't get flooded by
// token-level deltas.
const MinEventInterval = 20 * time.Millisecond

// throttledPublish publishes an event with optional throttling.
func throttledPublish(e event.Event, lastEventTime *time.Time) {
	if lastEventTime != nil && !lastEventTime.IsZero() {
		if elapsed := time.Since(*lastEventTime); elapsed < MinEventInterval {
			time.Sleep(MinEventInterval - elapsed)
		}
	}
	event.Publish(e)
	if lastEventTime != nil {
		*lastEventTime = time.Now()
	}
}

// processMessageChunk handles a single message chunk from the stream.
func (p *Processor) processMessageChunk(
	ctx context.Context,
	msg *schema.Message,
	state *sessionState,
	callback ProcessCallback,
	currentTextPart **types.TextPart,
	currentReasoningPart **types.ReasoningPart,
	currentToolParts map[string]*types.ToolPart,
	accumulatedContent *string,
	accumulatedToolInputs map[string]string,
	lastEventTime *time.Time,
) string {
	var finishReason string

	if msg.Content != "" {
		if *currentTextPart == nil {
			now := time.Now().UnixMilli()
			*currentTextPart = &types.TextPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "text",
				Text:      msg.Content,
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentTextPart)
			*accumulatedContent = msg.Content

			throttledPublish(event.Event{
				Type: event.MessagePartUpdated,
				Data: event.MessagePartUpdatedData{
					Part:  *currentTextPart,
					Delta: msg.Content,
				},
			}, lastEventTime)

			callback(state.message, state.parts)
		} else {
			var delta string
			if strings.HasPrefix(msg.Content, *accumulatedContent) {
				delta = msg.Content[len(*accumulatedContent):]
				(*currentTextPart).Text = msg.Content
				*accumulatedContent = msg.Content
			} else {
				delta = msg.Content
				*accumulatedContent += msg.Content
				(*currentTextPart).Text = *accumulatedContent
			}

			throttledPublish(event.Event{
				Type: event.MessagePartUpdated,
				Data: event.MessagePartUpdatedData{
					Part:  *currentTextPart,
					Delta: delta,
				},
			}, lastEventTime)

			callback(state.message, state.parts)
		}
	}

	if msg.ReasoningContent != "" {
		if *currentReasoningPart == nil {
			now := time.Now().UnixMilli()
			*currentReasoningPart = &types.ReasoningPart{
				ID:        generatePartID(),
				SessionID: state.message.SessionID,
				MessageID: state.message.ID,
				Type:      "reasoning",
				Text:      msg.ReasoningContent,
				Time:      types.PartTime{Start: &now},
			}
			state.parts = append(state.parts, *currentReasoningPart)
			callback(state.message, state.parts)
		} else {
			(*currentReasoningPart).Text = msg.ReasoningContent
			callback(state.message, state.parts)
		}
	}

	// Track tool calls by eino's streaming Index, falling back to ID when
	// Index is unavailable.
	for _, tc := range msg.ToolCalls {
		var toolIndex int
		if tc.Index != nil {
			toolIndex = *tc.Index
		} else if tc.ID != "" {
			toolIndex = -1
		} else {
			continue
		}

		var lookupKey string
		if toolIndex >= 0 {
			lookupKey = fmt.Sprintf("idx:%d", toolIndex)
		} else {
			lookupKey = tc.ID
		}

		toolPart, exists := currentToolParts[lookupKey]

		if !exists && tc.ID != "" && tc.Function.Name != "" {
			now := time.Now().UnixMilli()
			toolPart = &types.ToolPart{
				ID:         generatePartID(),
				SessionID:  state.message.SessionID,
				MessageID:  state.message.ID,
				Type:       "tool",
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
				State:      types.ToolStatePending,
				Input:      make(map[string]any),
				Time:       types.PartTime{Start: &now},
			}
			currentToolParts[lookupKey] = toolPart
			accumulatedToolInputs[lookupKey] = ""
			state.parts = append(state.parts, toolPart)
			callback(state.message, state.parts)
		}

		if tc.Function.Arguments != "" && toolPart != nil {
			accumulatedToolInputs[lookupKey] += tc.Function.Arguments

			var input map[string]any
			if err := json.Unmarshal([]byte(accumulatedToolInputs[lookupKey]), &input); err == nil {
				toolPart.Input = input
			}

			event.Publish(event.Event{
				Type: event.MessagePartUpdated,
				Data: event.MessagePartUpdatedData{Part: toolPart},
			})

			callback(state.message, state.parts)
		}
	}

	if msg.ResponseMeta != nil {
		if state.message.Tokens == nil {
			state.message.Tokens = &types.TokenUsage{}
		}
		if msg.ResponseMeta.Usage != nil {
			state.message.Tokens.Input = msg.ResponseMeta.Usage.PromptTokens
			state.message.Tokens.Output = msg.ResponseMeta.Usage.CompletionTokens
		}
		if msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	return finishReason
}
