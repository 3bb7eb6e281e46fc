package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/spindlehq/spindle/pkg/models"
)

// OpenAIProvider streams completions from the OpenAI chat API or any
// compatible backend.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	model := config.DefaultModel
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Stream opens a streaming chat completion. Reasoning-capable backends
// attach continuation metadata to the finish part via ProviderMeta so the
// stream adapter can capture it for replay.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *StreamPart, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertOpenAIMessages(req.Messages, req.System),
		Stream:    true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}
	if raw, ok := req.ReplayMeta["openai.reasoning"]; ok {
		applyReasoningReplay(&chatReq, raw)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	parts := make(chan *StreamPart)
	go p.processStream(ctx, stream, parts)
	return parts, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, parts chan<- *StreamPart) {
	defer close(parts)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var responseID string
	var inputTokens, outputTokens int

	flushToolCalls := func() {
		for i := 0; i < len(toolCalls); i++ {
			tc := toolCalls[i]
			if tc == nil || tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Arguments) == 0 {
				tc.Arguments = json.RawMessage("{}")
			}
			parts <- &StreamPart{ToolCall: tc}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			parts <- &StreamPart{Err: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				done := &StreamPart{
					Done:         true,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
				}
				if responseID != "" {
					id, _ := json.Marshal(responseID)
					done.ProviderMeta = map[string]json.RawMessage{
						"reasoning_item_id": id,
					}
				}
				parts <- done
				return
			}
			parts <- &StreamPart{Err: fmt.Errorf("openai: %w", err)}
			return
		}

		if response.ID != "" {
			responseID = response.ID
		}
		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			parts <- &StreamPart{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Arguments = append(toolCalls[index].Arguments, tc.Function.Arguments...)
			}
		}

		if response.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flushToolCalls()
		}
	}
}

// applyReasoningReplay surfaces captured reasoning state to compatible
// backends via request metadata. Backends that ignore unknown metadata
// are unaffected.
func applyReasoningReplay(req *openai.ChatCompletionRequest, raw json.RawMessage) {
	var state struct {
		ItemIDs []string `json:"item_ids"`
	}
	if err := json.Unmarshal(raw, &state); err != nil || len(state.ItemIDs) == 0 {
		return
	}
	if req.Metadata == nil {
		req.Metadata = map[string]string{}
	}
	req.Metadata["previous_response_id"] = state.ItemIDs[len(state.ItemIDs)-1]
}

// convertOpenAIMessages maps session history onto chat messages. The
// system prompt goes first; each tool result becomes its own tool-role
// message.
func convertOpenAIMessages(messages []models.HistoryMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Text(),
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, call := range msg.ToolCalls() {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			for _, part := range msg.Parts {
				if part.Kind != models.PartToolResult || part.ToolResult == nil {
					continue
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    part.ToolResult.Data,
					ToolCallID: part.ToolResult.ToolCallID,
				})
			}
		}
	}
	return result
}

func convertOpenAITools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return result
}
