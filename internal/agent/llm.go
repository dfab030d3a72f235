package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"todochat/internal/config"
	"todochat/internal/models"
)

const systemPrompt = "You are an AI assistant that helps users manage their tasks through natural language. " +
	"Identify whether the user wants to create, view, update, delete, or mark tasks as " +
	"complete or incomplete, extract relevant details like task titles and dates, and " +
	"respond with short, clear messages. You cannot access the database directly; the " +
	"system performs task operations on your behalf."

const titlePrompt = "You are a conversation title generator. " +
	"Based on the dialogue between the user and the assistant, generate a concise title " +
	"summarizing the main topic. Keep it under 50 characters and output only the title."

// LLMGenerator produces replies with a provider chat model. The model client
// is constructed once at startup and shared across turns.
type LLMGenerator struct {
	chatModel model.ToolCallingChatModel
}

// NewLLMGenerator builds the chat model for the configured provider.
func NewLLMGenerator(cfg *config.Config) (*LLMGenerator, error) {
	provider := cfg.Agent.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	modelName := cfg.Agent.Model
	if modelName == "" {
		modelName = provCfg.Model
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 1000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &LLMGenerator{chatModel: chatModel}, nil
}

// Generate sends the system prompt, the replayed history, and the current
// message to the model.
func (g *LLMGenerator) Generate(ctx context.Context, history []*models.Message, message string) (string, error) {
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, &schema.Message{Role: schema.System, Content: systemPrompt})
	msgs = append(msgs, convertHistory(history)...)
	msgs = append(msgs, &schema.Message{Role: schema.User, Content: message})

	resp, err := g.chatModel.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return resp.Content, nil
}

// GenerateTitle summarizes the exchange into a short title.
func (g *LLMGenerator) GenerateTitle(ctx context.Context, history []*models.Message) (string, error) {
	if len(history) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", msg.Content)
		case models.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", msg.Content)
		}
	}
	msgs := []*schema.Message{
		{Role: schema.System, Content: titlePrompt},
		{Role: schema.User, Content: b.String()},
	}
	resp, err := g.chatModel.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func convertHistory(history []*models.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleTool:
			// Tool confirmations are not replayed to the model.
			continue
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}
