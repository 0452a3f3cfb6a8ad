package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/config"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/chat"
)

const historyLimit = 10

// Service answers chat prompts through an LLM chain.
type Service struct {
	systemPrompt string
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewServiceFromConfig builds the Ark chat model described by cfg and wraps it.
func NewServiceFromConfig(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewService(ctx, chatModel, cfg.SystemPrompt)
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, systemPrompt string) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{systemPrompt: systemPrompt, chain: runnable}, nil
}

// Reply implements Responder.
func (s *Service) Reply(ctx context.Context, history []chat.Message, userMessage string) (string, error) {
	response, err := s.chain.Invoke(ctx, map[string]any{
		"system":  s.systemPrompt,
		"history": buildHistory(history),
		"query":   userMessage,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	content := strings.TrimSpace(response.Content)
	log.Debug().Int("length", len(content)).Msg("[ai] generated response")
	return content, nil
}

// buildHistory maps the most recent turns onto model messages. System notices
// are not part of the dialogue and are skipped.
func buildHistory(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	start := 0
	if len(messages) > historyLimit {
		start = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderBot:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
