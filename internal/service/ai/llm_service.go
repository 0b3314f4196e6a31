package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/config"
	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/chat"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/persona"
)

// historyLimit is the number of transcript turns replayed to the model.
const historyLimit = 10

var ErrPersonaNotFound = errors.New("assistant persona not found")

// Service encapsulates AI-powered chat functionality
type Service struct {
	persona persona.Persona
	prompts *PersonaPromptManager
	chain   compose.Runnable[map[string]any, *schema.Message]
	log     zerolog.Logger
}

// NewService creates the assistant service backed by the configured Ark model.
func NewService(ctx context.Context, personas persona.Store, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, personas, chatModel)
}

// NewServiceWithModel builds the chain around an existing model.
func NewServiceWithModel(ctx context.Context, personas persona.Store, chatModel model.BaseChatModel) (*Service, error) {
	assistant := personas.Assistant()
	if assistant.ID == "" {
		return nil, ErrPersonaNotFound
	}

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

	return &Service{
		persona: assistant,
		prompts: NewPersonaPromptManager(),
		chain:   runnable,
		log:     logging.For("ai"),
	}, nil
}

// Persona returns the assistant persona the chain is primed with.
func (s *Service) Persona() persona.Persona {
	return s.persona
}

// Reply runs one assistant turn. history is the transcript before text and
// must not include it.
func (s *Service) Reply(ctx context.Context, history []chat.Message, text string) (string, error) {
	input := map[string]any{
		"system":  s.prompts.BuildSystemPrompt(s.persona),
		"history": buildHistoryMessages(history),
		"query":   text,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", nil
	}

	s.log.Debug().Int("history", len(history)).Int("length", len(response.Content)).Msg("generated assistant reply")
	return response.Content, nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}
