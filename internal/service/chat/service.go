package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/feed"
	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/metrics"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/chat"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/persona"
)

var ErrEmptyMessage = errors.New("message text is required")

// User-facing replies used in place of a model answer.
const (
	ReplyNotInitialized = "Error: AI Service not initialized. Please check your API Key."
	ReplyConnectionLost = "Connection error: Unable to reach the AI service. Please try again."
	ReplyEmpty          = "I processed that, but have no text response."
)

// GreetingID marks the synthesized opening message of an empty transcript.
const GreetingID = "greeting"

// Replier produces the assistant's answer to text given the prior transcript.
type Replier interface {
	Reply(ctx context.Context, history []chat.Message, text string) (string, error)
}

// TranscriptStore persists transcripts of signed-in users.
type TranscriptStore interface {
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	Recent(ctx context.Context, owner string, limit int) ([]chat.Message, error)
}

// Publisher announces transcript changes.
type Publisher interface {
	Publish(ctx context.Context, ev feed.Event)
}

// Exchange is the result of one Send.
type Exchange struct {
	Conversation chat.Conversation `json:"conversation"`
	Messages     []chat.Message    `json:"messages"`
}

// Options wires optional collaborators. Any nil field is skipped.
type Options struct {
	Store     TranscriptStore
	Publisher Publisher
	Metrics   *metrics.Collectors
}

// Service manages assistant conversations. Signed-in transcripts go to the
// store; anonymous ones live in memory keyed by client id.
type Service struct {
	replier   Replier
	persona   persona.Persona
	store     TranscriptStore
	publisher Publisher
	metrics   *metrics.Collectors
	now       func() time.Time
	log       zerolog.Logger

	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	transcripts   map[string][]chat.Message
	lastActive    map[string]time.Time
}

// NewService creates the conversation manager. replier may be nil when no
// model is configured; every Send then answers with ReplyNotInitialized.
func NewService(replier Replier, assistant persona.Persona, opts Options) *Service {
	return &Service{
		replier:       replier,
		persona:       assistant,
		store:         opts.Store,
		publisher:     opts.Publisher,
		metrics:       opts.Metrics,
		now:           func() time.Time { return time.Now().UTC() },
		log:           logging.For("chat"),
		conversations: make(map[string]chat.Conversation),
		transcripts:   make(map[string][]chat.Message),
		lastActive:    make(map[string]time.Time),
	}
}

// Send appends the user's message and the assistant's reply. Model failures
// are turned into a reply text; only blank input is an error.
func (s *Service) Send(ctx context.Context, principal identity.Principal, text string) (Exchange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Exchange{}, ErrEmptyMessage
	}

	s.openConversation(principal.Owner())
	history := s.history(ctx, principal)

	userMsg := s.appendMessage(ctx, principal, chat.SenderUser, text)

	replyText, status := s.reply(ctx, history, text)
	s.metrics.ChatReply(status)

	replyMsg := s.appendMessage(ctx, principal, chat.SenderAssistant, replyText)

	s.mu.Lock()
	conv := s.conversations[principal.Owner()]
	conv.Turns++
	s.conversations[principal.Owner()] = conv
	s.lastActive[principal.Owner()] = s.now()
	s.mu.Unlock()

	if principal.SignedIn() && s.publisher != nil {
		owner := principal.Owner()
		s.publisher.Publish(ctx, feed.Event{Topic: feed.ChatTopic(owner), Kind: feed.KindChat, Owner: owner})
	}

	return Exchange{Conversation: conv, Messages: []chat.Message{userMsg, replyMsg}}, nil
}

// Transcript returns the principal's transcript in ascending order. An empty
// transcript yields the assistant greeting.
func (s *Service) Transcript(ctx context.Context, principal identity.Principal) ([]chat.Message, error) {
	var messages []chat.Message
	if principal.SignedIn() && s.store != nil {
		stored, err := s.store.Recent(ctx, principal.Owner(), chat.TranscriptLimit)
		if err != nil {
			return nil, err
		}
		messages = stored
	} else {
		s.mu.RLock()
		messages = append([]chat.Message(nil), s.transcripts[principal.Owner()]...)
		s.mu.RUnlock()
	}

	if len(messages) == 0 {
		return []chat.Message{s.greeting()}, nil
	}
	return messages, nil
}

// Conversation returns the owner's open conversation, if any.
func (s *Service) Conversation(principal identity.Principal) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[principal.Owner()]
	return conv, ok
}

// Forget drops the in-memory transcript and conversation of a client.
func (s *Service) Forget(clientID string) {
	s.mu.Lock()
	delete(s.transcripts, clientID)
	delete(s.conversations, clientID)
	delete(s.lastActive, clientID)
	s.mu.Unlock()
}

// ForgetIdle drops in-memory state of owners with no message since cutoff
// and returns their ids. Persisted transcripts are untouched.
func (s *Service) ForgetIdle(cutoff time.Time) []string {
	s.mu.Lock()
	var dropped []string
	for owner, at := range s.lastActive {
		if at.After(cutoff) {
			continue
		}
		delete(s.transcripts, owner)
		delete(s.conversations, owner)
		delete(s.lastActive, owner)
		dropped = append(dropped, owner)
	}
	s.mu.Unlock()

	if len(dropped) > 0 {
		s.log.Debug().Int("count", len(dropped)).Msg("idle conversations dropped")
	}
	return dropped
}

// Run calls ForgetIdle with a maxIdle cutoff on every tick until ctx is done.
func (s *Service) Run(ctx context.Context, interval, maxIdle time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ForgetIdle(s.now().Add(-maxIdle))
		}
	}
}

func (s *Service) openConversation(owner string) chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[owner]
	if !ok {
		conv = chat.Conversation{
			ID:        uuid.NewString(),
			Owner:     owner,
			PersonaID: s.persona.ID,
			CreatedAt: s.now(),
		}
		s.conversations[owner] = conv
		s.lastActive[owner] = s.now()
		s.log.Debug().Str("conversation_id", conv.ID).Msg("conversation opened")
	}
	return conv
}

func (s *Service) history(ctx context.Context, principal identity.Principal) []chat.Message {
	if principal.SignedIn() && s.store != nil {
		stored, err := s.store.Recent(ctx, principal.Owner(), chat.TranscriptLimit)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to load transcript, replying without history")
			return nil
		}
		return stored
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Message(nil), s.transcripts[principal.Owner()]...)
}

func (s *Service) reply(ctx context.Context, history []chat.Message, text string) (string, string) {
	if s.replier == nil {
		return ReplyNotInitialized, "unavailable"
	}

	answer, err := s.replier.Reply(ctx, history, text)
	if err != nil {
		s.log.Warn().Err(err).Msg("assistant reply failed")
		return ReplyConnectionLost, "error"
	}
	if strings.TrimSpace(answer) == "" {
		return ReplyEmpty, "empty"
	}
	return answer, "ok"
}

func (s *Service) appendMessage(ctx context.Context, principal identity.Principal, sender chat.Sender, text string) chat.Message {
	msg := chat.Message{
		ID:     uuid.NewString(),
		Owner:  principal.Owner(),
		Sender: sender,
		Text:   text,
		SentAt: s.now(),
	}

	if principal.SignedIn() && s.store != nil {
		saved, err := s.store.Append(ctx, msg)
		if err != nil {
			s.log.Warn().Err(err).Str("sender", string(sender)).Msg("failed to persist chat message")
			s.metrics.PersistenceFailed("chats")
			return msg
		}
		return saved
	}

	s.mu.Lock()
	list := append(s.transcripts[msg.Owner], msg)
	if len(list) > chat.TranscriptLimit {
		list = append([]chat.Message(nil), list[len(list)-chat.TranscriptLimit:]...)
	}
	s.transcripts[msg.Owner] = list
	s.mu.Unlock()
	return msg
}

func (s *Service) greeting() chat.Message {
	return chat.Message{
		ID:     GreetingID,
		Sender: chat.SenderAssistant,
		Text:   s.persona.OpeningLine,
		SentAt: s.now(),
	}
}
