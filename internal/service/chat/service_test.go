package chat_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/kyc-shield/backend/internal/feed"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/chat"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/kyc-shield/backend/internal/service/chat"
)

type stubReplier struct {
	answer  string
	err     error
	history []chat.Message
}

func (r *stubReplier) Reply(_ context.Context, history []chat.Message, _ string) (string, error) {
	r.history = history
	return r.answer, r.err
}

type memoryStore struct {
	mu       sync.Mutex
	messages []chat.Message
	fail     bool
}

func (m *memoryStore) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return chat.Message{}, errors.New("write denied")
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memoryStore) Recent(_ context.Context, owner string, _ int) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Message
	for _, msg := range m.messages {
		if msg.Owner == owner {
			out = append(out, msg)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	events []feed.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev feed.Event) {
	p.events = append(p.events, ev)
}

var (
	anon   = identity.Principal{ClientID: "client-1"}
	member = identity.Principal{ClientID: "client-2", User: &identity.User{ID: "user-9"}}
)

func assistant() persona.Persona {
	return persona.NewMemoryStore(persona.Seed()).Assistant()
}

func TestSendAppendsUserAndReply(t *testing.T) {
	replier := &stubReplier{answer: "Moire patterns suggest a screen replay."}
	svc := chatservice.NewService(replier, assistant(), chatservice.Options{})
	ctx := context.Background()

	ex, err := svc.Send(ctx, anon, "  why was I rejected?  ")
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if len(ex.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(ex.Messages))
	}
	if ex.Messages[0].Sender != chat.SenderUser || ex.Messages[0].Text != "why was I rejected?" {
		t.Fatalf("unexpected user message: %+v", ex.Messages[0])
	}
	if ex.Messages[1].Sender != chat.SenderAssistant || ex.Messages[1].Text != replier.answer {
		t.Fatalf("unexpected reply: %+v", ex.Messages[1])
	}
	if ex.Conversation.PersonaID != persona.AssistantID || ex.Conversation.Turns != 1 {
		t.Fatalf("unexpected conversation: %+v", ex.Conversation)
	}

	second, err := svc.Send(ctx, anon, "thanks")
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if second.Conversation.ID != ex.Conversation.ID || second.Conversation.Turns != 2 {
		t.Fatalf("conversation not reused: %+v", second.Conversation)
	}
	if len(replier.history) != 2 {
		t.Fatalf("expected prior turn as history, got %d", len(replier.history))
	}

	transcript, err := svc.Transcript(ctx, anon)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(transcript) != 4 {
		t.Fatalf("expected 4 transcript entries, got %d", len(transcript))
	}
}

func TestSendRejectsBlankText(t *testing.T) {
	svc := chatservice.NewService(&stubReplier{answer: "x"}, assistant(), chatservice.Options{})
	if _, err := svc.Send(context.Background(), anon, "   "); !errors.Is(err, chatservice.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendErrorReplies(t *testing.T) {
	cases := []struct {
		name    string
		replier chatservice.Replier
		want    string
	}{
		{"not initialized", nil, chatservice.ReplyNotInitialized},
		{"transport", &stubReplier{err: errors.New("dial tcp: timeout")}, chatservice.ReplyConnectionLost},
		{"empty", &stubReplier{answer: "  "}, chatservice.ReplyEmpty},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := chatservice.NewService(tc.replier, assistant(), chatservice.Options{})
			ex, err := svc.Send(context.Background(), anon, "hello")
			if err != nil {
				t.Fatalf("Send err: %v", err)
			}
			if got := ex.Messages[1].Text; got != tc.want {
				t.Fatalf("unexpected reply: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestTranscriptGreetsWhenEmpty(t *testing.T) {
	svc := chatservice.NewService(nil, assistant(), chatservice.Options{})
	transcript, err := svc.Transcript(context.Background(), anon)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(transcript) != 1 || transcript[0].ID != chatservice.GreetingID {
		t.Fatalf("expected greeting, got %+v", transcript)
	}
	if transcript[0].Text != assistant().OpeningLine {
		t.Fatalf("unexpected greeting text: %q", transcript[0].Text)
	}
}

func TestSignedInTranscriptIsPersisted(t *testing.T) {
	store := &memoryStore{}
	pub := &recordingPublisher{}
	svc := chatservice.NewService(&stubReplier{answer: "ok"}, assistant(), chatservice.Options{Store: store, Publisher: pub})
	ctx := context.Background()

	if _, err := svc.Send(ctx, member, "hello"); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if len(store.messages) != 2 || store.messages[0].Owner != "user-9" {
		t.Fatalf("expected 2 persisted messages for user-9, got %+v", store.messages)
	}
	if len(pub.events) != 1 || pub.events[0].Topic != feed.ChatTopic("user-9") {
		t.Fatalf("expected chat change event, got %+v", pub.events)
	}

	transcript, err := svc.Transcript(ctx, member)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(transcript) != 2 {
		t.Fatalf("expected persisted transcript, got %d", len(transcript))
	}

	if _, err := svc.Send(ctx, anon, "hi"); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if len(store.messages) != 2 || len(pub.events) != 1 {
		t.Fatal("anonymous messages must stay in memory")
	}
}

func TestPersistenceFailureStillReplies(t *testing.T) {
	svc := chatservice.NewService(&stubReplier{answer: "ok"}, assistant(), chatservice.Options{Store: &memoryStore{fail: true}})
	ex, err := svc.Send(context.Background(), member, "hello")
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if ex.Messages[1].Text != "ok" {
		t.Fatalf("unexpected reply: %q", ex.Messages[1].Text)
	}
}

func TestForgetDropsAnonymousState(t *testing.T) {
	svc := chatservice.NewService(&stubReplier{answer: "ok"}, assistant(), chatservice.Options{})
	ctx := context.Background()
	if _, err := svc.Send(ctx, anon, "hello"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	svc.Forget(anon.ClientID)

	if _, ok := svc.Conversation(anon); ok {
		t.Fatal("conversation should be dropped")
	}
	transcript, _ := svc.Transcript(ctx, anon)
	if len(transcript) != 1 || transcript[0].ID != chatservice.GreetingID {
		t.Fatalf("expected greeting after forget, got %+v", transcript)
	}
}

func TestForgetIdleDropsQuietOwners(t *testing.T) {
	svc := chatservice.NewService(&stubReplier{answer: "ok"}, assistant(), chatservice.Options{})
	ctx := context.Background()
	if _, err := svc.Send(ctx, anon, "hello"); err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if _, err := svc.Send(ctx, member, "hello"); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	if dropped := svc.ForgetIdle(time.Now().Add(-time.Hour)); len(dropped) != 0 {
		t.Fatalf("nothing is idle yet, dropped %v", dropped)
	}
	if _, ok := svc.Conversation(member); !ok {
		t.Fatal("recent conversation should be kept")
	}

	dropped := svc.ForgetIdle(time.Now().Add(time.Hour))
	sort.Strings(dropped)
	if len(dropped) != 2 || dropped[0] != anon.ClientID || dropped[1] != "user-9" {
		t.Fatalf("expected both owners dropped, got %v", dropped)
	}
	if _, ok := svc.Conversation(member); ok {
		t.Fatal("signed-in conversation should be dropped")
	}
	transcript, _ := svc.Transcript(ctx, anon)
	if len(transcript) != 1 || transcript[0].ID != chatservice.GreetingID {
		t.Fatalf("expected greeting after idle drop, got %+v", transcript)
	}
}
