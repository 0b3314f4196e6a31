package identity

import (
	"strings"
	"sync"

	"github.com/zhouzirui/kyc-shield/backend/internal/config"
)

// Notice is a dismissible, non-blocking message about sign-in.
type Notice struct {
	ID       string `json:"id"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Notice ids.
const (
	NoticeInvalidAppID      = "invalid-app-id"
	NoticeMissingAuthDomain = "missing-auth-domain"
	NoticeMissingProjectID  = "missing-project-id"
	NoticeNotConfigured     = "provider-not-configured"
	NoticeSignInFailed      = "sign-in-failed"
)

// ValidateProviderConfig checks the identity provider settings and returns
// one notice per problem, in a stable order.
func ValidateProviderConfig(cfg config.ProviderConfig) []Notice {
	var notices []Notice
	if cfg.AppID != "" && !strings.HasPrefix(cfg.AppID, "1:") {
		notices = append(notices, Notice{
			ID:       NoticeInvalidAppID,
			Severity: SeverityError,
			Message:  "Invalid identity provider App ID detected. It should start with '1:'. You likely used the Measurement ID (G-...) instead.",
		})
	}
	if cfg.AuthDomain == "" {
		notices = append(notices, Notice{
			ID:       NoticeMissingAuthDomain,
			Severity: SeverityError,
			Message:  "Missing AUTH_PROVIDER_AUTH_DOMAIN. Please add it to your .env file.",
		})
	}
	if cfg.ProjectID == "" {
		notices = append(notices, Notice{
			ID:       NoticeMissingProjectID,
			Severity: SeverityError,
			Message:  "Missing AUTH_PROVIDER_PROJECT_ID. Please add it to your .env file.",
		})
	}
	if !cfg.Configured() {
		notices = append(notices, Notice{
			ID:       NoticeNotConfigured,
			Severity: SeverityWarning,
			Message:  "Identity provider is not configured. Please add your API keys.",
		})
	}
	return notices
}

// Board holds configuration notices shared by all clients plus notices
// raised for a single client. Dismissal is per client.
type Board struct {
	mu        sync.RWMutex
	shared    []Notice
	perClient map[string][]Notice
	dismissed map[string]map[string]struct{}
}

func NewBoard(shared []Notice) *Board {
	return &Board{
		shared:    append([]Notice(nil), shared...),
		perClient: make(map[string][]Notice),
		dismissed: make(map[string]map[string]struct{}),
	}
}

// List returns the notices clientID has not dismissed.
func (b *Board) List(clientID string) []Notice {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hidden := b.dismissed[clientID]
	out := make([]Notice, 0, len(b.shared)+len(b.perClient[clientID]))
	for _, n := range b.shared {
		if _, ok := hidden[n.ID]; !ok {
			out = append(out, n)
		}
	}
	return append(out, b.perClient[clientID]...)
}

// Raise shows n to clientID, replacing an earlier notice with the same id.
func (b *Board) Raise(clientID string, n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.perClient[clientID]
	for i := range list {
		if list[i].ID == n.ID {
			list[i] = n
			return
		}
	}
	b.perClient[clientID] = append(list, n)
}

// Dismiss hides a notice for clientID. It reports whether the id was shown.
func (b *Board) Dismiss(clientID, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.perClient[clientID]
	for i := range list {
		if list[i].ID == id {
			b.perClient[clientID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	for _, n := range b.shared {
		if n.ID != id {
			continue
		}
		hidden, ok := b.dismissed[clientID]
		if !ok {
			hidden = make(map[string]struct{})
			b.dismissed[clientID] = hidden
		}
		_, already := hidden[id]
		hidden[id] = struct{}{}
		return !already
	}
	return false
}

// Forget drops everything stored for clientID.
func (b *Board) Forget(clientID string) {
	b.mu.Lock()
	delete(b.perClient, clientID)
	delete(b.dismissed, clientID)
	b.mu.Unlock()
}
