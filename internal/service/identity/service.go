package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/config"
	"github.com/zhouzirui/kyc-shield/backend/internal/feed"
	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	model "github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
)

const sessionIssuer = "kyc-shield"

var (
	ErrInvalidAssertion = errors.New("identity assertion rejected")
	ErrInvalidToken     = errors.New("invalid session token")
	ErrTokenRevoked     = errors.New("session token revoked")
)

// ConfigurationError means sign-in cannot be attempted with the current
// provider settings.
type ConfigurationError struct {
	Notices []Notice
}

func (e *ConfigurationError) Error() string {
	if len(e.Notices) == 0 {
		return "identity provider misconfigured"
	}
	return "identity provider misconfigured: " + e.Notices[0].Message
}

// Session is a signed-in user plus the bearer token representing it.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      model.User `json:"user"`
}

type sessionClaims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Publisher announces ended sessions so live connections can close.
type Publisher interface {
	Publish(ctx context.Context, ev feed.Event)
}

// Service verifies provider assertions and issues session tokens.
type Service struct {
	provider    config.ProviderConfig
	secret      []byte
	ttl         time.Duration
	notices     []Notice
	board       *Board
	revocations Revocations
	publisher   Publisher
	now         func() time.Time
	log         zerolog.Logger
}

// NewService validates the provider settings up front; problems become
// shared notices instead of startup failures.
func NewService(cfg config.AuthConfig, revocations Revocations) *Service {
	log := logging.For("identity")

	secret := cfg.SessionSecret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Msg("AUTH_SESSION_SECRET not set, sessions will not survive a restart")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if revocations == nil {
		revocations = NewMemoryRevocations()
	}

	notices := ValidateProviderConfig(cfg.Provider)
	for _, n := range notices {
		log.Warn().Str("notice", n.ID).Msg(n.Message)
	}

	return &Service{
		provider:    cfg.Provider,
		secret:      []byte(secret),
		ttl:         ttl,
		notices:     notices,
		board:       NewBoard(notices),
		revocations: revocations,
		now:         time.Now,
		log:         log,
	}
}

// SetPublisher makes SignOut announce the ended session on
// feed.SessionTopic.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// Board returns the notice board.
func (s *Service) Board() *Board {
	return s.board
}

// Configured reports whether sign-in can be attempted.
func (s *Service) Configured() bool {
	return len(s.blockingNotices()) == 0
}

// SignIn verifies a provider assertion and opens a session. Failures are
// also raised as a notice for clientID.
func (s *Service) SignIn(ctx context.Context, clientID, assertion string) (Session, error) {
	if blocking := s.blockingNotices(); len(blocking) > 0 {
		return Session{}, &ConfigurationError{Notices: blocking}
	}

	user, err := s.verifyAssertion(strings.TrimSpace(assertion))
	if err != nil {
		s.log.Info().Err(err).Str("client_id", clientID).Msg("sign-in rejected")
		s.board.Raise(clientID, Notice{
			ID:       NoticeSignInFailed,
			Severity: SeverityError,
			Message:  "Login failed: " + err.Error(),
		})
		return Session{}, err
	}

	session, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}
	s.board.Dismiss(clientID, NoticeSignInFailed)
	s.log.Info().Str("user_id", user.ID).Msg("user signed in")
	return session, nil
}

// SignOut revokes token until it would have expired.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.parseSession(token)
	if err != nil {
		return err
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, feed.Event{
			Topic: feed.SessionTopic(claims.ID),
			Kind:  feed.KindRevoked,
			Owner: claims.Subject,
		})
	}
	s.log.Info().Str("user_id", claims.Subject).Msg("user signed out")
	return nil
}

// Resolve returns the user behind a live session token.
func (s *Service) Resolve(ctx context.Context, token string) (*model.User, error) {
	user, _, err := s.Authenticate(ctx, token)
	return user, err
}

// Authenticate is Resolve plus the session id (the token's jti).
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, string, error) {
	claims, err := s.parseSession(token)
	if err != nil {
		return nil, "", err
	}
	revoked, err := s.revocations.Revoked(ctx, claims.ID)
	if err != nil {
		return nil, "", err
	}
	if revoked {
		return nil, "", ErrTokenRevoked
	}
	return &model.User{ID: claims.Subject, DisplayName: claims.Name, AvatarURL: claims.Picture}, claims.ID, nil
}

func (s *Service) blockingNotices() []Notice {
	var out []Notice
	for _, n := range s.notices {
		if n.Severity == SeverityError || n.ID == NoticeNotConfigured {
			out = append(out, n)
		}
	}
	return out
}

func (s *Service) verifyAssertion(assertion string) (model.User, error) {
	if assertion == "" {
		return model.User{}, fmt.Errorf("%w: empty assertion", ErrInvalidAssertion)
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.provider.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.provider.AuthDomain),
		jwt.WithAudience(s.provider.ProjectID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %w", ErrInvalidAssertion, err)
	}
	if claims.Subject == "" {
		return model.User{}, fmt.Errorf("%w: missing subject", ErrInvalidAssertion)
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return model.User{ID: claims.Subject, DisplayName: name, AvatarURL: claims.Picture}, nil
}

func (s *Service) issue(user model.User) (Session, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := sessionClaims{
		Name:    user.DisplayName,
		Picture: user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    sessionIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return Session{Token: signed, ExpiresAt: expires.UTC(), User: user}, nil
}

func (s *Service) parseSession(token string) (*sessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
