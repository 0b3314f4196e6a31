package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
)

const (
	ClientIDHeader = "X-Client-ID"
	ClientCookie   = "kyc_client"
	maxClientIDLen = 128
)

type principalKey struct{}

// TokenResolver turns a bearer token into a user and its session id.
type TokenResolver interface {
	Authenticate(ctx context.Context, token string) (*identity.User, string, error)
}

// Principal attaches the caller's identity.Principal to the request context.
// The client id comes from the X-Client-ID header or the kyc_client cookie
// and is minted when both are absent. An invalid bearer token leaves the
// caller anonymous.
func Principal(resolver TokenResolver) func(http.Handler) http.Handler {
	log := logging.For("principal")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientIDFrom(r)
			if clientID == "" {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookie,
					Value:    clientID,
					Path:     "/",
					MaxAge:   365 * 24 * 60 * 60,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(ClientIDHeader, clientID)

			p := identity.Principal{ClientID: clientID}
			if token := BearerToken(r); token != "" && resolver != nil {
				user, sessionID, err := resolver.Authenticate(r.Context(), token)
				if err != nil {
					log.Debug().Err(err).Msg("ignoring unusable session token")
				} else {
					p.User = user
					p.SessionID = sessionID
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p identity.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Principal.
func PrincipalFrom(ctx context.Context) identity.Principal {
	p, _ := ctx.Value(principalKey{}).(identity.Principal)
	return p
}

// BearerToken reads the session token from the Authorization header, or the
// token query parameter for websocket upgrades.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func clientIDFrom(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(ClientIDHeader))
	if id == "" {
		if c, err := r.Cookie(ClientCookie); err == nil {
			id = strings.TrimSpace(c.Value)
		}
	}
	if len(id) > maxClientIDLen {
		return ""
	}
	return id
}
