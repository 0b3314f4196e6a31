package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/kyc-shield/backend/internal/config"
	"github.com/zhouzirui/kyc-shield/backend/internal/middleware"
	identityService "github.com/zhouzirui/kyc-shield/backend/internal/service/identity"
)

var provider = config.ProviderConfig{
	APIKey:     "api-key",
	AppID:      "1:1234:web:abcd",
	AuthDomain: "kyc-shield.example.com",
	ProjectID:  "kyc-shield",
	Secret:     "provider-secret",
}

func newRouter(p config.ProviderConfig) (http.Handler, *identityService.Service) {
	svc := identityService.NewService(config.AuthConfig{Provider: p, SessionSecret: "s3cret", SessionTTL: time.Hour}, nil)
	r := chi.NewRouter()
	r.Use(middleware.Principal(svc))
	New(svc).RegisterRoutes(r)
	return r, svc
}

func assertion(t *testing.T, sub string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  provider.AuthDomain,
		"aud":  provider.ProjectID,
		"sub":  sub,
		"name": "Asha Rao",
		"exp":  time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(provider.Secret))
	require.NoError(t, err)
	return signed
}

func request(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(middleware.ClientIDHeader, "client-1")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSignInMeSignOut(t *testing.T) {
	r, _ := newRouter(provider)

	rec := request(r, http.MethodPost, "/auth/signin", "", map[string]string{"assertion": assertion(t, "user-42")})
	require.Equal(t, http.StatusOK, rec.Code)
	var session identityService.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	require.NotEmpty(t, session.Token)

	rec = request(r, http.MethodGet, "/auth/me", session.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		SignedIn bool `json:"signedIn"`
		User     struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.True(t, me.SignedIn)
	assert.Equal(t, "user-42", me.User.ID)

	assert.Equal(t, http.StatusNoContent, request(r, http.MethodPost, "/auth/signout", session.Token, nil).Code)

	rec = request(r, http.MethodGet, "/auth/me", session.Token, nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.False(t, me.SignedIn, "revoked token must leave the caller anonymous")
}

func TestSignInRejectedRaisesNotice(t *testing.T) {
	r, _ := newRouter(provider)

	rec := request(r, http.MethodPost, "/auth/signin", "", map[string]string{"assertion": "garbage"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body noticeError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Notices, 1)
	assert.Equal(t, identityService.NoticeSignInFailed, body.Notices[0].ID)

	assert.Equal(t, http.StatusNoContent, request(r, http.MethodDelete, "/auth/notices/"+identityService.NoticeSignInFailed, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, request(r, http.MethodDelete, "/auth/notices/"+identityService.NoticeSignInFailed, "", nil).Code)
}

func TestSignInUnconfigured(t *testing.T) {
	r, _ := newRouter(config.ProviderConfig{})

	rec := request(r, http.MethodPost, "/auth/signin", "", map[string]string{"assertion": "anything"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body noticeError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	var ids []string
	for _, n := range body.Notices {
		ids = append(ids, n.ID)
	}
	assert.Contains(t, ids, identityService.NoticeMissingAuthDomain)
	assert.Contains(t, ids, identityService.NoticeNotConfigured)

	rec = request(r, http.MethodGet, "/auth/notices", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notices []identityService.Notice
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&notices))
	assert.NotEmpty(t, notices)
}

func TestSignOutWithoutToken(t *testing.T) {
	r, _ := newRouter(provider)
	assert.Equal(t, http.StatusUnauthorized, request(r, http.MethodPost, "/auth/signout", "", nil).Code)
}
