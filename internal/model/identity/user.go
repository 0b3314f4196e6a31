package identity

// User is the identity handed back by the provider after sign-in.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Principal is the per-request session context. It is resolved by the HTTP
// layer and passed explicitly to every service that needs identity.
type Principal struct {
	ClientID string
	User     *User
	// SessionID identifies the session token the user signed in with.
	SessionID string
}

// SignedIn reports whether a user is attached.
func (p Principal) SignedIn() bool {
	return p.User != nil && p.User.ID != ""
}

// Owner returns the key transcripts and records are scoped to: the user id
// when signed in, otherwise the anonymous client id.
func (p Principal) Owner() string {
	if p.SignedIn() {
		return p.User.ID
	}
	return p.ClientID
}
