// Package identity adapts the external identity and profile collaborators:
// it verifies bearer tokens issued elsewhere into explicit Session values and
// resolves display names for conversation counterparts. It never issues
// credentials itself.
package identity

import "context"

// Session identifies the authenticated caller of a ChatService operation.
// It is passed explicitly into every call; nothing reads an implicit global
// "current user".
type Session struct {
	UserID      string
	DisplayName string
}

// Authenticated reports whether the session belongs to a signed-in user.
func (s Session) Authenticated() bool {
	return s.UserID != ""
}

type sessionKey struct{}

// WithSession returns a context carrying the session.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext extracts the session placed by WithSession.
// The zero Session is returned when none is present.
func SessionFromContext(ctx context.Context) Session {
	s, _ := ctx.Value(sessionKey{}).(Session)
	return s
}
