package client

import "time"

// Session is the signed-in identity a Client sends with every call. It is
// created by Login and cleared by Logout.
type Session struct {
	UserID    string
	Username  string
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session has a token that has not expired.
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && (s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt))
}
