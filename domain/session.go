package domain

import "time"

// Session describes the authenticated browser session an authorize request
// arrives with. A nil session, or one without a subject, means nobody is
// logged in.
type Session struct {
	ID              string    `json:"id"`
	SubjectID       string    `json:"subject_id"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// IsAuthenticated reports whether the session carries a live subject.
func (s *Session) IsAuthenticated(now time.Time) bool {
	if s == nil || s.SubjectID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
