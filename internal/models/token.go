package models

import "time"

// Session is one link in a refresh-token chain. Only the SHA-256 of the
// token handed to the client is stored. Every rotation keeps FamilyID so
// replaying a consumed token can end the whole chain.
type Session struct {
	ID         string     `db:"id"`
	UserID     string     `db:"user_id"`
	FamilyID   string     `db:"family_id"`
	TokenHash  string     `db:"token_hash"`
	ExpiresAt  time.Time  `db:"expires_at"`
	CreatedAt  time.Time  `db:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
	ReplacedBy *string    `db:"replaced_by"`
	IPAddress  string     `db:"ip_address"`
	UserAgent  string     `db:"user_agent"`
}

// Revoked reports whether the session was logged out or rotated away.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// Rotated reports whether a successor session was issued from this one.
func (s *Session) Rotated() bool {
	return s.ReplacedBy != nil && *s.ReplacedBy != ""
}

// Expired reports whether the session is past its refresh window at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
