package models

import "time"

// Session is the persisted metadata for one authenticated session. Sessions
// are keyed by their own id, which also travels inside the token claims, so a
// user may hold several independently revocable sessions at once.
//
// The refresh token itself is never stored; only its one-way hash. A read
// compromise of this table does not hand out usable refresh tokens.
type Session struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	TokenHash string    `db:"token_hash" json:"-"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	Revoked   bool      `db:"revoked" json:"revoked"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the stored expiry has passed, independent of the
// token's own exp claim.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
