package session

import "time"

// Session is the stored representation of one admitted login. Timestamps
// are Unix milliseconds to keep the Lua admission script simple while
// giving eviction ordering sub-second resolution.
type Session struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	ApplicationID  string `json:"application_id,omitempty"`
	DeviceID       string `json:"device_id,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	LastActivityAt int64  `json:"last_activity_at"`
	ExpiresAt      int64  `json:"expires_at"`
	Revoked        bool   `json:"revoked,omitempty"`
}

// Active reports whether the session is live at the given instant.
func (s *Session) Active(now time.Time) bool {
	if s == nil || s.Revoked {
		return false
	}
	return now.UnixMilli() < s.ExpiresAt
}
