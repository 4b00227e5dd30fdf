package license

import "time"

// ResolveStatus derives the effective status at now. Revoked always wins,
// otherwise a license at or past its expiry is expired whatever was stored.
func ResolveStatus(l *License, now time.Time) Status {
	if l.Status == StatusRevoked {
		return StatusRevoked
	}
	if !now.Before(l.ExpiresAt) {
		return StatusExpired
	}
	return l.Status
}

func resolve(l *License, now time.Time) *License {
	if l == nil {
		return nil
	}
	l.Status = ResolveStatus(l, now)
	return l
}
