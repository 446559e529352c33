package auth

import (
	"testing"
	"time"
)

func TestSessionValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	notExpired := now.Add(time.Hour)
	expired := now.Add(-time.Hour)
	revokedAt := now.Add(-time.Minute)

	cases := []struct {
		name    string
		session Session
		want    bool
	}{
		{"active", Session{ExpiresAt: notExpired}, true},
		{"expired", Session{ExpiresAt: expired}, false},
		{"expires exactly now", Session{ExpiresAt: now}, false},
		{"revoked but not expired", Session{ExpiresAt: notExpired, RevokedAt: &revokedAt}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.session.Valid(now); got != c.want {
				t.Errorf("Valid() = %v, want %v", got, c.want)
			}
		})
	}
}
