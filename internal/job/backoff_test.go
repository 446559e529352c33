package job

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 30 * time.Second},
		{3, 90 * time.Second},
		{4, 270 * time.Second},
		{5, 810 * time.Second},
		{6, 900 * time.Second},
		{20, 900 * time.Second},
	}
	for _, c := range cases {
		if got := backoff(c.attempt); got != c.want {
			t.Errorf("backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestBackoffNeverExceedsCap(t *testing.T) {
	for attempt := 1; attempt <= 50; attempt++ {
		if got := backoff(attempt); got > backoffCapSeconds*time.Second {
			t.Errorf("backoff(%d) = %v, exceeds cap %v", attempt, got, backoffCapSeconds*time.Second)
		}
	}
}
