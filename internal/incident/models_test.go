package incident

import "testing"

func TestBucket(t *testing.T) {
	cases := []struct {
		overdueHours float64
		want         SLABucket
	}{
		{-10, BucketOnTime},
		{0, BucketOnTime},
		{0.5, Bucket0to4h},
		{4, Bucket0to4h},
		{4.01, Bucket4to24h},
		{24, Bucket4to24h},
		{24.01, Bucket24hPlus},
		{100, Bucket24hPlus},
	}
	for _, c := range cases {
		if got := Bucket(c.overdueHours); got != c.want {
			t.Errorf("Bucket(%v) = %q, want %q", c.overdueHours, got, c.want)
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	cases := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskPending, false},
		{TaskInProgress, false},
		{TaskDone, true},
		{TaskCancelled, true},
	}
	for _, c := range cases {
		if got := c.status.Terminal(); got != c.want {
			t.Errorf("%q.Terminal() = %v, want %v", c.status, got, c.want)
		}
	}
}
