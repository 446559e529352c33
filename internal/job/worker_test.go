package job

import (
	"testing"
	"time"
)

func TestHeartbeatAgeBeforeFirstBeat(t *testing.T) {
	w := &Worker{}
	if age := w.HeartbeatAge(); age < 24*time.Hour {
		t.Errorf("HeartbeatAge() before any beat = %v, want a very large duration", age)
	}
}

func TestHeartbeatAgeAfterBeat(t *testing.T) {
	w := &Worker{}
	w.beat()
	if age := w.HeartbeatAge(); age > time.Second {
		t.Errorf("HeartbeatAge() right after beat = %v, want close to 0", age)
	}
}
