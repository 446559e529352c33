package incident

import "testing"

func TestDefaultTasksForCriticalSeverity(t *testing.T) {
	tmpls := defaultTasksFor("db_outage", "critical", "#ops")
	if len(tmpls) != 2 {
		t.Fatalf("critical severity should produce 2 tasks, got %d", len(tmpls))
	}
	if tmpls[0].actionType != "page_oncall" || tmpls[0].priority != PriorityP1 {
		t.Errorf("first critical task = %+v, want page_oncall/P1", tmpls[0])
	}
	if tmpls[1].actionType != "contain" || tmpls[1].priority != PriorityP1 {
		t.Errorf("second critical task = %+v, want contain/P1", tmpls[1])
	}
}

func TestDefaultTasksForNonCriticalSeverity(t *testing.T) {
	for _, severity := range []string{"warning", "minor", "info", ""} {
		tmpls := defaultTasksFor("api_latency", severity, "#ops")
		if len(tmpls) != 1 {
			t.Fatalf("severity %q should produce 1 task, got %d", severity, len(tmpls))
		}
		if tmpls[0].actionType != "triage" || tmpls[0].priority != PriorityP2 {
			t.Errorf("severity %q task = %+v, want triage/P2", severity, tmpls[0])
		}
	}
}
