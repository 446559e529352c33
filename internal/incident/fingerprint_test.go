package incident

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("db_outage", "#ops", "Primary replica unreachable")
	b := Fingerprint("db_outage", "#ops", "Primary replica unreachable")
	if a != b {
		t.Errorf("Fingerprint should be deterministic, got %q and %q", a, b)
	}
	if len(a) != 24 {
		t.Errorf("Fingerprint length = %d, want 24", len(a))
	}
}

func TestFingerprintDistinguishesFields(t *testing.T) {
	base := Fingerprint("db_outage", "#ops", "Primary replica unreachable")

	if got := Fingerprint("api_latency", "#ops", "Primary replica unreachable"); got == base {
		t.Error("different incident type should produce a different fingerprint")
	}
	if got := Fingerprint("db_outage", "#infra", "Primary replica unreachable"); got == base {
		t.Error("different channel should produce a different fingerprint")
	}
	if got := Fingerprint("db_outage", "#ops", "Secondary replica unreachable"); got == base {
		t.Error("different title should produce a different fingerprint")
	}
}

func TestFingerprintKnownVector(t *testing.T) {
	// sha1("a|b|c") = c74a3276...; verify first 24 hex chars against a known
	// independently-computed digest to pin the exact byte layout.
	got := Fingerprint("a", "b", "c")
	want := "c74a3276c7e3cbbf386b6332"
	if got != want {
		t.Errorf("Fingerprint(a,b,c) = %q, want %q", got, want)
	}
}
