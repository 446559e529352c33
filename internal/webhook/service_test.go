package webhook

import "testing"

func TestParsePositiveInt(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100", 100, false},
		{"1", 1, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"", 0, true},
		{"not-a-number", 0, true},
		{"3.14", 0, true},
	}
	for _, c := range cases {
		got, err := parsePositiveInt(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parsePositiveInt(%q) should error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parsePositiveInt(%q) unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("parsePositiveInt(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
