package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		def  int
		max  int
		want int
	}{
		{"absent uses default", "", 50, 200, 50},
		{"valid within bounds", "30", 50, 200, 30},
		{"at max is kept", "200", 50, 200, 200},
		{"over max falls back to default", "201", 50, 200, 50},
		{"zero falls back to default", "0", 50, 200, 50},
		{"negative falls back to default", "-5", 50, 200, 50},
		{"non-numeric falls back to default", "abc", 50, 200, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?limit="+tt.raw, nil)
			if got := ParseLimit(r, tt.def, tt.max); got != tt.want {
				t.Errorf("ParseLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseLimitNoQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ParseLimit(r, 25, 100); got != 25 {
		t.Errorf("ParseLimit() = %d, want 25", got)
	}
}
