package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/hallchat/internal/testhelpers"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		header  string
		want    bool
	}{
		{"exact match", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"HTTP://LocalHost:8080"}, "http://localhost:8080", true},
		{"path ignored", []string{"https://chat.example.com/app"}, "https://chat.example.com", true},
		{"other port", []string{"http://localhost:8080"}, "http://localhost:9090", false},
		{"other scheme", []string{"http://localhost:8080"}, "https://localhost:8080", false},
		{"missing header", []string{"http://localhost:8080"}, "", false},
		{"invalid header", []string{"*"}, "not a url", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"invalid entries ignored", []string{"localhost", " ", "http://ok.example"}, "http://ok.example", true},
		{"nothing configured", nil, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewOriginPolicy(tt.origins, testhelpers.DiscardLogger())
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.header != "" {
				r.Header.Set("Origin", tt.header)
			}
			assert.Equal(t, tt.want, p.Allowed(r))
			assert.Equal(t, tt.want, p.Check(r))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3, time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow(), "token %d", i)
	}
	assert.False(t, rl.allow(), "bucket is empty")

	fast := newRateLimiter(1, 10*time.Millisecond)
	assert.True(t, fast.allow())
	assert.Eventually(t, fast.allow, time.Second, 5*time.Millisecond)
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}
