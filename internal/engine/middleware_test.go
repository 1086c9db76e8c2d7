package engine

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", ""},
		{"bearer token", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"case insensitive scheme", "bearer abc", "abc"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"scheme only", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/namespaces", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(r))
		})
	}
}

func TestShouldSkipAuth(t *testing.T) {
	m := &Middleware{}

	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodGet, "/health", true},
		{http.MethodPost, "/api/v1/auth/login", true},
		{http.MethodPost, "/api/v1/auth/sessions", true},
		{http.MethodGet, "/api/v1/auth/sessions", false},
		{http.MethodGet, "/api/v1/namespaces", false},
		{http.MethodPost, "/api/v1/fork", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, m.shouldSkipAuth(r), "%s %s", tt.method, tt.path)
	}
}

func TestParseAsOf(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/geographies/ns/counties/travis", nil)
	at, err := parseAsOf(r)
	require.NoError(t, err)
	assert.False(t, at.IsZero())

	r = httptest.NewRequest(http.MethodGet, "/api/v1/geographies/ns/counties/travis?at=2024-01-02T03:04:05Z", nil)
	at, err = parseAsOf(r)
	require.NoError(t, err)
	assert.Equal(t, 2024, at.Year())

	r = httptest.NewRequest(http.MethodGet, "/api/v1/geographies/ns/counties/travis?at=yesterday", nil)
	_, err = parseAsOf(r)
	require.Error(t, err)
}
