package release

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeGitHub(t *testing.T, status int, body string) (*httptest.Server, *string) {
	t.Helper()
	var agent string
	r := chi.NewRouter()
	r.Get("/repos/{owner}/{repo}/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		assert.Equal(t, "s0nik42", chi.URLParam(r, "owner"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &agent
}

func TestCheck_NewerRelease(t *testing.T) {
	srv, agent := fakeGitHub(t, http.StatusOK, `{"tag_name":"v2.1.0","html_url":"https://example.invalid/r"}`)

	tag, newer, err := NewChecker("2.0.3", WithBaseURL(srv.URL)).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2.1.0", tag)
	assert.True(t, newer)
	assert.Equal(t, "meters_to_ha - 2.0.3", *agent)
}

func TestCheck_UpToDate(t *testing.T) {
	srv, _ := fakeGitHub(t, http.StatusOK, `{"tag_name":"v2.0.3"}`)

	_, newer, err := NewChecker("2.0.3", WithBaseURL(srv.URL)).Check(context.Background())
	require.NoError(t, err)
	assert.False(t, newer)
}

func TestCheck_Errors(t *testing.T) {
	srv, _ := fakeGitHub(t, http.StatusForbidden, `{"message":"rate limited"}`)
	_, _, err := NewChecker("1.0.0", WithBaseURL(srv.URL)).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	empty, _ := fakeGitHub(t, http.StatusOK, `{}`)
	_, _, err = NewChecker("1.0.0", WithBaseURL(empty.URL)).Check(context.Background())
	require.Error(t, err)
}

func TestNewer(t *testing.T) {
	tests := []struct {
		tag, current string
		want         bool
	}{
		{"v1.2.0", "1.1.9", true},
		{"1.10.0", "1.9.0", true},
		{"v1.2", "1.2.0", false},
		{"v1.2.0", "1.2.0", false},
		{"v1.1.0", "1.2.0", false},
		{"v2.0.0-rc1", "1.9.9", true},
		{"v2.0.0-rc1", "2.0.0", false},
		{"v2.0.0", "2.0.0-rc1", true},
		{"latest", "1.0.0", false},
		{"v9.9.9", "dev", false},
		{"v9.9.9", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.tag+"_vs_"+tt.current, func(t *testing.T) {
			assert.Equal(t, tt.want, Newer(tt.tag, tt.current))
		})
	}
}
