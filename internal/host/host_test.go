package host

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New("fake-token", "acme", "widgets", "main", 5*time.Second)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	c.gh.BaseURL = base
	return c
}

func TestIssueView(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":42,"title":"Fix it","body":"details","labels":[{"name":"bug"}]}`)
	})
	mux.HandleFunc("/repos/acme/widgets/issues/42/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"body":"first"},{"body":"second"}]`)
	})
	c := newTestClient(t, mux)

	iss, err := c.IssueView(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Fix it", iss.Title)
	assert.Equal(t, []string{"bug"}, iss.Labels)
	assert.Equal(t, []string{"first", "second"}, iss.Comments)
}

func TestFindPRByBranchFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"number":7,"html_url":"https://example.test/pr/7"}]`)
	})
	c := newTestClient(t, mux)

	num, url, found, err := c.FindPRByBranch(context.Background(), "feature/42-fix-it")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, num)
	assert.Equal(t, "https://example.test/pr/7", url)
}

func TestFindPRByBranchNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	c := newTestClient(t, mux)

	num, url, found, err := c.FindPRByBranch(context.Background(), "feature/42-fix-it")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, num)
	assert.Empty(t, url)
}

func TestCreatePR(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		fmt.Fprint(w, `{"number":99,"html_url":"https://example.test/pr/99"}`)
	})
	c := newTestClient(t, mux)

	num, url, err := c.CreatePR(context.Background(), "feature/42-fix-it", "Fix it", "body")
	require.NoError(t, err)
	assert.Equal(t, 99, num)
	assert.Equal(t, "https://example.test/pr/99", url)
}

func TestIsPRMerged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":7,"merged":true}`)
	})
	c := newTestClient(t, mux)

	merged, err := c.IsPRMerged(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, merged)
}
