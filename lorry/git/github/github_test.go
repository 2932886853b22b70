package github_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghprov "github.com/byte4ever/lorry_mirror_updater/lorry/git/github"
)

func TestNewProvider_valid(t *testing.T) {
	t.Parallel()

	pv, err := ghprov.NewProvider(ghprov.Config{
		RepoOwner:   "org",
		Repo:        "repo",
		AccessToken: "tok",
	})

	require.NoError(t, err)
	assert.NotNil(t, pv)
}

func TestNewProvider_enterprise(t *testing.T) {
	t.Parallel()

	pv, err := ghprov.NewProvider(ghprov.Config{
		RepoOwner:      "org",
		Repo:           "repo",
		AccessToken:    "tok",
		EnterpriseHost: "git.corp.example.com",
	})

	require.NoError(t, err)
	assert.NotNil(t, pv)
}

func TestNewProvider_missing_owner(t *testing.T) {
	t.Parallel()

	pv, err := ghprov.NewProvider(ghprov.Config{
		Repo:        "repo",
		AccessToken: "tok",
	})

	assert.Nil(t, pv)
	assert.ErrorContains(t, err, "repo owner")
}

func TestNewProvider_missing_repo(t *testing.T) {
	t.Parallel()

	pv, err := ghprov.NewProvider(ghprov.Config{
		RepoOwner:   "org",
		AccessToken: "tok",
	})

	assert.Nil(t, pv)
	assert.ErrorContains(t, err, "repo must be set")
}

func TestNewProvider_missing_token(t *testing.T) {
	t.Parallel()

	pv, err := ghprov.NewProvider(ghprov.Config{
		RepoOwner: "org",
		Repo:      "repo",
	})

	assert.Nil(t, pv)
	assert.ErrorContains(t, err, "access token")
}

func TestSplitRepository(t *testing.T) {
	t.Parallel()

	owner, repo, ok := ghprov.SplitRepository("org/mirroring-config")
	require.True(t, ok)
	assert.Equal(t, "org", owner)
	assert.Equal(t, "mirroring-config", repo)

	for _, bad := range []string{"", "org", "/repo", "org/", "a/b/c"} {
		_, _, ok := ghprov.SplitRepository(bad)
		assert.False(t, ok, bad)
	}
}

func newTestProvider(
	t *testing.T,
	mux *http.ServeMux,
) *ghprov.Provider {
	t.Helper()

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	pv, err := ghprov.NewProvider(ghprov.Config{
		RepoOwner:   "org",
		Repo:        "repo",
		AccessToken: "secret",
		APIURL:      ts.URL,
	})
	require.NoError(t, err)

	return pv
}

func TestProvider_CreatePR_created(t *testing.T) {
	t.Parallel()

	var gotAuth, gotBody string

	mux := http.NewServeMux()
	mux.HandleFunc(
		"POST /repos/org/repo/pulls",
		func(w http.ResponseWriter, r *http.Request) {
			rb, _ := io.ReadAll(r.Body)
			gotBody = string(rb)
			gotAuth = r.Header.Get("Authorization")

			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{
				"number": 12,
				"html_url": "https://github.com/org/repo/pull/12"
			}`)
		},
	)

	pv := newTestProvider(t, mux)

	mr, err := pv.CreatePR(
		context.Background(),
		"update-mirrors/main/20261019073005",
		"main",
		"(Automated) Update mirrors",
		"details",
	)

	require.NoError(t, err)
	assert.Equal(t, int64(12), mr.ID)
	assert.Equal(t, "https://github.com/org/repo/pull/12", mr.URL)
	assert.False(t, mr.Reused)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Contains(t, gotBody, `"head":"update-mirrors/main/20261019073005"`)
	assert.Contains(t, gotBody, `"base":"main"`)
}

func TestProvider_CreatePR_exists_is_reused(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"POST /repos/org/repo/pulls",
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(
				w, `{"message": "A pull request already exists"}`,
			)
		},
	)

	pv := newTestProvider(t, mux)

	mr, err := pv.CreatePR(
		context.Background(), "b", "main", "t", "t",
	)

	require.NoError(t, err)
	assert.True(t, mr.Reused)
}

func TestProvider_CreatePR_error(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"POST /repos/org/repo/pulls",
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message": "Not Found"}`)
		},
	)

	pv := newTestProvider(t, mux)

	_, err := pv.CreatePR(
		context.Background(), "b", "main", "t", "t",
	)

	assert.ErrorContains(t, err, "creating github pull request")
}

func TestProvider_ListBranches_pages_and_filters(t *testing.T) {
	t.Parallel()

	var srvURL string

	mux := http.NewServeMux()
	mux.HandleFunc(
		"GET /repos/org/repo/branches",
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("page") == "2" {
				_, _ = io.WriteString(w, `[
					{"name": "update-mirrors/main/20261002000000"}
				]`)

				return
			}

			w.Header().Set(
				"Link",
				`<`+srvURL+`/repos/org/repo/branches?page=2>; rel="next"`,
			)
			_, _ = io.WriteString(w, `[
				{"name": "main"},
				{"name": "update-mirrors/main/20261001000000"}
			]`)
		},
	)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	srvURL = ts.URL

	pv, err := ghprov.NewProvider(ghprov.Config{
		RepoOwner:   "org",
		Repo:        "repo",
		AccessToken: "secret",
		APIURL:      ts.URL,
	})
	require.NoError(t, err)

	got, err := pv.ListBranches(
		context.Background(), "update-mirrors/",
	)

	require.NoError(t, err)
	assert.Equal(
		t,
		[]string{
			"update-mirrors/main/20261001000000",
			"update-mirrors/main/20261002000000",
		},
		got,
	)
}

func TestProvider_ListOpenSourceBranches(t *testing.T) {
	t.Parallel()

	var gotState string

	mux := http.NewServeMux()
	mux.HandleFunc(
		"GET /repos/org/repo/pulls",
		func(w http.ResponseWriter, r *http.Request) {
			gotState = r.URL.Query().Get("state")

			_, _ = io.WriteString(w, `[
				{"number": 1, "head": {"ref": "update-mirrors/main/20261002000000"}},
				{"number": 2, "head": {"ref": "feature/x"}}
			]`)
		},
	)

	pv := newTestProvider(t, mux)

	got, err := pv.ListOpenSourceBranches(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "open", gotState)
	assert.Equal(
		t,
		[]string{"update-mirrors/main/20261002000000", "feature/x"},
		got,
	)
}

func TestProvider_DeleteBranch(t *testing.T) {
	t.Parallel()

	var gotPath string

	mux := http.NewServeMux()
	mux.HandleFunc(
		"DELETE /repos/org/repo/git/refs/",
		func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		},
	)

	pv := newTestProvider(t, mux)

	err := pv.DeleteBranch(
		context.Background(), "update-mirrors/main/20261001000000",
	)

	require.NoError(t, err)
	assert.Equal(
		t,
		"/repos/org/repo/git/refs/heads/update-mirrors/main/20261001000000",
		gotPath,
	)
}

func TestProvider_DeleteBranch_error(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"DELETE /repos/org/repo/git/refs/",
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"message": "nope"}`)
		},
	)

	pv := newTestProvider(t, mux)

	err := pv.DeleteBranch(context.Background(), "x")

	assert.ErrorContains(t, err, "deleting github branch x")
}

func TestProvider_DeleteBranch_already_gone(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc(
		"DELETE /repos/org/repo/git/refs/",
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message": "Reference does not exist"}`)
		},
	)

	pv := newTestProvider(t, mux)

	require.NoError(t, pv.DeleteBranch(context.Background(), "gone"))
}
