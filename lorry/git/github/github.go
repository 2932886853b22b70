package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/lorry_mirror_updater/lorry/git"
)

const perPage = 100

// Config holds the settings needed to create a GitHub
// pull request provider.
type Config struct {
	// RepoOwner is the GitHub user or organisation
	// that owns the repository.
	RepoOwner string
	// Repo is the repository name (without owner).
	Repo string
	// AccessToken is a personal access token or
	// GitHub App token used for authentication.
	AccessToken string
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave
	// empty for github.com.
	EnterpriseHost string
	// APIURL overrides the REST endpoint (e.g.
	// "https://api.github.com"). Takes precedence over
	// EnterpriseHost.
	APIURL string
}

// Provider creates pull requests on GitHub.
//
// Pattern: Strategy -- implements git.GitProvider.
type Provider struct {
	client    *gh.Client
	repoOwner string
	repo      string
}

var _ git.GitProvider = (*Provider)(nil)

// SplitRepository splits an "owner/repo" string such
// as GITHUB_REPOSITORY.
func SplitRepository(s string) (owner, repo string, ok bool) {
	owner, repo, ok = strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" ||
		strings.Contains(repo, "/") {
		return "", "", false
	}

	return owner, repo, true
}

// NewProvider validates cfg and returns a Provider
// ready to create pull requests.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating github provider"

	if cfg.RepoOwner == "" {
		return nil, fmt.Errorf(
			"%s: repo owner must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	client := gh.NewClient(nil).
		WithAuthToken(cfg.AccessToken)

	switch {
	case cfg.APIURL != "":
		base, err := url.Parse(
			strings.TrimSuffix(cfg.APIURL, "/") + "/",
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: api url: %w", errCtx, err,
			)
		}

		client.BaseURL = base

	case cfg.EnterpriseHost != "":
		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w",
				errCtx, err,
			)
		}
	}

	return &Provider{
		client:    client,
		repoOwner: cfg.RepoOwner,
		repo:      cfg.Repo,
	}, nil
}

// CreatePR creates a pull request from branch "from"
// into branch "to". If a PR already exists (HTTP 422)
// the error is suppressed and the result is marked
// Reused.
func (p *Provider) CreatePR(
	ctx context.Context,
	from string,
	to string,
	title string,
	body string,
) (git.MergeRequest, error) {
	const errCtx = "creating github pull request"

	pr := &gh.NewPullRequest{
		Title: &title,
		Head:  &from,
		Base:  &to,
		Body:  &body,
	}

	created, resp, err := p.client.PullRequests.Create(
		ctx, p.repoOwner, p.repo, pr,
	)
	if err == nil {
		slog.Info(
			"created pull request",
			"url", created.GetHTMLURL(),
		)

		return git.MergeRequest{
			ID:  int64(created.GetNumber()),
			URL: created.GetHTMLURL(),
		}, nil
	}

	// HTTP 422: PR already exists for this
	// head/base pair.
	if resp != nil &&
		resp.StatusCode ==
			http.StatusUnprocessableEntity {
		slog.Info(
			"reusing existing pull request",
			"branch", from,
		)

		return git.MergeRequest{Reused: true}, nil
	}

	logBody(resp)

	return git.MergeRequest{}, fmt.Errorf("%s: %w", errCtx, err)
}

// ListBranches returns the repository branches
// starting with prefix.
func (p *Provider) ListBranches(
	ctx context.Context,
	prefix string,
) ([]string, error) {
	const errCtx = "listing github branches"

	opts := &gh.BranchListOptions{
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var names []string

	for {
		branches, resp, err := p.client.Repositories.ListBranches(
			ctx, p.repoOwner, p.repo, opts,
		)
		if err != nil {
			logBody(resp)

			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		for _, b := range branches {
			if strings.HasPrefix(b.GetName(), prefix) {
				names = append(names, b.GetName())
			}
		}

		if resp.NextPage == 0 {
			return names, nil
		}

		opts.Page = resp.NextPage
	}
}

// ListOpenSourceBranches returns the head branches of
// all open pull requests.
func (p *Provider) ListOpenSourceBranches(
	ctx context.Context,
) ([]string, error) {
	const errCtx = "listing github pull requests"

	opts := &gh.PullRequestListOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var sources []string

	for {
		prs, resp, err := p.client.PullRequests.List(
			ctx, p.repoOwner, p.repo, opts,
		)
		if err != nil {
			logBody(resp)

			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		for _, pr := range prs {
			sources = append(sources, pr.GetHead().GetRef())
		}

		if resp.NextPage == 0 {
			return sources, nil
		}

		opts.Page = resp.NextPage
	}
}

// DeleteBranch removes branch by deleting its ref.
func (p *Provider) DeleteBranch(
	ctx context.Context,
	branch string,
) error {
	const errCtx = "deleting github branch"

	resp, err := p.client.Git.DeleteRef(
		ctx, p.repoOwner, p.repo, "heads/"+branch,
	)
	if err != nil {
		if resp != nil && resp.Response != nil &&
			resp.StatusCode == http.StatusNotFound {
			slog.Info("branch already deleted", "branch", branch)

			return nil
		}

		logBody(resp)

		return fmt.Errorf("%s %s: %w", errCtx, branch, err)
	}

	slog.Info("deleted branch", "branch", branch)

	return nil
}

// logBody logs the response body for debugging.
func logBody(resp *gh.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		slog.Warn(
			"cannot read response body",
			"error", readErr,
		)

		return
	}

	if len(rb) > 0 {
		slog.Warn(
			"github response",
			"body", string(rb),
		)
	}
}
