package gitlab

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/lorry_mirror_updater/lorry/git"
)

const perPage = 100

// Config holds the settings needed to create a GitLab
// merge request provider.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com").
	Host string
	// Repo is the project ID or full project path
	// (e.g. "org/project").
	Repo string
	// AccessToken is a personal or project access
	// token used for authentication.
	AccessToken string
}

// Provider creates merge requests and manages update
// branches on GitLab.
//
// Pattern: Strategy -- implements git.GitProvider.
type Provider struct {
	client *gl.Client
	repo   string
}

var (
	_ git.GitProvider        = (*Provider)(nil)
	_ git.MergedBranchPruner = (*Provider)(nil)
)

// NewProvider validates cfg and returns a Provider
// ready to create merge requests.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating gitlab provider"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	client, err := gl.NewClient(
		cfg.AccessToken,
		gl.WithBaseURL(host),
		gl.WithoutRetries(),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Provider{
		client: client,
		repo:   cfg.Repo,
	}, nil
}

// CreatePR creates a merge request from branch "from"
// into branch "to". If a MR already exists (HTTP 409)
// the error is suppressed and the result is marked
// Reused.
func (p *Provider) CreatePR(
	ctx context.Context,
	from string,
	to string,
	title string,
	body string,
) (git.MergeRequest, error) {
	const errCtx = "creating gitlab merge request"

	opts := gl.CreateMergeRequestOptions{
		Title:              &title,
		Description:        &body,
		SourceBranch:       &from,
		TargetBranch:       &to,
		RemoveSourceBranch: gl.Ptr(true),
	}

	created, resp, err := p.client.MergeRequests.CreateMergeRequest(
		p.repo, &opts, gl.WithContext(ctx),
	)
	if err == nil {
		slog.Info(
			"created merge request",
			"url", created.WebURL,
		)

		return git.MergeRequest{
			ID:  int64(created.IID),
			URL: created.WebURL,
		}, nil
	}

	// HTTP 409: MR already exists for this source
	// branch.
	if resp != nil &&
		resp.StatusCode == http.StatusConflict {
		slog.Info(
			"reusing existing merge request",
			"branch", from,
		)

		return git.MergeRequest{Reused: true}, nil
	}

	logBody(resp)

	return git.MergeRequest{}, fmt.Errorf("%s: %w", errCtx, err)
}

// ListBranches returns the project branches starting
// with prefix.
func (p *Provider) ListBranches(
	ctx context.Context,
	prefix string,
) ([]string, error) {
	const errCtx = "listing gitlab branches"

	opts := &gl.ListBranchesOptions{
		ListOptions: gl.ListOptions{PerPage: perPage},
	}

	if prefix != "" {
		opts.Search = gl.Ptr("^" + prefix)
	}

	var names []string

	for {
		branches, resp, err := p.client.Branches.ListBranches(
			p.repo, opts, gl.WithContext(ctx),
		)
		if err != nil {
			logBody(resp)

			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		for _, b := range branches {
			if strings.HasPrefix(b.Name, prefix) {
				names = append(names, b.Name)
			}
		}

		if resp == nil || resp.NextPage == 0 {
			return names, nil
		}

		opts.Page = resp.NextPage
	}
}

// ListOpenSourceBranches returns the source branches
// of all opened merge requests.
func (p *Provider) ListOpenSourceBranches(
	ctx context.Context,
) ([]string, error) {
	const errCtx = "listing gitlab merge requests"

	opts := &gl.ListProjectMergeRequestsOptions{
		ListOptions: gl.ListOptions{PerPage: perPage},
		State:       gl.Ptr("opened"),
	}

	var sources []string

	for {
		mrs, resp, err := p.client.MergeRequests.ListProjectMergeRequests(
			p.repo, opts, gl.WithContext(ctx),
		)
		if err != nil {
			logBody(resp)

			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		for _, mr := range mrs {
			sources = append(sources, mr.SourceBranch)
		}

		if resp == nil || resp.NextPage == 0 {
			return sources, nil
		}

		opts.Page = resp.NextPage
	}
}

// DeleteBranch removes branch from the project.
func (p *Provider) DeleteBranch(
	ctx context.Context,
	branch string,
) error {
	const errCtx = "deleting gitlab branch"

	resp, err := p.client.Branches.DeleteBranch(
		p.repo, branch, gl.WithContext(ctx),
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

// DeleteMergedBranches removes every branch merged
// into the default branch. Protected branches are kept
// by GitLab.
func (p *Provider) DeleteMergedBranches(ctx context.Context) error {
	const errCtx = "deleting merged gitlab branches"

	resp, err := p.client.Branches.DeleteMergedBranches(
		p.repo, gl.WithContext(ctx),
	)
	if err != nil {
		logBody(resp)

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// logBody logs the response body for debugging.
func logBody(resp *gl.Response) {
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
			"gitlab response",
			"body", string(rb),
		)
	}
}
