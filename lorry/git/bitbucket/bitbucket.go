package bitbucket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/lorry_mirror_updater/lorry/git"
)

const pageLimit = 100

// Config holds the settings needed to create a
// Bitbucket pull request provider.
type Config struct {
	// BaseURL is the Bitbucket Server root URL (e.g.
	// "https://bb.example.com").
	BaseURL string
	// Project is the project key (e.g. "MIR").
	Project string
	// Repo is the repository slug.
	Repo string
	// User is the Bitbucket API username.
	User string
	// Password is the Bitbucket API password (or
	// personal access token).
	Password string
	// HTTPClient sends the requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Provider creates pull requests on Bitbucket Server.
//
// Pattern: Strategy -- implements git.GitProvider.
type Provider struct {
	base     string
	project  string
	repo     string
	user     string
	password string
	client   *http.Client
}

var _ git.GitProvider = (*Provider)(nil)

type project struct {
	Key string `json:"key,omitempty"`
}

type repository struct {
	Slug    string  `json:"slug,omitempty"`
	Project project `json:"project"`
}

type pullrequestEndpoint struct {
	ID         string     `json:"id,omitempty"`
	DisplayID  string     `json:"displayId,omitempty"`
	Repository repository `json:"repository,omitempty"`
}

type pullrequest struct {
	ID          int64                `json:"id,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	State       string               `json:"state,omitempty"`
	Open        bool                 `json:"open"`
	Closed      bool                 `json:"closed"`
	FromRef     *pullrequestEndpoint `json:"fromRef,omitempty"`
	ToRef       *pullrequestEndpoint `json:"toRef,omitempty"`
	Locked      bool                 `json:"locked"`
	Reviewers   []account            `json:"reviewers,omitempty"`
	Links       *links               `json:"links,omitempty"`
}

type account struct {
	User user `json:"user"`
}

type user struct {
	Name string `json:"name,omitempty"`
}

type links struct {
	Self []link `json:"self,omitempty"`
}

type link struct {
	Href string `json:"href"`
}

type branch struct {
	ID        string `json:"id"`
	DisplayID string `json:"displayId"`
}

type deleteBranchRequest struct {
	Name   string `json:"name"`
	DryRun bool   `json:"dryRun"`
}

// page is one page of a paged Bitbucket collection.
type page[T any] struct {
	Values        []T  `json:"values"`
	IsLastPage    bool `json:"isLastPage"`
	NextPageStart int  `json:"nextPageStart"`
}

var errUnexpectedStatus = errors.New("unexpected status")

// NewProvider validates cfg and returns a Provider
// ready to create pull requests.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating bitbucket provider"

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf(
			"%s: base url must be set",
			errCtx,
		)
	}

	if cfg.Project == "" || cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: project and repo must be set", errCtx,
		)
	}

	if cfg.User == "" {
		return nil, fmt.Errorf(
			"%s: user must be set", errCtx,
		)
	}

	if cfg.Password == "" {
		return nil, fmt.Errorf(
			"%s: password must be set", errCtx,
		)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &Provider{
		base:     strings.TrimSuffix(cfg.BaseURL, "/"),
		project:  cfg.Project,
		repo:     cfg.Repo,
		user:     cfg.User,
		password: cfg.Password,
		client:   client,
	}, nil
}

// CreatePR creates a pull request from branch "from"
// into branch "to". Returns the request on 201
// (created); 409 (already exists) is marked Reused.
func (p *Provider) CreatePR(
	ctx context.Context,
	from string,
	to string,
	title string,
	body string,
) (git.MergeRequest, error) {
	const errCtx = "creating bitbucket pull request"

	repo := repository{
		Slug:    p.repo,
		Project: project{Key: p.project},
	}

	pr := pullrequest{
		Title:       title,
		Description: body,
		State:       "OPEN",
		Open:        true,
		Closed:      false,
		FromRef: &pullrequestEndpoint{
			ID:         "refs/heads/" + from,
			Repository: repo,
		},
		ToRef: &pullrequestEndpoint{
			ID:         "refs/heads/" + to,
			Repository: repo,
		},
		Locked:    false,
		Reviewers: []account{},
	}

	status, rb, err := p.do(
		ctx, http.MethodPost, p.apiURL("pull-requests", nil), &pr,
	)
	if err != nil {
		return git.MergeRequest{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	switch status {
	// 201 Created: PR was created successfully.
	case http.StatusCreated:
		var created pullrequest
		if err := json.Unmarshal(rb, &created); err != nil {
			return git.MergeRequest{}, fmt.Errorf(
				"%s: decode response: %w", errCtx, err,
			)
		}

		mr := git.MergeRequest{ID: created.ID}
		if created.Links != nil && len(created.Links.Self) > 0 {
			mr.URL = created.Links.Self[0].Href
		}

		slog.Info("created pull request", "url", mr.URL)

		return mr, nil

	// 409 Conflict: PR already exists.
	case http.StatusConflict:
		slog.Info(
			"reusing existing pull request",
			"branch", from,
		)

		return git.MergeRequest{Reused: true}, nil

	default:
		return git.MergeRequest{}, fmt.Errorf(
			"%s: %w %d", errCtx, errUnexpectedStatus, status,
		)
	}
}

// ListBranches returns the repository branches
// starting with prefix.
func (p *Provider) ListBranches(
	ctx context.Context,
	prefix string,
) ([]string, error) {
	const errCtx = "listing bitbucket branches"

	q := url.Values{}
	if prefix != "" {
		q.Set("filterText", prefix)
	}

	values, err := list[branch](ctx, p, "branches", q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var names []string

	for _, b := range values {
		if strings.HasPrefix(b.DisplayID, prefix) {
			names = append(names, b.DisplayID)
		}
	}

	return names, nil
}

// ListOpenSourceBranches returns the source branches
// of all open pull requests.
func (p *Provider) ListOpenSourceBranches(
	ctx context.Context,
) ([]string, error) {
	const errCtx = "listing bitbucket pull requests"

	q := url.Values{}
	q.Set("state", "OPEN")

	values, err := list[pullrequest](ctx, p, "pull-requests", q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var sources []string

	for _, pr := range values {
		if pr.FromRef == nil {
			continue
		}

		sources = append(
			sources,
			strings.TrimPrefix(pr.FromRef.ID, "refs/heads/"),
		)
	}

	return sources, nil
}

// DeleteBranch removes branch through the branch
// utilities API.
func (p *Provider) DeleteBranch(
	ctx context.Context,
	branch string,
) error {
	const errCtx = "deleting bitbucket branch"

	endpoint := fmt.Sprintf(
		"%s/rest/branch-utils/1.0/projects/%s/repos/%s/branches",
		p.base, url.PathEscape(p.project), url.PathEscape(p.repo),
	)

	status, _, err := p.do(
		ctx, http.MethodDelete, endpoint,
		&deleteBranchRequest{Name: "refs/heads/" + branch},
	)
	if err != nil {
		return fmt.Errorf("%s %s: %w", errCtx, branch, err)
	}

	switch status {
	case http.StatusNoContent, http.StatusOK:
	case http.StatusNotFound:
		slog.Info("branch already deleted", "branch", branch)

		return nil
	default:
		return fmt.Errorf(
			"%s %s: %w %d",
			errCtx, branch, errUnexpectedStatus, status,
		)
	}

	slog.Info("deleted branch", "branch", branch)

	return nil
}

// list walks every page of a collection resource.
func list[T any](
	ctx context.Context,
	p *Provider,
	resource string,
	q url.Values,
) ([]T, error) {
	var all []T

	start := 0

	for {
		q.Set("limit", strconv.Itoa(pageLimit))
		q.Set("start", strconv.Itoa(start))

		status, rb, err := p.do(
			ctx, http.MethodGet, p.apiURL(resource, q), nil,
		)
		if err != nil {
			return nil, err
		}

		if status != http.StatusOK {
			return nil, fmt.Errorf(
				"%w %d", errUnexpectedStatus, status,
			)
		}

		var pg page[T]
		if err := json.Unmarshal(rb, &pg); err != nil {
			return nil, fmt.Errorf("decode page: %w", err)
		}

		all = append(all, pg.Values...)

		if pg.IsLastPage || len(pg.Values) == 0 {
			return all, nil
		}

		start = pg.NextPageStart
	}
}

func (p *Provider) apiURL(resource string, q url.Values) string {
	u := fmt.Sprintf(
		"%s/rest/api/1.0/projects/%s/repos/%s/%s",
		p.base,
		url.PathEscape(p.project),
		url.PathEscape(p.repo),
		resource,
	)

	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	return u
}

// do sends a JSON request and returns the status code
// and body.
func (p *Provider) do(
	ctx context.Context,
	method string,
	endpoint string,
	in any,
) (int, []byte, error) {
	var body io.Reader

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}

		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}

	if in != nil {
		req.Header.Set(
			"Content-Type",
			"application/json; charset=utf-8",
		)
	}

	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.user, p.password)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn(
			"cannot read response body",
			"error", err,
		)
	} else if resp.StatusCode >= http.StatusBadRequest {
		slog.Warn(
			"bitbucket response",
			"status", resp.Status,
			"body", string(rb),
		)
	}

	return resp.StatusCode, rb, nil
}
