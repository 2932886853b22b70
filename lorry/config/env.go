package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/byte4ever/lorry_mirror_updater/lorry/failure"
)

// Env holds the forge settings provided by the hosting
// CI job. Values are read once at startup.
type Env struct {
	// GitLab.
	GitLabAPIKey        string `envconfig:"GITLAB_API_KEY"`
	FreedesktopAPIToken string `envconfig:"FREEDESKTOP_API_TOKEN"`
	CIProjectID         string `envconfig:"CI_PROJECT_ID"`
	CIServerURL         string `envconfig:"CI_SERVER_URL"`

	// GitHub.
	GitHubToken      string `envconfig:"GITHUB_TOKEN"`
	GitHubRepository string `envconfig:"GITHUB_REPOSITORY"`
	GitHubAPIURL     string `envconfig:"GITHUB_API_URL"`

	// Bitbucket Server.
	BitbucketURL     string `envconfig:"BITBUCKET_URL"`
	BitbucketProject string `envconfig:"BITBUCKET_PROJECT"`
	BitbucketRepo    string `envconfig:"BITBUCKET_REPO"`
	BitbucketUser    string `envconfig:"BITBUCKET_USER"`
	BitbucketToken   string `envconfig:"BITBUCKET_TOKEN"`
}

// GitLabToken returns the GitLab credential,
// preferring GITLAB_API_KEY.
func (e Env) GitLabToken() string {
	if e.GitLabAPIKey != "" {
		return e.GitLabAPIKey
	}

	return e.FreedesktopAPIToken
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	const errCtx = "reading environment"

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, failure.Wrap(
			failure.ErrConfig,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	return env, nil
}
