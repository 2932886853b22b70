// Package github implements a git.GitProvider that opens pull requests and
// deletes update branches on GitHub (cloud or enterprise). Configure with a
// Config containing the repository owner, name, and access token. Set
// EnterpriseHost for GitHub Enterprise installations, or APIURL to point at
// an explicit API endpoint such as the GITHUB_API_URL of an Actions runner.
package github
