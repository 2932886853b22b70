// Package gitlab implements a git.GitProvider on top of the GitLab REST API.
// Configure with the instance URL, the project ID or path, and an access
// token; in GitLab CI these come from CI_SERVER_URL, CI_PROJECT_ID and
// GITLAB_API_KEY. Requests are sent without client-side retries.
package gitlab
