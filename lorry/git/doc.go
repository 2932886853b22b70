// Package git provides git repository operations and a strategy interface for
// opening merge requests across different git hosting platforms.
//
// Repo wraps a local checkout with methods for branching, staging, committing
// and pushing; Status parses porcelain output into a ChangeSet. BranchNamer
// expands the update branch template and recognises branches created by
// earlier runs, which StaleBranches uses to pick branches to delete.
//
// The GitProvider interface abstracts merge request creation and branch
// housekeeping. Implementations exist for GitLab, GitHub and Bitbucket Server
// in sub-packages.
package git
