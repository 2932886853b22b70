package git

import "context"

// Pattern: Strategy -- swap git platform without
// changing merge request logic.

// MergeRequest identifies a merge (or pull) request on
// the forge.
type MergeRequest struct {
	// ID is the project-scoped request number.
	ID int64
	// URL is the web address of the request.
	URL string
	// Reused is true when the forge reported that a
	// request for the branch already existed.
	Reused bool
}

// GitProvider is the merge request capability of a
// git hosting platform.
type GitProvider interface {
	// CreatePR opens a request merging from into to.
	// An already existing request is not an error and
	// is reported with Reused set.
	CreatePR(
		ctx context.Context,
		from string,
		to string,
		title string,
		body string,
	) (MergeRequest, error)

	// ListBranches returns the remote branches whose
	// names start with prefix.
	ListBranches(
		ctx context.Context,
		prefix string,
	) ([]string, error)

	// ListOpenSourceBranches returns the source
	// branches of all open requests.
	ListOpenSourceBranches(
		ctx context.Context,
	) ([]string, error)

	// DeleteBranch removes a remote branch.
	DeleteBranch(ctx context.Context, branch string) error
}

// MergedBranchPruner is implemented by providers that
// can delete every merged branch in one call.
type MergedBranchPruner interface {
	DeleteMergedBranches(ctx context.Context) error
}
