package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/byte4ever/lorry_mirror_updater/lorry/exec"
)

// DefaultRemote is the remote branches are pushed to.
const DefaultRemote = "origin"

// Repo is a local git checkout. Open an existing
// checkout with Open or create a fresh one with Clone;
// call Clean on clones when done.
type Repo struct {
	// Dir is the filesystem location of the checkout
	// toplevel.
	Dir string
	// RemoteName is the name of the upstream remote.
	RemoteName string
}

// Open returns the Repo whose working tree contains
// dir. It fails when dir is not inside a git
// repository.
func Open(ctx context.Context, dir string) (*Repo, error) {
	const errCtx = "opening repository"

	res, err := exec.Run(
		ctx, dir, "git", "rev-parse", "--show-toplevel",
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: not a git repository: %w", errCtx, err,
		)
	}

	return &Repo{
		Dir:        strings.TrimSpace(res.Stdout),
		RemoteName: DefaultRemote,
	}, nil
}

// Clone clones repo into dir, replacing anything
// already there.
func Clone(
	ctx context.Context,
	repo string,
	dir string,
) (*Repo, error) {
	const errCtx = "cloning repository"

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf(
			"%s: remove dir: %w", errCtx, err,
		)
	}

	if _, err := exec.Ex(
		ctx, "", "git",
		gitArgs("clone", "--no-tags", "--origin", DefaultRemote, repo, dir)...,
	); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &Repo{
		Dir:        dir,
		RemoteName: DefaultRemote,
	}, nil
}

// Clean removes the local clone directory.
func (r *Repo) Clean() error {
	const errCtx = "cleaning repository"

	if err := os.RemoveAll(r.Dir); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Checkout switches the working tree to branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	const errCtx = "checking out branch"

	if err := r.run(ctx, "checkout", branch); err != nil {
		return fmt.Errorf("%s %s: %w", errCtx, branch, err)
	}

	return nil
}

// CreateBranch creates or resets branch to base and
// switches to it. Staged and unstaged changes are
// carried over.
func (r *Repo) CreateBranch(
	ctx context.Context,
	branch string,
	base string,
) error {
	const errCtx = "creating branch"

	if err := r.run(
		ctx, "checkout", "-B", branch, base,
	); err != nil {
		return fmt.Errorf(
			"%s %s from %s: %w", errCtx, branch, base, err,
		)
	}

	return nil
}

// IsClean reports whether the working tree has no
// uncommitted changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	const errCtx = "checking repository status"

	res, err := exec.Run(
		ctx, r.Dir, "git", gitArgs("status", "--porcelain")...,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.TrimSpace(res.Stdout) == "", nil
}

// Status returns the changes under paths relative to
// the repository root. Untracked files are listed
// individually.
func (r *Repo) Status(
	ctx context.Context,
	paths ...string,
) (ChangeSet, error) {
	const errCtx = "collecting changes"

	args := []string{
		"status", "--porcelain=v1", "-z",
		"--untracked-files=all",
	}

	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	res, err := exec.Run(ctx, r.Dir, "git", gitArgs(args...)...)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	cs, err := ParseStatus(res.Stdout)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	return cs, nil
}

// Add stages every change under paths, deletions
// included. Paths are taken literally.
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	const errCtx = "staging changes"

	args := append(
		[]string{"--literal-pathspecs", "add", "-A", "--"},
		paths...,
	)

	if err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Branch is a local or remote-tracking branch of the
// repository.
type Branch struct {
	// Name is the branch name without its
	// refs/heads/ or refs/remotes/<remote>/ prefix.
	Name string
	// Ref is the full reference name.
	Ref string
}

// Branches lists the local branches followed by the
// remote-tracking branches of RemoteName.
func (r *Repo) Branches(ctx context.Context) ([]Branch, error) {
	const (
		errCtx = "listing branches"
		heads  = "refs/heads/"
	)

	remote := "refs/remotes/" + r.RemoteName + "/"

	res, err := exec.Run(
		ctx, r.Dir, "git",
		gitArgs(
			"for-each-ref", "--format=%(refname)",
			strings.TrimSuffix(heads, "/"),
			strings.TrimSuffix(remote, "/"),
		)...,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var branches []Branch

	for _, ref := range strings.Fields(res.Stdout) {
		var name string

		switch {
		case strings.HasPrefix(ref, heads):
			name = strings.TrimPrefix(ref, heads)
		case strings.HasPrefix(ref, remote):
			name = strings.TrimPrefix(ref, remote)
		default:
			continue
		}

		if name == "HEAD" {
			continue
		}

		branches = append(branches, Branch{Name: name, Ref: ref})
	}

	return branches, nil
}

// StagedMatches reports whether the index holds the
// same content as ref under paths.
func (r *Repo) StagedMatches(
	ctx context.Context,
	ref string,
	paths ...string,
) (bool, error) {
	const errCtx = "comparing staged changes"

	args := append(
		[]string{
			"--literal-pathspecs", "diff", "--cached", "--quiet",
			ref, "--",
		},
		paths...,
	)

	res, err := exec.Run(ctx, r.Dir, "git", gitArgs(args...)...)

	switch {
	case err == nil:
		return true, nil
	case res.ExitCode == 1:
		return false, nil
	default:
		return false, fmt.Errorf("%s with %s: %w", errCtx, ref, err)
	}
}

// Discard resets the index and working tree to HEAD
// and removes untracked files under paths. Missing
// paths are ignored.
func (r *Repo) Discard(ctx context.Context, paths ...string) error {
	const errCtx = "discarding changes"

	if err := r.run(ctx, "reset", "--hard", "--quiet"); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	var existing []string

	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(r.Dir, p)
		}

		if _, err := os.Stat(abs); err == nil {
			existing = append(existing, abs)
		}
	}

	if len(existing) == 0 {
		return nil
	}

	args := append(
		[]string{"--literal-pathspecs", "clean", "-fdq", "--"},
		existing...,
	)

	if err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Commit records the staged changes with message.
func (r *Repo) Commit(ctx context.Context, message string) error {
	const errCtx = "committing changes"

	if err := r.run(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Push force-pushes branch to the remote and sets it
// as upstream. All changes should be committed before
// calling Push.
func (r *Repo) Push(ctx context.Context, branch string) error {
	const errCtx = "pushing branch"

	if err := r.run(
		ctx,
		"push", "--set-upstream", "-f", r.RemoteName, branch,
	); err != nil {
		return fmt.Errorf(
			"%s %s to %s: %w", errCtx, branch, r.RemoteName, err,
		)
	}

	return nil
}

func (r *Repo) run(ctx context.Context, args ...string) error {
	_, err := exec.Ex(ctx, r.Dir, "git", gitArgs(args...)...)

	return err
}

// gitArgs prepends options that keep git from
// prompting for credentials in unattended runs.
func gitArgs(args ...string) []string {
	return append(
		[]string{"-c", "credential.interactive=false"},
		args...,
	)
}
