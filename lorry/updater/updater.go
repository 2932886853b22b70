package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/lorry_mirror_updater/lorry/commitmsg"
	"github.com/byte4ever/lorry_mirror_updater/lorry/config"
	"github.com/byte4ever/lorry_mirror_updater/lorry/failure"
	"github.com/byte4ever/lorry_mirror_updater/lorry/generator"
	"github.com/byte4ever/lorry_mirror_updater/lorry/git"
)

// Generator produces the mirror definitions of one
// source.
type Generator interface {
	Generate(
		ctx context.Context,
		src config.MirrorSource,
	) (generator.Result, error)
}

// Repository is the working copy of the
// mirroring-config repository.
type Repository interface {
	IsClean(ctx context.Context) (bool, error)
	Checkout(ctx context.Context, branch string) error
	Status(ctx context.Context, paths ...string) (git.ChangeSet, error)
	Add(ctx context.Context, paths ...string) error
	Branches(ctx context.Context) ([]git.Branch, error)
	StagedMatches(
		ctx context.Context,
		ref string,
		paths ...string,
	) (bool, error)
	Discard(ctx context.Context, paths ...string) error
	CreateBranch(ctx context.Context, branch, base string) error
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context, branch string) error
}

var (
	_ Generator  = (*generator.Generator)(nil)
	_ Repository = (*git.Repo)(nil)

	errDirty      = errors.New("working tree has uncommitted changes")
	errNoProvider = errors.New("no forge provider configured")
)

// Config holds the collaborators of a run.
type Config struct {
	// Run is the immutable run context.
	Run *RunContext

	// Mirrors is the loaded mirror configuration.
	Mirrors *config.MirrorConfig

	// Generator runs the generator per source.
	Generator Generator

	// Repo is the mirroring-config checkout.
	Repo Repository

	// Provider talks to the forge. Required when
	// Run.CreateMR is set.
	Provider git.GitProvider
}

// Result describes a finished run.
type Result struct {
	State        State
	Branch       string
	Changes      git.ChangeSet
	MergeRequest git.MergeRequest

	// Proposed is the update branch of an earlier run
	// that already carries the generated changes.
	Proposed string

	// Deleted lists the stale branches removed
	// before the merge request was created.
	Deleted []string
}

// Run executes one update: generate every source,
// collect the changes under the mirror directories,
// commit them on a fresh branch, then push and open a
// merge request when requested. Changes identical to
// the newest update branch for the base branch end
// the run with StateNoChanges. The first error aborts
// the run, discards the generated files and carries
// its failure kind.
func Run(ctx context.Context, cfg Config) (Result, error) {
	const errCtx = "updating mirrors"

	rc := cfg.Run
	res := Result{State: StateIdle}

	if rc.CreateMR && cfg.Provider == nil {
		return res, failure.Wrap(
			failure.ErrConfig,
			fmt.Errorf("%s: %w", errCtx, errNoProvider),
		)
	}

	if err := prepare(ctx, cfg.Repo, rc.BaseBranch); err != nil {
		return res, fmt.Errorf("%s: %w", errCtx, err)
	}

	res.State = StateLoaded

	for _, src := range cfg.Mirrors.Sources {
		slog.Info(
			"generating mirror definitions",
			"source", src.Alias,
			"kind", src.Kind,
		)

		if _, err := cfg.Generator.Generate(ctx, src); err != nil {
			return res, abort(ctx, cfg.Repo, rc, fmt.Errorf(
				"%s: %w",
				errCtx,
				failure.Wrap(failure.ErrGeneration, err),
			))
		}
	}

	res.State = StateGenerated

	changes, err := collectChanges(ctx, cfg.Repo, rc)
	if err != nil {
		return res, abort(
			ctx, cfg.Repo, rc, fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	res.Changes = changes

	if changes.Empty() {
		slog.Warn("nothing to commit")

		res.State = StateNoChanges

		return res, nil
	}

	branch := rc.BranchName()

	proposed, err := alreadyProposed(ctx, cfg.Repo, rc, branch)
	if err != nil {
		return res, abort(
			ctx, cfg.Repo, rc, fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	if proposed != "" {
		slog.Warn("changes already proposed", "branch", proposed)

		if err := cfg.Repo.Discard(
			ctx, rc.GitDir, rc.RawFilesDir,
		); err != nil {
			return res, fmt.Errorf(
				"%s: %w",
				errCtx,
				failure.Wrap(failure.ErrVCS, err),
			)
		}

		res.Proposed = proposed
		res.State = StateNoChanges

		return res, nil
	}

	res.Branch = branch

	if err := commitChanges(
		ctx, cfg.Repo, rc, branch,
		cfg.Mirrors.Aliases(), changes,
	); err != nil {
		return res, abort(
			ctx, cfg.Repo, rc, fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	res.State = StateCommitted

	if !rc.Push {
		slog.Info("push disabled, leaving branch local", "branch", branch)

		return res, nil
	}

	if err := cfg.Repo.Push(ctx, branch); err != nil {
		return res, fmt.Errorf(
			"%s: %w",
			errCtx,
			failure.Wrap(failure.ErrVCS, err),
		)
	}

	slog.Info("pushed branch", "branch", branch)

	res.State = StatePushed

	if !rc.CreateMR {
		return res, nil
	}

	deleted, err := cleanupBranches(ctx, cfg.Provider, rc, branch)
	res.Deleted = deleted

	if err != nil {
		return res, fmt.Errorf("%s: %w", errCtx, err)
	}

	mr, err := createMergeRequest(
		ctx, cfg.Provider, rc, branch,
		cfg.Mirrors.Aliases(), changes,
	)
	if err != nil {
		return res, fmt.Errorf("%s: %w", errCtx, err)
	}

	res.MergeRequest = mr
	res.State = StateMergeRequested

	return res, nil
}

// prepare checks the working tree is clean and
// switches to the base branch.
func prepare(
	ctx context.Context,
	repo Repository,
	base string,
) error {
	const errCtx = "preparing checkout"

	clean, err := repo.IsClean(ctx)
	if err != nil {
		return failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	if !clean {
		return failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, errDirty),
		)
	}

	if err := repo.Checkout(ctx, base); err != nil {
		return failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	return nil
}

// collectChanges reads the changes under the mirror
// directories and stages exactly those paths.
func collectChanges(
	ctx context.Context,
	repo Repository,
	rc *RunContext,
) (git.ChangeSet, error) {
	const errCtx = "collecting changes"

	dirs := []string{rc.GitDir, rc.RawFilesDir}

	changes, err := repo.Status(ctx, dirs...)
	if err != nil {
		return git.ChangeSet{}, failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	if changes.Empty() {
		return changes, nil
	}

	slog.Info(
		"changes detected",
		"added", len(changes.Added),
		"modified", len(changes.Modified),
		"deleted", len(changes.Deleted),
	)

	if err := repo.Add(ctx, changes.Paths()...); err != nil {
		return git.ChangeSet{}, failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	return changes, nil
}

// alreadyProposed returns the name of the newest
// update branch for the base branch when its content
// under the mirror directories equals the staged
// changes, and "" otherwise.
func alreadyProposed(
	ctx context.Context,
	repo Repository,
	rc *RunContext,
	current string,
) (string, error) {
	const errCtx = "comparing with earlier update branches"

	branches, err := repo.Branches(ctx)
	if err != nil {
		return "", failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	latest, ok := git.LatestBranch(rc.Namer, current, branches)
	if !ok {
		return "", nil
	}

	same, err := repo.StagedMatches(
		ctx, latest.Ref, rc.GitDir, rc.RawFilesDir,
	)
	if err != nil {
		return "", failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	if !same {
		return "", nil
	}

	return latest.Name, nil
}

// abort drops the generated files left by a failed
// run and returns err.
func abort(
	ctx context.Context,
	repo Repository,
	rc *RunContext,
	err error,
) error {
	if dErr := repo.Discard(
		ctx, rc.GitDir, rc.RawFilesDir,
	); dErr != nil {
		slog.Error("failed to discard generated files", "error", dErr)
	}

	return err
}

// commitChanges creates branch off the base branch and
// commits the staged changes on it.
func commitChanges(
	ctx context.Context,
	repo Repository,
	rc *RunContext,
	branch string,
	sources []string,
	changes git.ChangeSet,
) error {
	const errCtx = "committing changes"

	if err := repo.CreateBranch(ctx, branch, rc.BaseBranch); err != nil {
		return failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	title, _ := render(rc, branch, sources, changes)
	msg := commitmsg.Generate(title, sources, changes)

	if err := repo.Commit(ctx, msg); err != nil {
		return failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	slog.Info("committed changes", "branch", branch, "files", changes.Len())

	return nil
}

// cleanupBranches deletes the update branches of
// earlier runs that no open merge request uses.
func cleanupBranches(
	ctx context.Context,
	provider git.GitProvider,
	rc *RunContext,
	current string,
) ([]string, error) {
	const errCtx = "cleaning up stale branches"

	branches, err := provider.ListBranches(ctx, rc.Namer.Prefix())
	if err != nil {
		return nil, failure.Wrap(
			failure.ErrAPI,
			fmt.Errorf("%s: list branches: %w", errCtx, err),
		)
	}

	open, err := provider.ListOpenSourceBranches(ctx)
	if err != nil {
		return nil, failure.Wrap(
			failure.ErrAPI,
			fmt.Errorf("%s: list merge requests: %w", errCtx, err),
		)
	}

	if pruner, ok := provider.(git.MergedBranchPruner); ok {
		if err := pruner.DeleteMergedBranches(ctx); err != nil {
			return nil, failure.Wrap(
				failure.ErrAPI,
				fmt.Errorf("%s: prune merged: %w", errCtx, err),
			)
		}
	}

	stale := git.StaleBranches(rc.Namer, current, branches, open)
	deleted := make([]string, 0, len(stale))

	for _, b := range stale {
		slog.Info("deleting branch", "branch", b)

		if err := provider.DeleteBranch(ctx, b); err != nil {
			return deleted, failure.Wrap(
				failure.ErrAPI,
				fmt.Errorf("%s: delete %s: %w", errCtx, b, err),
			)
		}

		deleted = append(deleted, b)
	}

	return deleted, nil
}

// createMergeRequest opens the merge request of
// branch into the base branch.
func createMergeRequest(
	ctx context.Context,
	provider git.GitProvider,
	rc *RunContext,
	branch string,
	sources []string,
	changes git.ChangeSet,
) (git.MergeRequest, error) {
	const errCtx = "creating merge request"

	title, body := render(rc, branch, sources, changes)

	mr, err := provider.CreatePR(ctx, branch, rc.BaseBranch, title, body)
	if err != nil {
		return git.MergeRequest{}, failure.Wrap(
			failure.ErrAPI,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	slog.Info(
		"merge request ready",
		"id", mr.ID,
		"url", mr.URL,
		"reused", mr.Reused,
	)

	return mr, nil
}

// render expands the title and description templates.
// Unknown tags are kept verbatim.
func render(
	rc *RunContext,
	branch string,
	sources []string,
	changes git.ChangeSet,
) (title, body string) {
	vars := map[string]any{
		"base":    rc.BaseBranch,
		"branch":  branch,
		"sources": strings.Join(sources, ", "),
		"summary": commitmsg.Summary(changes),
		"changes": strings.TrimRight(commitmsg.Changes(changes), "\n"),
	}

	title = fasttemplate.ExecuteStringStd(rc.MRTitle, "{", "}", vars)
	body = fasttemplate.ExecuteStringStd(rc.MRDescription, "{", "}", vars)

	return title, body
}
