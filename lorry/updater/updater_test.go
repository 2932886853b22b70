package updater_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/lorry_mirror_updater/lorry/config"
	"github.com/byte4ever/lorry_mirror_updater/lorry/failure"
	"github.com/byte4ever/lorry_mirror_updater/lorry/generator"
	"github.com/byte4ever/lorry_mirror_updater/lorry/git"
	"github.com/byte4ever/lorry_mirror_updater/lorry/updater"
)

var runTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// journal records every collaborator call in order.
type journal struct {
	calls []string
}

func (j *journal) add(format string, args ...any) {
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

type fakeGenerator struct {
	j      *journal
	failOn string
}

func (g *fakeGenerator) Generate(
	_ context.Context,
	src config.MirrorSource,
) (generator.Result, error) {
	g.j.add("generate %s", src.Alias)

	if src.Alias == g.failOn {
		return generator.Result{Alias: src.Alias}, failure.Wrap(
			failure.ErrGeneration, errors.New("exit status 1"),
		)
	}

	return generator.Result{Alias: src.Alias}, nil
}

type fakeRepo struct {
	j         *journal
	dirty     bool
	changes   git.ChangeSet
	branches  []git.Branch
	same      map[string]bool
	commitErr error
	pushErr   error
	message   string
}

func (r *fakeRepo) IsClean(context.Context) (bool, error) {
	r.j.add("is-clean")

	return !r.dirty, nil
}

func (r *fakeRepo) Checkout(_ context.Context, branch string) error {
	r.j.add("checkout %s", branch)

	return nil
}

func (r *fakeRepo) Status(
	_ context.Context,
	paths ...string,
) (git.ChangeSet, error) {
	r.j.add("status %v", paths)

	return r.changes, nil
}

func (r *fakeRepo) Add(_ context.Context, paths ...string) error {
	r.j.add("add %v", paths)

	return nil
}

func (r *fakeRepo) Branches(context.Context) ([]git.Branch, error) {
	r.j.add("branches")

	return r.branches, nil
}

func (r *fakeRepo) StagedMatches(
	_ context.Context,
	ref string,
	paths ...string,
) (bool, error) {
	r.j.add("compare %s %v", ref, paths)

	return r.same[ref], nil
}

func (r *fakeRepo) Discard(_ context.Context, paths ...string) error {
	r.j.add("discard %v", paths)

	return nil
}

func (r *fakeRepo) CreateBranch(
	_ context.Context,
	branch, base string,
) error {
	r.j.add("branch %s %s", branch, base)

	return nil
}

func (r *fakeRepo) Commit(_ context.Context, message string) error {
	r.j.add("commit")
	r.message = message

	return r.commitErr
}

func (r *fakeRepo) Push(_ context.Context, branch string) error {
	r.j.add("push %s", branch)

	return r.pushErr
}

type fakeProvider struct {
	j         *journal
	branches  []string
	open      []string
	deleteErr error
	title     string
	body      string
}

func (p *fakeProvider) CreatePR(
	_ context.Context,
	from, to, title, body string,
) (git.MergeRequest, error) {
	p.j.add("create-mr %s %s", from, to)
	p.title = title
	p.body = body

	return git.MergeRequest{ID: 7, URL: "https://forge/mr/7"}, nil
}

func (p *fakeProvider) ListBranches(
	_ context.Context,
	prefix string,
) ([]string, error) {
	p.j.add("list-branches %s", prefix)

	return p.branches, nil
}

func (p *fakeProvider) ListOpenSourceBranches(
	context.Context,
) ([]string, error) {
	p.j.add("list-open")

	return p.open, nil
}

func (p *fakeProvider) DeleteBranch(_ context.Context, branch string) error {
	p.j.add("delete %s", branch)

	return p.deleteErr
}

type pruningProvider struct {
	fakeProvider
}

func (p *pruningProvider) DeleteMergedBranches(context.Context) error {
	p.j.add("prune-merged")

	return nil
}

func mirrors(aliases ...string) *config.MirrorConfig {
	cfg := &config.MirrorConfig{}
	for _, a := range aliases {
		cfg.Sources = append(cfg.Sources, config.MirrorSource{
			Alias: a,
			Kind:  config.KindGit,
		})
	}

	return cfg
}

func runContext(
	t *testing.T,
	opts updater.Options,
	env config.Env,
) *updater.RunContext {
	t.Helper()

	opts.RepoRoot = "/repo"

	rc, err := updater.NewRunContext(opts, env, runTime)
	require.NoError(t, err)

	return rc
}

var fooChanges = git.ChangeSet{Added: []string{"gits/foo.lorry"}}

func TestNewRunContext_defaults(t *testing.T) {
	t.Parallel()

	rc, err := updater.NewRunContext(
		updater.Options{RepoRoot: "/repo"},
		config.Env{},
		runTime.In(time.FixedZone("X", 3600)),
	)
	require.NoError(t, err)

	assert.Equal(t, "main", rc.BaseBranch)
	assert.Equal(t, "/repo/gits", rc.GitDir)
	assert.Equal(t, "/repo/files", rc.RawFilesDir)
	assert.Equal(t, updater.ForgeGitLab, rc.Forge)
	assert.Equal(t, "(Automated) Update mirrors", rc.MRTitle)
	assert.Equal(t, updater.DefaultMRDescription, rc.MRDescription)
	assert.Equal(t, time.UTC, rc.Now.Location())
	assert.Equal(t, "update-mirrors/main/20240102030405", rc.BranchName())
}

func TestNewRunContext_errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts updater.Options
		env  config.Env
		kind error
	}{
		{
			name: "create-mr without push",
			opts: updater.Options{CreateMR: true},
			env:  config.Env{GitLabAPIKey: "tok"},
			kind: failure.ErrConfig,
		},
		{
			name: "create-mr without credential",
			opts: updater.Options{CreateMR: true, Push: true},
			kind: failure.ErrAuth,
		},
		{
			name: "github credential checked",
			opts: updater.Options{
				CreateMR: true,
				Push:     true,
				Forge:    updater.ForgeGitHub,
			},
			env:  config.Env{GitLabAPIKey: "tok"},
			kind: failure.ErrAuth,
		},
		{
			name: "bad branch template",
			opts: updater.Options{BranchTemplate: "update/{base}"},
			kind: failure.ErrConfig,
		},
		{
			name: "unknown forge",
			opts: updater.Options{Forge: "gitea"},
			kind: failure.ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rc, err := updater.NewRunContext(tt.opts, tt.env, runTime)

			assert.Nil(t, rc)
			require.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestNewRunContext_credential(t *testing.T) {
	t.Parallel()

	env := config.Env{FreedesktopAPIToken: "fd"}

	rc := runContext(t, updater.Options{
		Push:     true,
		CreateMR: true,
	}, env)
	assert.Equal(t, "fd", rc.Credential)

	rc = runContext(t, updater.Options{Push: true}, env)
	assert.Empty(t, rc.Credential)
}

func TestAbsDir(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/repo/gits", updater.AbsDirForTest("/repo", "", "gits"))
	assert.Equal(t, "/repo/m/g", updater.AbsDirForTest("/repo", "m/g", "gits"))
	assert.Equal(t, "/abs", updater.AbsDirForTest("/repo", "/abs/", "gits"))
}

func TestRender(t *testing.T) {
	t.Parallel()

	rc := runContext(t, updater.Options{
		MRTitle:       "Update {base} mirrors",
		MRDescription: "{summary} ({sources}) {unknown}\n{changes}",
	}, config.Env{})

	title, body := updater.RenderForTest(
		rc, "b", []string{"foo", "bar"}, fooChanges,
	)

	assert.Equal(t, "Update main mirrors", title)
	assert.Equal(
		t,
		"Updated 1 mirror definition: 1 added. (foo, bar) {unknown}\n"+
			"A gits/foo.lorry",
		body,
	)
}

func TestRun_no_changes(t *testing.T) {
	t.Parallel()

	j := &journal{}
	prov := &fakeProvider{j: j}

	res, err := updater.Run(context.Background(), updater.Config{
		Run: runContext(t, updater.Options{
			Push:     true,
			CreateMR: true,
		}, config.Env{GitLabAPIKey: "tok"}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo:      &fakeRepo{j: j},
		Provider:  prov,
	})
	require.NoError(t, err)

	assert.Equal(t, updater.StateNoChanges, res.State)
	assert.Empty(t, res.Branch)
	assert.Equal(t, []string{
		"is-clean",
		"checkout main",
		"generate foo",
		"status [/repo/gits /repo/files]",
	}, j.calls)
}

func TestRun_generation_fails_fast(t *testing.T) {
	t.Parallel()

	j := &journal{}

	res, err := updater.Run(context.Background(), updater.Config{
		Run:       runContext(t, updater.Options{Push: true}, config.Env{}),
		Mirrors:   mirrors("a", "b", "c"),
		Generator: &fakeGenerator{j: j, failOn: "b"},
		Repo:      &fakeRepo{j: j, changes: fooChanges},
	})

	require.ErrorIs(t, err, failure.ErrGeneration)
	assert.Equal(t, failure.ExitGeneration, failure.ExitCode(err))
	assert.Equal(t, updater.StateLoaded, res.State)
	assert.Equal(t, []string{
		"is-clean",
		"checkout main",
		"generate a",
		"generate b",
		"discard [/repo/gits /repo/files]",
	}, j.calls)
}

func TestRun_dirty_checkout(t *testing.T) {
	t.Parallel()

	j := &journal{}

	_, err := updater.Run(context.Background(), updater.Config{
		Run:       runContext(t, updater.Options{}, config.Env{}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo:      &fakeRepo{j: j, dirty: true},
	})

	require.ErrorIs(t, err, failure.ErrVCS)
	assert.ErrorContains(t, err, "uncommitted changes")
	assert.Equal(t, []string{"is-clean"}, j.calls)
}

func TestRun_commit_without_push(t *testing.T) {
	t.Parallel()

	j := &journal{}
	repo := &fakeRepo{j: j, changes: fooChanges}

	res, err := updater.Run(context.Background(), updater.Config{
		Run:       runContext(t, updater.Options{}, config.Env{}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo:      repo,
	})
	require.NoError(t, err)

	assert.Equal(t, updater.StateCommitted, res.State)
	assert.Equal(t, "update-mirrors/main/20240102030405", res.Branch)
	assert.Equal(t, fooChanges, res.Changes)
	assert.Equal(t, []string{
		"is-clean",
		"checkout main",
		"generate foo",
		"status [/repo/gits /repo/files]",
		"add [gits/foo.lorry]",
		"branches",
		"branch update-mirrors/main/20240102030405 main",
		"commit",
	}, j.calls)

	assert.Contains(t, repo.message, "(Automated) Update mirrors\n")
	assert.Contains(t, repo.message, "A gits/foo.lorry")
}

func TestRun_already_proposed(t *testing.T) {
	t.Parallel()

	const prev = "update-mirrors/main/20240101000000"

	j := &journal{}
	repo := &fakeRepo{
		j:       j,
		changes: fooChanges,
		branches: []git.Branch{
			{Name: "main", Ref: "refs/heads/main"},
			{
				Name: "update-mirrors/main/20231201000000",
				Ref:  "refs/heads/update-mirrors/main/20231201000000",
			},
			{
				Name: "update-mirrors/stable/20240102000000",
				Ref:  "refs/heads/update-mirrors/stable/20240102000000",
			},
			{Name: prev, Ref: "refs/remotes/origin/" + prev},
		},
		same: map[string]bool{"refs/remotes/origin/" + prev: true},
	}

	res, err := updater.Run(context.Background(), updater.Config{
		Run: runContext(t, updater.Options{
			Push:     true,
			CreateMR: true,
		}, config.Env{GitLabAPIKey: "tok"}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo:      repo,
		Provider:  &fakeProvider{j: j},
	})
	require.NoError(t, err)

	assert.Equal(t, updater.StateNoChanges, res.State)
	assert.Equal(t, prev, res.Proposed)
	assert.Empty(t, res.Branch)
	assert.Equal(t, []string{
		"add [gits/foo.lorry]",
		"branches",
		"compare refs/remotes/origin/" + prev + " [/repo/gits /repo/files]",
		"discard [/repo/gits /repo/files]",
	}, j.calls[len(j.calls)-4:])
}

func TestRun_proposed_branch_differs(t *testing.T) {
	t.Parallel()

	const prev = "update-mirrors/main/20240101000000"

	j := &journal{}

	res, err := updater.Run(context.Background(), updater.Config{
		Run:       runContext(t, updater.Options{}, config.Env{}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo: &fakeRepo{
			j:        j,
			changes:  fooChanges,
			branches: []git.Branch{{Name: prev, Ref: "refs/heads/" + prev}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, updater.StateCommitted, res.State)
	assert.Empty(t, res.Proposed)
	assert.Contains(
		t,
		j.calls,
		"compare refs/heads/"+prev+" [/repo/gits /repo/files]",
	)
	assert.Equal(t, "commit", j.calls[len(j.calls)-1])
}

func TestRun_commit_failure_discards(t *testing.T) {
	t.Parallel()

	j := &journal{}

	res, err := updater.Run(context.Background(), updater.Config{
		Run:       runContext(t, updater.Options{}, config.Env{}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo: &fakeRepo{
			j:         j,
			changes:   fooChanges,
			commitErr: errors.New("exit status 128"),
		},
	})

	require.ErrorIs(t, err, failure.ErrVCS)
	assert.Equal(t, updater.StateGenerated, res.State)
	assert.Equal(t, []string{
		"commit",
		"discard [/repo/gits /repo/files]",
	}, j.calls[len(j.calls)-2:])
}

func TestRun_push(t *testing.T) {
	t.Parallel()

	j := &journal{}

	res, err := updater.Run(context.Background(), updater.Config{
		Run:       runContext(t, updater.Options{Push: true}, config.Env{}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo:      &fakeRepo{j: j, changes: fooChanges},
	})
	require.NoError(t, err)

	assert.Equal(t, updater.StatePushed, res.State)
	assert.Equal(
		t,
		"push update-mirrors/main/20240102030405",
		j.calls[len(j.calls)-1],
	)
}

func TestRun_push_failure(t *testing.T) {
	t.Parallel()

	j := &journal{}

	res, err := updater.Run(context.Background(), updater.Config{
		Run:       runContext(t, updater.Options{Push: true}, config.Env{}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo: &fakeRepo{
			j:       j,
			changes: fooChanges,
			pushErr: errors.New("rejected"),
		},
	})

	require.ErrorIs(t, err, failure.ErrVCS)
	assert.Equal(t, failure.ExitVCS, failure.ExitCode(err))
	assert.Equal(t, updater.StateCommitted, res.State)
}

func TestRun_merge_request(t *testing.T) {
	t.Parallel()

	j := &journal{}
	prov := &pruningProvider{fakeProvider{
		j: j,
		branches: []string{
			"update-mirrors/main/20230101000000",
			"update-mirrors/main/20230201000000",
			"update-mirrors/stable/20230101000000",
			"update-mirrors/main/20240102030405",
		},
		open: []string{"update-mirrors/main/20230201000000"},
	}}

	res, err := updater.Run(context.Background(), updater.Config{
		Run: runContext(t, updater.Options{
			Push:          true,
			CreateMR:      true,
			MRDescription: "{branch}",
		}, config.Env{GitLabAPIKey: "tok"}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo:      &fakeRepo{j: j, changes: fooChanges},
		Provider:  prov,
	})
	require.NoError(t, err)

	assert.Equal(t, updater.StateMergeRequested, res.State)
	assert.Equal(t, int64(7), res.MergeRequest.ID)
	assert.Equal(
		t,
		[]string{"update-mirrors/main/20230101000000"},
		res.Deleted,
	)

	assert.Equal(t, []string{
		"push update-mirrors/main/20240102030405",
		"list-branches update-mirrors/",
		"list-open",
		"prune-merged",
		"delete update-mirrors/main/20230101000000",
		"create-mr update-mirrors/main/20240102030405 main",
	}, j.calls[len(j.calls)-6:])

	assert.Equal(t, "(Automated) Update mirrors", prov.title)
	assert.Equal(t, "update-mirrors/main/20240102030405", prov.body)
}

func TestRun_delete_failure_skips_merge_request(t *testing.T) {
	t.Parallel()

	j := &journal{}
	prov := &fakeProvider{
		j:         j,
		branches:  []string{"update-mirrors/main/20230101000000"},
		deleteErr: errors.New("403 Forbidden"),
	}

	res, err := updater.Run(context.Background(), updater.Config{
		Run: runContext(t, updater.Options{
			Push:     true,
			CreateMR: true,
		}, config.Env{GitLabAPIKey: "tok"}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo:      &fakeRepo{j: j, changes: fooChanges},
		Provider:  prov,
	})

	require.ErrorIs(t, err, failure.ErrAPI)
	assert.Equal(t, failure.ExitAPI, failure.ExitCode(err))
	assert.Equal(t, updater.StatePushed, res.State)
	assert.Empty(t, res.Deleted)
	assert.NotContains(
		t,
		j.calls,
		"create-mr update-mirrors/main/20240102030405 main",
	)
}

func TestRun_merge_request_without_provider(t *testing.T) {
	t.Parallel()

	j := &journal{}

	_, err := updater.Run(context.Background(), updater.Config{
		Run: runContext(t, updater.Options{
			Push:     true,
			CreateMR: true,
		}, config.Env{GitLabAPIKey: "tok"}),
		Mirrors:   mirrors("foo"),
		Generator: &fakeGenerator{j: j},
		Repo:      &fakeRepo{j: j},
	})

	require.ErrorIs(t, err, failure.ErrConfig)
	assert.Empty(t, j.calls)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no-changes", updater.StateNoChanges.String())
	assert.Equal(t, "merge-requested", updater.StateMergeRequested.String())
	assert.Equal(t, "unknown", updater.State(42).String())
}
