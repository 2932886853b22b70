// Command lorry-mirror-updater regenerates lorry mirror
// definitions with bst-to-lorry, commits the changes
// on a fresh branch of the mirroring-config repository,
// and optionally pushes the branch and opens a merge
// request. It is expected to run from a clean checkout
// of that repository.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/byte4ever/lorry_mirror_updater/lorry/commitmsg"
	"github.com/byte4ever/lorry_mirror_updater/lorry/config"
	"github.com/byte4ever/lorry_mirror_updater/lorry/exec"
	"github.com/byte4ever/lorry_mirror_updater/lorry/failure"
	"github.com/byte4ever/lorry_mirror_updater/lorry/generator"
	"github.com/byte4ever/lorry_mirror_updater/lorry/git"
	"github.com/byte4ever/lorry_mirror_updater/lorry/git/bitbucket"
	"github.com/byte4ever/lorry_mirror_updater/lorry/git/github"
	"github.com/byte4ever/lorry_mirror_updater/lorry/git/gitlab"
	"github.com/byte4ever/lorry_mirror_updater/lorry/updater"
)

const name = "lorry-mirror-updater"

// version is set at link time.
var version = "dev"

var errMissingTool = errors.New("required tool not found on PATH")

// flags holds the parsed command line.
type flags struct {
	mirrorConfig   string
	baseBranch     string
	gitDir         string
	rawFilesDir    string
	excludeAliases []string
	push           bool
	createMR       bool
	lorry2         bool
	forge          string
	branchTemplate string
	mrTitle        string
	mrDescription  string
	generatorCmd   string
	bstCmd         string
	remote         string

	excludeAliasesSet bool
	lorry2Set         bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, executes one update and returns the
// process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, nil)))

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false

	var f flags

	fs.StringVar(
		&f.mirrorConfig, "mirror-config", config.DefaultConfigPath,
		"Mirror config file (.json, .yaml or .toml)",
	)
	fs.StringVar(
		&f.baseBranch, "base-branch", config.DefaultBaseBranch,
		"Base branch of the mirroring-config repository",
	)
	fs.StringVar(
		&f.gitDir, "git-directory", config.DefaultGitDir,
		"Git mirror directory, relative to the repository root",
	)
	fs.StringVar(
		&f.rawFilesDir, "raw-files-directory", config.DefaultRawFilesDir,
		"Raw files directory, relative to the repository root",
	)
	fs.StringSliceVar(
		&f.excludeAliases, "exclude-alias", config.DefaultExcludeAliases(),
		"Alias to exclude in bst-to-lorry (repeatable)",
	)
	fs.BoolVar(
		&f.push, "push", false,
		"Push the branch to the remote repository",
	)
	fs.BoolVar(
		&f.createMR, "create-mr", false,
		"Open a merge request for the pushed branch",
	)
	fs.BoolVar(
		&f.lorry2, "lorry2", false,
		"Use the lorry2 format in bst-to-lorry",
	)
	fs.StringVar(
		&f.forge, "forge", string(updater.ForgeGitLab),
		"Forge hosting the repository: gitlab, github or bitbucket",
	)
	fs.StringVar(
		&f.branchTemplate, "branch-template", git.DefaultBranchTemplate,
		"Update branch name; tags {base} and {timestamp}",
	)
	fs.StringVar(
		&f.mrTitle, "mr-title", commitmsg.DefaultTitle,
		"Merge request and commit title",
	)
	fs.StringVar(
		&f.mrDescription, "mr-description", updater.DefaultMRDescription,
		"Merge request description; tags {base} {branch} {sources} {summary} {changes}",
	)
	fs.StringVar(
		&f.generatorCmd, "generator-cmd", generator.DefaultCommand,
		"Mirror definition generator command",
	)
	fs.StringVar(
		&f.bstCmd, "bst-cmd", generator.DefaultBstCmd,
		"BuildStream command",
	)
	fs.StringVar(
		&f.remote, "remote", git.DefaultRemote,
		"Remote to push to",
	)

	showVersion := fs.Bool("version", false, "Show the version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of %s:\n", name)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return failure.ExitOK
		}

		return failure.ExitUsage
	}

	if *showVersion {
		fmt.Fprintf(stdout, "%s %s\n", name, version)

		return failure.ExitOK
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()

		return failure.ExitUsage
	}

	f.excludeAliasesSet = fs.Changed("exclude-alias")
	f.lorry2Set = fs.Changed("lorry2")

	res, err := execute(context.Background(), f)
	if err != nil {
		slog.Error("fatal", "error", err)

		return failure.ExitCode(err)
	}

	fmt.Fprintln(stdout, report(res))

	return failure.ExitOK
}

// execute runs the preflight checks, builds the run
// context and collaborators, then runs the update.
func execute(ctx context.Context, f flags) (updater.Result, error) {
	const errCtx = "running " + name

	if err := preflightTools("git", f.generatorCmd); err != nil {
		return updater.Result{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return updater.Result{}, failure.Wrap(
			failure.ErrConfig,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	repo, err := git.Open(ctx, cwd)
	if err != nil {
		return updater.Result{}, failure.Wrap(
			failure.ErrVCS,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	repo.RemoteName = f.remote

	mirrors, err := config.Load(f.mirrorConfig)
	if err != nil {
		return updater.Result{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	if mirrors.HasRemoteSources() {
		if err := preflightTools(f.bstCmd); err != nil {
			return updater.Result{}, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	env, err := config.LoadEnv()
	if err != nil {
		return updater.Result{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	resolved := mirrors.Resolve(config.Overrides{
		ExcludeAliases:    f.excludeAliases,
		ExcludeAliasesSet: f.excludeAliasesSet,
		Lorry2:            f.lorry2,
		Lorry2Set:         f.lorry2Set,
	})

	rc, err := updater.NewRunContext(
		updater.Options{
			BaseBranch:     f.baseBranch,
			RepoRoot:       repo.Dir,
			GitDir:         f.gitDir,
			RawFilesDir:    f.rawFilesDir,
			ExcludeAliases: resolved.ExcludeAliases,
			Lorry2:         resolved.Lorry2,
			Push:           f.push,
			CreateMR:       f.createMR,
			BranchTemplate: f.branchTemplate,
			MRTitle:        f.mrTitle,
			MRDescription:  f.mrDescription,
			Forge:          updater.Forge(f.forge),
		},
		env,
		time.Now(),
	)
	if err != nil {
		return updater.Result{}, fmt.Errorf("%s: %w", errCtx, err)
	}

	var provider git.GitProvider

	if rc.CreateMR {
		provider, err = newGitProvider(rc)
		if err != nil {
			return updater.Result{}, failure.Wrap(
				failure.ErrConfig,
				fmt.Errorf("%s: %w", errCtx, err),
			)
		}
	}

	gen := generator.New(generator.Config{
		Command:        f.generatorCmd,
		BstCmd:         f.bstCmd,
		GitDir:         rc.GitDir,
		RawFilesDir:    rc.RawFilesDir,
		ExcludeAliases: rc.ExcludeAliases,
		Lorry2:         rc.Lorry2,
	})

	res, err := updater.Run(ctx, updater.Config{
		Run:       rc,
		Mirrors:   mirrors,
		Generator: gen,
		Repo:      repo,
		Provider:  provider,
	})
	if err != nil {
		return res, fmt.Errorf("%s: %w", errCtx, err)
	}

	return res, nil
}

// preflightTools checks that every tool is on PATH.
func preflightTools(tools ...string) error {
	for _, tool := range tools {
		if !exec.Present(tool) {
			return failure.Wrap(
				failure.ErrConfig,
				fmt.Errorf("%w: %s", errMissingTool, tool),
			)
		}
	}

	return nil
}

// report renders the one-line outcome printed on
// stdout.
func report(res updater.Result) string {
	switch res.State {
	case updater.StateMergeRequested:
		return fmt.Sprintf(
			"%s %s %s", res.State, res.Branch, res.MergeRequest.URL,
		)
	case updater.StateCommitted, updater.StatePushed:
		return fmt.Sprintf("%s %s", res.State, res.Branch)
	default:
		return res.State.String()
	}
}

// newGitProvider creates the git.GitProvider of the
// configured forge from the captured environment.
// Pattern: Factory -- selects platform implementation
// at runtime.
func newGitProvider(rc *updater.RunContext) (git.GitProvider, error) {
	const errCtx = "creating git provider"

	env := rc.Env

	switch rc.Forge {
	case updater.ForgeGitLab:
		p, err := gitlab.NewProvider(gitlab.Config{
			Host:        env.CIServerURL,
			Repo:        env.CIProjectID,
			AccessToken: rc.Credential,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		return p, nil

	case updater.ForgeGitHub:
		owner, repo, ok := github.SplitRepository(env.GitHubRepository)
		if !ok {
			return nil, fmt.Errorf(
				"%s: GITHUB_REPOSITORY %q is not owner/repo",
				errCtx, env.GitHubRepository,
			)
		}

		p, err := github.NewProvider(github.Config{
			RepoOwner:   owner,
			Repo:        repo,
			AccessToken: rc.Credential,
			APIURL:      env.GitHubAPIURL,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		return p, nil

	case updater.ForgeBitbucket:
		p, err := bitbucket.NewProvider(bitbucket.Config{
			BaseURL:  env.BitbucketURL,
			Project:  env.BitbucketProject,
			Repo:     env.BitbucketRepo,
			User:     env.BitbucketUser,
			Password: rc.Credential,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		return p, nil

	default:
		return nil, fmt.Errorf(
			"%s: unknown forge %q", errCtx, rc.Forge,
		)
	}
}
