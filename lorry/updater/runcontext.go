package updater

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/byte4ever/lorry_mirror_updater/lorry/commitmsg"
	"github.com/byte4ever/lorry_mirror_updater/lorry/config"
	"github.com/byte4ever/lorry_mirror_updater/lorry/failure"
	"github.com/byte4ever/lorry_mirror_updater/lorry/git"
)

// Forge names a supported git hosting platform.
type Forge string

// Supported forges.
const (
	ForgeGitLab    Forge = "gitlab"
	ForgeGitHub    Forge = "github"
	ForgeBitbucket Forge = "bitbucket"
)

// DefaultMRDescription renders the merge request body.
const DefaultMRDescription = "{summary}\n\nProcessed sources: {sources}\n\n{changes}"

var (
	errCreateMRNeedsPush = errors.New("--create-mr requires --push")
	errUnknownForge      = errors.New("unknown forge")
	errNoCredential      = errors.New("forge credential is not set")
)

// Options are the command line settings of a run.
type Options struct {
	BaseBranch     string
	RepoRoot       string
	GitDir         string
	RawFilesDir    string
	ExcludeAliases []string
	Lorry2         bool
	Push           bool
	CreateMR       bool
	BranchTemplate string
	MRTitle        string
	MRDescription  string
	Forge          Forge
}

// RunContext is the immutable state of one run,
// captured at startup from the command line and the
// environment.
type RunContext struct {
	BaseBranch string

	// GitDir and RawFilesDir are absolute.
	GitDir      string
	RawFilesDir string

	ExcludeAliases []string
	Lorry2         bool
	Push           bool
	CreateMR       bool

	Namer         *git.BranchNamer
	MRTitle       string
	MRDescription string

	Forge Forge
	Env   config.Env

	// Credential is the forge token. Only read when
	// CreateMR is set.
	Credential string

	// Now is the run timestamp used in branch names.
	Now time.Time
}

// NewRunContext validates opts and captures them with
// env. A missing forge credential is an
// failure.ErrAuth; every other problem is an
// failure.ErrConfig.
func NewRunContext(
	opts Options,
	env config.Env,
	now time.Time,
) (*RunContext, error) {
	const errCtx = "building run context"

	if opts.CreateMR && !opts.Push {
		return nil, failure.Wrap(
			failure.ErrConfig,
			fmt.Errorf("%s: %w", errCtx, errCreateMRNeedsPush),
		)
	}

	tpl := opts.BranchTemplate
	if tpl == "" {
		tpl = git.DefaultBranchTemplate
	}

	namer, err := git.NewBranchNamer(tpl)
	if err != nil {
		return nil, failure.Wrap(
			failure.ErrConfig,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	forge := opts.Forge
	if forge == "" {
		forge = ForgeGitLab
	}

	credential, err := forgeCredential(forge, env)
	if err != nil {
		return nil, failure.Wrap(
			failure.ErrConfig,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	if opts.CreateMR && credential == "" {
		return nil, failure.Wrap(
			failure.ErrAuth,
			fmt.Errorf(
				"%s: %s: %w", errCtx, forge, errNoCredential,
			),
		)
	}

	rc := &RunContext{
		BaseBranch:     withDefault(opts.BaseBranch, config.DefaultBaseBranch),
		GitDir:         absDir(opts.RepoRoot, opts.GitDir, config.DefaultGitDir),
		RawFilesDir:    absDir(opts.RepoRoot, opts.RawFilesDir, config.DefaultRawFilesDir),
		ExcludeAliases: append([]string(nil), opts.ExcludeAliases...),
		Lorry2:         opts.Lorry2,
		Push:           opts.Push,
		CreateMR:       opts.CreateMR,
		Namer:          namer,
		MRTitle:        withDefault(opts.MRTitle, commitmsg.DefaultTitle),
		MRDescription:  withDefault(opts.MRDescription, DefaultMRDescription),
		Forge:          forge,
		Env:            env,
		Now:            now.UTC(),
	}

	if opts.CreateMR {
		rc.Credential = credential
	}

	return rc, nil
}

// BranchName returns the update branch of this run.
func (rc *RunContext) BranchName() string {
	return rc.Namer.Name(rc.BaseBranch, rc.Now)
}

func forgeCredential(forge Forge, env config.Env) (string, error) {
	switch forge {
	case ForgeGitLab:
		return env.GitLabToken(), nil
	case ForgeGitHub:
		return env.GitHubToken, nil
	case ForgeBitbucket:
		return env.BitbucketToken, nil
	default:
		return "", fmt.Errorf("%w %q", errUnknownForge, forge)
	}
}

// absDir resolves dir against root, falling back to
// def when dir is empty.
func absDir(root, dir, def string) string {
	dir = withDefault(dir, def)
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}

	return filepath.Join(root, dir)
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}
