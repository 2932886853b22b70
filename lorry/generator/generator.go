package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/byte4ever/lorry_mirror_updater/lorry/config"
	"github.com/byte4ever/lorry_mirror_updater/lorry/exec"
	"github.com/byte4ever/lorry_mirror_updater/lorry/failure"
	"github.com/byte4ever/lorry_mirror_updater/lorry/git"
)

// Default command names.
const (
	DefaultCommand = "bst-to-lorry"
	DefaultBstCmd  = "bst"
)

// Config holds the settings shared by every generator
// run.
type Config struct {
	// Command is the generator binary name or path.
	Command string

	// BstCmd is the BuildStream binary used to check
	// that elements exist.
	BstCmd string

	// GitDir is the absolute git-mirror directory.
	GitDir string

	// RawFilesDir is the absolute raw-files directory.
	RawFilesDir string

	// ExcludeAliases are passed as --exclude-alias.
	ExcludeAliases []string

	// Lorry2 selects the lorry2 output format. The
	// legacy format adds --refspecs.
	Lorry2 bool

	// TmpDir holds upstream clones. Empty means the
	// system default.
	TmpDir string

	// Runner executes the generator and bst. Defaults
	// to exec.Default.
	Runner exec.Runner
}

// Invocation records one generator process run.
type Invocation struct {
	Dir      string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Result is the outcome of generating one source.
type Result struct {
	Alias       string
	Invocations []Invocation
}

// Generator runs the generator for configured
// sources.
type Generator struct {
	cfg Config
}

var errMissingElements = errors.New("elements not found")

// New returns a Generator for cfg, filling defaults.
func New(cfg Config) *Generator {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}

	if cfg.BstCmd == "" {
		cfg.BstCmd = DefaultBstCmd
	}

	if cfg.Runner == nil {
		cfg.Runner = exec.Default
	}

	return &Generator{cfg: cfg}
}

// Generate produces the mirror definitions of src.
// Errors wrap failure.ErrGeneration.
func (g *Generator) Generate(
	ctx context.Context,
	src config.MirrorSource,
) (Result, error) {
	const errCtx = "generating mirror definitions"

	res := Result{Alias: src.Alias}

	var err error
	if src.URL == "" {
		err = g.generateLocal(ctx, src, &res)
	} else {
		err = g.generateRemote(ctx, src, &res)
	}

	if err != nil {
		return res, failure.Wrap(
			failure.ErrGeneration,
			fmt.Errorf("%s for %s: %w", errCtx, src.Alias, err),
		)
	}

	return res, nil
}

func (g *Generator) generateLocal(
	ctx context.Context,
	src config.MirrorSource,
	res *Result,
) error {
	dir := g.dirFor(src.Kind)

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	return g.run(ctx, dir, src.GeneratorElements(), res)
}

func (g *Generator) generateRemote(
	ctx context.Context,
	src config.MirrorSource,
	res *Result,
) error {
	tmp, err := os.MkdirTemp(g.cfg.TmpDir, "lorry-clone-")
	if err != nil {
		return fmt.Errorf("create clone dir: %w", err)
	}

	// Aliases are free-form; the clone path never uses
	// them.
	repo, err := git.Clone(ctx, src.URL, filepath.Join(tmp, "project"))
	if err != nil {
		_ = os.RemoveAll(tmp)

		return err
	}

	defer func() {
		if cleanErr := os.RemoveAll(tmp); cleanErr != nil {
			slog.Error(
				"failed to clean clone",
				"dir", tmp,
				"error", cleanErr,
			)
		}
	}()

	for _, ref := range src.Refs {
		slog.Info(
			"processing branch",
			"source", src.Alias,
			"url", src.URL,
			"branch", ref.Branch,
			"elements", ref.Elements,
		)

		if err := repo.Checkout(ctx, ref.Branch); err != nil {
			return err
		}

		if missing := g.missingElements(
			ctx, repo.Dir, ref.Elements,
		); len(missing) > 0 {
			return fmt.Errorf(
				"branch %s: %w: %s",
				ref.Branch, errMissingElements,
				strings.Join(missing, ", "),
			)
		}

		if err := g.run(ctx, repo.Dir, ref.Elements, res); err != nil {
			return fmt.Errorf("branch %s: %w", ref.Branch, err)
		}
	}

	return nil
}

// run executes the generator once and records the
// invocation.
func (g *Generator) run(
	ctx context.Context,
	dir string,
	elements []string,
	res *Result,
) error {
	args := g.args(elements)

	out, err := g.cfg.Runner.Run(ctx, dir, g.cfg.Command, args...)

	res.Invocations = append(res.Invocations, Invocation{
		Dir:      dir,
		Args:     args,
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
	})

	if err != nil {
		return fmt.Errorf(
			"%s exited with %d: %w",
			g.cfg.Command, out.ExitCode, err,
		)
	}

	return nil
}

// args builds the generator command line.
func (g *Generator) args(elements []string) []string {
	args := append([]string(nil), elements...)

	args = append(
		args,
		"--git-directory", g.cfg.GitDir,
		"--raw-files-directory", g.cfg.RawFilesDir,
	)

	if !g.cfg.Lorry2 {
		args = append(args, "--refspecs")
	}

	for _, alias := range g.cfg.ExcludeAliases {
		args = append(args, "--exclude-alias", alias)
	}

	return args
}

// missingElements returns the elements bst cannot
// show in the project at dir.
func (g *Generator) missingElements(
	ctx context.Context,
	dir string,
	elements []string,
) []string {
	var missing []string

	for _, elem := range elements {
		if _, err := g.cfg.Runner.Run(
			ctx, dir, g.cfg.BstCmd,
			"--no-interactive", "show",
			"--deps", "none",
			"-f", "%{name}",
			elem,
		); err != nil {
			slog.Warn("did not find element", "element", elem)

			missing = append(missing, elem)
		}
	}

	return missing
}

func (g *Generator) dirFor(kind config.Kind) string {
	if kind == config.KindRawFile {
		return g.cfg.RawFilesDir
	}

	return g.cfg.GitDir
}
