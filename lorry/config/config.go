package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	json "github.com/goccy/go-json"
	"github.com/goccy/go-yaml"

	"github.com/byte4ever/lorry_mirror_updater/lorry/failure"
)

// Kind selects the mirror directory a source's
// generator run works in.
type Kind string

// Source kinds.
const (
	KindGit     Kind = "git"
	KindRawFile Kind = "raw-file"
)

// Built-in defaults, used only when neither the
// command line nor the file sets a value.
const (
	DefaultConfigPath  = "mirrors.json"
	DefaultBaseBranch  = "main"
	DefaultGitDir      = "gits"
	DefaultRawFilesDir = "files"
)

// DefaultExcludeAliases returns the aliases excluded
// from generation when nothing else is configured.
func DefaultExcludeAliases() []string {
	return []string{"fdsdk_git", "fdsdk_mirror"}
}

// SourceRef is one branch of an upstream project and
// the elements to generate definitions for.
type SourceRef struct {
	Branch   string   `json:"branch" yaml:"branch" toml:"branch"`
	Elements []string `json:"elements" yaml:"elements" toml:"elements"`
}

// MirrorSource describes one upstream to mirror.
type MirrorSource struct {
	// Alias identifies the source; unique per file.
	Alias string `json:"alias" yaml:"alias" toml:"alias"`

	// Kind is git or raw-file. Empty means git.
	Kind Kind `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind,omitempty"`

	// URL is the upstream project repository. When
	// set the project is cloned and Refs are
	// processed inside the clone.
	URL string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`

	// Refs lists the branches of URL to process.
	Refs []SourceRef `json:"refs,omitempty" yaml:"refs,omitempty" toml:"refs,omitempty"`

	// Elements overrides the generator arguments of a
	// source without URL. Defaults to the alias.
	Elements []string `json:"elements,omitempty" yaml:"elements,omitempty" toml:"elements,omitempty"`
}

// GeneratorElements returns the element arguments for
// a source without URL.
func (s MirrorSource) GeneratorElements() []string {
	if len(s.Elements) > 0 {
		return s.Elements
	}

	return []string{s.Alias}
}

// MirrorConfig is the parsed mirror configuration.
type MirrorConfig struct {
	// Sources in file order.
	Sources []MirrorSource `json:"sources" yaml:"sources" toml:"sources"`

	// ExcludeAliases is nil when the file does not set
	// it.
	ExcludeAliases []string `json:"exclude_aliases,omitempty" yaml:"exclude_aliases,omitempty" toml:"exclude_aliases,omitempty"`

	// Lorry2 is nil when the file does not set it.
	Lorry2 *bool `json:"lorry2,omitempty" yaml:"lorry2,omitempty" toml:"lorry2,omitempty"`
}

// Aliases returns the source aliases in file order.
func (c *MirrorConfig) Aliases() []string {
	out := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, s.Alias)
	}

	return out
}

// HasRemoteSources reports whether any source needs
// an upstream clone.
func (c *MirrorConfig) HasRemoteSources() bool {
	for _, s := range c.Sources {
		if s.URL != "" {
			return true
		}
	}

	return false
}

// Load reads, decodes and validates the configuration
// file at path. All failures wrap failure.ErrConfig.
func Load(path string) (*MirrorConfig, error) {
	const errCtx = "loading mirror configuration"

	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return nil, failure.Wrap(
			failure.ErrConfig,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, failure.Wrap(
			failure.ErrConfig,
			fmt.Errorf("%s: %s: %w", errCtx, path, err),
		)
	}

	slog.Info(
		"loaded mirror configuration",
		"path", path,
		"sources", len(cfg.Sources),
	)

	return cfg, nil
}

// Format is a configuration file encoding.
type Format string

// Supported encodings.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Parse decodes and validates a configuration
// document.
func Parse(data []byte, format Format) (*MirrorConfig, error) {
	const errCtx = "parsing mirror configuration"

	var shape map[string]any
	if err := decode(format, data, &shape); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var (
		cfg *MirrorConfig
		err error
	)

	if _, structured := shape["sources"]; structured {
		cfg = &MirrorConfig{}
		err = decode(format, data, cfg)
	} else {
		cfg, err = parseLegacy(format, data)
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return cfg, nil
}

// parseLegacy reads the repository URL -> branch ->
// elements form. Map order is not preserved by the
// decoders, so URLs and branches are sorted.
func parseLegacy(
	format Format,
	data []byte,
) (*MirrorConfig, error) {
	const errCtx = "parsing legacy mirror map"

	var raw map[string]map[string][]string
	if err := decode(format, data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	urls := make([]string, 0, len(raw))
	for u := range raw {
		urls = append(urls, u)
	}

	sort.Strings(urls)

	aliases := legacyAliases(urls)
	cfg := &MirrorConfig{}

	for _, u := range urls {
		branches := make([]string, 0, len(raw[u]))
		for b := range raw[u] {
			branches = append(branches, b)
		}

		sort.Strings(branches)

		src := MirrorSource{
			Alias: aliases[u],
			Kind:  KindGit,
			URL:   u,
		}

		for _, b := range branches {
			src.Refs = append(src.Refs, SourceRef{
				Branch:   b,
				Elements: raw[u][b],
			})
		}

		cfg.Sources = append(cfg.Sources, src)
	}

	return cfg, nil
}

var (
	errNoSources      = errors.New("no mirror sources configured")
	errMissingAlias   = errors.New("missing alias")
	errDuplicateAlias = errors.New("duplicate alias")
	errUnknownKind    = errors.New("unknown kind")
	errMissingRefs    = errors.New("url set but no refs")
	errMissingBranch  = errors.New("ref without branch")
	errNoElements     = errors.New("ref without elements")
)

func (c *MirrorConfig) validate() error {
	if len(c.Sources) == 0 {
		return errNoSources
	}

	seen := make(map[string]struct{}, len(c.Sources))

	for i := range c.Sources {
		src := &c.Sources[i]

		src.Alias = strings.TrimSpace(src.Alias)
		if src.Alias == "" {
			return fmt.Errorf("source %d: %w", i, errMissingAlias)
		}

		if _, dup := seen[src.Alias]; dup {
			return fmt.Errorf(
				"source %q: %w", src.Alias, errDuplicateAlias,
			)
		}

		seen[src.Alias] = struct{}{}

		switch src.Kind {
		case "":
			src.Kind = KindGit
		case KindGit, KindRawFile:
		default:
			return fmt.Errorf(
				"source %q: %w %q",
				src.Alias, errUnknownKind, src.Kind,
			)
		}

		if src.URL == "" {
			continue
		}

		if len(src.Refs) == 0 {
			return fmt.Errorf(
				"source %q: %w", src.Alias, errMissingRefs,
			)
		}

		for _, ref := range src.Refs {
			if ref.Branch == "" {
				return fmt.Errorf(
					"source %q: %w",
					src.Alias, errMissingBranch,
				)
			}

			if len(ref.Elements) == 0 {
				return fmt.Errorf(
					"source %q branch %q: %w",
					src.Alias, ref.Branch, errNoElements,
				)
			}
		}
	}

	return nil
}

func decode(format Format, data []byte, v any) error {
	switch format {
	case FormatYAML:
		return yaml.Unmarshal(data, v)
	case FormatTOML:
		return toml.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// aliasFromURL derives a source alias from the last
// path segment of a repository URL.
func aliasFromURL(u string) string {
	return joinTail(urlSegments(u), 1)
}

// legacyAliases derives one alias per URL. Colliding
// aliases take in further path segments (owner, then
// host) until they differ; URLs that still collide get
// a numeric suffix in URL order.
func legacyAliases(urls []string) map[string]string {
	segs := make(map[string][]string, len(urls))
	depth := make(map[string]int, len(urls))

	for _, u := range urls {
		segs[u] = urlSegments(u)
		depth[u] = 1
	}

	for {
		byAlias := make(map[string][]string, len(urls))

		for _, u := range urls {
			a := joinTail(segs[u], depth[u])
			byAlias[a] = append(byAlias[a], u)
		}

		grown := false

		for _, group := range byAlias {
			if len(group) < 2 {
				continue
			}

			for _, u := range group {
				if depth[u] < len(segs[u]) {
					depth[u]++
					grown = true
				}
			}
		}

		if !grown {
			break
		}
	}

	aliases := make(map[string]string, len(urls))
	seen := make(map[string]struct{}, len(urls))

	for _, u := range urls {
		base := joinTail(segs[u], depth[u])
		alias := base

		for n := 2; ; n++ {
			if _, dup := seen[alias]; !dup {
				break
			}

			alias = fmt.Sprintf("%s-%d", base, n)
		}

		seen[alias] = struct{}{}
		aliases[u] = alias
	}

	return aliases
}

// urlSegments splits a repository URL on "/" and ":"
// and drops empty parts and the ".git" suffix.
func urlSegments(u string) []string {
	parts := strings.FieldsFunc(u, func(r rune) bool {
		return r == '/' || r == ':'
	})

	if n := len(parts); n > 0 {
		parts[n-1] = strings.TrimSuffix(parts[n-1], ".git")
	}

	return parts
}

// joinTail joins the last n segments with "-".
func joinTail(segs []string, n int) string {
	n = min(n, len(segs))

	return strings.Join(segs[len(segs)-n:], "-")
}
