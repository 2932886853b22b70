package config

// Overrides carries the command-line values that can
// also come from the file. The *Set fields report
// whether the flag was given.
type Overrides struct {
	ExcludeAliases    []string
	ExcludeAliasesSet bool
	Lorry2            bool
	Lorry2Set         bool
}

// Options are the generator options after precedence
// has been applied.
type Options struct {
	ExcludeAliases []string
	Lorry2         bool
}

// Resolve applies command line, then file, then
// built-in defaults.
func (c *MirrorConfig) Resolve(o Overrides) Options {
	var opts Options

	switch {
	case o.ExcludeAliasesSet:
		opts.ExcludeAliases = append(
			[]string(nil), o.ExcludeAliases...,
		)
	case c.ExcludeAliases != nil:
		opts.ExcludeAliases = append(
			[]string(nil), c.ExcludeAliases...,
		)
	default:
		opts.ExcludeAliases = DefaultExcludeAliases()
	}

	switch {
	case o.Lorry2Set:
		opts.Lorry2 = o.Lorry2
	case c.Lorry2 != nil:
		opts.Lorry2 = *c.Lorry2
	}

	return opts
}
