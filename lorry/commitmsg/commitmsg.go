// Package commitmsg generates the commit messages of mirror update
// commits.
package commitmsg

import (
	"fmt"
	"strings"

	"github.com/byte4ever/lorry_mirror_updater/lorry/git"
)

const (
	processed = "Processed sources:"
	begin     = "--- mirror sources begin ---"
	end       = "--- mirror sources end ---"
)

// DefaultTitle is the subject line of update commits
// and merge requests.
const DefaultTitle = "(Automated) Update mirrors"

// Summary returns a one-line count of the changes,
// e.g. "Updated 3 mirror definitions: 1 added,
// 2 modified."
func Summary(cs git.ChangeSet) string {
	var parts []string

	if n := len(cs.Added); n > 0 {
		parts = append(parts, fmt.Sprintf("%d added", n))
	}

	if n := len(cs.Modified); n > 0 {
		parts = append(parts, fmt.Sprintf("%d modified", n))
	}

	if n := len(cs.Deleted); n > 0 {
		parts = append(parts, fmt.Sprintf("%d deleted", n))
	}

	noun := "definitions"
	if cs.Len() == 1 {
		noun = "definition"
	}

	return fmt.Sprintf(
		"Updated %d mirror %s: %s.",
		cs.Len(), noun, strings.Join(parts, ", "),
	)
}

// Changes lists one "A|M|D path" line per changed
// path.
func Changes(cs git.ChangeSet) string {
	var sb strings.Builder

	write := func(flag string, paths []string) {
		for _, p := range paths {
			sb.WriteString(flag)
			sb.WriteByte(' ')
			sb.WriteString(p)
			sb.WriteByte('\n')
		}
	}

	write("A", cs.Added)
	write("M", cs.Modified)
	write("D", cs.Deleted)

	return sb.String()
}

// Generate produces the full commit message: title,
// change summary, every source the run processed
// (changed or not) between begin/end markers, and the
// changed paths.
func Generate(
	title string,
	sources []string,
	cs git.ChangeSet,
) string {
	var sb strings.Builder

	sb.WriteString(title)
	sb.WriteString("\n\n")
	sb.WriteString(Summary(cs))
	sb.WriteString("\n\n")
	sb.WriteString(processed)
	sb.WriteByte('\n')
	sb.WriteString(begin)
	sb.WriteByte('\n')

	for _, s := range sources {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}

	sb.WriteString(end)
	sb.WriteString("\n\n")
	sb.WriteString(Changes(cs))

	return sb.String()
}
