package git

import (
	"errors"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// ChangeSet is the set of paths a generation pass
// added, modified, or deleted. Each list is sorted.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return c.Len() == 0
}

// Len returns the number of changed paths.
func (c ChangeSet) Len() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// Paths returns every changed path, sorted.
func (c ChangeSet) Paths() []string {
	all := sets.New(c.Added...)
	all.Insert(c.Modified...)
	all.Insert(c.Deleted...)

	return sets.List(all)
}

var errMalformedStatus = errors.New("malformed status entry")

// ParseStatus parses the output of
// "git status --porcelain=v1 -z".
func ParseStatus(out string) (ChangeSet, error) {
	var (
		added    = sets.New[string]()
		modified = sets.New[string]()
		deleted  = sets.New[string]()
	)

	entries := strings.Split(out, "\x00")

	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		if entry == "" {
			continue
		}

		if len(entry) < 4 || entry[2] != ' ' {
			return ChangeSet{}, fmt.Errorf(
				"%w: %q", errMalformedStatus, entry,
			)
		}

		x, y, path := entry[0], entry[1], entry[3:]

		switch {
		case x == '?' || x == 'A':
			added.Insert(path)
		case x == 'R' || x == 'C':
			// The source path follows as its own
			// entry.
			i++
			if i >= len(entries) {
				return ChangeSet{}, fmt.Errorf(
					"%w: missing source of %q",
					errMalformedStatus, path,
				)
			}

			added.Insert(path)

			if x == 'R' {
				deleted.Insert(entries[i])
			}
		case x == 'D' || y == 'D':
			deleted.Insert(path)
		default:
			modified.Insert(path)
		}
	}

	return ChangeSet{
		Added:    sets.List(added),
		Modified: sets.List(modified),
		Deleted:  sets.List(deleted),
	}, nil
}
