package git

import (
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
)

// StaleBranches selects the update branches left by
// earlier runs that can be deleted. A branch is stale
// when it was produced by namer for the same base
// branch as current, carries an older timestamp, and
// is not the source of an open merge request.
func StaleBranches(
	namer *BranchNamer,
	current string,
	branches []string,
	openSources []string,
) []string {
	curBase, curAt, ok := namer.Parse(current)
	if !ok {
		return nil
	}

	open := sets.New(openSources...)
	stale := sets.New[string]()

	for _, b := range branches {
		if b == current || open.Has(b) {
			continue
		}

		base, at, ok := namer.Parse(b)
		if !ok || base != curBase || !at.Before(curAt) {
			continue
		}

		stale.Insert(b)
	}

	return sets.List(stale)
}

// LatestBranch returns the newest branch produced by
// namer for the same base branch as current whose
// timestamp is not after current. Local branches come
// first in branches and win timestamp ties.
func LatestBranch(
	namer *BranchNamer,
	current string,
	branches []Branch,
) (Branch, bool) {
	curBase, curAt, ok := namer.Parse(current)
	if !ok {
		return Branch{}, false
	}

	var (
		latest   Branch
		latestAt time.Time
		found    bool
	)

	for _, b := range branches {
		base, at, ok := namer.Parse(b.Name)
		if !ok || base != curBase || at.After(curAt) {
			continue
		}

		if !found || at.After(latestAt) {
			latest, latestAt, found = b, at, true
		}
	}

	return latest, found
}
