package updater

// State is a stage of the update run. The terminal
// states of a successful run are StateNoChanges,
// StateCommitted, StatePushed and
// StateMergeRequested.
type State int

// Run states in order.
const (
	StateIdle State = iota
	StateLoaded
	StateGenerated
	StateNoChanges
	StateCommitted
	StatePushed
	StateMergeRequested
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateLoaded:         "loaded",
	StateGenerated:      "generated",
	StateNoChanges:      "no-changes",
	StateCommitted:      "committed",
	StatePushed:         "pushed",
	StateMergeRequested: "merge-requested",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}
