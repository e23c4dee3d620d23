// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package restore

// State of a restore session. The session walks the states in order;
// a failure after safety copies exist diverts to RollingBack, earlier
// failures go straight to Failed.
type State string

const (
	StateIdle             State = "idle"
	StateSelecting        State = "selecting"
	StateValidating       State = "validating"
	StateServiceStopping  State = "service_stopping"
	StateSafetyCopying    State = "safety_copying"
	StateRestoringDB      State = "restoring_db"
	StateRestoringContent State = "restoring_content"
	StateServiceStarting  State = "service_starting"
	StateVerifying        State = "verifying"
	StateDone             State = "done"
	StateRollingBack      State = "rolling_back"
	StateFailed           State = "failed"
)

// Mode selects which parts of the repository a session restores.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeDatabase Mode = "database"
	ModeContent  Mode = "contentstore"
)

// Valid reports whether the mode is one of the supported values.
func (m Mode) Valid() bool {
	switch m {
	case ModeFull, ModeDatabase, ModeContent:
		return true
	}
	return false
}

// phases returns the ordered working states for a mode. Selection and
// validation always run; the restoring states depend on the mode.
func phases(mode Mode) []State {
	states := []State{StateSelecting, StateValidating, StateServiceStopping, StateSafetyCopying}
	if mode != ModeContent {
		states = append(states, StateRestoringDB)
	}
	if mode != ModeDatabase {
		states = append(states, StateRestoringContent)
	}
	return append(states, StateServiceStarting, StateVerifying)
}

// next computes the successor state. A pure function so transition
// behavior is testable without any side effect: ok advances along the
// phase list, failure goes to RollingBack once safety copies exist and
// to Failed before that.
func next(current State, ok bool, order []State) State {
	if !ok {
		if afterSafetyCopy(current, order) {
			return StateRollingBack
		}
		return StateFailed
	}
	for i, s := range order {
		if s == current {
			if i+1 < len(order) {
				return order[i+1]
			}
			return StateDone
		}
	}
	if current == StateIdle && len(order) > 0 {
		return order[0]
	}
	return StateDone
}

// afterSafetyCopy reports whether safety copies exist at this state,
// which is what makes a rollback possible.
func afterSafetyCopy(current State, order []State) bool {
	seen := false
	for _, s := range order {
		if seen && s == current {
			return true
		}
		if s == StateSafetyCopying {
			seen = true
		}
	}
	return false
}
