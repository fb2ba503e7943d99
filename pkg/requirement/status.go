package requirement

// Status is the visible state of a (step, requirement) pair.
//
// NOTE: the string values appear in JSONL output and are part of the
// stable output contract.
type Status string

const (
	// StatusPending means the check is queued and has not started.
	StatusPending Status = "pending"

	// StatusChecking means the check is running or waiting on a duplicate.
	StatusChecking Status = "checking"

	// StatusIfSkipped means the requirement's condition evaluated false.
	StatusIfSkipped Status = "if_skipped"

	// StatusError means the check failed (directly or via a duplicate).
	StatusError Status = "error"

	// StatusSuccess means the check passed.
	StatusSuccess Status = "success"

	// StatusSkipping applies to a whole step that declared no requirements.
	StatusSkipping Status = "skipping"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusIfSkipped, StatusSkipping:
		return true
	default:
		return false
	}
}

// Snapshot is a point-in-time copy of the scheduler's shared tables.
type Snapshot struct {
	// Keys lists status keys in submission order.
	Keys []string

	// Statuses maps "step/requirement" (or "step" for skipping steps) to status.
	Statuses map[string]Status

	// Errors maps "step/requirement" to captured failure text.
	Errors map[string]string
}

// Status returns the status for key, or "" if untracked.
func (s Snapshot) Status(key string) Status {
	return s.Statuses[key]
}

// Done reports whether every tracked status is terminal.
func (s Snapshot) Done() bool {
	for _, st := range s.Statuses {
		if !st.Terminal() {
			return false
		}
	}
	return true
}

// Failed reports whether any tracked status is StatusError.
func (s Snapshot) Failed() bool {
	for _, st := range s.Statuses {
		if st == StatusError {
			return true
		}
	}
	return false
}

// Counts tallies statuses.
func (s Snapshot) Counts() map[Status]int {
	counts := make(map[Status]int, len(s.Statuses))
	for _, st := range s.Statuses {
		counts[st]++
	}
	return counts
}
