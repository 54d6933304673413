package enums

import "fmt"

// SubmitStatus tracks where a transaction sits in the submission pipeline.
// Staged rows have never been sent; retrying rows hit a transient processor
// error; done/failed are terminal.
type SubmitStatus string

const (
	SubmitStatusStaged   SubmitStatus = "staged"
	SubmitStatusRetrying SubmitStatus = "retrying"
	SubmitStatusDone     SubmitStatus = "done"
	SubmitStatusFailed   SubmitStatus = "failed"
)

var validSubmitStatuses = []SubmitStatus{
	SubmitStatusStaged,
	SubmitStatusRetrying,
	SubmitStatusDone,
	SubmitStatusFailed,
}

// String implements fmt.Stringer.
func (s SubmitStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubmitStatus) IsValid() bool {
	for _, candidate := range validSubmitStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubmitStatus converts raw input into a SubmitStatus.
func ParseSubmitStatus(value string) (SubmitStatus, error) {
	for _, candidate := range validSubmitStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid submit status %q", value)
}
