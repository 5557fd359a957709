package rollout

// Status is the normalized state of a fleet refresh.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "InProgress"
	StatusSuccessful Status = "Successful"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
	StatusUnknown    Status = "Unknown"
)

// ParseStatus maps a raw autoscaling instance refresh status to a Status.
// Transitional and rollback states collapse onto the closest normalized
// state; anything unrecognized is Unknown.
func ParseStatus(raw string) Status {
	switch raw {
	case "Pending":
		return StatusPending
	case "InProgress", "Cancelling", "Baking", "RollbackInProgress":
		return StatusInProgress
	case "Successful":
		return StatusSuccessful
	case "Failed", "RollbackFailed":
		return StatusFailed
	case "Cancelled", "RollbackSuccessful":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

// IsTerminal reports whether the refresh has stopped.
func (s Status) IsTerminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusCancelled
}
