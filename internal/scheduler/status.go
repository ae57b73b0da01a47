package scheduler

// Status represents the state of an action within one run.
type Status int

const (
	StatusPending    Status = iota // Waiting for dependencies
	StatusReady                    // All dependencies succeeded, waiting for a worker
	StatusStarted                  // Behavior is running
	StatusSuccessful               // Behavior returned without error
	StatusFailed                   // Behavior returned an error
	StatusCanceled                 // Never started because an ancestor failed
)

var statusNames = [...]string{
	StatusPending:    "pending",
	StatusReady:      "ready",
	StatusStarted:    "started",
	StatusSuccessful: "successful",
	StatusFailed:     "failed",
	StatusCanceled:   "canceled",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// IsTerminal reports whether s is one of Successful, Failed or Canceled.
func (s Status) IsTerminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusCanceled
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, bool) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), true
		}
	}
	return 0, false
}
