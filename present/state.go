package present

// State is a step of the presentation loop.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StateSubmitting
	StatePresenting
	StateRecreating
	StateTerminating
)

var stateNames = map[State]string{
	StateIdle:        "Idle",
	StateAcquiring:   "Acquiring",
	StateRecording:   "Recording",
	StateSubmitting:  "Submitting",
	StatePresenting:  "Presenting",
	StateRecreating:  "Recreating",
	StateTerminating: "Terminating",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return "Unknown"
	}
	return name
}
