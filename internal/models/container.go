package models

// CommandStatus classifies the outcome of a single runtime command.
type CommandStatus int

// Command outcomes.
const (
	// StatusDelivered means the command ran and exited cleanly.
	StatusDelivered CommandStatus = iota
	// StatusUnreachable means the runtime or the container could not be reached.
	StatusUnreachable
	// StatusRejected means the command reached the container but failed.
	StatusRejected
)

func (s CommandStatus) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusUnreachable:
		return "unreachable"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// CommandResult holds the result of a console or lifecycle command.
type CommandResult struct {
	Status CommandStatus
	Output string
	Error  error
}

// Delivered reports whether the command exited cleanly.
func (r CommandResult) Delivered() bool {
	return r.Status == StatusDelivered
}
