package session

type TurnState string

const (
	StateIdle    TurnState = "idle"
	StateSending TurnState = "sending"
	StateFailed  TurnState = "failed"
)

// turn is the per-conversation turn state. claimed marks a send or edit that
// passed the busy check but has not dispatched yet.
type turn struct {
	state   TurnState
	err     error
	claimed bool
	active  *ExecutionHandle
}

func (t *turn) busy() bool {
	return t.claimed || t.state == StateSending
}
