package orchestrator

// State is the orchestrator state of a run
type State string

const (
	// StateAwaitingModel is set while a model response is streamed
	StateAwaitingModel State = "awaiting-model"
	// StateToolsPendingAutoExec is set while auto tools of a step run
	StateToolsPendingAutoExec State = "tools-pending-auto-exec"
	// StateAwaitingConfirmation ends a run with invocations waiting for a user decision
	StateAwaitingConfirmation State = "awaiting-confirmation"
	// StateDone ends a run when the model issued no tool calls
	StateDone State = "done"
	// StateStepLimitReached ends a run after MaxSteps steps
	StateStepLimitReached State = "step-limit-reached"
	// StateError ends a run on provider failure or cancellation
	StateError State = "error"
)

func (s State) String() string {
	return string(s)
}
