package orchestrator

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrProvider is matched by errors.Is for every model provider failure
	ErrProvider = errors.New("model provider failed")
	// ErrUnresolvedPendingCall is reported when a run starts with
	// confirmation-required invocations still in call state
	ErrUnresolvedPendingCall = errors.New("unresolved pending tool call")
)

// ProviderError is a model failure at a given step.
// It is terminal for the request.
type ProviderError struct {
	Step int
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("step %d: %s: %s", e.Step, ErrProvider.Error(), e.Err.Error())
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches ErrProvider
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}
