package orchestrator

import (
	"context"

	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/tools"
)

// Callback receives the run events
type Callback interface {
	tools.Callback

	OnStepStart(ctx context.Context, step int, messages []*chatmodel.Message)
	OnStepFinish(ctx context.Context, rec *StepRecord)
	OnToolNotFound(ctx context.Context, name string, args map[string]any)
	OnRunEnd(ctx context.Context, res *Result, err error)
}
