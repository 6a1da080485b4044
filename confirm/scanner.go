// Package confirm detects tool invocations that wait for a human decision
// and resolves them into results.
package confirm

import (
	"github.com/effective-security/gohitl/chatmodel"
	"github.com/effective-security/gohitl/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/gohitl", "confirm")

// Pending locates an invocation awaiting a decision
type Pending struct {
	MessageIndex int
	PartIndex    int
	Invocation   *chatmodel.ToolInvocation
}

// FindPending returns the invocations of the last message in call state
// whose tool needs a confirmation, in part order.
// Earlier messages are never inspected.
func FindPending(messages []*chatmodel.Message, confirmSet tools.NameSet) []Pending {
	last := chatmodel.LastMessage(messages)
	if last == nil || len(confirmSet) == 0 {
		return nil
	}

	var list []Pending
	for i, p := range last.Parts {
		if p.Type != chatmodel.PartToolInvocation || !p.ToolInvocation.IsCall() {
			continue
		}
		if confirmSet.Has(p.ToolInvocation.ToolName) {
			list = append(list, Pending{
				MessageIndex: len(messages) - 1,
				PartIndex:    i,
				Invocation:   p.ToolInvocation,
			})
		}
	}
	return list
}
